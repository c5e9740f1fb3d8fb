package runtime

import (
	"bufio"
	"bytes"
	"context"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

var (
	statusPath  = "/proc/self/status"
	statmPath   = "/proc/self/statm"
	loadavgPath = "/proc/loadavg"
)

// RSSMB: 現プロセスの常駐メモリ (MB)。取れなければ 0
func RSSMB() float64 {
	if f, err := os.Open(statusPath); err == nil {
		defer f.Close()
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			line := sc.Text()
			if !strings.HasPrefix(line, "VmRSS:") {
				continue
			}
			fields := strings.Fields(line)
			if len(fields) >= 2 {
				if kb, err := strconv.ParseFloat(fields[1], 64); err == nil {
					return kb / 1024
				}
			}
			break
		}
	}

	// statm は 2 列目がページ数
	b, err := os.ReadFile(statmPath)
	if err != nil {
		return 0
	}
	fields := bytes.Fields(b)
	if len(fields) < 2 {
		return 0
	}
	pages, err := strconv.ParseFloat(string(fields[1]), 64)
	if err != nil {
		return 0
	}
	return pages * float64(os.Getpagesize()) / (1024 * 1024)
}

// LoadAvg: 1/5/15 分平均。取れなければ 0 埋め
func LoadAvg() [3]float64 {
	var out [3]float64
	b, err := os.ReadFile(loadavgPath)
	if err != nil {
		return out
	}
	fields := strings.Fields(string(b))
	for i := 0; i < 3 && i < len(fields); i++ {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return [3]float64{}
		}
		out[i] = v
	}
	return out
}

// Watchdog: RSS が上限を超えたら exit を呼ぶ (コンテナ側で再起動させる)。
// maxMB <= 0 なら即 return
func Watchdog(ctx context.Context, maxMB int, interval time.Duration, rss func() float64, exit func(int)) {
	if maxMB <= 0 {
		return
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if rss == nil {
		rss = RSSMB
	}
	if exit == nil {
		exit = os.Exit
	}
	log.Printf("[INFO] memory watchdog enabled: max_rss_mb=%d", maxMB)

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if v := rss(); v > float64(maxMB) {
				log.Printf("[ERROR] memory watchdog triggered: rss=%.0fMB > %dMB, exiting for restart", v, maxMB)
				exit(1)
				return
			}
		}
	}
}
