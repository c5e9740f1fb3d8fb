// Package capacity は重いジョブの同時実行数を制限するゲート。
// 上限を超えた要求は FIFO で待たせ、待ち行列も一杯なら即座に拒否する。
package capacity

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRejected は待ち行列が満杯・待ち時間切れ・待たない指定で入れなかったことを表す。
var ErrRejected = errors.New("capacity: rejected")

type Config struct {
	MaxConcurrent int
	MaxQueue      int
}

// Snapshot はある時点のカウンタ。
type Snapshot struct {
	MaxConcurrent  int        `json:"max_concurrent_jobs"`
	Active         int        `json:"active_jobs"`
	Queued         int        `json:"queued_jobs"`
	MaxQueue       int        `json:"max_queue"`
	TotalStarted   int64      `json:"total_started"`
	TotalFinished  int64      `json:"total_finished"`
	TotalRejected  int64      `json:"total_rejected"`
	LastStartedAt  *time.Time `json:"last_started_at"`
	LastFinishedAt *time.Time `json:"last_finished_at"`
}

type waiter struct {
	ready    chan struct{}
	admitted bool // mu 保護
}

// Gate のカウンタと待ち行列はすべて mu の中でだけ触る。
// ジョブ本体はロックの外で動く。
type Gate struct {
	mu            sync.Mutex
	maxConcurrent int
	maxQueue      int
	active        int
	waiters       []*waiter

	totalStarted   int64
	totalFinished  int64
	totalRejected  int64
	lastStartedAt  time.Time
	lastFinishedAt time.Time

	now func() time.Time
}

func New(cfg Config) *Gate {
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = 1
	}
	if cfg.MaxQueue < 0 {
		cfg.MaxQueue = 0
	}
	return &Gate{
		maxConcurrent: cfg.MaxConcurrent,
		maxQueue:      cfg.MaxQueue,
		now:           time.Now,
	}
}

// Slot は取得済みの実行枠。Release は何度呼んでも 1 回分しか返さない。
type Slot struct {
	g    *Gate
	once sync.Once
}

func (s *Slot) Release() { s.once.Do(s.g.release) }

// Acquire は実行枠を取得する。
//   - 空きがあれば即座に取得
//   - 待ち行列が満杯、または timeout <= 0 なら待たずに ErrRejected
//   - それ以外は timeout まで順番を待つ。時間切れなら行列から抜けて ErrRejected
//
// ctx がキャンセルされた場合も行列から抜け、ctx.Err() を返す (拒否として数える)。
func (g *Gate) Acquire(ctx context.Context, timeout time.Duration) (*Slot, error) {
	g.mu.Lock()
	if g.active < g.maxConcurrent && len(g.waiters) == 0 {
		g.active++
		g.markStartedLocked()
		g.mu.Unlock()
		return &Slot{g: g}, nil
	}
	if len(g.waiters) >= g.maxQueue || timeout <= 0 {
		g.totalRejected++
		g.mu.Unlock()
		return nil, ErrRejected
	}
	w := &waiter{ready: make(chan struct{})}
	g.waiters = append(g.waiters, w)
	g.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.ready:
		return &Slot{g: g}, nil
	case <-timer.C:
		return g.abandon(w, ErrRejected)
	case <-ctx.Done():
		return g.abandon(w, ctx.Err())
	}
}

// abandon は待ちをやめた waiter を行列から外す。
// 同時に release から枠を渡されていた場合はそのまま取得扱いにする。
func (g *Gate) abandon(w *waiter, cause error) (*Slot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if w.admitted {
		return &Slot{g: g}, nil
	}
	for i, x := range g.waiters {
		if x == w {
			g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
			break
		}
	}
	g.totalRejected++
	return nil, cause
}

// release は枠を返す。待ちがあれば最古の waiter へ直接引き渡すので active は減らない。
func (g *Gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.totalFinished++
	g.lastFinishedAt = g.now()

	if len(g.waiters) > 0 {
		w := g.waiters[0]
		g.waiters[0] = nil
		g.waiters = g.waiters[1:]
		w.admitted = true
		g.markStartedLocked()
		close(w.ready)
		return
	}
	if g.active > 0 {
		g.active--
	}
}

func (g *Gate) markStartedLocked() {
	g.totalStarted++
	g.lastStartedAt = g.now()
}

// Do は枠を取得して fn を実行し、fn の終わり方 (panic 含む) に関係なく枠を返す。
func (g *Gate) Do(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	slot, err := g.Acquire(ctx, timeout)
	if err != nil {
		return err
	}
	defer slot.Release()
	return fn(ctx)
}

func (g *Gate) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := Snapshot{
		MaxConcurrent: g.maxConcurrent,
		Active:        g.active,
		Queued:        len(g.waiters),
		MaxQueue:      g.maxQueue,
		TotalStarted:  g.totalStarted,
		TotalFinished: g.totalFinished,
		TotalRejected: g.totalRejected,
	}
	if !g.lastStartedAt.IsZero() {
		t := g.lastStartedAt
		s.LastStartedAt = &t
	}
	if !g.lastFinishedAt.IsZero() {
		t := g.lastFinishedAt
		s.LastFinishedAt = &t
	}
	return s
}
