package admin

import (
	"bytes"
	"html/template"
	"log"
	"net/http"
	"os"
	goruntime "runtime"
	"time"

	"github.com/gin-gonic/gin"

	"PRISM-backend/internal/platform/capacity"
	"PRISM-backend/internal/platform/runtime"
)

type CapacitySource interface {
	Snapshot() capacity.Snapshot
}

type Info struct {
	Service   string
	Version   string
	StartedAt time.Time
	MaxRSSMB  int // 0 なら watchdog 無効
	RSS       func() float64
	LoadAvg   func() [3]float64
	Now       func() time.Time
}

type Handler struct {
	gate CapacitySource
	info Info
}

type StatusResponse struct {
	Service       string            `json:"service"`
	Version       string            `json:"version"`
	PID           int               `json:"pid"`
	GoVersion     string            `json:"go"`
	Platform      string            `json:"platform"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	RSSMB         float64           `json:"rss_mb"`
	LoadAvg       [3]float64        `json:"loadavg"`
	MaxRSSMB      int               `json:"max_rss_mb"`
	Capacity      capacity.Snapshot `json:"capacity"`
}

// RegisterRoutes: 管理者キーのミドルウェアは呼び出し側で group に付ける
func RegisterRoutes(r gin.IRoutes, gate CapacitySource, info Info) {
	if info.RSS == nil {
		info.RSS = runtime.RSSMB
	}
	if info.LoadAvg == nil {
		info.LoadAvg = runtime.LoadAvg
	}
	if info.Now == nil {
		info.Now = time.Now
	}
	if info.StartedAt.IsZero() {
		info.StartedAt = info.Now()
	}
	h := &Handler{gate: gate, info: info}

	r.GET("/admin/status", h.Status)
	r.GET("/admin", h.Page)
}

func (h *Handler) status() StatusResponse {
	return StatusResponse{
		Service:       h.info.Service,
		Version:       h.info.Version,
		PID:           os.Getpid(),
		GoVersion:     goruntime.Version(),
		Platform:      goruntime.GOOS + "/" + goruntime.GOARCH,
		UptimeSeconds: int64(h.info.Now().Sub(h.info.StartedAt).Seconds()),
		RSSMB:         h.info.RSS(),
		LoadAvg:       h.info.LoadAvg(),
		MaxRSSMB:      h.info.MaxRSSMB,
		Capacity:      h.gate.Snapshot(),
	}
}

// GET /admin/status
func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.status())
}

// GET /admin (ブラウザで眺める用)
func (h *Handler) Page(c *gin.Context) {
	var buf bytes.Buffer
	if err := pageTmpl.Execute(&buf, h.status()); err != nil {
		log.Printf("[ERROR] render admin page: %v", err)
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

var pageTmpl = template.Must(template.New("admin").Funcs(template.FuncMap{
	"ts": func(t *time.Time) string {
		if t == nil {
			return "-"
		}
		return t.UTC().Format(time.RFC3339)
	},
}).Parse(`<!doctype html>
<html lang="ja">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width,initial-scale=1">
<meta http-equiv="refresh" content="5">
<title>{{.Service}} 管理</title>
<style>
body{font-family:system-ui,sans-serif;margin:24px;background:#f6f7f9;color:#222}
.grid{display:grid;grid-template-columns:repeat(auto-fit,minmax(200px,1fr));gap:12px}
.card{background:#fff;border-radius:8px;padding:12px 16px;box-shadow:0 1px 2px rgba(0,0,0,.08)}
.k{font-size:12px;color:#666}.v{font-size:22px;font-weight:600}.muted{font-size:12px;color:#888}
</style>
</head>
<body>
<h1>{{.Service}} <span class="muted">v{{.Version}}</span></h1>
<div class="grid">
  <div class="card"><div class="k">実行中ジョブ</div><div class="v">{{.Capacity.Active}} / {{.Capacity.MaxConcurrent}}</div></div>
  <div class="card"><div class="k">待ち行列</div><div class="v">{{.Capacity.Queued}} / {{.Capacity.MaxQueue}}</div></div>
  <div class="card"><div class="k">開始 / 完了 / 拒否</div><div class="v">{{.Capacity.TotalStarted}} / {{.Capacity.TotalFinished}} / {{.Capacity.TotalRejected}}</div></div>
  <div class="card"><div class="k">RSS</div><div class="v">{{printf "%.0f" .RSSMB}} MB</div>
    <div class="muted">watchdog: {{if .MaxRSSMB}}{{.MaxRSSMB}} MB{{else}}off{{end}}</div></div>
  <div class="card"><div class="k">Load average</div><div class="v">{{printf "%.2f" (index .LoadAvg 0)}}</div>
    <div class="muted">{{printf "%.2f" (index .LoadAvg 1)}} / {{printf "%.2f" (index .LoadAvg 2)}}</div></div>
  <div class="card"><div class="k">稼働時間</div><div class="v">{{.UptimeSeconds}} s</div>
    <div class="muted">pid {{.PID}} / {{.GoVersion}} / {{.Platform}}</div></div>
</div>
<p class="muted">最終開始 {{ts .Capacity.LastStartedAt}} / 最終完了 {{ts .Capacity.LastFinishedAt}}</p>
</body>
</html>`))
