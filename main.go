package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"PRISM-backend/internal/admin"
	"PRISM-backend/internal/docs"
	"PRISM-backend/internal/health"
	"PRISM-backend/internal/imposition/labels"
	"PRISM-backend/internal/platform/auth"
	"PRISM-backend/internal/platform/capacity"
	"PRISM-backend/internal/platform/config"
	"PRISM-backend/internal/platform/db"
	"PRISM-backend/internal/platform/middleware"
	"PRISM-backend/internal/platform/runtime"
)

const serviceName = "PRISM Label Imposition"

func main() {
	// 運用コマンド: prism hash-admin-key <key> / prism issue-token -sub <name>
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "hash-admin-key":
			os.Exit(hashAdminKey(os.Args[2:]))
		case "issue-token":
			os.Exit(issueToken(os.Args[2:]))
		}
	}

	configPath := flag.String("config", "config/config.yaml", "設定ファイルのパス")
	flag.Parse()

	// 設定読み込み
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[ERROR] %v", err)
	}
	log.Printf("[INFO] mode:%s version:%s", cfg.Mode, cfg.Version)

	// 台帳 (任意)
	var store *labels.Store
	if cfg.DB.Enabled {
		conn, err := db.Connect(cfg.DB)
		if err != nil {
			log.Fatalf("[ERROR] %v", err)
		}
		defer conn.Close()
		log.Printf("[INFO] connected to DB: %s", cfg.DB.DBName)

		store = labels.NewStore(conn)
		mctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err = store.Migrate(mctx)
		cancel()
		if err != nil {
			log.Fatalf("[ERROR] migrate: %v", err)
		}
	} else {
		log.Println("[INFO] database disabled: job ledger routes are not registered")
	}

	gate := capacity.New(capacity.Config{
		MaxConcurrent: cfg.Capacity.MaxConcurrentJobs,
		MaxQueue:      cfg.Capacity.MaxJobQueue,
	})
	log.Printf("[INFO] capacity: max_concurrent_jobs=%d max_job_queue=%d acquire_timeout=%s",
		cfg.Capacity.MaxConcurrentJobs, cfg.Capacity.MaxJobQueue, cfg.Capacity.AcquireTimeout())

	svc := labels.NewService(gate,
		labels.NewHTTPFetcher(cfg.Imposition.FetchTimeout(), cfg.Imposition.MaxArtworkBytes()),
		labels.NewHTTPUploader(cfg.Imposition.UploadTimeout()),
		store,
		labels.Options{
			AcquireTimeout:   cfg.Capacity.AcquireTimeout(),
			JobTimeout:       cfg.Capacity.JobTimeout(),
			FetchConcurrency: cfg.Imposition.FetchConcurrency,
			MaxFrames:        cfg.Imposition.MaxFrames,
			RetryAfter:       cfg.Capacity.RetryAfter(),
		})

	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	_ = r.SetTrustedProxies(nil)
	r.Use(middleware.RequestID(), middleware.ProcessTime())

	if cfg.Mode == "dev" || len(cfg.CORS.AllowOrigins) > 0 {
		origins := cfg.CORS.AllowOrigins
		if len(origins) == 0 {
			origins = []string{"http://localhost:3000"}
		}
		headers := cfg.CORS.AllowHeaders
		if len(headers) == 0 {
			headers = []string{"Origin", "Content-Type", "Authorization", auth.HeaderAPIKey, middleware.HeaderRequestID}
		}
		r.Use(cors.New(cors.Config{
			AllowOrigins:     origins,
			AllowHeaders:     headers,
			ExposeHeaders:    []string{"Content-Length", "Retry-After", middleware.HeaderRequestID, middleware.HeaderProcessTime},
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowCredentials: true,
		}))
	}

	// ヘルス・ドキュメント (認証なし)
	health.RegisterRoutes(r, cfg.Version)
	docs.RegisterRoutes(r, cfg.Version)

	// 管理画面
	adminGroup := r.Group("/", auth.RequireAdminKey(auth.AdminKey{Plain: cfg.Auth.AdminKey, Hash: cfg.Auth.AdminKeyHash}))
	admin.RegisterRoutes(adminGroup, gate, admin.Info{
		Service:  serviceName,
		Version:  cfg.Version,
		MaxRSSMB: cfg.Runtime.MaxRSSMB,
	})

	// 面付け API
	api := r.Group("/", auth.RequireAPIAccess(cfg.Auth.APIKey, []byte(cfg.Auth.JWTSecret)))
	labels.RegisterRoutes(api, svc)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runtime.Watchdog(ctx, cfg.Runtime.MaxRSSMB, 5*time.Second, nil, nil)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		var err error
		if cfg.Server.TLS.Cert != "" {
			log.Printf("[INFO] listening on https://%s", cfg.Server.Addr)
			err = srv.ListenAndServeTLS(cfg.Server.TLS.Cert, cfg.Server.TLS.Key)
		} else {
			log.Printf("[INFO] listening on http://%s", cfg.Server.Addr)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	log.Println("[INFO] shutting down...")
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		log.Printf("[ERROR] shutdown: %v", err)
	}
}

func hashAdminKey(args []string) int {
	if len(args) != 1 || args[0] == "" {
		fmt.Fprintln(os.Stderr, "Usage: prism hash-admin-key <key>")
		return 2
	}
	hash, err := auth.HashAdminKey(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println(hash)
	return 0
}

func issueToken(args []string) int {
	fs := flag.NewFlagSet("issue-token", flag.ContinueOnError)
	configPath := fs.String("config", "config/config.yaml", "設定ファイルのパス")
	sub := fs.String("sub", "", "発行先 (sub)")
	role := fs.String("role", "", "role クレーム")
	ttl := fs.Duration("ttl", 30*24*time.Hour, "有効期間 (0 で無期限)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	tok, err := auth.IssueToken([]byte(cfg.Auth.JWTSecret), *sub, *role, *ttl, time.Now())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println(tok)
	return 0
}
