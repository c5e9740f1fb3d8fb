package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type DatabaseConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
}

type Certs struct {
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	TLS  Certs  `yaml:"tls"`
}

type AuthConfig struct {
	APIKey       string `yaml:"api_key"`
	JWTSecret    string `yaml:"jwt_secret"`
	AdminKey     string `yaml:"admin_key"`
	AdminKeyHash string `yaml:"admin_key_hash"` // bcrypt
}

type CapacityConfig struct {
	MaxConcurrentJobs        int     `yaml:"max_concurrent_jobs"`
	MaxJobQueue              int     `yaml:"max_job_queue"`
	JobAcquireTimeoutSeconds float64 `yaml:"job_acquire_timeout_seconds"`
	JobTimeoutSeconds        float64 `yaml:"job_timeout_seconds"`
	RetryAfterSeconds        int     `yaml:"retry_after_seconds"`
}

type ImpositionConfig struct {
	FetchConcurrency     int     `yaml:"fetch_concurrency"`
	FetchTimeoutSeconds  float64 `yaml:"fetch_timeout_seconds"`
	MaxArtworkMB         int     `yaml:"max_artwork_mb"`
	UploadTimeoutSeconds float64 `yaml:"upload_timeout_seconds"`
	MaxFrames            int     `yaml:"max_frames"`
}

type RuntimeConfig struct {
	MaxRSSMB int `yaml:"max_rss_mb"` // 0 なら監視しない
}

type CORSConfig struct {
	AllowOrigins []string `yaml:"allow_origins"`
	AllowHeaders []string `yaml:"allow_headers"`
}

type Config struct {
	Version    string           `yaml:"version"`
	Mode       string           `yaml:"mode"`
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	DB         DatabaseConfig   `yaml:"database"`
	Capacity   CapacityConfig   `yaml:"capacity"`
	Imposition ImpositionConfig `yaml:"imposition"`
	Runtime    RuntimeConfig    `yaml:"runtime"`
	CORS       CORSConfig       `yaml:"cors"`
}

func Load(path string) (*Config, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("設定ファイルの読み込み失敗: %w", err)
	}
	return Parse(buf)
}

func Parse(buf []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(buf, cfg); err != nil {
		return nil, fmt.Errorf("設定ファイルのパース失敗: %w", err)
	}
	applyEnv(cfg, os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default は設定ファイルで省略された項目の既定値。
func Default() *Config {
	return &Config{
		Version: "dev",
		Mode:    "release",
		Server:  ServerConfig{Addr: ":8080"},
		DB:      DatabaseConfig{Port: 3306},
		Capacity: CapacityConfig{
			MaxConcurrentJobs:        1,
			MaxJobQueue:              10,
			JobAcquireTimeoutSeconds: 0,
			JobTimeoutSeconds:        300,
			RetryAfterSeconds:        5,
		},
		Imposition: ImpositionConfig{
			FetchConcurrency:     4,
			FetchTimeoutSeconds:  60,
			MaxArtworkMB:         100,
			UploadTimeoutSeconds: 120,
			MaxFrames:            5000,
		},
	}
}

// 秘密情報だけは環境変数で上書きできる
func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup("PRISM_API_KEY"); ok {
		cfg.Auth.APIKey = v
	}
	if v, ok := lookup("PRISM_ADMIN_KEY"); ok {
		cfg.Auth.AdminKey = v
	}
	if v, ok := lookup("PRISM_JWT_SECRET"); ok {
		cfg.Auth.JWTSecret = v
	}
	if v, ok := lookup("PRISM_DB_PASSWORD"); ok {
		cfg.DB.Password = v
	}
	if v, ok := lookup("PRISM_MAX_RSS_MB"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Runtime.MaxRSSMB = n
		}
	}
}

func (c *Config) Validate() error {
	if c.Mode != "dev" && c.Mode != "release" {
		return fmt.Errorf("mode must be dev or release (got %q)", c.Mode)
	}
	if c.Capacity.MaxConcurrentJobs < 1 {
		return fmt.Errorf("capacity.max_concurrent_jobs must be >= 1")
	}
	if c.Capacity.MaxJobQueue < 0 {
		return fmt.Errorf("capacity.max_job_queue must be >= 0")
	}
	if c.DB.Enabled && (c.DB.Host == "" || c.DB.DBName == "") {
		return fmt.Errorf("database.host and database.dbname are required when database.enabled")
	}
	if (c.Server.TLS.Cert == "") != (c.Server.TLS.Key == "") {
		return fmt.Errorf("server.tls.cert and server.tls.key must be set together")
	}
	return nil
}

func seconds(v float64) time.Duration { return time.Duration(v * float64(time.Second)) }

func (c CapacityConfig) AcquireTimeout() time.Duration { return seconds(c.JobAcquireTimeoutSeconds) }
func (c CapacityConfig) JobTimeout() time.Duration     { return seconds(c.JobTimeoutSeconds) }
func (c CapacityConfig) RetryAfter() time.Duration {
	return time.Duration(c.RetryAfterSeconds) * time.Second
}

func (c ImpositionConfig) FetchTimeout() time.Duration  { return seconds(c.FetchTimeoutSeconds) }
func (c ImpositionConfig) UploadTimeout() time.Duration { return seconds(c.UploadTimeoutSeconds) }
func (c ImpositionConfig) MaxArtworkBytes() int64       { return int64(c.MaxArtworkMB) << 20 }
