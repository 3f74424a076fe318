package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestMustLoadFromEnv(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	t.Setenv("FACECRAFT_SERVER_ADDR", "9100")
	t.Setenv("FACECRAFT_KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("FACECRAFT_MAX_CONCURRENT_JOBS", "2")

	cfg, err := MustLoad()
	if err != nil {
		t.Fatalf("MustLoad: %v", err)
	}

	if cfg.Server.Addr != "9100" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Jobs.MaxConcurrentJobs != 2 {
		t.Errorf("max concurrent = %d", cfg.Jobs.MaxConcurrentJobs)
	}
	if cfg.Jobs.QueueTimeout != 30*time.Second {
		t.Errorf("queue timeout = %v", cfg.Jobs.QueueTimeout)
	}
	if cfg.Storage.Backend != "local" || cfg.Models.Device != "cpu" {
		t.Errorf("storage = %q device = %q", cfg.Storage.Backend, cfg.Models.Device)
	}
}

func TestMustLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
server:
  addr: "7000"
storage:
  backend: minio
  minio_bucket: portraits
defaults:
  width: 413
  height: 531
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_PATH", path)
	t.Setenv("FACECRAFT_WORKER_CONCURRENCY", "6")

	cfg, err := MustLoad()
	if err != nil {
		t.Fatalf("MustLoad: %v", err)
	}

	if cfg.Server.Addr != "7000" || cfg.Storage.Backend != "minio" || cfg.Storage.MinioBucket != "portraits" {
		t.Errorf("file values not applied: %+v %+v", cfg.Server, cfg.Storage)
	}
	if cfg.Worker.Concurrency != 6 {
		t.Errorf("env override not applied: %d", cfg.Worker.Concurrency)
	}

	opts := cfg.DefaultOptions()
	if opts.Width != 413 || opts.Height != 531 {
		t.Errorf("options size = %dx%d", opts.Width, opts.Height)
	}
	if opts.MaxJPEGSizeKB == nil || *opts.MaxJPEGSizeKB != 99 {
		t.Errorf("max size = %v", opts.MaxJPEGSizeKB)
	}
	if opts.BackgroundColor.R != 240 || opts.BackgroundColor.A != 255 {
		t.Errorf("background = %v", opts.BackgroundColor)
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Storage: Storage{Backend: "local"},
			Models:  Models{Device: "cpu"},
			Jobs:    Jobs{MaxConcurrentJobs: 1, MaxUploadSizeMB: 20},
			Worker:  Worker{Concurrency: 1},
		}
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"cuda", func(c *Config) { c.Models.Device = "cuda" }, true},
		{"unknown backend", func(c *Config) { c.Storage.Backend = "ftp" }, false},
		{"unknown device", func(c *Config) { c.Models.Device = "tpu" }, false},
		{"zero jobs", func(c *Config) { c.Jobs.MaxConcurrentJobs = 0 }, false},
		{"zero workers", func(c *Config) { c.Worker.Concurrency = 0 }, false},
		{"zero upload", func(c *Config) { c.Jobs.MaxUploadSizeMB = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("err = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestHelpers(t *testing.T) {
	cfg := Config{
		DB:    DB{Host: "db", Port: 5433, User: "u", Password: "p", Name: "n", SSLMode: "disable"},
		Jobs:  Jobs{MaxUploadSizeMB: 20, CleanupAgeHours: 24},
		Retry: Retry{Attempts: 4, Delay: time.Second, Backoff: 1.5},
	}

	if got := cfg.DBDSN(); got != "host=db port=5433 user=u password=p dbname=n sslmode=disable" {
		t.Errorf("dsn = %q", got)
	}
	if cfg.MaxUploadBytes() != 20<<20 {
		t.Errorf("upload bytes = %d", cfg.MaxUploadBytes())
	}
	if cfg.CleanupAge() != 24*time.Hour {
		t.Errorf("cleanup age = %v", cfg.CleanupAge())
	}
	if s := cfg.DefaultRetryStrategy(); s.Attempts != 4 || s.Delay != time.Second || s.Backoff != 1.5 {
		t.Errorf("strategy = %+v", s)
	}
}
