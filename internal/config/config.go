package config

import (
	"errors"
	"fmt"
	"image/color"
	"io/fs"
	"os"
	"time"

	"facecraft/internal/domain"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/wb-go/wbf/retry"
)

type Config struct {
	Env      string   `yaml:"env" env:"FACECRAFT_ENV" env-default:"local"`
	LogLevel string   `yaml:"log_level" env:"FACECRAFT_LOG_LEVEL" env-default:"info"`
	Server   Server   `yaml:"server"`
	Models   Models   `yaml:"models"`
	Defaults Defaults `yaml:"defaults"`
	Jobs     Jobs     `yaml:"jobs"`
	Storage  Storage  `yaml:"storage"`
	DB       DB       `yaml:"db"`
	Kafka    Kafka    `yaml:"kafka"`
	Redis    Redis    `yaml:"redis"`
	Worker   Worker   `yaml:"worker"`
	Security Security `yaml:"security"`
	Retry    Retry    `yaml:"retry"`
}

type Server struct {
	Addr            string        `yaml:"addr" env:"FACECRAFT_SERVER_ADDR" env-default:"8000"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"FACECRAFT_SERVER_READ_TIMEOUT" env-default:"30s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"FACECRAFT_SERVER_WRITE_TIMEOUT" env-default:"120s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"FACECRAFT_SERVER_IDLE_TIMEOUT" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"FACECRAFT_SERVER_SHUTDOWN_TIMEOUT" env-default:"15s"`
}

// Models points at the model files. The face cascade and the segmentation
// network are required; the eye cascade and the restoration network are
// optional and only switch features off when missing.
type Models struct {
	FaceCascade    string `yaml:"face_cascade" env:"FACECRAFT_MODEL_FACE_CASCADE" env-default:"models/haarcascade_frontalface_default.xml"`
	EyeCascade     string `yaml:"eye_cascade" env:"FACECRAFT_MODEL_EYE_CASCADE" env-default:"models/haarcascade_eye.xml"`
	Segmentation   string `yaml:"segmentation" env:"FACECRAFT_MODEL_SEGMENTATION" env-default:"models/u2net_human_seg.onnx"`
	Restoration    string `yaml:"restoration" env:"FACECRAFT_MODEL_RESTORATION" env-default:"models/codeformer.onnx"`
	Device         string `yaml:"device" env:"FACECRAFT_DEVICE" env-default:"cpu"`
	RestoreInput   string `yaml:"restore_input" env:"FACECRAFT_RESTORE_INPUT" env-default:"input"`
	RestoreWeight  string `yaml:"restore_weight" env:"FACECRAFT_RESTORE_WEIGHT" env-default:"weight"`
	RestoreOutput  string `yaml:"restore_output" env:"FACECRAFT_RESTORE_OUTPUT" env-default:"output"`
	MinFaceSize    int    `yaml:"min_face_size" env:"FACECRAFT_MIN_FACE_SIZE" env-default:"30"`
	DetectMaxWidth int    `yaml:"detect_max_width" env:"FACECRAFT_DETECT_MAX_WIDTH" env-default:"1024"`
}

type Defaults struct {
	Width           int     `yaml:"width" env:"FACECRAFT_DEFAULT_WIDTH" env-default:"648"`
	Height          int     `yaml:"height" env:"FACECRAFT_DEFAULT_HEIGHT" env-default:"648"`
	BackgroundR     uint8   `yaml:"bg_r" env:"FACECRAFT_DEFAULT_BG_R" env-default:"240"`
	BackgroundG     uint8   `yaml:"bg_g" env:"FACECRAFT_DEFAULT_BG_G" env-default:"240"`
	BackgroundB     uint8   `yaml:"bg_b" env:"FACECRAFT_DEFAULT_BG_B" env-default:"240"`
	FaceMargin      float64 `yaml:"face_margin" env:"FACECRAFT_DEFAULT_FACE_MARGIN" env-default:"0.3"`
	UseOvalMask     bool    `yaml:"use_oval_mask" env:"FACECRAFT_DEFAULT_OVAL_MASK" env-default:"true"`
	EnhanceFace     bool    `yaml:"enhance_face" env:"FACECRAFT_DEFAULT_ENHANCE_FACE" env-default:"true"`
	EnhanceFidelity float64 `yaml:"enhance_fidelity" env:"FACECRAFT_DEFAULT_FIDELITY" env-default:"0.7"`
	EnhancePhoto    bool    `yaml:"enhance_photo" env:"FACECRAFT_DEFAULT_ENHANCE_PHOTO" env-default:"true"`
	MaxJPEGSizeKB   int     `yaml:"max_size_kb" env:"FACECRAFT_DEFAULT_MAX_SIZE_KB" env-default:"99"`
}

type Jobs struct {
	MaxUploadSizeMB   int           `yaml:"max_upload_size_mb" env:"FACECRAFT_MAX_UPLOAD_SIZE_MB" env-default:"20"`
	CleanupAgeHours   int           `yaml:"cleanup_age_hours" env:"FACECRAFT_CLEANUP_AGE_HOURS" env-default:"24"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval" env:"FACECRAFT_CLEANUP_INTERVAL" env-default:"1h"`
	BatchMaxFiles     int           `yaml:"batch_max_files" env:"FACECRAFT_BATCH_MAX_FILES" env-default:"50"`
	MaxConcurrentJobs int           `yaml:"max_concurrent_jobs" env:"FACECRAFT_MAX_CONCURRENT_JOBS" env-default:"4"`
	QueueTimeout      time.Duration `yaml:"queue_timeout" env:"FACECRAFT_QUEUE_TIMEOUT" env-default:"30s"`
}

type Storage struct {
	Backend        string `yaml:"backend" env:"FACECRAFT_STORAGE_BACKEND" env-default:"local"`
	Dir            string `yaml:"dir" env:"FACECRAFT_STORAGE_DIR" env-default:"data"`
	MinioEndpoint  string `yaml:"minio_endpoint" env:"FACECRAFT_MINIO_ENDPOINT" env-default:"localhost:9000"`
	MinioAccessKey string `yaml:"minio_access_key" env:"FACECRAFT_MINIO_ACCESS_KEY" env-default:"minioadmin"`
	MinioSecretKey string `yaml:"minio_secret_key" env:"FACECRAFT_MINIO_SECRET_KEY" env-default:"minioadmin"`
	MinioBucket    string `yaml:"minio_bucket" env:"FACECRAFT_MINIO_BUCKET" env-default:"facecraft"`
	MinioUseSSL    bool   `yaml:"minio_use_ssl" env:"FACECRAFT_MINIO_USE_SSL" env-default:"false"`
}

type DB struct {
	Host            string        `yaml:"host" env:"FACECRAFT_DB_HOST" env-default:"localhost"`
	Port            int           `yaml:"port" env:"FACECRAFT_DB_PORT" env-default:"5432"`
	User            string        `yaml:"user" env:"FACECRAFT_DB_USER" env-default:"postgres"`
	Password        string        `yaml:"password" env:"FACECRAFT_DB_PASSWORD" env-default:"postgres"`
	Name            string        `yaml:"name" env:"FACECRAFT_DB_NAME" env-default:"facecraft"`
	SSLMode         string        `yaml:"sslmode" env:"FACECRAFT_DB_SSLMODE" env-default:"disable"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"FACECRAFT_DB_MAX_OPEN_CONNS" env-default:"10"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"FACECRAFT_DB_MAX_IDLE_CONNS" env-default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"FACECRAFT_DB_CONN_MAX_LIFETIME" env-default:"30m"`
}

type Kafka struct {
	Brokers         []string `yaml:"brokers" env:"FACECRAFT_KAFKA_BROKERS" env-separator:"," env-default:"localhost:9092"`
	ProcessingTopic string   `yaml:"processing_topic" env:"FACECRAFT_KAFKA_TOPIC" env-default:"facecraft-jobs"`
	GroupID         string   `yaml:"group_id" env:"FACECRAFT_KAFKA_GROUP_ID" env-default:"facecraft-workers"`
}

// Redis caching is off when Addr is empty.
type Redis struct {
	Addr     string `yaml:"addr" env:"FACECRAFT_REDIS_ADDR"`
	Password string `yaml:"password" env:"FACECRAFT_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"FACECRAFT_REDIS_DB" env-default:"0"`
}

type Worker struct {
	Concurrency int `yaml:"concurrency" env:"FACECRAFT_WORKER_CONCURRENCY" env-default:"2"`
}

type Security struct {
	APIKey      string   `yaml:"api_key" env:"FACECRAFT_API_KEY"`
	CORSOrigins []string `yaml:"cors_origins" env:"FACECRAFT_CORS_ORIGINS" env-separator:"," env-default:"*"`
}

type Retry struct {
	Attempts int           `yaml:"attempts" env:"FACECRAFT_RETRY_ATTEMPTS" env-default:"3"`
	Delay    time.Duration `yaml:"delay" env:"FACECRAFT_RETRY_DELAY" env-default:"100ms"`
	Backoff  float64       `yaml:"backoff" env:"FACECRAFT_RETRY_BACKOFF" env-default:"2"`
}

// MustLoad reads .env, then the YAML file named by CONFIG_PATH when set, then
// the FACECRAFT_ environment variables.
func MustLoad() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	var cfg Config
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "local", "minio":
	default:
		return fmt.Errorf("%w: unknown storage backend %q", ErrInvalidConfig, c.Storage.Backend)
	}
	switch c.Models.Device {
	case "cpu", "cuda":
	default:
		return fmt.Errorf("%w: unknown device %q", ErrInvalidConfig, c.Models.Device)
	}
	if c.Jobs.MaxConcurrentJobs < 1 {
		return fmt.Errorf("%w: max_concurrent_jobs must be positive", ErrInvalidConfig)
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("%w: worker concurrency must be positive", ErrInvalidConfig)
	}
	if c.Jobs.MaxUploadSizeMB < 1 {
		return fmt.Errorf("%w: max_upload_size_mb must be positive", ErrInvalidConfig)
	}
	return nil
}

func (c *Config) DBDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode)
}

func (c *Config) DefaultRetryStrategy() retry.Strategy {
	return retry.Strategy{
		Attempts: c.Retry.Attempts,
		Delay:    c.Retry.Delay,
		Backoff:  c.Retry.Backoff,
	}
}

// DefaultOptions are the pipeline options requests start from.
func (c *Config) DefaultOptions() domain.ProcessingOptions {
	opts := domain.DefaultOptions()
	d := c.Defaults
	opts.Width, opts.Height = d.Width, d.Height
	opts.BackgroundColor = color.NRGBA{R: d.BackgroundR, G: d.BackgroundG, B: d.BackgroundB, A: 255}
	opts.FaceMargin = d.FaceMargin
	opts.UseOvalMask = d.UseOvalMask
	opts.EnhanceFace = d.EnhanceFace
	opts.EnhanceFidelity = d.EnhanceFidelity
	opts.EnhancePhoto = d.EnhancePhoto
	if d.MaxJPEGSizeKB > 0 {
		kb := d.MaxJPEGSizeKB
		opts.MaxJPEGSizeKB = &kb
	} else {
		opts.MaxJPEGSizeKB = nil
	}
	return opts.Normalize()
}

func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Jobs.MaxUploadSizeMB) << 20
}

func (c *Config) CleanupAge() time.Duration {
	return time.Duration(c.Jobs.CleanupAgeHours) * time.Hour
}
