package common

import (
	"fmt"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Database DatabaseConfig
	Queue    QueueConfig
	Storage  StorageConfig
	OCR      OCRConfig
	Pipeline PipelineConfig
	Server   ServerConfig
	Log      LogConfig

	flags *Flags
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string // "postgres" | "sqlite"
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
}

// QueueConfig holds broker-related configuration
type QueueConfig struct {
	URL            string
	DialTimeout    time.Duration
	BreakerTimeout time.Duration // how long the breaker stays open before probing the broker again
}

// StorageConfig holds folder and object storage configuration
type StorageConfig struct {
	PendingDir    string
	ProcessingDir string
	CompletedDir  string
	FailedDir     string

	Endpoint        string
	Region          string
	Bucket          string
	AccessKeyID     string
	SecretAccessKey string
	PublicURL       string
}

// OCRConfig holds OCR-related configuration
type OCRConfig struct {
	Enabled     bool
	Pdftotext   string
	Pdftoppm    string
	Tesseract   string
	Language    string
	TessdataDir string
	DPI         int
	MaxPages    int
}

// PipelineConfig holds worker pool configuration
type PipelineConfig struct {
	MaxRetries    int
	MaxWorkers    int
	ScanInterval  time.Duration
	PollInterval  time.Duration
	TaskTimeout   time.Duration
	ShutdownGrace time.Duration
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	GRPCAddr string
}

// LogConfig holds logger configuration
type LogConfig struct {
	Level  string // debug | info | warn | error
	Format string // json | text
}

// Flags holds feature flags that follow edits to the watched config file, so
// a flip takes effect for the next job without restarting the process.
type Flags struct {
	remote atomic.Bool
}

// load copies flag values out of v. It runs at load time and on the config
// watcher's goroutine, never concurrently with other viper access.
func (f *Flags) load(v *viper.Viper) {
	f.remote.Store(v.GetBool("storage.remote_enabled"))
}

// RemoteStorageEnabled reports whether finished artifacts go to object storage.
func (f *Flags) RemoteStorageEnabled() bool {
	if f == nil {
		return false
	}
	return f.remote.Load()
}

// Flags returns the live feature-flag source backing this configuration.
func (c *Config) Flags() *Flags {
	return c.flags
}

// DefaultMaxWorkers is the number of CPU cores minus one, floor 1.
func DefaultMaxWorkers() int {
	n := runtime.NumCPU() - 1
	if n < 1 {
		return 1
	}
	return n
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:intake.db")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 2)
	v.SetDefault("database.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("database.max_conn_idle_time", 5*time.Minute)
	v.SetDefault("database.dial_timeout", 3*time.Second)
	v.SetDefault("database.statement_timeout", time.Duration(0))

	v.SetDefault("queue.url", "")
	v.SetDefault("queue.dial_timeout", 5*time.Second)
	v.SetDefault("queue.breaker_timeout", 30*time.Second)

	v.SetDefault("storage.pending_dir", "./aguardando_processo")
	v.SetDefault("storage.processing_dir", "./processando")
	v.SetDefault("storage.completed_dir", "./completos")
	v.SetDefault("storage.failed_dir", "./falhas")
	v.SetDefault("storage.remote_enabled", false)
	v.SetDefault("storage.region", "auto")

	v.SetDefault("ocr.enabled", true)
	v.SetDefault("ocr.pdftotext", "pdftotext")
	v.SetDefault("ocr.pdftoppm", "pdftoppm")
	v.SetDefault("ocr.tesseract", "tesseract")
	v.SetDefault("ocr.language", "por")
	v.SetDefault("ocr.dpi", 300)
	v.SetDefault("ocr.max_pages", 20)

	v.SetDefault("pipeline.max_retries", 3)
	v.SetDefault("pipeline.max_workers", DefaultMaxWorkers())
	v.SetDefault("pipeline.scan_interval", 5*time.Second)
	v.SetDefault("pipeline.poll_interval", time.Second)
	v.SetDefault("pipeline.task_timeout", 10*time.Minute)
	v.SetDefault("pipeline.shutdown_grace", 5*time.Second)

	v.SetDefault("server.grpc_addr", ":8090")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadConfig loads configuration from INTAKE_* environment variables and,
// when configFile is non-empty, from that file.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("INTAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, NewAppError("CONFIG_ERROR", fmt.Sprintf("read %s", configFile), err)
		}
	}

	flags := &Flags{}
	flags.load(v)
	cfg := &Config{
		Database: DatabaseConfig{
			Driver:           v.GetString("database.driver"),
			DSN:              v.GetString("database.dsn"),
			MaxConns:         v.GetInt32("database.max_conns"),
			MinConns:         v.GetInt32("database.min_conns"),
			MaxConnLifetime:  v.GetDuration("database.max_conn_lifetime"),
			MaxConnIdleTime:  v.GetDuration("database.max_conn_idle_time"),
			DialTimeout:      v.GetDuration("database.dial_timeout"),
			StatementTimeout: v.GetDuration("database.statement_timeout"),
		},
		Queue: QueueConfig{
			URL:            v.GetString("queue.url"),
			DialTimeout:    v.GetDuration("queue.dial_timeout"),
			BreakerTimeout: v.GetDuration("queue.breaker_timeout"),
		},
		Storage: StorageConfig{
			PendingDir:      v.GetString("storage.pending_dir"),
			ProcessingDir:   v.GetString("storage.processing_dir"),
			CompletedDir:    v.GetString("storage.completed_dir"),
			FailedDir:       v.GetString("storage.failed_dir"),
			Endpoint:        v.GetString("storage.endpoint"),
			Region:          v.GetString("storage.region"),
			Bucket:          v.GetString("storage.bucket"),
			AccessKeyID:     v.GetString("storage.access_key_id"),
			SecretAccessKey: v.GetString("storage.secret_access_key"),
			PublicURL:       v.GetString("storage.public_url"),
		},
		OCR: OCRConfig{
			Enabled:     v.GetBool("ocr.enabled"),
			Pdftotext:   v.GetString("ocr.pdftotext"),
			Pdftoppm:    v.GetString("ocr.pdftoppm"),
			Tesseract:   v.GetString("ocr.tesseract"),
			Language:    v.GetString("ocr.language"),
			TessdataDir: v.GetString("ocr.tessdata_dir"),
			DPI:         v.GetInt("ocr.dpi"),
			MaxPages:    v.GetInt("ocr.max_pages"),
		},
		Pipeline: PipelineConfig{
			MaxRetries:    v.GetInt("pipeline.max_retries"),
			MaxWorkers:    v.GetInt("pipeline.max_workers"),
			ScanInterval:  v.GetDuration("pipeline.scan_interval"),
			PollInterval:  v.GetDuration("pipeline.poll_interval"),
			TaskTimeout:   v.GetDuration("pipeline.task_timeout"),
			ShutdownGrace: v.GetDuration("pipeline.shutdown_grace"),
		},
		Server: ServerConfig{
			GRPCAddr: v.GetString("server.grpc_addr"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		flags: flags,
	}

	if configFile != "" {
		// viper is read only from the watcher goroutine from here on
		v.OnConfigChange(func(fsnotify.Event) { flags.load(v) })
		v.WatchConfig()
	}
	return cfg, nil
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("unknown database driver %q", c.Database.Driver), ErrInvalidInput)
	}
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "database.dsn is required", ErrInvalidInput)
	}
	if c.Pipeline.MaxRetries < 0 {
		return NewAppError("CONFIG_ERROR", "pipeline.max_retries must be >= 0", ErrInvalidInput)
	}
	if c.Pipeline.MaxWorkers < 1 {
		return NewAppError("CONFIG_ERROR", "pipeline.max_workers must be >= 1", ErrInvalidInput)
	}
	if c.Pipeline.ScanInterval < time.Second {
		return NewAppError("CONFIG_ERROR", "pipeline.scan_interval must be at least 1s", ErrInvalidInput)
	}
	if c.Pipeline.PollInterval <= 0 {
		return NewAppError("CONFIG_ERROR", "pipeline.poll_interval must be positive", ErrInvalidInput)
	}
	if c.OCR.MaxPages < 1 {
		return NewAppError("CONFIG_ERROR", "ocr.max_pages must be >= 1", ErrInvalidInput)
	}
	if c.flags.RemoteStorageEnabled() && c.Storage.Bucket == "" {
		return NewAppError("CONFIG_ERROR", "storage.bucket is required when remote storage is enabled", ErrInvalidInput)
	}
	if c.Storage.CompletedDir == "" {
		return NewAppError("CONFIG_ERROR", "storage.completed_dir is required", ErrInvalidInput)
	}
	return nil
}
