package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server     ServerConfig     `mapstructure:"server" validate:"required"`
	Log        LogConfig        `mapstructure:"log"`
	Store      StoreConfig      `mapstructure:"store" validate:"required"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Task       TaskConfig       `mapstructure:"task" validate:"required"`
	Reconcile  ReconcileConfig  `mapstructure:"reconcile" validate:"required"`
	Notify     NotifyConfig     `mapstructure:"notify" validate:"required"`
	Generation GenerationConfig `mapstructure:"generation" validate:"required"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=1s"`
}

// LogConfig controls where structured logs are written in addition to stdout.
type LogConfig struct {
	// File, when set, receives a copy of every log record as JSON lines.
	File string `mapstructure:"file"`
}

// Store backends.
const (
	StoreMemory   = "memory"
	StoreFile     = "file"
	StorePostgres = "postgres"
	StoreRedis    = "redis"
)

// StoreConfig selects and tunes the job store backend.
type StoreConfig struct {
	Backend     string        `mapstructure:"backend" validate:"required,oneof=memory file postgres redis"`
	FilePath    string        `mapstructure:"file_path" validate:"required_if=Backend file"`
	MaxRecords  int           `mapstructure:"max_records" validate:"min=1"`
	LockTimeout time.Duration `mapstructure:"lock_timeout" validate:"min=10ms"`
}

// DatabaseConfig contains all database-related configuration settings.
type DatabaseConfig struct {
	URL          string `mapstructure:"url" validate:"omitempty,url"`
	MaxOpenConns int    `mapstructure:"max_open_conns" validate:"min=1"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

// RedisConfig contains the connection settings for the redis backend.
type RedisConfig struct {
	Addr      string `mapstructure:"addr"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db" validate:"min=0"`
	TLS       bool   `mapstructure:"tls"`
	KeyPrefix string `mapstructure:"key_prefix" validate:"required"`
}

// TaskConfig tunes the worker pool that runs generation jobs.
type TaskConfig struct {
	WorkerCount        int           `mapstructure:"worker_count" validate:"min=1,max=16"`
	QueueSize          int           `mapstructure:"queue_size" validate:"min=1"`
	JobTimeout         time.Duration `mapstructure:"job_timeout" validate:"min=1s"`
	AbandonGrace       time.Duration `mapstructure:"abandon_grace" validate:"min=0"`
	OrphanAfter        time.Duration `mapstructure:"orphan_after" validate:"gtfield=JobTimeout"`
	StuckCheckInterval time.Duration `mapstructure:"stuck_check_interval" validate:"min=1s"`
	StageDir           string        `mapstructure:"stage_dir"`
}

// ReconcileConfig tunes the poll-based reconciler.
type ReconcileConfig struct {
	Interval    time.Duration `mapstructure:"interval" validate:"min=1s,max=5s"`
	MaxSessions int           `mapstructure:"max_sessions" validate:"min=1"`
}

// NotifyConfig tunes the WebSocket notifier.
type NotifyConfig struct {
	PingPeriod     time.Duration `mapstructure:"ping_period" validate:"min=1s"`
	PongWait       time.Duration `mapstructure:"pong_wait" validate:"gtfield=PingPeriod"`
	WriteWait      time.Duration `mapstructure:"write_wait" validate:"min=1s"`
	SendBuffer     int           `mapstructure:"send_buffer" validate:"min=1"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
}

// GenerationConfig contains the remote generation API settings.
type GenerationConfig struct {
	DashScopeAPIKey string        `mapstructure:"dashscope_api_key"`
	Region          string        `mapstructure:"region" validate:"oneof=beijing singapore"`
	BaseURL         string        `mapstructure:"base_url" validate:"omitempty,url"`
	GeminiAPIKey    string        `mapstructure:"gemini_api_key"`
	PollInterval    time.Duration `mapstructure:"poll_interval" validate:"min=100ms"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout" validate:"min=1s"`
	OutputDir       string        `mapstructure:"output_dir" validate:"required"`
	ResultsPath     string        `mapstructure:"results_path" validate:"required,startswith=/"`
	CatalogFile     string        `mapstructure:"catalog_file"`
}
