package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of every environment variable read by Load,
// e.g. GENJOB_SERVER_PORT for server.port.
const EnvPrefix = "GENJOB"

// Options tweaks where Load looks for configuration.
type Options struct {
	// ConfigFile is an explicit YAML file. When empty, Load looks for an
	// optional config.yaml in the working directory.
	ConfigFile string
	// EnvFile is a dotenv file loaded before the environment is read.
	// Variables already present in the environment are not overridden.
	EnvFile string
}

// Load configuration from environment variables and optionally config files.
// Environment variables take precedence over values from config files.
// Returns a populated Config struct or an error if loading/validation fails.
func Load() (*Config, error) {
	return LoadWithOptions(Options{EnvFile: ".env"})
}

// LoadWithOptions is Load with explicit file locations.
func LoadWithOptions(opts Options) (*Config, error) {
	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !isNotExist(err) {
			return nil, fmt.Errorf("failed to load env file %s: %w", opts.EnvFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if opts.ConfigFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := bindEnv(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints and the rules that span sections.
func Validate(cfg *Config) error {
	validate := validator.New()
	validate.RegisterStructValidation(backendRules, Config{})

	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// backendRules requires the connection settings of the selected store.
func backendRules(sl validator.StructLevel) {
	cfg := sl.Current().Interface().(Config)
	switch cfg.Store.Backend {
	case StorePostgres:
		if cfg.Database.URL == "" {
			sl.ReportError(cfg.Database.URL, "Database.URL", "URL", "required_with_postgres", "")
		}
	case StoreRedis:
		if cfg.Redis.Addr == "" {
			sl.ReportError(cfg.Redis.Addr, "Redis.Addr", "Addr", "required_with_redis", "")
		}
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("log.file", "")

	v.SetDefault("store.backend", StoreMemory)
	v.SetDefault("store.file_path", "./data/jobs.json")
	v.SetDefault("store.max_records", 50)
	v.SetDefault("store.lock_timeout", 5*time.Second)

	v.SetDefault("database.url", "")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.username", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.tls", false)
	v.SetDefault("redis.key_prefix", "genjob")

	v.SetDefault("task.worker_count", 3)
	v.SetDefault("task.queue_size", 100)
	v.SetDefault("task.job_timeout", 10*time.Minute)
	v.SetDefault("task.abandon_grace", 5*time.Second)
	v.SetDefault("task.orphan_after", 15*time.Minute)
	v.SetDefault("task.stuck_check_interval", time.Minute)
	v.SetDefault("task.stage_dir", "")

	v.SetDefault("reconcile.interval", 2*time.Second)
	v.SetDefault("reconcile.max_sessions", 256)

	v.SetDefault("notify.ping_period", 30*time.Second)
	v.SetDefault("notify.pong_wait", 60*time.Second)
	v.SetDefault("notify.write_wait", 10*time.Second)
	v.SetDefault("notify.send_buffer", 64)
	v.SetDefault("notify.allowed_origins", []string{})

	v.SetDefault("generation.region", "beijing")
	v.SetDefault("generation.base_url", "")
	v.SetDefault("generation.poll_interval", 5*time.Second)
	v.SetDefault("generation.request_timeout", 60*time.Second)
	v.SetDefault("generation.output_dir", "./outputs")
	v.SetDefault("generation.results_path", "/api/results")
	v.SetDefault("generation.catalog_file", "")
}

// bindEnv maps the API keys to both the prefixed variable and the
// conventional unprefixed names used by the providers' own tooling.
func bindEnv(v *viper.Viper) error {
	bindings := map[string][]string{
		"generation.dashscope_api_key": {EnvPrefix + "_GENERATION_DASHSCOPE_API_KEY", "DASHSCOPE_API_KEY"},
		"generation.gemini_api_key":    {EnvPrefix + "_GENERATION_GEMINI_API_KEY", "GEMINI_API_KEY"},
	}
	for key, envs := range bindings {
		if err := v.BindEnv(append([]string{key}, envs...)...); err != nil {
			return fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}
	return nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
