// Package config loads server configuration from defaults, an optional
// TOML file and LEDGER_ environment variables.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	HTTP     HTTPConfig
	Database DatabaseConfig
	Lock     LockConfig
	Redis    RedisConfig
	Plan     PlanConfig
	Log      LogConfig
}

type HTTPConfig struct {
	Port             string
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	RequestTimeout   time.Duration
	ShutdownTimeout  time.Duration
	StaticDir        string
	CORSAllowOrigins []string
}

type DatabaseConfig struct {
	Path string
}

// LockConfig selects how operations on the same advance are serialized.
type LockConfig struct {
	Backend string // memory, redis
	Timeout time.Duration
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

type PlanConfig struct {
	MaxInstallments int
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json, console
	Output string // stdout, stderr, or file path
}

// Load reads the configuration.
//
// Priority (highest to lowest):
//  1. Environment variables with LEDGER_ prefix (e.g., LEDGER_HTTP_PORT)
//  2. The config file (path, or config.toml in the working directory)
//  3. Built-in defaults
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvPrefix("LEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{
		HTTP: HTTPConfig{
			Port:             v.GetString("http.port"),
			ReadTimeout:      v.GetDuration("http.read_timeout"),
			WriteTimeout:     v.GetDuration("http.write_timeout"),
			RequestTimeout:   v.GetDuration("http.request_timeout"),
			ShutdownTimeout:  v.GetDuration("http.shutdown_timeout"),
			StaticDir:        v.GetString("http.static_dir"),
			CORSAllowOrigins: v.GetStringSlice("http.cors_allow_origins"),
		},
		Database: DatabaseConfig{
			Path: v.GetString("database.path"),
		},
		Lock: LockConfig{
			Backend: v.GetString("lock.backend"),
			Timeout: v.GetDuration("lock.timeout"),
		},
		Redis: RedisConfig{
			Addr:      v.GetString("redis.addr"),
			Password:  v.GetString("redis.password"),
			DB:        v.GetInt("redis.db"),
			KeyPrefix: v.GetString("redis.key_prefix"),
			TTL:       v.GetDuration("redis.ttl"),
		},
		Plan: PlanConfig{
			MaxInstallments: v.GetInt("plan.max_installments"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
			Output: v.GetString("log.output"),
		},
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", "8080")
	v.SetDefault("http.read_timeout", 15*time.Second)
	v.SetDefault("http.write_timeout", 15*time.Second)
	v.SetDefault("http.request_timeout", 10*time.Second)
	v.SetDefault("http.shutdown_timeout", 10*time.Second)
	v.SetDefault("http.static_dir", "./web/dist")
	v.SetDefault("http.cors_allow_origins", []string{"http://localhost:5173", "http://localhost:3000"})

	v.SetDefault("database.path", "./data/ledger.db")

	v.SetDefault("lock.backend", "memory")
	v.SetDefault("lock.timeout", 5*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.key_prefix", "ledger:lock:")
	v.SetDefault("redis.ttl", 30*time.Second)

	v.SetDefault("plan.max_installments", 600)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output", "stdout")
}

// Validate returns every configuration problem at once.
func (c *Config) Validate() error {
	var problems []string

	if port, err := strconv.Atoi(c.HTTP.Port); err != nil {
		problems = append(problems, fmt.Sprintf("invalid port '%s': must be a number", c.HTTP.Port))
	} else if port < 1 || port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid port %d: must be between 1 and 65535", port))
	}

	if c.Database.Path == "" {
		problems = append(problems, "database path is required")
	}

	switch c.Lock.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			problems = append(problems, "redis address is required when lock backend is redis")
		}
	default:
		problems = append(problems, fmt.Sprintf("invalid lock backend '%s': must be memory or redis", c.Lock.Backend))
	}
	if c.Lock.Timeout <= 0 {
		problems = append(problems, "lock timeout must be positive")
	}

	if c.Plan.MaxInstallments < 1 {
		problems = append(problems, fmt.Sprintf("invalid max installments %d: must be at least 1", c.Plan.MaxInstallments))
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		problems = append(problems, fmt.Sprintf("invalid log level '%s'", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		problems = append(problems, fmt.Sprintf("invalid log format '%s': must be json or console", c.Log.Format))
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}
