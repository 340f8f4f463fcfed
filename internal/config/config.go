// Package config reads the librarian server and libctl settings from the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Log       LogConfig
	Telemetry TelemetryConfig
	Auth      AuthConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type StorageConfig struct {
	Driver      string
	DataDir     string
	DatabaseURL string
}

type LogConfig struct {
	Level  string
	Format string
}

type TelemetryConfig struct {
	Endpoint    string
	ServiceName string
}

type AuthConfig struct {
	FailuresPerMinute float64
	FailureBurst      int
	AdminUsername     string
	AdminPassword     string
}

// ClientConfig configures libctl.
type ClientConfig struct {
	URL      string
	Username string
	Password string
}

func Load() (*Config, error) {
	return &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			ReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 15*time.Second),
		},
		Storage: StorageConfig{
			Driver:      getEnv("STORAGE_DRIVER", "csv"),
			DataDir:     getEnv("LIBRARY_DATA_DIR", "."),
			DatabaseURL: getEnv("DATABASE_URL", ""),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		Telemetry: TelemetryConfig{
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName: getEnv("OTEL_SERVICE_NAME", "librarian"),
		},
		Auth: AuthConfig{
			FailuresPerMinute: getFloatEnv("AUTH_FAILURES_PER_MINUTE", 5),
			FailureBurst:      getIntEnv("AUTH_FAILURE_BURST", 5),
			AdminUsername:     getEnv("DEFAULT_ADMIN_USERNAME", "admin"),
			AdminPassword:     getEnv("DEFAULT_ADMIN_PASSWORD", "admin123"),
		},
	}, nil
}

func LoadClient() *ClientConfig {
	return &ClientConfig{
		URL:      getEnv("LIBCTL_URL", "http://localhost:8080"),
		Username: getEnv("LIBCTL_USER", ""),
		Password: getEnv("LIBCTL_PASSWORD", ""),
	}
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("SERVER_PORT is required"))
	}
	if c.Server.ReadTimeout <= 0 {
		errs = append(errs, errors.New("SERVER_READ_TIMEOUT must be positive"))
	}
	if c.Server.WriteTimeout <= 0 {
		errs = append(errs, errors.New("SERVER_WRITE_TIMEOUT must be positive"))
	}

	switch c.Storage.Driver {
	case "csv":
		if c.Storage.DataDir == "" {
			errs = append(errs, errors.New("LIBRARY_DATA_DIR is required for the csv driver"))
		}
	case "postgres":
		if c.Storage.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres driver"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("STORAGE_DRIVER must be 'csv', 'postgres', or 'memory', got '%s'", c.Storage.Driver))
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be 'text' or 'json', got '%s'", c.Log.Format))
	}

	if c.Auth.FailuresPerMinute > 0 && c.Auth.FailureBurst <= 0 {
		errs = append(errs, errors.New("AUTH_FAILURE_BURST must be positive when failed logins are throttled"))
	}
	if c.Auth.AdminUsername == "" {
		errs = append(errs, errors.New("DEFAULT_ADMIN_USERNAME is required"))
	}
	if c.Auth.AdminPassword == "" {
		errs = append(errs, errors.New("DEFAULT_ADMIN_PASSWORD is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// SlogLevel parses LOG_LEVEL.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL must be one of debug, info, warn, error, got '%s'", l.Level)
	}
	return level, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
