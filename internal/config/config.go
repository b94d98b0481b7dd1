package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config holds the service configuration
type Config struct {
	Addr         string
	LogLevel     string
	LogFormat    string // text or json
	SolveTimeout time.Duration
	MaxBodyBytes int64
	GinMode      string
}

// Load reads the configuration from the environment. A .env file in the
// working directory, if present, fills variables not already set.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	return FromEnv()
}

// FromEnv reads the configuration from the process environment only.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Addr:      getEnv("PF_ADDR", ":8080"),
		LogLevel:  getEnv("PF_LOG_LEVEL", "info"),
		LogFormat: strings.ToLower(getEnv("PF_LOG_FORMAT", "text")),
		GinMode:   getEnv("GIN_MODE", "release"),
	}

	timeout, err := time.ParseDuration(getEnv("PF_SOLVE_TIMEOUT", "30s"))
	if err != nil {
		return nil, fmt.Errorf("PF_SOLVE_TIMEOUT: %w", err)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("PF_SOLVE_TIMEOUT must be positive, got %s", timeout)
	}
	cfg.SolveTimeout = timeout

	maxBody, err := strconv.ParseInt(getEnv("PF_MAX_BODY_BYTES", "8388608"), 10, 64) // 8MB default
	if err != nil {
		return nil, fmt.Errorf("PF_MAX_BODY_BYTES: %w", err)
	}
	if maxBody <= 0 {
		return nil, fmt.Errorf("PF_MAX_BODY_BYTES must be positive, got %d", maxBody)
	}
	cfg.MaxBodyBytes = maxBody

	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, fmt.Errorf("PF_LOG_FORMAT must be text or json, got %q", cfg.LogFormat)
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		return nil, fmt.Errorf("GIN_MODE must be debug, release or test, got %q", cfg.GinMode)
	}
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		return nil, fmt.Errorf("PF_LOG_LEVEL: %w", err)
	}

	return cfg, nil
}

// ConfigureLogger applies the level and format to the standard logrus logger.
func (c *Config) ConfigureLogger() {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if c.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
