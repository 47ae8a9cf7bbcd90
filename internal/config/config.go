// Package config loads client configuration from the environment.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values.
type Config struct {
	// Portal server
	ServerURL     string
	ClientTimeout time.Duration

	// Logging
	LogFile  string
	LogLevel slog.Level

	// Task engine
	EventBuffer int
	PolicyFile  string

	// Prometheus listener; empty disables it
	MetricsAddr string

	// Chat session that pasted documents are attached to
	SessionID string
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		ServerURL:     getEnv("KNOWHOW_SERVER_URL", "http://localhost:8484/query"),
		ClientTimeout: getDuration("KNOWHOW_CLIENT_TIMEOUT", 30*time.Second),

		LogFile:  getEnv("KNOWHOW_LOG_FILE", "/tmp/knowhow-tasks.log"),
		LogLevel: parseLogLevel(getEnv("KNOWHOW_LOG_LEVEL", "INFO")),

		EventBuffer: getInt("KNOWHOW_EVENT_BUFFER", 256),
		PolicyFile:  getEnv("KNOWHOW_POLICY_FILE", ""),

		MetricsAddr: getEnv("KNOWHOW_METRICS_ADDR", ""),
		SessionID:   getEnv("KNOWHOW_SESSION_ID", ""),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getDuration accepts Go durations ("45s") or plain seconds ("45").
func getDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(val); err == nil && d > 0 {
		return d
	}
	if secs, err := strconv.Atoi(val); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	slog.Warn("invalid duration, using default", "key", key, "value", val, "default", defaultVal)
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil || n <= 0 {
		slog.Warn("invalid integer, using default", "key", key, "value", val, "default", defaultVal)
		return defaultVal
	}
	return n
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
