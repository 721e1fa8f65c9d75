// Package config provides environment-driven configuration for docsync.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds runtime configuration for the server binary and client
// session defaults.
type Config struct {
	ListenAddr   string
	DatabasePath string
	LogLevel     string

	// SaveDebounce is how long the autosave scheduler waits after the last
	// local edit before committing.
	SaveDebounce time.Duration
	// BroadcastDebounce is the shorter, independent debounce applied to
	// advisory channel broadcasts of local edits.
	BroadcastDebounce time.Duration
	// PollInterval is the pull-based refresh cadence used while the push
	// channel is not live.
	PollInterval time.Duration
}

// Load reads configuration from environment variables, applying defaults
// for anything unset.
func Load() *Config {
	return &Config{
		ListenAddr:        getEnv("DOCSYNC_ADDR", ":8085"),
		DatabasePath:      getEnv("DOCSYNC_DB", "docsync.db"),
		LogLevel:          getEnv("DOCSYNC_LOG_LEVEL", "info"),
		SaveDebounce:      getEnvDuration("DOCSYNC_SAVE_DEBOUNCE_MS", 2000),
		BroadcastDebounce: getEnvDuration("DOCSYNC_BROADCAST_DEBOUNCE_MS", 600),
		PollInterval:      getEnvDuration("DOCSYNC_POLL_INTERVAL_MS", 5000),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvDuration(key string, fallbackMillis int) time.Duration {
	if v := os.Getenv(key); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return time.Duration(fallbackMillis) * time.Millisecond
}
