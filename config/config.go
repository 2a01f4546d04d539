// Package config loads the YAML-configurable knobs for the core: KDF
// cost parameters, replay window size, rate limits, retention
// periods, cleanup cadence, logging and metrics.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration document.
type Config struct {
	Identity *IdentityConfig `yaml:"identity"`
	Session  *SessionConfig  `yaml:"session"`
	Relay    *RelayConfig    `yaml:"relay"`
	Logging  *LoggingConfig  `yaml:"logging"`
	Metrics  *MetricsConfig  `yaml:"metrics"`
}

// IdentityConfig controls password-based sealing and lockout.
type IdentityConfig struct {
	PBKDF2Iterations int           `yaml:"pbkdf2_iterations"`
	LockoutWindow    time.Duration `yaml:"lockout_window"`
	LockoutMaxFails  int           `yaml:"lockout_max_fails"`
	LockoutDuration  time.Duration `yaml:"lockout_duration"`
}

// SessionConfig controls handshake/rotation timing and the replay
// window.
type SessionConfig struct {
	ReplayWindowSize    int           `yaml:"replay_window_size"`
	HandshakeTimeout    time.Duration `yaml:"handshake_timeout"`
	TimestampSkew       time.Duration `yaml:"timestamp_skew"`
	HandshakesPerMinute int           `yaml:"handshakes_per_minute"`
	HandshakesPerHour   int           `yaml:"handshakes_per_hour"`
	FileChunkIdleTTL    time.Duration `yaml:"file_chunk_idle_ttl"`
	SecretCacheIdleTTL  time.Duration `yaml:"secret_cache_idle_ttl"`
}

// RelayConfig controls the relay metadata store's retention and
// cleanup behaviour.
type RelayConfig struct {
	DeliveredRetention time.Duration `yaml:"delivered_retention"`
	KEPRetention       time.Duration `yaml:"kep_retention"`
	CleanupInterval    time.Duration `yaml:"cleanup_interval"`
	HalveAboveRecords  int           `yaml:"halve_above_records"`
}

// LoggingConfig controls the structured logger and audit trail.
type LoggingConfig struct {
	Level    string `yaml:"level"`
	AuditDir string `yaml:"audit_dir"`
}

// MetricsConfig holds the Prometheus exposition settings. Nothing in
// this module reads them or starts an exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns the configuration used when no file is supplied:
// conservative values matching the fixed protocol choices (W=64
// replay window, 5/min & 20/hour handshake rate limit, ±120s
// timestamp skew, 90d/30d/1M retention).
func Default() *Config {
	return &Config{
		Identity: &IdentityConfig{
			PBKDF2Iterations: 600000,
			LockoutWindow:    5 * time.Minute,
			LockoutMaxFails:  5,
			LockoutDuration:  15 * time.Minute,
		},
		Session: &SessionConfig{
			ReplayWindowSize:    64,
			HandshakeTimeout:    30 * time.Second,
			TimestampSkew:       120 * time.Second,
			HandshakesPerMinute: 5,
			HandshakesPerHour:   20,
			FileChunkIdleTTL:    30 * time.Second,
			SecretCacheIdleTTL:  15 * time.Minute,
		},
		Relay: &RelayConfig{
			DeliveredRetention: 90 * 24 * time.Hour,
			KEPRetention:       30 * 24 * time.Hour,
			CleanupInterval:    time.Hour,
			HalveAboveRecords:  1_000_000,
		},
		Logging: &LoggingConfig{
			Level:    "info",
			AuditDir: "./audit",
		},
		Metrics: &MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file, filling
// any unset section with Default()'s values.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// SaveToFile writes cfg as YAML to path.
func SaveToFile(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}
