// Package config loads and validates the TapTrack device configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/taptrack/internal/errors"
)

// Config is the root device configuration.
type Config struct {
	Device  DeviceConfig  `yaml:"device"`
	Queue   QueueConfig   `yaml:"queue"`
	Sync    SyncConfig    `yaml:"sync"`
	Remote  RemoteConfig  `yaml:"remote"`
	Admin   AdminConfig   `yaml:"admin"`
	Logging LoggingConfig `yaml:"logging"`
}

// DeviceConfig holds tap capture and classification tunables.
type DeviceConfig struct {
	// DebounceWindow drops a repeat read of the same uid arriving faster than
	// a human can tap. Applied by the card event source, before the engine.
	DebounceWindow time.Duration `yaml:"debounce_window"`
	// TapCooldown suppresses repeat taps of the same card.
	TapCooldown time.Duration `yaml:"tap_cooldown"`
	// StateTimeout bounds every non-idle state before the watchdog fires.
	StateTimeout time.Duration `yaml:"state_timeout"`
	// OnTimeHour: taps strictly before this hour classify as present, at/after as late.
	OnTimeHour int `yaml:"on_time_hour"`
	// Clock plausibility bounds.
	MinYear int `yaml:"min_year"`
	MaxYear int `yaml:"max_year"`
	// DataDir is where the device persists queue, mode, and directory state.
	DataDir string `yaml:"data_dir"`
}

// QueueConfig bounds the durable attendance queue.
type QueueConfig struct {
	Capacity int `yaml:"capacity"`
	// WarnThreshold is the occupancy (records, not percent) that triggers the capacity warning.
	WarnThreshold int `yaml:"warn_threshold"`
}

// SyncConfig drives the periodic queue drain and retry pacing.
type SyncConfig struct {
	Interval           time.Duration    `yaml:"interval"`
	ConnectivityCheck  time.Duration    `yaml:"connectivity_check"`
	StreamReconnect    time.Duration    `yaml:"stream_reconnect"`
	RetryWarnThreshold int              `yaml:"retry_warn_threshold"`
	Backoff            RetryBackoffMode `yaml:"backoff"`
	BackoffInitial     time.Duration    `yaml:"backoff_initial"`
	BackoffMax         time.Duration    `yaml:"backoff_max"`
}

// RemoteConfig points at the NATS-backed remote store.
type RemoteConfig struct {
	URL               string `yaml:"url"`
	AttendanceSubject string `yaml:"attendance_subject"`
	PendingSubject    string `yaml:"pending_subject"`
	UserBucket        string `yaml:"user_bucket"`
	Stream            string `yaml:"stream"`
}

// AdminConfig configures the operator HTTP surface.
type AdminConfig struct {
	ListenAddr     string `yaml:"listen_addr"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

// LoggingConfig controls slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

// Default returns the built-in configuration matching the device's shipped tunables.
func Default() *Config {
	return &Config{
		Device: DeviceConfig{
			DebounceWindow: 20 * time.Millisecond,
			TapCooldown:    30 * time.Second,
			StateTimeout:   10 * time.Second,
			OnTimeHour:     9,
			MinYear:        2024,
			MaxYear:        2030,
			DataDir:        "./taptrack-data",
		},
		Queue: QueueConfig{
			Capacity:      100,
			WarnThreshold: 80,
		},
		Sync: SyncConfig{
			Interval:           30 * time.Second,
			ConnectivityCheck:  60 * time.Second,
			StreamReconnect:    30 * time.Second,
			RetryWarnThreshold: 5,
			Backoff:            RetryBackoffLinear,
			BackoffInitial:     time.Second,
			BackoffMax:         30 * time.Second,
		},
		Remote: RemoteConfig{
			URL:               "nats://127.0.0.1:4222",
			AttendanceSubject: "taptrack.attendance",
			PendingSubject:    "taptrack.pending",
			UserBucket:        "taptrack-users",
			Stream:            "TAPTRACK",
		},
		Admin: AdminConfig{
			ListenAddr:     "127.0.0.1:8750",
			MetricsEnabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML configuration file, layering it over defaults.
// A missing file is an error; use Default() when no file is configured.
func Load(path string) (*Config, error) {
	loadEnvFile()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ConfigNotFound(path)
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that would make the engine misbehave at runtime.
func (c *Config) Validate() error {
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue.capacity must be >0, got %d", c.Queue.Capacity)
	}
	if c.Queue.WarnThreshold < 0 || c.Queue.WarnThreshold > c.Queue.Capacity {
		return fmt.Errorf("queue.warn_threshold must be within [0,%d], got %d", c.Queue.Capacity, c.Queue.WarnThreshold)
	}
	if c.Device.OnTimeHour < 0 || c.Device.OnTimeHour > 23 {
		return fmt.Errorf("device.on_time_hour must be within [0,23], got %d", c.Device.OnTimeHour)
	}
	if c.Device.MinYear > c.Device.MaxYear {
		return fmt.Errorf("device.min_year %d exceeds device.max_year %d", c.Device.MinYear, c.Device.MaxYear)
	}
	if c.Device.StateTimeout <= 0 {
		return fmt.Errorf("device.state_timeout must be >0")
	}
	if c.Sync.Interval <= 0 {
		return fmt.Errorf("sync.interval must be >0")
	}
	if c.Sync.RetryWarnThreshold < 0 {
		return fmt.Errorf("sync.retry_warn_threshold cannot be negative")
	}
	if m := NormalizeRetryBackoff(string(c.Sync.Backoff)); m == "" {
		return fmt.Errorf("sync.backoff must be fixed|linear|exponential, got %q", c.Sync.Backoff)
	}
	if c.Remote.URL == "" {
		return fmt.Errorf("remote.url is required")
	}
	if c.Admin.ListenAddr == "" {
		return fmt.Errorf("admin.listen_addr is required")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug|info|warn|error, got %q", c.Logging.Level)
	}
	return nil
}

// Init writes a starter configuration file with defaults.
func Init(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
		}
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
