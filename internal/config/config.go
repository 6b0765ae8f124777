package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type Config struct {
	DataDir string `json:"data_dir"`

	RetentionDays   int `json:"retention_days"`
	CleanupInterval int `json:"cleanup_interval_minutes"`

	// Payloads above SoftSizeLimit are fingerprinted and previewed from a
	// truncated prefix; payloads above HardSizeCap are rejected outright.
	SoftSizeLimit int `json:"soft_size_limit_bytes"`
	HardSizeCap   int `json:"hard_size_cap_bytes"`

	// Text-like payloads up to InlineLimit live in the items table;
	// anything larger goes to the blob directory.
	InlineLimit int `json:"inline_limit_bytes"`

	PreviewMaxLen   int `json:"preview_max_len"`
	ThumbnailMaxDim int `json:"thumbnail_max_dim"`

	DebounceWindow int `json:"debounce_window_ms"`
	ReadRetries    int `json:"read_retries"`
	ReadBackoff    int `json:"read_backoff_ms"`

	EventQueueSize int `json:"event_queue_size"`

	ExportPayloads bool `json:"export_payloads"`

	LogLevel string `json:"log_level"`
	LogFile  string `json:"log_file"`
}

func Default() *Config {
	return &Config{
		RetentionDays:   90,
		CleanupInterval: 60,

		SoftSizeLimit: 1 * 1024 * 1024,
		HardSizeCap:   10 * 1024 * 1024,
		InlineLimit:   64 * 1024,

		PreviewMaxLen:   200,
		ThumbnailMaxDim: 128,

		DebounceWindow: 150,
		ReadRetries:    3,
		ReadBackoff:    50,

		EventQueueSize: 256,

		LogLevel: "INFO",
	}
}

func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if file doesn't exist
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.validate()

	return cfg, nil
}

func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// DefaultDataDir resolves ~/.clipboard-master, creating it if needed.
func DefaultDataDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	dataDir := filepath.Join(homeDir, ".clipboard-master")
	return dataDir, os.MkdirAll(dataDir, 0755)
}

func (c *Config) validate() {
	def := Default()

	if c.RetentionDays <= 0 {
		c.RetentionDays = def.RetentionDays
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = def.CleanupInterval
	}
	if c.SoftSizeLimit <= 0 {
		c.SoftSizeLimit = def.SoftSizeLimit
	}
	if c.HardSizeCap < c.SoftSizeLimit {
		c.HardSizeCap = def.HardSizeCap
	}
	if c.InlineLimit <= 0 {
		c.InlineLimit = def.InlineLimit
	}
	if c.PreviewMaxLen <= 0 {
		c.PreviewMaxLen = def.PreviewMaxLen
	}
	if c.ThumbnailMaxDim <= 0 {
		c.ThumbnailMaxDim = def.ThumbnailMaxDim
	}
	if c.DebounceWindow <= 0 {
		c.DebounceWindow = def.DebounceWindow
	}
	if c.ReadRetries <= 0 {
		c.ReadRetries = def.ReadRetries
	}
	if c.ReadBackoff <= 0 {
		c.ReadBackoff = def.ReadBackoff
	}
	if c.EventQueueSize <= 0 {
		c.EventQueueSize = def.EventQueueSize
	}
}
