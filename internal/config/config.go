package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the full application configuration written to config.yml.
type Config struct {
	DataDir string        `yaml:"data_dir"`
	Domain  string        `yaml:"domain,omitempty"` // public host for constructing download URLs
	Service ServiceConfig `yaml:"service"`
	Bot     BotConfig     `yaml:"bot"`
	Update  UpdateConfig  `yaml:"update"`
}

type ServiceConfig struct {
	BindAddress     string `yaml:"bind_address"`
	Port            int    `yaml:"port"`
	RatePerMinute   int    `yaml:"rate_per_minute"`          // catalog/API requests per client
	APKRatePerMinute int   `yaml:"apk_rate_per_minute"`      // package downloads per client
}

type BotConfig struct {
	Token        string `yaml:"token,omitempty"` // or APKHUB_BOT_TOKEN
	NotifyChatID string `yaml:"notify_chat_id,omitempty"`
	AdminID      int64  `yaml:"admin_id"`
}

type UpdateConfig struct {
	IntervalHours int `yaml:"interval_hours"`
}

// Load reads and parses a config file from the given path. The bot token may
// also come from the APKHUB_BOT_TOKEN environment variable, which takes
// precedence over the file so the secret can stay out of it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if env := os.Getenv("APKHUB_BOT_TOKEN"); env != "" {
		cfg.Bot.Token = env
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = DefaultDataDir
	}
	if c.Service.BindAddress == "" {
		c.Service.BindAddress = DefaultBindAddress
	}
	if c.Service.Port == 0 {
		c.Service.Port = DefaultPort
	}
	if c.Service.RatePerMinute == 0 {
		c.Service.RatePerMinute = DefaultRatePerMinute
	}
	if c.Service.APKRatePerMinute == 0 {
		c.Service.APKRatePerMinute = DefaultAPKRatePerMinute
	}
	if c.Update.IntervalHours == 0 {
		c.Update.IntervalHours = DefaultIntervalHours
	}
}

// Validate checks that all required fields are present and values are in range.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("service.port must be between 1 and 65535")
	}
	if c.Service.BindAddress == "" {
		return fmt.Errorf("service.bind_address is required")
	}
	if c.Service.RatePerMinute < 1 {
		return fmt.Errorf("service.rate_per_minute must be >= 1")
	}
	if c.Service.APKRatePerMinute < 1 {
		return fmt.Errorf("service.apk_rate_per_minute must be >= 1")
	}
	if c.Update.IntervalHours < 1 {
		return fmt.Errorf("update.interval_hours must be >= 1")
	}
	if c.Bot.Token != "" && c.Bot.AdminID == 0 {
		return fmt.Errorf("bot.admin_id is required when bot.token is set")
	}
	return nil
}

// CatalogPath returns the location of the apps.json document.
func (c *Config) CatalogPath() string {
	return filepath.Join(c.DataDir, "config", "apps.json")
}

// APKDir returns the directory holding published packages.
func (c *Config) APKDir() string {
	return filepath.Join(c.DataDir, "apks")
}

// HistoryPath returns the location of the publish-history database.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.DataDir, "history.db")
}

// Save writes the config to the given path, creating parent directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}
