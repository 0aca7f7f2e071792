package config

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
)

type (
	Config struct {
		Server    ServerConfig             `yaml:"server"`
		Logging   LoggingConfig            `yaml:"logging"`
		Scheduler SchedulerConfig          `yaml:"scheduler"`
		Store     StoreConfig              `yaml:"store"`
		Sandbox   SandboxConfig            `yaml:"sandbox"`
		Command   CommandConfig            `yaml:"command"`
		Webhook   WebhookConfig            `yaml:"webhook"`
		Reminder  ReminderConfig           `yaml:"reminder"`
		Agents    map[string]AgentConfig   `yaml:"agents"`
		Channels  map[string]ChannelConfig `yaml:"channels"`
	}

	ServerConfig struct {
		Bind        string        `yaml:"bind"`
		ReadTimeout time.Duration `yaml:"read_timeout"`
		// APIKey, when set, is required as a bearer token on /api/v1.
		APIKey string `yaml:"api_key"`
	}

	LoggingConfig struct {
		Level      string `yaml:"level"`  // debug, info, warn, error
		Format     string `yaml:"format"` // json, text
		Output     string `yaml:"output"` // stdout, file, both
		File       string `yaml:"file"`
		MaxSize    int    `yaml:"max_size"` // MB
		MaxBackups int    `yaml:"max_backups"`
		MaxAge     int    `yaml:"max_age"` // days
	}

	SchedulerConfig struct {
		Timezone         string        `yaml:"timezone"`
		AutosaveInterval time.Duration `yaml:"autosave_interval"`
		HistorySize      int           `yaml:"history_size"`
		DependencyWindow time.Duration `yaml:"dependency_window"`
		DefaultTimeout   time.Duration `yaml:"default_timeout"`
		ShutdownGrace    time.Duration `yaml:"shutdown_grace"`
		PreventOverlap   bool          `yaml:"prevent_overlap"`
		RetryJitter      float64       `yaml:"retry_jitter"`
	}

	StoreConfig struct {
		Driver   string `yaml:"driver"` // sqlite, file, auto
		Path     string `yaml:"path"`
		FilePath string `yaml:"file_path"`
	}

	SandboxConfig struct {
		Backbone string `yaml:"backbone"` // local, go-judge
		Endpoint string `yaml:"endpoint"`
		Workdir  string `yaml:"workdir"`
		Shell    string `yaml:"shell"`
		// MemoryLimitMB and ProcLimit only apply to go-judge.
		MemoryLimitMB int `yaml:"memory_limit_mb"`
		ProcLimit     int `yaml:"proc_limit"`
		MaxOutput     int `yaml:"max_output"`
	}

	CommandConfig struct {
		AllowPrefixes  []string      `yaml:"allow_prefixes"`
		Timeout        time.Duration `yaml:"timeout"`
		MaxOutputBytes int           `yaml:"max_output_bytes"`
		Shell          string        `yaml:"shell"`
	}

	WebhookConfig struct {
		Timeout      time.Duration `yaml:"timeout"`
		MaxBodyBytes int64         `yaml:"max_body_bytes"`
		AllowPrivate bool          `yaml:"allow_private"`
		UserAgent    string        `yaml:"user_agent"`
	}

	ReminderConfig struct {
		DefaultChannel string  `yaml:"default_channel"`
		RatePerSec     float64 `yaml:"rate_per_sec"`
		Burst          int     `yaml:"burst"`
	}

	AgentConfig struct {
		ID       string            `yaml:"-"`
		Backend  string            `yaml:"backend"` // claude-code, codex, http
		Path     string            `yaml:"path"`
		Endpoint string            `yaml:"endpoint"`
		Model    string            `yaml:"model"`
		Headers  map[string]string `yaml:"headers"`
		Timeout  time.Duration     `yaml:"timeout"`
	}

	ChannelConfig struct {
		ID      string                 `yaml:"-"`
		Type    string                 `yaml:"type"` // telegram, lark, webhook
		Enabled bool                   `yaml:"enabled"`
		Config  map[string]interface{} `yaml:"config"`
	}
)

// Default returns a config with every default filled in.
func Default() *Config {
	cfg := &Config{}
	_ = cfg.Validate()
	return cfg
}

// Clone deep-copies the config through a JSON round trip.
func (c *Config) Clone() (*Config, error) {
	if c == nil {
		return nil, fmt.Errorf("config is nil")
	}

	raw, err := sonic.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	var cloned Config
	if err := sonic.Unmarshal(raw, &cloned); err != nil {
		return nil, fmt.Errorf("unmarshal config clone: %w", err)
	}
	return &cloned, nil
}

func (c *Config) Hash() string {
	json := sonic.Config{SortMapKeys: true, UseNumber: true}.Froze()
	raw, _ := json.Marshal(c)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
