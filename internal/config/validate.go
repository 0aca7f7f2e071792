package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tgifai/taskd/internal/consts"
)

const (
	defaultBind             = "127.0.0.1:7420"
	defaultAutosave         = 30 * time.Second
	defaultHistorySize      = 1000
	defaultDependencyWindow = time.Hour
	defaultTaskTimeout      = 5 * time.Minute
	defaultShutdownGrace    = 10 * time.Second
	defaultCommandTimeout   = 60 * time.Second
	defaultCommandOutput    = 64 * 1024
	defaultWebhookTimeout   = 30 * time.Second
	defaultWebhookBody      = 1 << 20
)

// DefaultAllowPrefixes is the command allow-list used when none is configured.
var DefaultAllowPrefixes = []string{
	"echo", "date", "ls", "cat", "head", "tail", "wc", "grep", "df", "du",
	"uptime", "whoami", "hostname", "curl", "git status", "git log",
}

// Validate fills defaults and rejects invalid values.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config cannot be nil")
	}

	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	if c.Server.Bind == "" {
		c.Server.Bind = defaultBind
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}

	if err := c.Scheduler.validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := c.Store.validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}

	c.Sandbox.Backbone = strings.ToLower(strings.TrimSpace(c.Sandbox.Backbone))
	if c.Sandbox.Backbone == "" {
		c.Sandbox.Backbone = "local"
	}
	if strings.TrimSpace(c.Sandbox.Workdir) == "" {
		c.Sandbox.Workdir = consts.DefaultWorkspace()
	}
	if c.Sandbox.Backbone == "go-judge" && strings.TrimSpace(c.Sandbox.Endpoint) == "" {
		return errors.New("sandbox: endpoint is required for go-judge backbone")
	}

	if c.Command.AllowPrefixes == nil {
		c.Command.AllowPrefixes = append([]string(nil), DefaultAllowPrefixes...)
	}
	if c.Command.Timeout <= 0 {
		c.Command.Timeout = defaultCommandTimeout
	}
	if c.Command.MaxOutputBytes <= 0 {
		c.Command.MaxOutputBytes = defaultCommandOutput
	}
	if strings.TrimSpace(c.Command.Shell) == "" {
		c.Command.Shell = "/bin/sh"
	}

	if c.Webhook.Timeout <= 0 {
		c.Webhook.Timeout = defaultWebhookTimeout
	}
	if c.Webhook.MaxBodyBytes <= 0 {
		c.Webhook.MaxBodyBytes = defaultWebhookBody
	}
	if strings.TrimSpace(c.Webhook.UserAgent) == "" {
		c.Webhook.UserAgent = consts.Generator()
	}

	if c.Reminder.RatePerSec <= 0 {
		c.Reminder.RatePerSec = 1
	}
	if c.Reminder.Burst <= 0 {
		c.Reminder.Burst = 5
	}

	agents := make(map[string]AgentConfig, len(c.Agents))
	for key, one := range c.Agents {
		id := strings.TrimSpace(key)
		if id == "" {
			return errors.New("agent id cannot be empty")
		}
		one.ID = id
		one.Backend = strings.ToLower(strings.TrimSpace(one.Backend))
		switch one.Backend {
		case "claude-code", "codex":
		case "http":
			if strings.TrimSpace(one.Endpoint) == "" {
				return fmt.Errorf("agents[%s]: endpoint is required for http backend", id)
			}
		default:
			return fmt.Errorf("agents[%s]: unsupported backend %q", id, one.Backend)
		}
		agents[id] = one
	}
	c.Agents = agents

	channels := make(map[string]ChannelConfig, len(c.Channels))
	for key, one := range c.Channels {
		id := strings.TrimSpace(key)
		if id == "" {
			return errors.New("channel id cannot be empty")
		}
		one.ID = id
		one.Type = strings.ToLower(strings.TrimSpace(one.Type))
		if one.Type == "" {
			return fmt.Errorf("channels[%s]: type is required", id)
		}
		channels[id] = one
	}
	c.Channels = channels

	if c.Reminder.DefaultChannel != "" {
		if _, ok := c.Channels[c.Reminder.DefaultChannel]; !ok {
			return fmt.Errorf("reminder: default_channel %q is not configured", c.Reminder.DefaultChannel)
		}
	}
	return nil
}

func (s *SchedulerConfig) validate() error {
	s.Timezone = strings.TrimSpace(s.Timezone)
	if s.Timezone == "" {
		s.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(s.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", s.Timezone, err)
	}
	if s.AutosaveInterval <= 0 {
		s.AutosaveInterval = defaultAutosave
	}
	if s.HistorySize <= 0 {
		s.HistorySize = defaultHistorySize
	}
	if s.DependencyWindow <= 0 {
		s.DependencyWindow = defaultDependencyWindow
	}
	if s.DefaultTimeout <= 0 {
		s.DefaultTimeout = defaultTaskTimeout
	}
	if s.ShutdownGrace <= 0 {
		s.ShutdownGrace = defaultShutdownGrace
	}
	if s.RetryJitter < 0 || s.RetryJitter >= 1 {
		return fmt.Errorf("retry_jitter must be in [0, 1), got %v", s.RetryJitter)
	}
	return nil
}

func (s *StoreConfig) validate() error {
	s.Driver = strings.ToLower(strings.TrimSpace(s.Driver))
	if s.Driver == "" {
		s.Driver = "sqlite"
	}
	switch s.Driver {
	case "sqlite", "file", "auto":
	default:
		return fmt.Errorf("unsupported driver %q", s.Driver)
	}
	if strings.TrimSpace(s.Path) == "" {
		s.Path = consts.DefaultDBPath()
	}
	if strings.TrimSpace(s.FilePath) == "" {
		s.FilePath = consts.DefaultTasksFilePath()
	}
	return nil
}
