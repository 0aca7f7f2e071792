package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestValidateFillsDefaults(t *testing.T) {
	cfg := &Config{}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}
	if cfg.Scheduler.Timezone != "UTC" {
		t.Errorf("timezone = %q, want UTC", cfg.Scheduler.Timezone)
	}
	if cfg.Scheduler.AutosaveInterval != 30*time.Second {
		t.Errorf("autosave = %v, want 30s", cfg.Scheduler.AutosaveInterval)
	}
	if cfg.Scheduler.HistorySize != 1000 {
		t.Errorf("history size = %d, want 1000", cfg.Scheduler.HistorySize)
	}
	if cfg.Scheduler.DependencyWindow != time.Hour {
		t.Errorf("dependency window = %v, want 1h", cfg.Scheduler.DependencyWindow)
	}
	if cfg.Store.Driver != "sqlite" {
		t.Errorf("store driver = %q, want sqlite", cfg.Store.Driver)
	}
	if len(cfg.Command.AllowPrefixes) == 0 {
		t.Error("expected default command allow-list")
	}
	if cfg.Sandbox.Backbone != "local" {
		t.Errorf("sandbox backbone = %q, want local", cfg.Sandbox.Backbone)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"bad timezone", Config{Scheduler: SchedulerConfig{Timezone: "Mars/Olympus"}}},
		{"bad driver", Config{Store: StoreConfig{Driver: "mongo"}}},
		{"bad jitter", Config{Scheduler: SchedulerConfig{RetryJitter: 1.5}}},
		{"gojudge without endpoint", Config{Sandbox: SandboxConfig{Backbone: "go-judge"}}},
		{"http agent without endpoint", Config{Agents: map[string]AgentConfig{"a": {Backend: "http"}}}},
		{"unknown agent backend", Config{Agents: map[string]AgentConfig{"a": {Backend: "gpt"}}}},
		{"channel without type", Config{Channels: map[string]ChannelConfig{"tg": {}}}},
		{"unknown default channel", Config{Reminder: ReminderConfig{DefaultChannel: "nope"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	ins := &InstanceManager{}
	cfg, err := ins.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Server.Bind == "" {
		t.Fatal("expected default bind address")
	}
}

func TestLoadParsesDurations(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	raw := `
scheduler:
  timezone: Asia/Shanghai
  autosave_interval: 5s
  prevent_overlap: true
channels:
  ops:
    type: telegram
    config:
      token: abc
reminder:
  default_channel: ops
`
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	ins := &InstanceManager{}
	cfg, err := ins.Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Scheduler.AutosaveInterval != 5*time.Second {
		t.Errorf("autosave = %v, want 5s", cfg.Scheduler.AutosaveInterval)
	}
	if !cfg.Scheduler.PreventOverlap {
		t.Error("expected prevent_overlap")
	}
	if cfg.Channels["ops"].ID != "ops" {
		t.Errorf("channel id = %q, want ops", cfg.Channels["ops"].ID)
	}
}

func TestSaveRoundTripAndBackups(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	ins := &InstanceManager{}
	if _, err := ins.Load(path); err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := ins.Save(); err != nil {
			t.Fatalf("Save() #%d error: %v", i, err)
		}
	}

	reloaded := &InstanceManager{}
	cfg, err := reloaded.Load(path)
	if err != nil {
		t.Fatalf("reload error: %v", err)
	}
	want, _ := ins.Hash()
	if cfg.Hash() != want {
		t.Fatal("reloaded config hash differs from saved config")
	}

	backups, _ := filepath.Glob(path + ".[0-9]*")
	if len(backups) != 2 {
		t.Fatalf("expected 2 backups, got %d", len(backups))
	}
}

func TestUpdateValidatesBeforeKeeping(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	ins := &InstanceManager{}
	if err := ins.Update(func(*Config) {}); err != ErrNotLoaded {
		t.Fatalf("Update before Load err = %v", err)
	}
	if _, err := ins.Load(path); err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if err := ins.Update(func(c *Config) { c.Scheduler.Timezone = "Mars/Olympus" }); err == nil {
		t.Fatal("invalid timezone accepted")
	}
	if err := ins.Update(func(c *Config) { c.Scheduler.Timezone = "Asia/Tokyo" }); err != nil {
		t.Fatalf("Update() error: %v", err)
	}
	if err := ins.Save(); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	cfg, err := (&InstanceManager{}).Load(path)
	if err != nil {
		t.Fatalf("reload error: %v", err)
	}
	if cfg.Scheduler.Timezone != "Asia/Tokyo" {
		t.Fatalf("timezone = %q, want Asia/Tokyo", cfg.Scheduler.Timezone)
	}
}
