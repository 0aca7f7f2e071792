package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	lockRetryInterval  = 50 * time.Millisecond
	lockAcquireTimeout = 5 * time.Second
	lockStaleAfter     = 30 * time.Second
	maxBackupFiles     = 5
)

var defaultManager = &InstanceManager{}

var ErrNotLoaded = errors.New("config is not loaded")

// InstanceManager holds the process-wide config snapshot.
type InstanceManager struct {
	path   string
	cfg    *Config
	hash   string
	loaded bool

	mu sync.RWMutex
}

func (ins *InstanceManager) Get() (*Config, error) {
	ins.mu.RLock()
	defer ins.mu.RUnlock()
	if !ins.loaded || ins.cfg == nil {
		return nil, ErrNotLoaded
	}
	return ins.cfg.Clone()
}

// Load reads path. A missing file yields the defaults so a fresh install
// can start without writing a config first.
func (ins *InstanceManager) Load(path string) (*Config, error) {
	ins.mu.Lock()
	defer ins.mu.Unlock()

	path = strings.TrimSpace(path)
	if path == "" {
		path = ins.path
	}
	if path == "" {
		return nil, errors.New("config path is required")
	}

	cfg, err := loadConfigFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg, err = Default(), nil
	}
	if err != nil {
		return nil, err
	}

	ins.path = path
	ins.cfg = cfg
	ins.hash = cfg.Hash()
	ins.loaded = true
	return cfg.Clone()
}

func (ins *InstanceManager) Hash() (string, error) {
	ins.mu.RLock()
	defer ins.mu.RUnlock()
	if !ins.loaded {
		return "", ErrNotLoaded
	}
	return ins.hash, nil
}

// Update applies fn to a copy of the loaded snapshot and keeps the copy if it
// still validates. Call Save to persist it.
func (ins *InstanceManager) Update(fn func(*Config)) error {
	ins.mu.Lock()
	defer ins.mu.Unlock()
	if !ins.loaded || ins.cfg == nil {
		return ErrNotLoaded
	}
	next, err := ins.cfg.Clone()
	if err != nil {
		return err
	}
	fn(next)
	if err = next.Validate(); err != nil {
		return err
	}
	ins.cfg = next
	return nil
}

// Save writes the loaded snapshot back to its path, keeping a bounded
// number of timestamped backups.
func (ins *InstanceManager) Save() error {
	ins.mu.Lock()
	defer ins.mu.Unlock()
	if !ins.loaded || ins.cfg == nil {
		return ErrNotLoaded
	}
	if err := WriteFile(ins.path, ins.cfg); err != nil {
		return err
	}
	ins.hash = ins.cfg.Hash()
	return nil
}

func loadConfigFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// WriteFile atomically replaces path with cfg rendered as YAML.
func WriteFile(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config cannot be nil")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	unlock, err := acquireFileLock(path+".lock", lockAcquireTimeout, lockStaleAfter)
	if err != nil {
		return fmt.Errorf("acquire config file lock: %w", err)
	}
	defer unlock()

	raw, err := marshalConfigYAML(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	mode := os.FileMode(0o600)
	if info, statErr := os.Stat(path); statErr == nil {
		mode = info.Mode().Perm()
		if err := createBackup(path, mode); err != nil {
			return err
		}
		cleanupOldBackups(path)
	} else if !os.IsNotExist(statErr) {
		return fmt.Errorf("stat config file: %w", statErr)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp.*")
	if err != nil {
		return fmt.Errorf("create temp config file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config file: %w", err)
	}
	if err := os.Chmod(tmpPath, mode); err != nil {
		return fmt.Errorf("chmod temp config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace config file: %w", err)
	}
	return nil
}

func Load(path string) (*Config, error) { return defaultManager.Load(path) }

func Get() (*Config, error) { return defaultManager.Get() }

func Save() error { return defaultManager.Save() }

func Update(fn func(*Config)) error { return defaultManager.Update(fn) }

func Hash() (string, error) { return defaultManager.Hash() }

func acquireFileLock(lockPath string, timeout, staleAfter time.Duration) (func(), error) {
	start := time.Now()
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err == nil {
			_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
			_ = f.Close()
			return func() { _ = os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}
		if info, statErr := os.Stat(lockPath); statErr == nil && time.Since(info.ModTime()) > staleAfter {
			_ = os.Remove(lockPath)
			continue
		}
		if time.Since(start) > timeout {
			return nil, fmt.Errorf("lock timeout after %s", timeout)
		}
		time.Sleep(lockRetryInterval)
	}
}

func createBackup(path string, mode os.FileMode) error {
	backupPath := fmt.Sprintf("%s.%s", path, time.Now().Format("060102150405.000000"))

	src, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open source config for backup: %w", err)
	}
	defer src.Close()

	dst, err := os.OpenFile(backupPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, mode)
	if err != nil {
		return fmt.Errorf("create config backup file: %w", err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(backupPath)
		return fmt.Errorf("copy config backup: %w", err)
	}
	return dst.Close()
}

func cleanupOldBackups(path string) {
	files, err := filepath.Glob(path + ".[0-9]*")
	if err != nil || len(files) <= maxBackupFiles {
		return
	}
	sort.Strings(files)
	for _, one := range files[:len(files)-maxBackupFiles] {
		_ = os.Remove(one)
	}
}

func marshalConfigYAML(cfg *Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		_ = enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return []byte(strings.TrimRight(buf.String(), "\n") + "\n"), nil
}
