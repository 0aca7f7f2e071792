package sandbox

import (
	"fmt"
	"strings"
	"sync"

	"github.com/tgifai/taskd/internal/config"
)

const (
	BackboneLocal   = "local"
	BackboneGoJudge = "go-judge"
)

type BackboneBuilder func(cfg config.SandboxConfig) (Executor, error)

var (
	backboneBuilders = map[string]BackboneBuilder{
		BackboneLocal: func(cfg config.SandboxConfig) (Executor, error) {
			return NewLocalExecutor(cfg.Workdir, cfg.Shell, cfg.MaxOutput), nil
		},
		BackboneGoJudge: func(cfg config.SandboxConfig) (Executor, error) {
			return NewGoJudgeExecutor(cfg), nil
		},
	}
	backboneMu sync.RWMutex
)

func RegisterBackbone(name string, builder BackboneBuilder) error {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return fmt.Errorf("backbone name is required")
	}
	if builder == nil {
		return fmt.Errorf("backbone builder cannot be nil")
	}

	backboneMu.Lock()
	defer backboneMu.Unlock()
	if _, exists := backboneBuilders[key]; exists {
		return fmt.Errorf("backbone already registered: %s", key)
	}
	backboneBuilders[key] = builder
	return nil
}

// New builds the executor of the configured backbone.
func New(cfg config.SandboxConfig) (Executor, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Backbone))
	if name == "" {
		name = BackboneLocal
	}

	backboneMu.RLock()
	builder, ok := backboneBuilders[name]
	backboneMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported sandbox backbone: %s", name)
	}

	executor, err := builder(cfg)
	if err != nil {
		return nil, err
	}
	if executor == nil {
		return nil, fmt.Errorf("sandbox backbone %s returned nil executor", name)
	}
	return executor, nil
}
