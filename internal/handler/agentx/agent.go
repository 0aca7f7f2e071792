package agentx

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tgifai/taskd/internal/config"
	"github.com/tgifai/taskd/internal/cronjob"
	"github.com/tgifai/taskd/internal/pkg/logs"
	"github.com/tgifai/taskd/internal/pkg/utils"
)

const maxResultChars = 16000

// Handler delegates agent tasks to the configured named agents.
type Handler struct {
	workspace string
	agents    map[string]config.AgentConfig

	mu       sync.Mutex
	backends map[string]Backend
}

func New(agents map[string]config.AgentConfig, workspace string) *Handler {
	cp := make(map[string]config.AgentConfig, len(agents))
	for name, one := range agents {
		one.ID = name
		cp[name] = one
	}
	return &Handler{
		workspace: workspace,
		agents:    cp,
		backends:  make(map[string]Backend, len(cp)),
	}
}

// Agents lists the configured agent names.
func (h *Handler) Agents() []string {
	names := make([]string, 0, len(h.agents))
	for name := range h.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (h *Handler) backend(name string) (Backend, config.AgentConfig, error) {
	cfg, ok := h.agents[name]
	if !ok {
		return nil, cfg, fmt.Errorf("unknown agent %q (configured: %s)", name, strings.Join(h.Agents(), ", "))
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if b, ok := h.backends[name]; ok {
		return b, cfg, nil
	}
	b, err := buildBackend(cfg)
	if err != nil {
		return nil, cfg, err
	}
	h.backends[name] = b
	return b, cfg, nil
}

func (h *Handler) Handle(ctx context.Context, req cronjob.Request) (string, error) {
	r, ok := req.(cronjob.AgentRequest)
	if !ok {
		return "", fmt.Errorf("agent handler got %s request", req.Kind())
	}

	b, cfg, err := h.backend(r.AgentName)
	if err != nil {
		return "", err
	}
	if !b.Available() {
		return "", fmt.Errorf("agent %s: backend %s is not available", r.AgentName, b.Name())
	}
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	res, err := b.Run(ctx, &RunRequest{
		TaskID:     r.TaskID,
		Attempt:    r.Attempt,
		Task:       r.Task,
		Context:    r.Context,
		WorkingDir: h.resolveWorkingDir(r.WorkingDir),
	})
	if err != nil {
		return "", fmt.Errorf("agent %s: %w", r.AgentName, err)
	}

	logs.CtxInfo(ctx, "[handler:agentx] %s via %s finished in %v (exit_code: %d)",
		r.AgentName, b.Name(), time.Since(start).Round(time.Millisecond), res.ExitCode)

	output := utils.Truncate(strings.TrimSpace(res.Output), maxResultChars)
	if res.ExitCode != 0 {
		return "", fmt.Errorf("agent %s exited with code %d: %s", r.AgentName, res.ExitCode, output)
	}
	return output, nil
}

func (h *Handler) resolveWorkingDir(wd string) string {
	if wd == "" {
		return h.workspace
	}
	if !filepath.IsAbs(wd) && h.workspace != "" {
		return filepath.Join(h.workspace, wd)
	}
	return wd
}
