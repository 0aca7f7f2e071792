package agentx

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/tgifai/taskd/internal/config"
)

// Backend abstracts how a delegated task reaches an agent.
type Backend interface {
	Name() string
	Available() bool
	Run(ctx context.Context, req *RunRequest) (*RunResult, error)
}

// RunRequest holds parameters for one agent invocation.
type RunRequest struct {
	TaskID     string
	Attempt    int
	Task       string
	Context    map[string]string
	WorkingDir string
}

// Prompt renders the task with its context as a single prompt for CLI agents.
func (r *RunRequest) Prompt() string {
	if len(r.Context) == 0 {
		return r.Task
	}
	var sb strings.Builder
	sb.WriteString(r.Task)
	sb.WriteString("\n\nContext:\n")
	for _, k := range slices.Sorted(maps.Keys(r.Context)) {
		fmt.Fprintf(&sb, "- %s: %s\n", k, r.Context[k])
	}
	return strings.TrimRight(sb.String(), "\n")
}

// RunResult holds the output of a completed invocation.
type RunResult struct {
	SessionID string
	Output    string
	ExitCode  int
}

type BackendBuilder func(cfg config.AgentConfig) (Backend, error)

var (
	backendBuilders = map[string]BackendBuilder{
		BackendClaudeCode: func(cfg config.AgentConfig) (Backend, error) { return NewClaudeCodeBackend(cfg), nil },
		BackendCodex:      func(cfg config.AgentConfig) (Backend, error) { return NewCodexBackend(cfg), nil },
		BackendHTTP:       func(cfg config.AgentConfig) (Backend, error) { return NewHTTPBackend(cfg) },
	}
	builderMu sync.RWMutex
)

const (
	BackendClaudeCode = "claude-code"
	BackendCodex      = "codex"
	BackendHTTP       = "http"
)

// RegisterBackend adds a backend kind usable from the agents config.
func RegisterBackend(kind string, builder BackendBuilder) error {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" || builder == nil {
		return fmt.Errorf("backend kind and builder are required")
	}
	builderMu.Lock()
	defer builderMu.Unlock()
	if _, ok := backendBuilders[kind]; ok {
		return fmt.Errorf("backend already registered: %s", kind)
	}
	backendBuilders[kind] = builder
	return nil
}

func buildBackend(cfg config.AgentConfig) (Backend, error) {
	kind := strings.ToLower(strings.TrimSpace(cfg.Backend))
	builderMu.RLock()
	builder, ok := backendBuilders[kind]
	builderMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("agent %s: unsupported backend %q", cfg.ID, cfg.Backend)
	}
	return builder(cfg)
}
