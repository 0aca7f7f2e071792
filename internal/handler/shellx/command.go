package shellx

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tgifai/taskd/internal/config"
	"github.com/tgifai/taskd/internal/cronjob"
	"github.com/tgifai/taskd/internal/pkg/logs"
	"github.com/tgifai/taskd/internal/security/sandbox"
)

// shellMeta are the sequences that chain or redirect commands. An allow-listed
// prefix is only meaningful when none of them appear.
var shellMeta = []string{";", "&", "|", "`", "$(", ">", "<", "\n"}

// Handler runs command tasks through the shell on the host.
type Handler struct {
	cfg       config.CommandConfig
	workspace string
	executor  sandbox.Executor
}

func New(cfg config.CommandConfig, workspace string) *Handler {
	return &Handler{
		cfg:       cfg,
		workspace: workspace,
		executor:  sandbox.NewLocalExecutor(workspace, cfg.Shell, cfg.MaxOutputBytes),
	}
}

func (h *Handler) Handle(ctx context.Context, req cronjob.Request) (string, error) {
	r, ok := req.(cronjob.CommandRequest)
	if !ok {
		return "", fmt.Errorf("command handler got %s request", req.Kind())
	}

	command := strings.TrimSpace(r.Command)
	if command == "" {
		return "", fmt.Errorf("command is required")
	}
	if !r.AllowUnsafe {
		if err := h.checkAllowed(command); err != nil {
			return "", err
		}
	}

	timeout := h.cfg.Timeout
	if t := r.Timeout; t > 0 && (timeout <= 0 || t < timeout) {
		timeout = t
	}
	workingDir := h.resolveWorkingDir(r.WorkingDir)

	res, err := h.executor.Execute(ctx, &sandbox.ExecRequest{
		WorkingDir: workingDir,
		Timeout:    timeout,
		MaxOutput:  r.MaxOutputBytes,
		Command:    sandbox.Command{Display: command, UseShell: true},
	})
	if err != nil {
		return "", err
	}
	if res.TimedOut {
		return "", fmt.Errorf("command timeout after %v", timeout)
	}

	logs.CtxInfo(ctx, "[handler:shellx] exec: %s (exit_code: %d)", command, res.ExitCode)

	summary := res.Summary()
	if res.ExitCode != 0 {
		return "", fmt.Errorf("command exited with code %d: %s", res.ExitCode, summary)
	}
	return summary, nil
}

func (h *Handler) checkAllowed(command string) error {
	for _, meta := range shellMeta {
		if strings.Contains(command, meta) {
			return fmt.Errorf("command %q uses %q; set allowUnsafe to run it", command, meta)
		}
	}
	for _, prefix := range h.cfg.AllowPrefixes {
		prefix = strings.TrimSpace(prefix)
		if prefix == "" {
			continue
		}
		if command == prefix || strings.HasPrefix(command, prefix+" ") {
			return nil
		}
	}
	return fmt.Errorf("command %q is not in the allow-list; set allowUnsafe to run it", command)
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
