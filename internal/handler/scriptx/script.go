package scriptx

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tgifai/taskd/internal/cronjob"
	"github.com/tgifai/taskd/internal/pkg/logs"
	"github.com/tgifai/taskd/internal/security/sandbox"
)

// interpreters maps a script language to the program that runs it.
var interpreters = map[string]string{
	"python":     "python3",
	"python3":    "python3",
	"node":       "node",
	"javascript": "node",
	"js":         "node",
	"bash":       "bash",
	"sh":         "sh",
	"shell":      "sh",
	"ruby":       "ruby",
	"perl":       "perl",
	"php":        "php",
	"deno":       "deno",
}

var extensions = map[string]string{
	".py":  "python",
	".js":  "node",
	".mjs": "node",
	".sh":  "sh",
	".rb":  "ruby",
	".pl":  "perl",
	".php": "php",
}

// Handler runs script tasks on the configured sandbox executor.
type Handler struct {
	workspace string
	executor  sandbox.Executor
}

func New(workspace string, executor sandbox.Executor) *Handler {
	return &Handler{workspace: workspace, executor: executor}
}

func (h *Handler) Handle(ctx context.Context, req cronjob.Request) (string, error) {
	r, ok := req.(cronjob.ScriptRequest)
	if !ok {
		return "", fmt.Errorf("script handler got %s request", req.Kind())
	}

	workingDir := h.resolveWorkingDir(r.WorkingDir)
	cmd, err := h.command(r, workingDir)
	if err != nil {
		return "", err
	}

	res, err := h.executor.Execute(ctx, &sandbox.ExecRequest{
		WorkingDir: workingDir,
		Timeout:    r.Timeout,
		Command:    cmd,
		Stdin:      r.Stdin,
	})
	if err != nil {
		return "", err
	}
	if res == nil {
		return "", fmt.Errorf("sandbox executor returned nil result")
	}
	if res.TimedOut {
		return "", fmt.Errorf("script timeout after %v", r.Timeout)
	}

	logs.CtxInfo(ctx, "[handler:scriptx] run: %s (exit_code: %d)", cmd.Display, res.ExitCode)

	summary := res.Summary()
	if res.ExitCode != 0 {
		return "", fmt.Errorf("script exited with code %d: %s", res.ExitCode, summary)
	}
	return summary, nil
}

func (h *Handler) command(r cronjob.ScriptRequest, workingDir string) (sandbox.Command, error) {
	target := strings.TrimSpace(r.Target)
	if target == "" {
		display := strings.TrimSpace(strings.Join(append([]string{r.Command}, r.Args...), " "))
		if display == "" {
			return sandbox.Command{}, fmt.Errorf("script target or command is required")
		}
		return sandbox.Command{Display: display, UseShell: true}, nil
	}

	if _, local := h.executor.(*sandbox.LocalExecutor); local {
		path := target
		if !filepath.IsAbs(path) && workingDir != "" {
			path = filepath.Join(workingDir, path)
		}
		if _, err := os.Stat(path); err != nil {
			return sandbox.Command{}, fmt.Errorf("script target: %w", err)
		}
	}

	program, err := interpreterFor(r.Language, target)
	if err != nil {
		return sandbox.Command{}, err
	}
	args := append([]string{}, r.Args...)
	if program == "" {
		// executable target, run directly
		program = target
		if !filepath.IsAbs(program) && !strings.Contains(program, string(filepath.Separator)) {
			program = "." + string(filepath.Separator) + program
		}
	} else {
		args = append([]string{target}, args...)
	}
	return sandbox.Command{
		Display: strings.Join(append([]string{program}, args...), " "),
		Program: program,
		Args:    args,
	}, nil
}

// interpreterFor returns the interpreter for language, falling back to the
// target's extension. An empty result means the target is run directly.
func interpreterFor(language, target string) (string, error) {
	lang := strings.ToLower(strings.TrimSpace(language))
	if lang == "" {
		lang = extensions[strings.ToLower(filepath.Ext(target))]
	}
	if lang == "" {
		return "", nil
	}
	program, ok := interpreters[lang]
	if !ok {
		return "", fmt.Errorf("unsupported script language %q", language)
	}
	return program, nil
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
