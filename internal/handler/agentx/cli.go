package agentx

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/tgifai/taskd/internal/config"
	"github.com/tgifai/taskd/internal/security/sandbox"
)

const maxOutputBytes = 1 << 20 // 1 MiB

// runCLI executes an agent CLI in its own process group with capped output.
func runCLI(ctx context.Context, program string, args []string, workingDir string) (string, int, error) {
	timeout := 30 * time.Minute
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	exec := sandbox.NewLocalExecutor("", "", maxOutputBytes)
	res, err := exec.Execute(ctx, &sandbox.ExecRequest{
		WorkingDir: workingDir,
		Timeout:    timeout,
		Command: sandbox.Command{
			Display: program + " " + strings.Join(args, " "),
			Program: program,
			Args:    args,
		},
	})
	if err != nil {
		return "", -1, fmt.Errorf("%s run: %w", program, err)
	}
	if res.TimedOut {
		return "", -1, fmt.Errorf("%s timed out after %v", program, timeout)
	}
	if res.ExitCode != 0 && len(strings.TrimSpace(string(res.Stdout))) == 0 {
		return strings.TrimSpace(string(res.Stderr)), res.ExitCode, nil
	}
	return string(res.Stdout), res.ExitCode, nil
}

func lookPath(program string) bool {
	_, err := exec.LookPath(program)
	return err == nil
}

// ClaudeCodeBackend wraps the claude CLI in non-interactive pipe mode.
type ClaudeCodeBackend struct {
	path  string
	model string
}

var _ Backend = (*ClaudeCodeBackend)(nil)

func NewClaudeCodeBackend(cfg config.AgentConfig) *ClaudeCodeBackend {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "claude"
	}
	return &ClaudeCodeBackend{path: path, model: cfg.Model}
}

func (b *ClaudeCodeBackend) Name() string    { return BackendClaudeCode }
func (b *ClaudeCodeBackend) Available() bool { return lookPath(b.path) }

func (b *ClaudeCodeBackend) buildArgs(req *RunRequest) []string {
	args := []string{"-p", req.Prompt(), "--dangerously-skip-permissions", "--output-format", "json"}
	if b.model != "" {
		args = append(args, "--model", b.model)
	}
	return args
}

// claudeOutput is the JSON structure emitted by claude --output-format json.
type claudeOutput struct {
	Result    string `json:"result"`
	SessionID string `json:"session_id"`
	IsError   bool   `json:"is_error"`
}

func (b *ClaudeCodeBackend) parseResult(raw string, exitCode int) *RunResult {
	var out claudeOutput
	if err := sonic.UnmarshalString(raw, &out); err != nil || out.Result == "" {
		return &RunResult{Output: strings.TrimSpace(raw), ExitCode: exitCode}
	}
	if out.IsError && exitCode == 0 {
		exitCode = 1
	}
	return &RunResult{SessionID: out.SessionID, Output: out.Result, ExitCode: exitCode}
}

func (b *ClaudeCodeBackend) Run(ctx context.Context, req *RunRequest) (*RunResult, error) {
	raw, exitCode, err := runCLI(ctx, b.path, b.buildArgs(req), req.WorkingDir)
	if err != nil {
		return nil, err
	}
	return b.parseResult(raw, exitCode), nil
}

// CodexBackend wraps the codex CLI in non-interactive mode.
type CodexBackend struct {
	path  string
	model string
}

var _ Backend = (*CodexBackend)(nil)

func NewCodexBackend(cfg config.AgentConfig) *CodexBackend {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "codex"
	}
	return &CodexBackend{path: path, model: cfg.Model}
}

func (b *CodexBackend) Name() string    { return BackendCodex }
func (b *CodexBackend) Available() bool { return lookPath(b.path) }

func (b *CodexBackend) buildArgs(req *RunRequest) []string {
	args := []string{"exec", req.Prompt(), "--json", "--dangerously-bypass-approvals-and-sandbox"}
	if b.model != "" {
		args = append(args, "--model", b.model)
	}
	return args
}

// codexEvent is a single JSONL event emitted by the codex CLI.
type codexEvent struct {
	Type     string     `json:"type"`
	ThreadID string     `json:"thread_id,omitempty"`
	Item     *codexItem `json:"item,omitempty"`
}

type codexItem struct {
	Type    string         `json:"type"`
	Role    string         `json:"role"`
	Text    string         `json:"text"`
	Content []codexContent `json:"content"`
}

type codexContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func (b *CodexBackend) parseJSONL(raw string, exitCode int) *RunResult {
	result := &RunResult{ExitCode: exitCode}

	var last string
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var ev codexEvent
		if err := sonic.UnmarshalString(line, &ev); err != nil {
			continue
		}
		if ev.ThreadID != "" {
			result.SessionID = ev.ThreadID
		}
		if ev.Item == nil {
			continue
		}
		if ev.Item.Type == "agent_message" && ev.Item.Text != "" {
			last = ev.Item.Text
		}
		if ev.Item.Role == "assistant" {
			for _, c := range ev.Item.Content {
				if c.Type == "text" && c.Text != "" {
					last = c.Text
				}
			}
		}
	}

	if last != "" {
		result.Output = last
	} else {
		result.Output = strings.TrimSpace(raw)
	}
	return result
}

func (b *CodexBackend) Run(ctx context.Context, req *RunRequest) (*RunResult, error) {
	raw, exitCode, err := runCLI(ctx, b.path, b.buildArgs(req), req.WorkingDir)
	if err != nil {
		return nil, err
	}
	return b.parseJSONL(raw, exitCode), nil
}
