package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type Command struct {
	Display  string
	Program  string
	Args     []string
	UseShell bool
}

type ExecRequest struct {
	WorkingDir string
	Timeout    time.Duration
	Command    Command
	Stdin      string
	// MaxOutput caps each of stdout and stderr. Zero uses the executor default.
	MaxOutput int
}

type ExecResult struct {
	Stdout    []byte
	Stderr    []byte
	ExitCode  int
	TimedOut  bool
	Truncated bool
}

// Summary renders the result for an execution record: stdout, then stderr
// when present, then the exit code of a failed run.
func (r *ExecResult) Summary() string {
	var sb strings.Builder
	sb.WriteString(strings.TrimRight(string(r.Stdout), "\n"))
	if stderr := strings.TrimRight(string(r.Stderr), "\n"); stderr != "" {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("[stderr] ")
		sb.WriteString(stderr)
	}
	if r.Truncated {
		sb.WriteString("\n[output truncated]")
	}
	if r.ExitCode != 0 {
		fmt.Fprintf(&sb, "\n[exit code %d]", r.ExitCode)
	}
	return strings.TrimLeft(sb.String(), "\n")
}

type Executor interface {
	Execute(ctx context.Context, req *ExecRequest) (*ExecResult, error)
}
