package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

const defaultMaxOutput = 64 * 1024

// LocalExecutor runs commands on the host in their own process group, so a
// timeout kills the whole tree.
type LocalExecutor struct {
	workdir   string
	shell     string
	maxOutput int
}

func NewLocalExecutor(workdir, shell string, maxOutput int) *LocalExecutor {
	if strings.TrimSpace(shell) == "" {
		shell = "/bin/sh"
	}
	if maxOutput <= 0 {
		maxOutput = defaultMaxOutput
	}
	return &LocalExecutor{
		workdir:   workdir,
		shell:     shell,
		maxOutput: maxOutput,
	}
}

func (e *LocalExecutor) Execute(ctx context.Context, req *ExecRequest) (*ExecResult, error) {
	if req == nil {
		return nil, fmt.Errorf("exec request is required")
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	limit := req.MaxOutput
	if limit <= 0 {
		limit = e.maxOutput
	}

	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd, err := e.command(cmdCtx, req.Command)
	if err != nil {
		return nil, err
	}
	if req.WorkingDir != "" {
		cmd.Dir = req.WorkingDir
	} else if e.workdir != "" {
		cmd.Dir = e.workdir
	}
	if req.Stdin != "" {
		cmd.Stdin = strings.NewReader(req.Stdin)
	}
	setCommandProcessGroup(cmd)
	cmd.Cancel = func() error {
		killCommandProcessGroup(cmd)
		return nil
	}
	cmd.WaitDelay = time.Second

	stdout := &cappedBuffer{limit: limit}
	stderr := &cappedBuffer{limit: limit}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err = cmd.Run()
	res := &ExecResult{
		Stdout:    stdout.Bytes(),
		Stderr:    stderr.Bytes(),
		Truncated: stdout.truncated || stderr.truncated,
	}
	if cmdCtx.Err() != nil {
		killCommandProcessGroup(cmd)
		if errors.Is(cmdCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			res.TimedOut = true
			res.ExitCode = -1
			return res, nil
		}
		return nil, ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return nil, fmt.Errorf("command execution failed: %w", err)
	}
	return res, nil
}

func (e *LocalExecutor) command(ctx context.Context, cmd Command) (*exec.Cmd, error) {
	if cmd.UseShell {
		if strings.TrimSpace(cmd.Display) == "" {
			return nil, fmt.Errorf("command is required")
		}
		return exec.CommandContext(ctx, e.shell, "-c", cmd.Display), nil
	}
	if strings.TrimSpace(cmd.Program) == "" {
		return nil, fmt.Errorf("command program is required")
	}
	return exec.CommandContext(ctx, cmd.Program, cmd.Args...), nil
}

// cappedBuffer keeps the first limit bytes written and drops the rest.
type cappedBuffer struct {
	buf       []byte
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	room := b.limit - len(b.buf)
	if room <= 0 {
		b.truncated = b.truncated || len(p) > 0
		return len(p), nil
	}
	if len(p) > room {
		b.buf = append(b.buf, p[:room]...)
		b.truncated = true
		return len(p), nil
	}
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *cappedBuffer) Bytes() []byte { return b.buf }
