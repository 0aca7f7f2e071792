package sandbox

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestLocalExecutorExitCodeAndStderr(t *testing.T) {
	exec := NewLocalExecutor(t.TempDir(), "", 0)
	res, err := exec.Execute(context.Background(), &ExecRequest{
		Timeout: 2 * time.Second,
		Command: Command{Display: "echo out; echo err >&2; exit 3", UseShell: true},
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if res.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", res.ExitCode)
	}
	summary := res.Summary()
	for _, want := range []string{"out", "[stderr] err", "[exit code 3]"} {
		if !strings.Contains(summary, want) {
			t.Fatalf("summary %q missing %q", summary, want)
		}
	}
}

func TestLocalExecutorStdinAndProgram(t *testing.T) {
	exec := NewLocalExecutor("", "", 0)
	res, err := exec.Execute(context.Background(), &ExecRequest{
		Timeout: 2 * time.Second,
		Command: Command{Program: "cat"},
		Stdin:   "piped input",
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if string(res.Stdout) != "piped input" {
		t.Fatalf("unexpected stdout: %q", string(res.Stdout))
	}
}

func TestLocalExecutorTimeoutKillsGroup(t *testing.T) {
	exec := NewLocalExecutor("", "", 0)
	start := time.Now()
	res, err := exec.Execute(context.Background(), &ExecRequest{
		Timeout: 200 * time.Millisecond,
		Command: Command{Display: "sleep 10 & sleep 10; wait", UseShell: true},
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if !res.TimedOut || res.ExitCode != -1 {
		t.Fatalf("expected timeout, got %+v", res)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("timeout took %v", elapsed)
	}
}

func TestLocalExecutorCapsOutput(t *testing.T) {
	exec := NewLocalExecutor("", "", 16)
	res, err := exec.Execute(context.Background(), &ExecRequest{
		Timeout: 2 * time.Second,
		Command: Command{Display: "printf '%064d' 0", UseShell: true},
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if len(res.Stdout) != 16 || !res.Truncated {
		t.Fatalf("expected 16 capped bytes, got %d (truncated=%v)", len(res.Stdout), res.Truncated)
	}
}

func TestLocalExecutorParentCancel(t *testing.T) {
	exec := NewLocalExecutor("", "", 0)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)
	_, err := exec.Execute(ctx, &ExecRequest{
		Timeout: 5 * time.Second,
		Command: Command{Display: "sleep 5", UseShell: true},
	})
	if err == nil {
		t.Fatalf("expected cancellation error")
	}
}
