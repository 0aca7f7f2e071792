package scriptx

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/tgifai/taskd/internal/cronjob"
	"github.com/tgifai/taskd/internal/security/sandbox"
)

type recordingExecutor struct {
	got *sandbox.ExecRequest
	res *sandbox.ExecResult
}

func (e *recordingExecutor) Execute(_ context.Context, req *sandbox.ExecRequest) (*sandbox.ExecResult, error) {
	e.got = req
	return e.res, nil
}

func script(target, language string, args ...string) cronjob.ScriptRequest {
	return cronjob.ScriptRequest{
		Envelope: cronjob.Envelope{TaskID: "t1", Timeout: 5 * time.Second},
		Target:   target,
		Language: language,
		Args:     args,
	}
}

func TestInterpreterFor(t *testing.T) {
	tests := []struct {
		language, target, want string
		wantErr                bool
	}{
		{"python", "x", "python3", false},
		{"", "report.py", "python3", false},
		{"", "build.sh", "sh", false},
		{"JavaScript", "x", "node", false},
		{"", "run", "", false},
		{"cobol", "x", "", true},
	}
	for _, tt := range tests {
		got, err := interpreterFor(tt.language, tt.target)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Fatalf("interpreterFor(%q, %q) = %q, %v", tt.language, tt.target, got, err)
		}
	}
}

func TestHandleBuildsInterpreterCommand(t *testing.T) {
	exec := &recordingExecutor{res: &sandbox.ExecResult{Stdout: []byte("done\n")}}
	h := New("/srv/jobs", exec)

	req := script("report.py", "", "--day", "today")
	req.WorkingDir = "reports"
	req.Stdin = "input"
	out, err := h.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out != "done" {
		t.Fatalf("result = %q", out)
	}
	got := exec.got
	if got.Command.Program != "python3" || strings.Join(got.Command.Args, " ") != "report.py --day today" {
		t.Fatalf("command = %+v", got.Command)
	}
	if got.WorkingDir != filepath.Join("/srv/jobs", "reports") || got.Stdin != "input" || got.Timeout != 5*time.Second {
		t.Fatalf("request = %+v", got)
	}
}

func TestHandleCommandUsesShell(t *testing.T) {
	exec := &recordingExecutor{res: &sandbox.ExecResult{}}
	h := New("", exec)
	req := cronjob.ScriptRequest{Command: "make", Args: []string{"backup"}}
	if _, err := h.Handle(context.Background(), req); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !exec.got.Command.UseShell || exec.got.Command.Display != "make backup" {
		t.Fatalf("command = %+v", exec.got.Command)
	}
}

func TestHandleNonZeroExitFails(t *testing.T) {
	exec := &recordingExecutor{res: &sandbox.ExecResult{Stderr: []byte("Traceback"), ExitCode: 1}}
	h := New("", exec)
	_, err := h.Handle(context.Background(), script("job.py", ""))
	if err == nil || !strings.Contains(err.Error(), "Traceback") {
		t.Fatalf("expected failure with stderr, got %v", err)
	}
}

func TestHandleLocalScript(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script test is unix-focused")
	}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "greet.sh"), []byte("read name\necho \"hello $name $1\"\n"), 0o644); err != nil {
		t.Fatalf("write script: %v", err)
	}
	h := New(dir, sandbox.NewLocalExecutor(dir, "", 0))

	req := script("greet.sh", "", "again")
	req.Stdin = "taskd\n"
	out, err := h.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out != "hello taskd again" {
		t.Fatalf("result = %q", out)
	}

	if _, err := h.Handle(context.Background(), script("missing.sh", "")); err == nil {
		t.Fatalf("expected missing target error")
	}
}
