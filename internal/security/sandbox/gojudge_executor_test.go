package sandbox

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"github.com/tgifai/taskd/internal/config"
)

func TestGoJudgeExecutorExecuteSuccess(t *testing.T) {
	workspace := t.TempDir()
	if err := os.MkdirAll(filepath.Join(workspace, "sub"), 0o755); err != nil {
		t.Fatalf("mkdir subdir: %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/run" {
			http.Error(w, "unexpected path", http.StatusNotFound)
			return
		}

		var payload map[string]interface{}
		if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		cmds, _ := payload["cmd"].([]interface{})
		if len(cmds) != 1 {
			http.Error(w, "missing cmd", http.StatusBadRequest)
			return
		}
		cmd, _ := cmds[0].(map[string]interface{})
		cwd, _ := cmd["cwd"].(string)
		files, _ := cmd["files"].([]interface{})
		if len(files) != 3 {
			http.Error(w, "missing files", http.StatusBadRequest)
			return
		}
		if stdin, _ := files[0].(map[string]interface{}); stdin["content"] != "input" {
			http.Error(w, "missing stdin", http.StatusBadRequest)
			return
		}
		if cwd != "/w/sub" {
			http.Error(w, "unexpected cwd: "+cwd, http.StatusBadRequest)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"results":[{"status":"Accepted","exitStatus":0,"files":{"stdout":"ok\n","stderr":""}}]}`))
	}))
	defer srv.Close()

	exec := NewGoJudgeExecutor(config.SandboxConfig{
		Backbone:  "go-judge",
		Endpoint:  srv.URL,
		Workdir:   workspace,
		MaxOutput: 1024,
	})

	res, err := exec.Execute(context.Background(), &ExecRequest{
		WorkingDir: filepath.Join(workspace, "sub"),
		Stdin:      "input",
		Timeout:    4 * time.Second,
		Command: Command{
			Display:  "echo hello",
			UseShell: true,
		},
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("expected exit code 0, got %d", res.ExitCode)
	}
	if string(res.Stdout) != "ok\n" {
		t.Fatalf("unexpected stdout: %q", string(res.Stdout))
	}
}

func TestGoJudgeExecutorTimeoutStatus(t *testing.T) {
	workspace := t.TempDir()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"status":"Time Limit Exceeded","exitStatus":0,"files":{"stdout":"","stderr":"timeout"}}]`))
	}))
	defer srv.Close()

	exec := NewGoJudgeExecutor(config.SandboxConfig{
		Backbone:  "go-judge",
		Endpoint:  srv.URL,
		Workdir:   workspace,
		MaxOutput: 1024,
	})

	res, err := exec.Execute(context.Background(), &ExecRequest{
		WorkingDir: workspace,
		Timeout:    2 * time.Second,
		Command: Command{
			Display:  "sleep 3",
			UseShell: true,
		},
	})
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if !res.TimedOut {
		t.Fatalf("expected timeout=true")
	}
	if res.ExitCode != -1 {
		t.Fatalf("expected timeout exit code -1, got %d", res.ExitCode)
	}
	if !strings.Contains(string(res.Stderr), "timeout") {
		t.Fatalf("unexpected stderr: %q", string(res.Stderr))
	}
}

func TestGoJudgeExecutorRejectsOutsideWorkspaceWorkingDir(t *testing.T) {
	workspace := t.TempDir()
	exec := NewGoJudgeExecutor(config.SandboxConfig{
		Backbone:  "go-judge",
		Endpoint:  "http://127.0.0.1:5050",
		Workdir:   workspace,
		MaxOutput: 1024,
	})

	_, err := exec.Execute(context.Background(), &ExecRequest{
		WorkingDir: "/tmp",
		Timeout:    time.Second,
		Command: Command{
			Display:  "echo test",
			UseShell: true,
		},
	})
	if err == nil {
		t.Fatalf("expected error for outside workspace working_dir")
	}
	if !strings.Contains(err.Error(), "within workspace") {
		t.Fatalf("unexpected error: %v", err)
	}
}
