package agentx

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"

	"github.com/tgifai/taskd/internal/config"
	"github.com/tgifai/taskd/internal/cronjob"
)

func agentRequest(name, taskText string) cronjob.AgentRequest {
	return cronjob.AgentRequest{
		Envelope:  cronjob.Envelope{TaskID: "t1", Attempt: 1, Timeout: 5 * time.Second},
		AgentName: name,
		Task:      taskText,
		Context:   map[string]string{"repo": "taskd", "branch": "main"},
	}
}

// fakeCLI writes an executable shell script that prints out.
func fakeCLI(t *testing.T, out string, exitCode int) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake CLI is a shell script")
	}
	path := filepath.Join(t.TempDir(), "agent-cli")
	script := "#!/bin/sh\ncat <<'JSON'\n" + out + "\nJSON\nexit " + strconv.Itoa(exitCode) + "\n"
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake cli: %v", err)
	}
	return path
}

func TestPromptIncludesSortedContext(t *testing.T) {
	req := &RunRequest{Task: "triage failures", Context: map[string]string{"b": "2", "a": "1"}}
	want := "triage failures\n\nContext:\n- a: 1\n- b: 2"
	if got := req.Prompt(); got != want {
		t.Fatalf("Prompt() = %q, want %q", got, want)
	}
	if got := (&RunRequest{Task: "plain"}).Prompt(); got != "plain" {
		t.Fatalf("Prompt() = %q", got)
	}
}

func TestClaudeCodeBuildArgs(t *testing.T) {
	b := NewClaudeCodeBackend(config.AgentConfig{Model: "sonnet"})
	got := b.buildArgs(&RunRequest{Task: "hello"})
	want := []string{"-p", "hello", "--dangerously-skip-permissions", "--output-format", "json", "--model", "sonnet"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("buildArgs() = %v, want %v", got, want)
	}
}

func TestClaudeCodeParseResult(t *testing.T) {
	b := NewClaudeCodeBackend(config.AgentConfig{})
	res := b.parseResult(`{"result":"all green","session_id":"s-1"}`, 0)
	if res.Output != "all green" || res.SessionID != "s-1" {
		t.Fatalf("parseResult = %+v", res)
	}
	res = b.parseResult("not json", 2)
	if res.Output != "not json" || res.ExitCode != 2 {
		t.Fatalf("fallback = %+v", res)
	}
	if res = b.parseResult(`{"result":"quota","is_error":true}`, 0); res.ExitCode == 0 {
		t.Fatalf("is_error not surfaced: %+v", res)
	}
}

func TestCodexParseJSONL(t *testing.T) {
	raw := strings.Join([]string{
		`{"type":"thread.started","thread_id":"th-9"}`,
		`{"type":"item.completed","item":{"type":"agent_message","text":"first"}}`,
		`garbage`,
		`{"type":"item.completed","item":{"type":"message","role":"assistant","content":[{"type":"text","text":"final"}]}}`,
	}, "\n")
	res := NewCodexBackend(config.AgentConfig{}).parseJSONL(raw, 0)
	if res.Output != "final" || res.SessionID != "th-9" {
		t.Fatalf("parseJSONL = %+v", res)
	}
}

func TestHandleClaudeCodeCLI(t *testing.T) {
	path := fakeCLI(t, `{"result":"report drafted","session_id":"abc"}`, 0)
	h := New(map[string]config.AgentConfig{
		"writer": {Backend: BackendClaudeCode, Path: path},
	}, t.TempDir())

	out, err := h.Handle(context.Background(), agentRequest("writer", "draft the report"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out != "report drafted" {
		t.Fatalf("result = %q", out)
	}
}

func TestHandleCLIFailure(t *testing.T) {
	path := fakeCLI(t, `{"result":"could not finish","session_id":"abc"}`, 3)
	h := New(map[string]config.AgentConfig{
		"writer": {Backend: BackendClaudeCode, Path: path},
	}, "")

	_, err := h.Handle(context.Background(), agentRequest("writer", "draft"))
	if err == nil || !strings.Contains(err.Error(), "could not finish") {
		t.Fatalf("expected failure with output, got %v", err)
	}
}

func TestHandleHTTPBackend(t *testing.T) {
	var got httpAgentRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer k" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"output":"triaged 3 issues"}`))
	}))
	defer srv.Close()

	h := New(map[string]config.AgentConfig{
		"ops": {Backend: BackendHTTP, Endpoint: srv.URL, Headers: map[string]string{"Authorization": "Bearer k"}},
	}, "")
	out, err := h.Handle(context.Background(), agentRequest("ops", "triage"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out != "triaged 3 issues" {
		t.Fatalf("result = %q", out)
	}
	if got.Task != "triage" || got.Context["repo"] != "taskd" || got.Attempt != 1 {
		t.Fatalf("payload = %+v", got)
	}
}

func TestHandleHTTPBackendNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	h := New(map[string]config.AgentConfig{"ops": {Backend: BackendHTTP, Endpoint: srv.URL}}, "")
	if _, err := h.Handle(context.Background(), agentRequest("ops", "triage")); err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected 503 failure, got %v", err)
	}
}

func TestHandleUnknownAgent(t *testing.T) {
	h := New(map[string]config.AgentConfig{"ops": {Backend: BackendHTTP, Endpoint: "http://x"}}, "")
	_, err := h.Handle(context.Background(), agentRequest("nobody", "x"))
	if err == nil || !strings.Contains(err.Error(), "unknown agent") {
		t.Fatalf("expected unknown agent error, got %v", err)
	}
	if got := h.Agents(); !reflect.DeepEqual(got, []string{"ops"}) {
		t.Fatalf("Agents() = %v", got)
	}
}
