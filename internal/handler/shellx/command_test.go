package shellx

import (
	"context"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/tgifai/taskd/internal/config"
	"github.com/tgifai/taskd/internal/cronjob"
)

func newHandler(t *testing.T) *Handler {
	t.Helper()
	return New(config.CommandConfig{
		AllowPrefixes:  []string{"echo", "git status", "sleep"},
		Timeout:        5 * time.Second,
		MaxOutputBytes: 1024,
		Shell:          "/bin/sh",
	}, t.TempDir())
}

func command(cmd string) cronjob.CommandRequest {
	return cronjob.CommandRequest{
		Envelope: cronjob.Envelope{TaskID: "t1"},
		Command:  cmd,
	}
}

func TestAllowList(t *testing.T) {
	h := newHandler(t)
	tests := []struct {
		command string
		allowed bool
	}{
		{"echo hi", true},
		{"echo", true},
		{"git status --short", true},
		{"git push", false},
		{"echoes", false},
		{"rm -rf /tmp/x", false},
		{"echo hi; rm -rf /tmp/x", false},
		{"echo hi && rm x", false},
		{"echo $(whoami)", false},
		{"echo hi > /etc/passwd", false},
	}
	for _, tt := range tests {
		err := h.checkAllowed(tt.command)
		if (err == nil) != tt.allowed {
			t.Fatalf("checkAllowed(%q) = %v, want allowed=%v", tt.command, err, tt.allowed)
		}
	}
}

func TestHandleRunsAllowedCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell test is unix-focused")
	}
	h := newHandler(t)
	out, err := h.Handle(context.Background(), command("echo nightly"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out != "nightly" {
		t.Fatalf("result = %q", out)
	}
}

func TestHandleRejectsUnlisted(t *testing.T) {
	h := newHandler(t)
	if _, err := h.Handle(context.Background(), command("uname -a")); err == nil {
		t.Fatalf("expected allow-list rejection")
	}
}

func TestHandleAllowUnsafeBypassesList(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell test is unix-focused")
	}
	h := newHandler(t)
	req := command("printf a; printf b")
	req.AllowUnsafe = true
	out, err := h.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out != "ab" {
		t.Fatalf("result = %q", out)
	}
}

func TestHandleNonZeroExitFails(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell test is unix-focused")
	}
	h := newHandler(t)
	req := command("exit 4")
	req.AllowUnsafe = true
	_, err := h.Handle(context.Background(), req)
	if err == nil || !strings.Contains(err.Error(), "code 4") {
		t.Fatalf("expected exit code failure, got %v", err)
	}
}

func TestHandleTimeout(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("sleep command test is unix-focused")
	}
	h := newHandler(t)
	req := command("sleep 5")
	req.Timeout = 100 * time.Millisecond
	_, err := h.Handle(context.Background(), req)
	if err == nil || !strings.Contains(err.Error(), "command timeout") {
		t.Fatalf("expected timeout error, got %v", err)
	}
}

func TestHandleOutputCap(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell test is unix-focused")
	}
	h := newHandler(t)
	req := command("echo 0123456789abcdef0123456789abcdef")
	req.MaxOutputBytes = 8
	out, err := h.Handle(context.Background(), req)
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if !strings.HasPrefix(out, "01234567") || !strings.Contains(out, "[output truncated]") {
		t.Fatalf("result = %q", out)
	}
}
