package logs

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
)

func TestLineFormatterIncludesTaskID(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	l := newLogrusLogger(log, "file", "text", logrus.DebugLevel)

	ctx := WithTask(context.Background(), "task-123")
	l.CtxInfo(ctx, "[cronjob] fired %s", "nightly")

	out := buf.String()
	if !strings.Contains(out, "task=task-123") {
		t.Fatalf("expected task id in output, got %q", out)
	}
	if !strings.Contains(out, "[cronjob] fired nightly") {
		t.Fatalf("expected message in output, got %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("file output must not be colorized: %q", out)
	}
}

func TestJSONFormatterCarriesContextFields(t *testing.T) {
	var buf bytes.Buffer
	log := logrus.New()
	log.SetOutput(&buf)
	l := newLogrusLogger(log, "stdout", "json", logrus.InfoLevel)

	ctx := SetLogID(context.Background(), "log-1")
	ctx = WithTask(ctx, "t-1")
	l.CtxWarn(ctx, "retrying")

	out := buf.String()
	for _, want := range []string{`"log_id":"log-1"`, `"task_id":"t-1"`, `"msg":"retrying"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %s in %q", want, out)
		}
	}
}

func TestSetLevelRoundTrip(t *testing.T) {
	l := newLogrusLogger(logrus.New(), "stdout", "text", logrus.InfoLevel)
	for _, lv := range []LogLevel{DebugLevel, WarnLevel, ErrorLevel, InfoLevel} {
		l.SetLevel(lv)
		if got := l.GetLevel(); got != lv {
			t.Fatalf("GetLevel() = %v, want %v", got, lv)
		}
	}
}

func TestWithTaskAssignsLogID(t *testing.T) {
	ctx := WithTask(context.Background(), "abc")
	if GetLogID(ctx) == "" {
		t.Fatal("expected a generated log id")
	}
	if GetTaskID(ctx) != "abc" {
		t.Fatalf("GetTaskID() = %q", GetTaskID(ctx))
	}
}
