package task

import (
	"errors"
	"testing"
	"time"

	"github.com/bytedance/sonic"
)

func TestParseCron(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 0 * * *", false},
		{"*/5 * * * *", false},
		{"0 9 * * 1-5", false},
		{"", true},
		{"* * * *", true},
		{"0 0 0 * * *", true},
		{"61 * * * *", true},
		{"TZ=UTC 0 0 * * *", true},
		{"@daily", true},
	}
	for _, tt := range tests {
		_, err := ParseCron(tt.expr)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseCron(%q) err = %v, wantErr %v", tt.expr, err, tt.wantErr)
		}
		if err != nil && !errors.Is(err, ErrInvalidSchedule) {
			t.Errorf("ParseCron(%q) err must wrap ErrInvalidSchedule: %v", tt.expr, err)
		}
	}
}

func TestNextRunUsesLocation(t *testing.T) {
	loc, err := LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Fatalf("LoadLocation: %v", err)
	}
	from := time.Date(2026, 3, 1, 14, 30, 0, 0, time.UTC) // 23:30 in Tokyo
	next, err := NextRun("0 0 * * *", loc, from)
	if err != nil {
		t.Fatalf("NextRun: %v", err)
	}
	want := time.Date(2026, 3, 2, 0, 0, 0, 0, loc)
	if !next.Equal(want) {
		t.Fatalf("NextRun = %v, want %v", next, want)
	}
}

func TestNextRunStrictlyAfter(t *testing.T) {
	from := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	next, err := NextRun("0 10 * * *", time.UTC, from)
	if err != nil {
		t.Fatalf("NextRun: %v", err)
	}
	if !next.After(from) {
		t.Fatalf("next run %v must be strictly after %v", next, from)
	}
}

func TestLoadLocationInvalid(t *testing.T) {
	for _, tz := range []string{"", "Not/AZone"} {
		if _, err := LoadLocation(tz); !errors.Is(err, ErrInvalidTimezone) {
			t.Errorf("LoadLocation(%q) err = %v, want ErrInvalidTimezone", tz, err)
		}
	}
}

func TestValidateCronListsNextRuns(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	res := ValidateCron("0 * * * *", time.UTC, from, 3)
	if !res.Valid {
		t.Fatalf("expected valid, got error %s", res.Error)
	}
	if len(res.NextRuns) != 3 {
		t.Fatalf("expected 3 next runs, got %d", len(res.NextRuns))
	}
	for i, got := range res.NextRuns {
		want := from.Add(time.Duration(i+1) * time.Hour)
		if !got.Equal(want) {
			t.Errorf("next[%d] = %v, want %v", i, got, want)
		}
	}

	bad := ValidateCron("nope", time.UTC, from, 3)
	if bad.Valid || bad.Error == "" {
		t.Fatalf("expected invalid result, got %+v", bad)
	}
}

func TestRetryDelay(t *testing.T) {
	rc := &RetryConfig{MaxRetries: 3, BackoffMultiplier: 2, InitialDelay: 1000}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for i, w := range want {
		rc.RetryCount = i
		if got := rc.RetryDelay(); got != w {
			t.Errorf("RetryDelay(count=%d) = %v, want %v", i, got, w)
		}
	}
	rc.RetryCount = 3
	if rc.CanRetry() {
		t.Error("CanRetry must be false once retryCount reaches maxRetries")
	}
}

func TestNormalizeAndValidate(t *testing.T) {
	tk := &ScheduledTask{
		ID:             "a",
		Name:           "  nightly ",
		Type:           TypeCommand,
		CronExpression: "0  0 * *   *",
		RetryConfig:    &RetryConfig{MaxRetries: 2},
		Dependencies:   &Dependencies{TaskIDs: []string{"b", " b ", ""}},
	}
	tk.Normalize()
	if err := tk.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if tk.Name != "nightly" || tk.CronExpression != "0 0 * * *" {
		t.Fatalf("unexpected normalization: %+v", tk)
	}
	if tk.RetryConfig.BackoffMultiplier != 2 || tk.RetryConfig.InitialDelay != 1000 {
		t.Fatalf("retry defaults not applied: %+v", tk.RetryConfig)
	}
	if tk.Dependencies.Mode != ModeAll || tk.Dependencies.OnFailure != OnFailureSkip {
		t.Fatalf("dependency defaults not applied: %+v", tk.Dependencies)
	}
	if len(tk.Dependencies.TaskIDs) != 1 {
		t.Fatalf("dependency ids not deduplicated: %v", tk.Dependencies.TaskIDs)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name string
		task ScheduledTask
		want error
	}{
		{"no name", ScheduledTask{Type: TypeCommand}, ErrInvalidTask},
		{"bad type", ScheduledTask{Name: "x", Type: "email"}, ErrInvalidTask},
		{"bad cron", ScheduledTask{Name: "x", Type: TypeCommand, CronExpression: "every day"}, ErrInvalidSchedule},
		{"self dependency", ScheduledTask{ID: "a", Name: "x", Type: TypeCommand,
			Dependencies: &Dependencies{TaskIDs: []string{"a"}, Mode: ModeAny, OnFailure: OnFailureRun}}, ErrInvalidTask},
		{"bad mode", ScheduledTask{Name: "x", Type: TypeCommand,
			Dependencies: &Dependencies{TaskIDs: []string{"b"}, Mode: "some", OnFailure: OnFailureRun}}, ErrInvalidTask},
		{"negative retries", ScheduledTask{Name: "x", Type: TypeCommand,
			RetryConfig: &RetryConfig{MaxRetries: -1}}, ErrInvalidTask},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.task.Validate(); !errors.Is(err, tt.want) {
				t.Fatalf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Now()
	orig := &ScheduledTask{
		ID:           "a",
		LastRun:      &now,
		Metadata:     Metadata{Headers: map[string]string{"k": "v"}},
		Dependencies: &Dependencies{TaskIDs: []string{"b"}},
		RetryConfig:  &RetryConfig{MaxRetries: 1},
	}
	cp := orig.Clone()
	cp.Metadata.Headers["k"] = "changed"
	cp.Dependencies.TaskIDs[0] = "c"
	cp.RetryConfig.RetryCount = 1
	*cp.LastRun = now.Add(time.Hour)

	if orig.Metadata.Headers["k"] != "v" || orig.Dependencies.TaskIDs[0] != "b" ||
		orig.RetryConfig.RetryCount != 0 || !orig.LastRun.Equal(now) {
		t.Fatal("Clone shares state with the original")
	}
}

func TestMetadataBodyAcceptsJSONValues(t *testing.T) {
	tests := []struct {
		raw  string
		want Body
	}{
		{`{"body":"plain text"}`, "plain text"},
		{`{"body":{"event": "deploy", "ok": true}}`, `{"event":"deploy","ok":true}`},
		{`{"body":[1, 2]}`, `[1,2]`},
		{`{"body":null}`, ""},
		{`{}`, ""},
	}
	for _, tt := range tests {
		var m Metadata
		if err := sonic.Unmarshal([]byte(tt.raw), &m); err != nil {
			t.Fatalf("Unmarshal(%s): %v", tt.raw, err)
		}
		if m.Body != tt.want {
			t.Errorf("Unmarshal(%s) body = %q, want %q", tt.raw, m.Body, tt.want)
		}
	}

	// a string body stays a string on the way out
	out, err := sonic.Marshal(Metadata{Body: `{"a":1}`})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if string(out) != `{"body":"{\"a\":1}"}` {
		t.Fatalf("Marshal = %s", out)
	}
}
