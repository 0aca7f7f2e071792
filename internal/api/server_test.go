package api

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/tgifai/taskd/internal/config"
	"github.com/tgifai/taskd/internal/cronjob"
	"github.com/tgifai/taskd/internal/store"
	"github.com/tgifai/taskd/internal/task"
)

func newTestServer(t *testing.T, apiKey string) (*Server, *cronjob.Engine) {
	t.Helper()
	st, err := store.OpenFile(filepath.Join(t.TempDir(), "tasks.json"))
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	bus := cronjob.NewBus()
	_ = bus.Subscribe(task.TypeCommand, cronjob.HandlerFunc(func(context.Context, cronjob.Request) (string, error) {
		return "ok", nil
	}))
	e := cronjob.New(config.SchedulerConfig{
		Timezone:         "UTC",
		AutosaveInterval: time.Hour,
		HistorySize:      100,
		DependencyWindow: time.Hour,
		DefaultTimeout:   5 * time.Second,
		ShutdownGrace:    2 * time.Second,
	}, st, bus)
	if err := e.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = e.Shutdown(context.Background()) })

	return NewServer(config.ServerConfig{Bind: "127.0.0.1:0", APIKey: apiKey}, e), e
}

func perform(s *Server, method, path, body string, headers ...ut.Header) *ut.ResponseRecorder {
	var b *ut.Body
	if body != "" {
		b = &ut.Body{Body: bytes.NewBufferString(body), Len: len(body)}
		headers = append(headers, ut.Header{Key: "Content-Type", Value: "application/json"})
	}
	return ut.PerformRequest(s.hz.Engine, method, path, b, headers...)
}

func decodeBody(t *testing.T, w *ut.ResponseRecorder, v any) {
	t.Helper()
	if err := sonic.Unmarshal(w.Result().Body(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Result().Body(), err)
	}
}

const nightly = `{"name":"nightly","type":"command","cronExpression":"0 2 * * *","metadata":{"command":"echo hi"}}`

func TestTaskLifecycleRoutes(t *testing.T) {
	s, _ := newTestServer(t, "")

	w := perform(s, consts.MethodPost, "/api/v1/tasks", nightly)
	if w.Code != consts.StatusCreated {
		t.Fatalf("create status = %d body=%s", w.Code, w.Result().Body())
	}
	var created task.ScheduledTask
	decodeBody(t, w, &created)
	if created.ID == "" || created.NextRun == nil || !created.Enabled {
		t.Fatalf("created = %+v", created)
	}
	path := "/api/v1/tasks/" + created.ID

	w = perform(s, consts.MethodGet, "/api/v1/tasks?type=command&enabled=true", "")
	var list listResponse
	decodeBody(t, w, &list)
	if list.Total != 1 || list.Tasks[0].ID != created.ID {
		t.Fatalf("list = %+v", list)
	}

	w = perform(s, consts.MethodPost, path+"/pause", "")
	var paused task.ScheduledTask
	decodeBody(t, w, &paused)
	if w.Code != consts.StatusOK || paused.Enabled || paused.NextRun != nil {
		t.Fatalf("pause: %d %+v", w.Code, paused)
	}

	w = perform(s, consts.MethodPost, path+"/resume", "")
	if w.Code != consts.StatusOK {
		t.Fatalf("resume status = %d", w.Code)
	}

	w = perform(s, consts.MethodPatch, path, `{"name":"nightly-report"}`)
	var updated task.ScheduledTask
	decodeBody(t, w, &updated)
	if updated.Name != "nightly-report" {
		t.Fatalf("update = %+v", updated)
	}

	if w = perform(s, consts.MethodPost, path+"/run", ""); w.Code != consts.StatusAccepted {
		t.Fatalf("run status = %d", w.Code)
	}

	if w = perform(s, consts.MethodDelete, path, ""); w.Code != consts.StatusOK {
		t.Fatalf("cancel status = %d", w.Code)
	}
	if w = perform(s, consts.MethodGet, path, ""); w.Code != consts.StatusNotFound {
		t.Fatalf("get after cancel status = %d", w.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	s, _ := newTestServer(t, "")

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"missing name", consts.MethodPost, "/api/v1/tasks", `{"type":"command","cronExpression":"* * * * *"}`, consts.StatusBadRequest},
		{"unknown type", consts.MethodPost, "/api/v1/tasks", `{"name":"x","type":"email","cronExpression":"* * * * *"}`, consts.StatusBadRequest},
		{"bad cron", consts.MethodPost, "/api/v1/tasks", `{"name":"x","type":"command","cronExpression":"61 * * * *","metadata":{"command":"ls"}}`, consts.StatusBadRequest},
		{"broken json", consts.MethodPost, "/api/v1/tasks", `{"name":`, consts.StatusBadRequest},
		{"unknown task", consts.MethodGet, "/api/v1/tasks/nope", "", consts.StatusNotFound},
		{"pause unknown", consts.MethodPost, "/api/v1/tasks/nope/pause", "", consts.StatusNotFound},
		{"bad timezone", consts.MethodPut, "/api/v1/timezone", `{"timezone":"Mars/Olympus"}`, consts.StatusBadRequest},
		{"bad enabled", consts.MethodGet, "/api/v1/tasks?enabled=maybe", "", consts.StatusBadRequest},
		{"bad limit", consts.MethodGet, "/api/v1/history?limit=-3", "", consts.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := perform(s, tt.method, tt.path, tt.body)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (body %s)", w.Code, tt.want, w.Result().Body())
			}
			var eb errorBody
			decodeBody(t, w, &eb)
			if eb.Error == "" {
				t.Fatal("error body is empty")
			}
		})
	}
}

func TestValidateCronRoute(t *testing.T) {
	s, _ := newTestServer(t, "")

	w := perform(s, consts.MethodPost, "/api/v1/cron/validate", `{"expression":"0 9 * * 1-5","count":3,"timezone":"Europe/Berlin"}`)
	var v task.CronValidation
	decodeBody(t, w, &v)
	if !v.Valid || len(v.NextRuns) != 3 || v.Timezone != "Europe/Berlin" {
		t.Fatalf("validation = %+v", v)
	}

	w = perform(s, consts.MethodPost, "/api/v1/cron/validate", `{"expression":"every day"}`)
	decodeBody(t, w, &v)
	if w.Code != consts.StatusOK || v.Valid || v.Error == "" {
		t.Fatalf("invalid expression: %d %+v", w.Code, v)
	}
}

func TestExportImportRoutes(t *testing.T) {
	s, e := newTestServer(t, "")
	if w := perform(s, consts.MethodPost, "/api/v1/tasks", nightly); w.Code != consts.StatusCreated {
		t.Fatalf("create status = %d", w.Code)
	}

	w := perform(s, consts.MethodGet, "/api/v1/export", "")
	raw := string(w.Result().Body())
	if w.Code != consts.StatusOK || !strings.Contains(raw, `"version":1`) {
		t.Fatalf("export: %d %s", w.Code, raw)
	}

	w = perform(s, consts.MethodPost, "/api/v1/import?merge=true", raw)
	var report cronjob.ImportReport
	decodeBody(t, w, &report)
	if report.Imported != 1 || len(report.Remapped) != 1 {
		t.Fatalf("merge import report = %+v", report)
	}
	if n := len(e.List(context.Background(), cronjob.ListFilter{})); n != 2 {
		t.Fatalf("tasks after merge = %d, want 2", n)
	}

	w = perform(s, consts.MethodPost, "/api/v1/import?merge=false", raw)
	decodeBody(t, w, &report)
	if n := len(e.List(context.Background(), cronjob.ListFilter{})); report.Imported != 1 || n != 1 {
		t.Fatalf("replace import: report=%+v tasks=%d", report, n)
	}

	hook := `{"version":1,"tasks":[{"id":"hook","name":"hook","type":"webhook","enabled":true,` +
		`"metadata":{"url":"https://example.com/x","body":{"event":"nightly"}}}]}`
	w = perform(s, consts.MethodPost, "/api/v1/import?merge=true", hook)
	report = cronjob.ImportReport{}
	decodeBody(t, w, &report)
	if w.Code != consts.StatusOK || report.Imported != 1 {
		t.Fatalf("object body import: %d %+v", w.Code, report)
	}
	got, err := e.Get(context.Background(), "hook")
	if err != nil || got.Metadata.Body != `{"event":"nightly"}` {
		t.Fatalf("imported hook = %+v, %v", got, err)
	}
}

func TestStatsHistoryTimezone(t *testing.T) {
	s, _ := newTestServer(t, "")

	w := perform(s, consts.MethodPut, "/api/v1/timezone", `{"timezone":"Asia/Tokyo"}`)
	var tz timezoneResponse
	decodeBody(t, w, &tz)
	if tz.Timezone != "Asia/Tokyo" {
		t.Fatalf("timezone = %+v", tz)
	}

	w = perform(s, consts.MethodGet, "/api/v1/stats", "")
	var st cronjob.Stats
	decodeBody(t, w, &st)
	if st.Timezone != "Asia/Tokyo" || st.Backend != store.BackendFile {
		t.Fatalf("stats = %+v", st)
	}

	w = perform(s, consts.MethodGet, "/api/v1/history?limit=5", "")
	if w.Code != consts.StatusOK || !strings.Contains(string(w.Result().Body()), `"results":[]`) {
		t.Fatalf("history: %d %s", w.Code, w.Result().Body())
	}
}

func TestBearerAuth(t *testing.T) {
	s, _ := newTestServer(t, "s3cret")

	if w := perform(s, consts.MethodGet, "/api/v1/stats", ""); w.Code != consts.StatusUnauthorized {
		t.Fatalf("no token status = %d", w.Code)
	}
	if w := perform(s, consts.MethodGet, "/api/v1/stats", "", ut.Header{Key: "Authorization", Value: "Bearer wrong"}); w.Code != consts.StatusUnauthorized {
		t.Fatalf("wrong token status = %d", w.Code)
	}
	if w := perform(s, consts.MethodGet, "/api/v1/stats", "", ut.Header{Key: "Authorization", Value: "Bearer s3cret"}); w.Code != consts.StatusOK {
		t.Fatalf("good token status = %d", w.Code)
	}
	if w := perform(s, consts.MethodGet, "/health", ""); w.Code != consts.StatusOK {
		t.Fatalf("health should stay open, status = %d", w.Code)
	}
	w := perform(s, consts.MethodGet, "/metrics", "")
	if w.Code != consts.StatusOK || !strings.Contains(string(w.Result().Body()), "go_goroutines") {
		t.Fatalf("metrics: %d", w.Code)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	s, _ := newTestServer(t, "")
	w := perform(s, consts.MethodGet, "/health", "", ut.Header{Key: requestIDHeader, Value: "req-42"})
	if got := w.Header().Get(requestIDHeader); got != "req-42" {
		t.Fatalf("request id = %q", got)
	}
	w = perform(s, consts.MethodGet, "/health", "")
	if w.Header().Get(requestIDHeader) == "" {
		t.Fatal("request id not generated")
	}
}
