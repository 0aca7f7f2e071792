// Package api serves the management surface of the engine over HTTP and
// provides the client the CLI uses to reach it.
package api

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	hzServer "github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/common/tracer"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	monitor "github.com/hertz-contrib/monitor-prometheus"

	"github.com/tgifai/taskd/internal/config"
	"github.com/tgifai/taskd/internal/cronjob"
	"github.com/tgifai/taskd/internal/pkg/logs"
	taskdprom "github.com/tgifai/taskd/internal/pkg/prometheus"
	"github.com/tgifai/taskd/internal/task"
)

const (
	requestIDHeader = "X-Request-ID"
	apiPrefix       = "/api/v1"
)

// Engine is the part of the scheduler the API exposes.
type Engine interface {
	Schedule(ctx context.Context, spec cronjob.TaskSpec) (*task.ScheduledTask, error)
	List(ctx context.Context, f cronjob.ListFilter) []*task.ScheduledTask
	Get(ctx context.Context, id string) (*task.ScheduledTask, error)
	Cancel(ctx context.Context, id string) error
	Pause(ctx context.Context, id string) (*task.ScheduledTask, error)
	Resume(ctx context.Context, id string) (*task.ScheduledTask, error)
	RunNow(ctx context.Context, id string) error
	Update(ctx context.Context, id string, patch cronjob.TaskPatch) (*task.ScheduledTask, error)
	Export(ctx context.Context) (*task.Document, error)
	Import(ctx context.Context, doc *task.Document, merge bool) (*cronjob.ImportReport, error)
	ValidateCron(expr string, n int) task.CronValidation
	Stats(ctx context.Context) cronjob.Stats
	History(ctx context.Context, taskID string, limit int) ([]task.ExecutionResult, error)
	Timezone() string
	SetTimezone(ctx context.Context, tz string) error
}

var _ Engine = (*cronjob.Engine)(nil)

var (
	tracerOnce   sync.Once
	serverTracer tracer.Tracer
)

// requestTracer records hertz request metrics into the shared registry. The
// tracer registers its collectors, so it is built once per process.
func requestTracer() tracer.Tracer {
	tracerOnce.Do(func() {
		serverTracer = monitor.NewServerTracer("", "",
			monitor.WithRegistry(taskdprom.GetRegistry()),
			monitor.WithDisableServer(true),
		)
	})
	return serverTracer
}

type Server struct {
	hz     *hzServer.Hertz
	engine Engine
	apiKey string
	now    func() time.Time
}

func NewServer(cfg config.ServerConfig, engine Engine) *Server {
	hlog.SetLogger(logs.NewHlogLogger(logs.DefaultLogger()))

	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hz := hzServer.Default(
		hzServer.WithHostPorts(cfg.Bind),
		hzServer.WithReadTimeout(timeout),
		hzServer.WithWriteTimeout(timeout),
		hzServer.WithExitWaitTime(5*time.Second),
		hzServer.WithTracer(requestTracer()),
		hzServer.WithDisablePrintRoute(true),
	)

	s := &Server{
		hz:     hz,
		engine: engine,
		apiKey: strings.TrimSpace(cfg.APIKey),
		now:    time.Now,
	}
	s.routes()
	return s
}

// Start serves in the background until Shutdown.
func (s *Server) Start(ctx context.Context) {
	go func() {
		logs.CtxInfo(ctx, "[api] listening on %s", s.hz.GetOptions().Addr)
		s.hz.Spin()
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.hz.Shutdown(ctx)
}

// requestID tags each request context with a log id, reusing the caller's
// X-Request-ID when present.
func requestID() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		id := strings.TrimSpace(string(c.GetHeader(requestIDHeader)))
		if id == "" {
			id = logs.NewLogID()
		}
		c.Header(requestIDHeader, id)
		ctx = logs.SetLogID(ctx, id)

		start := time.Now()
		c.Next(ctx)
		logs.CtxDebug(ctx, "[api] %s %s -> %d (%s)",
			c.Method(), c.Path(), c.Response.StatusCode(), time.Since(start).Round(time.Millisecond))
	}
}

// bearerAuth rejects requests without the configured API key. An empty key
// disables the check.
func bearerAuth(key string) app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		if key == "" {
			c.Next(ctx)
			return
		}
		auth := string(c.GetHeader("Authorization"))
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || strings.TrimSpace(token) != key {
			c.AbortWithStatusJSON(consts.StatusUnauthorized, errorBody{Error: "missing or invalid api key"})
			return
		}
		c.Next(ctx)
	}
}
