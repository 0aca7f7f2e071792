package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/adaptor"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/tgifai/taskd/internal/cronjob"
	"github.com/tgifai/taskd/internal/pkg/logs"
	taskdprom "github.com/tgifai/taskd/internal/pkg/prometheus"
	"github.com/tgifai/taskd/internal/task"
)

type errorBody struct {
	Error string `json:"error"`
}

type listResponse struct {
	Tasks []*task.ScheduledTask `json:"tasks"`
	Total int                   `json:"total"`
}

type historyResponse struct {
	Results []task.ExecutionResult `json:"results"`
}

type timezoneResponse struct {
	Timezone string `json:"timezone"`
}

type statusResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (s *Server) routes() {
	s.hz.Use(requestID())

	s.hz.GET("/health", func(ctx context.Context, c *app.RequestContext) {
		c.JSON(consts.StatusOK, utils.H{"status": "ok"})
	})
	s.hz.GET("/metrics", adaptor.HertzHandler(taskdprom.Handler()))

	v1 := s.hz.Group(apiPrefix, bearerAuth(s.apiKey))
	v1.POST("/tasks", s.createTask)
	v1.GET("/tasks", s.listTasks)
	v1.GET("/tasks/:id", s.getTask)
	v1.PATCH("/tasks/:id", s.updateTask)
	v1.DELETE("/tasks/:id", s.cancelTask)
	v1.POST("/tasks/:id/pause", s.pauseTask)
	v1.POST("/tasks/:id/resume", s.resumeTask)
	v1.POST("/tasks/:id/run", s.runTask)
	v1.GET("/export", s.exportTasks)
	v1.POST("/import", s.importTasks)
	v1.POST("/cron/validate", s.validateCron)
	v1.GET("/stats", s.stats)
	v1.GET("/history", s.history)
	v1.GET("/timezone", s.getTimezone)
	v1.PUT("/timezone", s.setTimezone)
}

// statusOf maps the error taxonomy onto HTTP codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, task.ErrTaskNotFound):
		return consts.StatusNotFound
	case task.IsValidation(err):
		return consts.StatusBadRequest
	default:
		return consts.StatusInternalServerError
	}
}

func writeErr(ctx context.Context, c *app.RequestContext, err error) {
	code := statusOf(err)
	if code >= consts.StatusInternalServerError {
		logs.CtxError(ctx, "[api] %s %s: %v", c.Method(), c.Path(), err)
	}
	c.JSON(code, errorBody{Error: err.Error()})
}

func (s *Server) createTask(ctx context.Context, c *app.RequestContext) {
	var req createTaskRequest
	if err := decode(c.Request.Body(), &req); err != nil {
		writeErr(ctx, c, err)
		return
	}
	t, err := s.engine.Schedule(ctx, req.spec())
	if err != nil {
		writeErr(ctx, c, err)
		return
	}
	c.JSON(consts.StatusCreated, t)
}

func (s *Server) listTasks(ctx context.Context, c *app.RequestContext) {
	enabled, err := parseBool(c.Query("enabled"))
	if err != nil {
		writeErr(ctx, c, err)
		return
	}
	f := cronjob.ListFilter{Type: task.Type(c.Query("type")), Enabled: enabled}
	if f.Type != "" && !f.Type.Valid() {
		writeErr(ctx, c, fmt.Errorf("%w: unknown type %q", task.ErrInvalidTask, f.Type))
		return
	}
	tasks := s.engine.List(ctx, f)
	c.JSON(consts.StatusOK, listResponse{Tasks: tasks, Total: len(tasks)})
}

func (s *Server) getTask(ctx context.Context, c *app.RequestContext) {
	t, err := s.engine.Get(ctx, c.Param("id"))
	if err != nil {
		writeErr(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, t)
}

func (s *Server) updateTask(ctx context.Context, c *app.RequestContext) {
	var req patchTaskRequest
	if err := decode(c.Request.Body(), &req); err != nil {
		writeErr(ctx, c, err)
		return
	}
	t, err := s.engine.Update(ctx, c.Param("id"), req.patch())
	if err != nil {
		writeErr(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, t)
}

func (s *Server) cancelTask(ctx context.Context, c *app.RequestContext) {
	id := c.Param("id")
	if err := s.engine.Cancel(ctx, id); err != nil {
		writeErr(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, statusResponse{ID: id, Status: "cancelled"})
}

func (s *Server) pauseTask(ctx context.Context, c *app.RequestContext) {
	t, err := s.engine.Pause(ctx, c.Param("id"))
	if err != nil {
		writeErr(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, t)
}

func (s *Server) resumeTask(ctx context.Context, c *app.RequestContext) {
	t, err := s.engine.Resume(ctx, c.Param("id"))
	if err != nil {
		writeErr(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, t)
}

func (s *Server) runTask(ctx context.Context, c *app.RequestContext) {
	id := c.Param("id")
	if err := s.engine.RunNow(ctx, id); err != nil {
		writeErr(ctx, c, err)
		return
	}
	c.JSON(consts.StatusAccepted, statusResponse{ID: id, Status: "triggered"})
}

func (s *Server) exportTasks(ctx context.Context, c *app.RequestContext) {
	doc, err := s.engine.Export(ctx)
	if err != nil {
		writeErr(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, doc)
}

func (s *Server) importTasks(ctx context.Context, c *app.RequestContext) {
	merge := true
	if v, err := parseBool(c.Query("merge")); err != nil {
		writeErr(ctx, c, err)
		return
	} else if v != nil {
		merge = *v
	}

	var doc task.Document
	if err := decode(c.Request.Body(), &doc); err != nil {
		writeErr(ctx, c, err)
		return
	}
	report, err := s.engine.Import(ctx, &doc, merge)
	if err != nil {
		writeErr(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, report)
}

func (s *Server) validateCron(ctx context.Context, c *app.RequestContext) {
	var req validateCronRequest
	if err := decode(c.Request.Body(), &req); err != nil {
		writeErr(ctx, c, err)
		return
	}
	if req.Timezone == "" {
		c.JSON(consts.StatusOK, s.engine.ValidateCron(req.Expression, req.Count))
		return
	}
	loc, err := task.LoadLocation(req.Timezone)
	if err != nil {
		writeErr(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, task.ValidateCron(req.Expression, loc, s.now(), req.Count))
}

func (s *Server) stats(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, s.engine.Stats(ctx))
}

func (s *Server) history(ctx context.Context, c *app.RequestContext) {
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		writeErr(ctx, c, err)
		return
	}
	results, err := s.engine.History(ctx, c.Query("task_id"), limit)
	if err != nil {
		writeErr(ctx, c, err)
		return
	}
	if results == nil {
		results = []task.ExecutionResult{}
	}
	c.JSON(consts.StatusOK, historyResponse{Results: results})
}

func (s *Server) getTimezone(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, timezoneResponse{Timezone: s.engine.Timezone()})
}

func (s *Server) setTimezone(ctx context.Context, c *app.RequestContext) {
	var req timezoneRequest
	if err := decode(c.Request.Body(), &req); err != nil {
		writeErr(ctx, c, err)
		return
	}
	if err := s.engine.SetTimezone(ctx, req.Timezone); err != nil {
		writeErr(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, timezoneResponse{Timezone: s.engine.Timezone()})
}
