package api

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cloudwego/hertz/pkg/app/client"
	"github.com/cloudwego/hertz/pkg/protocol"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/tgifai/taskd/internal/cronjob"
	"github.com/tgifai/taskd/internal/task"
)

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Code, e.Message)
}

// Client talks to a running taskd over its HTTP API.
type Client struct {
	base   string
	apiKey string
	hc     *client.Client
}

func NewClient(addr, apiKey string, timeout time.Duration) (*Client, error) {
	addr = strings.TrimRight(strings.TrimSpace(addr), "/")
	if addr == "" {
		return nil, errors.New("server address is required")
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hc, err := client.NewClient(
		client.WithDialTimeout(5*time.Second),
		client.WithClientReadTimeout(timeout),
		client.WithWriteTimeout(timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("create http client: %w", err)
	}
	return &Client{base: addr, apiKey: apiKey, hc: hc}, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	req := protocol.AcquireRequest()
	resp := protocol.AcquireResponse()
	defer protocol.ReleaseRequest(req)
	defer protocol.ReleaseResponse(resp)

	uri := c.base + apiPrefix + path
	if len(query) > 0 {
		uri += "?" + query.Encode()
	}
	req.SetRequestURI(uri)
	req.Header.SetMethod(method)
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if in != nil {
		raw, err := sonic.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		req.Header.SetContentTypeBytes([]byte("application/json"))
		req.SetBody(raw)
	}

	if err := c.hc.Do(ctx, req, resp); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	body := resp.Body()
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		var eb errorBody
		if sonic.Unmarshal(body, &eb) != nil || eb.Error == "" {
			eb.Error = strings.TrimSpace(string(body))
		}
		return &StatusError{Code: code, Message: eb.Error}
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := sonic.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func taskPath(id string, suffix ...string) string {
	return "/tasks/" + url.PathEscape(id) + strings.Join(suffix, "")
}

func (c *Client) CreateTask(ctx context.Context, spec cronjob.TaskSpec) (*task.ScheduledTask, error) {
	var t task.ScheduledTask
	if err := c.do(ctx, consts.MethodPost, "/tasks", nil, spec, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) ListTasks(ctx context.Context, typ task.Type, enabled *bool) ([]*task.ScheduledTask, error) {
	q := url.Values{}
	if typ != "" {
		q.Set("type", string(typ))
	}
	if enabled != nil {
		q.Set("enabled", strconv.FormatBool(*enabled))
	}
	var out listResponse
	if err := c.do(ctx, consts.MethodGet, "/tasks", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Tasks, nil
}

func (c *Client) GetTask(ctx context.Context, id string) (*task.ScheduledTask, error) {
	var t task.ScheduledTask
	if err := c.do(ctx, consts.MethodGet, taskPath(id), nil, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) UpdateTask(ctx context.Context, id string, patch cronjob.TaskPatch) (*task.ScheduledTask, error) {
	var t task.ScheduledTask
	if err := c.do(ctx, consts.MethodPatch, taskPath(id), nil, patch, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) CancelTask(ctx context.Context, id string) error {
	return c.do(ctx, consts.MethodDelete, taskPath(id), nil, nil, nil)
}

func (c *Client) PauseTask(ctx context.Context, id string) (*task.ScheduledTask, error) {
	var t task.ScheduledTask
	if err := c.do(ctx, consts.MethodPost, taskPath(id, "/pause"), nil, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) ResumeTask(ctx context.Context, id string) (*task.ScheduledTask, error) {
	var t task.ScheduledTask
	if err := c.do(ctx, consts.MethodPost, taskPath(id, "/resume"), nil, nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *Client) RunTask(ctx context.Context, id string) error {
	return c.do(ctx, consts.MethodPost, taskPath(id, "/run"), nil, nil, nil)
}

func (c *Client) Export(ctx context.Context) (*task.Document, error) {
	var doc task.Document
	if err := c.do(ctx, consts.MethodGet, "/export", nil, nil, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (c *Client) Import(ctx context.Context, doc *task.Document, merge bool) (*cronjob.ImportReport, error) {
	q := url.Values{"merge": {strconv.FormatBool(merge)}}
	var report cronjob.ImportReport
	if err := c.do(ctx, consts.MethodPost, "/import", q, doc, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

func (c *Client) ValidateCron(ctx context.Context, expr, tz string, n int) (*task.CronValidation, error) {
	var out task.CronValidation
	in := validateCronRequest{Expression: expr, Timezone: tz, Count: n}
	if err := c.do(ctx, consts.MethodPost, "/cron/validate", nil, in, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Stats(ctx context.Context) (*cronjob.Stats, error) {
	var s cronjob.Stats
	if err := c.do(ctx, consts.MethodGet, "/stats", nil, nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) History(ctx context.Context, taskID string, limit int) ([]task.ExecutionResult, error) {
	q := url.Values{}
	if taskID != "" {
		q.Set("task_id", taskID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out historyResponse
	if err := c.do(ctx, consts.MethodGet, "/history", q, nil, &out); err != nil {
		return nil, err
	}
	return out.Results, nil
}

func (c *Client) Timezone(ctx context.Context) (string, error) {
	var out timezoneResponse
	if err := c.do(ctx, consts.MethodGet, "/timezone", nil, nil, &out); err != nil {
		return "", err
	}
	return out.Timezone, nil
}

func (c *Client) SetTimezone(ctx context.Context, tz string) (string, error) {
	var out timezoneResponse
	if err := c.do(ctx, consts.MethodPut, "/timezone", nil, timezoneRequest{Timezone: tz}, &out); err != nil {
		return "", err
	}
	return out.Timezone, nil
}
