package httpx

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tgifai/taskd/internal/config"
	"github.com/tgifai/taskd/internal/cronjob"
	"github.com/tgifai/taskd/internal/pkg/logs"
	"github.com/tgifai/taskd/internal/pkg/utils"
	"github.com/tgifai/taskd/internal/pkg/webx"
	"github.com/tgifai/taskd/internal/task"
)

const (
	maxRedirects = 5
	maxResultLen = 4096
)

// isPrivateHost is the SSRF check. Tests may override it.
var isPrivateHost = utils.IsPrivateHost

// Handler fires webhook requests.
type Handler struct {
	cfg    config.WebhookConfig
	client *http.Client
}

func New(cfg config.WebhookConfig) *Handler {
	h := &Handler{cfg: cfg}
	h.client = &http.Client{
		Transport: webx.NewCompressedTransport(nil, webx.WithUserAgent(cfg.UserAgent)),
		CheckRedirect: func(r *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("too many redirects (max %d)", maxRedirects)
			}
			if !h.cfg.AllowPrivate && isPrivateHost(r.URL.Hostname()) {
				return fmt.Errorf("redirect to private address blocked")
			}
			return nil
		},
	}
	return h
}

func (h *Handler) Handle(ctx context.Context, req cronjob.Request) (string, error) {
	r, ok := req.(cronjob.WebhookRequest)
	if !ok {
		return "", fmt.Errorf("webhook handler got %s request", req.Kind())
	}

	parsed, err := url.ParseRequestURI(r.URL)
	if err != nil {
		return "", fmt.Errorf("invalid url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", fmt.Errorf("only http and https URLs are allowed")
	}
	if !h.cfg.AllowPrivate && isPrivateHost(parsed.Hostname()) {
		return "", fmt.Errorf("access to private/internal address %s is not allowed", parsed.Hostname())
	}

	timeout := h.cfg.Timeout
	if t := r.Timeout; t > 0 && (timeout <= 0 || t < timeout) {
		timeout = t
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if r.Body != "" {
		body = strings.NewReader(r.Body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	for k, v := range r.Headers {
		httpReq.Header.Set(k, v)
	}
	if r.Body != "" && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	limit := h.cfg.MaxBodyBytes
	if limit <= 0 {
		limit = 1 << 20
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	content := utils.Truncate(strings.TrimSpace(string(raw)), maxResultLen)

	logs.CtxInfo(ctx, "[handler:httpx] %s %s -> %d (%d bytes)", r.Method, r.URL, resp.StatusCode, len(raw))

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("%w: %s %s returned %d: %s", task.ErrHandlerFailure, r.Method, r.URL, resp.StatusCode, content)
	}
	if content == "" {
		return fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode)), nil
	}
	return fmt.Sprintf("%d %s", resp.StatusCode, content), nil
}
