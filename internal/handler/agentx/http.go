package agentx

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"

	"github.com/tgifai/taskd/internal/config"
	"github.com/tgifai/taskd/internal/consts"
	"github.com/tgifai/taskd/internal/pkg/utils"
	"github.com/tgifai/taskd/internal/pkg/webx"
)

// HTTPBackend posts the task to an agent service endpoint.
type HTTPBackend struct {
	endpoint string
	model    string
	headers  map[string]string
	client   *http.Client
}

var _ Backend = (*HTTPBackend)(nil)

func NewHTTPBackend(cfg config.AgentConfig) (*HTTPBackend, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("agent %s: http backend needs an endpoint", cfg.ID)
	}
	return &HTTPBackend{
		endpoint: endpoint,
		model:    cfg.Model,
		headers:  cfg.Headers,
		client:   &http.Client{Transport: webx.NewCompressedTransport(nil, webx.WithUserAgent(consts.Generator()))},
	}, nil
}

func (b *HTTPBackend) Name() string    { return BackendHTTP }
func (b *HTTPBackend) Available() bool { return b.endpoint != "" }

type httpAgentRequest struct {
	TaskID  string            `json:"taskId,omitempty"`
	Attempt int               `json:"attempt"`
	Task    string            `json:"task"`
	Context map[string]string `json:"context,omitempty"`
	Model   string            `json:"model,omitempty"`
}

type httpAgentResponse struct {
	Output    string `json:"output"`
	Result    string `json:"result"`
	Text      string `json:"text"`
	SessionID string `json:"sessionId"`
	Error     string `json:"error"`
}

func (b *HTTPBackend) Run(ctx context.Context, req *RunRequest) (*RunResult, error) {
	payload, err := sonic.Marshal(httpAgentRequest{
		TaskID:  req.TaskID,
		Attempt: req.Attempt,
		Task:    req.Task,
		Context: req.Context,
		Model:   b.model,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal agent request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build agent request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	for k, v := range b.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("agent request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxOutputBytes))
	if err != nil {
		return nil, fmt.Errorf("read agent response: %w", err)
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, fmt.Errorf("agent endpoint returned %d: %s", resp.StatusCode, utils.Truncate(string(raw), 512))
	}

	var out httpAgentResponse
	if err := sonic.Unmarshal(raw, &out); err != nil {
		return &RunResult{Output: strings.TrimSpace(string(raw))}, nil
	}
	if out.Error != "" {
		return &RunResult{Output: out.Error, SessionID: out.SessionID, ExitCode: 1}, nil
	}
	text := out.Output
	if text == "" {
		text = out.Result
	}
	if text == "" {
		text = out.Text
	}
	return &RunResult{Output: text, SessionID: out.SessionID}, nil
}
