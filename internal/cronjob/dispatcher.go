package cronjob

import (
	"fmt"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/tgifai/taskd/internal/task"
)

// Trigger is what caused a firing.
type Trigger string

const (
	TriggerCron       Trigger = "cron"
	TriggerDependency Trigger = "dependency"
	TriggerRetry      Trigger = "retry"
	TriggerManual     Trigger = "manual"
)

var webhookMethods = []string{
	http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodHead,
}

// buildRequest maps a task snapshot onto the request of its kind. Missing
// required metadata is a dispatch failure for that firing.
func buildRequest(t *task.ScheduledTask, attempt int, defaultTimeout time.Duration) (Request, error) {
	m := t.Metadata
	env := Envelope{
		TaskID:   t.ID,
		TaskName: t.Name,
		Attempt:  attempt,
		Timeout:  m.TimeoutOr(defaultTimeout),
	}

	switch t.Type {
	case task.TypeScript:
		if m.Target == "" && m.Command == "" {
			return nil, fmt.Errorf("script task %s: target or command is required", t.ID)
		}
		return ScriptRequest{
			Envelope:   env,
			Target:     m.Target,
			Command:    m.Command,
			Args:       slices.Clone(m.Args),
			Language:   m.Language,
			Stdin:      m.Stdin,
			WorkingDir: m.WorkingDir,
		}, nil

	case task.TypeAgent:
		if m.AgentName == "" || m.Task == "" {
			return nil, fmt.Errorf("agent task %s: agentName and task are required", t.ID)
		}
		return AgentRequest{
			Envelope:   env,
			AgentName:  m.AgentName,
			Task:       m.Task,
			Context:    m.Clone().Context,
			WorkingDir: m.WorkingDir,
		}, nil

	case task.TypeReminder:
		if m.Message == "" {
			return nil, fmt.Errorf("reminder task %s: message is required", t.ID)
		}
		return ReminderRequest{
			Envelope:  env,
			Message:   m.Message,
			AgentName: m.AgentName,
			ChannelID: m.ChannelID,
			ChatID:    m.ChatID,
		}, nil

	case task.TypeCommand:
		if strings.TrimSpace(m.Command) == "" {
			return nil, fmt.Errorf("command task %s: command is required", t.ID)
		}
		return CommandRequest{
			Envelope:       env,
			Command:        m.Command,
			WorkingDir:     m.WorkingDir,
			AllowUnsafe:    m.AllowUnsafe,
			MaxOutputBytes: m.MaxOutputBytes,
		}, nil

	case task.TypeWebhook:
		u, err := url.Parse(m.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("webhook task %s: invalid url %q", t.ID, m.URL)
		}
		method := strings.ToUpper(strings.TrimSpace(m.Method))
		if method == "" {
			method = http.MethodGet
			if m.Body != "" {
				method = http.MethodPost
			}
		}
		if !slices.Contains(webhookMethods, method) {
			return nil, fmt.Errorf("webhook task %s: unsupported method %q", t.ID, m.Method)
		}
		return WebhookRequest{
			Envelope: env,
			URL:      m.URL,
			Method:   method,
			Headers:  m.Clone().Headers,
			Body:     string(m.Body),
		}, nil

	default:
		return nil, fmt.Errorf("task %s: unknown type %q", t.ID, t.Type)
	}
}
