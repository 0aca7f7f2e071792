package task

import (
	"bytes"
	"encoding/json"
	"maps"
	"slices"
	"time"

	"github.com/bytedance/sonic"
)

// Metadata is the kind-specific payload of a task plus a few cross-cutting
// fields. Unused fields stay empty and are omitted on the wire.
type Metadata struct {
	// script
	Target   string   `json:"target,omitempty"`
	Args     []string `json:"args,omitempty"`
	Language string   `json:"language,omitempty"`
	Stdin    string   `json:"stdin,omitempty"`

	// script, command
	Command string `json:"command,omitempty"`

	// agent, reminder
	AgentName string            `json:"agentName,omitempty"`
	Task      string            `json:"task,omitempty"`
	Context   map[string]string `json:"context,omitempty"`

	// reminder
	Message   string `json:"message,omitempty"`
	ChannelID string `json:"channelId,omitempty"`

	// command
	AllowUnsafe    bool `json:"allowUnsafe,omitempty"`
	MaxOutputBytes int  `json:"maxOutputBytes,omitempty"`

	// webhook
	URL     string            `json:"url,omitempty"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    Body              `json:"body,omitempty"`

	WorkingDir    string `json:"workingDir,omitempty"`
	Timeout       int64  `json:"timeout,omitempty"` // milliseconds
	NotifyOnError bool   `json:"notifyOnError,omitempty"`
	ChatID        string `json:"chatId,omitempty"`
}

// Body is a webhook payload. Documents may carry it as a JSON object or
// array instead of a string; such values are kept in compact form.
type Body string

func (b *Body) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0, string(data) == "null":
		*b = ""
		return nil
	case data[0] == '"':
		var s string
		if err := sonic.Unmarshal(data, &s); err != nil {
			return err
		}
		*b = Body(s)
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return err
	}
	*b = Body(buf.String())
	return nil
}

func (m Metadata) Clone() Metadata {
	cp := m
	cp.Args = slices.Clone(m.Args)
	cp.Context = maps.Clone(m.Context)
	cp.Headers = maps.Clone(m.Headers)
	return cp
}

// TimeoutOr returns the task timeout, or def when none is set.
func (m Metadata) TimeoutOr(def time.Duration) time.Duration {
	if m.Timeout > 0 {
		return time.Duration(m.Timeout) * time.Millisecond
	}
	return def
}

// WantsFailureNotice reports whether terminal failures should be sent outward.
func (m Metadata) WantsFailureNotice() bool {
	return m.NotifyOnError && m.ChatID != ""
}
