package webhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/gg/gconv"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/tgifai/taskd/internal/channel"
	"github.com/tgifai/taskd/internal/config"
	"github.com/tgifai/taskd/internal/pkg/utils"
)

var _ channel.Channel = (*Webhook)(nil)

type Config struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
}

func ParseConfig(configMap map[string]interface{}) (*Config, error) {
	cfg := &Config{
		URL:     gconv.To[string](configMap["url"]),
		Timeout: 10 * time.Second,
	}
	if cfg.URL == "" {
		return nil, errors.New("webhook channel url is required")
	}
	if sec := gconv.To[int](configMap["timeout"]); sec > 0 {
		cfg.Timeout = time.Duration(sec) * time.Second
	}
	if raw, ok := configMap["headers"].(map[string]interface{}); ok {
		cfg.Headers = make(map[string]string, len(raw))
		for k, v := range raw {
			cfg.Headers[k] = gconv.To[string](v)
		}
	}
	return cfg, nil
}

// outboundMessage is the JSON body posted for every message.
type outboundMessage struct {
	ID      string    `json:"id"`
	Channel string    `json:"channel"`
	ChatID  string    `json:"chat_id"`
	Content string    `json:"content"`
	SentAt  time.Time `json:"sent_at"`
}

// Webhook posts each message as JSON to a fixed URL, for chat platforms that
// take incoming webhooks or for custom relays.
type Webhook struct {
	id     string
	config Config
	client *http.Client
}

func NewChannel(chanId string, chCfg config.ChannelConfig) (channel.Channel, error) {
	cfg, err := ParseConfig(chCfg.Config)
	if err != nil {
		return nil, fmt.Errorf("parse webhook config: %w", err)
	}
	return &Webhook{
		id:     chanId,
		config: *cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

func (w *Webhook) ID() string { return w.id }

func (w *Webhook) Type() channel.Type { return channel.Webhook }

func (w *Webhook) Close(context.Context) error {
	w.client.CloseIdleConnections()
	return nil
}

func (w *Webhook) SendMessage(ctx context.Context, chatID string, content string) error {
	raw, err := sonic.Marshal(outboundMessage{
		ID:      uuid.NewString(),
		Channel: w.id,
		ChatID:  chatID,
		Content: content,
		SentAt:  time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.config.URL, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook channel %s: %w", w.id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook channel %s returned %d: %s", w.id, resp.StatusCode, utils.Truncate(string(body), 256))
	}
	return nil
}
