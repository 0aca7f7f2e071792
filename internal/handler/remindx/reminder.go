package remindx

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/time/rate"

	"github.com/tgifai/taskd/internal/channel"
	"github.com/tgifai/taskd/internal/config"
	"github.com/tgifai/taskd/internal/cronjob"
	"github.com/tgifai/taskd/internal/pkg/logs"
)

var errNoChannel = errors.New("no channel given and no default channel configured")

// Handler delivers reminder messages through the channel registry. All
// deliveries share one rate limiter, failure notices included.
type Handler struct {
	channels       *channel.Registry
	defaultChannel string
	limiter        *rate.Limiter
}

var (
	_ cronjob.Handler  = (*Handler)(nil)
	_ cronjob.Notifier = (*Handler)(nil)
)

func New(cfg config.ReminderConfig, channels *channel.Registry) *Handler {
	perSec := cfg.RatePerSec
	if perSec <= 0 {
		perSec = 1
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Handler{
		channels:       channels,
		defaultChannel: cfg.DefaultChannel,
		limiter:        rate.NewLimiter(rate.Limit(perSec), burst),
	}
}

func (h *Handler) Handle(ctx context.Context, req cronjob.Request) (string, error) {
	r, ok := req.(cronjob.ReminderRequest)
	if !ok {
		return "", fmt.Errorf("reminder handler got %s request", req.Kind())
	}
	if strings.TrimSpace(r.ChatID) == "" {
		return "", fmt.Errorf("reminder %s: chatId is required", r.TaskID)
	}

	id, err := h.deliver(ctx, r.ChannelID, r.ChatID, renderReminder(r))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("reminder sent to %s:%s", id, r.ChatID), nil
}

// Notify implements cronjob.Notifier.
func (h *Handler) Notify(ctx context.Context, channelID, chatID, text string) error {
	_, err := h.deliver(ctx, channelID, chatID, text)
	return err
}

func (h *Handler) deliver(ctx context.Context, channelID, chatID, text string) (string, error) {
	if channelID == "" {
		channelID = h.defaultChannel
	}
	if channelID == "" {
		return "", errNoChannel
	}
	ch, err := h.channels.Get(channelID)
	if err != nil {
		return "", err
	}
	if err := h.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}
	if err := ch.SendMessage(ctx, chatID, text); err != nil {
		return "", fmt.Errorf("send via %s: %w", channelID, err)
	}
	logs.CtxInfo(ctx, "[handler:remindx] delivered to %s:%s (%d chars)", channelID, chatID, len(text))
	return channelID, nil
}

func renderReminder(r cronjob.ReminderRequest) string {
	text := "⏰ Reminder: " + strings.TrimSpace(r.Message)
	if r.AgentName != "" {
		text += "\n\n_from " + r.AgentName + "_"
	}
	return text
}
