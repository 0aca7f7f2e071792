package remindx

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tgifai/taskd/internal/channel"
	"github.com/tgifai/taskd/internal/config"
	"github.com/tgifai/taskd/internal/cronjob"
)

type sent struct{ chatID, content string }

type fakeChannel struct {
	id  string
	err error

	mu   sync.Mutex
	sent []sent
}

func (f *fakeChannel) ID() string                  { return f.id }
func (f *fakeChannel) Type() channel.Type          { return channel.Webhook }
func (f *fakeChannel) Close(context.Context) error { return nil }

func (f *fakeChannel) SendMessage(_ context.Context, chatID, content string) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sent{chatID, content})
	return nil
}

func setup(t *testing.T, cfg config.ReminderConfig) (*Handler, *fakeChannel, *fakeChannel) {
	t.Helper()
	reg := channel.NewRegistry()
	ops, team := &fakeChannel{id: "ops"}, &fakeChannel{id: "team"}
	for _, ch := range []channel.Channel{ops, team} {
		if err := reg.Register(ch); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	return New(cfg, reg), ops, team
}

func reminder(channelID, chatID, msg string) cronjob.ReminderRequest {
	return cronjob.ReminderRequest{
		Envelope:  cronjob.Envelope{TaskID: "r1"},
		Message:   msg,
		ChannelID: channelID,
		ChatID:    chatID,
	}
}

func TestHandleDeliversToNamedChannel(t *testing.T) {
	h, ops, team := setup(t, config.ReminderConfig{DefaultChannel: "ops", RatePerSec: 100, Burst: 10})

	out, err := h.Handle(context.Background(), reminder("team", "42", "stand-up in 5"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if out != "reminder sent to team:42" {
		t.Fatalf("result = %q", out)
	}
	if len(team.sent) != 1 || len(ops.sent) != 0 {
		t.Fatalf("team=%d ops=%d", len(team.sent), len(ops.sent))
	}
	if got := team.sent[0]; got.chatID != "42" || !strings.Contains(got.content, "stand-up in 5") {
		t.Fatalf("sent = %+v", got)
	}
}

func TestHandleUsesDefaultChannel(t *testing.T) {
	h, ops, _ := setup(t, config.ReminderConfig{DefaultChannel: "ops", RatePerSec: 100, Burst: 10})
	req := reminder("", "7", "drink water")
	req.AgentName = "coach"
	if _, err := h.Handle(context.Background(), req); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if len(ops.sent) != 1 || !strings.Contains(ops.sent[0].content, "coach") {
		t.Fatalf("ops sent = %+v", ops.sent)
	}
}

func TestHandleErrors(t *testing.T) {
	h, _, team := setup(t, config.ReminderConfig{RatePerSec: 100, Burst: 10})

	if _, err := h.Handle(context.Background(), reminder("", "1", "x")); !errors.Is(err, errNoChannel) {
		t.Fatalf("no default channel err = %v", err)
	}
	if _, err := h.Handle(context.Background(), reminder("ghost", "1", "x")); !errors.Is(err, channel.ErrNotFound) {
		t.Fatalf("unknown channel err = %v", err)
	}
	if _, err := h.Handle(context.Background(), reminder("team", "", "x")); err == nil {
		t.Fatalf("expected chatId error")
	}
	team.err = errors.New("bot blocked")
	if _, err := h.Handle(context.Background(), reminder("team", "1", "x")); err == nil || !strings.Contains(err.Error(), "bot blocked") {
		t.Fatalf("send failure err = %v", err)
	}
}

func TestRateLimit(t *testing.T) {
	h, ops, _ := setup(t, config.ReminderConfig{DefaultChannel: "ops", RatePerSec: 10, Burst: 1})

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := h.Notify(context.Background(), "", "1", "notice"); err != nil {
			t.Fatalf("Notify: %v", err)
		}
	}
	// burst of one at 10/s: the 2nd and 3rd wait ~100ms each
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Fatalf("3 deliveries took %v, limiter not applied", elapsed)
	}
	if len(ops.sent) != 3 {
		t.Fatalf("sent %d, want 3", len(ops.sent))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h2, _, _ := setup(t, config.ReminderConfig{DefaultChannel: "ops", RatePerSec: 0.001, Burst: 1})
	_ = h2.Notify(context.Background(), "", "1", "uses the burst")
	if err := h2.Notify(ctx, "", "1", "blocked"); err == nil {
		t.Fatalf("expected rate limit wait error on cancelled context")
	}
}
