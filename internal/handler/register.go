// Package handler assembles the five execution handlers and the channels
// reminders are delivered through.
package handler

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/tgifai/taskd/internal/channel"
	"github.com/tgifai/taskd/internal/channel/lark"
	"github.com/tgifai/taskd/internal/channel/telegram"
	"github.com/tgifai/taskd/internal/channel/webhook"
	"github.com/tgifai/taskd/internal/config"
	"github.com/tgifai/taskd/internal/cronjob"
	"github.com/tgifai/taskd/internal/handler/agentx"
	"github.com/tgifai/taskd/internal/handler/httpx"
	"github.com/tgifai/taskd/internal/handler/remindx"
	"github.com/tgifai/taskd/internal/handler/scriptx"
	"github.com/tgifai/taskd/internal/handler/shellx"
	"github.com/tgifai/taskd/internal/pkg/logs"
	"github.com/tgifai/taskd/internal/security/sandbox"
	"github.com/tgifai/taskd/internal/task"
)

var channelBuilders = map[channel.Type]channel.Builder{
	channel.Telegram: telegram.NewChannel,
	channel.Lark:     lark.NewChannel,
	channel.Webhook:  webhook.NewChannel,
}

type Set struct {
	Script   *scriptx.Handler
	Agent    *agentx.Handler
	Reminder *remindx.Handler
	Command  *shellx.Handler
	Webhook  *httpx.Handler

	Channels *channel.Registry
}

// Build creates every handler from cfg. Channels are registered in reg;
// a channel that fails to build is logged and left out so the other task
// kinds still run.
func Build(ctx context.Context, cfg *config.Config, reg *channel.Registry) (*Set, error) {
	workspace := cfg.Sandbox.Workdir
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace %s: %w", workspace, err)
	}

	executor, err := sandbox.New(cfg.Sandbox)
	if err != nil {
		return nil, fmt.Errorf("build sandbox: %w", err)
	}

	if err := channel.Build(ctx, reg, cfg.Channels, channelBuilders); err != nil {
		logs.CtxError(ctx, "[handler] some channels failed to build: %v", err)
	}

	return &Set{
		Script:   scriptx.New(workspace, executor),
		Agent:    agentx.New(cfg.Agents, workspace),
		Reminder: remindx.New(cfg.Reminder, reg),
		Command:  shellx.New(cfg.Command, workspace),
		Webhook:  httpx.New(cfg.Webhook),
		Channels: reg,
	}, nil
}

// Subscribe attaches each handler to the bus under its task kind.
func (s *Set) Subscribe(bus *cronjob.Bus) error {
	subs := []struct {
		kind task.Type
		h    cronjob.Handler
	}{
		{task.TypeScript, s.Script},
		{task.TypeAgent, s.Agent},
		{task.TypeReminder, s.Reminder},
		{task.TypeCommand, s.Command},
		{task.TypeWebhook, s.Webhook},
	}

	var errs []error
	for _, sub := range subs {
		if err := bus.Subscribe(sub.kind, sub.h); err != nil {
			errs = append(errs, fmt.Errorf("subscribe %s: %w", sub.kind, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Set) Close(ctx context.Context) {
	if s.Channels != nil {
		s.Channels.CloseAll(ctx)
	}
}

// NewChannel builds a single channel from its config block, for one-off
// sends outside a running server.
func NewChannel(id string, cfg config.ChannelConfig) (channel.Channel, error) {
	build, ok := channelBuilders[channel.Type(cfg.Type)]
	if !ok {
		return nil, fmt.Errorf("%w %q", channel.ErrUnsupportedType, cfg.Type)
	}
	return build(id, cfg)
}
