package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"

	"github.com/tgifai/taskd/internal/channel"
	"github.com/tgifai/taskd/internal/config"
	"github.com/tgifai/taskd/internal/pkg/logs"
	"github.com/tgifai/taskd/internal/pkg/utils"
)

// maxMessageLen stays under the Bot API limit of 4096 characters.
const maxMessageLen = 4000

var _ channel.Channel = (*Telegram)(nil)

type Telegram struct {
	id     string
	config Config
	bot    *bot.Bot
}

func NewChannel(chanId string, chCfg config.ChannelConfig) (channel.Channel, error) {
	cfg, err := ParseConfig(chCfg.Config)
	if err != nil {
		return nil, fmt.Errorf("parse telegram config: %w", err)
	}

	opts := []bot.Option{bot.WithSkipGetMe()}
	if cfg.ServerURL != "" {
		opts = append(opts, bot.WithServerURL(strings.TrimRight(cfg.ServerURL, "/")))
	}

	tgBot, err := bot.New(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}

	return &Telegram{
		id:     chanId,
		config: *cfg,
		bot:    tgBot,
	}, nil
}

func (c *Telegram) ID() string {
	return c.id
}

func (c *Telegram) Type() channel.Type {
	return channel.Telegram
}

func (c *Telegram) Close(context.Context) error {
	return nil
}

func (c *Telegram) SendMessage(ctx context.Context, chatID string, content string) error {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID: %w", err)
	}
	content = utils.Truncate(content, maxMessageLen)

	entityText, entities := convertMarkdownEntities(content)
	if entityText == "" {
		entityText = content
	}

	_, err = c.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:   chatIDInt,
		Text:     entityText,
		Entities: entities,
	})
	if err != nil {
		logs.CtxWarn(ctx, "[channel:telegram] entity message rejected, falling back to plain text: %v", err)
		_, err = c.bot.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatIDInt,
			Text:   content,
		})
	}
	if err != nil {
		return fmt.Errorf("telegram send message: %w", err)
	}
	return nil
}
