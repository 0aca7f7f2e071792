package channel

import (
	"context"
	"errors"

	"github.com/tgifai/taskd/internal/config"
)

var (
	ErrUnsupportedType = errors.New("unsupported channel type")
	ErrNotFound        = errors.New("channel not found")
)

type Type string

const (
	Telegram Type = "telegram"
	Lark     Type = "lark"
	Webhook  Type = "webhook"
)

var SupportedChannels = []Type{
	Telegram,
	Lark,
	Webhook,
}

// Channel is an outbound adapter to a chat platform. Channels only send;
// nothing is received through them.
type Channel interface {
	// ID returns the unique configured channel identifier.
	ID() string

	Type() Type

	// SendMessage sends markdown content to the target chat. chatID is
	// provider-specific and passed as a string for portability.
	SendMessage(ctx context.Context, chatID string, content string) error

	Close(ctx context.Context) error
}

// Builder creates a channel from its configuration block.
type Builder func(id string, cfg config.ChannelConfig) (Channel, error)
