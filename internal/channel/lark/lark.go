package lark

import (
	"context"
	"fmt"

	"github.com/bytedance/sonic"
	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"github.com/tgifai/taskd/internal/channel"
	"github.com/tgifai/taskd/internal/config"
	"github.com/tgifai/taskd/internal/pkg/utils"
)

// maxPostContentSize is the upper bound for a Lark post message content (30 KB).
const maxPostContentSize = 30 * 1024

var _ channel.Channel = (*Lark)(nil)

type Lark struct {
	id     string
	config Config
	client *lark.Client
}

func NewChannel(chanId string, chCfg config.ChannelConfig) (channel.Channel, error) {
	cfg, err := ParseConfig(chCfg.Config)
	if err != nil {
		return nil, fmt.Errorf("parse lark config: %w", err)
	}

	var opts []lark.ClientOptionFunc
	if cfg.BaseURL != "" {
		opts = append(opts, lark.WithOpenBaseUrl(cfg.BaseURL))
	}
	return &Lark{
		id:     chanId,
		config: *cfg,
		client: lark.NewClient(cfg.AppID, cfg.AppSecret, opts...),
	}, nil
}

func (l *Lark) ID() string {
	return l.id
}

func (l *Lark) Type() channel.Type {
	return channel.Lark
}

func (l *Lark) Close(context.Context) error {
	return nil
}

func (l *Lark) SendMessage(ctx context.Context, chatID string, content string) error {
	msgType, body, err := buildPostContent(content)
	if err != nil {
		return fmt.Errorf("build lark post content: %w", err)
	}

	resp, err := l.client.Im.Message.Create(ctx,
		larkim.NewCreateMessageReqBuilder().
			ReceiveIdType(l.config.ReceiveIDType).
			Body(larkim.NewCreateMessageReqBodyBuilder().
				MsgType(msgType).
				ReceiveId(chatID).
				Content(body).
				Build()).
			Build())
	if err != nil {
		return fmt.Errorf("lark send message: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("lark send message failed: code=%d msg=%s", resp.Code, resp.Msg)
	}
	return nil
}

// buildPostContent converts markdown to a Lark post message. Posts that
// outgrow maxPostContentSize lose trailing paragraphs first and finally fall
// back to truncated plain text.
func buildPostContent(md string) (msgType string, body string, err error) {
	paragraphs := markdownToPost(md)
	marker := []postElement{{"tag": "text", "text": "… [truncated]"}}
	for n := len(paragraphs); n > 0; n-- {
		kept := paragraphs[:n:n]
		if n < len(paragraphs) {
			kept = append(kept, marker)
		}
		body, err = marshalPost(kept)
		if err != nil {
			return "", "", err
		}
		if len(body) <= maxPostContentSize {
			return larkim.MsgTypePost, body, nil
		}
	}

	plain, err := sonic.MarshalString(map[string]string{"text": utils.Truncate(md, maxPostContentSize-64)})
	if err != nil {
		return "", "", err
	}
	return larkim.MsgTypeText, plain, nil
}

func marshalPost(paragraphs [][]postElement) (string, error) {
	return sonic.MarshalString(map[string]interface{}{
		"zh_cn": map[string]interface{}{
			"content": paragraphs,
		},
	})
}
