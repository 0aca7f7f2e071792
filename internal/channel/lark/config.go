package lark

import (
	"errors"
	"fmt"

	"github.com/bytedance/gg/gconv"
)

type Config struct {
	AppID     string // Lark App ID (required)
	AppSecret string // Lark App Secret (required)
	// BaseURL selects the open platform domain; empty means Feishu.
	BaseURL string
	// ReceiveIDType is how chat ids are interpreted: chat_id (default),
	// open_id, user_id, union_id or email.
	ReceiveIDType string
}

var receiveIDTypes = map[string]bool{
	"chat_id": true, "open_id": true, "user_id": true, "union_id": true, "email": true,
}

func (c *Config) Validate() error {
	if c.AppID == "" {
		return errors.New("lark app_id cannot be empty")
	}
	if c.AppSecret == "" {
		return errors.New("lark app_secret cannot be empty")
	}
	if c.ReceiveIDType == "" {
		c.ReceiveIDType = "chat_id"
	}
	if !receiveIDTypes[c.ReceiveIDType] {
		return fmt.Errorf("lark receive_id_type %q is not supported", c.ReceiveIDType)
	}
	return nil
}

func ParseConfig(configMap map[string]interface{}) (*Config, error) {
	config := &Config{
		AppID:         gconv.To[string](configMap["app_id"]),
		AppSecret:     gconv.To[string](configMap["app_secret"]),
		BaseURL:       gconv.To[string](configMap["base_url"]),
		ReceiveIDType: gconv.To[string](configMap["receive_id_type"]),
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid lark config: %w", err)
	}
	return config, nil
}
