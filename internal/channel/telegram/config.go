package telegram

import (
	"errors"
	"fmt"

	"github.com/bytedance/gg/gconv"
)

type Config struct {
	Token string // Telegram Bot Token
	// ServerURL overrides the Bot API endpoint, for self-hosted API servers.
	ServerURL string
}

func (c *Config) Validate() error {
	if c.Token == "" {
		return errors.New("telegram bot token cannot be empty")
	}
	return nil
}

func ParseConfig(configMap map[string]interface{}) (*Config, error) {
	config := &Config{
		Token:     gconv.To[string](configMap["token"]),
		ServerURL: gconv.To[string](configMap["server_url"]),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telegram config: %w", err)
	}
	return config, nil
}
