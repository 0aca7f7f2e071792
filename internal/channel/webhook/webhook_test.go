package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bytedance/sonic"

	"github.com/tgifai/taskd/internal/config"
)

func TestSendMessage(t *testing.T) {
	got := make(chan outboundMessage, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Relay-Key") != "k" {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		var msg outboundMessage
		if err := sonic.ConfigDefault.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		got <- msg
	}))
	defer srv.Close()

	ch, err := NewChannel("relay", config.ChannelConfig{Config: map[string]interface{}{
		"url":     srv.URL,
		"headers": map[string]interface{}{"X-Relay-Key": "k"},
	}})
	if err != nil {
		t.Fatalf("NewChannel: %v", err)
	}
	if err := ch.SendMessage(context.Background(), "ops-room", "disk almost full"); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	msg := <-got
	if msg.Channel != "relay" || msg.ChatID != "ops-room" || msg.Content != "disk almost full" || msg.ID == "" {
		t.Fatalf("message = %+v", msg)
	}
}

func TestSendMessageNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusTeapot)
	}))
	defer srv.Close()

	ch, _ := NewChannel("relay", config.ChannelConfig{Config: map[string]interface{}{"url": srv.URL}})
	err := ch.SendMessage(context.Background(), "x", "y")
	if err == nil || !strings.Contains(err.Error(), "418") {
		t.Fatalf("expected 418 error, got %v", err)
	}
}

func TestParseConfigRequiresURL(t *testing.T) {
	if _, err := ParseConfig(map[string]interface{}{}); err == nil {
		t.Fatalf("expected url error")
	}
}
