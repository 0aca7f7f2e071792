package lark

import (
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"

	"github.com/tgifai/taskd/internal/config"
)

func TestMarkdownToPost(t *testing.T) {
	paragraphs := markdownToPost("# Nightly\n\n**backup** done, see [run](https://ci/run/1)\n\n- a\n- b")
	if len(paragraphs) != 4 {
		t.Fatalf("paragraphs = %d, want 4: %+v", len(paragraphs), paragraphs)
	}
	head := paragraphs[0][0]
	if head["text"] != "Nightly" || head["style"].([]string)[0] != "bold" {
		t.Fatalf("heading = %+v", head)
	}
	var link postElement
	for _, el := range paragraphs[1] {
		if el["tag"] == "a" {
			link = el
		}
	}
	if link["href"] != "https://ci/run/1" || link["text"] != "run" {
		t.Fatalf("link = %+v", link)
	}
	if paragraphs[2][0]["text"] != "• " {
		t.Fatalf("list bullet = %+v", paragraphs[2])
	}
}

func TestBuildPostContentTruncates(t *testing.T) {
	msgType, body, err := buildPostContent("short *note*")
	if err != nil || msgType != larkim.MsgTypePost {
		t.Fatalf("buildPostContent = %s, %v", msgType, err)
	}
	var decoded map[string]interface{}
	if err := sonic.UnmarshalString(body, &decoded); err != nil {
		t.Fatalf("post body is not json: %v", err)
	}

	var sb strings.Builder
	for i := 0; i < 400; i++ {
		sb.WriteString(strings.Repeat("x", 100))
		sb.WriteString("\n\n")
	}
	msgType, body, err = buildPostContent(sb.String())
	if err != nil {
		t.Fatalf("buildPostContent(large): %v", err)
	}
	if msgType != larkim.MsgTypePost || len(body) > maxPostContentSize || !strings.Contains(body, "[truncated]") {
		t.Fatalf("large post type=%s len=%d", msgType, len(body))
	}
}

func TestParseConfig(t *testing.T) {
	if _, err := ParseConfig(map[string]interface{}{"app_id": "cli_x"}); err == nil {
		t.Fatalf("expected missing secret error")
	}
	cfg, err := ParseConfig(map[string]interface{}{"app_id": "cli_x", "app_secret": "s"})
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.ReceiveIDType != "chat_id" {
		t.Fatalf("receive id type = %q", cfg.ReceiveIDType)
	}
	if _, err := NewChannel("lk", config.ChannelConfig{Config: map[string]interface{}{"app_id": "a", "app_secret": "b", "receive_id_type": "phone"}}); err == nil {
		t.Fatalf("expected receive_id_type error")
	}
}
