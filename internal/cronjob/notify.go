package cronjob

import (
	"context"
	"fmt"
	"strings"

	"github.com/tgifai/taskd/internal/pkg/logs"
	"github.com/tgifai/taskd/internal/pkg/utils"
)

// Notifier delivers a text message to a chat on a channel. An empty
// channelID selects the default channel.
type Notifier interface {
	Notify(ctx context.Context, channelID, chatID, text string) error
}

// WatchFailures forwards task:failed events to n. It returns when ctx is
// done or the engine shuts down.
func (e *Engine) WatchFailures(ctx context.Context, n Notifier) {
	events, cancel := e.Events(64)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok || ev.Kind == EventShutdown {
				return
			}
			if ev.Kind != EventTaskFailed || ev.ChatID == "" {
				continue
			}
			if err := n.Notify(ctx, ev.ChannelID, ev.ChatID, FailureNotice(ev)); err != nil {
				logs.CtxError(ctx, "[cronjob] failure notice for %s: %v", ev.TaskID, err)
			}
		}
	}
}

// FailureNotice renders the markdown message sent for a terminal failure.
func FailureNotice(ev Event) string {
	var sb strings.Builder
	name := ev.TaskName
	if name == "" {
		name = ev.TaskID
	}
	fmt.Fprintf(&sb, "**Task failed:** %s (`%s`)\n\n", name, ev.TaskID)
	fmt.Fprintf(&sb, "Type: %s, attempts: %d\n", ev.Type, ev.Attempt+1)
	if ev.Error != "" {
		fmt.Fprintf(&sb, "\n```\n%s\n```", utils.Truncate(ev.Error, 1500))
	}
	return strings.TrimRight(sb.String(), "\n")
}
