package cronjob

import (
	"sync"
	"time"

	"github.com/tgifai/taskd/internal/task"
)

type EventKind string

const (
	EventTaskStart    EventKind = "task:start"
	EventTaskComplete EventKind = "task:complete"
	EventTaskError    EventKind = "task:error"
	EventTaskRetry    EventKind = "task:retry"
	// EventTaskFailed is emitted once retries are exhausted and the task asked
	// for a failure notice.
	EventTaskFailed EventKind = "task:failed"
	EventShutdown   EventKind = "shutdown"
)

// Event is an observable engine signal. Request signals (e.g.
// "command:execute") carry the kind in Type.
type Event struct {
	Kind      EventKind     `json:"kind"`
	TaskID    string        `json:"taskId,omitempty"`
	TaskName  string        `json:"taskName,omitempty"`
	Type      task.Type     `json:"type,omitempty"`
	Trigger   Trigger       `json:"trigger,omitempty"`
	Attempt   int           `json:"attempt"`
	Result    string        `json:"result,omitempty"`
	Error     string        `json:"error,omitempty"`
	Delay     time.Duration `json:"delay,omitempty"`
	ChannelID string        `json:"channelId,omitempty"`
	ChatID    string        `json:"chatId,omitempty"`
	At        time.Time     `json:"at"`
}

// eventHub fans events out to subscribers. A slow subscriber loses events
// instead of stalling the engine.
type eventHub struct {
	subs map[int]chan Event
	next int
	mu   sync.RWMutex
}

func (h *eventHub) subscribe(buf int) (<-chan Event, func()) {
	if buf <= 0 {
		buf = 64
	}
	ch := make(chan Event, buf)

	h.mu.Lock()
	if h.subs == nil {
		h.subs = make(map[int]chan Event)
	}
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

func (h *eventHub) publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
