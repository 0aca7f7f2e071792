package cronjob

import (
	"sync"

	"github.com/tgifai/taskd/internal/task"
)

// history is a bounded in-memory ring of the most recent results.
type history struct {
	buf   []task.ExecutionResult
	start int
	size  int
	mu    sync.RWMutex
}

func newHistory(capacity int) *history {
	if capacity <= 0 {
		capacity = 1000
	}
	return &history{buf: make([]task.ExecutionResult, capacity)}
}

func (h *history) add(r task.ExecutionResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = r
		h.size++
		return
	}
	// full: overwrite the oldest
	h.buf[h.start] = r
	h.start = (h.start + 1) % len(h.buf)
}

// query returns up to limit records, most recent first. An empty taskID
// matches all tasks; limit <= 0 means no limit.
func (h *history) query(taskID string, limit int) []task.ExecutionResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []task.ExecutionResult
	for i := h.size - 1; i >= 0; i-- {
		r := h.buf[(h.start+i)%len(h.buf)]
		if taskID != "" && r.TaskID != taskID {
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (h *history) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

func (h *history) counts() (success, failure int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for i := 0; i < h.size; i++ {
		if h.buf[(h.start+i)%len(h.buf)].Success {
			success++
		} else {
			failure++
		}
	}
	return success, failure
}
