package cronjob

import (
	"errors"
	"time"

	"github.com/tgifai/taskd/internal/pkg/logs"
	"github.com/tgifai/taskd/internal/pkg/utils"
	"github.com/tgifai/taskd/internal/task"
)

// retryDelay is initialDelay * multiplier^retryCount, optionally spread by
// the configured jitter fraction.
func (e *Engine) retryDelay(rc *task.RetryConfig) time.Duration {
	return utils.Jitter(rc.RetryDelay(), e.cfg.RetryJitter)
}

// scheduleRetryLocked arms a one-shot timer that re-fires the task. A
// pending retry for the same task is replaced. Call with e.mu held.
func (e *Engine) scheduleRetryLocked(id string, delay time.Duration) {
	if old, ok := e.retryTimers[id]; ok {
		old.Stop()
	}
	var tm *time.Timer
	tm = time.AfterFunc(delay, func() {
		e.mu.Lock()
		if e.retryTimers[id] == tm {
			delete(e.retryTimers, id)
		}
		e.mu.Unlock()
		if err := e.fire(id, TriggerRetry); err != nil && !errors.Is(err, ErrEngineClosed) {
			logs.Warn("[cronjob] retry fire %s: %v", id, err)
		}
	})
	e.retryTimers[id] = tm
}

// stopRetryLocked cancels a pending retry. Call with e.mu held.
func (e *Engine) stopRetryLocked(id string) {
	if tm, ok := e.retryTimers[id]; ok {
		tm.Stop()
		delete(e.retryTimers, id)
	}
}
