package cronjob

import (
	"context"
	"time"

	"github.com/tgifai/taskd/internal/task"
)

type Stats struct {
	Total          int               `json:"total"`
	Enabled        int               `json:"enabled"`
	Paused         int               `json:"paused"`
	DependencyOnly int               `json:"dependencyOnly"`
	ByType         map[task.Type]int `json:"byType"`
	Running        int               `json:"running"`
	PendingRetries int               `json:"pendingRetries"`
	Timers         int               `json:"timers"`
	HistorySize    int               `json:"historySize"`
	RecentSuccess  int               `json:"recentSuccess"`
	RecentFailure  int               `json:"recentFailure"`
	NextRun        *time.Time        `json:"nextRun,omitempty"`
	NextTaskID     string            `json:"nextTaskId,omitempty"`
	Timezone       string            `json:"timezone"`
	Backend        string            `json:"backend"`
}

func (e *Engine) Stats(_ context.Context) Stats {
	s := Stats{ByType: make(map[task.Type]int, len(task.Types)), Backend: e.store.Backend()}
	for _, typ := range task.Types {
		s.ByType[typ] = 0
	}

	e.mu.RLock()
	for _, t := range e.tasks {
		s.Total++
		s.ByType[t.Type]++
		switch {
		case !t.Enabled:
			s.Paused++
		default:
			s.Enabled++
			if t.DependencyOnly() {
				s.DependencyOnly++
			}
		}
		if t.NextRun != nil && (s.NextRun == nil || t.NextRun.Before(*s.NextRun)) {
			next := *t.NextRun
			s.NextRun, s.NextTaskID = &next, t.ID
		}
	}
	for _, n := range e.inflight {
		s.Running += n
	}
	s.PendingRetries = len(e.retryTimers)
	if e.registry != nil {
		s.Timers = e.registry.Len()
		s.Timezone = e.registry.Location().String()
	} else {
		s.Timezone = e.cfg.Timezone
	}
	e.mu.RUnlock()

	s.HistorySize = e.history.len()
	s.RecentSuccess, s.RecentFailure = e.history.counts()
	return s
}
