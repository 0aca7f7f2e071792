package cronjob

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/tgifai/taskd/internal/pkg/logs"
	"github.com/tgifai/taskd/internal/task"
)

type entry struct {
	id    cron.EntryID
	expr  string
	sched cron.Schedule
}

// Registry owns the cron timers of enabled, time-triggered tasks. All
// expressions are evaluated in one scheduler-wide location.
type Registry struct {
	cron    *cron.Cron
	loc     *time.Location
	entries map[string]entry
	fire    func(taskID string)
	now     func() time.Time
	started bool
	mu      sync.Mutex
}

func newRegistry(loc *time.Location, now func() time.Time, fire func(taskID string)) *Registry {
	if loc == nil {
		loc = time.UTC
	}
	return &Registry{
		cron:    newCron(loc),
		loc:     loc,
		entries: make(map[string]entry),
		fire:    fire,
		now:     now,
	}
}

func newCron(loc *time.Location) *cron.Cron {
	return cron.New(
		cron.WithLocation(loc),
		cron.WithParser(task.CronParser),
		cron.WithLogger(cronLogger{}),
		cron.WithChain(cron.Recover(cronLogger{})),
	)
}

func (r *Registry) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		r.cron.Start()
		r.started = true
	}
}

// Stop halts the timers. The returned context is done once running jobs
// have returned.
func (r *Registry) Stop() context.Context {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = false
	return r.cron.Stop()
}

// Register (re)installs the timer for t and returns its next occurrence.
func (r *Registry) Register(t *task.ScheduledTask) (time.Time, error) {
	sched, err := task.ParseCron(t.CronExpression)
	if err != nil {
		return time.Time{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.entries[t.ID]; ok {
		r.cron.Remove(old.id)
	}
	id := t.ID
	eid := r.cron.Schedule(sched, cron.FuncJob(func() { r.fire(id) }))
	r.entries[id] = entry{id: eid, expr: t.CronExpression, sched: sched}
	return sched.Next(r.now().In(r.loc)), nil
}

func (r *Registry) Unregister(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[taskID]; ok {
		r.cron.Remove(e.id)
		delete(r.entries, taskID)
	}
}

func (r *Registry) Registered(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[taskID]
	return ok
}

// NextRun returns the next occurrence of a registered task after now.
func (r *Registry) NextRun(taskID string) (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[taskID]
	if !ok {
		return time.Time{}, false
	}
	return e.sched.Next(r.now().In(r.loc)), true
}

func (r *Registry) Location() *time.Location {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loc
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// SetLocation rebuilds every timer in loc and returns the new next
// occurrences by task id.
func (r *Registry) SetLocation(loc *time.Location) map[string]time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := r.cron
	r.cron = newCron(loc)
	r.loc = loc

	now := r.now().In(loc)
	next := make(map[string]time.Time, len(r.entries))
	for taskID, e := range r.entries {
		id := taskID
		e.id = r.cron.Schedule(e.sched, cron.FuncJob(func() { r.fire(id) }))
		r.entries[taskID] = e
		next[taskID] = e.sched.Next(now)
	}

	old.Stop()
	if r.started {
		r.cron.Start()
	}
	return next
}

// cronLogger routes robfig/cron diagnostics into the service log.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logs.Debug("[cronjob] cron: %s %v", msg, keysAndValues)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logs.Error("[cronjob] cron: %s: %v %v", msg, err, keysAndValues)
}

var _ cron.Logger = cronLogger{}

func (r *Registry) String() string {
	return fmt.Sprintf("registry(tz=%s, entries=%d)", r.Location(), r.Len())
}
