package cronjob

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tgifai/taskd/internal/pkg/logs"
	"github.com/tgifai/taskd/internal/store"
	"github.com/tgifai/taskd/internal/task"
)

// TaskSpec is the input of Schedule. Enabled defaults to true.
type TaskSpec struct {
	Name           string             `json:"name"`
	Type           task.Type          `json:"type"`
	CronExpression string             `json:"cronExpression"`
	Enabled        *bool              `json:"enabled,omitempty"`
	Metadata       task.Metadata      `json:"metadata"`
	RetryConfig    *task.RetryConfig  `json:"retryConfig,omitempty"`
	Dependencies   *task.Dependencies `json:"dependencies,omitempty"`
}

// TaskPatch updates the fields that are set. Type may be sent but must
// match the existing type.
type TaskPatch struct {
	Name           *string            `json:"name,omitempty"`
	Type           *task.Type         `json:"type,omitempty"`
	CronExpression *string            `json:"cronExpression,omitempty"`
	Enabled        *bool              `json:"enabled,omitempty"`
	Metadata       *task.Metadata     `json:"metadata,omitempty"`
	RetryConfig    *task.RetryConfig  `json:"retryConfig,omitempty"`
	Dependencies   *task.Dependencies `json:"dependencies,omitempty"`
}

type ListFilter struct {
	Type    task.Type
	Enabled *bool
}

// Schedule validates spec, assigns a fresh id and registers the timer.
func (e *Engine) Schedule(ctx context.Context, spec TaskSpec) (*task.ScheduledTask, error) {
	t := &task.ScheduledTask{
		Name:           spec.Name,
		Type:           spec.Type,
		CronExpression: spec.CronExpression,
		Enabled:        spec.Enabled == nil || *spec.Enabled,
		Metadata:       spec.Metadata.Clone(),
	}
	if spec.RetryConfig != nil {
		rc := *spec.RetryConfig
		rc.RetryCount = 0
		t.RetryConfig = &rc
	}
	if spec.Dependencies != nil {
		d := *spec.Dependencies
		d.TaskIDs = slices.Clone(spec.Dependencies.TaskIDs)
		t.Dependencies = &d
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	if err := e.stateErr(); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	if err := e.checkUpstreamsLocked(t); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	t.ID = e.newIDLocked()
	t.CreatedAt = e.now()
	if err := e.armLocked(t); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.tasks[t.ID] = t
	e.dirty = true
	out := t.Clone()
	e.mu.Unlock()

	logs.CtxInfo(ctx, "[cronjob] scheduled %s (%s) type=%s cron=%q", t.Name, t.ID, t.Type, t.CronExpression)
	return out, nil
}

func (e *Engine) Get(_ context.Context, id string) (*task.ScheduledTask, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	t, ok := e.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", task.ErrTaskNotFound, id)
	}
	return t.Clone(), nil
}

// List returns clones ordered by creation time.
func (e *Engine) List(_ context.Context, f ListFilter) []*task.ScheduledTask {
	e.mu.RLock()
	out := make([]*task.ScheduledTask, 0, len(e.tasks))
	for _, t := range e.tasks {
		if f.Type != "" && t.Type != f.Type {
			continue
		}
		if f.Enabled != nil && t.Enabled != *f.Enabled {
			continue
		}
		out = append(out, t.Clone())
	}
	e.mu.RUnlock()

	slices.SortFunc(out, func(a, b *task.ScheduledTask) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Cancel removes the task for good. The deletion is written through at once.
// A firing still in flight completes and its result is recorded.
func (e *Engine) Cancel(ctx context.Context, id string) error {
	e.mu.Lock()
	if err := e.stateErr(); err != nil {
		e.mu.Unlock()
		return err
	}
	t, ok := e.tasks[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", task.ErrTaskNotFound, id)
	}
	pruned := e.removeLocked(id)
	e.mu.Unlock()

	// serialized with flush so an older snapshot cannot resurrect the row
	e.flushMu.Lock()
	err := e.store.Delete(ctx, id)
	e.flushMu.Unlock()
	if err != nil {
		logs.CtxError(ctx, "[cronjob] delete %s from store: %v", id, err)
	}
	logs.CtxInfo(ctx, "[cronjob] cancelled %s (%s), removed from %d dependent(s)", t.Name, id, pruned)
	return nil
}

// removeLocked drops a task from memory, retires its id and removes it from
// the upstream lists of its dependents. A dependent left with no upstream
// and no cron expression can then only be run on demand. It returns the
// number of dependents touched.
func (e *Engine) removeLocked(id string) int {
	e.registry.Unregister(id)
	e.stopRetryLocked(id)
	e.resolver.forget(id)
	delete(e.tasks, id)
	e.retired[id] = struct{}{}
	e.dirty = true

	pruned := 0
	for _, t := range e.tasks {
		if !t.HasDependency(id) {
			continue
		}
		t.Dependencies.TaskIDs = slices.DeleteFunc(t.Dependencies.TaskIDs, func(up string) bool { return up == id })
		if len(t.Dependencies.TaskIDs) == 0 {
			t.Dependencies = nil
		}
		e.resolver.rearm(t.ID)
		pruned++
	}
	return pruned
}

// Pause disables both the timer and the dependency path.
func (e *Engine) Pause(ctx context.Context, id string) (*task.ScheduledTask, error) {
	return e.setEnabled(ctx, id, false)
}

func (e *Engine) Resume(ctx context.Context, id string) (*task.ScheduledTask, error) {
	return e.setEnabled(ctx, id, true)
}

func (e *Engine) setEnabled(ctx context.Context, id string, enabled bool) (*task.ScheduledTask, error) {
	e.mu.Lock()
	if err := e.stateErr(); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	t, ok := e.tasks[id]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", task.ErrTaskNotFound, id)
	}
	t.Enabled = enabled
	if !enabled {
		e.stopRetryLocked(id)
	}
	if err := e.armLocked(t); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	e.dirty = true
	out := t.Clone()
	e.mu.Unlock()

	state := "paused"
	if enabled {
		state = "resumed"
	}
	logs.CtxInfo(ctx, "[cronjob] %s %s (%s)", state, t.Name, id)
	return out, nil
}

// RunNow fires the task immediately, outside its schedule.
func (e *Engine) RunNow(ctx context.Context, id string) error {
	logs.CtxInfo(ctx, "[cronjob] run-now %s", id)
	return e.fire(id, TriggerManual)
}

// Update applies patch. The kind of a task is fixed at creation.
func (e *Engine) Update(ctx context.Context, id string, patch TaskPatch) (*task.ScheduledTask, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.stateErr(); err != nil {
		return nil, err
	}
	cur, ok := e.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", task.ErrTaskNotFound, id)
	}

	next := cur.Clone()
	if patch.Type != nil && *patch.Type != cur.Type {
		return nil, fmt.Errorf("%w: type cannot change from %s to %s", task.ErrInvalidTask, cur.Type, *patch.Type)
	}
	if patch.Name != nil {
		next.Name = *patch.Name
	}
	if patch.CronExpression != nil {
		next.CronExpression = *patch.CronExpression
	}
	if patch.Enabled != nil {
		next.Enabled = *patch.Enabled
	}
	if patch.Metadata != nil {
		next.Metadata = patch.Metadata.Clone()
	}
	if patch.RetryConfig != nil {
		rc := *patch.RetryConfig
		rc.RetryCount = 0
		next.RetryConfig = &rc
		if rc.MaxRetries == 0 {
			next.RetryConfig = nil
		}
	}
	if patch.Dependencies != nil {
		d := *patch.Dependencies
		d.TaskIDs = slices.Clone(patch.Dependencies.TaskIDs)
		next.Dependencies = &d
	}
	next.Normalize()
	if err := next.Validate(); err != nil {
		return nil, err
	}
	if err := e.checkUpstreamsLocked(next); err != nil {
		return nil, err
	}
	if err := e.armLocked(next); err != nil {
		return nil, err
	}
	if !next.Enabled || patch.RetryConfig != nil {
		e.stopRetryLocked(id)
	}

	e.tasks[id] = next
	e.dirty = true
	logs.CtxInfo(ctx, "[cronjob] updated %s (%s)", next.Name, id)
	return next.Clone(), nil
}

// armLocked brings the timer and dependency state of t in line with its
// fields. Call with e.mu held.
func (e *Engine) armLocked(t *task.ScheduledTask) error {
	e.resolver.rearm(t.ID)
	if !t.Enabled || t.DependencyOnly() {
		e.registry.Unregister(t.ID)
		t.NextRun = nil
		return nil
	}
	next, err := e.registry.Register(t)
	if err != nil {
		return err
	}
	t.NextRun = &next
	return nil
}

// checkUpstreamsLocked rejects dependencies on unknown tasks and cycles.
func (e *Engine) checkUpstreamsLocked(t *task.ScheduledTask) error {
	if t.Dependencies == nil {
		return nil
	}
	for _, up := range t.Dependencies.TaskIDs {
		if _, ok := e.tasks[up]; !ok {
			return fmt.Errorf("%w: dependency %s does not exist", task.ErrInvalidTask, up)
		}
		if t.ID != "" && e.reachesLocked(up, t.ID, map[string]bool{}) {
			return fmt.Errorf("%w: dependency on %s would create a cycle", task.ErrInvalidTask, up)
		}
	}
	return nil
}

// reachesLocked reports whether from transitively depends on target.
func (e *Engine) reachesLocked(from, target string, seen map[string]bool) bool {
	return reaches(from, target, func(id string) (*task.ScheduledTask, bool) {
		t, ok := e.tasks[id]
		return t, ok
	}, seen)
}

func reaches(from, target string, lookup func(string) (*task.ScheduledTask, bool), seen map[string]bool) bool {
	if from == target {
		return true
	}
	if seen[from] {
		return false
	}
	seen[from] = true
	t, ok := lookup(from)
	if !ok || t.Dependencies == nil {
		return false
	}
	for _, up := range t.Dependencies.TaskIDs {
		if reaches(up, target, lookup, seen) {
			return true
		}
	}
	return false
}

// newIDLocked returns an id never used by a live or cancelled task.
func (e *Engine) newIDLocked() string {
	for {
		id := uuid.NewString()
		_, live := e.tasks[id]
		_, gone := e.retired[id]
		if !live && !gone {
			return id
		}
	}
}

// Timezone returns the IANA name all cron expressions are evaluated in.
func (e *Engine) Timezone() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.registry == nil {
		return e.cfg.Timezone
	}
	return e.registry.Location().String()
}

// SetTimezone switches the scheduler location, rebuilds every timer and
// persists the choice.
func (e *Engine) SetTimezone(ctx context.Context, tz string) error {
	loc, err := task.LoadLocation(tz)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if err := e.stateErr(); err != nil {
		e.mu.Unlock()
		return err
	}
	for id, next := range e.registry.SetLocation(loc) {
		if t, ok := e.tasks[id]; ok {
			n := next
			t.NextRun = &n
		}
	}
	e.dirty = true
	e.mu.Unlock()

	if err := e.store.PutSetting(ctx, store.SettingTimezone, loc.String()); err != nil {
		logs.CtxError(ctx, "[cronjob] persist timezone: %v", err)
	}
	logs.CtxInfo(ctx, "[cronjob] timezone set to %s", loc)
	return nil
}

// History returns up to limit results, most recent first, for one task or
// all tasks when taskID is empty. The durable log backs the ring when the
// ring holds fewer records than asked for.
func (e *Engine) History(ctx context.Context, taskID string, limit int) ([]task.ExecutionResult, error) {
	if limit <= 0 {
		limit = 50
	}
	out := e.history.query(taskID, limit)
	if len(out) >= limit {
		return out, nil
	}

	var (
		durable []task.ExecutionResult
		err     error
	)
	if taskID == "" {
		durable, err = e.store.History(ctx, limit)
	} else {
		durable, err = e.store.HistoryForTask(ctx, taskID, limit)
	}
	if err != nil {
		logs.CtxWarn(ctx, "[cronjob] read durable history: %v", err)
		return out, nil
	}
	if len(durable) > len(out) {
		return durable, nil
	}
	return out, nil
}

// ValidateCron checks expr against the scheduler timezone.
func (e *Engine) ValidateCron(expr string, n int) task.CronValidation {
	loc := time.UTC
	e.mu.RLock()
	if e.registry != nil {
		loc = e.registry.Location()
	}
	e.mu.RUnlock()
	return task.ValidateCron(expr, loc, e.now(), n)
}
