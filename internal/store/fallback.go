package store

import (
	"context"
	"errors"

	"github.com/tgifai/taskd/internal/pkg/logs"
	"github.com/tgifai/taskd/internal/task"
)

var _ Store = (*FallbackStore)(nil)

// FallbackStore serves every call from primary and retries a failed call
// on secondary. The primary is never dropped: the next call tries it again.
type FallbackStore struct {
	primary   Store
	secondary Store
}

func NewFallback(primary, secondary Store) *FallbackStore {
	return &FallbackStore{primary: primary, secondary: secondary}
}

func (f *FallbackStore) Backend() string { return f.primary.Backend() }

func (f *FallbackStore) Primary() Store { return f.primary }

func (f *FallbackStore) fellBack(ctx context.Context, op string, err error) bool {
	if err == nil || errors.Is(err, task.ErrTaskNotFound) || ctx.Err() != nil {
		return false
	}
	storeErrors.WithLabelValues(op).Inc()
	logs.CtxWarn(ctx, "[store] %s %s failed, falling back to %s: %v",
		f.primary.Backend(), op, f.secondary.Backend(), err)
	return true
}

func (f *FallbackStore) Put(ctx context.Context, t *task.ScheduledTask) error {
	err := f.primary.Put(ctx, t)
	if f.fellBack(ctx, "put", err) {
		return f.secondary.Put(ctx, t)
	}
	return err
}

func (f *FallbackStore) PutAll(ctx context.Context, tasks []*task.ScheduledTask) error {
	err := f.primary.PutAll(ctx, tasks)
	if f.fellBack(ctx, "put_all", err) {
		return f.secondary.PutAll(ctx, tasks)
	}
	return err
}

func (f *FallbackStore) Get(ctx context.Context, id string) (*task.ScheduledTask, error) {
	t, err := f.primary.Get(ctx, id)
	if f.fellBack(ctx, "get", err) {
		return f.secondary.Get(ctx, id)
	}
	return t, err
}

func (f *FallbackStore) Delete(ctx context.Context, id string) error {
	err := f.primary.Delete(ctx, id)
	if f.fellBack(ctx, "delete", err) {
		return f.secondary.Delete(ctx, id)
	}
	// the file copy is kept in sync on deletes so a later fallback read
	// cannot resurrect a cancelled task
	_ = f.secondary.Delete(ctx, id)
	return err
}

func (f *FallbackStore) ListAll(ctx context.Context) ([]*task.ScheduledTask, error) {
	out, err := f.primary.ListAll(ctx)
	if f.fellBack(ctx, "list_all", err) {
		return f.secondary.ListAll(ctx)
	}
	return out, err
}

func (f *FallbackStore) ListByType(ctx context.Context, typ task.Type) ([]*task.ScheduledTask, error) {
	out, err := f.primary.ListByType(ctx, typ)
	if f.fellBack(ctx, "list_by_type", err) {
		return f.secondary.ListByType(ctx, typ)
	}
	return out, err
}

func (f *FallbackStore) ListEnabled(ctx context.Context) ([]*task.ScheduledTask, error) {
	out, err := f.primary.ListEnabled(ctx)
	if f.fellBack(ctx, "list_enabled", err) {
		return f.secondary.ListEnabled(ctx)
	}
	return out, err
}

func (f *FallbackStore) AppendHistory(ctx context.Context, r task.ExecutionResult) error {
	err := f.primary.AppendHistory(ctx, r)
	if f.fellBack(ctx, "append_history", err) {
		return f.secondary.AppendHistory(ctx, r)
	}
	return err
}

func (f *FallbackStore) History(ctx context.Context, limit int) ([]task.ExecutionResult, error) {
	out, err := f.primary.History(ctx, limit)
	if f.fellBack(ctx, "history", err) {
		return f.secondary.History(ctx, limit)
	}
	return out, err
}

func (f *FallbackStore) HistoryForTask(ctx context.Context, id string, limit int) ([]task.ExecutionResult, error) {
	out, err := f.primary.HistoryForTask(ctx, id, limit)
	if f.fellBack(ctx, "history_for_task", err) {
		return f.secondary.HistoryForTask(ctx, id, limit)
	}
	return out, err
}

func (f *FallbackStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	v, ok, err := f.primary.GetSetting(ctx, key)
	if f.fellBack(ctx, "get_setting", err) {
		return f.secondary.GetSetting(ctx, key)
	}
	return v, ok, err
}

func (f *FallbackStore) PutSetting(ctx context.Context, key, value string) error {
	err := f.primary.PutSetting(ctx, key, value)
	if f.fellBack(ctx, "put_setting", err) {
		return f.secondary.PutSetting(ctx, key, value)
	}
	return err
}

func (f *FallbackStore) Close() error {
	return errors.Join(f.primary.Close(), f.secondary.Close())
}
