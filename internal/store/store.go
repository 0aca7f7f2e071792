package store

import (
	"context"
	"fmt"

	"github.com/tgifai/taskd/internal/task"
)

const (
	BackendSQLite = "sqlite"
	BackendFile   = "file"

	// SettingTimezone holds the scheduler timezone.
	SettingTimezone = "timezone"
	// SettingMigrated marks that the one-time file import has run.
	SettingMigrated = "migrated_from_file"
)

// Store persists tasks, execution history and settings. Both backends
// share this contract.
type Store interface {
	Backend() string

	Put(ctx context.Context, t *task.ScheduledTask) error
	PutAll(ctx context.Context, tasks []*task.ScheduledTask) error
	Get(ctx context.Context, id string) (*task.ScheduledTask, error)
	Delete(ctx context.Context, id string) error
	ListAll(ctx context.Context) ([]*task.ScheduledTask, error)
	ListByType(ctx context.Context, typ task.Type) ([]*task.ScheduledTask, error)
	ListEnabled(ctx context.Context) ([]*task.ScheduledTask, error)

	AppendHistory(ctx context.Context, r task.ExecutionResult) error
	// History returns the most recent records first; limit <= 0 means all.
	History(ctx context.Context, limit int) ([]task.ExecutionResult, error)
	HistoryForTask(ctx context.Context, id string, limit int) ([]task.ExecutionResult, error)

	GetSetting(ctx context.Context, key string) (string, bool, error)
	PutSetting(ctx context.Context, key, value string) error

	Close() error
}

type Config struct {
	Driver   string // sqlite, file, auto
	Path     string // sqlite database
	FilePath string // json data file
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", task.ErrPersistence, op, err)
}
