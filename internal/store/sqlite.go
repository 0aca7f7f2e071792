package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/tgifai/taskd/internal/pkg/logs"
	"github.com/tgifai/taskd/internal/task"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var _ Store = (*SQLiteStore)(nil)

type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// pending schema migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer keeps SQLITE_BUSY out of the picture
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %q: %w", pragma, err)
		}
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	for _, r := range results {
		logs.CtxInfo(ctx, "[store] applied migration %s in %s", r.Source.Path, r.Duration)
	}
	return nil
}

func (s *SQLiteStore) Backend() string { return BackendSQLite }

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const upsertTask = `INSERT INTO tasks(id, name, type, cron_expression, enabled, created_at, last_run, run_count, metadata, retry_config, dependencies, updated_at)
VALUES(?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET
	name=excluded.name,
	cron_expression=excluded.cron_expression,
	enabled=excluded.enabled,
	last_run=excluded.last_run,
	run_count=excluded.run_count,
	metadata=excluded.metadata,
	retry_config=excluded.retry_config,
	dependencies=excluded.dependencies,
	updated_at=excluded.updated_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func putTask(ctx context.Context, ex execer, t *task.ScheduledTask) error {
	meta, err := sonic.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	retry, err := encodeOptional(t.RetryConfig)
	if err != nil {
		return fmt.Errorf("encode retryConfig: %w", err)
	}
	deps, err := encodeOptional(t.Dependencies)
	if err != nil {
		return fmt.Errorf("encode dependencies: %w", err)
	}
	_, err = ex.ExecContext(ctx, upsertTask,
		t.ID, t.Name, string(t.Type), t.CronExpression, t.Enabled,
		formatTime(t.CreatedAt), formatTimePtr(t.LastRun), t.RunCount,
		string(meta), retry, deps, formatTime(time.Now()),
	)
	return err
}

func (s *SQLiteStore) Put(ctx context.Context, t *task.ScheduledTask) error {
	if err := putTask(ctx, s.db, t); err != nil {
		return persistErr("put task", err)
	}
	return nil
}

func (s *SQLiteStore) PutAll(ctx context.Context, tasks []*task.ScheduledTask) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return persistErr("begin flush", err)
	}
	for _, t := range tasks {
		if err := putTask(ctx, tx, t); err != nil {
			_ = tx.Rollback()
			return persistErr("flush task "+t.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return persistErr("commit flush", err)
	}
	return nil
}

const selectTask = `SELECT id, name, type, cron_expression, enabled, created_at, last_run, run_count, metadata, retry_config, dependencies FROM tasks`

func (s *SQLiteStore) Get(ctx context.Context, id string) (*task.ScheduledTask, error) {
	row := s.db.QueryRowContext(ctx, selectTask+` WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", task.ErrTaskNotFound, id)
	}
	if err != nil {
		return nil, persistErr("get task", err)
	}
	return t, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return persistErr("delete task", err)
	}
	return nil
}

func (s *SQLiteStore) ListAll(ctx context.Context) ([]*task.ScheduledTask, error) {
	return s.queryTasks(ctx, selectTask+` ORDER BY created_at, id`)
}

func (s *SQLiteStore) ListByType(ctx context.Context, typ task.Type) ([]*task.ScheduledTask, error) {
	return s.queryTasks(ctx, selectTask+` WHERE type = ? ORDER BY created_at, id`, string(typ))
}

func (s *SQLiteStore) ListEnabled(ctx context.Context) ([]*task.ScheduledTask, error) {
	return s.queryTasks(ctx, selectTask+` WHERE enabled = 1 ORDER BY created_at, id`)
}

func (s *SQLiteStore) queryTasks(ctx context.Context, query string, args ...any) ([]*task.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr("list tasks", err)
	}
	defer rows.Close()

	var out []*task.ScheduledTask
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, persistErr("scan task", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("list tasks", err)
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(sc scanner) (*task.ScheduledTask, error) {
	var (
		t              task.ScheduledTask
		typ, createdAt string
		lastRun        sql.NullString
		meta           string
		retry, deps    sql.NullString
	)
	if err := sc.Scan(&t.ID, &t.Name, &typ, &t.CronExpression, &t.Enabled, &createdAt,
		&lastRun, &t.RunCount, &meta, &retry, &deps); err != nil {
		return nil, err
	}
	t.Type = task.Type(typ)

	var err error
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("task %s created_at: %w", t.ID, err)
	}
	if lastRun.Valid && lastRun.String != "" {
		lr, err := parseTime(lastRun.String)
		if err != nil {
			return nil, fmt.Errorf("task %s last_run: %w", t.ID, err)
		}
		t.LastRun = &lr
	}
	if err := sonic.UnmarshalString(meta, &t.Metadata); err != nil {
		return nil, fmt.Errorf("task %s metadata: %w", t.ID, err)
	}
	if retry.Valid && retry.String != "" {
		t.RetryConfig = &task.RetryConfig{}
		if err := sonic.UnmarshalString(retry.String, t.RetryConfig); err != nil {
			return nil, fmt.Errorf("task %s retry_config: %w", t.ID, err)
		}
	}
	if deps.Valid && deps.String != "" {
		t.Dependencies = &task.Dependencies{}
		if err := sonic.UnmarshalString(deps.String, t.Dependencies); err != nil {
			return nil, fmt.Errorf("task %s dependencies: %w", t.ID, err)
		}
	}
	return &t, nil
}

func (s *SQLiteStore) AppendHistory(ctx context.Context, r task.ExecutionResult) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history(task_id, executed_at, success, result, error, attempt, duration_ms) VALUES(?,?,?,?,?,?,?)`,
		r.TaskID, formatTime(r.ExecutedAt), r.Success, nullStr(r.Result), nullStr(r.Error), r.Attempt, r.DurationMs,
	)
	if err != nil {
		return persistErr("append history", err)
	}
	return nil
}

const selectHistory = `SELECT task_id, executed_at, success, result, error, attempt, duration_ms FROM history`

func (s *SQLiteStore) History(ctx context.Context, limit int) ([]task.ExecutionResult, error) {
	return s.queryHistory(ctx, selectHistory+` ORDER BY seq DESC LIMIT ?`, sqlLimit(limit))
}

func (s *SQLiteStore) HistoryForTask(ctx context.Context, id string, limit int) ([]task.ExecutionResult, error) {
	return s.queryHistory(ctx, selectHistory+` WHERE task_id = ? ORDER BY seq DESC LIMIT ?`, id, sqlLimit(limit))
}

func (s *SQLiteStore) queryHistory(ctx context.Context, query string, args ...any) ([]task.ExecutionResult, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistErr("query history", err)
	}
	defer rows.Close()

	var out []task.ExecutionResult
	for rows.Next() {
		var (
			r           task.ExecutionResult
			executedAt  string
			result, msg sql.NullString
		)
		if err := rows.Scan(&r.TaskID, &executedAt, &r.Success, &result, &msg, &r.Attempt, &r.DurationMs); err != nil {
			return nil, persistErr("scan history", err)
		}
		if r.ExecutedAt, err = parseTime(executedAt); err != nil {
			return nil, persistErr("scan history", err)
		}
		r.Result, r.Error = result.String, msg.String
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, persistErr("query history", err)
	}
	return out, nil
}

func (s *SQLiteStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, persistErr("get setting", err)
	}
	return v, true, nil
}

func (s *SQLiteStore) PutSetting(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings(key, value) VALUES(?, ?) ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value)
	if err != nil {
		return persistErr("put setting", err)
	}
	return nil
}

// CountTasks is used by the migration probe.
func (s *SQLiteStore) CountTasks(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&n); err != nil {
		return 0, persistErr("count tasks", err)
	}
	return n, nil
}

func encodeOptional(v any) (any, error) {
	switch x := v.(type) {
	case *task.RetryConfig:
		if x == nil {
			return nil, nil
		}
	case *task.Dependencies:
		if x == nil {
			return nil, nil
		}
	}
	b, err := sonic.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func sqlLimit(limit int) int {
	if limit <= 0 {
		return -1
	}
	return limit
}
