package store

import (
	"context"
	"fmt"
	"time"

	"github.com/tgifai/taskd/internal/pkg/logs"
)

// Open picks the backend by probing sqlite. With driver "file" the JSON
// file is used alone. Otherwise sqlite is preferred and the JSON file
// stays behind it as the per-operation fallback; if sqlite cannot be
// initialized the file store is returned on its own.
func Open(ctx context.Context, cfg Config) (Store, error) {
	file, fileErr := OpenFile(cfg.FilePath)
	if cfg.Driver == BackendFile {
		if fileErr != nil {
			return nil, persistErr("open file store", fileErr)
		}
		logs.CtxInfo(ctx, "[store] using file backend at %s", cfg.FilePath)
		return file, nil
	}

	sq, err := OpenSQLite(ctx, cfg.Path)
	if err != nil {
		if fileErr != nil {
			return nil, persistErr("open store", fmt.Errorf("sqlite: %v; file: %w", err, fileErr))
		}
		logs.CtxWarn(ctx, "[store] sqlite unavailable at %s, using file backend: %v", cfg.Path, err)
		return file, nil
	}
	if fileErr != nil {
		logs.CtxWarn(ctx, "[store] file backend unreadable at %s, running sqlite without fallback: %v", cfg.FilePath, fileErr)
		return sq, nil
	}

	n, err := Migrate(ctx, sq, file)
	if err != nil {
		logs.CtxError(ctx, "[store] migrate from %s failed: %v", cfg.FilePath, err)
	} else if n > 0 {
		logs.CtxInfo(ctx, "[store] migrated %d task(s) from %s into sqlite", n, cfg.FilePath)
	}
	logs.CtxInfo(ctx, "[store] using sqlite backend at %s", cfg.Path)
	return NewFallback(sq, file), nil
}

// Migrate copies every task and setting from src into dst once: only when
// dst holds no tasks, src does, and no earlier migration was recorded.
func Migrate(ctx context.Context, dst *SQLiteStore, src *FileStore) (int, error) {
	if _, done, err := dst.GetSetting(ctx, SettingMigrated); err != nil || done {
		return 0, err
	}
	count, err := dst.CountTasks(ctx)
	if err != nil || count > 0 || !src.HasTasks() {
		return 0, err
	}

	tasks, err := src.ListAll(ctx)
	if err != nil {
		return 0, err
	}
	if err := dst.PutAll(ctx, tasks); err != nil {
		return 0, err
	}

	src.mu.RLock()
	settings := make(map[string]string, len(src.settings))
	for k, v := range src.settings {
		settings[k] = v
	}
	src.mu.RUnlock()
	for k, v := range settings {
		if err := dst.PutSetting(ctx, k, v); err != nil {
			return 0, err
		}
	}
	if err := dst.PutSetting(ctx, SettingMigrated, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return 0, err
	}
	return len(tasks), nil
}
