package store

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"

	"github.com/tgifai/taskd/internal/consts"
	"github.com/tgifai/taskd/internal/task"
)

var _ Store = (*FileStore)(nil)

// FileStore keeps tasks and settings in one versioned JSON document,
// rewritten atomically (tmp + rename) on every mutation. History is
// appended to a sibling JSONL file.
type FileStore struct {
	path        string
	historyPath string

	tasks    map[string]*task.ScheduledTask
	settings map[string]string
	mu       sync.RWMutex
	histMu   sync.Mutex
}

// OpenFile loads path if it exists. A missing file is an empty store.
func OpenFile(path string) (*FileStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("file store path is required")
	}
	s := &FileStore{
		path:        path,
		historyPath: strings.TrimSuffix(path, filepath.Ext(path)) + ".history.jsonl",
		tasks:       make(map[string]*task.ScheduledTask),
		settings:    make(map[string]string),
	}
	doc, err := ReadDocument(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, err
	}
	for _, t := range doc.Tasks {
		if t == nil || t.ID == "" {
			continue
		}
		t.NextRun = nil
		s.tasks[t.ID] = t
	}
	for k, v := range doc.Settings {
		s.settings[k] = v
	}
	if doc.Timezone != "" {
		s.settings[SettingTimezone] = doc.Timezone
	}
	return s, nil
}

// ReadDocument decodes a versioned task document from path.
func ReadDocument(path string) (*task.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc task.Document
	if len(data) == 0 {
		return &doc, nil
	}
	if err := sonic.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if doc.Version > task.DocumentVersion {
		return nil, fmt.Errorf("decode %s: unsupported document version %d", path, doc.Version)
	}
	return &doc, nil
}

func (s *FileStore) Backend() string { return BackendFile }

func (s *FileStore) Path() string { return s.path }

// HasTasks reports whether the data file contributed any task.
func (s *FileStore) HasTasks() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tasks) > 0
}

func (s *FileStore) Put(_ context.Context, t *task.ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.ID] = t.Clone()
	return s.saveLocked()
}

func (s *FileStore) PutAll(_ context.Context, tasks []*task.ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tasks {
		s.tasks[t.ID] = t.Clone()
	}
	return s.saveLocked()
}

func (s *FileStore) Get(_ context.Context, id string) (*task.ScheduledTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", task.ErrTaskNotFound, id)
	}
	return t.Clone(), nil
}

func (s *FileStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[id]; !ok {
		return nil
	}
	delete(s.tasks, id)
	return s.saveLocked()
}

func (s *FileStore) ListAll(_ context.Context) ([]*task.ScheduledTask, error) {
	return s.list(func(*task.ScheduledTask) bool { return true }), nil
}

func (s *FileStore) ListByType(_ context.Context, typ task.Type) ([]*task.ScheduledTask, error) {
	return s.list(func(t *task.ScheduledTask) bool { return t.Type == typ }), nil
}

func (s *FileStore) ListEnabled(_ context.Context) ([]*task.ScheduledTask, error) {
	return s.list(func(t *task.ScheduledTask) bool { return t.Enabled }), nil
}

func (s *FileStore) list(keep func(*task.ScheduledTask) bool) []*task.ScheduledTask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*task.ScheduledTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		if keep(t) {
			out = append(out, t.Clone())
		}
	}
	sortTasks(out)
	return out
}

func (s *FileStore) GetSetting(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.settings[key]
	return v, ok, nil
}

func (s *FileStore) PutSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.settings[key]; ok && cur == value {
		return nil
	}
	s.settings[key] = value
	return s.saveLocked()
}

func (s *FileStore) AppendHistory(_ context.Context, r task.ExecutionResult) error {
	line, err := sonic.Marshal(r)
	if err != nil {
		return persistErr("encode history", err)
	}

	s.histMu.Lock()
	defer s.histMu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.historyPath), 0o755); err != nil {
		return persistErr("create history dir", err)
	}
	f, err := os.OpenFile(s.historyPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return persistErr("open history", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return persistErr("append history", err)
	}
	return nil
}

func (s *FileStore) History(_ context.Context, limit int) ([]task.ExecutionResult, error) {
	return s.readHistory("", limit)
}

func (s *FileStore) HistoryForTask(_ context.Context, id string, limit int) ([]task.ExecutionResult, error) {
	return s.readHistory(id, limit)
}

func (s *FileStore) readHistory(taskID string, limit int) ([]task.ExecutionResult, error) {
	s.histMu.Lock()
	defer s.histMu.Unlock()

	f, err := os.Open(s.historyPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, persistErr("open history", err)
	}
	defer f.Close()

	var all []task.ExecutionResult
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var r task.ExecutionResult
		if err := sonic.Unmarshal(sc.Bytes(), &r); err != nil {
			// a torn trailing line from a crash is skipped
			continue
		}
		if taskID == "" || r.TaskID == taskID {
			all = append(all, r)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, persistErr("scan history", err)
	}

	slices.Reverse(all)
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *FileStore) Close() error { return nil }

// Document snapshots the store in export layout.
func (s *FileStore) Document() *task.Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.documentLocked()
}

func (s *FileStore) documentLocked() *task.Document {
	tasks := make([]*task.ScheduledTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		cp := t.Clone()
		cp.NextRun = nil
		tasks = append(tasks, cp)
	}
	sortTasks(tasks)

	settings := make(map[string]string, len(s.settings))
	for k, v := range s.settings {
		if k != SettingTimezone {
			settings[k] = v
		}
	}
	return &task.Document{
		Version:   task.DocumentVersion,
		Generator: consts.Generator(),
		Timezone:  s.settings[SettingTimezone],
		Tasks:     tasks,
		Settings:  settings,
		SavedAt:   time.Now().UTC(),
	}
}

func (s *FileStore) saveLocked() error {
	if err := WriteDocument(s.path, s.documentLocked()); err != nil {
		return persistErr("save file store", err)
	}
	return nil
}

// WriteDocument atomically replaces path with doc.
func WriteDocument(path string, doc *task.Document) error {
	data, err := sonic.ConfigStd.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write tmp store: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename store: %w", err)
	}
	return nil
}

func sortTasks(tasks []*task.ScheduledTask) {
	slices.SortFunc(tasks, func(a, b *task.ScheduledTask) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}
