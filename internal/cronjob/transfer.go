package cronjob

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/tgifai/taskd/internal/consts"
	"github.com/tgifai/taskd/internal/pkg/logs"
	"github.com/tgifai/taskd/internal/task"
)

// ImportError reports one document entry that was not imported.
type ImportError struct {
	Index int    `json:"index"`
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Error string `json:"error"`
}

type ImportReport struct {
	Imported int               `json:"imported"`
	Skipped  int               `json:"skipped"`
	Errors   []ImportError     `json:"errors,omitempty"`
	Remapped map[string]string `json:"remapped,omitempty"`
	Timezone string            `json:"timezone,omitempty"`
}

// Export flushes pending changes and returns the versioned document.
func (e *Engine) Export(ctx context.Context) (*task.Document, error) {
	if err := e.flush(ctx, false); err != nil {
		logs.CtxWarn(ctx, "[cronjob] flush before export: %v", err)
	}
	tasks := e.List(ctx, ListFilter{})
	for _, t := range tasks {
		t.NextRun = nil
	}
	return &task.Document{
		Version:   task.DocumentVersion,
		Generator: consts.Generator(),
		Timezone:  e.Timezone(),
		Tasks:     tasks,
		SavedAt:   e.now().UTC(),
	}, nil
}

// CheckDocument rejects documents this build cannot read.
func CheckDocument(doc *task.Document) error {
	if doc == nil {
		return fmt.Errorf("%w: empty document", task.ErrInvalidTask)
	}
	if doc.Version > task.DocumentVersion {
		return fmt.Errorf("%w: unsupported document version %d", task.ErrInvalidTask, doc.Version)
	}
	name, ver, ok := strings.Cut(doc.Generator, "/")
	if !ok || name != consts.AppName {
		return nil
	}
	theirs, err := semver.NewVersion(ver)
	if err != nil {
		return nil
	}
	ours, err := semver.NewVersion(consts.Version)
	if err != nil {
		return nil
	}
	if theirs.Major() > ours.Major() {
		return fmt.Errorf("%w: document written by %s, this is %s", task.ErrInvalidTask, doc.Generator, consts.Generator())
	}
	return nil
}

// Import loads doc. With merge the tasks are added next to the existing
// ones; otherwise every existing task is cancelled first and the document's
// ids are kept. Entries that do not validate, name an upstream that is
// neither known nor imported, or close a dependency cycle are skipped and
// reported. Imported ids that clash with a known or cancelled id are
// replaced and references to them rewritten.
func (e *Engine) Import(ctx context.Context, doc *task.Document, merge bool) (*ImportReport, error) {
	if err := CheckDocument(doc); err != nil {
		return nil, err
	}
	report := &ImportReport{Remapped: make(map[string]string)}

	e.mu.Lock()
	if err := e.stateErr(); err != nil {
		e.mu.Unlock()
		return nil, err
	}

	// ids retired by this replace may come back with the document
	retired := maps.Clone(e.retired)
	var removed []string
	if !merge {
		for id := range e.tasks {
			e.removeLocked(id)
			removed = append(removed, id)
		}
		e.resolver.reset()
	}

	var accepted []importEntry
	for i, in := range doc.Tasks {
		if in == nil {
			report.Errors = append(report.Errors, ImportError{Index: i, Error: "empty entry"})
			continue
		}
		t := in.Clone()
		t.NextRun = nil
		if t.RetryConfig != nil {
			t.RetryConfig.RetryCount = 0
		}
		t.Normalize()

		// validate with the original id so self-dependencies are caught
		if err := t.Validate(); err != nil {
			report.Errors = append(report.Errors, ImportError{Index: i, ID: in.ID, Name: in.Name, Error: err.Error()})
			continue
		}

		_, live := e.tasks[t.ID]
		_, gone := retired[t.ID]
		taken := slices.ContainsFunc(accepted, func(a importEntry) bool { return a.t.ID == t.ID })
		if t.ID == "" || live || gone || taken {
			fresh := e.newIDLocked()
			if _, dup := report.Remapped[t.ID]; t.ID != "" && !taken && !dup {
				report.Remapped[t.ID] = fresh
			}
			t.ID = fresh
		}
		if t.CreatedAt.IsZero() {
			t.CreatedAt = e.now()
		}
		accepted = append(accepted, importEntry{index: i, origID: in.ID, t: t})
	}

	for _, a := range accepted {
		if a.t.Dependencies == nil {
			continue
		}
		for j, up := range a.t.Dependencies.TaskIDs {
			if fresh, ok := report.Remapped[up]; ok {
				a.t.Dependencies.TaskIDs[j] = fresh
			}
		}
	}
	accepted = e.dropBrokenEdgesLocked(accepted, report)

	for _, a := range accepted {
		e.tasks[a.t.ID] = a.t
		delete(e.retired, a.t.ID)
	}
	for _, a := range accepted {
		t := a.t
		if err := e.armLocked(t); err != nil {
			// cron was validated above; only a registry failure lands here
			t.Enabled = false
			t.NextRun = nil
			report.Errors = append(report.Errors, ImportError{Index: a.index, ID: a.origID, Name: t.Name, Error: err.Error()})
			continue
		}
		report.Imported++
	}
	report.Skipped = len(doc.Tasks) - report.Imported
	e.dirty = true

	// rows of re-imported ids are rewritten by the flush below
	removed = slices.DeleteFunc(removed, func(id string) bool {
		_, back := e.tasks[id]
		return back
	})
	e.mu.Unlock()

	e.flushMu.Lock()
	for _, id := range removed {
		if err := e.store.Delete(ctx, id); err != nil {
			logs.CtxError(ctx, "[cronjob] delete %s during replace import: %v", id, err)
		}
	}
	e.flushMu.Unlock()

	if doc.Timezone != "" && doc.Timezone != e.Timezone() {
		if err := e.SetTimezone(ctx, doc.Timezone); err != nil {
			report.Errors = append(report.Errors, ImportError{Index: -1, Error: err.Error()})
		}
	}
	report.Timezone = e.Timezone()

	if err := e.flush(ctx, true); err != nil {
		logs.CtxError(ctx, "[cronjob] flush after import: %v", err)
	}
	if len(report.Remapped) == 0 {
		report.Remapped = nil
	}
	logs.CtxInfo(ctx, "[cronjob] import (merge=%v): imported=%d skipped=%d", merge, report.Imported, report.Skipped)
	return report, nil
}

type importEntry struct {
	index  int
	origID string
	t      *task.ScheduledTask
}

// dropBrokenEdgesLocked removes entries whose upstreams are neither live
// nor imported, or that sit on a dependency cycle, until the rest is
// consistent. Dropping one entry can orphan its dependents, hence the loop.
func (e *Engine) dropBrokenEdgesLocked(entries []importEntry, report *ImportReport) []importEntry {
	for {
		byID := make(map[string]*task.ScheduledTask, len(entries))
		for _, a := range entries {
			byID[a.t.ID] = a.t
		}
		lookup := func(id string) (*task.ScheduledTask, bool) {
			if t, ok := byID[id]; ok {
				return t, true
			}
			t, ok := e.tasks[id]
			return t, ok
		}

		kept := entries[:0:0]
		for _, a := range entries {
			if reason := brokenEdge(a.t, lookup); reason != "" {
				report.Errors = append(report.Errors, ImportError{Index: a.index, ID: a.origID, Name: a.t.Name, Error: reason})
				continue
			}
			kept = append(kept, a)
		}
		if len(kept) == len(entries) {
			return kept
		}
		entries = kept
	}
}

func brokenEdge(t *task.ScheduledTask, lookup func(string) (*task.ScheduledTask, bool)) string {
	if t.Dependencies == nil {
		return ""
	}
	for _, up := range t.Dependencies.TaskIDs {
		if _, ok := lookup(up); !ok {
			return fmt.Sprintf("dependency %s does not exist", up)
		}
	}
	for _, up := range t.Dependencies.TaskIDs {
		if reaches(up, t.ID, lookup, map[string]bool{}) {
			return fmt.Sprintf("dependency on %s would create a cycle", up)
		}
	}
	return ""
}
