package task

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Type is the execution kind of a task. It is fixed at creation.
type Type string

const (
	TypeScript   Type = "script"
	TypeAgent    Type = "agent"
	TypeReminder Type = "reminder"
	TypeCommand  Type = "command"
	TypeWebhook  Type = "webhook"
)

var Types = []Type{TypeScript, TypeAgent, TypeReminder, TypeCommand, TypeWebhook}

func (t Type) Valid() bool { return slices.Contains(Types, t) }

type DependencyMode string

const (
	ModeAll DependencyMode = "all"
	ModeAny DependencyMode = "any"
)

type FailurePolicy string

const (
	OnFailureSkip FailurePolicy = "skip"
	OnFailureRun  FailurePolicy = "run"
)

// ScheduledTask is a schedulable unit of work.
type ScheduledTask struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Type           Type          `json:"type"`
	CronExpression string        `json:"cronExpression"`
	Enabled        bool          `json:"enabled"`
	CreatedAt      time.Time     `json:"createdAt"`
	LastRun        *time.Time    `json:"lastRun,omitempty"`
	NextRun        *time.Time    `json:"nextRun,omitempty"`
	RunCount       int64         `json:"runCount"`
	Metadata       Metadata      `json:"metadata"`
	RetryConfig    *RetryConfig  `json:"retryConfig,omitempty"`
	Dependencies   *Dependencies `json:"dependencies,omitempty"`
}

// RetryConfig drives exponential backoff. InitialDelay is in milliseconds.
type RetryConfig struct {
	MaxRetries        int     `json:"maxRetries"`
	RetryCount        int     `json:"retryCount"`
	BackoffMultiplier float64 `json:"backoffMultiplier"`
	InitialDelay      int64   `json:"initialDelay"`
}

type Dependencies struct {
	TaskIDs   []string       `json:"taskIds"`
	Mode      DependencyMode `json:"mode"`
	OnFailure FailurePolicy  `json:"onFailure"`
}

// ExecutionResult is an append-only record of one execution attempt.
type ExecutionResult struct {
	TaskID     string    `json:"taskId"`
	ExecutedAt time.Time `json:"executedAt"`
	Success    bool      `json:"success"`
	Result     string    `json:"result,omitempty"`
	Error      string    `json:"error,omitempty"`
	Attempt    int       `json:"attempt"`
	DurationMs int64     `json:"durationMs"`
}

// DependencyOnly reports whether the task is never timer-triggered.
func (t *ScheduledTask) DependencyOnly() bool {
	return strings.TrimSpace(t.CronExpression) == ""
}

func (t *ScheduledTask) HasDependency(id string) bool {
	return t.Dependencies != nil && slices.Contains(t.Dependencies.TaskIDs, id)
}

// Clone returns a deep copy safe to hand outside the engine lock.
func (t *ScheduledTask) Clone() *ScheduledTask {
	if t == nil {
		return nil
	}
	cp := *t
	if t.LastRun != nil {
		v := *t.LastRun
		cp.LastRun = &v
	}
	if t.NextRun != nil {
		v := *t.NextRun
		cp.NextRun = &v
	}
	cp.Metadata = t.Metadata.Clone()
	if t.RetryConfig != nil {
		v := *t.RetryConfig
		cp.RetryConfig = &v
	}
	if t.Dependencies != nil {
		v := *t.Dependencies
		v.TaskIDs = slices.Clone(t.Dependencies.TaskIDs)
		cp.Dependencies = &v
	}
	return &cp
}

// Normalize trims input and fills defaults for optional blocks.
func (t *ScheduledTask) Normalize() {
	t.Name = strings.TrimSpace(t.Name)
	t.CronExpression = strings.Join(strings.Fields(t.CronExpression), " ")
	if rc := t.RetryConfig; rc != nil {
		if rc.BackoffMultiplier == 0 {
			rc.BackoffMultiplier = 2
		}
		if rc.InitialDelay == 0 {
			rc.InitialDelay = 1000
		}
	}
	if d := t.Dependencies; d != nil {
		if d.Mode == "" {
			d.Mode = ModeAll
		}
		if d.OnFailure == "" {
			d.OnFailure = OnFailureSkip
		}
		ids := make([]string, 0, len(d.TaskIDs))
		for _, id := range d.TaskIDs {
			if id = strings.TrimSpace(id); id != "" && !slices.Contains(ids, id) {
				ids = append(ids, id)
			}
		}
		d.TaskIDs = ids
		if len(ids) == 0 {
			t.Dependencies = nil
		}
	}
}

// Validate checks everything except the referenced dependency ids, which
// need the full task set.
func (t *ScheduledTask) Validate() error {
	if t.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidTask)
	}
	if !t.Type.Valid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidTask, t.Type)
	}
	if !t.DependencyOnly() {
		if _, err := ParseCron(t.CronExpression); err != nil {
			return err
		}
	}
	if rc := t.RetryConfig; rc != nil {
		if rc.MaxRetries < 0 || rc.RetryCount < 0 || rc.InitialDelay < 0 || rc.BackoffMultiplier < 0 {
			return fmt.Errorf("%w: retryConfig values must not be negative", ErrInvalidTask)
		}
		if rc.RetryCount > rc.MaxRetries {
			rc.RetryCount = rc.MaxRetries
		}
	}
	if d := t.Dependencies; d != nil {
		switch d.Mode {
		case ModeAll, ModeAny:
		default:
			return fmt.Errorf("%w: unknown dependency mode %q", ErrInvalidTask, d.Mode)
		}
		switch d.OnFailure {
		case OnFailureSkip, OnFailureRun:
		default:
			return fmt.Errorf("%w: unknown onFailure policy %q", ErrInvalidTask, d.OnFailure)
		}
		if t.ID != "" && slices.Contains(d.TaskIDs, t.ID) {
			return fmt.Errorf("%w: task cannot depend on itself", ErrInvalidTask)
		}
	}
	return nil
}

// RetryDelay returns initialDelay * multiplier^retryCount.
func (rc *RetryConfig) RetryDelay() time.Duration {
	ms := float64(rc.InitialDelay)
	for i := 0; i < rc.RetryCount; i++ {
		ms *= rc.BackoffMultiplier
	}
	return time.Duration(ms * float64(time.Millisecond))
}

// CanRetry reports whether another attempt is allowed for this firing.
func (rc *RetryConfig) CanRetry() bool {
	return rc != nil && rc.RetryCount < rc.MaxRetries
}
