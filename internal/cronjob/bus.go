package cronjob

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/tgifai/taskd/internal/pkg/logs"
	"github.com/tgifai/taskd/internal/task"
)

var (
	ErrAlreadySubscribed = errors.New("kind already has a subscriber")
	ErrNoSubscriber      = errors.New("no subscriber for kind")
)

// Envelope identifies the firing a request belongs to.
type Envelope struct {
	TaskID   string
	TaskName string
	Attempt  int
	Timeout  time.Duration
}

func (e Envelope) Meta() Envelope { return e }

func (Envelope) sealed() {}

// Request is the tagged union of execution requests. Only the five request
// types below implement it.
type Request interface {
	Kind() task.Type
	Meta() Envelope
	sealed()
}

type ScriptRequest struct {
	Envelope
	Target     string
	Command    string
	Args       []string
	Language   string
	Stdin      string
	WorkingDir string
}

type AgentRequest struct {
	Envelope
	AgentName  string
	Task       string
	Context    map[string]string
	WorkingDir string
}

type ReminderRequest struct {
	Envelope
	Message   string
	AgentName string
	ChannelID string
	ChatID    string
}

type CommandRequest struct {
	Envelope
	Command        string
	WorkingDir     string
	AllowUnsafe    bool
	MaxOutputBytes int
}

type WebhookRequest struct {
	Envelope
	URL     string
	Method  string
	Headers map[string]string
	Body    string
}

func (ScriptRequest) Kind() task.Type   { return task.TypeScript }
func (AgentRequest) Kind() task.Type    { return task.TypeAgent }
func (ReminderRequest) Kind() task.Type { return task.TypeReminder }
func (CommandRequest) Kind() task.Type  { return task.TypeCommand }
func (WebhookRequest) Kind() task.Type  { return task.TypeWebhook }

// Signal returns the request signal name for kind, e.g. "command:execute".
func Signal(kind task.Type) EventKind {
	switch kind {
	case task.TypeScript:
		return "script:execute"
	case task.TypeAgent:
		return "agent:delegate"
	case task.TypeReminder:
		return "reminder:trigger"
	case task.TypeCommand:
		return "command:execute"
	case task.TypeWebhook:
		return "webhook:trigger"
	default:
		return EventKind(string(kind) + ":unknown")
	}
}

// Handler performs the side effect for one kind and returns a short result.
type Handler interface {
	Handle(ctx context.Context, req Request) (string, error)
}

type HandlerFunc func(ctx context.Context, req Request) (string, error)

func (f HandlerFunc) Handle(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

// Completion is what a handler reported for one request.
type Completion struct {
	Result   string
	Err      error
	Started  time.Time
	Duration time.Duration
}

// Bus routes each request to the single subscriber registered for its kind.
type Bus struct {
	subs map[task.Type]Handler
	mu   sync.RWMutex
}

func NewBus() *Bus {
	return &Bus{subs: make(map[task.Type]Handler, len(task.Types))}
}

func (b *Bus) Subscribe(kind task.Type, h Handler) error {
	if !kind.Valid() {
		return fmt.Errorf("subscribe: unknown kind %q", kind)
	}
	if h == nil {
		return fmt.Errorf("subscribe %s: nil handler", kind)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[kind]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadySubscribed, kind)
	}
	b.subs[kind] = h
	return nil
}

func (b *Bus) Unsubscribe(kind task.Type) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, kind)
}

func (b *Bus) Subscribed(kind task.Type) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.subs[kind]
	return ok
}

// Publish hands req to its subscriber on a new goroutine and returns at
// once. done is called exactly once, also when the handler panics.
func (b *Bus) Publish(ctx context.Context, req Request, done func(Completion)) error {
	b.mu.RLock()
	h, ok := b.subs[req.Kind()]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNoSubscriber, req.Kind())
	}

	go func() {
		started := time.Now()
		var c Completion
		defer func() {
			if r := recover(); r != nil {
				logs.CtxError(ctx, "[cronjob] %s handler panic: %v\n%s", req.Kind(), r, debug.Stack())
				c.Result, c.Err = "", fmt.Errorf("%w: handler panic: %v", task.ErrHandlerFailure, r)
			}
			c.Started, c.Duration = started, time.Since(started)
			done(c)
		}()

		c.Result, c.Err = h.Handle(ctx, req)
		if c.Err != nil && !errors.Is(c.Err, task.ErrHandlerFailure) {
			c.Err = fmt.Errorf("%w: %w", task.ErrHandlerFailure, c.Err)
		}
	}()
	return nil
}
