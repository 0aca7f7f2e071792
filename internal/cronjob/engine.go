package cronjob

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tgifai/taskd/internal/config"
	"github.com/tgifai/taskd/internal/pkg/logs"
	"github.com/tgifai/taskd/internal/store"
	"github.com/tgifai/taskd/internal/task"
)

var (
	ErrNotInitialized = errors.New("engine not initialized")
	ErrEngineClosed   = errors.New("engine is shut down")
	ErrAlreadyRunning = errors.New("task is already running")
)

const outcomeBuffer = 256

type Option func(*Engine)

// WithClock replaces time.Now for the engine and its registry.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// outcome is one settled firing, delivered to the single outcome loop.
type outcome struct {
	taskID   string
	typ      task.Type
	attempt  int
	trigger  Trigger
	started  time.Time
	duration time.Duration
	result   string
	err      error
	// signaled is set when task:error was already emitted at dispatch time.
	signaled bool
}

// Engine owns the task set and drives firing, retries, dependency
// resolution, history and persistence.
type Engine struct {
	cfg      config.SchedulerConfig
	store    store.Store
	bus      *Bus
	registry *Registry
	resolver *resolver
	history  *history
	events   eventHub
	now      func() time.Time

	tasks       map[string]*task.ScheduledTask
	retired     map[string]struct{}
	retryTimers map[string]*time.Timer
	inflight    map[string]int
	dirty       bool
	initialized bool
	closed      bool
	mu          sync.RWMutex

	flushMu sync.Mutex

	baseCtx    context.Context
	cancelBase context.CancelFunc
	handlers   sync.WaitGroup
	outcomes   chan outcome
	stopLoop   chan struct{}
	loopDone   chan struct{}
	stopSave   chan struct{}
	saveDone   chan struct{}
}

// New wires an engine. Nothing runs until Init.
func New(cfg config.SchedulerConfig, st store.Store, bus *Bus, opts ...Option) *Engine {
	e := &Engine{
		cfg:         cfg,
		store:       st,
		bus:         bus,
		history:     newHistory(cfg.HistorySize),
		resolver:    newResolver(cfg.DependencyWindow),
		now:         time.Now,
		tasks:       make(map[string]*task.ScheduledTask),
		retired:     make(map[string]struct{}),
		retryTimers: make(map[string]*time.Timer),
		inflight:    make(map[string]int),
		outcomes:    make(chan outcome, outcomeBuffer),
		stopLoop:    make(chan struct{}),
		loopDone:    make(chan struct{}),
		stopSave:    make(chan struct{}),
		saveDone:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.cfg.DefaultTimeout <= 0 {
		e.cfg.DefaultTimeout = 5 * time.Minute
	}
	if e.bus == nil {
		e.bus = NewBus()
	}
	e.baseCtx, e.cancelBase = context.WithCancel(context.Background())
	return e
}

// Init loads persisted tasks, installs their timers and starts the
// background loops. Stored nextRun values are ignored and recomputed.
func (e *Engine) Init(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	if e.initialized {
		return nil
	}

	tz := e.cfg.Timezone
	if saved, ok, err := e.store.GetSetting(ctx, store.SettingTimezone); err != nil {
		logs.CtxWarn(ctx, "[cronjob] read timezone setting: %v", err)
	} else if ok && saved != "" {
		tz = saved
	}
	if tz == "" {
		tz = "UTC"
	}
	loc, err := task.LoadLocation(tz)
	if err != nil {
		return err
	}
	e.registry = newRegistry(loc, e.now, func(id string) {
		if err := e.fire(id, TriggerCron); err != nil && !errors.Is(err, ErrEngineClosed) {
			logs.Warn("[cronjob] cron fire %s: %v", id, err)
		}
	})

	tasks, err := e.store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("load tasks: %w", err)
	}
	for _, t := range tasks {
		t.NextRun = nil
		e.tasks[t.ID] = t
		if !t.Enabled || t.DependencyOnly() {
			continue
		}
		next, err := e.registry.Register(t)
		if err != nil {
			logs.CtxError(ctx, "[cronjob] task %s (%s) has an unusable schedule, not registered: %v", t.Name, t.ID, err)
			continue
		}
		t.NextRun = &next
	}

	e.registry.Start()
	go e.loop()
	go e.autosave()
	e.initialized = true
	e.updateGauges()

	logs.CtxInfo(ctx, "[cronjob] engine started (tasks=%d, timers=%d, tz=%s, backend=%s)",
		len(e.tasks), e.registry.Len(), loc, e.store.Backend())
	return nil
}

// Shutdown stops timers, waits up to the grace period for running
// handlers, records their outcomes, flushes and closes the store.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	started := e.initialized
	for id, tm := range e.retryTimers {
		tm.Stop()
		delete(e.retryTimers, id)
	}
	e.mu.Unlock()

	if started {
		<-e.registry.Stop().Done()
		close(e.stopSave)
		<-e.saveDone

		done := make(chan struct{})
		go func() {
			e.handlers.Wait()
			close(done)
		}()
		grace := e.cfg.ShutdownGrace
		if grace <= 0 {
			grace = 10 * time.Second
		}
		timer := time.NewTimer(grace)
		select {
		case <-done:
		case <-timer.C:
			logs.CtxWarn(ctx, "[cronjob] shutdown grace %s elapsed, aborting running handlers", grace)
		case <-ctx.Done():
			logs.CtxWarn(ctx, "[cronjob] shutdown interrupted, aborting running handlers")
		}
		timer.Stop()
		e.cancelBase()

		close(e.stopLoop)
		<-e.loopDone

		if err := e.flush(ctx, true); err != nil {
			logs.CtxError(ctx, "[cronjob] final flush: %v", err)
		}
	}
	e.cancelBase()

	e.events.publish(Event{Kind: EventShutdown, At: e.now()})
	logs.CtxInfo(ctx, "[cronjob] engine stopped")
	return e.store.Close()
}

// Events subscribes to engine signals. Call the returned func to stop.
func (e *Engine) Events(buf int) (<-chan Event, func()) {
	return e.events.subscribe(buf)
}

// fire emits task:start and the kind request for one firing. The handler
// result arrives later on the outcome loop.
func (e *Engine) fire(id string, trigger Trigger) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrEngineClosed
	}
	if !e.initialized {
		e.mu.Unlock()
		return ErrNotInitialized
	}
	t, ok := e.tasks[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", task.ErrTaskNotFound, id)
	}
	if !t.Enabled && trigger != TriggerManual {
		e.mu.Unlock()
		return nil
	}
	if e.cfg.PreventOverlap && e.inflight[id] > 0 {
		e.mu.Unlock()
		if trigger == TriggerManual {
			return fmt.Errorf("%w: %s", ErrAlreadyRunning, id)
		}
		logs.Info("[cronjob] skip %s firing of %s: previous run still in flight", trigger, id)
		return nil
	}

	now := e.now()
	t.LastRun = &now
	t.RunCount++
	if next, ok := e.registry.NextRun(id); ok {
		t.NextRun = &next
	}
	attempt := 0
	if trigger == TriggerRetry && t.RetryConfig != nil {
		attempt = t.RetryConfig.RetryCount
	}
	snapshot := t.Clone()
	e.inflight[id]++
	e.dirty = true
	e.handlers.Add(1)
	e.mu.Unlock()

	ctx := logs.WithTask(logs.SetLogID(e.baseCtx, logs.NewLogID()), id)
	firesTotal.WithLabelValues(string(snapshot.Type), string(trigger)).Inc()
	e.events.publish(Event{
		Kind: EventTaskStart, TaskID: id, TaskName: snapshot.Name, Type: snapshot.Type,
		Trigger: trigger, Attempt: attempt, At: now,
	})
	logs.CtxInfo(ctx, "[cronjob] fire %s (%s) trigger=%s attempt=%d", snapshot.Name, snapshot.Type, trigger, attempt)

	base := outcome{taskID: id, typ: snapshot.Type, attempt: attempt, trigger: trigger, started: now}
	req, err := buildRequest(snapshot, attempt, e.cfg.DefaultTimeout)
	if err == nil {
		hctx, cancel := context.WithTimeout(ctx, req.Meta().Timeout)
		err = e.bus.Publish(hctx, req, func(c Completion) {
			cancel()
			o := base
			o.result, o.err, o.duration = c.Result, c.Err, c.Duration
			e.report(o)
		})
		if err != nil {
			cancel()
		} else {
			e.events.publish(Event{Kind: Signal(req.Kind()), TaskID: id, TaskName: snapshot.Name, Type: snapshot.Type, Trigger: trigger, Attempt: attempt})
		}
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", task.ErrDispatch, err)
		logs.CtxError(ctx, "[cronjob] dispatch %s: %v", id, err)
		e.events.publish(Event{Kind: EventTaskError, TaskID: id, TaskName: snapshot.Name, Type: snapshot.Type, Trigger: trigger, Attempt: attempt, Error: err.Error()})
		o := base
		o.err, o.signaled = err, true
		e.report(o)
	}

	if err := e.flush(ctx, false); err != nil {
		logs.CtxError(ctx, "[cronjob] flush after firing %s: %v", id, err)
	}
	return nil
}

// report hands an outcome to the loop. Outcomes that arrive after the loop
// exited are logged and dropped.
func (e *Engine) report(o outcome) {
	defer e.handlers.Done()
	select {
	case <-e.loopDone:
		logs.Warn("[cronjob] dropping late outcome of %s (attempt %d): engine stopped", o.taskID, o.attempt)
		return
	default:
	}
	select {
	case e.outcomes <- o:
	case <-e.loopDone:
		logs.Warn("[cronjob] dropping late outcome of %s (attempt %d): engine stopped", o.taskID, o.attempt)
	}
}

func (e *Engine) loop() {
	defer close(e.loopDone)
	for {
		select {
		case o := <-e.outcomes:
			e.settle(o)
		case <-e.stopLoop:
			for {
				select {
				case o := <-e.outcomes:
					e.settle(o)
				default:
					return
				}
			}
		}
	}
}

// settle records one outcome, then either schedules a retry or resolves
// dependents of the upstream.
func (e *Engine) settle(o outcome) {
	ctx := logs.WithTask(e.baseCtx, o.taskID)
	success := o.err == nil
	rec := task.ExecutionResult{
		TaskID:     o.taskID,
		ExecutedAt: o.started,
		Success:    success,
		Result:     o.result,
		Attempt:    o.attempt,
		DurationMs: o.duration.Milliseconds(),
	}
	if o.err != nil {
		rec.Error = o.err.Error()
	}

	var (
		name    string
		fire    []string
		delay   time.Duration
		retry   bool
		notice  bool
		meta    task.Metadata
		current = e.now()
	)

	e.mu.Lock()
	if n := e.inflight[o.taskID] - 1; n > 0 {
		e.inflight[o.taskID] = n
	} else {
		delete(e.inflight, o.taskID)
	}
	t, exists := e.tasks[o.taskID]
	if exists {
		name, meta = t.Name, t.Metadata
		switch {
		case success:
			if t.RetryConfig != nil {
				t.RetryConfig.RetryCount = 0
			}
			fire = e.resolver.resolve(o.taskID, true, e.tasks, current)
		case !e.closed && t.Enabled && t.RetryConfig.CanRetry():
			delay = e.retryDelay(t.RetryConfig)
			t.RetryConfig.RetryCount++
			e.scheduleRetryLocked(o.taskID, delay)
			retry = true
		default:
			notice = meta.WantsFailureNotice()
			fire = e.resolver.resolve(o.taskID, false, e.tasks, current)
		}
		e.dirty = true
	}
	e.mu.Unlock()

	e.history.add(rec)
	if err := e.store.AppendHistory(ctx, rec); err != nil {
		logs.CtxError(ctx, "[cronjob] append history for %s: %v", o.taskID, err)
	}
	outcomesTotal.WithLabelValues(string(o.typ), resultLabel(success)).Inc()

	if success {
		logs.CtxInfo(ctx, "[cronjob] %s completed in %dms", o.taskID, rec.DurationMs)
		e.events.publish(Event{Kind: EventTaskComplete, TaskID: o.taskID, TaskName: name, Type: o.typ, Trigger: o.trigger, Attempt: o.attempt, Result: o.result})
	} else {
		logs.CtxWarn(ctx, "[cronjob] %s failed (attempt %d): %v", o.taskID, o.attempt, o.err)
		if !o.signaled {
			e.events.publish(Event{Kind: EventTaskError, TaskID: o.taskID, TaskName: name, Type: o.typ, Trigger: o.trigger, Attempt: o.attempt, Error: rec.Error})
		}
	}
	if retry {
		retriesTotal.WithLabelValues(string(o.typ)).Inc()
		logs.CtxInfo(ctx, "[cronjob] retry %s in %s (attempt %d)", o.taskID, delay, o.attempt+1)
		e.events.publish(Event{Kind: EventTaskRetry, TaskID: o.taskID, TaskName: name, Type: o.typ, Attempt: o.attempt + 1, Delay: delay, Error: rec.Error})
	}
	if notice {
		e.events.publish(Event{
			Kind: EventTaskFailed, TaskID: o.taskID, TaskName: name, Type: o.typ, Attempt: o.attempt,
			Error: rec.Error, ChannelID: meta.ChannelID, ChatID: meta.ChatID,
		})
	}

	for _, id := range fire {
		go func(id string) {
			if err := e.fire(id, TriggerDependency); err != nil && !errors.Is(err, ErrEngineClosed) {
				logs.Warn("[cronjob] dependency fire %s after %s: %v", id, o.taskID, err)
			}
		}(id)
	}
}

// flush writes the task set when it changed since the last write, or
// always when force is set.
func (e *Engine) flush(ctx context.Context, force bool) error {
	e.flushMu.Lock()
	defer e.flushMu.Unlock()

	e.mu.Lock()
	if !e.dirty && !force {
		e.mu.Unlock()
		return nil
	}
	snapshot := make([]*task.ScheduledTask, 0, len(e.tasks))
	for _, t := range e.tasks {
		snapshot = append(snapshot, t.Clone())
	}
	e.dirty = false
	e.updateGauges()
	e.mu.Unlock()

	if len(snapshot) == 0 {
		return nil
	}
	if err := e.store.PutAll(ctx, snapshot); err != nil {
		e.mu.Lock()
		e.dirty = true
		e.mu.Unlock()
		return err
	}
	return nil
}

// autosave is the debounced writer: mutations only mark the set dirty and
// this loop writes at most once per interval.
func (e *Engine) autosave() {
	defer close(e.saveDone)
	interval := e.cfg.AutosaveInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-e.stopSave:
			return
		case <-ticker.C:
			if err := e.flush(e.baseCtx, false); err != nil {
				logs.Error("[cronjob] autosave: %v", err)
			}
		}
	}
}

// updateGauges must be called with e.mu held.
func (e *Engine) updateGauges() {
	var enabled, paused, depOnly float64
	for _, t := range e.tasks {
		switch {
		case !t.Enabled:
			paused++
		case t.DependencyOnly():
			depOnly++
			enabled++
		default:
			enabled++
		}
	}
	tasksGauge.WithLabelValues("enabled").Set(enabled)
	tasksGauge.WithLabelValues("paused").Set(paused)
	tasksGauge.WithLabelValues("dependency_only").Set(depOnly)
}

// stateErr reports why the engine cannot take operations. Call with e.mu held.
func (e *Engine) stateErr() error {
	switch {
	case e.closed:
		return ErrEngineClosed
	case !e.initialized:
		return ErrNotInitialized
	}
	return nil
}
