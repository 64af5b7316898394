package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/flowforge/flowforge/flow"
)

// ExecutionStatus is the caller-facing state of a tracked execution.
// Executions are tracked only while running: once complete they are removed
// from the active table and Status reports NOT_FOUND; history belongs to the
// Storage collaborator.
type ExecutionStatus string

const (
	StatusNotFound    ExecutionStatus = "NOT_FOUND"
	StatusRunning     ExecutionStatus = "RUNNING"
	StatusPaused      ExecutionStatus = "PAUSED"
	StatusSuccessExec ExecutionStatus = "SUCCESS"
	StatusFailedExec  ExecutionStatus = "FAILED"
	StatusCancelled   ExecutionStatus = "CANCELLED"
)

// ResultStatus maps a final flow outcome onto the caller-facing execution
// status, used when answering status queries from stored history. Partial
// counts as SUCCESS because the flow ran to completion; a timeout is a
// failure.
func ResultStatus(s flow.Status) ExecutionStatus {
	switch s {
	case flow.StatusSuccess, flow.StatusPartial:
		return StatusSuccessExec
	case flow.StatusCancelled:
		return StatusCancelled
	case flow.StatusFailed, flow.StatusTimeout:
		return StatusFailedExec
	default:
		return StatusNotFound
	}
}

// registeredFlow pairs a definition with its topological order, computed
// once at registration.
type registeredFlow struct {
	def   *flow.Definition
	order []string
}

// Engine is the lifecycle manager: it owns registered definitions, the
// active-execution table, the async worker pool, and the collaborator hooks.
// All dependencies are injected; the engine holds no global state.
type Engine struct {
	cfg        Config
	log        *slog.Logger
	registry   *Registry
	evaluator  ConditionEvaluator
	dispatcher *Dispatcher
	storage    Storage
	monitor    Monitor

	mu    sync.RWMutex
	flows map[string]*registeredFlow

	active sync.Map // execution ID -> *execution
	sem    *semaphore.Weighted
	wg     sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc

	shutMu sync.Mutex
	closed bool
}

// Option customizes an Engine at construction.
type Option func(*Engine)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithLogger sets the engine logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithStorage sets the persistence collaborator.
func WithStorage(s Storage) Option {
	return func(e *Engine) { e.storage = s }
}

// WithMonitor sets the monitoring collaborator.
func WithMonitor(m Monitor) Option {
	return func(e *Engine) { e.monitor = m }
}

// New creates an Engine over an explicit registry and condition evaluator.
func New(registry *Registry, evaluator ConditionEvaluator, opts ...Option) (*Engine, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if evaluator == nil {
		return nil, fmt.Errorf("condition evaluator cannot be nil")
	}

	e := &Engine{
		log:       slog.Default(),
		registry:  registry,
		evaluator: evaluator,
		storage:   NopStorage{},
		monitor:   NopMonitor{},
		flows:     make(map[string]*registeredFlow),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.cfg.Normalize(); err != nil {
		return nil, err
	}

	e.dispatcher = NewDispatcher(e.log, registry)
	e.sem = semaphore.NewWeighted(int64(e.cfg.MaxWorkers))
	e.baseCtx, e.cancel = context.WithCancel(context.Background())
	return e, nil
}

// Dispatcher exposes the step dispatcher for default-handler wiring.
func (e *Engine) Dispatcher() *Dispatcher {
	return e.dispatcher
}

// Register validates a definition (shape and acyclicity), caches its
// topological order, and stores it under its ID. Registering an existing ID
// replaces the previous definition: last write wins.
func (e *Engine) Register(def *flow.Definition) (string, error) {
	if err := e.checkClosed(); err != nil {
		return "", err
	}
	if err := def.Validate(); err != nil {
		return "", err
	}
	order, err := flow.Resolve(def.Steps, def.Dependencies)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	e.flows[def.ID] = &registeredFlow{def: def, order: order}
	e.mu.Unlock()

	e.log.Info("registered flow", "flow", def.ID, "version", def.Version, "steps", len(def.Steps))
	return def.ID, nil
}

// Unregister removes a definition. Running executions keep their snapshot.
func (e *Engine) Unregister(flowID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.flows[flowID]; !ok {
		return false
	}
	delete(e.flows, flowID)
	return true
}

// Flow returns a registered definition.
func (e *Engine) Flow(flowID string) (*flow.Definition, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rf, ok := e.flows[flowID]
	if !ok {
		return nil, false
	}
	return rf.def, true
}

// Execute runs a registered flow synchronously on the caller's goroutine
// and always returns a Result once steps have begun; definition problems
// fail fast before any step runs.
func (e *Engine) Execute(ctx context.Context, flowID string, input map[string]any) (*flow.Result, error) {
	if err := e.checkClosed(); err != nil {
		return nil, err
	}
	rf, err := e.lookup(flowID)
	if err != nil {
		return nil, err
	}
	return e.runTracked(ctx, rf, input), nil
}

// ExecuteDefinition runs an unregistered definition synchronously after
// validating it.
func (e *Engine) ExecuteDefinition(ctx context.Context, def *flow.Definition, input map[string]any) (*flow.Result, error) {
	if err := e.checkClosed(); err != nil {
		return nil, err
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	order, err := flow.Resolve(def.Steps, def.Dependencies)
	if err != nil {
		return nil, err
	}
	return e.runTracked(ctx, &registeredFlow{def: def, order: order}, input), nil
}

// ExecuteAsync submits a registered flow to the worker pool and returns a
// Future. The pool is bounded; submissions beyond the bound queue on the
// semaphore without blocking the caller.
func (e *Engine) ExecuteAsync(ctx context.Context, flowID string, input map[string]any) (*Future, error) {
	if err := e.checkClosed(); err != nil {
		return nil, err
	}
	rf, err := e.lookup(flowID)
	if err != nil {
		return nil, err
	}

	x := newExecution(e.newExecutionID(), rf.def, rf.order, input, e)
	e.active.Store(x.id, x)

	f := &Future{executionID: x.id, done: make(chan struct{})}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.active.Delete(x.id)
		defer close(f.done)

		if err := e.sem.Acquire(e.baseCtx, 1); err != nil {
			x.ctx.Cancel()
			f.result = x.buildResult(true, nil)
			return
		}
		defer e.sem.Release(1)
		f.result = x.run(e.baseCtx)
	}()
	return f, nil
}

func (e *Engine) runTracked(ctx context.Context, rf *registeredFlow, input map[string]any) *flow.Result {
	x := newExecution(e.newExecutionID(), rf.def, rf.order, input, e)
	e.active.Store(x.id, x)
	defer e.active.Delete(x.id)

	e.log.Info("starting execution", "flow", rf.def.ID, "execution", x.id)
	result := x.run(ctx)
	e.log.Info("finished execution",
		"flow", rf.def.ID, "execution", x.id, "status", result.Status)
	return result
}

func (e *Engine) lookup(flowID string) (*registeredFlow, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	rf, ok := e.flows[flowID]
	if !ok {
		return nil, flow.NewDefinitionError(flowID, "flow definition not found")
	}
	return rf, nil
}

// Stop requests a cooperative cancellation of a tracked execution.
func (e *Engine) Stop(executionID string) bool {
	v, ok := e.active.Load(executionID)
	if !ok {
		e.log.Warn("execution not found", "execution", executionID)
		return false
	}
	v.(*execution).ctx.Cancel()
	return true
}

// Pause requests a cooperative pause, taking effect between steps.
func (e *Engine) Pause(executionID string) bool {
	v, ok := e.active.Load(executionID)
	if !ok {
		e.log.Warn("execution not found", "execution", executionID)
		return false
	}
	return v.(*execution).ctx.Pause()
}

// Resume lifts a pause.
func (e *Engine) Resume(executionID string) bool {
	v, ok := e.active.Load(executionID)
	if !ok {
		e.log.Warn("execution not found", "execution", executionID)
		return false
	}
	return v.(*execution).ctx.Resume()
}

// Status reports the state of a tracked execution, or NOT_FOUND once it has
// completed and left the active table.
func (e *Engine) Status(executionID string) ExecutionStatus {
	v, ok := e.active.Load(executionID)
	if !ok {
		return StatusNotFound
	}
	return v.(*execution).Status()
}

// ActiveExecutionCount returns how many executions are currently tracked.
func (e *Engine) ActiveExecutionCount() int {
	count := 0
	e.active.Range(func(any, any) bool {
		count++
		return true
	})
	return count
}

// RegisteredFlowCount returns how many definitions are registered.
func (e *Engine) RegisteredFlowCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.flows)
}

// Healthy reports whether the engine accepts work.
func (e *Engine) Healthy() bool {
	e.shutMu.Lock()
	defer e.shutMu.Unlock()
	return !e.closed
}

// Shutdown stops accepting new work, cancels tracked executions, and waits
// (bounded by DrainTimeout) for workers to observe the cancellation.
func (e *Engine) Shutdown() {
	e.shutMu.Lock()
	if e.closed {
		e.shutMu.Unlock()
		return
	}
	e.closed = true
	e.shutMu.Unlock()

	e.log.Info("shutting down engine")
	e.active.Range(func(_, v any) bool {
		v.(*execution).ctx.Cancel()
		return true
	})
	e.cancel()

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(e.cfg.DrainTimeout):
		e.log.Warn("shutdown drain timed out", "timeout", e.cfg.DrainTimeout)
	}
	e.log.Info("engine shutdown complete")
}

func (e *Engine) checkClosed() error {
	e.shutMu.Lock()
	defer e.shutMu.Unlock()
	if e.closed {
		return fmt.Errorf("engine has been shut down")
	}
	return nil
}

func (e *Engine) newExecutionID() string {
	return uuid.New().String()
}

// Collaborator calls are best-effort: storage failures become log lines and
// a panicking monitor never unwinds into the control loop.

func (e *Engine) persistStepResult(c *Context, res *flow.StepResult) {
	if err := e.storage.SaveStepResult(c, c.ExecutionID, res); err != nil {
		e.log.Warn("failed to persist step result",
			"execution", c.ExecutionID, "step", res.StepID, "error", err)
	}
}

func (e *Engine) persistResult(ctx context.Context, result *flow.Result) {
	if err := e.storage.SaveResult(ctx, result); err != nil {
		e.log.Warn("failed to persist flow result",
			"execution", result.ExecutionID, "error", err)
	}
}

func (e *Engine) notifyFlowStarted(executionID, flowID string) {
	defer e.recoverNotify()
	e.monitor.FlowStarted(executionID, flowID)
}

func (e *Engine) notifyStepCompleted(c *Context, res *flow.StepResult) {
	defer e.recoverNotify()
	e.monitor.StepCompleted(c.ExecutionID, c.FlowID, res)
}

func (e *Engine) notifyFlowCompleted(result *flow.Result) {
	defer e.recoverNotify()
	e.monitor.FlowCompleted(result)
}

func (e *Engine) recoverNotify() {
	if r := recover(); r != nil {
		e.log.Warn("monitor notification panicked", "panic", r)
	}
}

// Future is the handle returned by ExecuteAsync.
type Future struct {
	executionID string
	done        chan struct{}
	result      *flow.Result
}

// ExecutionID identifies the submitted execution for pause/resume/stop.
func (f *Future) ExecutionID() string {
	return f.executionID
}

// Done is closed when the execution completes.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the execution completes or ctx is done.
func (f *Future) Wait(ctx context.Context) (*flow.Result, error) {
	select {
	case <-f.done:
		return f.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
