package engine

import (
	"context"
	"sync"
	"time"

	"github.com/Jeffail/gabs/v2"

	"github.com/flowforge/flowforge/flow"
)

var _ context.Context = (*Context)(nil)

// signals carries the cooperative pause/cancel state of one execution. It is
// shared between a parent context and its children so that a stop request
// reaches nested branches.
type signals struct {
	cancelOnce sync.Once
	cancelCh   chan struct{}

	pauseMu  sync.Mutex
	resumeCh chan struct{} // non-nil while paused
}

func newSignals() *signals {
	return &signals{cancelCh: make(chan struct{})}
}

// Context is the mutable state of one running execution: the shared variable
// store, recorded step results, retry counters, and the pause/cancel flags.
// The variable store is internally synchronized, so step handlers dispatched
// concurrently may read and write it without external locking.
//
// Context implements context.Context so handlers can hand it directly to
// HTTP clients and script runtimes; Done fires on cancellation and Value
// falls back to the variable store for string keys.
type Context struct {
	ExecutionID string
	FlowID      string
	FlowName    string
	StartTime   time.Time

	sig *signals

	mu          sync.RWMutex
	vars        map[string]any
	results     map[string]*flow.StepResult
	retries     map[string]int
	currentStep string
	failure     error
}

// NewContext creates the context for a fresh execution, seeded with the
// caller's input variables.
func NewContext(executionID string, def *flow.Definition, input map[string]any) *Context {
	c := &Context{
		ExecutionID: executionID,
		FlowID:      def.ID,
		FlowName:    def.Name,
		StartTime:   time.Now(),
		sig:         newSignals(),
		vars:        make(map[string]any, len(input)+len(def.Properties)),
		results:     make(map[string]*flow.StepResult),
		retries:     make(map[string]int),
	}
	if len(def.Properties) > 0 {
		props := make(map[string]any, len(def.Properties))
		for k, v := range def.Properties {
			props[k] = v
			c.vars["properties."+k] = v
		}
		// The nested form serves expression member access, the flat form
		// serves exact-key lookups.
		c.vars["properties"] = props
	}
	for k, v := range input {
		c.vars[k] = v
	}
	return c
}

// context.Context implementation. Deadlines are per step attempt and applied
// by the dispatcher, not carried here.

func (c *Context) Deadline() (time.Time, bool) { return time.Time{}, false }

func (c *Context) Done() <-chan struct{} { return c.sig.cancelCh }

func (c *Context) Err() error {
	if c.Cancelled() {
		return context.Canceled
	}
	return nil
}

func (c *Context) Value(key any) any {
	if k, ok := key.(string); ok {
		v, _ := c.Get(k)
		return v
	}
	return nil
}

// Get returns a variable by key.
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vars[key]
	return v, ok
}

// GetOr returns a variable by key, or def when absent.
func (c *Context) GetOr(key string, def any) any {
	if v, ok := c.Get(key); ok {
		return v
	}
	return def
}

// GetString returns a variable coerced to string, or def when absent.
func (c *Context) GetString(key, def string) string {
	if v, ok := c.Get(key); ok {
		return ToString(v)
	}
	return def
}

// GetInt returns a variable coerced to int; coercion misses yield def, never
// an error.
func (c *Context) GetInt(key string, def int) int {
	if v, ok := c.Get(key); ok {
		if n, ok := ToInt(v); ok {
			return n
		}
	}
	return def
}

// GetBool returns a variable coerced to bool, or def on a coercion miss.
func (c *Context) GetBool(key string, def bool) bool {
	if v, ok := c.Get(key); ok {
		if b, ok := ToBool(v); ok {
			return b
		}
	}
	return def
}

// Set stores a variable.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	c.vars[key] = value
	c.mu.Unlock()
}

// SetAll stores every entry of the given map.
func (c *Context) SetAll(values map[string]any) {
	c.mu.Lock()
	for k, v := range values {
		c.vars[k] = v
	}
	c.mu.Unlock()
}

// Delete removes a variable.
func (c *Context) Delete(key string) {
	c.mu.Lock()
	delete(c.vars, key)
	c.mu.Unlock()
}

// Values returns a snapshot copy of the variable map.
func (c *Context) Values() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshot := make(map[string]any, len(c.vars))
	for k, v := range c.vars {
		snapshot[k] = v
	}
	return snapshot
}

// Lookup resolves a key or a dotted path into nested map values, e.g.
// "validate.response.id" when the "validate" variable holds nested maps.
func (c *Context) Lookup(path string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.vars[path]; ok {
		return v, true
	}
	wrapped := gabs.Wrap(map[string]any(c.vars))
	if wrapped.ExistsP(path) {
		return wrapped.Path(path).Data(), true
	}
	return nil, false
}

// RecordStepResult stores the result for its step ID.
func (c *Context) RecordStepResult(r *flow.StepResult) {
	c.mu.Lock()
	c.results[r.StepID] = r
	c.mu.Unlock()
}

// StepResult returns the recorded result for a step.
func (c *Context) StepResult(stepID string) (*flow.StepResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.results[stepID]
	return r, ok
}

// StepResults returns a snapshot copy of the recorded results.
func (c *Context) StepResults() map[string]*flow.StepResult {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshot := make(map[string]*flow.StepResult, len(c.results))
	for k, v := range c.results {
		snapshot[k] = v
	}
	return snapshot
}

// SetCurrentStep tracks the step the engine is about to dispatch.
func (c *Context) SetCurrentStep(stepID string) {
	c.mu.Lock()
	c.currentStep = stepID
	c.mu.Unlock()
}

// CurrentStep returns the step currently being dispatched.
func (c *Context) CurrentStep() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.currentStep
}

// SetFailure records the error that terminated the execution.
func (c *Context) SetFailure(err error) {
	c.mu.Lock()
	c.failure = err
	c.mu.Unlock()
}

// Failure returns the recorded terminal error, if any.
func (c *Context) Failure() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.failure
}

// RetryCount returns the per-step retry counter.
func (c *Context) RetryCount(stepID string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.retries[stepID]
}

// IncRetryCount increments and returns the per-step retry counter.
func (c *Context) IncRetryCount(stepID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.retries[stepID]++
	return c.retries[stepID]
}

// ResetRetryCount clears the per-step retry counter. Called at the start of
// each dispatch sequence so a step re-entered by a loop gets its full retry
// budget on every iteration.
func (c *Context) ResetRetryCount(stepID string) {
	c.mu.Lock()
	delete(c.retries, stepID)
	c.mu.Unlock()
}

// Cancel requests a cooperative stop. The flag is observed between steps; an
// in-flight step attempt always completes (or times out) first.
func (c *Context) Cancel() {
	c.sig.cancelOnce.Do(func() {
		close(c.sig.cancelCh)
	})
	// A paused execution must wake up to observe the cancellation.
	c.Resume()
}

// Cancelled reports whether a stop was requested.
func (c *Context) Cancelled() bool {
	select {
	case <-c.sig.cancelCh:
		return true
	default:
		return false
	}
}

// Pause requests a cooperative pause. Returns false when already paused or
// cancelled.
func (c *Context) Pause() bool {
	if c.Cancelled() {
		return false
	}
	c.sig.pauseMu.Lock()
	defer c.sig.pauseMu.Unlock()
	if c.sig.resumeCh != nil {
		return false
	}
	c.sig.resumeCh = make(chan struct{})
	return true
}

// Resume lifts a pause. Returns false when not paused.
func (c *Context) Resume() bool {
	c.sig.pauseMu.Lock()
	defer c.sig.pauseMu.Unlock()
	if c.sig.resumeCh == nil {
		return false
	}
	close(c.sig.resumeCh)
	c.sig.resumeCh = nil
	return true
}

// Paused reports whether the execution is currently paused.
func (c *Context) Paused() bool {
	c.sig.pauseMu.Lock()
	defer c.sig.pauseMu.Unlock()
	return c.sig.resumeCh != nil
}

// awaitResume blocks the execution's worker (and only it) while paused. It
// returns false when the wait ended because of cancellation.
func (c *Context) awaitResume() bool {
	for {
		c.sig.pauseMu.Lock()
		ch := c.sig.resumeCh
		c.sig.pauseMu.Unlock()
		if ch == nil {
			return !c.Cancelled()
		}
		select {
		case <-ch:
		case <-c.sig.cancelCh:
			return false
		}
	}
}

// Child creates a scoped context for a nested branch: it sees a copy of the
// parent's variables, and its writes stay invisible to the parent until
// MergeChild is called. Pause and cancel state is shared with the parent.
func (c *Context) Child(stepID string) *Context {
	child := &Context{
		ExecutionID: c.ExecutionID,
		FlowID:      c.FlowID,
		FlowName:    c.FlowName,
		StartTime:   c.StartTime,
		sig:         c.sig,
		vars:        c.Values(),
		results:     make(map[string]*flow.StepResult),
		retries:     make(map[string]int),
		currentStep: stepID,
	}
	return child
}

// MergeChild copies a child's variables and recorded step results back into
// the parent. This is the explicit merge boundary for isolated branches.
func (c *Context) MergeChild(child *Context) {
	vars := child.Values()
	results := child.StepResults()

	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range vars {
		c.vars[k] = v
	}
	for k, v := range results {
		c.results[k] = v
	}
}
