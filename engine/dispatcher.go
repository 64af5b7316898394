package engine

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flowforge/flowforge/flow"
)

// Dispatcher resolves which handler implementation runs a given step and
// invokes it, bounding each attempt with the step's declared timeout.
//
// Resolution precedence, first match wins:
//  1. an explicit task reference
//  2. a node reference (executable capability, then condition capability)
//  3. a component reference (Handler entrypoint, then a bound method)
//  4. the default handler family for the step's declared type
//
// Unresolved references become Failed StepResults carrying a dispatch error;
// they never escape the dispatcher as a panic or raw error.
type Dispatcher struct {
	log      *slog.Logger
	registry *Registry

	mu       sync.RWMutex
	defaults map[flow.StepType]string
}

// NewDispatcher creates a dispatcher over the given registry.
func NewDispatcher(log *slog.Logger, registry *Registry) *Dispatcher {
	return &Dispatcher{
		log:      log,
		registry: registry,
		defaults: make(map[flow.StepType]string),
	}
}

// BindDefault maps a step type to the task key used when a step of that type
// declares no explicit binding.
func (d *Dispatcher) BindDefault(t flow.StepType, taskKey string) {
	d.mu.Lock()
	d.defaults[t] = taskKey
	d.mu.Unlock()
}

func (d *Dispatcher) defaultTask(t flow.StepType) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	key, ok := d.defaults[t]
	return key, ok
}

// Invoke runs one attempt of the step and returns its result. Retries are
// the control loop's concern; Invoke never re-executes.
func (d *Dispatcher) Invoke(c *Context, step *flow.Step) *flow.StepResult {
	start := time.Now()

	fn, derr := d.resolve(c.FlowID, step)
	if derr != nil {
		d.log.Error("step dispatch failed",
			"flow", c.FlowID,
			"execution", c.ExecutionID,
			"step", step.ID,
			"error", derr)
		return stepResult(step, start, flow.StepFailed, nil, derr.WithExecution(c.ExecutionID))
	}

	args := d.buildArgs(c, step)
	output, err, timedOut := d.runAttempt(c, step, fn, args)

	switch {
	case timedOut:
		terr := flow.NewTimeoutError(c.FlowID, step.ID,
			fmt.Sprintf("step attempt exceeded %s", step.Timeout()))
		return stepResult(step, start, flow.StepTimeout, nil, terr.WithExecution(c.ExecutionID))
	case err != nil:
		eerr := flow.NewExecutionError(c.FlowID, step.ID, err)
		return stepResult(step, start, flow.StepFailed, nil, eerr.WithExecution(c.ExecutionID))
	default:
		return stepResult(step, start, flow.StepSuccess, output, nil)
	}
}

// resolve picks the handler for a step per the precedence rules.
func (d *Dispatcher) resolve(flowID string, step *flow.Step) (methodFn, *flow.Error) {
	if step.Task != "" {
		task := d.registry.Task(step.Task)
		if task == nil {
			return nil, flow.NewDispatchError(flowID, step.ID,
				fmt.Sprintf("task %q not registered", step.Task))
		}
		return task.Execute, nil
	}

	if step.Node != "" {
		return d.resolveNode(flowID, step)
	}

	if step.Component != "" {
		return d.resolveComponent(flowID, step)
	}

	if key, ok := d.defaultTask(step.Type); ok {
		task := d.registry.Task(key)
		if task == nil {
			return nil, flow.NewDispatchError(flowID, step.ID,
				fmt.Sprintf("default task %q for step type %q not registered", key, step.Type))
		}
		return task.Execute, nil
	}

	return nil, flow.NewDispatchError(flowID, step.ID,
		fmt.Sprintf("no handler for step (type %q, no task/node/component binding)", step.Type))
}

func (d *Dispatcher) resolveNode(flowID string, step *flow.Step) (methodFn, *flow.Error) {
	node := d.registry.Node(step.Node)
	if node == nil {
		return nil, flow.NewDispatchError(flowID, step.ID,
			fmt.Sprintf("node not found: %q", step.Node))
	}

	if exec, ok := node.(ExecutableNode); ok {
		return func(c *Context, args map[string]any) (map[string]any, error) {
			vars := c.Values()
			for k, v := range args {
				vars[k] = v
			}
			if v, ok := node.(NodeValidator); ok {
				if err := v.Validate(vars); err != nil {
					return nil, fmt.Errorf("node validation failed: %w", err)
				}
			}
			exec.Prepare(vars)
			defer exec.Cleanup(vars)
			return exec.Execute(vars)
		}, nil
	}

	if cond, ok := node.(ConditionNode); ok {
		return func(c *Context, args map[string]any) (map[string]any, error) {
			vars := c.Values()
			for k, v := range args {
				vars[k] = v
			}
			result, err := cond.Evaluate(vars)
			if err != nil {
				return nil, err
			}
			return map[string]any{"result": result}, nil
		}, nil
	}

	return nil, flow.NewDispatchError(flowID, step.ID,
		fmt.Sprintf("node %q implements neither the executable nor the condition capability", step.Node))
}

func (d *Dispatcher) resolveComponent(flowID string, step *flow.Step) (methodFn, *flow.Error) {
	component := d.registry.Component(step.Component)
	if component == nil {
		return nil, flow.NewDispatchError(flowID, step.ID,
			fmt.Sprintf("component not found: %q", step.Component))
	}

	// Canonical single-entrypoint capability wins over method lookup.
	if h, ok := component.(Handler); ok {
		return func(c *Context, _ map[string]any) (map[string]any, error) {
			return h.Handle(c)
		}, nil
	}

	if comp, ok := component.(*Component); ok {
		name := step.Method
		if name == "" {
			name = "execute"
		}
		if fn, ok := comp.method(name); ok {
			return fn, nil
		}
		return nil, flow.NewDispatchError(flowID, step.ID,
			fmt.Sprintf("component %q has no method %q", step.Component, name))
	}

	return nil, flow.NewDispatchError(flowID, step.ID,
		fmt.Sprintf("component %q exposes no callable entrypoint", step.Component))
}

// buildArgs assembles the argument map for one attempt: step parameters
// first, then input mappings resolved against the context. Mapping misses
// leave the argument unset rather than failing the step.
func (d *Dispatcher) buildArgs(c *Context, step *flow.Step) map[string]any {
	args := make(map[string]any, len(step.Parameters)+len(step.InputMappings))
	for k, v := range step.Parameters {
		args[k] = v
	}
	for name, path := range step.InputMappings {
		if v, ok := c.Lookup(path); ok {
			args[name] = v
		}
	}
	return args
}

// runAttempt executes the handler, bounding it with the step timeout when
// one is declared. On timeout the attempt's goroutine is abandoned; its
// result is discarded if it ever arrives.
func (d *Dispatcher) runAttempt(c *Context, step *flow.Step, fn methodFn, args map[string]any) (map[string]any, error, bool) {
	timeout := step.Timeout()
	if timeout <= 0 {
		output, err := fn(c, args)
		return output, err, false
	}

	type attempt struct {
		output map[string]any
		err    error
	}
	done := make(chan attempt, 1)
	go func() {
		output, err := fn(c, args)
		done <- attempt{output, err}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case a := <-done:
		return a.output, a.err, false
	case <-timer.C:
		return nil, nil, true
	case <-c.Done():
		return nil, c.Err(), false
	}
}

func stepResult(step *flow.Step, start time.Time, status flow.StepStatus, output map[string]any, err *flow.Error) *flow.StepResult {
	end := time.Now()
	return &flow.StepResult{
		StepID:     step.ID,
		StepName:   step.Name,
		Status:     status,
		StartTime:  start,
		EndTime:    end,
		DurationMs: end.Sub(start).Milliseconds(),
		Output:     output,
		Err:        err,
		Skipped:    status == flow.StepSkipped,
	}
}
