package engine

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flowforge/flowforge/flow"
)

// stopKind tells the step loop whether to keep going after a step.
type stopKind int

const (
	stopNone stopKind = iota
	stopFailed
	stopCancelled
)

// execution drives one flow run end to end: it walks the cached topological
// order, dispatches each step, honors pause/resume/cancel between steps, and
// aggregates the final result. One execution owns one Context.
type execution struct {
	id    string
	def   *flow.Definition
	order []string
	steps map[string]*flow.Step
	ctx   *Context
	eng   *Engine
}

func newExecution(id string, def *flow.Definition, order []string, input map[string]any, eng *Engine) *execution {
	steps := make(map[string]*flow.Step, len(def.Steps))
	for i := range def.Steps {
		steps[def.Steps[i].ID] = &def.Steps[i]
	}
	return &execution{
		id:    id,
		def:   def,
		order: order,
		steps: steps,
		ctx:   NewContext(id, def, input),
		eng:   eng,
	}
}

// Status reports the live state while the execution is tracked.
func (x *execution) Status() ExecutionStatus {
	if x.ctx.Paused() {
		return StatusPaused
	}
	return StatusRunning
}

// run executes the flow and always returns a Result, even on failure.
func (x *execution) run(ctx context.Context) *flow.Result {
	x.eng.notifyFlowStarted(x.id, x.def.ID)

	var abort *flow.StepResult
	cancelled := false

	for _, stepID := range x.order {
		step := x.steps[stepID]
		res, stop := x.runStep(step, x.ctx)
		switch stop {
		case stopCancelled:
			cancelled = true
		case stopFailed:
			abort = res
		}
		if stop != stopNone {
			break
		}
	}

	result := x.buildResult(cancelled, abort)
	x.eng.persistResult(ctx, result)
	x.eng.notifyFlowCompleted(result)
	return result
}

// runStep handles one step: cancel check, pause gate, guard condition,
// dispatch (with retries), result recording, and failure policy. It is also
// the recursion point for branch and nested step lists.
func (x *execution) runStep(step *flow.Step, c *Context) (*flow.StepResult, stopKind) {
	if c.Cancelled() {
		return nil, stopCancelled
	}
	if !c.awaitResume() {
		return nil, stopCancelled
	}

	// A guard condition skips the step when false. On conditional steps with
	// a true/false branch pair the condition selects the branch instead.
	if step.HasCondition() && !isBranchSelector(step) {
		if !x.evalCondition(step.Condition, c, step.Parameters) {
			res := skippedResult(step)
			c.RecordStepResult(res)
			x.eng.persistStepResult(c, res)
			x.eng.notifyStepCompleted(c, res)
			return res, stopNone
		}
	}

	c.SetCurrentStep(step.ID)

	var res *flow.StepResult
	switch step.Type {
	case flow.StepTypeConditional:
		res = x.runConditional(step, c)
	case flow.StepTypeParallel:
		res = x.runParallel(step, c)
	case flow.StepTypeLoop:
		res = x.runLoop(step, c)
	default:
		res = x.dispatchWithRetry(step, c)
	}

	c.RecordStepResult(res)
	x.eng.persistStepResult(c, res)
	x.eng.notifyStepCompleted(c, res)

	if res.Status == flow.StepSuccess && len(res.Output) > 0 {
		c.Set(step.ID, res.Output)
		x.applyOutputMappings(step, res.Output, c)
	}

	switch res.Status {
	case flow.StepCancelled:
		return res, stopCancelled
	case flow.StepFailed, flow.StepTimeout:
		if step.SkipOnError {
			x.eng.log.Warn("step failed, continuing per skipOnError",
				"flow", c.FlowID,
				"execution", c.ExecutionID,
				"step", step.ID,
				"status", res.Status)
			return res, stopNone
		}
		c.SetFailure(res.Err)
		return res, stopFailed
	default:
		return res, stopNone
	}
}

// runList executes a nested step list in declaration order with the same
// per-step algorithm as the top-level loop.
func (x *execution) runList(steps []flow.Step, c *Context) (*flow.StepResult, stopKind) {
	for i := range steps {
		res, stop := x.runStep(&steps[i], c)
		if stop != stopNone {
			return res, stop
		}
	}
	return nil, stopNone
}

// dispatchWithRetry invokes the step and re-dispatches Failed and Timeout
// attempts while retry budget remains. maxRetries = N yields at most N+1
// attempts and a final result with retryCount = N. The retry wait blocks
// only this execution's worker.
func (x *execution) dispatchWithRetry(step *flow.Step, c *Context) *flow.StepResult {
	effective := *step
	if effective.TimeoutMs == 0 && x.eng.cfg.DefaultStepTimeout > 0 {
		effective.TimeoutMs = x.eng.cfg.DefaultStepTimeout.Milliseconds()
	}

	// Each dispatch sequence starts with a fresh budget; counts left over
	// from a previous loop iteration must not eat into this one.
	c.ResetRetryCount(step.ID)

	for {
		res := x.eng.dispatcher.Invoke(c, &effective)
		attempt := c.RetryCount(step.ID)

		if res.Status != flow.StepFailed && res.Status != flow.StepTimeout {
			res.RetryCount = attempt
			return res
		}
		if c.Cancelled() {
			res.Status = flow.StepCancelled
			res.RetryCount = attempt
			return res
		}
		if attempt >= step.MaxRetries {
			res.RetryCount = attempt
			if res.Err != nil {
				res.Err = res.Err.WithRetryCount(attempt)
			}
			return res
		}

		attempt = c.IncRetryCount(step.ID)
		x.eng.log.Info("retrying step",
			"flow", c.FlowID,
			"execution", c.ExecutionID,
			"step", step.ID,
			"attempt", attempt,
			"max_retries", step.MaxRetries,
			"delay", step.RetryDelay())

		retrying := *res
		retrying.Status = flow.StepRetrying
		retrying.RetryCount = attempt
		c.RecordStepResult(&retrying)

		if step.RetryDelayMs > 0 {
			timer := time.NewTimer(step.RetryDelay())
			select {
			case <-timer.C:
			case <-c.Done():
				timer.Stop()
				res.Status = flow.StepCancelled
				res.RetryCount = attempt
				return res
			}
		}
	}
}

// runConditional evaluates the branch condition against a snapshot of the
// context plus the step parameters and executes exactly one branch, sharing
// the parent context.
func (x *execution) runConditional(step *flow.Step, c *Context) *flow.StepResult {
	start := time.Now()

	if isBranchSelector(step) {
		branch := step.FalseSteps
		if x.evalCondition(step.Condition, c, step.Parameters) {
			branch = step.TrueSteps
		}
		return x.runBranch(step, branch, c, start)
	}

	// Cases are tested in declaration order; first match wins, no
	// fallthrough. No match and no default is a no-op success.
	for i := range step.Cases {
		if x.evalCondition(step.Cases[i].When, c, step.Parameters) {
			return x.runBranch(step, step.Cases[i].Steps, c, start)
		}
	}
	if len(step.DefaultSteps) > 0 {
		return x.runBranch(step, step.DefaultSteps, c, start)
	}
	return stepResult(step, start, flow.StepSuccess, nil, nil)
}

func (x *execution) runBranch(step *flow.Step, branch []flow.Step, c *Context, start time.Time) *flow.StepResult {
	abortRes, stop := x.runList(branch, c)
	switch stop {
	case stopCancelled:
		return stepResult(step, start, flow.StepCancelled, nil,
			flow.NewCancelledError(c.FlowID, c.ExecutionID))
	case stopFailed:
		var cause *flow.Error
		if abortRes != nil {
			cause = abortRes.Err
		}
		return stepResult(step, start, flow.StepFailed, nil, cause)
	default:
		return stepResult(step, start, flow.StepSuccess, nil, nil)
	}
}

// runParallel fans the sub-steps out over a bounded group and joins before
// the loop continues, so no downstream step starts before every sub-step has
// a terminal result. Each sub-step runs against an isolated child context;
// children are merged back in declaration order, which keeps the merge
// deterministic.
func (x *execution) runParallel(step *flow.Step, c *Context) *flow.StepResult {
	start := time.Now()
	if len(step.SubSteps) == 0 {
		return stepResult(step, start, flow.StepSuccess, nil, nil)
	}

	var g errgroup.Group
	g.SetLimit(x.eng.cfg.MaxParallel)

	children := make([]*Context, len(step.SubSteps))
	aborts := make([]*flow.StepResult, len(step.SubSteps))
	var sawCancel atomic.Bool

	for i := range step.SubSteps {
		child := c.Child(step.ID)
		children[i] = child
		sub := &step.SubSteps[i]
		idx := i
		g.Go(func() error {
			res, stop := x.runStep(sub, child)
			switch stop {
			case stopFailed:
				aborts[idx] = res
			case stopCancelled:
				sawCancel.Store(true)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, child := range children {
		c.MergeChild(child)
	}

	if sawCancel.Load() {
		return stepResult(step, start, flow.StepCancelled, nil,
			flow.NewCancelledError(c.FlowID, c.ExecutionID))
	}
	for _, abortRes := range aborts {
		if abortRes != nil {
			return stepResult(step, start, flow.StepFailed, nil, abortRes.Err)
		}
	}
	return stepResult(step, start, flow.StepSuccess, nil, nil)
}

// runLoop repeats the sub-steps either a fixed number of times ("times"
// parameter) or while a condition holds ("while" parameter), bounded by
// "maxIterations" as a runaway guard.
func (x *execution) runLoop(step *flow.Step, c *Context) *flow.StepResult {
	start := time.Now()

	times, hasTimes := 0, false
	if v, ok := step.Parameter("times"); ok {
		times, hasTimes = ToInt(v)
	}
	while := step.StringParameter("while", "")
	maxIterations := 1000
	if v, ok := step.Parameter("maxIterations"); ok {
		if n, ok := ToInt(v); ok {
			maxIterations = n
		}
	}

	iterations := 0
	for {
		if c.Cancelled() {
			return stepResult(step, start, flow.StepCancelled, nil,
				flow.NewCancelledError(c.FlowID, c.ExecutionID))
		}
		if hasTimes && iterations >= times {
			break
		}
		if !hasTimes {
			if while == "" || !x.evalCondition(while, c, step.Parameters) {
				break
			}
		}
		if iterations >= maxIterations {
			x.eng.log.Warn("loop step hit iteration cap",
				"flow", c.FlowID, "step", step.ID, "max_iterations", maxIterations)
			break
		}

		c.Set(step.ID+".iteration", iterations)
		abortRes, stop := x.runList(step.SubSteps, c)
		switch stop {
		case stopCancelled:
			return stepResult(step, start, flow.StepCancelled, nil,
				flow.NewCancelledError(c.FlowID, c.ExecutionID))
		case stopFailed:
			var cause *flow.Error
			if abortRes != nil {
				cause = abortRes.Err
			}
			return stepResult(step, start, flow.StepFailed, nil, cause)
		}
		iterations++
	}

	return stepResult(step, start, flow.StepSuccess,
		map[string]any{"iterations": iterations}, nil)
}

// evalCondition evaluates an expression against a context snapshot overlaid
// with the step parameters. Evaluation failures are logged and count as
// false; the evaluator's own error type never propagates further.
func (x *execution) evalCondition(expression string, c *Context, params map[string]any) bool {
	vars := c.Values()
	for k, v := range params {
		vars[k] = v
	}
	result, err := x.eng.evaluator.Evaluate(expression, vars)
	if err != nil {
		x.eng.log.Warn("condition evaluation failed, treating as false",
			"flow", c.FlowID,
			"execution", c.ExecutionID,
			"condition", expression,
			"error", err)
		return false
	}
	return Truthy(result)
}

func (x *execution) applyOutputMappings(step *flow.Step, output map[string]any, c *Context) {
	if len(step.OutputMappings) == 0 {
		return
	}
	scratch := c.Child(step.ID)
	scratch.Set(step.ID, output)
	for key, path := range step.OutputMappings {
		if v, ok := scratch.Lookup(path); ok {
			c.Set(key, v)
		}
	}
}

func (x *execution) buildResult(cancelled bool, abort *flow.StepResult) *flow.Result {
	results := x.ctx.StepResults()
	end := time.Now()

	result := &flow.Result{
		ExecutionID: x.id,
		FlowID:      x.def.ID,
		FlowName:    x.def.Name,
		StartTime:   x.ctx.StartTime,
		EndTime:     end,
		DurationMs:  end.Sub(x.ctx.StartTime).Milliseconds(),
		StepResults: results,
		TotalSteps:  len(results),
	}

	output := make(map[string]any)
	for stepID, r := range results {
		switch r.Status {
		case flow.StepSuccess:
			result.SucceededSteps++
			if len(r.Output) > 0 {
				output[stepID] = r.Output
			}
		case flow.StepFailed, flow.StepTimeout:
			result.FailedSteps++
		case flow.StepSkipped:
			result.SkippedSteps++
		}
	}
	if len(output) > 0 {
		result.Output = output
	}

	switch {
	case cancelled:
		result.Status = flow.StatusCancelled
		result.Err = flow.NewCancelledError(x.def.ID, x.id)
	case abort != nil:
		if abort.Status == flow.StepTimeout {
			result.Status = flow.StatusTimeout
		} else {
			result.Status = flow.StatusFailed
		}
		result.Err = abort.Err
	case result.FailedSteps > 0:
		result.Status = flow.StatusPartial
	default:
		result.Status = flow.StatusSuccess
	}
	return result
}

func isBranchSelector(step *flow.Step) bool {
	return step.Type == flow.StepTypeConditional &&
		(len(step.TrueSteps) > 0 || len(step.FalseSteps) > 0)
}

func skippedResult(step *flow.Step) *flow.StepResult {
	now := time.Now()
	return &flow.StepResult{
		StepID:    step.ID,
		StepName:  step.Name,
		Status:    flow.StepSkipped,
		StartTime: now,
		EndTime:   now,
		Skipped:   true,
	}
}
