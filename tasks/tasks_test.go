package tasks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/engine"
	"github.com/flowforge/flowforge/expreval"
	"github.com/flowforge/flowforge/flow"
)

func taskContext(input map[string]any) *engine.Context {
	def := &flow.Definition{
		ID:    "task-flow",
		Steps: []flow.Step{{ID: "s1", Type: flow.StepTypeSimple}},
	}
	return engine.NewContext("exec-tasks", def, input)
}

func TestAssignTaskEvaluatesExpressions(t *testing.T) {
	task := NewAssignTask(expreval.New())
	c := taskContext(map[string]any{"base": 10})

	out, err := task.Execute(c, map[string]any{
		"doubled": "base * 2",
		"label":   `"order-" + string(base)`,
		"literal": 7,
	})
	require.NoError(t, err)

	assert.EqualValues(t, 20, out["doubled"])
	assert.Equal(t, "order-10", out["label"])
	assert.Equal(t, 7, out["literal"])
}

func TestAssignTaskPropagatesEvaluationErrors(t *testing.T) {
	task := NewAssignTask(expreval.New())
	c := taskContext(nil)

	_, err := task.Execute(c, map[string]any{"bad": "a ++ ** b"})
	require.Error(t, err)
}

func TestTimerTaskWaits(t *testing.T) {
	task := NewTimerTask()
	c := taskContext(nil)

	start := time.Now()
	out, err := task.Execute(c, map[string]any{"durationMs": 50})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.EqualValues(t, 50, out["waitedMs"])
}

func TestTimerTaskAcceptsDurationStrings(t *testing.T) {
	task := NewTimerTask()
	c := taskContext(nil)

	out, err := task.Execute(c, map[string]any{"duration": "20ms"})
	require.NoError(t, err)
	assert.EqualValues(t, 20, out["waitedMs"])
}

func TestTimerTaskRejectsMissingDuration(t *testing.T) {
	task := NewTimerTask()
	_, err := task.Execute(taskContext(nil), map[string]any{})
	require.Error(t, err)
}

func TestTimerTaskHonorsCancellation(t *testing.T) {
	task := NewTimerTask()
	c := taskContext(nil)

	done := make(chan error, 1)
	go func() {
		_, err := task.Execute(c, map[string]any{"durationMs": 10_000})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	c.Cancel()

	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("timer did not observe cancellation")
	}
}

func TestScriptTaskRunsSource(t *testing.T) {
	task := NewScriptTask()
	c := taskContext(map[string]any{"base": 4})

	out, err := task.Execute(c, map[string]any{
		"source": "base * factor",
		"factor": 3,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 12, out["value"])
}

func TestScriptTaskRequiresSource(t *testing.T) {
	task := NewScriptTask()
	_, err := task.Execute(taskContext(nil), map[string]any{})
	require.Error(t, err)
}

func TestScriptTaskReportsScriptErrors(t *testing.T) {
	task := NewScriptTask()
	_, err := task.Execute(taskContext(nil), map[string]any{
		"source": "definitely not valid risor ((",
	})
	require.Error(t, err)
}

func TestScriptConditionTask(t *testing.T) {
	task := NewScriptConditionTask()
	c := taskContext(map[string]any{"amount": 2500})

	out, err := task.Execute(c, map[string]any{"condition": "amount > threshold", "threshold": 1000})
	require.NoError(t, err)
	assert.Equal(t, true, out["result"])

	out, err = task.Execute(c, map[string]any{"condition": "amount > threshold", "threshold": 5000})
	require.NoError(t, err)
	assert.Equal(t, false, out["result"])

	_, err = task.Execute(c, map[string]any{})
	require.Error(t, err)
}

func TestScriptEvaluator(t *testing.T) {
	e := NewScriptEvaluator()

	result, err := e.Evaluate("amount > 1000", map[string]any{"amount": 2500})
	require.NoError(t, err)
	assert.Equal(t, true, result)

	result, err = e.Evaluate("amount > 1000", map[string]any{"amount": 10})
	require.NoError(t, err)
	assert.Equal(t, false, result)
}
