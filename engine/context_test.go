package engine

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowforge/flowforge/flow"
)

func newTestContext(input map[string]any) *Context {
	def := &flow.Definition{
		ID:   "test-flow",
		Name: "Test Flow",
		Properties: map[string]any{
			"env": "staging",
		},
		Steps: []flow.Step{{ID: "s1", Type: flow.StepTypeSimple}},
	}
	return NewContext("exec-1", def, input)
}

func TestContextSeedsPropertiesAndInput(t *testing.T) {
	c := newTestContext(map[string]any{"orderId": "o-42"})

	v, ok := c.Get("properties.env")
	require.True(t, ok)
	assert.Equal(t, "staging", v)

	v, ok = c.Get("orderId")
	require.True(t, ok)
	assert.Equal(t, "o-42", v)
}

func TestContextGetSetDelete(t *testing.T) {
	c := newTestContext(nil)

	_, ok := c.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, "fallback", c.GetOr("missing", "fallback"))

	c.Set("count", 7)
	assert.Equal(t, 7, c.GetInt("count", 0))

	c.Delete("count")
	_, ok = c.Get("count")
	assert.False(t, ok)
}

func TestContextCoercingGetters(t *testing.T) {
	c := newTestContext(map[string]any{
		"n":       "41",
		"flag":    "true",
		"answer":  42,
		"verbose": 1,
	})

	assert.Equal(t, 41, c.GetInt("n", 0))
	assert.Equal(t, 42, c.GetInt("answer", 0))
	assert.Equal(t, 9, c.GetInt("missing", 9))
	assert.True(t, c.GetBool("flag", false))
	assert.True(t, c.GetBool("verbose", false))
	assert.Equal(t, "42", c.GetString("answer", ""))
	assert.Equal(t, "dflt", c.GetString("missing", "dflt"))
}

func TestContextLookupNestedPaths(t *testing.T) {
	c := newTestContext(nil)
	c.Set("validate", map[string]any{
		"response": map[string]any{"id": "r-1", "score": 0.93},
	})
	c.Set("dotted.key", "literal")

	v, ok := c.Lookup("validate.response.id")
	require.True(t, ok)
	assert.Equal(t, "r-1", v)

	// Exact keys win over path traversal.
	v, ok = c.Lookup("dotted.key")
	require.True(t, ok)
	assert.Equal(t, "literal", v)

	_, ok = c.Lookup("validate.response.missing")
	assert.False(t, ok)
}

func TestContextValuesReturnsSnapshot(t *testing.T) {
	c := newTestContext(map[string]any{"a": 1})
	snapshot := c.Values()
	snapshot["a"] = 99
	snapshot["b"] = 2

	assert.Equal(t, 1, c.GetInt("a", 0))
	_, ok := c.Get("b")
	assert.False(t, ok)
}

func TestContextConcurrentAccess(t *testing.T) {
	c := newTestContext(nil)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := fmt.Sprintf("k%d", n)
			for j := 0; j < 100; j++ {
				c.Set(key, j)
				c.Get(key)
				c.Values()
				c.IncRetryCount(key)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 16; i++ {
		assert.Equal(t, 100, c.RetryCount(fmt.Sprintf("k%d", i)))
	}
}

func TestContextRetryCounterReset(t *testing.T) {
	c := newTestContext(nil)

	assert.Equal(t, 0, c.RetryCount("step"))
	assert.Equal(t, 1, c.IncRetryCount("step"))
	assert.Equal(t, 2, c.IncRetryCount("step"))

	c.ResetRetryCount("step")
	assert.Equal(t, 0, c.RetryCount("step"))
	assert.Equal(t, 1, c.IncRetryCount("step"))
}

func TestContextChildIsolationAndMerge(t *testing.T) {
	parent := newTestContext(map[string]any{"shared": "base"})
	child := parent.Child("branch")

	assert.Equal(t, "base", child.GetString("shared", ""))

	child.Set("childOnly", true)
	child.RecordStepResult(&flow.StepResult{StepID: "inner", Status: flow.StepSuccess})

	_, ok := parent.Get("childOnly")
	assert.False(t, ok, "child writes must stay invisible before merge")
	_, ok = parent.StepResult("inner")
	assert.False(t, ok)

	parent.MergeChild(child)

	v, ok := parent.Get("childOnly")
	require.True(t, ok)
	assert.Equal(t, true, v)
	r, ok := parent.StepResult("inner")
	require.True(t, ok)
	assert.Equal(t, flow.StepSuccess, r.Status)
}

func TestContextChildSharesCancelState(t *testing.T) {
	parent := newTestContext(nil)
	child := parent.Child("branch")

	parent.Cancel()
	assert.True(t, child.Cancelled())
}

func TestContextCancelIsIdempotent(t *testing.T) {
	c := newTestContext(nil)
	c.Cancel()
	c.Cancel()
	assert.True(t, c.Cancelled())

	select {
	case <-c.Done():
	default:
		t.Fatal("Done channel should be closed after Cancel")
	}
	assert.Error(t, c.Err())
}

func TestContextPauseResume(t *testing.T) {
	c := newTestContext(nil)

	assert.False(t, c.Paused())
	assert.False(t, c.Resume(), "resume without pause is a no-op")

	assert.True(t, c.Pause())
	assert.True(t, c.Paused())
	assert.False(t, c.Pause(), "double pause is rejected")

	assert.True(t, c.Resume())
	assert.False(t, c.Paused())
}

func TestContextPauseRejectedAfterCancel(t *testing.T) {
	c := newTestContext(nil)
	c.Cancel()
	assert.False(t, c.Pause())
}

func TestAwaitResumeBlocksUntilResumed(t *testing.T) {
	c := newTestContext(nil)
	require.True(t, c.Pause())

	released := make(chan bool, 1)
	go func() {
		released <- c.awaitResume()
	}()

	select {
	case <-released:
		t.Fatal("awaitResume returned while still paused")
	case <-time.After(50 * time.Millisecond):
	}

	c.Resume()
	select {
	case ok := <-released:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("awaitResume did not return after Resume")
	}
}

func TestAwaitResumeWakesOnCancel(t *testing.T) {
	c := newTestContext(nil)
	require.True(t, c.Pause())

	released := make(chan bool, 1)
	go func() {
		released <- c.awaitResume()
	}()

	c.Cancel()
	select {
	case ok := <-released:
		assert.False(t, ok, "cancel during pause must report not-resumed")
	case <-time.After(time.Second):
		t.Fatal("awaitResume did not observe cancellation")
	}
}

func TestContextAsStdContext(t *testing.T) {
	c := newTestContext(map[string]any{"tenant": "acme"})

	_, hasDeadline := c.Deadline()
	assert.False(t, hasDeadline)
	assert.Nil(t, c.Err())
	assert.Equal(t, "acme", c.Value("tenant"))
	assert.Nil(t, c.Value(struct{}{}))
}
