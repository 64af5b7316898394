package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greetInput struct {
	Name  string        `json:"name" validate:"required"`
	Count int           `json:"count"`
	Wait  time.Duration `json:"wait"`
}

type greetOutput struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

func TestTypedDecodesAndValidates(t *testing.T) {
	task := Typed(func(_ *Context, in greetInput) (greetOutput, error) {
		return greetOutput{Message: "hi " + in.Name, Count: in.Count}, nil
	})

	c := newTestContext(nil)
	out, err := task.Execute(c, map[string]any{"name": "ada", "count": "3"})
	require.NoError(t, err)
	assert.Equal(t, "hi ada", out["message"])
	assert.Equal(t, float64(3), out["count"], "weakly typed string count decodes")
}

func TestTypedRejectsMissingRequiredField(t *testing.T) {
	task := Typed(func(_ *Context, in greetInput) (greetOutput, error) {
		return greetOutput{}, nil
	})

	c := newTestContext(nil)
	_, err := task.Execute(c, map[string]any{"count": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid task input")
}

func TestDecodeArgsDurationHook(t *testing.T) {
	var in greetInput
	err := DecodeArgs(map[string]any{"name": "x", "wait": "150ms"}, &in)
	require.NoError(t, err)
	assert.Equal(t, 150*time.Millisecond, in.Wait)
}

func TestCoercions(t *testing.T) {
	n, ok := ToInt("42")
	assert.True(t, ok)
	assert.Equal(t, 42, n)

	n, ok = ToInt(3.9)
	assert.True(t, ok)
	assert.Equal(t, 3, n)

	_, ok = ToInt("not a number")
	assert.False(t, ok)

	f, ok := ToFloat("2.5")
	assert.True(t, ok)
	assert.Equal(t, 2.5, f)

	b, ok := ToBool("true")
	assert.True(t, ok)
	assert.True(t, b)

	b, ok = ToBool(0)
	assert.True(t, ok)
	assert.False(t, b)

	_, ok = ToBool("maybe")
	assert.False(t, ok)

	assert.Equal(t, "7", ToString(7))
	assert.Equal(t, "true", ToString(true))
	assert.Equal(t, "", ToString(nil))
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(false))
	assert.True(t, Truthy(true))
	assert.True(t, Truthy(1))
	assert.True(t, Truthy("anything"))
	assert.True(t, Truthy(map[string]any{}))
}

func TestConfigNormalizeDefaults(t *testing.T) {
	var cfg Config
	require.NoError(t, cfg.Normalize())
	assert.Equal(t, 16, cfg.MaxWorkers)
	assert.Equal(t, 4, cfg.MaxParallel)
	assert.Equal(t, 10*time.Second, cfg.DrainTimeout)
}

func TestConfigNormalizeRejectsBadValues(t *testing.T) {
	cfg := Config{MaxWorkers: -1}
	assert.Error(t, cfg.Normalize())
}
