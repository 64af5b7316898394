package expreval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateComparison(t *testing.T) {
	e := New()

	result, err := e.Evaluate("amount > 1000", map[string]any{"amount": 2500})
	require.NoError(t, err)
	assert.Equal(t, true, result)

	result, err = e.Evaluate("amount > 1000", map[string]any{"amount": 400})
	require.NoError(t, err)
	assert.Equal(t, false, result)
}

func TestEvaluateStringAndLogic(t *testing.T) {
	e := New()
	vars := map[string]any{"tier": "gold", "active": true}

	result, err := e.Evaluate(`tier == "gold" && active`, vars)
	require.NoError(t, err)
	assert.Equal(t, true, result)

	result, err = e.Evaluate(`tier in ["silver", "bronze"]`, vars)
	require.NoError(t, err)
	assert.Equal(t, false, result)
}

func TestEvaluateUndefinedVariablesAreNil(t *testing.T) {
	e := New()

	result, err := e.Evaluate("missing == null", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, true, result)

	result, err = e.Evaluate("missing != null", map[string]any{})
	require.NoError(t, err)
	assert.Equal(t, false, result)
}

func TestEvaluateDefinedFunction(t *testing.T) {
	e := New()
	vars := map[string]any{"present": nil}

	result, err := e.Evaluate(`defined("present")`, vars)
	require.NoError(t, err)
	assert.Equal(t, true, result)

	result, err = e.Evaluate(`defined("absent")`, vars)
	require.NoError(t, err)
	assert.Equal(t, false, result)
}

func TestEvaluateBase64Helpers(t *testing.T) {
	e := New()

	result, err := e.Evaluate(`base64_encode("flow")`, nil)
	require.NoError(t, err)
	assert.Equal(t, "Zmxvdw==", result)

	result, err = e.Evaluate(`base64_decode("Zmxvdw==")`, nil)
	require.NoError(t, err)
	assert.Equal(t, "flow", result)

	_, err = e.Evaluate(`base64_decode("%%%")`, nil)
	assert.Error(t, err)
}

func TestEvaluateArithmetic(t *testing.T) {
	e := New()

	result, err := e.Evaluate("(subtotal + shipping) * 1.2", map[string]any{
		"subtotal": 100.0,
		"shipping": 10.0,
	})
	require.NoError(t, err)
	assert.InDelta(t, 132.0, result, 0.0001)
}

func TestEvaluateSyntaxErrorIsReported(t *testing.T) {
	_, err := New().Evaluate("a ++ ** b", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "compiling expression")
}

func TestEvaluateNestedMapAccess(t *testing.T) {
	e := New()
	vars := map[string]any{
		"order": map[string]any{
			"customer": map[string]any{"vip": true},
		},
	}

	result, err := e.Evaluate("order.customer.vip", vars)
	require.NoError(t, err)
	assert.Equal(t, true, result)
}
