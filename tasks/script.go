package tasks

import (
	"context"
	"fmt"

	"github.com/risor-io/risor"

	"github.com/flowforge/flowforge/engine"
)

// ScriptTask runs the step's "source" parameter as a Risor script with the
// execution's variables in scope. WithoutDefaultGlobals removes os/exec/file
// builtins, so only explicitly injected values are reachable from flow code.
type ScriptTask struct{}

// NewScriptTask builds the default handler for script steps.
func NewScriptTask() *ScriptTask {
	return &ScriptTask{}
}

func (t *ScriptTask) Execute(c *engine.Context, args map[string]any) (map[string]any, error) {
	source, _ := args["source"].(string)
	if source == "" {
		return nil, fmt.Errorf("script step requires a %q parameter", "source")
	}

	globals := c.Values()
	for k, v := range args {
		if k == "source" {
			continue
		}
		globals[k] = v
	}

	result, err := risor.Eval(c, source,
		risor.WithoutDefaultGlobals(),
		risor.WithGlobals(globals),
	)
	if err != nil {
		return nil, fmt.Errorf("script failed: %w", err)
	}
	return map[string]any{"value": result.Interface()}, nil
}

// NewScriptConditionTask builds the default handler for script-conditional
// steps: it evaluates the "condition" parameter as a Risor script against the
// execution's variables and reports the boolean outcome under "result".
func NewScriptConditionTask() engine.Task {
	evaluator := NewScriptEvaluator()
	return engine.TaskFunc(func(c *engine.Context, args map[string]any) (map[string]any, error) {
		condition, _ := args["condition"].(string)
		if condition == "" {
			return nil, fmt.Errorf("script condition step requires a %q parameter", "condition")
		}
		vars := c.Values()
		for k, v := range args {
			if k == "condition" {
				continue
			}
			vars[k] = v
		}
		result, err := evaluator.Evaluate(condition, vars)
		if err != nil {
			return nil, err
		}
		return map[string]any{"result": engine.Truthy(result)}, nil
	})
}

// ScriptEvaluator implements the condition-evaluator contract on Risor, as
// an alternative backend for flows whose conditions are full scripts rather
// than single expressions.
type ScriptEvaluator struct{}

// NewScriptEvaluator creates a Risor-backed condition evaluator.
func NewScriptEvaluator() *ScriptEvaluator {
	return &ScriptEvaluator{}
}

func (e *ScriptEvaluator) Evaluate(expression string, vars map[string]any) (any, error) {
	result, err := risor.Eval(context.Background(), expression,
		risor.WithoutDefaultGlobals(),
		risor.WithGlobals(vars),
	)
	if err != nil {
		return nil, fmt.Errorf("evaluating script condition: %w", err)
	}
	return result.Interface(), nil
}
