package tasks

import (
	"github.com/flowforge/flowforge/engine"
)

// AssignTask evaluates each argument as an expression and returns the
// results as the step's output, which the engine stores under the step's ID.
// Non-string arguments pass through as literals.
type AssignTask struct {
	evaluator engine.ConditionEvaluator
}

// NewAssignTask builds the "assign" task over the given evaluator.
func NewAssignTask(evaluator engine.ConditionEvaluator) *AssignTask {
	return &AssignTask{evaluator: evaluator}
}

func (t *AssignTask) Execute(c *engine.Context, args map[string]any) (map[string]any, error) {
	output := make(map[string]any, len(args))
	vars := c.Values()
	for key, value := range args {
		expression, ok := value.(string)
		if !ok {
			output[key] = value
			continue
		}
		result, err := t.evaluator.Evaluate(expression, vars)
		if err != nil {
			return nil, err
		}
		output[key] = result
	}
	return output, nil
}
