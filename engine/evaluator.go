package engine

// ConditionEvaluator is the expression-language capability consumed by the
// engine to decide guards and branch conditions. Implementations receive the
// expression text and a snapshot of context variables and return whatever
// the expression produced; the engine applies Truthy to the result.
//
// The engine never surfaces an evaluator's internal error type: a failing
// evaluation is logged and treated as false.
type ConditionEvaluator interface {
	Evaluate(expression string, vars map[string]any) (any, error)
}

// EvaluatorFunc adapts a plain function to ConditionEvaluator.
type EvaluatorFunc func(expression string, vars map[string]any) (any, error)

func (f EvaluatorFunc) Evaluate(expression string, vars map[string]any) (any, error) {
	return f(expression, vars)
}

// Truthy converts an evaluation result to a branch decision: nil is false,
// booleans stand for themselves, and any other non-nil value counts as true.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	default:
		return true
	}
}
