// Package expreval implements the engine's condition-evaluator contract on
// top of the expr-lang expression language.
package expreval

import (
	"encoding/base64"
	"fmt"

	"github.com/expr-lang/expr"
)

// Custom functions available to every expression.
var builtinFunctions = []expr.Option{
	expr.Function("base64_encode", func(params ...any) (any, error) {
		s, _ := params[0].(string)
		return base64.StdEncoding.EncodeToString([]byte(s)), nil
	}),
	expr.Function("base64_decode", func(params ...any) (any, error) {
		s, _ := params[0].(string)
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return "", err
		}
		return string(decoded), nil
	}),
}

// Evaluator compiles and runs expressions against a variable snapshot.
// Missing variables evaluate to nil instead of failing compilation, so
// guards can reference outputs of steps that were skipped.
type Evaluator struct{}

// New creates an Evaluator.
func New() *Evaluator {
	return &Evaluator{}
}

// Evaluate runs the expression with the given variables in scope.
func (e *Evaluator) Evaluate(expression string, vars map[string]any) (any, error) {
	if vars == nil {
		vars = map[string]any{}
	}
	// null as an alias for nil keeps JSON/YAML-flavored conditions working.
	vars["null"] = nil

	// defined() distinguishes a missing variable from one holding nil.
	definedFn := expr.Function(
		"defined",
		func(params ...any) (any, error) {
			key, ok := params[0].(string)
			if !ok {
				return false, fmt.Errorf("defined() expects a string argument, got %T", params[0])
			}
			_, exists := vars[key]
			return exists, nil
		},
		new(func(string) bool),
	)

	// expr.Env must precede AllowUndefinedVariables for the latter to apply.
	opts := []expr.Option{
		expr.Env(vars),
		expr.AllowUndefinedVariables(),
		definedFn,
	}
	opts = append(opts, builtinFunctions...)

	program, err := expr.Compile(expression, opts...)
	if err != nil {
		return nil, fmt.Errorf("compiling expression %q: %w", expression, err)
	}
	result, err := expr.Run(program, vars)
	if err != nil {
		return nil, fmt.Errorf("evaluating expression %q: %w", expression, err)
	}
	return result, nil
}
