package flow

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies engine errors. Kinds replace the exception hierarchy of
// typical workflow frameworks with a single tagged type.
type Kind string

const (
	// KindDefinition marks an invalid flow shape (cycle, empty step list,
	// bad branch config). Raised at registration, never at run time.
	KindDefinition Kind = "definition"
	// KindDispatch marks a step with no resolvable handler.
	KindDispatch Kind = "dispatch"
	// KindExecution marks a handler that returned an error.
	KindExecution Kind = "execution"
	// KindTimeout marks a handler that exceeded its per-attempt bound.
	KindTimeout Kind = "timeout"
	// KindCancelled marks a cooperative stop observed mid-run.
	KindCancelled Kind = "cancelled"
)

// Error is the canonical error type of the engine. It carries the kind plus
// the identifiers needed to locate the failure, as plain fields.
type Error struct {
	Kind        Kind   `json:"kind"`
	FlowID      string `json:"flowId,omitempty"`
	ExecutionID string `json:"executionId,omitempty"`
	StepID      string `json:"stepId,omitempty"`
	RetryCount  int    `json:"retryCount,omitempty"`
	Message     string `json:"message"`
	Cause       error  `json:"-"`
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", e.Kind, e.Message)
	if e.FlowID != "" {
		fmt.Fprintf(&b, " (flow: %s", e.FlowID)
		if e.ExecutionID != "" {
			fmt.Fprintf(&b, ", execution: %s", e.ExecutionID)
		}
		if e.StepID != "" {
			fmt.Fprintf(&b, ", step: %s", e.StepID)
		}
		b.WriteString(")")
	}
	return b.String()
}

// Unwrap returns the underlying cause for errors.Is and errors.As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithStep returns a copy annotated with the step ID.
func (e *Error) WithStep(stepID string) *Error {
	res := *e
	res.StepID = stepID
	return &res
}

// WithExecution returns a copy annotated with the execution ID.
func (e *Error) WithExecution(executionID string) *Error {
	res := *e
	res.ExecutionID = executionID
	return &res
}

// WithRetryCount returns a copy annotated with the retry count.
func (e *Error) WithRetryCount(n int) *Error {
	res := *e
	res.RetryCount = n
	return &res
}

// NewDefinitionError reports an invalid flow definition.
func NewDefinitionError(flowID, message string) *Error {
	return &Error{Kind: KindDefinition, FlowID: flowID, Message: message}
}

// NewDispatchError reports a step with no resolvable handler.
func NewDispatchError(flowID, stepID, message string) *Error {
	return &Error{Kind: KindDispatch, FlowID: flowID, StepID: stepID, Message: message}
}

// NewExecutionError wraps a handler failure.
func NewExecutionError(flowID, stepID string, cause error) *Error {
	msg := "step execution failed"
	if cause != nil {
		msg = cause.Error()
	}
	return &Error{Kind: KindExecution, FlowID: flowID, StepID: stepID, Message: msg, Cause: cause}
}

// NewTimeoutError reports a step attempt that exceeded its bound.
func NewTimeoutError(flowID, stepID string, message string) *Error {
	return &Error{Kind: KindTimeout, FlowID: flowID, StepID: stepID, Message: message}
}

// NewCancelledError reports a cooperative stop.
func NewCancelledError(flowID, executionID string) *Error {
	return &Error{Kind: KindCancelled, FlowID: flowID, ExecutionID: executionID, Message: "execution cancelled"}
}

// IsKind reports whether err is (or wraps) a flow Error of the given kind.
func IsKind(err error, k Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == k
	}
	return false
}
