package flow

import "time"

// StepStatus is the terminal (or transient, for Retrying) state of one step
// invocation.
type StepStatus string

const (
	StepSuccess   StepStatus = "SUCCESS"
	StepFailed    StepStatus = "FAILED"
	StepSkipped   StepStatus = "SKIPPED"
	StepTimeout   StepStatus = "TIMEOUT"
	StepCancelled StepStatus = "CANCELLED"
	StepRetrying  StepStatus = "RETRYING"
)

// Status is the overall outcome of one flow execution.
type Status string

const (
	StatusSuccess   Status = "SUCCESS"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
	StatusTimeout   Status = "TIMEOUT"
	// StatusPartial marks a run that completed, but only because failed
	// steps were marked skipOnError.
	StatusPartial Status = "PARTIAL"
)

// StepResult records the outcome of one step. Immutable once constructed.
type StepResult struct {
	StepID     string         `json:"stepId"`
	StepName   string         `json:"stepName"`
	Status     StepStatus     `json:"status"`
	StartTime  time.Time      `json:"startTime"`
	EndTime    time.Time      `json:"endTime"`
	DurationMs int64          `json:"durationMs"`
	Output     map[string]any `json:"output,omitempty"`
	Err        *Error         `json:"error,omitempty"`
	RetryCount int            `json:"retryCount"`
	Skipped    bool           `json:"skipped"`
}

// Succeeded reports whether the step reached a successful terminal state.
func (r *StepResult) Succeeded() bool {
	return r.Status == StepSuccess
}

// Result is the aggregate outcome of one flow execution, produced exactly
// once per execution. Immutable once constructed.
type Result struct {
	ExecutionID string                 `json:"executionId"`
	FlowID      string                 `json:"flowId"`
	FlowName    string                 `json:"flowName"`
	Status      Status                 `json:"status"`
	StartTime   time.Time              `json:"startTime"`
	EndTime     time.Time              `json:"endTime"`
	DurationMs  int64                  `json:"durationMs"`
	StepResults map[string]*StepResult `json:"stepResults"`
	Output      map[string]any         `json:"output,omitempty"`
	Err         *Error                 `json:"error,omitempty"`

	TotalSteps     int `json:"totalSteps"`
	SucceededSteps int `json:"succeededSteps"`
	FailedSteps    int `json:"failedSteps"`
	SkippedSteps   int `json:"skippedSteps"`
}

// Succeeded reports whether the execution completed without failure.
func (r *Result) Succeeded() bool {
	return r.Status == StatusSuccess
}
