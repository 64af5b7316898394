package engine

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/flowforge/flowforge/flow"
)

// Monitor receives fire-and-forget lifecycle notifications. Delivery is
// best-effort: implementations must not block, and a panicking monitor is
// contained by the engine rather than failing the execution.
type Monitor interface {
	FlowStarted(executionID, flowID string)
	StepCompleted(executionID, flowID string, result *flow.StepResult)
	FlowCompleted(result *flow.Result)
}

// NopMonitor ignores all notifications.
type NopMonitor struct{}

func (NopMonitor) FlowStarted(string, string)                     {}
func (NopMonitor) StepCompleted(string, string, *flow.StepResult) {}
func (NopMonitor) FlowCompleted(*flow.Result)                     {}

// LogMonitor writes lifecycle events as structured log lines.
type LogMonitor struct {
	Log *slog.Logger
}

func (m LogMonitor) FlowStarted(executionID, flowID string) {
	m.Log.Info("flow started", "flow", flowID, "execution", executionID)
}

func (m LogMonitor) StepCompleted(executionID, flowID string, result *flow.StepResult) {
	m.Log.Info("step completed",
		"flow", flowID,
		"execution", executionID,
		"step", result.StepID,
		"status", result.Status,
		"duration_ms", result.DurationMs,
		"retries", result.RetryCount)
}

func (m LogMonitor) FlowCompleted(result *flow.Result) {
	m.Log.Info("flow completed",
		"flow", result.FlowID,
		"execution", result.ExecutionID,
		"status", result.Status,
		"duration_ms", result.DurationMs,
		"steps", result.TotalSteps,
		"failed", result.FailedSteps,
		"skipped", result.SkippedSteps)
}

// OTelMonitor records engine metrics through the OpenTelemetry metric API.
// Exporter wiring stays with the embedding application.
type OTelMonitor struct {
	started      metric.Int64Counter
	completed    metric.Int64Counter
	stepDuration metric.Float64Histogram
}

// NewOTelMonitor creates the engine's instruments on the given meter.
func NewOTelMonitor(meter metric.Meter) (*OTelMonitor, error) {
	started, err := meter.Int64Counter("flow.executions.started",
		metric.WithDescription("Flow executions started"))
	if err != nil {
		return nil, err
	}
	completed, err := meter.Int64Counter("flow.executions.completed",
		metric.WithDescription("Flow executions completed, by status"))
	if err != nil {
		return nil, err
	}
	stepDuration, err := meter.Float64Histogram("flow.step.duration",
		metric.WithDescription("Step execution duration"),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, err
	}
	return &OTelMonitor{
		started:      started,
		completed:    completed,
		stepDuration: stepDuration,
	}, nil
}

func (m *OTelMonitor) FlowStarted(executionID, flowID string) {
	m.started.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("flow.id", flowID)))
}

func (m *OTelMonitor) StepCompleted(executionID, flowID string, result *flow.StepResult) {
	m.stepDuration.Record(context.Background(), float64(result.DurationMs),
		metric.WithAttributes(
			attribute.String("flow.id", flowID),
			attribute.String("step.id", result.StepID),
			attribute.String("status", string(result.Status))))
}

func (m *OTelMonitor) FlowCompleted(result *flow.Result) {
	m.completed.Add(context.Background(), 1,
		metric.WithAttributes(
			attribute.String("flow.id", result.FlowID),
			attribute.String("status", string(result.Status))))
}
