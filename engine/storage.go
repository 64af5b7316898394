package engine

import (
	"context"

	"github.com/flowforge/flowforge/flow"
)

// Storage is the persistence collaborator. The engine writes results after
// each terminal state transition; it works without a store (NopStorage) and
// a failing store never fails the execution, only a log line.
type Storage interface {
	SaveStepResult(ctx context.Context, executionID string, result *flow.StepResult) error
	SaveResult(ctx context.Context, result *flow.Result) error
}

// NopStorage discards everything. The default when no store is configured.
type NopStorage struct{}

func (NopStorage) SaveStepResult(context.Context, string, *flow.StepResult) error { return nil }
func (NopStorage) SaveResult(context.Context, *flow.Result) error                 { return nil }
