// Package store provides result persistence backends for the engine.
package store

import (
	"context"
	"sync"

	"github.com/flowforge/flowforge/flow"
)

// MemoryStore keeps execution results in process memory. It is the default
// backend and the one used in tests; it satisfies the engine storage
// contract without any external service.
type MemoryStore struct {
	mu          sync.RWMutex
	results     map[string]*flow.Result      // executionID -> final result
	stepResults map[string][]flow.StepResult // executionID -> step results in completion order
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		results:     make(map[string]*flow.Result),
		stepResults: make(map[string][]flow.StepResult),
	}
}

func (s *MemoryStore) SaveStepResult(_ context.Context, executionID string, result *flow.StepResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stepResults[executionID] = append(s.stepResults[executionID], *result)
	return nil
}

func (s *MemoryStore) SaveResult(_ context.Context, result *flow.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *result
	s.results[result.ExecutionID] = &copied
	return nil
}

// Result returns the final result of one execution, or nil if unknown. The
// error return exists for the shared reader contract; this backend never
// fails.
func (s *MemoryStore) Result(_ context.Context, executionID string) (*flow.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.results[executionID]; ok {
		copied := *r
		return &copied, nil
	}
	return nil, nil
}

// Results returns the final results of every stored execution of a flow.
func (s *MemoryStore) Results(flowID string) []flow.Result {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []flow.Result
	for _, r := range s.results {
		if r.FlowID == flowID {
			out = append(out, *r)
		}
	}
	return out
}

// StepResults returns the per-step history of one execution in the order
// the steps completed.
func (s *MemoryStore) StepResults(executionID string) []flow.StepResult {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.stepResults[executionID]
	out := make([]flow.StepResult, len(history))
	copy(out, history)
	return out
}
