package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/flowforge/flowforge/flow"
)

// PostgresStore persists execution results in PostgreSQL. Results are stored
// as JSONB rows keyed by execution ID, one table for step history and one
// for final results.
type PostgresStore struct {
	db *sql.DB
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS flow_results (
	execution_id TEXT PRIMARY KEY,
	flow_id      TEXT NOT NULL,
	status       TEXT NOT NULL,
	result       JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS flow_step_results (
	id           BIGSERIAL PRIMARY KEY,
	execution_id TEXT NOT NULL,
	step_id      TEXT NOT NULL,
	status       TEXT NOT NULL,
	result       JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS flow_step_results_execution_idx
	ON flow_step_results (execution_id);
`

// NewPostgresStore wraps an open connection pool and ensures the schema.
func NewPostgresStore(db *sql.DB) (*PostgresStore, error) {
	if _, err := db.Exec(postgresSchema); err != nil {
		return nil, fmt.Errorf("postgres store: ensuring schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Row payloads are plain JSON renderings of the result types; the codec is
// shared by the save and fetch paths so both sides stay in sync.

func encodeResult(r *flow.Result) ([]byte, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("postgres store: encoding result: %w", err)
	}
	return payload, nil
}

func decodeResult(payload []byte) (*flow.Result, error) {
	var r flow.Result
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("postgres store: decoding result: %w", err)
	}
	return &r, nil
}

func encodeStepResult(r *flow.StepResult) ([]byte, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("postgres store: encoding step result: %w", err)
	}
	return payload, nil
}

func decodeStepResult(payload []byte) (*flow.StepResult, error) {
	var r flow.StepResult
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("postgres store: decoding step result: %w", err)
	}
	return &r, nil
}

func (s *PostgresStore) SaveStepResult(ctx context.Context, executionID string, result *flow.StepResult) error {
	payload, err := encodeStepResult(result)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO flow_step_results (execution_id, step_id, status, result) VALUES ($1, $2, $3, $4)`,
		executionID, result.StepID, string(result.Status), payload)
	if err != nil {
		return fmt.Errorf("postgres store: saving step result: %w", err)
	}
	return nil
}

func (s *PostgresStore) SaveResult(ctx context.Context, result *flow.Result) error {
	payload, err := encodeResult(result)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO flow_results (execution_id, flow_id, status, result)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (execution_id) DO UPDATE SET status = $3, result = $4`,
		result.ExecutionID, result.FlowID, string(result.Status), payload)
	if err != nil {
		return fmt.Errorf("postgres store: saving result: %w", err)
	}
	return nil
}

// Result fetches the final result of one execution, or nil when unknown.
func (s *PostgresStore) Result(ctx context.Context, executionID string) (*flow.Result, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT result FROM flow_results WHERE execution_id = $1`, executionID).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres store: fetching result: %w", err)
	}
	return decodeResult(payload)
}

// StepResults fetches the per-step history of one execution in completion
// order.
func (s *PostgresStore) StepResults(ctx context.Context, executionID string) ([]flow.StepResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT result FROM flow_step_results WHERE execution_id = $1 ORDER BY id`, executionID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: fetching step results: %w", err)
	}
	defer rows.Close()

	var history []flow.StepResult
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("postgres store: scanning step result: %w", err)
		}
		r, err := decodeStepResult(payload)
		if err != nil {
			return nil, err
		}
		history = append(history, *r)
	}
	return history, rows.Err()
}
