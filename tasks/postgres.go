package tasks

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/flowforge/flowforge/engine"
)

// PostgresConfig holds the connection pool settings for the postgres tasks.
type PostgresConfig struct {
	ConnectionString  string `yaml:"connection_string" validate:"required"`
	MaxOpenConns      int    `yaml:"max_open_conns" default:"10" validate:"gte=1,lte=100"`
	MaxIdleConns      int    `yaml:"max_idle_conns" default:"5" validate:"gte=0,lte=50"`
	ConnMaxLifetimeMs int    `yaml:"conn_max_lifetime_ms" default:"300000" validate:"gte=0"`
}

// QueryInput is the typed input for postgres.get and postgres.exec.
type QueryInput struct {
	Query  string `json:"query" validate:"required"`
	Params []any  `json:"params"`
}

// GetOutput is the single-row result of postgres.get.
type GetOutput struct {
	Row   map[string]any `json:"row"`
	Found bool           `json:"found"`
}

// ExecOutput is the result of postgres.exec.
type ExecOutput struct {
	AffectedRows int64 `json:"affectedRows"`
}

// Postgres bundles the database tasks over one shared connection pool.
// Register Get as "postgres.get" and Exec as "postgres.exec".
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens and verifies the connection pool.
func NewPostgres(cfg PostgresConfig) (*Postgres, error) {
	db, err := sql.Open("postgres", cfg.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("postgres: opening connection: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetimeMs) * time.Millisecond)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: pinging database: %w", err)
	}
	return &Postgres{db: db}, nil
}

// Close releases the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// DB exposes the underlying pool so other collaborators, such as the result
// store, can share it.
func (p *Postgres) DB() *sql.DB {
	return p.db
}

// Get returns the task that runs a SELECT and yields at most one row.
func (p *Postgres) Get() engine.Task {
	return engine.Typed(func(c *engine.Context, input QueryInput) (GetOutput, error) {
		rows, err := p.db.QueryContext(c, input.Query, input.Params...)
		if err != nil {
			return GetOutput{}, fmt.Errorf("postgres.get: query failed: %w", err)
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return GetOutput{}, fmt.Errorf("postgres.get: reading columns: %w", err)
		}
		colTypes, err := rows.ColumnTypes()
		if err != nil {
			return GetOutput{}, fmt.Errorf("postgres.get: reading column types: %w", err)
		}

		if !rows.Next() {
			return GetOutput{Found: false, Row: map[string]any{}}, nil
		}
		row, err := scanRow(cols, colTypes, rows)
		if err != nil {
			return GetOutput{}, fmt.Errorf("postgres.get: scanning row: %w", err)
		}
		return GetOutput{Found: true, Row: row}, nil
	})
}

// Exec returns the task that runs an INSERT, UPDATE, or DELETE.
func (p *Postgres) Exec() engine.Task {
	return engine.Typed(func(c *engine.Context, input QueryInput) (ExecOutput, error) {
		result, err := p.db.ExecContext(c, input.Query, input.Params...)
		if err != nil {
			return ExecOutput{}, fmt.Errorf("postgres.exec: query failed: %w", err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return ExecOutput{}, fmt.Errorf("postgres.exec: reading affected rows: %w", err)
		}
		return ExecOutput{AffectedRows: affected}, nil
	})
}

// scanRow scans one row into a map. JSONB, UUID, and numeric columns arrive
// as []byte from lib/pq and are rendered as strings.
func scanRow(cols []string, colTypes []*sql.ColumnType, rows *sql.Rows) (map[string]any, error) {
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}

	row := make(map[string]any, len(cols))
	for i, col := range cols {
		val := values[i]
		switch colTypes[i].DatabaseTypeName() {
		case "JSONB", "JSON", "UUID", "NUMERIC", "DECIMAL":
			if b, ok := val.([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = val
		default:
			row[col] = val
		}
	}
	return row, nil
}
