package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// PostgresSink writes scalars to a table keyed by run id, so several runs
// can share one database.
type PostgresSink struct {
	db     *sql.DB
	table  string
	runID  uuid.UUID
	insert string
	owned  bool
}

// OpenPostgresSink connects with dsn and creates the table if needed.
func OpenPostgresSink(ctx context.Context, dsn, table string, runID uuid.UUID) (*PostgresSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	s, err := NewPostgresSink(ctx, db, table, runID)
	if err != nil {
		db.Close()
		return nil, err
	}
	s.owned = true
	return s, nil
}

// DefaultScalarTable is used when no table name is configured.
const DefaultScalarTable = "hfs_scalars"

// NewPostgresSink uses an existing connection pool. The pool is not closed
// by Close.
func NewPostgresSink(ctx context.Context, db *sql.DB, table string, runID uuid.UUID) (*PostgresSink, error) {
	if table == "" {
		table = DefaultScalarTable
	}
	s := &PostgresSink{db: db, table: table, runID: runID, insert: insertScalarQuery(table)}
	if _, err := db.ExecContext(ctx, createScalarTableQuery(table)); err != nil {
		return nil, fmt.Errorf("failed to create table %s: %w", table, err)
	}
	return s, nil
}

// RunID returns the run the sink writes under.
func (s *PostgresSink) RunID() uuid.UUID { return s.runID }

// AddScalar inserts one row.
func (s *PostgresSink) AddScalar(tag string, value float64, step int) error {
	if _, err := s.db.Exec(s.insert, s.runID.String(), tag, step, value, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to insert scalar %s: %w", tag, err)
	}
	return nil
}

// Series reads one series of this run ordered by step.
func (s *PostgresSink) Series(ctx context.Context, tag string) ([]Point, error) {
	rows, err := s.db.QueryContext(ctx, selectSeriesQuery(s.table), s.runID.String(), tag)
	if err != nil {
		return nil, fmt.Errorf("failed to query scalar %s: %w", tag, err)
	}
	defer rows.Close()

	var points []Point
	for rows.Next() {
		var p Point
		if err := rows.Scan(&p.Step, &p.Value); err != nil {
			return nil, fmt.Errorf("failed to scan scalar row: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// Close closes the pool if the sink opened it.
func (s *PostgresSink) Close() error {
	if !s.owned {
		return nil
	}
	return s.db.Close()
}

func createScalarTableQuery(table string) string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			run_id     UUID NOT NULL,
			tag        TEXT NOT NULL,
			step       INTEGER NOT NULL,
			value      DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`, pq.QuoteIdentifier(table))
}

func insertScalarQuery(table string) string {
	return fmt.Sprintf(`
		INSERT INTO %s (run_id, tag, step, value, created_at)
		VALUES ($1, $2, $3, $4, $5)`, pq.QuoteIdentifier(table))
}

func selectSeriesQuery(table string) string {
	return fmt.Sprintf(`
		SELECT step, value
		FROM %s
		WHERE run_id = $1 AND tag = $2
		ORDER BY step`, pq.QuoteIdentifier(table))
}
