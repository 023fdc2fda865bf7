package persistence

import (
	"context"
	"database/sql"
	"time"
)

// PostgresExecutionChecker is the durable tier behind the orchestrator's
// execution-ID dedup: it probes the audit trail for a cycle record
// carrying the ID. Lookups are bounded so a slow database cannot stall
// execution processing; the caller treats an error as "not seen".
type PostgresExecutionChecker struct {
	db      *sql.DB
	timeout time.Duration
}

func NewPostgresExecutionChecker(db *sql.DB) *PostgresExecutionChecker {
	return &PostgresExecutionChecker{db: db, timeout: 500 * time.Millisecond}
}

// Seen reports whether a cycle for the execution ID was already
// persisted.
func (c *PostgresExecutionChecker) Seen(ctx context.Context, executionID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	const query = `SELECT 1 FROM audit.events WHERE execution_id = $1 LIMIT 1`

	var one int
	err := c.db.QueryRowContext(ctx, query, executionID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
