// Package postgres stores sync outcomes in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/contact-sync/internal/domain"
)

// OutcomeRepo records one row per outcome of a run in sync_outcomes.
// It satisfies contactsync.Emitter.
type OutcomeRepo struct {
	db     *sql.DB
	runID  string
	stream string
	now    func() time.Time
}

// NewOutcomeRepo creates a Postgres-backed outcome sink for one run.
func NewOutcomeRepo(db *sql.DB, runID, stream string) *OutcomeRepo {
	return &OutcomeRepo{db: db, runID: runID, stream: stream, now: time.Now}
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func (r *OutcomeRepo) Emit(ctx context.Context, o domain.Outcome) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_outcomes
			(id, run_id, stream, external_id, member_id, success, error, error_code, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, uuid.New().String(), r.runID, r.stream, o.ExternalID, nullable(o.ID), o.Success,
		nullable(o.Error), nullable(string(o.ErrorCode)), r.now().UTC())
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// RunSummary counts a run's outcomes.
type RunSummary struct {
	RunID       string
	Succeeded   int
	Failed      int
	ByErrorCode map[string]int
}

// Summary aggregates the stored outcomes of runID.
func (r *OutcomeRepo) Summary(ctx context.Context, runID string) (*RunSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT success, COALESCE(error_code, ''), COUNT(*)
		FROM sync_outcomes
		WHERE run_id = $1
		GROUP BY success, COALESCE(error_code, '')
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("summarize run: %w", err)
	}
	defer rows.Close()

	s := &RunSummary{RunID: runID, ByErrorCode: make(map[string]int)}
	for rows.Next() {
		var (
			success bool
			code    string
			count   int
		)
		if err := rows.Scan(&success, &code, &count); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		if success {
			s.Succeeded += count
			continue
		}
		s.Failed += count
		if code != "" {
			s.ByErrorCode[code] += count
		}
	}
	return s, rows.Err()
}
