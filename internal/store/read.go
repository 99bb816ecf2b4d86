package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// ReadTransitions returns every transition of a run ordered by seq.
// Returns an empty slice (not nil) if the run has none.
func (s *Store) ReadTransitions(ctx context.Context, runID string) ([]TransitionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, seq, region, role, kind, occupied, cycle, at
		FROM region_transitions
		WHERE run_id = ?
		ORDER BY seq ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	out := []TransitionRecord{}
	for rows.Next() {
		var (
			rec      TransitionRecord
			occupied int
			cycle    int64
			at       string
		)
		if err := rows.Scan(&rec.RunID, &rec.Seq, &rec.Region, &rec.Role, &rec.Kind, &occupied, &cycle, &at); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		rec.Occupied = occupied != 0
		rec.Cycle = uint64(cycle)
		if rec.At, err = parseTime(at); err != nil {
			return nil, fmt.Errorf("parse transition time: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return out, nil
}

// ReadAttempts returns dispatch attempts matching the filter.
// Records are ordered by run start, then seq. With a Limit, the most recent
// records are returned, still in ascending order.
func (s *Store) ReadAttempts(ctx context.Context, f AttemptFilter) ([]AttemptRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.RunID != "" {
		where = append(where, "a.run_id = ?")
		args = append(args, f.RunID)
	}
	if f.End != "" {
		where = append(where, "a.end_region = ?")
		args = append(args, f.End)
	}
	if f.Outcome != "" {
		where = append(where, "a.outcome = ?")
		args = append(args, f.Outcome)
	}

	query := `
		SELECT a.run_id, a.seq, a.end_region, a.start_region, a.cycle, a.outcome, a.reason,
		       a.order_id, a.status_code, a.code, a.message, a.error, a.duration_ms, a.at
		FROM dispatch_attempts a
		JOIN runs r ON r.id = a.run_id`
	if len(where) > 0 {
		query += "\n\t\tWHERE " + strings.Join(where, " AND ")
	}
	query += "\n\t\tORDER BY r.started_at DESC, a.run_id DESC, a.seq DESC"
	if f.Limit > 0 {
		query += "\n\t\tLIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query attempts: %w", err)
	}
	defer rows.Close()

	out := []AttemptRecord{}
	for rows.Next() {
		rec, err := scanAttempt(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attempts: %w", err)
	}

	// Query selects newest first so LIMIT keeps the tail; flip back.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ListRuns returns every run with record counts, oldest first.
func (s *Store) ListRuns(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.started_at,
		       (SELECT COUNT(*) FROM region_transitions t WHERE t.run_id = r.id),
		       (SELECT COUNT(*) FROM dispatch_attempts a WHERE a.run_id = r.id),
		       (SELECT COUNT(*) FROM dispatch_attempts a WHERE a.run_id = r.id AND a.outcome = 'dispatched')
		FROM runs r
		ORDER BY r.started_at ASC, r.id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	out := []Run{}
	for rows.Next() {
		var (
			run     Run
			started string
		)
		if err := rows.Scan(&run.ID, &started, &run.Transitions, &run.Attempts, &run.Dispatched); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if run.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("parse run time: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}

func scanAttempt(rows *sql.Rows) (AttemptRecord, error) {
	var (
		rec        AttemptRecord
		cycle      int64
		durationMS int64
		at         string
	)
	err := rows.Scan(
		&rec.RunID, &rec.Seq, &rec.End, &rec.Start, &cycle, &rec.Outcome, &rec.Reason,
		&rec.OrderID, &rec.StatusCode, &rec.Code, &rec.Message, &rec.Error, &durationMS, &at,
	)
	if err != nil {
		return AttemptRecord{}, fmt.Errorf("scan attempt: %w", err)
	}
	rec.Cycle = uint64(cycle)
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	if rec.At, err = parseTime(at); err != nil {
		return AttemptRecord{}, fmt.Errorf("parse attempt time: %w", err)
	}
	return rec, nil
}

// LastSeq returns the highest seq journaled by any run, or 0 for a fresh
// journal.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM (
			SELECT seq FROM region_transitions
			UNION ALL
			SELECT seq FROM dispatch_attempts
		)
	`).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("query last seq: %w", err)
	}
	return seq, nil
}
