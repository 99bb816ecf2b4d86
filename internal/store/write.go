package store

import (
	"context"
	"fmt"
)

// WriteTransition inserts a transition record under the current run.
// Uses ON CONFLICT DO NOTHING for idempotency - a duplicate seq is ignored.
// A zero At is replaced with the store clock.
func (s *Store) WriteTransition(ctx context.Context, rec TransitionRecord) error {
	if rec.At.IsZero() {
		rec.At = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO region_transitions
		(run_id, seq, region, role, kind, occupied, cycle, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`,
		s.runID,
		rec.Seq,
		rec.Region,
		rec.Role,
		rec.Kind,
		boolToInt(rec.Occupied),
		int64(rec.Cycle),
		formatTime(rec.At),
	)
	if err != nil {
		return fmt.Errorf("write transition: %w", err)
	}
	return nil
}

// WriteAttempt inserts a dispatch attempt record under the current run.
// Uses ON CONFLICT DO NOTHING for idempotency - a duplicate seq is ignored.
func (s *Store) WriteAttempt(ctx context.Context, rec AttemptRecord) error {
	if rec.At.IsZero() {
		rec.At = s.now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dispatch_attempts
		(run_id, seq, end_region, start_region, cycle, outcome, reason,
		 order_id, status_code, code, message, error, duration_ms, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, seq) DO NOTHING
	`,
		s.runID,
		rec.Seq,
		rec.End,
		rec.Start,
		int64(rec.Cycle),
		rec.Outcome,
		rec.Reason,
		rec.OrderID,
		rec.StatusCode,
		rec.Code,
		rec.Message,
		rec.Error,
		rec.Duration.Milliseconds(),
		formatTime(rec.At),
	)
	if err != nil {
		return fmt.Errorf("write attempt: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
