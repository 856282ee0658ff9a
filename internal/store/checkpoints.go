package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// GetCheckpoint returns the high-water mark for a checkpointed job, or
// (zero, false) when the job has never run.
func (s *Store) GetCheckpoint(ctx context.Context, jobName string) (time.Time, bool, error) {
	var end time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT last_window_end FROM detection_checkpoints WHERE job_name = $1`,
		jobName).Scan(&end)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query checkpoint: %w", err)
	}
	return end, true, nil
}

// advanceCheckpointSQL moves a job's high-water mark forward. The GREATEST
// keeps a stale or out-of-order write from ever moving it backward, which
// is the property that prevents reprocessed ranges and duplicate alert
// storms across restarts.
const advanceCheckpointSQL = `
	INSERT INTO detection_checkpoints (job_name, last_run_time, last_window_end)
	VALUES ($1, now(), $2)
	ON CONFLICT (job_name) DO UPDATE SET
		last_run_time   = now(),
		last_window_end = GREATEST(detection_checkpoints.last_window_end, EXCLUDED.last_window_end)
`

// AdvanceCheckpoint moves a job's high-water mark forward, never backward.
func (s *Store) AdvanceCheckpoint(ctx context.Context, jobName string, windowEnd time.Time) error {
	if _, err := s.db.ExecContext(ctx, advanceCheckpointSQL, jobName, windowEnd); err != nil {
		return fmt.Errorf("failed to advance checkpoint: %w", err)
	}
	return nil
}
