package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/seclens/seclens/internal/model"
)

// InsertSignals stores detected signals, relying on the unique dedupe_key
// index to drop anything already seen. Returns the number of new rows.
func (s *Store) InsertSignals(ctx context.Context, signals []model.Signal) (int, error) {
	if len(signals) == 0 {
		return 0, nil
	}

	const cols = 9
	var (
		placeholders []string
		args         []interface{}
	)
	for i, sig := range signals {
		base := i * cols
		marks := make([]string, cols)
		for j := range marks {
			marks[j] = fmt.Sprintf("$%d", base+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(marks, ",")+")")

		metadata := interface{}(nil)
		if len(sig.Metadata) > 0 {
			metadata = string(sig.Metadata)
		}
		args = append(args, sig.Name, sig.EntityType, sig.EntityID, int(sig.Severity),
			sig.Score, sig.WindowStart, sig.WindowEnd, sig.DedupeKey, metadata)
	}

	query := fmt.Sprintf(`
		INSERT INTO signals (
			signal_name, entity_type, entity_id, severity, score,
			window_start, window_end, dedupe_key, metadata
		) VALUES %s
		ON CONFLICT (dedupe_key) DO NOTHING
	`, strings.Join(placeholders, ","))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert signals: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// FetchUnprocessedSignals returns signals the correlator has not consumed
// yet, oldest window first, in a bounded batch.
func (s *Store) FetchUnprocessedSignals(ctx context.Context, limit int) ([]model.Signal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, signal_name, entity_type, entity_id, severity, score,
		       window_start, window_end, dedupe_key
		FROM signals
		WHERE processed_at IS NULL
		ORDER BY window_end ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unprocessed signals: %w", err)
	}
	defer rows.Close()

	var signals []model.Signal
	for rows.Next() {
		var (
			sig model.Signal
			sev int
		)
		if err := rows.Scan(&sig.ID, &sig.Name, &sig.EntityType, &sig.EntityID, &sev,
			&sig.Score, &sig.WindowStart, &sig.WindowEnd, &sig.DedupeKey); err != nil {
			return nil, fmt.Errorf("failed to scan signal: %w", err)
		}
		sig.Severity = model.Severity(sev)
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}

// MarkSignalsProcessed stamps processed_at on the consumed batch in one
// update. Running after evidence attachment, a crash in between leaves the
// signals unprocessed and the next run re-attaches idempotently.
func (s *Store) MarkSignalsProcessed(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.db.ExecContext(ctx,
		`UPDATE signals SET processed_at = now() WHERE id = ANY($1)`,
		pq.Array(ids)); err != nil {
		return fmt.Errorf("failed to mark signals processed: %w", err)
	}
	return nil
}

// ListEvidence returns the signals linked to an incident ordered by event
// time, the order an analyst reads them in.
func (s *Store) ListEvidence(ctx context.Context, incidentID int64) ([]model.Signal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT s.id, s.signal_name, s.entity_type, s.entity_id, s.severity, s.score,
		       s.window_start, s.window_end, s.dedupe_key, COALESCE(s.metadata::text, ''), s.processed_at
		FROM incident_evidence e
		JOIN signals s ON s.id = e.signal_id
		WHERE e.incident_id = $1
		ORDER BY s.window_end ASC
	`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("failed to query evidence: %w", err)
	}
	defer rows.Close()

	var signals []model.Signal
	for rows.Next() {
		var (
			sig       model.Signal
			sev       int
			metadata  string
			processed sql.NullTime
		)
		if err := rows.Scan(&sig.ID, &sig.Name, &sig.EntityType, &sig.EntityID, &sev,
			&sig.Score, &sig.WindowStart, &sig.WindowEnd, &sig.DedupeKey, &metadata, &processed); err != nil {
			return nil, fmt.Errorf("failed to scan evidence signal: %w", err)
		}
		sig.Severity = model.Severity(sev)
		if metadata != "" {
			sig.Metadata = []byte(metadata)
		}
		if processed.Valid {
			t := processed.Time
			sig.ProcessedAt = &t
		}
		signals = append(signals, sig)
	}
	return signals, rows.Err()
}
