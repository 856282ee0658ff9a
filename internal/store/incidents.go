package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/seclens/seclens/internal/model"
)

// CandidateBounds returns the cutoffs an open incident must satisfy to
// absorb a signal observed at the given instant: updated no earlier than
// the correlation window allows, and started within the lifetime bound.
func CandidateBounds(at time.Time, window, maxLifetime time.Duration) (updatedAfter, startedAfter time.Time) {
	return at.Add(-window), at.Add(-maxLifetime)
}

// IncidentAbsorbs reports whether an incident with the given status and
// timestamps can absorb a signal at the given instant. This is the same
// decision FindCandidateIncident's WHERE clause makes; an incident that
// fails it leaves the signal to open a new one.
func IncidentAbsorbs(status string, lastUpdate, startTime, at time.Time, window, maxLifetime time.Duration) bool {
	if status != model.IncidentStatusNew && status != model.IncidentStatusActive {
		return false
	}
	updatedAfter, startedAfter := CandidateBounds(at, window, maxLifetime)
	return !lastUpdate.Before(updatedAfter) && !startTime.Before(startedAfter)
}

// CappedScore is the score contribution one signal makes to an incident:
// its own score, bounded so a single large burst cannot inflate the
// incident on its own.
func CappedScore(score, cap float64) float64 {
	if score > cap {
		return cap
	}
	return score
}

// FindCandidateIncident looks for an open incident the signal can attach
// to: same root entity, still NEW or ACTIVE, updated within the
// correlation window of the signal's timestamp, and started within the
// maximum lifetime bound. The lifetime bound is what keeps a noisy entity
// from growing one incident forever. Among matches the most recently
// updated wins. Returns (0, nil) when nothing matches.
func (s *Store) FindCandidateIncident(ctx context.Context, entityType, entityID string, at time.Time, window, maxLifetime time.Duration) (int64, error) {
	updatedAfter, startedAfter := CandidateBounds(at, window, maxLifetime)
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM incidents
		WHERE root_entity_type = $1
		  AND root_entity_id = $2
		  AND status IN ('NEW', 'ACTIVE')
		  AND last_update_time >= $3
		  AND start_time >= $4
		ORDER BY last_update_time DESC
		LIMIT 1
	`, entityType, entityID, updatedAfter, startedAfter).Scan(&id)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query candidate incident: %w", err)
	}
	return id, nil
}

// CreateIncident opens a new incident seeded from a signal and links that
// signal as its first evidence.
func (s *Store) CreateIncident(ctx context.Context, sig model.Signal, title string) (int64, error) {
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO incidents (
				title, status, severity, score,
				root_entity_type, root_entity_id,
				start_time, end_time, last_update_time
			) VALUES ($1, 'NEW', $2, $3, $4, $5, $6, $7, $8)
			RETURNING id
		`, title, int(sig.Severity), sig.Score, sig.EntityType, sig.EntityID,
			sig.WindowStart, sig.WindowEnd, sig.WindowEnd).Scan(&id)
		if err != nil {
			return fmt.Errorf("failed to create incident: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO incident_evidence (incident_id, signal_id)
			VALUES ($1, $2)
			ON CONFLICT (incident_id, signal_id) DO NOTHING
		`, id, sig.ID); err != nil {
			return fmt.Errorf("failed to link first evidence: %w", err)
		}
		return nil
	})
	return id, err
}

// AttachSignal adds a signal to an existing incident: idempotent evidence
// link, monotone time extension, max severity, and the capped per-signal
// score contribution.
func (s *Store) AttachSignal(ctx context.Context, incidentID int64, sig model.Signal, scoreCap float64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO incident_evidence (incident_id, signal_id)
			VALUES ($1, $2)
			ON CONFLICT (incident_id, signal_id) DO NOTHING
		`, incidentID, sig.ID); err != nil {
			return fmt.Errorf("failed to link evidence: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE incidents SET
				last_update_time = GREATEST(last_update_time, $1),
				end_time         = GREATEST(end_time, $1),
				severity         = GREATEST(severity, $2),
				score            = score + $3
			WHERE id = $4
		`, sig.WindowEnd, int(sig.Severity), CappedScore(sig.Score, scoreCap), incidentID); err != nil {
			return fmt.Errorf("failed to update incident: %w", err)
		}
		return nil
	})
}

// ListIncidents returns incidents updated within the lookback window,
// newest activity first, with evidence counts for the presentation layer.
func (s *Store) ListIncidents(ctx context.Context, since time.Time, status string, limit int) ([]model.Incident, error) {
	query := `
		SELECT i.id, i.title, i.status, i.severity, i.score,
		       i.root_entity_type, i.root_entity_id,
		       i.start_time, i.end_time, i.last_update_time, i.created_at,
		       (SELECT count(*) FROM incident_evidence e WHERE e.incident_id = i.id)
		FROM incidents i
		WHERE i.last_update_time >= $1
	`
	args := []interface{}{since}
	if status != "" {
		query += ` AND i.status = $2`
		args = append(args, status)
	}
	query += fmt.Sprintf(` ORDER BY i.last_update_time DESC LIMIT %d`, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query incidents: %w", err)
	}
	defer rows.Close()

	var incidents []model.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

// GetIncident returns one incident by id, or (nil, nil) when absent.
func (s *Store) GetIncident(ctx context.Context, id int64) (*model.Incident, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT i.id, i.title, i.status, i.severity, i.score,
		       i.root_entity_type, i.root_entity_id,
		       i.start_time, i.end_time, i.last_update_time, i.created_at,
		       (SELECT count(*) FROM incident_evidence e WHERE e.incident_id = i.id)
		FROM incidents i
		WHERE i.id = $1
	`, id)

	var (
		inc model.Incident
		sev int
	)
	err := row.Scan(&inc.ID, &inc.Title, &inc.Status, &sev, &inc.Score,
		&inc.RootEntityType, &inc.RootEntityID,
		&inc.StartTime, &inc.EndTime, &inc.LastUpdateTime, &inc.CreatedAt,
		&inc.EvidenceCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query incident: %w", err)
	}
	inc.Severity = model.Severity(sev)
	return &inc, nil
}

func scanIncident(rows *sql.Rows) (model.Incident, error) {
	var (
		inc model.Incident
		sev int
	)
	if err := rows.Scan(&inc.ID, &inc.Title, &inc.Status, &sev, &inc.Score,
		&inc.RootEntityType, &inc.RootEntityID,
		&inc.StartTime, &inc.EndTime, &inc.LastUpdateTime, &inc.CreatedAt,
		&inc.EvidenceCount); err != nil {
		return inc, fmt.Errorf("failed to scan incident: %w", err)
	}
	inc.Severity = model.Severity(sev)
	return inc, nil
}
