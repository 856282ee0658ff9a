package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strings"

	"github.com/seclens/seclens/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// Migrate applies the schema. All statements are idempotent, so running it
// on every startup is safe.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// InsertRawEvents stores a batch of raw events, silently dropping any
// whose event_key was already ingested. Returns the number of new rows.
func (s *Store) InsertRawEvents(ctx context.Context, events []model.RawEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	var (
		placeholders []string
		args         []interface{}
	)
	for i, ev := range events {
		base := i * 9
		placeholders = append(placeholders, fmt.Sprintf("($%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9))
		payload := interface{}(nil)
		if len(ev.Payload) > 0 {
			payload = string(ev.Payload)
		}
		args = append(args, ev.EventKey, ev.EventTime, ev.Source, ev.SourceType,
			ev.Host, ev.AgentName, ev.RuleID, payload, ev.RawText)
	}

	query := fmt.Sprintf(`
		INSERT INTO raw_events (event_key, event_time, source, source_type, host, agent_name, rule_id, payload, raw_text)
		VALUES %s
		ON CONFLICT (event_key) DO NOTHING
	`, strings.Join(placeholders, ","))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert raw events: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// FetchUnnormalized returns raw events that have no normalized row yet, in
// ingestion order. The normalizer drains this set batch by batch until it
// comes back empty.
func (s *Store) FetchUnnormalized(ctx context.Context, limit int) ([]model.RawEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.id, r.event_key, r.event_time, r.source, r.source_type,
		       r.host, r.agent_name, r.rule_id, COALESCE(r.payload::text, ''), r.raw_text, r.ingested_at
		FROM raw_events r
		LEFT JOIN normalized_events n ON n.raw_id = r.id
		WHERE n.raw_id IS NULL
		ORDER BY r.id ASC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unnormalized events: %w", err)
	}
	defer rows.Close()

	var events []model.RawEvent
	for rows.Next() {
		var (
			ev      model.RawEvent
			payload string
		)
		if err := rows.Scan(&ev.ID, &ev.EventKey, &ev.EventTime, &ev.Source, &ev.SourceType,
			&ev.Host, &ev.AgentName, &ev.RuleID, &payload, &ev.RawText, &ev.IngestedAt); err != nil {
			return nil, fmt.Errorf("failed to scan raw event: %w", err)
		}
		if payload != "" {
			ev.Payload = []byte(payload)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating raw events: %w", err)
	}
	return events, nil
}

// nullString converts an optional string for SQL parameters.
func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

// nullInt converts an optional int for SQL parameters.
func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
