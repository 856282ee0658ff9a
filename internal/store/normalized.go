package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/seclens/seclens/internal/model"
)

// InsertNormalizedEvents stores a normalization batch. The unique raw_id
// index guarantees at most one durable normalization attempt per raw
// event; a rerun over already-processed rows inserts nothing.
func (s *Store) InsertNormalizedEvents(ctx context.Context, events []model.NormalizedEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	const cols = 17
	var (
		placeholders []string
		args         []interface{}
	)
	for i, ev := range events {
		base := i * cols
		marks := make([]string, cols)
		for j := range marks {
			marks[j] = fmt.Sprintf("$%d", base+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(marks, ",")+")")

		extras := interface{}(nil)
		if len(ev.Extras) > 0 {
			extras = string(ev.Extras)
		}
		args = append(args,
			ev.RawID, ev.EventTime, ev.Vendor, ev.EventKind, ev.Source, ev.SourceType,
			ev.Host, nullString(ev.SrcIP), nullString(ev.DestIP), nullString(ev.Username),
			ev.RuleID, ev.Signature, int(ev.Severity),
			nullString(ev.HTTPMethod), nullString(ev.HTTPPath), nullInt(ev.HTTPStatus),
			extras)
	}

	query := fmt.Sprintf(`
		INSERT INTO normalized_events (
			raw_id, event_time, vendor, event_kind, source, source_type,
			host, src_ip, dest_ip, username,
			rule_id, signature, severity,
			http_method, http_path, http_status, extras
		) VALUES %s
		ON CONFLICT (raw_id) DO NOTHING
	`, strings.Join(placeholders, ","))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to insert normalized events: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// SevereEvent is the slice of a normalized event the checkpointed
// promoter needs to mint a signal.
type SevereEvent struct {
	EventTime time.Time
	Vendor    string
	EventKind string
	RuleID    string
	Signature string
	Severity  model.Severity
	Host      string
	SrcIP     *string
	DestIP    *string
}

// FetchSevereEvents returns individually severe events in [start, end):
// severity at or above minSeverity, or network IDS detections, which are
// high-confidence regardless of mapped severity.
func (s *Store) FetchSevereEvents(ctx context.Context, start, end time.Time, minSeverity model.Severity) ([]SevereEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_time, vendor, event_kind, rule_id, signature, severity, host, src_ip, dest_ip
		FROM normalized_events
		WHERE event_time >= $1 AND event_time < $2
		  AND (severity >= $3 OR (vendor = 'opnsense' AND event_kind = 'ids'))
	`, start, end, int(minSeverity))
	if err != nil {
		return nil, fmt.Errorf("failed to query severe events: %w", err)
	}
	defer rows.Close()

	var events []SevereEvent
	for rows.Next() {
		var (
			ev     SevereEvent
			srcIP  sql.NullString
			destIP sql.NullString
			sev    int
		)
		if err := rows.Scan(&ev.EventTime, &ev.Vendor, &ev.EventKind, &ev.RuleID,
			&ev.Signature, &sev, &ev.Host, &srcIP, &destIP); err != nil {
			return nil, fmt.Errorf("failed to scan severe event: %w", err)
		}
		ev.Severity = model.Severity(sev)
		if srcIP.Valid {
			ev.SrcIP = &srcIP.String
		}
		if destIP.Valid {
			ev.DestIP = &destIP.String
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating severe events: %w", err)
	}
	return events, nil
}
