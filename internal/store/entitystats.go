package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/seclens/seclens/internal/model"
)

// refreshSeenEntitiesSQL upserts first/last seen and the cumulative event
// count. The recent-activity filter only selects WHICH entities to
// refresh; their totals are recomputed over every retained bucket, so a
// rerun overwrites with the same value, and the GREATEST guard keeps the
// count from shrinking when old buckets are retired.
const refreshSeenEntitiesSQL = `
	INSERT INTO entity_stats (entity_type, entity_id, first_seen, last_seen, total_events, updated_at)
	SELECT fb.entity_type, fb.entity_id,
	       min(fb.bucket_start), max(fb.bucket_start), sum(fb.n_events), now()
	FROM feature_buckets fb
	WHERE fb.feature_name = 'event_count'
	  AND (fb.entity_type, fb.entity_id) IN (
		SELECT entity_type, entity_id
		FROM feature_buckets
		WHERE feature_name = 'event_count' AND updated_at >= now() - $1::interval
	  )
	GROUP BY fb.entity_type, fb.entity_id
	ON CONFLICT (entity_type, entity_id) DO UPDATE SET
		first_seen   = LEAST(entity_stats.first_seen, EXCLUDED.first_seen),
		last_seen    = GREATEST(entity_stats.last_seen, EXCLUDED.last_seen),
		total_events = GREATEST(entity_stats.total_events, EXCLUDED.total_events),
		updated_at   = now()
`

// RefreshEntityStats refreshes the per-entity summary for entities with
// recently updated feature buckets: first/last seen, cumulative event
// count, distinct source IPs, and a ranked top-signature list with known
// benign patterns filtered out.
func (s *Store) RefreshEntityStats(ctx context.Context, recentWindow time.Duration, benignPatterns []string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, refreshSeenEntitiesSQL, intervalParam(recentWindow)); err != nil {
			return fmt.Errorf("failed to refresh seen entities: %w", err)
		}

		// Top signatures over the last hour, noise filtered, ten deep.
		notLike := ""
		var args []interface{}
		for i, p := range benignPatterns {
			notLike += fmt.Sprintf(" AND secondary_id NOT ILIKE $%d", i+1)
			args = append(args, "%"+p+"%")
		}
		query := fmt.Sprintf(`
			UPDATE entity_stats SET top_signatures = ranked.sigs, updated_at = now()
			FROM (
				SELECT entity_type, entity_id,
				       jsonb_agg(jsonb_build_object('sig', secondary_id, 'count', total) ORDER BY total DESC) AS sigs
				FROM (
					SELECT entity_type, entity_id, secondary_id, sum(value) AS total,
					       row_number() OVER (PARTITION BY entity_type, entity_id ORDER BY sum(value) DESC) AS rn
					FROM feature_buckets
					WHERE feature_name = 'signature_count'
					  AND updated_at >= now() - interval '60 minutes'%s
					GROUP BY entity_type, entity_id, secondary_id
				) top
				WHERE rn <= 10
				GROUP BY entity_type, entity_id
			) ranked
			WHERE entity_stats.entity_type = ranked.entity_type
			  AND entity_stats.entity_id = ranked.entity_id
		`, notLike)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("failed to refresh top signatures: %w", err)
		}

		// Distinct source IPs ever observed per entity.
		if _, err := tx.ExecContext(ctx, `
			UPDATE entity_stats SET unique_src_ips = ips.n, updated_at = now()
			FROM (
				SELECT entity_type, entity_id, count(DISTINCT secondary_id) AS n
				FROM feature_buckets
				WHERE feature_name = 'src_ip_count'
				GROUP BY entity_type, entity_id
			) ips
			WHERE entity_stats.entity_type = ips.entity_type
			  AND entity_stats.entity_id = ips.entity_id
		`); err != nil {
			return fmt.Errorf("failed to refresh unique src ips: %w", err)
		}
		return nil
	})
}

// ListEntityStats returns the per-entity summaries, most recently seen
// first.
func (s *Store) ListEntityStats(ctx context.Context, limit int) ([]model.EntityStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_type, entity_id, first_seen, last_seen, total_events,
		       unique_src_ips, COALESCE(top_signatures::text, ''), updated_at
		FROM entity_stats
		ORDER BY last_seen DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query entity stats: %w", err)
	}
	defer rows.Close()

	var stats []model.EntityStats
	for rows.Next() {
		var (
			es   model.EntityStats
			sigs string
		)
		if err := rows.Scan(&es.EntityType, &es.EntityID, &es.FirstSeen, &es.LastSeen,
			&es.TotalEvents, &es.UniqueSrcIPs, &sigs, &es.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan entity stats: %w", err)
		}
		if sigs != "" {
			if err := json.Unmarshal([]byte(sigs), &es.TopSignatures); err != nil {
				return nil, fmt.Errorf("failed to decode top signatures: %w", err)
			}
		}
		stats = append(stats, es)
	}
	return stats, rows.Err()
}

// intervalParam renders a duration as a Postgres interval literal.
func intervalParam(d time.Duration) string {
	return strings.TrimSpace(fmt.Sprintf("%d seconds", int(d.Seconds())))
}
