package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/seclens/seclens/internal/model"
)

// UpsertFeatureBuckets writes aggregate rows with overwrite semantics on
// the composite key. Recomputing a bucket from the same events stores the
// same value; there is no increment path, so reruns never drift.
func (s *Store) UpsertFeatureBuckets(ctx context.Context, buckets []model.FeatureBucket) (int, error) {
	if len(buckets) == 0 {
		return 0, nil
	}

	const cols = 9
	var (
		placeholders []string
		args         []interface{}
	)
	for i, b := range buckets {
		base := i * cols
		marks := make([]string, cols)
		for j := range marks {
			marks[j] = fmt.Sprintf("$%d", base+j+1)
		}
		placeholders = append(placeholders, "("+strings.Join(marks, ",")+")")
		args = append(args, b.BucketStart, b.BucketSeconds, b.FeatureName,
			b.EntityType, b.EntityID, b.SecondaryType, b.SecondaryID, b.Value, b.NEvents)
	}

	query := fmt.Sprintf(`
		INSERT INTO feature_buckets (
			bucket_start, bucket_size_seconds, feature_name,
			entity_type, entity_id, secondary_type, secondary_id,
			value, n_events
		) VALUES %s
		ON CONFLICT (bucket_start, bucket_size_seconds, feature_name, entity_type, entity_id, secondary_type, secondary_id)
		DO UPDATE SET value = EXCLUDED.value, n_events = EXCLUDED.n_events, updated_at = now()
	`, strings.Join(placeholders, ","))

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert feature buckets: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// LatestBucketStart returns the most recent bucket boundary present for
// the given bucket width. Detectors anchor their windows on it so they
// evaluate the same data the aggregator last produced.
func (s *Store) LatestBucketStart(ctx context.Context, bucketSeconds int) (time.Time, bool, error) {
	var ts *time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT max(bucket_start) FROM feature_buckets WHERE bucket_size_seconds = $1`,
		bucketSeconds).Scan(&ts)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to query latest bucket: %w", err)
	}
	if ts == nil {
		return time.Time{}, false, nil
	}
	return *ts, true, nil
}

// WindowSums returns, per entity, the summed value of a feature over
// buckets strictly after the given boundary.
func (s *Store) WindowSums(ctx context.Context, feature, entityType string, bucketSeconds int, after time.Time) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, sum(value)
		FROM feature_buckets
		WHERE feature_name = $1 AND entity_type = $2 AND bucket_size_seconds = $3
		  AND bucket_start > $4
		GROUP BY entity_id
	`, feature, entityType, bucketSeconds, after)
	if err != nil {
		return nil, fmt.Errorf("failed to query window sums: %w", err)
	}
	defer rows.Close()

	sums := make(map[string]float64)
	for rows.Next() {
		var (
			entityID string
			sum      float64
		)
		if err := rows.Scan(&entityID, &sum); err != nil {
			return nil, fmt.Errorf("failed to scan window sum: %w", err)
		}
		sums[entityID] = sum
	}
	return sums, rows.Err()
}

// BaselineAverages returns, per entity, the average bucket value of a
// feature over (after, until].
func (s *Store) BaselineAverages(ctx context.Context, feature, entityType string, bucketSeconds int, after, until time.Time) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, avg(value)
		FROM feature_buckets
		WHERE feature_name = $1 AND entity_type = $2 AND bucket_size_seconds = $3
		  AND bucket_start > $4 AND bucket_start <= $5
		GROUP BY entity_id
	`, feature, entityType, bucketSeconds, after, until)
	if err != nil {
		return nil, fmt.Errorf("failed to query baseline averages: %w", err)
	}
	defer rows.Close()

	avgs := make(map[string]float64)
	for rows.Next() {
		var (
			entityID string
			avg      float64
		)
		if err := rows.Scan(&entityID, &avg); err != nil {
			return nil, fmt.Errorf("failed to scan baseline average: %w", err)
		}
		avgs[entityID] = avg
	}
	return avgs, rows.Err()
}

// ActiveEntities returns the distinct entities that have any activity for
// the feature in (after, until].
func (s *Store) ActiveEntities(ctx context.Context, feature, entityType string, bucketSeconds int, after, until time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT entity_id
		FROM feature_buckets
		WHERE feature_name = $1 AND entity_type = $2 AND bucket_size_seconds = $3
		  AND bucket_start > $4 AND bucket_start <= $5
	`, feature, entityType, bucketSeconds, after, until)
	if err != nil {
		return nil, fmt.Errorf("failed to query active entities: %w", err)
	}
	defer rows.Close()

	var entities []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan entity id: %w", err)
		}
		entities = append(entities, id)
	}
	return entities, rows.Err()
}
