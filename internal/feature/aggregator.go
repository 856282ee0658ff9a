// Package feature computes time-bucketed aggregates from normalized
// events. Every metric is a row in a declarative rule table interpreted
// by one generic rollup routine; recomputing any bucket overwrites it
// with the same value, so overlapping runs self-correct for late data.
package feature

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/seclens/seclens/internal/metrics"
	"github.com/seclens/seclens/internal/store"
)

// Aggregator rolls recent normalized events into feature buckets and
// refreshes entity stats.
type Aggregator struct {
	store           *store.Store
	logger          *slog.Logger
	metrics         *metrics.Metrics
	rules           []AggRule
	benignPatterns  []string
	lookbackMinutes int
	bucketSeconds   int
}

// New creates an Aggregator over the given rule table.
func New(st *store.Store, m *metrics.Metrics, rules []AggRule, benignPatterns []string, lookbackMinutes, bucketSeconds int, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		store:           st,
		logger:          logger,
		metrics:         m,
		rules:           rules,
		benignPatterns:  benignPatterns,
		lookbackMinutes: lookbackMinutes,
		bucketSeconds:   bucketSeconds,
	}
}

// Name implements pipeline.Stage.
func (a *Aggregator) Name() string { return "features" }

// Run recomputes every rule over the trailing lookback window and then
// refreshes entity stats. Returns the number of bucket rows touched.
func (a *Aggregator) Run(ctx context.Context) (int, error) {
	total := 0
	for _, rule := range a.rules {
		res, err := a.store.DB().ExecContext(ctx, buildRollupSQL(rule), a.bucketSeconds, a.lookbackMinutes)
		if err != nil {
			return total, fmt.Errorf("failed to roll up %s/%s: %w", rule.Name, rule.EntityType, err)
		}
		n, _ := res.RowsAffected()
		total += int(n)
		a.logger.Debug("rolled up feature", "feature", rule.Name, "entity_type", rule.EntityType, "rows", n)
	}
	a.metrics.FeatureRowsUpserted.Add(float64(total))

	if err := a.store.RefreshEntityStats(ctx, 5*time.Minute, a.benignPatterns); err != nil {
		return total, err
	}
	a.logger.Info("feature rollup complete", "rows", total, "lookback_minutes", a.lookbackMinutes)
	return total, nil
}
