// Package detect scans aggregated features and normalized events for
// anomalies and emits deduplicated signals. Three detector families run
// per tick: relative spikes against a baseline window, silent-entity
// checks, and a checkpointed promoter for individually severe events.
package detect

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/seclens/seclens/internal/config"
	"github.com/seclens/seclens/internal/metrics"
	"github.com/seclens/seclens/internal/model"
	"github.com/seclens/seclens/internal/store"
)

// seenCacheSize bounds the in-process cache of recently emitted dedupe
// keys. The database unique index is the real guarantee; the cache just
// keeps repeat ticks from hammering it with no-op inserts.
const seenCacheSize = 100000

// Detector runs all detector families and inserts the surviving signals.
type Detector struct {
	store         *store.Store
	logger        *slog.Logger
	metrics       *metrics.Metrics
	tun           config.Tunables
	bucketSeconds int
	seen          *lru.Cache[string, struct{}]
	now           func() time.Time
}

// New creates a Detector.
func New(st *store.Store, m *metrics.Metrics, tun config.Tunables, bucketSeconds int, logger *slog.Logger) *Detector {
	seen, _ := lru.New[string, struct{}](seenCacheSize)
	return &Detector{
		store:         st,
		logger:        logger,
		metrics:       m,
		tun:           tun,
		bucketSeconds: bucketSeconds,
		seen:          seen,
		now:           time.Now,
	}
}

// Name implements pipeline.Stage.
func (d *Detector) Name() string { return "detect" }

// Run executes every detector family and returns the number of newly
// stored signals. All inserts are insert-if-absent on the dedupe key, so
// rerunning over the same data is side-effect free.
func (d *Detector) Run(ctx context.Context) (int, error) {
	var signals []model.Signal

	featureNow, haveFeatures, err := d.store.LatestBucketStart(ctx, d.bucketSeconds)
	if err != nil {
		return 0, err
	}
	if haveFeatures {
		spikes, err := d.runSpikes(ctx, featureNow)
		if err != nil {
			return 0, err
		}
		signals = append(signals, spikes...)

		silents, err := d.runSilence(ctx, featureNow)
		if err != nil {
			return 0, err
		}
		signals = append(signals, silents...)
	}

	promoted, promoteEnd, err := d.runPromote(ctx)
	if err != nil {
		return 0, err
	}
	signals = append(signals, promoted...)

	fresh := signals[:0]
	for _, sig := range signals {
		if _, dup := d.seen.Get(sig.DedupeKey); dup {
			continue
		}
		fresh = append(fresh, sig)
	}

	inserted, err := d.store.InsertSignals(ctx, fresh)
	if err != nil {
		return 0, err
	}
	for _, sig := range fresh {
		d.seen.Add(sig.DedupeKey, struct{}{})
	}
	d.metrics.SignalsEmitted.Add(float64(inserted))

	// The checkpoint only moves once the batch is durable; a crash before
	// this point re-scans the same range and the dedupe keys absorb it.
	if !promoteEnd.IsZero() {
		if err := d.store.AdvanceCheckpoint(ctx, promoteJobName, promoteEnd); err != nil {
			return inserted, err
		}
	}

	d.logger.Info("detection complete", "candidates", len(signals), "inserted", inserted)
	return inserted, nil
}

// DedupeKey derives the deterministic key guaranteeing at most one stored
// signal for a logically identical detection.
func DedupeKey(name, entityType, entityID string, windowEnd time.Time) string {
	raw := fmt.Sprintf("%s|%s|%s|%s", name, entityType, entityID, windowEnd.UTC().Format(time.RFC3339))
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])
}
