package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/seclens/seclens/internal/model"
)

// silenceSignalName names the gone-quiet detection.
const silenceSignalName = "agent_silent"

// silenceScore is the fixed score of a silence signal. Silence carries
// no natural magnitude, so every firing weighs the same.
const silenceScore = 10.0

// runSilence flags hosts that reported during the lookback baseline but
// have produced nothing in the recent window. Like the spike rules it is
// anchored on feature time, so an overall pipeline stall does not mark
// the entire estate as silent.
func (d *Detector) runSilence(ctx context.Context, featureNow time.Time) ([]model.Signal, error) {
	recentStart := featureNow.Add(-time.Duration(d.tun.SilenceRecentMinutes) * time.Minute)
	baselineStart := featureNow.Add(-time.Duration(d.tun.SilenceLookbackHours) * time.Hour)

	baseline, err := d.store.ActiveEntities(ctx, "event_count", "host", d.bucketSeconds, baselineStart, recentStart)
	if err != nil {
		return nil, fmt.Errorf("failed to load silence baseline: %w", err)
	}
	recent, err := d.store.ActiveEntities(ctx, "event_count", "host", d.bucketSeconds, recentStart, featureNow)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent activity: %w", err)
	}

	recentSet := make(map[string]struct{}, len(recent))
	for _, e := range recent {
		recentSet[e] = struct{}{}
	}

	var out []model.Signal
	for _, host := range baseline {
		if host == "" || host == "unknown" {
			continue
		}
		if _, active := recentSet[host]; active {
			continue
		}
		meta, _ := json.Marshal(map[string]interface{}{
			"lookback_hours": d.tun.SilenceLookbackHours,
			"recent_minutes": d.tun.SilenceRecentMinutes,
		})
		out = append(out, model.Signal{
			Name:        silenceSignalName,
			EntityType:  "host",
			EntityID:    host,
			Severity:    model.Severity(d.tun.SilenceSeverity),
			Score:       silenceScore,
			WindowStart: recentStart,
			WindowEnd:   featureNow,
			DedupeKey:   DedupeKey(silenceSignalName, "host", host, featureNow),
			Metadata:    meta,
		})
	}
	return out, nil
}
