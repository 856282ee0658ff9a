package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/seclens/seclens/internal/config"
	"github.com/seclens/seclens/internal/model"
)

// scoreEpsilon keeps the spike score finite when an entity has no
// baseline history at all.
const scoreEpsilon = 0.1

// SpikeFires reports whether a current-window sum counts as a spike
// against its baseline average. Both conditions must hold: the absolute
// floor filters out proportionally large but tiny-volume blips, and the
// relative test filters out entities that are simply always busy.
func SpikeFires(current, baselineAvg, multiplier, floor float64) bool {
	return current >= floor && current > baselineAvg*multiplier+floor
}

// SpikeScore is the ratio of current volume to baseline average.
func SpikeScore(current, baselineAvg float64) float64 {
	return current / (baselineAvg + scoreEpsilon)
}

// runSpikes evaluates every configured spike rule. Windows are anchored
// on the newest feature bucket rather than the wall clock, so a stalled
// upstream feed produces no spurious zero-baseline firings.
func (d *Detector) runSpikes(ctx context.Context, featureNow time.Time) ([]model.Signal, error) {
	var out []model.Signal
	for _, rule := range d.tun.SpikeRules {
		sigs, err := d.evaluateSpikeRule(ctx, rule, featureNow)
		if err != nil {
			return nil, fmt.Errorf("failed to evaluate spike rule %s: %w", rule.Name, err)
		}
		out = append(out, sigs...)
	}
	return out, nil
}

func (d *Detector) evaluateSpikeRule(ctx context.Context, rule config.SpikeRule, featureNow time.Time) ([]model.Signal, error) {
	currentStart := featureNow.Add(-time.Duration(rule.CurrentMinutes) * time.Minute)
	baselineStart := currentStart.Add(-time.Duration(rule.BaselineMinutes) * time.Minute)

	current, err := d.store.WindowSums(ctx, rule.Feature, rule.EntityType, d.bucketSeconds, currentStart)
	if err != nil {
		return nil, err
	}
	baseline, err := d.store.BaselineAverages(ctx, rule.Feature, rule.EntityType, d.bucketSeconds, baselineStart, currentStart)
	if err != nil {
		return nil, err
	}

	var out []model.Signal
	for entity, cur := range current {
		avg := baseline[entity]
		if !SpikeFires(cur, avg, rule.Multiplier, rule.Floor) {
			continue
		}
		meta, _ := json.Marshal(map[string]interface{}{
			"feature":          rule.Feature,
			"current_sum":      cur,
			"baseline_avg":     avg,
			"current_minutes":  rule.CurrentMinutes,
			"baseline_minutes": rule.BaselineMinutes,
		})
		out = append(out, model.Signal{
			Name:        rule.Name,
			EntityType:  rule.EntityType,
			EntityID:    entity,
			Severity:    model.Severity(rule.Severity),
			Score:       SpikeScore(cur, avg),
			WindowStart: currentStart,
			WindowEnd:   featureNow,
			DedupeKey:   DedupeKey(rule.Name, rule.EntityType, entity, featureNow),
			Metadata:    meta,
		})
	}
	return out, nil
}
