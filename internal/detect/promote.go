package detect

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/seclens/seclens/internal/model"
	"github.com/seclens/seclens/internal/store"
)

// promoteJobName keys the promoter's high-water mark in the checkpoint
// table.
const promoteJobName = "promote_severe_events"

// promoteScore is the fixed score of a promoted event. Promotion means
// "this single event matters on its own"; volume ratios do not apply.
const promoteScore = 10.0

// runPromote mints signals for individually severe events in the range
// (checkpoint, now-latency]. The returned window end is what the caller
// advances the checkpoint to once the batch is durable; it is zero when
// the range was empty.
func (d *Detector) runPromote(ctx context.Context) ([]model.Signal, time.Time, error) {
	now := d.now().UTC()
	end := now.Truncate(time.Minute).Add(-time.Duration(d.tun.PromoteLatencyMinutes) * time.Minute)

	start, ok, err := d.store.GetCheckpoint(ctx, promoteJobName)
	if err != nil {
		return nil, time.Time{}, err
	}
	if !ok {
		start = now.Add(-time.Duration(d.tun.PromoteFirstRunHours) * time.Hour)
	}
	if !end.After(start) {
		return nil, time.Time{}, nil
	}

	events, err := d.store.FetchSevereEvents(ctx, start, end, model.Severity(d.tun.PromoteMinSeverity))
	if err != nil {
		return nil, time.Time{}, err
	}

	var out []model.Signal
	for _, ev := range events {
		entityType, entityID := promoteEntity(ev)
		if entityID == "" || entityID == "unknown" {
			continue
		}

		name := ev.Signature
		if name == "" {
			name = fmt.Sprintf("%s severe event", ev.Vendor)
		}
		severity := ev.Severity
		if severity <= model.SeverityNone {
			severity = model.SeverityMedium
		}

		meta, _ := json.Marshal(map[string]interface{}{
			"vendor":     ev.Vendor,
			"event_kind": ev.EventKind,
			"rule_id":    ev.RuleID,
			"src_ip":     ev.SrcIP,
			"dest_ip":    ev.DestIP,
		})
		out = append(out, model.Signal{
			Name:        name,
			EntityType:  entityType,
			EntityID:    entityID,
			Severity:    severity,
			Score:       promoteScore,
			WindowStart: ev.EventTime,
			WindowEnd:   ev.EventTime,
			DedupeKey:   DedupeKey(name, entityType, entityID, ev.EventTime),
			Metadata:    meta,
		})
	}
	return out, end, nil
}

// promoteEntity picks the entity a promoted signal is pinned to. Network
// detections blame the source address when one exists; everything else
// blames the reporting host.
func promoteEntity(ev store.SevereEvent) (string, string) {
	if ev.Vendor == "opnsense" && ev.SrcIP != nil && *ev.SrcIP != "" {
		return "ip", *ev.SrcIP
	}
	return "host", ev.Host
}
