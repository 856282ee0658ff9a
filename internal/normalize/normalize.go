// Package normalize converts raw heterogeneous security telemetry into
// the canonical event schema the rest of the pipeline reads. A raw event
// maps to zero or one normalized event; malformed records are skipped and
// logged, never fatal to the batch.
package normalize

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"github.com/seclens/seclens/internal/metrics"
	"github.com/seclens/seclens/internal/model"
	"github.com/seclens/seclens/internal/store"
)

var (
	reDecimalHost = regexp.MustCompile(`^\d+\.\d+$`)
	reDottedQuad  = regexp.MustCompile(`^\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}$`)
)

// ingestEndpointMarker identifies hosts that are really the pipeline's own
// HTTP event collector; their records are telemetry about the pipeline,
// not the estate, and must not open incidents.
const ingestEndpointMarker = "8088"

// Options controls normalization behavior.
type Options struct {
	// EnableLabBurstEscalation turns on the demo-only escalation of
	// LAB_BURST-tagged auth failures.
	EnableLabBurstEscalation bool
}

// Normalizer drains unprocessed raw events in bounded batches and writes
// canonical rows.
type Normalizer struct {
	store     *store.Store
	logger    *slog.Logger
	metrics   *metrics.Metrics
	opts      Options
	batchSize int
}

// New creates a Normalizer.
func New(st *store.Store, m *metrics.Metrics, opts Options, batchSize int, logger *slog.Logger) *Normalizer {
	return &Normalizer{
		store:     st,
		logger:    logger,
		metrics:   m,
		opts:      opts,
		batchSize: batchSize,
	}
}

// Name implements pipeline.Stage.
func (n *Normalizer) Name() string { return "normalize" }

// Run processes batches until no unprocessed raw events remain, then
// returns the total number of normalized rows written. The scheduler
// re-invokes it on its next tick; the raw_id unique index keeps reruns
// from ever writing a second row for the same raw event.
func (n *Normalizer) Run(ctx context.Context) (int, error) {
	total := 0
	for {
		raws, err := n.store.FetchUnnormalized(ctx, n.batchSize)
		if err != nil {
			return total, err
		}
		if len(raws) == 0 {
			return total, nil
		}

		batch := make([]model.NormalizedEvent, 0, len(raws))
		for _, raw := range raws {
			ev, ok, err := n.Normalize(raw)
			if err != nil {
				n.logger.Warn("skipping malformed record", "raw_id", raw.ID, "error", err)
				n.metrics.NormalizeSkipped.Inc()
				continue
			}
			if !ok {
				// Noise: zero normalized rows for this raw event.
				n.metrics.NormalizeSkipped.Inc()
				continue
			}
			batch = append(batch, *ev)
		}

		written, err := n.store.InsertNormalizedEvents(ctx, batch)
		if err != nil {
			return total, err
		}
		total += written
		n.metrics.EventsNormalized.Add(float64(written))
		n.logger.Info("normalized batch", "fetched", len(raws), "written", written)

		// Caught up, or the whole remaining head of the queue is noise;
		// either way the next scheduler tick takes over.
		if len(raws) < n.batchSize || written == 0 {
			return total, nil
		}
	}
}

// Normalize converts one raw event. The second return is false when the
// record is classified as noise and should not produce a canonical row.
func (n *Normalizer) Normalize(raw model.RawEvent) (*model.NormalizedEvent, bool, error) {
	if isMetricNoise(raw.RawText) {
		return nil, false, nil
	}

	payload := map[string]interface{}{}
	if len(raw.Payload) > 0 {
		// A payload that fails to parse is treated as absent; the raw
		// text paths still apply.
		_ = json.Unmarshal(raw.Payload, &payload)
	}

	vendor, kind := Classify(raw.SourceType, raw.Source)
	ev := &model.NormalizedEvent{
		RawID:      raw.ID,
		EventTime:  raw.EventTime,
		Vendor:     vendor,
		EventKind:  kind,
		Source:     raw.Source,
		SourceType: raw.SourceType,
		Host:       raw.Host,
	}

	rawText := raw.RawText
	if rawText == "" {
		rawText = stringify(payload["_raw"])
	}
	message := stringify(payload["Message"])
	if message == "" {
		message = rawText
	}

	switch {
	case isWindowsFamily(vendor):
		n.extractWindows(payload, message, ev)
	case vendor == VendorJuiceshop:
		n.extractWeb(payload, rawText, message, ev)
	case vendor == VendorOpnsense:
		n.extractNetwork(payload, rawText, ev)
	}

	n.finalize(payload, ev)
	return ev, true, nil
}

// finalize applies the vendor-independent polish: host and IP sanitizing,
// the infra override, and the rule_id/signature fallbacks that guarantee
// every canonical row carries a non-empty grouping key.
func (n *Normalizer) finalize(payload map[string]interface{}, ev *model.NormalizedEvent) {
	// Hosts that are bare decimals are metric-scrape artifacts, not names.
	ev.Host = strings.TrimSpace(ev.Host)
	if reDecimalHost.MatchString(ev.Host) && !reDottedQuad.MatchString(ev.Host) {
		ev.Host = "unknown"
	}

	ev.SrcIP = sanitizeIP(ev.SrcIP)
	ev.DestIP = sanitizeIP(ev.DestIP)

	if strings.Contains(ev.Host, ingestEndpointMarker) {
		ev.Vendor = VendorInfra
		ev.EventKind = KindMetric
		ev.Severity = model.SeverityNone
		ev.Signature = "pipeline_noise"
	}

	if ev.RuleID == "" {
		if ev.Signature != "" {
			ev.RuleID = shortHash(ev.Signature)
		} else {
			ev.RuleID = shortHash(ev.Vendor + ":" + ev.EventKind)
		}
	}

	if ev.Signature == "" {
		if ev.Vendor == VendorJuiceshop && ev.HTTPMethod != nil {
			path := "/"
			if ev.HTTPPath != nil {
				path = *ev.HTTPPath
			}
			ev.Signature = *ev.HTTPMethod + " " + path
		} else {
			ev.Signature = ev.Vendor + ":" + ev.EventKind
		}
	}

	ev.Extras = leftoverExtras(payload)
}

// isMetricNoise reports whether a raw text body looks like fixed-width
// numeric system-metric output (vmstat/sar style), which would otherwise
// be misparsed as syslog with a numeric host.
func isMetricNoise(rawText string) bool {
	t := strings.TrimSpace(rawText)
	if t == "" {
		return false
	}
	return unicode.IsDigit(rune(t[0])) && strings.Contains(t, "     ")
}

// sanitizeIP maps blank and placeholder values to absent.
func sanitizeIP(ip *string) *string {
	if ip == nil {
		return nil
	}
	v := strings.TrimSpace(*ip)
	if v == "" || v == "-" {
		return nil
	}
	return &v
}

// shortHash derives the stable 8-hex grouping key used when no upstream
// rule id exists.
func shortHash(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:8]
}

// leftoverExtras keeps the structured fields no extraction consumed,
// minus the transport bookkeeping keys.
func leftoverExtras(payload map[string]interface{}) json.RawMessage {
	if len(payload) == 0 {
		return nil
	}
	extras := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		switch k {
		case "_raw", "_time", "_cd", "Message":
			continue
		}
		extras[k] = v
	}
	if len(extras) == 0 {
		return nil
	}
	data, err := json.Marshal(extras)
	if err != nil {
		return nil
	}
	return data
}
