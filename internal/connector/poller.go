package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// pollOverlap is re-fetched on every cycle so late-indexed events are not
// missed. The overlap produces duplicates; event keys make them free.
const pollOverlap = 2 * time.Minute

// Poller repeatedly searches the upstream for new events and publishes
// them to the ingest subject.
type Poller struct {
	client   *Client
	nc       *nats.Conn
	subject  string
	interval time.Duration
	logger   *slog.Logger

	cursor time.Time
}

// NewPoller creates a Poller starting from the given initial time.
func NewPoller(client *Client, nc *nats.Conn, subject string, interval time.Duration, start time.Time, logger *slog.Logger) *Poller {
	return &Poller{
		client:   client,
		nc:       nc,
		subject:  subject,
		interval: interval,
		logger:   logger,
		cursor:   start,
	}
}

// Run polls until the context is cancelled. A failed cycle leaves the
// cursor where it was and retries on the next tick.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if n, err := p.pollOnce(ctx); err != nil {
			p.logger.Error("poll cycle failed", "error", err)
		} else if n > 0 {
			p.logger.Info("published events", "count", n, "cursor", p.cursor)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *Poller) pollOnce(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	earliest := p.cursor.Add(-pollOverlap)

	records, err := p.client.Search(ctx, earliest, now)
	if err != nil {
		return 0, err
	}

	published := 0
	for _, rec := range records {
		data, err := encodeEnvelope(rec)
		if err != nil {
			p.logger.Warn("skipping unencodable record", "error", err)
			continue
		}
		if err := p.nc.Publish(p.subject, data); err != nil {
			return published, fmt.Errorf("failed to publish event: %w", err)
		}
		published++
	}
	if err := p.nc.Flush(); err != nil {
		return published, fmt.Errorf("failed to flush publishes: %w", err)
	}

	p.cursor = now
	return published, nil
}

// encodeEnvelope renders a record in the wire form the ingest subscriber
// validates.
func encodeEnvelope(rec Record) ([]byte, error) {
	payload := rec.Fields
	if payload == nil {
		payload = map[string]interface{}{}
	}
	env := map[string]interface{}{
		"event_key":   rec.EventKey(),
		"event_time":  rec.Time,
		"source":      rec.Source,
		"source_type": rec.SourceType,
		"host":        rec.Host,
		"payload":     payload,
		"raw_text":    rec.Raw,
	}
	return json.Marshal(env)
}
