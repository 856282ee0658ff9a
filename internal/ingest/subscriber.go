// Package ingest receives events from the message bus, validates them
// against the envelope schema, and lands them in the raw event table.
// Delivery is at-least-once; the event_key unique index absorbs the
// duplicates that implies.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/seclens/seclens/internal/metrics"
	"github.com/seclens/seclens/internal/model"
	"github.com/seclens/seclens/internal/store"
)

// envelope is the wire form of an inbound event. event_time accepts
// either RFC 3339 text or a unix epoch, which is what the field devices
// actually send.
type envelope struct {
	EventKey   string          `json:"event_key"`
	EventTime  json.RawMessage `json:"event_time"`
	Source     string          `json:"source"`
	SourceType string          `json:"source_type"`
	Host       string          `json:"host"`
	AgentName  string          `json:"agent_name"`
	RuleID     string          `json:"rule_id"`
	Payload    json.RawMessage `json:"payload"`
	RawText    string          `json:"raw_text"`
}

// Subscriber consumes the ingest subject and writes raw events.
type Subscriber struct {
	store   *store.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	schema  *jsonschema.Schema
	subject string

	sub *nats.Subscription
}

// NewSubscriber creates a Subscriber for the given subject.
func NewSubscriber(st *store.Store, m *metrics.Metrics, subject string, logger *slog.Logger) (*Subscriber, error) {
	schema, err := compileSchema()
	if err != nil {
		return nil, err
	}
	return &Subscriber{
		store:   st,
		logger:  logger,
		metrics: m,
		schema:  schema,
		subject: subject,
	}, nil
}

// Start subscribes on the connection using a queue group so horizontally
// scaled workers share the subject instead of duplicating it.
func (s *Subscriber) Start(ctx context.Context, nc *nats.Conn) error {
	sub, err := nc.QueueSubscribe(s.subject, "seclens-ingest", func(msg *nats.Msg) {
		s.handle(ctx, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.subject, err)
	}
	s.sub = sub
	s.logger.Info("subscribed to ingest subject", "subject", s.subject)
	return nil
}

// Stop drains the subscription so in-flight messages finish before
// shutdown.
func (s *Subscriber) Stop() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Drain()
}

func (s *Subscriber) handle(ctx context.Context, data []byte) {
	ev, err := s.Decode(data)
	if err != nil {
		s.metrics.IngestInvalid.Inc()
		s.logger.Warn("rejected inbound event", "error", err)
		return
	}

	n, err := s.store.InsertRawEvents(ctx, []model.RawEvent{*ev})
	if err != nil {
		// Leave the message unacked-equivalent: the publisher side retries
		// and the event_key makes the retry harmless.
		s.logger.Error("failed to store raw event", "event_key", ev.EventKey, "error", err)
		return
	}
	s.metrics.RawEventsIngested.Add(float64(n))
}

// Decode validates an inbound payload and converts it to a raw event.
// When the sender supplied no event_key, one is derived by hashing the
// whole payload, which keeps redelivered copies collapsing to one row.
func (s *Subscriber) Decode(data []byte) (*model.RawEvent, error) {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse event: %w", err)
	}
	if err := s.schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("event failed schema validation: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}

	eventTime, err := parseEventTime(env.EventTime)
	if err != nil {
		return nil, err
	}

	key := env.EventKey
	if key == "" {
		sum := sha256.Sum256(data)
		key = hex.EncodeToString(sum[:])
	}

	return &model.RawEvent{
		EventKey:   key,
		EventTime:  eventTime,
		Source:     env.Source,
		SourceType: env.SourceType,
		Host:       env.Host,
		AgentName:  env.AgentName,
		RuleID:     env.RuleID,
		Payload:    env.Payload,
		RawText:    env.RawText,
	}, nil
}

// parseEventTime accepts RFC 3339 text or unix seconds, with fractional
// seconds allowed in either form.
func parseEventTime(raw json.RawMessage) (time.Time, error) {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return time.Time{}, fmt.Errorf("event_time is empty")
	}

	if strings.HasPrefix(text, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return time.Time{}, fmt.Errorf("failed to decode event_time: %w", err)
		}
		if t, err := time.Parse(time.RFC3339, str); err == nil {
			return t.UTC(), nil
		}
		// Some senders quote the epoch.
		text = str
	}

	epoch, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse event_time %q: %w", text, err)
	}
	sec := int64(epoch)
	nsec := int64((epoch - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec).UTC(), nil
}
