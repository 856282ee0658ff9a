package model

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Severity is the single ordinal severity scale every event and signal is
// normalized onto. Vendor-specific text never crosses the normalization
// boundary; SeverityFromToken coerces it here.
type Severity int

const (
	SeverityNone   Severity = 0
	SeverityLow    Severity = 1
	SeverityMedium Severity = 4
	SeverityHigh   Severity = 7
)

// SeverityFromToken coerces a textual severity token onto the ordinal
// scale. Unknown text maps to SeverityNone. Numeric strings are passed
// through as-is so already-ordinal values survive the round trip.
func SeverityFromToken(token string) Severity {
	s := strings.ToLower(strings.TrimSpace(token))
	switch s {
	case "":
		return SeverityNone
	case "error", "critical", "high", "err", "severe":
		return SeverityHigh
	case "warn", "warning", "medium":
		return SeverityMedium
	case "info", "low", "informational":
		return SeverityLow
	case "debug":
		return SeverityNone
	}
	if n, err := strconv.Atoi(s); err == nil {
		return Severity(n)
	}
	return SeverityNone
}

// Max returns the higher of two severities.
func (s Severity) Max(other Severity) Severity {
	if other > s {
		return other
	}
	return s
}

// Incident lifecycle states. Closed is terminal: no signal re-opens a
// closed incident, a new one is created instead.
const (
	IncidentStatusNew    = "NEW"
	IncidentStatusActive = "ACTIVE"
	IncidentStatusClosed = "CLOSED"
)

// RawEvent is one ingested record, exactly as the connector delivered it.
// EventKey is supplied by the connector and carries the ingestion-level
// dedup guarantee; the pipeline never re-derives it.
type RawEvent struct {
	ID         int64           `json:"id"`
	EventKey   string          `json:"event_key"`
	EventTime  time.Time       `json:"event_time"`
	Source     string          `json:"source"`
	SourceType string          `json:"source_type"`
	Host       string          `json:"host"`
	AgentName  string          `json:"agent_name,omitempty"`
	RuleID     string          `json:"rule_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	RawText    string          `json:"raw_text,omitempty"`
	IngestedAt time.Time       `json:"ingested_at"`
}

// NormalizedEvent is the canonical schema every later stage reads. A raw
// event maps to zero or one normalized event; RawID is unique.
type NormalizedEvent struct {
	ID         int64           `json:"id"`
	RawID      int64           `json:"raw_id"`
	EventTime  time.Time       `json:"event_time"`
	Vendor     string          `json:"vendor"`
	EventKind  string          `json:"event_kind"`
	Source     string          `json:"source"`
	SourceType string          `json:"source_type"`
	Host       string          `json:"host"`
	SrcIP      *string         `json:"src_ip,omitempty"`
	DestIP     *string         `json:"dest_ip,omitempty"`
	Username   *string         `json:"username,omitempty"`
	RuleID     string          `json:"rule_id"`
	Signature  string          `json:"signature"`
	Severity   Severity        `json:"severity"`
	HTTPMethod *string         `json:"http_method,omitempty"`
	HTTPPath   *string         `json:"http_path,omitempty"`
	HTTPStatus *int            `json:"http_status,omitempty"`
	Extras     json.RawMessage `json:"extras,omitempty"`
}

// FeatureBucket is one time-bucketed aggregate row. The composite key
// makes recomputation an overwrite, never an increment.
type FeatureBucket struct {
	BucketStart   time.Time `json:"bucket_start"`
	BucketSeconds int       `json:"bucket_size_seconds"`
	FeatureName   string    `json:"feature_name"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	SecondaryType string    `json:"secondary_type"`
	SecondaryID   string    `json:"secondary_id"`
	Value         float64   `json:"value"`
	NEvents       int       `json:"n_events"`
}

// SignatureCount is one entry of an entity's ranked top-signature list.
type SignatureCount struct {
	Signature string  `json:"sig"`
	Count     float64 `json:"count"`
}

// EntityStats summarizes everything ever seen for one entity.
type EntityStats struct {
	EntityType    string           `json:"entity_type"`
	EntityID      string           `json:"entity_id"`
	FirstSeen     time.Time        `json:"first_seen"`
	LastSeen      time.Time        `json:"last_seen"`
	TotalEvents   int64            `json:"total_events"`
	UniqueSrcIPs  int              `json:"unique_src_ips"`
	TopSignatures []SignatureCount `json:"top_signatures,omitempty"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// Signal is one detected anomaly, scoped to an entity and a time window.
// DedupeKey is unique; repeated detection runs over the same data insert
// nothing new.
type Signal struct {
	ID          int64           `json:"id"`
	Name        string          `json:"signal_name"`
	EntityType  string          `json:"entity_type"`
	EntityID    string          `json:"entity_id"`
	Severity    Severity        `json:"severity"`
	Score       float64         `json:"score"`
	WindowStart time.Time       `json:"window_start"`
	WindowEnd   time.Time       `json:"window_end"`
	DedupeKey   string          `json:"dedupe_key"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}

// Incident is a durable security concern built up from correlated
// signals. Severity is the max over contributing signals; Score is
// cumulative with a per-signal cap.
type Incident struct {
	ID             int64     `json:"id"`
	Title          string    `json:"title"`
	Status         string    `json:"status"`
	Severity       Severity  `json:"severity"`
	Score          float64   `json:"score"`
	RootEntityType string    `json:"root_entity_type"`
	RootEntityID   string    `json:"root_entity_id"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	LastUpdateTime time.Time `json:"last_update_time"`
	CreatedAt      time.Time `json:"created_at"`
	EvidenceCount  int       `json:"evidence_count,omitempty"`
}

// EvidenceLink ties a signal to the incident it supports. The pair is
// unique, which is what makes evidence attachment retry-safe.
type EvidenceLink struct {
	IncidentID int64     `json:"incident_id"`
	SignalID   int64     `json:"signal_id"`
	AddedAt    time.Time `json:"added_at"`
}

// Checkpoint records how far a checkpointed detector has processed.
// LastWindowEnd only ever moves forward.
type Checkpoint struct {
	JobName       string    `json:"job_name"`
	LastRunTime   time.Time `json:"last_run_time"`
	LastWindowEnd time.Time `json:"last_window_end"`
}

// StageResult is the structured outcome of one stage invocation by the
// pipeline driver.
type StageResult struct {
	RunID    string        `json:"run_id"`
	Stage    string        `json:"stage"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Rows     int           `json:"rows"`
	Err      error         `json:"-"`
}
