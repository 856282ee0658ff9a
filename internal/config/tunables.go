package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SpikeRule describes one relative spike detector: a feature/entity pair,
// the current and baseline windows, and the firing thresholds.
type SpikeRule struct {
	Name            string  `yaml:"name"`
	Feature         string  `yaml:"feature"`
	EntityType      string  `yaml:"entity_type"`
	CurrentMinutes  int     `yaml:"current_minutes"`
	BaselineMinutes int     `yaml:"baseline_minutes"`
	Multiplier      float64 `yaml:"multiplier"`
	Floor           float64 `yaml:"floor"`
	Severity        int     `yaml:"severity"`
}

// Tunables are the detection and correlation knobs. They ship with
// compiled-in defaults and can be overridden from a YAML file, one key at
// a time.
type Tunables struct {
	SpikeRules []SpikeRule `yaml:"spike_rules"`

	SilenceLookbackHours  int `yaml:"silence_lookback_hours"`
	SilenceRecentMinutes  int `yaml:"silence_recent_minutes"`
	SilenceSeverity       int `yaml:"silence_severity"`
	PromoteMinSeverity    int `yaml:"promote_min_severity"`
	PromoteLatencyMinutes int `yaml:"promote_latency_minutes"`
	PromoteFirstRunHours  int `yaml:"promote_first_run_hours"`

	CorrelationWindowMinutes int     `yaml:"correlation_window_minutes"`
	MaxIncidentLifetimeHours int     `yaml:"max_incident_lifetime_hours"`
	ScoreCap                 float64 `yaml:"score_cap"`

	SuspiciousSignatures []string `yaml:"suspicious_signatures"`
	BenignSignatures     []string `yaml:"benign_signatures"`

	// EnableLabBurstEscalation turns on the demo-only severity escalation
	// for synthetic LAB_BURST auth failures. Off unless a lab explicitly
	// asks for it.
	EnableLabBurstEscalation bool `yaml:"enable_lab_burst_escalation"`
}

// DefaultTunables returns the shipped defaults.
func DefaultTunables() Tunables {
	return Tunables{
		SpikeRules: []SpikeRule{
			{
				Name:            "auth_fail_spike",
				Feature:         "auth_fail_count",
				EntityType:      "host",
				CurrentMinutes:  60,
				BaselineMinutes: 360,
				Multiplier:      3,
				Floor:           5,
				Severity:        7,
			},
			{
				Name:            "app_error_spike",
				Feature:         "juiceshop_error_count",
				EntityType:      "endpoint",
				CurrentMinutes:  60,
				BaselineMinutes: 360,
				Multiplier:      3,
				Floor:           5,
				Severity:        4,
			},
			{
				Name:            "bad_event_spike",
				Feature:         "bad_event_count",
				EntityType:      "host",
				CurrentMinutes:  60,
				BaselineMinutes: 360,
				Multiplier:      3,
				Floor:           5,
				Severity:        7,
			},
		},
		SilenceLookbackHours:  24,
		SilenceRecentMinutes:  60,
		SilenceSeverity:       3,
		PromoteMinSeverity:    7,
		PromoteLatencyMinutes: 1,
		PromoteFirstRunHours:  1,

		CorrelationWindowMinutes: 30,
		MaxIncidentLifetimeHours: 4,
		ScoreCap:                 50,

		SuspiciousSignatures: []string{
			"ET TROJAN", "ET MALWARE", "ET POLICY", "ET INFO External IP",
			"Wazuh: Critical", "Auth Failure",
		},
		BenignSignatures: []string{
			"allowed", "zenarmor:allowed", "ICMP ping",
		},

		EnableLabBurstEscalation: getEnvBool("SECLENS_LAB_BURST", false),
	}
}

// LoadFile overlays values from a YAML file onto the receiver. Keys absent
// from the file keep their current values.
func (t *Tunables) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, t); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return t.Validate()
}

// Validate rejects settings that would make a detector fire on nothing or
// never advance.
func (t *Tunables) Validate() error {
	for _, r := range t.SpikeRules {
		if r.Name == "" || r.Feature == "" || r.EntityType == "" {
			return fmt.Errorf("spike rule missing name, feature or entity_type")
		}
		if r.CurrentMinutes <= 0 || r.BaselineMinutes <= r.CurrentMinutes {
			return fmt.Errorf("spike rule %q: baseline window must be longer than current window", r.Name)
		}
		if r.Multiplier <= 0 {
			return fmt.Errorf("spike rule %q: multiplier must be positive", r.Name)
		}
	}
	if t.CorrelationWindowMinutes <= 0 || t.MaxIncidentLifetimeHours <= 0 {
		return fmt.Errorf("correlation window and incident lifetime must be positive")
	}
	if t.ScoreCap <= 0 {
		return fmt.Errorf("score_cap must be positive")
	}
	return nil
}
