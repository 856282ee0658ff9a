package detect

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSpikeFires(t *testing.T) {
	tests := []struct {
		name       string
		current    float64
		baseline   float64
		multiplier float64
		floor      float64
		want       bool
	}{
		{"below floor", 4, 0, 3, 5, false},
		{"at floor but not above threshold", 5, 0, 3, 5, false},
		{"above floor with zero baseline", 6, 0, 3, 5, true},
		{"relative threshold holds it back", 20, 10, 3, 5, false},
		{"clears relative threshold", 36, 10, 3, 5, true},
		{"exactly at relative threshold", 35, 10, 3, 5, false},
		{"busy entity needs a real jump", 100, 40, 3, 5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SpikeFires(tt.current, tt.baseline, tt.multiplier, tt.floor))
		})
	}
}

func TestSpikeScore(t *testing.T) {
	// No baseline history still yields a finite score.
	assert.InDelta(t, 60.0, SpikeScore(6, 0), 0.01)
	assert.InDelta(t, 2.97, SpikeScore(30, 10), 0.01)
}

func TestDedupeKeyDeterministic(t *testing.T) {
	end := time.Date(2026, 8, 25, 10, 30, 0, 0, time.UTC)
	a := DedupeKey("auth_fail_spike", "host", "dc01", end)
	b := DedupeKey("auth_fail_spike", "host", "dc01", end)
	assert.Equal(t, a, b)
	assert.Len(t, a, 40)

	// Any component change produces a different key.
	assert.NotEqual(t, a, DedupeKey("bad_event_spike", "host", "dc01", end))
	assert.NotEqual(t, a, DedupeKey("auth_fail_spike", "ip", "dc01", end))
	assert.NotEqual(t, a, DedupeKey("auth_fail_spike", "host", "dc02", end))
	assert.NotEqual(t, a, DedupeKey("auth_fail_spike", "host", "dc01", end.Add(time.Minute)))
}

func TestDedupeKeyNormalizesTimezone(t *testing.T) {
	utc := time.Date(2026, 8, 25, 10, 30, 0, 0, time.UTC)
	est := utc.In(time.FixedZone("EST", -5*3600))
	assert.Equal(t,
		DedupeKey("auth_fail_spike", "host", "dc01", utc),
		DedupeKey("auth_fail_spike", "host", "dc01", est))
}
