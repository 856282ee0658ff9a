package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/seclens/seclens/internal/model"
)

func TestIncidentAbsorbs(t *testing.T) {
	base := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	window := 30 * time.Minute
	maxLifetime := 4 * time.Hour

	tests := []struct {
		name       string
		status     string
		lastUpdate time.Time
		startTime  time.Time
		at         time.Time
		want       bool
	}{
		{
			name:       "signal shortly after last activity attaches",
			status:     model.IncidentStatusNew,
			lastUpdate: base,
			startTime:  base,
			at:         base.Add(10 * time.Minute),
			want:       true,
		},
		{
			name:       "exactly at the window edge still attaches",
			status:     model.IncidentStatusActive,
			lastUpdate: base,
			startTime:  base,
			at:         base.Add(window),
			want:       true,
		},
		{
			name:       "activity gap past the window opens a new incident",
			status:     model.IncidentStatusActive,
			lastUpdate: base,
			startTime:  base,
			at:         base.Add(window + time.Minute),
			want:       false,
		},
		{
			name:       "continuously active incident past its lifetime stops absorbing",
			status:     model.IncidentStatusActive,
			lastUpdate: base.Add(4*time.Hour + 50*time.Minute),
			startTime:  base,
			at:         base.Add(5 * time.Hour),
			want:       false,
		},
		{
			name:       "long-lived incident within the lifetime bound absorbs",
			status:     model.IncidentStatusActive,
			lastUpdate: base.Add(3*time.Hour + 50*time.Minute),
			startTime:  base,
			at:         base.Add(4 * time.Hour),
			want:       true,
		},
		{
			name:       "closed incidents are terminal",
			status:     model.IncidentStatusClosed,
			lastUpdate: base,
			startTime:  base,
			at:         base.Add(10 * time.Minute),
			want:       false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := IncidentAbsorbs(tt.status, tt.lastUpdate, tt.startTime, tt.at, window, maxLifetime)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCandidateBounds(t *testing.T) {
	at := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)
	updatedAfter, startedAfter := CandidateBounds(at, 30*time.Minute, 4*time.Hour)
	assert.Equal(t, at.Add(-30*time.Minute), updatedAfter)
	assert.Equal(t, at.Add(-4*time.Hour), startedAfter)
}

func TestCappedScore(t *testing.T) {
	assert.Equal(t, 10.0, CappedScore(10, 50))
	assert.Equal(t, 50.0, CappedScore(50, 50))
	// A huge burst contributes at most the cap.
	assert.Equal(t, 50.0, CappedScore(480, 50))
	assert.Equal(t, 0.0, CappedScore(0, 50))
}
