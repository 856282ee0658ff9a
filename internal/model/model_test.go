package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSeverityFromToken(t *testing.T) {
	tests := []struct {
		token string
		want  Severity
	}{
		{"error", SeverityHigh},
		{"CRITICAL", SeverityHigh},
		{"severe", SeverityHigh},
		{"warn", SeverityMedium},
		{"Warning", SeverityMedium},
		{"info", SeverityLow},
		{"informational", SeverityLow},
		{"debug", SeverityNone},
		{"", SeverityNone},
		{"   high  ", SeverityHigh},
		{"7", SeverityHigh},
		{"4", SeverityMedium},
		{"0", SeverityNone},
		{"gibberish", SeverityNone},
	}
	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			assert.Equal(t, tt.want, SeverityFromToken(tt.token))
		})
	}
}

func TestSeverityMax(t *testing.T) {
	assert.Equal(t, SeverityHigh, SeverityLow.Max(SeverityHigh))
	assert.Equal(t, SeverityHigh, SeverityHigh.Max(SeverityLow))
	assert.Equal(t, SeverityMedium, SeverityMedium.Max(SeverityMedium))
}
