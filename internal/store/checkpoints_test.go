package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAdvanceCheckpointStatement(t *testing.T) {
	// The high-water mark is monotone: a stale writer can never move it
	// backward.
	assert.Contains(t, advanceCheckpointSQL,
		"last_window_end = GREATEST(detection_checkpoints.last_window_end, EXCLUDED.last_window_end)")
}
