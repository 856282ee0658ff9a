package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seclens/seclens/internal/metrics"
)

// One registry per test binary; promauto registers globally.
var testMetrics = metrics.New()

type fakeStage struct {
	name string
	rows int
	err  error
	log  *[]string
}

func (f *fakeStage) Name() string { return f.name }

func (f *fakeStage) Run(ctx context.Context) (int, error) {
	*f.log = append(*f.log, f.name)
	return f.rows, f.err
}

func testDriver(stages []Stage) *Driver {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(stages, testMetrics, time.Minute, logger)
}

func TestRunOnceExecutesStagesInOrder(t *testing.T) {
	var ran []string
	driver := testDriver([]Stage{
		&fakeStage{name: "normalize", rows: 10, log: &ran},
		&fakeStage{name: "features", rows: 5, log: &ran},
		&fakeStage{name: "detect", rows: 2, log: &ran},
		&fakeStage{name: "correlate", rows: 2, log: &ran},
	})

	results, err := driver.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"normalize", "features", "detect", "correlate"}, ran)

	require.Len(t, results, 4)
	assert.Equal(t, 10, results[0].Rows)
	assert.Equal(t, "normalize", results[0].Stage)
	// Every stage of one run shares the run id.
	for _, res := range results[1:] {
		assert.Equal(t, results[0].RunID, res.RunID)
	}
}

func TestRunOnceStopsAtFailedStage(t *testing.T) {
	var ran []string
	boom := errors.New("database gone")
	driver := testDriver([]Stage{
		&fakeStage{name: "normalize", rows: 10, log: &ran},
		&fakeStage{name: "features", err: boom, log: &ran},
		&fakeStage{name: "detect", log: &ran},
	})

	results, err := driver.RunOnce(context.Background())
	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"normalize", "features"}, ran)

	require.Len(t, results, 2)
	assert.NoError(t, results[0].Err)
	assert.ErrorIs(t, results[1].Err, boom)
}

func TestRunOnceDistinctRunIDs(t *testing.T) {
	var ran []string
	driver := testDriver([]Stage{&fakeStage{name: "normalize", log: &ran}})

	first, err := driver.RunOnce(context.Background())
	require.NoError(t, err)
	second, err := driver.RunOnce(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first[0].RunID, second[0].RunID)
}
