// Package pipeline drives the processing stages in order. Stages share no
// in-process state; every handoff goes through the database, so any stage
// can crash or rerun without coordination.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/seclens/seclens/internal/metrics"
	"github.com/seclens/seclens/internal/model"
)

// Stage is one unit of pipeline work. Run returns the number of rows it
// produced or consumed.
type Stage interface {
	Name() string
	Run(ctx context.Context) (int, error)
}

// Driver runs the stage chain sequentially under a shared run id.
type Driver struct {
	stages       []Stage
	logger       *slog.Logger
	metrics      *metrics.Metrics
	stageTimeout time.Duration
}

// New creates a Driver over the given stages in execution order.
func New(stages []Stage, m *metrics.Metrics, stageTimeout time.Duration, logger *slog.Logger) *Driver {
	return &Driver{
		stages:       stages,
		logger:       logger,
		metrics:      m,
		stageTimeout: stageTimeout,
	}
}

// RunOnce executes every stage in order. A stage failure stops the run;
// stages downstream of the failure read stale but consistent state, and
// the next tick picks up where the durable markers left off. The results
// of the stages that did run are always returned.
func (d *Driver) RunOnce(ctx context.Context) ([]model.StageResult, error) {
	runID := uuid.NewString()
	results := make([]model.StageResult, 0, len(d.stages))

	for _, stage := range d.stages {
		res := d.runStage(ctx, runID, stage)
		results = append(results, res)
		if res.Err != nil {
			d.logger.Error("pipeline run aborted",
				"run_id", runID, "stage", stage.Name(), "error", res.Err)
			return results, res.Err
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
	}
	return results, nil
}

func (d *Driver) runStage(ctx context.Context, runID string, stage Stage) model.StageResult {
	stageCtx := ctx
	if d.stageTimeout > 0 {
		var cancel context.CancelFunc
		stageCtx, cancel = context.WithTimeout(ctx, d.stageTimeout)
		defer cancel()
	}

	started := time.Now()
	rows, err := stage.Run(stageCtx)
	res := model.StageResult{
		RunID:    runID,
		Stage:    stage.Name(),
		Started:  started,
		Duration: time.Since(started),
		Rows:     rows,
		Err:      err,
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
		if errors.Is(err, context.DeadlineExceeded) {
			outcome = "timeout"
		}
	}
	d.metrics.StageRuns.WithLabelValues(res.Stage, outcome).Inc()
	d.metrics.StageDuration.WithLabelValues(res.Stage).Observe(res.Duration.Seconds())

	if err != nil {
		d.logger.Error("stage failed", "run_id", runID, "stage", res.Stage,
			"duration", res.Duration, "error", err)
	} else {
		d.logger.Info("stage complete", "run_id", runID, "stage", res.Stage,
			"duration", res.Duration, "rows", rows)
	}
	return res
}
