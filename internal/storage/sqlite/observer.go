package sqlite

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cie-bench/harness/internal/batch"
	"github.com/cie-bench/harness/internal/storage/models"
	"github.com/cie-bench/harness/pkg/logger"
)

// RunRecorder appends every item outcome of one run to the ledger.
type RunRecorder struct {
	client *Client
	runID  string
}

// BeginRun registers a new run with a fresh id.
func (c *Client) BeginRun(kind, model, category string) (*RunRecorder, error) {
	run := &models.Run{
		ID:        uuid.New().String(),
		Kind:      kind,
		Model:     model,
		Category:  category,
		StartedAt: time.Now(),
	}
	if err := c.StartRun(run); err != nil {
		return nil, err
	}
	return &RunRecorder{client: c, runID: run.ID}, nil
}

func (r *RunRecorder) RunID() string {
	return r.runID
}

func (r *RunRecorder) Observe(ev batch.Event) {
	err := r.client.RecordOutcome(&models.ItemOutcome{
		RunID:      r.runID,
		ItemID:     ev.ItemID,
		Status:     string(ev.Status),
		Reason:     ev.Reason,
		DurationMS: ev.Duration.Milliseconds(),
		RecordedAt: time.Now(),
	})
	if err != nil {
		logger.Warn("Failed to record outcome", zap.String("run_id", r.runID), zap.Int("item_id", ev.ItemID), zap.Error(err))
	}
}

func (r *RunRecorder) Finish(summary batch.Summary) error {
	return r.client.FinishRun(r.runID, models.RunTotals{
		Attempted: summary.Attempted,
		Succeeded: summary.Succeeded,
		Skipped:   summary.Skipped,
		Failed:    summary.Failed,
	}, time.Now())
}
