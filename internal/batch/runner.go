// Package batch runs a per-item handler over a dataset with a fixed worker pool.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cie-bench/harness/internal/dataset"
	"github.com/cie-bench/harness/pkg/logger"
)

const FailedListName = "failed_list.json"

type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Handler does the work for one item. Prepare validates the item and returns
// the target file whose existence marks the item as done; Handle produces it.
type Handler interface {
	Prepare(item dataset.Item) (target string, err error)
	Handle(ctx context.Context, item dataset.Item, target string) error
}

// Event is one terminal item transition.
type Event struct {
	Kind     string
	ItemID   int
	Status   Status
	Reason   string
	Duration time.Duration
}

type Observer interface {
	Observe(ev Event)
}

type ObserverFunc func(ev Event)

func (f ObserverFunc) Observe(ev Event) { f(ev) }

type Config struct {
	// Kind labels events, e.g. "edit" or "judge:IF".
	Kind    string
	Workers int
	Force   bool
	// OutputDir receives failed_list.json. Empty disables the file.
	OutputDir string
	Observers []Observer
}

type Runner struct {
	cfg Config
}

func NewRunner(cfg Config) *Runner {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Runner{cfg: cfg}
}

// Run processes every item and returns the accumulated stats. Cancelling ctx
// stops dispatching new items; items already running finish.
func (r *Runner) Run(ctx context.Context, items []dataset.Item, handler Handler) *Stats {
	stats := &Stats{}
	start := time.Now()

	logger.Info("Batch started",
		zap.String("kind", r.cfg.Kind),
		zap.Int("items", len(items)),
		zap.Int("workers", r.cfg.Workers),
		zap.Bool("force", r.cfg.Force),
	)

	jobs := make(chan dataset.Item)
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range jobs {
				r.process(ctx, item, handler, stats)
			}
		}()
	}

dispatch:
	for _, item := range items {
		if ctx.Err() != nil {
			logger.Warn("Batch cancelled, stopping dispatch", zap.Error(ctx.Err()))
			break
		}
		select {
		case <-ctx.Done():
			logger.Warn("Batch cancelled, stopping dispatch", zap.Error(ctx.Err()))
			break dispatch
		case jobs <- item:
		}
	}
	close(jobs)
	wg.Wait()

	summary := stats.Summary()
	logger.Info("Batch completed",
		zap.String("kind", r.cfg.Kind),
		zap.Int("attempted", summary.Attempted),
		zap.Int("succeeded", summary.Succeeded),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Duration("elapsed", time.Since(start)),
	)

	if r.cfg.OutputDir != "" {
		r.writeFailureList(stats, summary.Failed)
	}

	return stats
}

// writeFailureList replaces the list from any earlier run; a clean run removes it.
func (r *Runner) writeFailureList(stats *Stats, failed int) {
	path := filepath.Join(r.cfg.OutputDir, FailedListName)
	if failed == 0 {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.Error("Failed to remove stale failure list", zap.String("path", path), zap.Error(err))
		}
		return
	}
	if err := WriteFailures(path, stats.Failures()); err != nil {
		logger.Error("Failed to write failure list", zap.String("path", path), zap.Error(err))
		return
	}
	logger.Info("Failure list written", zap.String("path", path), zap.Int("count", failed))
}

func (r *Runner) process(ctx context.Context, item dataset.Item, handler Handler, stats *Stats) {
	start := time.Now()
	status, reason := r.execute(ctx, item, handler, stats)
	r.emit(Event{
		Kind:     r.cfg.Kind,
		ItemID:   item.ID,
		Status:   status,
		Reason:   reason,
		Duration: time.Since(start),
	})
}

func (r *Runner) execute(ctx context.Context, item dataset.Item, handler Handler, stats *Stats) (status Status, reason string) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("Handler panicked",
				zap.Int("id", item.ID),
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)
			reason = fmt.Sprintf("panic: %v", rec)
			stats.fail(Failure{ID: item.ID, Reason: reason, Context: item.PrimaryImage()})
			status = StatusFailed
		}
	}()

	target, err := handler.Prepare(item)
	if err != nil {
		f := failureFor(item, err)
		stats.fail(f)
		return StatusFailed, f.Reason
	}

	if !r.cfg.Force && target != "" && dataset.Exists(target) {
		stats.skip()
		logger.Debug("Item skipped, output exists", zap.Int("id", item.ID), zap.String("target", target))
		return StatusSkipped, ""
	}

	if err := handler.Handle(ctx, item, target); err != nil {
		f := failureFor(item, err)
		stats.fail(f)
		logger.Debug("Item failed", zap.Int("id", item.ID), zap.String("reason", f.Reason))
		return StatusFailed, f.Reason
	}

	stats.succeed()
	logger.Debug("Item succeeded", zap.Int("id", item.ID), zap.String("target", filepath.Base(target)))
	return StatusSuccess, ""
}

func (r *Runner) emit(ev Event) {
	for _, obs := range r.cfg.Observers {
		obs.Observe(ev)
	}
}

// ItemError carries a failure reason with the path or image it concerns.
type ItemError struct {
	Reason  string
	Context string
}

func (e *ItemError) Error() string {
	return e.Reason
}

func Fail(reason, detail string) error {
	return &ItemError{Reason: reason, Context: detail}
}

func failureFor(item dataset.Item, err error) Failure {
	var ie *ItemError
	if errors.As(err, &ie) {
		return Failure{ID: item.ID, Reason: ie.Reason, Context: ie.Context}
	}
	return Failure{ID: item.ID, Reason: err.Error(), Context: item.PrimaryImage()}
}

func WriteFailures(path string, failures []Failure) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	data, err := json.MarshalIndent(failures, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal failures: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func ReadFailures(path string) ([]Failure, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read failures: %w", err)
	}
	var failures []Failure
	if err := json.Unmarshal(data, &failures); err != nil {
		return nil, fmt.Errorf("failed to parse failures: %w", err)
	}
	return failures, nil
}
