package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/cie-bench/harness/internal/batch"
	"github.com/cie-bench/harness/internal/dataset"
	"github.com/cie-bench/harness/internal/metrics"
	"github.com/cie-bench/harness/internal/storage/sqlite"
	"github.com/cie-bench/harness/pkg/circuitbreaker"
	"github.com/cie-bench/harness/pkg/config"
	appLogger "github.com/cie-bench/harness/pkg/logger"
	"github.com/cie-bench/harness/pkg/ratelimit"
	"github.com/cie-bench/harness/pkg/retry"
)

func retryConfig(c *config.Config, kind string) retry.Config {
	rc := retry.DefaultConfig()
	rc.MaxAttempts = c.Retry.MaxAttempts
	rc.RateLimitBackoff = time.Duration(c.Retry.RateLimitBackoffSec) * time.Second
	rc.TransientDelay = time.Duration(c.Retry.TransientDelayMs) * time.Millisecond
	rc.OnRetry = metrics.RetryHook(kind)
	rc.Logger = appLogger.GetLogger()
	return rc
}

func breaker(c *config.Config, name string) *circuitbreaker.CircuitBreaker {
	return circuitbreaker.NewCircuitBreaker(name, circuitbreaker.Config{
		FailureThreshold: uint32(c.Retry.BreakerThreshold),
		Timeout:          time.Duration(c.Retry.BreakerTimeoutSec) * time.Second,
		IsFailure:        retry.BreakerFailure,
		Logger:           appLogger.Named("breaker"),
	})
}

func limiter(c *config.Config) *ratelimit.Limiter {
	return ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: c.RateLimit.RequestsPerMinute,
		Burst:                c.RateLimit.Burst,
		Logger:               appLogger.Named("pacer"),
	})
}

// openLedger returns nil when the ledger is disabled.
func openLedger(c *config.Config) (*sqlite.Client, error) {
	if !c.Ledger.Enabled {
		return nil, nil
	}
	ledger, err := sqlite.NewClient(c.Ledger.Path)
	if err != nil {
		return nil, err
	}
	if err := ledger.InitSchema(); err != nil {
		ledger.Close()
		return nil, err
	}
	return ledger, nil
}

func loadManifest(path string) (*dataset.Manifest, error) {
	m, err := dataset.LoadManifest(path)
	if err != nil {
		return nil, err
	}
	for _, e := range m.Errors {
		appLogger.Warn("Invalid manifest entry",
			zap.Int("index", e.Index),
			zap.String("field", e.Field),
			zap.String("reason", e.Reason),
		)
	}
	return m, nil
}

// trackedRun runs one batch with metrics, debug logging and, when a ledger is
// open, a ledger record.
type trackedRun struct {
	Kind     string
	Model    string
	Category string
}

func (t trackedRun) run(ctx context.Context, ledger *sqlite.Client, rc batch.Config, items []dataset.Item, handler batch.Handler) *batch.Stats {
	rc.Kind = t.Kind
	rc.Observers = append(rc.Observers,
		metrics.Observer{},
		batch.ObserverFunc(func(ev batch.Event) {
			appLogger.Debug("Item finished",
				zap.String("kind", ev.Kind),
				zap.Int("id", ev.ItemID),
				zap.String("status", string(ev.Status)),
				zap.String("reason", ev.Reason),
				zap.Duration("duration", ev.Duration),
			)
		}),
	)

	var rec *sqlite.RunRecorder
	if ledger != nil {
		var err error
		rec, err = ledger.BeginRun(t.Kind, t.Model, t.Category)
		if err != nil {
			appLogger.Warn("Failed to record run start", zap.Error(err))
		} else {
			rc.Observers = append(rc.Observers, rec)
		}
	}

	stats := batch.NewRunner(rc).Run(ctx, items, handler)

	if rec != nil {
		if err := rec.Finish(stats.Summary()); err != nil {
			appLogger.Warn("Failed to record run totals", zap.String("run_id", rec.RunID()), zap.Error(err))
		}
	}
	return stats
}

func printSummary(w io.Writer, label string, stats *batch.Stats) {
	s := stats.Summary()
	fmt.Fprintf(w, "%s: attempted %d, succeeded %d (skipped %d), failed %d\n",
		label, s.Attempted, s.Succeeded, s.Skipped, s.Failed)
	for _, f := range stats.Failures() {
		fmt.Fprintf(w, "  #%d %s %s\n", f.ID, f.Reason, f.Context)
	}
}
