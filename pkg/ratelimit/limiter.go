package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Limiter is a token bucket shared by every worker of one run. It paces
// outgoing API calls so a batch stays under the provider's per-minute budget.
type Limiter struct {
	mu         sync.Mutex
	tokens     int
	maxTokens  int
	lastRefill time.Time
	refillRate time.Duration
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *zap.Logger
}

type Config struct {
	MaxRequestsPerMinute int
	WindowDuration       time.Duration
	Burst                int
	Logger               *zap.Logger
}

// New returns nil when MaxRequestsPerMinute is 0; a nil *Limiter never blocks.
func New(cfg Config) *Limiter {
	if cfg.MaxRequestsPerMinute <= 0 {
		return nil
	}
	if cfg.WindowDuration == 0 {
		cfg.WindowDuration = time.Minute
	}
	if cfg.Burst <= 0 {
		cfg.Burst = cfg.MaxRequestsPerMinute
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Limiter{
		tokens:     cfg.Burst,
		maxTokens:  cfg.Burst,
		lastRefill: time.Now(),
		refillRate: cfg.WindowDuration / time.Duration(cfg.MaxRequestsPerMinute),
		now:        time.Now,
		sleep:      sleepContext,
		logger:     cfg.Logger,
	}
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	for {
		wait, ok := l.reserve()
		if ok {
			return nil
		}
		l.logger.Debug("Request paced", zap.Duration("wait", wait))
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Allow takes a token without blocking.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	_, ok := l.reserve()
	return ok
}

func (l *Limiter) reserve() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	elapsed := now.Sub(l.lastRefill)
	tokensToAdd := int(elapsed / l.refillRate)

	if tokensToAdd > 0 {
		l.tokens = min(l.maxTokens, l.tokens+tokensToAdd)
		l.lastRefill = l.lastRefill.Add(time.Duration(tokensToAdd) * l.refillRate)
	}

	if l.tokens > 0 {
		l.tokens--
		return 0, true
	}

	return l.refillRate - now.Sub(l.lastRefill), false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
