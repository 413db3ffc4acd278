package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cie-bench/harness/pkg/circuitbreaker"
)

// Class decides how a failed attempt is retried.
type Class int

const (
	Transient Class = iota
	RateLimited
	Permanent
)

func (c Class) String() string {
	switch c {
	case Transient:
		return "transient"
	case RateLimited:
		return "rate_limited"
	case Permanent:
		return "permanent"
	default:
		return "unknown"
	}
}

var ErrRateLimited = errors.New("rate limited")

// rateLimitKeywords are matched case-insensitively against error text,
// including messages embedded in a 200 response body.
var rateLimitKeywords = []string{"rate limit", "quota", "too many"}

type Config struct {
	MaxAttempts      int
	RateLimitBackoff time.Duration
	TransientDelay   time.Duration
	Classify         func(error) Class
	Sleep            func(ctx context.Context, d time.Duration) error
	OnRetry          func(attempt int, class Class, delay time.Duration, err error)
	Logger           *zap.Logger
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:      3,
		RateLimitBackoff: 30 * time.Second,
		TransientDelay:   time.Second,
		Classify:         Classify,
		Sleep:            SleepContext,
		Logger:           zap.NewNop(),
	}
}

// Error is returned once the attempt budget is spent or a permanent failure occurs.
// Its message is the last underlying error verbatim.
type Error struct {
	Class    Class
	Attempts int
	Err      error
}

func (e *Error) Error() string {
	if e.Class == RateLimited {
		return fmt.Sprintf("rate limited after %d attempts: %v", e.Attempts, e.Err)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrRateLimited && e.Class == RateLimited
}

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, body)
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// MarkPermanent stops retries for err regardless of its text.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Classify maps an attempt error onto a retry class. 429 and rate-limit keywords
// are RateLimited; timeouts and everything else not marked permanent are Transient.
func Classify(err error) Class {
	if err == nil {
		return Transient
	}

	var perm *permanentError
	if errors.As(err, &perm) {
		return Permanent
	}

	// Breaker rejections carry "too many" in their text but are not upstream throttling.
	if errors.Is(err, circuitbreaker.ErrCircuitOpen) || errors.Is(err, circuitbreaker.ErrTooManyRequests) {
		return Transient
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == 429 {
		return RateLimited
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return Transient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Transient
	}

	if HasRateLimitKeyword(err.Error()) {
		return RateLimited
	}
	return Transient
}

// BreakerFailure reports whether err should count against a circuit breaker.
// Rate limits are paced by the retry backoff and cancellations are local.
func BreakerFailure(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return Classify(err) != RateLimited
}

func HasRateLimitKeyword(text string) bool {
	lower := strings.ToLower(text)
	for _, keyword := range rateLimitKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs operation up to MaxAttempts times. Rate-limited attempts wait
// RateLimitBackoff*attempt (linear); transient attempts wait TransientDelay.
func Do(ctx context.Context, cfg Config, operation func(ctx context.Context, attempt int) error) error {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.Classify == nil {
		cfg.Classify = Classify
	}
	if cfg.Sleep == nil {
		cfg.Sleep = SleepContext
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	var lastErr error
	lastClass := Transient

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			return &Error{Class: lastClass, Attempts: attempt - 1, Err: lastErr}
		}

		err := operation(ctx, attempt)
		if err == nil {
			if attempt > 1 {
				cfg.Logger.Info("Operation succeeded after retry", zap.Int("attempt", attempt))
			}
			return nil
		}

		lastErr = err
		lastClass = cfg.Classify(err)

		if lastClass == Permanent {
			cfg.Logger.Debug("Error not retryable",
				zap.Error(err),
				zap.Int("attempt", attempt),
			)
			return &Error{Class: Permanent, Attempts: attempt, Err: err}
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		delay := cfg.TransientDelay
		if lastClass == RateLimited {
			delay = cfg.RateLimitBackoff * time.Duration(attempt)
		}

		cfg.Logger.Warn("Operation failed, retrying",
			zap.Error(err),
			zap.String("class", lastClass.String()),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", cfg.MaxAttempts),
			zap.Duration("delay", delay),
		)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, lastClass, delay, err)
		}

		if err := cfg.Sleep(ctx, delay); err != nil {
			return &Error{Class: lastClass, Attempts: attempt, Err: lastErr}
		}
	}

	return &Error{Class: lastClass, Attempts: cfg.MaxAttempts, Err: lastErr}
}

func DoWithResult[T any](ctx context.Context, cfg Config, operation func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func(ctx context.Context, attempt int) error {
		var err error
		result, err = operation(ctx, attempt)
		return err
	})
	return result, err
}

// ClassOf reports the class of an error returned by Do, Transient for anything else.
func ClassOf(err error) Class {
	var retryErr *Error
	if errors.As(err, &retryErr) {
		return retryErr.Class
	}
	return Classify(err)
}
