package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/cie-bench/harness/pkg/circuitbreaker"
)

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.delays = append(s.delays, d)
	return nil
}

func testConfig(rec *sleepRecorder) Config {
	cfg := DefaultConfig()
	cfg.Sleep = rec.sleep
	return cfg
}

func TestDoRateLimitedTwiceThenSucceeds(t *testing.T) {
	rec := &sleepRecorder{}
	calls := 0
	err := Do(context.Background(), testConfig(rec), func(_ context.Context, attempt int) error {
		calls++
		if attempt <= 2 {
			return &StatusError{StatusCode: 429, Body: "slow down"}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	want := []time.Duration{30 * time.Second, 60 * time.Second}
	if len(rec.delays) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), rec.delays)
	}
	for i := range want {
		if rec.delays[i] != want[i] {
			t.Fatalf("sleep %d: expected %s, got %s", i, want[i], rec.delays[i])
		}
	}
}

func TestDoRateLimitExhaustedReportsDistinctKind(t *testing.T) {
	rec := &sleepRecorder{}
	err := Do(context.Background(), testConfig(rec), func(_ context.Context, _ int) error {
		return errors.New("You exceeded your current quota")
	})
	if err == nil {
		t.Fatal("expected failure")
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limited error, got %v", err)
	}
	if len(rec.delays) != 2 {
		t.Fatalf("expected 2 sleeps before giving up, got %d", len(rec.delays))
	}
}

func TestDoTransientUsesFixedDelayAndKeepsLastError(t *testing.T) {
	rec := &sleepRecorder{}
	err := Do(context.Background(), testConfig(rec), func(_ context.Context, attempt int) error {
		return fmt.Errorf("connection reset %d", attempt)
	})
	if err == nil {
		t.Fatal("expected failure")
	}
	if err.Error() != "connection reset 3" {
		t.Fatalf("expected last error verbatim, got %q", err.Error())
	}
	if errors.Is(err, ErrRateLimited) {
		t.Fatal("transient failure must not be reported as rate limited")
	}
	for _, d := range rec.delays {
		if d != time.Second {
			t.Fatalf("expected 1s transient delay, got %s", d)
		}
	}
}

func TestDoPermanentStopsImmediately(t *testing.T) {
	rec := &sleepRecorder{}
	calls := 0
	err := Do(context.Background(), testConfig(rec), func(_ context.Context, _ int) error {
		calls++
		return MarkPermanent(errors.New("unknown response format"))
	})
	if err == nil || calls != 1 {
		t.Fatalf("expected one call and an error, got calls=%d err=%v", calls, err)
	}
	if ClassOf(err) != Permanent {
		t.Fatalf("expected permanent class, got %s", ClassOf(err))
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Class
	}{
		{&StatusError{StatusCode: 429}, RateLimited},
		{&StatusError{StatusCode: 500, Body: "Too Many requests queued"}, RateLimited},
		{&StatusError{StatusCode: 502, Body: "bad gateway"}, Transient},
		{context.DeadlineExceeded, Transient},
		{fmt.Errorf("wrapped: %w", MarkPermanent(errors.New("x"))), Permanent},
		{circuitbreaker.ErrCircuitOpen, Transient},
		{fmt.Errorf("judge: %w", circuitbreaker.ErrTooManyRequests), Transient},
	}
	for _, c := range cases {
		if got := Classify(c.err); got != c.want {
			t.Fatalf("Classify(%v) = %s, want %s", c.err, got, c.want)
		}
	}
}

func TestBreakerFailure(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{&StatusError{StatusCode: 429, Body: "slow down"}, false},
		{errors.New("quota exceeded for model"), false},
		{context.Canceled, false},
		{&StatusError{StatusCode: 500, Body: "internal"}, true},
		{errors.New("connection reset"), true},
		{MarkPermanent(errors.New("bad image")), true},
	}
	for _, c := range cases {
		if got := BreakerFailure(c.err); got != c.want {
			t.Fatalf("BreakerFailure(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestDoWithResult(t *testing.T) {
	rec := &sleepRecorder{}
	got, err := DoWithResult(context.Background(), testConfig(rec), func(_ context.Context, attempt int) (string, error) {
		if attempt == 1 {
			return "", errors.New("flaky")
		}
		return "ok", nil
	})
	if err != nil || got != "ok" {
		t.Fatalf("expected ok, got %q err=%v", got, err)
	}
}
