package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestNilLimiterNeverBlocks(t *testing.T) {
	l := New(Config{})
	if l != nil {
		t.Fatal("expected nil limiter when disabled")
	}
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("nil limiter wait: %v", err)
	}
	if !l.Allow() {
		t.Fatal("nil limiter must allow")
	}
}

func TestLimiterRefillsOverTime(t *testing.T) {
	now := time.Unix(100, 0)
	l := New(Config{MaxRequestsPerMinute: 60, Burst: 2})
	l.now = func() time.Time { return now }
	l.lastRefill = now

	if !l.Allow() || !l.Allow() {
		t.Fatal("expected burst of two")
	}
	if l.Allow() {
		t.Fatal("expected bucket to be empty")
	}

	var slept []time.Duration
	l.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		now = now.Add(d)
		return nil
	}
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if len(slept) != 1 || slept[0] != time.Second {
		t.Fatalf("expected one 1s wait, got %v", slept)
	}
}
