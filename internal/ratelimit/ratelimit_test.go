package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_AdmitsBurstThenThrottles(t *testing.T) {
	l := NewLimiter(5)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 5; i++ {
		if err := l.Wait(ctx); err != nil {
			t.Fatalf("wait %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Fatalf("initial burst should not block, took %v", elapsed)
	}

	// Sixth request must wait for a refill.
	start = time.Now()
	if err := l.Wait(ctx); err != nil {
		t.Fatalf("throttled wait: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("expected throttling after burst, waited only %v", elapsed)
	}
}

func TestLimiter_WaitHonorsContext(t *testing.T) {
	l := NewLimiter(1)
	ctx := context.Background()

	// Drain the bucket.
	if err := l.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	cancelled, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := l.Wait(cancelled); err == nil {
		t.Fatal("expected context error from cancelled wait")
	}
}

func TestRegistry_SeparateBuckets(t *testing.T) {
	r := NewRegistry()
	r.SetRate("a", 1)
	r.SetRate("b", 1)
	ctx := context.Background()

	if err := r.Acquire(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	// Draining "a" must not affect "b".
	start := time.Now()
	if err := r.Acquire(ctx, "b"); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("provider buckets should be independent")
	}
}
