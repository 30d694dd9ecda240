package common

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{-1, time.Second},
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{6, 60 * time.Second}, // capped
		{40, 60 * time.Second},
	}
	for _, tt := range tests {
		if got := Backoff(tt.attempt); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetrySucceedsFirstTry(t *testing.T) {
	calls := 0
	got, err := Retry(context.Background(), "test", 3, func() (int, error) {
		calls++
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Fatalf("Retry() = %d, %v", got, err)
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1", calls)
	}
}

func TestRetryExhausted(t *testing.T) {
	wantErr := errors.New("boom")
	calls := 0
	// retries=0: exactly one attempt, no backoff sleep.
	_, err := Retry(context.Background(), "test", 0, func() (int, error) {
		calls++
		return 0, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("Retry() error = %v, want %v", err, wantErr)
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1", calls)
	}
}

func TestRetryStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	_, err := Retry(ctx, "test", 3, func() (int, error) {
		return 0, errors.New("always fails")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Retry() error = %v, want context.Canceled", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Retry waited %v on a dead context", elapsed)
	}
}

func TestAvgFillPrice(t *testing.T) {
	ack := OrderAck{
		Price: 100,
		Fills: []Fill{
			{Price: 99, Qty: 1},
			{Price: 101, Qty: 3},
		},
	}
	if got, want := ack.AvgFillPrice(), (99.0+101.0*3)/4; got != want {
		t.Errorf("AvgFillPrice() = %v, want %v", got, want)
	}

	// No fills: fall back to the order price.
	ack.Fills = nil
	if got := ack.AvgFillPrice(); got != 100 {
		t.Errorf("AvgFillPrice() without fills = %v, want 100", got)
	}
}

func TestSideOpposite(t *testing.T) {
	if SideBuy.Opposite() != SideSell || SideSell.Opposite() != SideBuy {
		t.Fatalf("Opposite() broken")
	}
	if Side("MAYBE").Valid() {
		t.Fatalf("invalid side accepted")
	}
}

func TestRateLimiterUsage(t *testing.T) {
	rl := NewRateLimiter(1200, time.Minute)

	used, limit, pct := rl.Usage()
	if used != 0 || limit != 1200 || pct != 0 {
		t.Fatalf("fresh limiter usage = %d/%d (%v%%)", used, limit, pct)
	}

	rl.UpdateFromHeader("600")
	used, _, pct = rl.Usage()
	if used != 600 || pct != 50 {
		t.Errorf("usage after header = %d (%v%%), want 600 (50%%)", used, pct)
	}

	// Garbage headers are ignored.
	rl.UpdateFromHeader("not-a-number")
	if used, _, _ = rl.Usage(); used != 600 {
		t.Errorf("usage after bad header = %d, want 600", used)
	}
}
