package common

import (
	"context"
	"log"
	"time"
)

const (
	baseDelay = 1 * time.Second
	maxDelay  = 60 * time.Second
)

// Backoff returns the exponential backoff duration for a given attempt:
// baseDelay * 2^attempt, capped at maxDelay.
func Backoff(attempt int) time.Duration {
	if attempt < 0 {
		return baseDelay
	}
	if attempt > 30 {
		return maxDelay
	}
	d := baseDelay * time.Duration(1<<attempt)
	if d > maxDelay {
		return maxDelay
	}
	return d
}

// Retry wraps a single gateway call with bounded exponential-backoff retry.
// It returns the first successful result, or the last error once retries are
// exhausted or the context is cancelled. op is used for logging only.
func Retry[T any](ctx context.Context, op string, retries int, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		res, err := fn()
		if err == nil {
			return res, nil
		}
		lastErr = err
		if attempt == retries {
			break
		}
		delay := Backoff(attempt)
		log.Printf("%s failed (attempt %d/%d): %v, retrying in %s", op, attempt+1, retries+1, err, delay)
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}
	return zero, lastErr
}
