// Package retry runs outbound calls with capped exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"time"
)

// Class tells Do whether another attempt may succeed.
type Class int

const (
	Retryable Class = iota
	Fatal
)

// Policy configures Do. Zero values get sensible defaults.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      time.Duration

	// Classify decides whether err is worth another attempt.
	// Nil uses ClassifyHTTP.
	Classify func(error) Class

	// OnRetry is called before each wait.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// StatusError is returned by HTTP clients for non-2xx responses.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.Status, e.Body)
}

// ClassifyHTTP retries timeouts, network errors, 429 and 5xx responses.
// Other 4xx statuses, decode errors, and cancellation are fatal.
func ClassifyHTTP(err error) Class {
	if err == nil || errors.Is(err, context.Canceled) {
		return Fatal
	}
	var se *StatusError
	if errors.As(err, &se) {
		if se.Status == http.StatusTooManyRequests || se.Status >= 500 {
			return Retryable
		}
		return Fatal
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Retryable
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return Retryable
	}
	return Fatal
}

// Do calls fn until it succeeds, returns a fatal error, the attempts run
// out, or ctx is done. The last error is returned.
func Do(ctx context.Context, p Policy, fn func(context.Context) error) error {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 200 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	classify := p.Classify
	if classify == nil {
		classify = ClassifyHTTP
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("%w (last error: %v)", err, lastErr)
			}
			return err
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if classify(err) == Fatal || attempt == p.MaxAttempts {
			return err
		}

		wait := Backoff(p, attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt, wait, err)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (last error: %v)", ctx.Err(), lastErr)
		case <-timer.C:
		}
	}
	return lastErr
}

// Backoff returns the wait before attempt+1: BaseDelay doubled per attempt,
// capped at MaxDelay, plus up to Jitter.
func Backoff(p Policy, attempt int) time.Duration {
	wait := p.BaseDelay
	for i := 1; i < attempt && wait < p.MaxDelay; i++ {
		wait *= 2
	}
	if wait > p.MaxDelay {
		wait = p.MaxDelay
	}
	if p.Jitter > 0 {
		wait += rand.N(p.Jitter)
	}
	return wait
}
