package provider

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	defaultBackoffBase = 1 * time.Second
	defaultBackoffMax  = 30 * time.Second
)

// Backoff computes exponential retry delays: Base, 2*Base, 4*Base, ...
// capped at Max.
type Backoff struct {
	Base time.Duration
	Max  time.Duration
	// Sleeper replaces the timer wait in tests.
	Sleeper func(time.Duration)
}

// Delay returns the wait before retry number attempt (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.Base
	if base < 0 {
		base = defaultBackoffBase
	}
	if base == 0 {
		return 0
	}
	maxDelay := b.max()
	if attempt <= 0 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > maxDelay/2 {
			delay = maxDelay
			break
		}
		delay *= 2
	}
	return b.Cap(delay)
}

// DelayFor prefers a server-supplied Retry-After over the computed delay.
func (b Backoff) DelayFor(err error, attempt int) time.Duration {
	if after, ok := RetryAfter(err); ok {
		return b.Cap(after)
	}
	return b.Delay(attempt)
}

// Cap clamps delay to [0, Max].
func (b Backoff) Cap(delay time.Duration) time.Duration {
	if delay < 0 {
		return 0
	}
	if maxDelay := b.max(); delay > maxDelay {
		return maxDelay
	}
	return delay
}

func (b Backoff) max() time.Duration {
	if b.Max > 0 {
		return b.Max
	}
	return defaultBackoffMax
}

// Wait blocks for delay or until ctx is done.
func (b Backoff) Wait(ctx context.Context, delay time.Duration) error {
	if ctx == nil {
		return errors.New("backoff wait: nil context")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if delay <= 0 {
		return nil
	}
	if b.Sleeper != nil {
		b.Sleeper(delay)
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func parseRetryAfter(value string) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if when, err := http.ParseTime(value); err == nil {
		delay := time.Until(when)
		if delay < 0 {
			return 0, false
		}
		return delay, true
	}
	return 0, false
}
