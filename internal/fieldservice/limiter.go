package fieldservice

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// defaultMinInterval is the minimum spacing between consecutive
	// outbound calls to the backend.
	defaultMinInterval = 2 * time.Second

	// defaultMaxAttempts is the number of tries before Do gives up on a
	// throttled call.
	defaultMaxAttempts = 3

	// defaultBaseDelay is the starting backoff interval after a 429.
	defaultBaseDelay = time.Second
)

// Limiter serialises outbound calls to the backend: it enforces a minimum
// inter-call spacing and retries throttled calls with exponential backoff.
//
// Spacing state is shared by all callers of one Limiter. Concurrent callers
// are serialised on the spacing reservation, so two goroutines calling
// [Limiter.Do] at once still observe the minimum interval between their
// requests. Create one per logical tenant; it is not a package global.
type Limiter struct {
	minInterval time.Duration
	maxAttempts int
	baseDelay   time.Duration

	mu       sync.Mutex
	nextSlot time.Time
}

// NewLimiter creates a Limiter with the given inter-call spacing. Zero or
// negative values fall back to the default spacing.
func NewLimiter(minInterval time.Duration) *Limiter {
	if minInterval <= 0 {
		minInterval = defaultMinInterval
	}
	return &Limiter{
		minInterval: minInterval,
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
	}
}

// Do executes fn after waiting out the inter-call spacing. When fn returns
// [ErrRateLimited] the call is retried with exponential backoff (base delay
// doubling per attempt) up to the attempt budget; exhausting the budget
// returns an error wrapping [ErrRateLimited]. Any other error from fn
// propagates immediately without retry.
func (l *Limiter) Do(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := range l.maxAttempts {
		if err := l.wait(ctx); err != nil {
			return err
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, ErrRateLimited) {
			return lastErr
		}

		if attempt < l.maxAttempts-1 {
			delay := l.baseDelay << attempt
			select {
			case <-ctx.Done():
				return fmt.Errorf("backoff cancelled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}
	}
	return fmt.Errorf("throttled after %d attempts: %w", l.maxAttempts, lastErr)
}

// wait reserves the next send slot and sleeps until it arrives. The slot is
// claimed under the mutex before sleeping, so concurrent callers queue behind
// each other rather than racing on the last-call time.
func (l *Limiter) wait(ctx context.Context) error {
	l.mu.Lock()
	now := time.Now()
	slot := l.nextSlot
	if slot.Before(now) {
		slot = now
	}
	l.nextSlot = slot.Add(l.minInterval)
	l.mu.Unlock()

	if wait := time.Until(slot); wait > 0 {
		select {
		case <-ctx.Done():
			return fmt.Errorf("rate spacing cancelled: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
	return nil
}
