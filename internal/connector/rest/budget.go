package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// ErrCoolingDown is returned by Budget.Admit when the repository asked callers
// to back off for longer than the budget is willing to wait.
var ErrCoolingDown = errors.New("repository asked clients to back off")

// Budget tracks the request allowance a repository announces through
// Retry-After and X-RateLimit-* headers.
type Budget struct {
	mu        sync.Mutex
	now       func() time.Time
	maxWait   time.Duration
	cooldown  time.Time
	remaining int
	reset     time.Time
	changed   chan struct{}
}

// NewBudget returns a budget that waits out back-offs no longer than maxWait
// and rejects longer ones immediately.
func NewBudget(maxWait time.Duration) *Budget {
	return &Budget{
		now:       time.Now,
		maxWait:   maxWait,
		remaining: -1,
		changed:   make(chan struct{}),
	}
}

// blockedUntil returns when the next request may be sent. Callers hold b.mu.
func (b *Budget) blockedUntil(now time.Time) time.Time {
	until := b.cooldown
	if b.remaining == 0 && b.reset.After(until) {
		until = b.reset
	}
	if !until.After(now) {
		return time.Time{}
	}
	return until
}

// Admit blocks until a request may be sent.
func (b *Budget) Admit(ctx context.Context) error {
	if ctx == nil {
		return fmt.Errorf("Admit: nil context")
	}
	if b == nil {
		return nil
	}
	for {
		b.mu.Lock()
		now := b.now()
		until := b.blockedUntil(now)
		ch := b.changed
		b.mu.Unlock()

		if until.IsZero() {
			return nil
		}
		wait := until.Sub(now)
		if wait > b.maxWait {
			return fmt.Errorf("%w until %s", ErrCoolingDown, until.UTC().Format(time.RFC3339))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-ch:
			timer.Stop()
		case <-timer.C:
			b.mu.Lock()
			if b.remaining == 0 && !b.now().Before(b.reset) {
				// The window rolled over; the next response will report the new allowance.
				b.remaining = -1
			}
			b.mu.Unlock()
		}
	}
}

// Observe updates the budget from a repository response.
func (b *Budget) Observe(resp *http.Response) {
	if b == nil || resp == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	changed := false
	if until, ok := parseRetryAfter(resp.Header.Get("Retry-After"), b.now()); ok && until.After(b.cooldown) {
		b.cooldown = until
		changed = true
	}
	if v, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining")); err == nil && v >= 0 && v != b.remaining {
		b.remaining = v
		changed = true
	}
	if v, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil && v > 0 {
		if reset := time.Unix(v, 0); !reset.Equal(b.reset) {
			b.reset = reset
			changed = true
		}
	}

	if changed {
		close(b.changed)
		b.changed = make(chan struct{})
	}
}

// CooldownUntil returns the end of the current back-off, or the zero time.
func (b *Budget) CooldownUntil() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blockedUntil(b.now())
}

// parseRetryAfter accepts both forms allowed by RFC 9110: delay seconds and an HTTP date.
func parseRetryAfter(v string, now time.Time) (time.Time, bool) {
	if v == "" {
		return time.Time{}, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return time.Time{}, false
		}
		return now.Add(time.Duration(secs) * time.Second), true
	}
	if t, err := http.ParseTime(v); err == nil {
		return t, true
	}
	return time.Time{}, false
}
