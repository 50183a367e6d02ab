// Package ratelimit admits pin creations per owner with a sliding-window log.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

const (
	// DefaultCapacity is the number of creations admitted per window.
	DefaultCapacity = 5
	// DefaultWindow is the sliding window length.
	DefaultWindow = 30 * time.Minute
)

var errInvalidOwner = errors.New("ratelimit: owner id must be positive")

// Decision is the outcome of a single admission attempt.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Remaining  int
}

// Limiter admits or denies a creation for an owner at a point in time.
// Check and record happen as one atomic step per owner.
type Limiter interface {
	Admit(ctx context.Context, ownerID int64, now time.Time) (Decision, error)
	// Release forgets an admission whose creation never persisted.
	Release(ctx context.Context, ownerID int64, admittedAt time.Time) error
	Capacity() int
	Window() time.Duration
}

// Policy is the capacity and window shared by every backend.
type Policy struct {
	Capacity int
	Window   time.Duration
}

func (p Policy) normalized() Policy {
	if p.Capacity <= 0 {
		p.Capacity = DefaultCapacity
	}
	if p.Window <= 0 {
		p.Window = DefaultWindow
	}
	return p
}

// retryAfter is the wait until the oldest in-window timestamp ages out.
func retryAfter(window time.Duration, now, oldest time.Time) time.Duration {
	wait := window - now.Sub(oldest)
	if wait < 0 {
		return 0
	}
	return wait
}
