package ratelimit

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"
)

const defaultCleanupEvery = 2 * time.Minute

// MemoryLimiter keeps per-owner sliding windows in process memory. Each owner
// has an independent cell so unrelated owners never contend on a lock.
type MemoryLimiter struct {
	policy       Policy
	cells        sync.Map
	cleanupEvery time.Duration
	clock        func() time.Time
}

type ownerCell struct {
	mu         sync.Mutex
	timestamps []time.Time
	evicted    bool
}

// MemoryOption configures a MemoryLimiter.
type MemoryOption func(*MemoryLimiter)

// WithCleanupEvery sets the janitor interval.
func WithCleanupEvery(every time.Duration) MemoryOption {
	return func(l *MemoryLimiter) { l.cleanupEvery = every }
}

// WithClock overrides the clock the janitor uses.
func WithClock(clock func() time.Time) MemoryOption {
	return func(l *MemoryLimiter) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// NewMemoryLimiter constructs an in-process limiter.
func NewMemoryLimiter(policy Policy, opts ...MemoryOption) *MemoryLimiter {
	limiter := &MemoryLimiter{
		policy:       policy.normalized(),
		cleanupEvery: defaultCleanupEvery,
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(limiter)
	}
	return limiter
}

// Capacity returns the per-window admission count.
func (l *MemoryLimiter) Capacity() int { return l.policy.Capacity }

// Window returns the sliding window length.
func (l *MemoryLimiter) Window() time.Duration { return l.policy.Window }

// Admit evicts aged timestamps and records now when capacity remains.
func (l *MemoryLimiter) Admit(_ context.Context, ownerID int64, now time.Time) (Decision, error) {
	if ownerID <= 0 {
		return Decision{}, errInvalidOwner
	}
	for {
		value, _ := l.cells.LoadOrStore(ownerID, &ownerCell{})
		cell := value.(*ownerCell)

		cell.mu.Lock()
		if cell.evicted {
			// the janitor removed this cell after we loaded it
			cell.mu.Unlock()
			continue
		}
		decision := cell.admit(l.policy, now)
		cell.mu.Unlock()
		return decision, nil
	}
}

// Release removes one timestamp equal to admittedAt.
func (l *MemoryLimiter) Release(_ context.Context, ownerID int64, admittedAt time.Time) error {
	value, ok := l.cells.Load(ownerID)
	if !ok {
		return nil
	}
	cell := value.(*ownerCell)
	cell.mu.Lock()
	defer cell.mu.Unlock()
	for index, stamp := range cell.timestamps {
		if stamp.Equal(admittedAt) {
			cell.timestamps = append(cell.timestamps[:index], cell.timestamps[index+1:]...)
			break
		}
	}
	return nil
}

func (c *ownerCell) admit(policy Policy, now time.Time) Decision {
	c.evict(policy.Window, now)
	if len(c.timestamps) < policy.Capacity {
		// callers read the clock before taking the cell lock, so arrivals
		// can be out of order
		index := sort.Search(len(c.timestamps), func(i int) bool {
			return c.timestamps[i].After(now)
		})
		c.timestamps = slices.Insert(c.timestamps, index, now)
		return Decision{Allowed: true, Remaining: policy.Capacity - len(c.timestamps)}
	}
	return Decision{
		Allowed:    false,
		RetryAfter: retryAfter(policy.Window, now, c.timestamps[0]),
	}
}

// evict drops timestamps whose age has reached the window. Timestamps are
// kept sorted, so the surviving suffix stays ordered.
func (c *ownerCell) evict(window time.Duration, now time.Time) {
	cut := 0
	for cut < len(c.timestamps) && now.Sub(c.timestamps[cut]) >= window {
		cut++
	}
	if cut > 0 {
		c.timestamps = append(c.timestamps[:0], c.timestamps[cut:]...)
	}
}

// Cleanup drops cells with no timestamp left inside the window.
func (l *MemoryLimiter) Cleanup() {
	now := l.clock()
	l.cells.Range(func(key, value any) bool {
		cell := value.(*ownerCell)
		cell.mu.Lock()
		cell.evict(l.policy.Window, now)
		if len(cell.timestamps) == 0 {
			cell.evicted = true
			l.cells.Delete(key)
		}
		cell.mu.Unlock()
		return true
	})
}

// StartJanitor runs Cleanup periodically until ctx is cancelled.
func (l *MemoryLimiter) StartJanitor(ctx context.Context) {
	if l.cleanupEvery <= 0 {
		return
	}

	ticker := time.NewTicker(l.cleanupEvery)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Cleanup()
			}
		}
	}()
}

func (l *MemoryLimiter) trackedOwners() int {
	count := 0
	l.cells.Range(func(_, _ any) bool {
		count++
		return true
	})
	return count
}
