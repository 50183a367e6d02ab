package realtime

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// cleanupThreshold is the minimum map size before a cleanup pass runs.
	cleanupThreshold = 500
	// maxIdleAge is the duration after which an idle IP entry is eligible for cleanup.
	maxIdleAge = 10 * time.Minute
)

type ipEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ConnectThrottle limits live feed connection attempts per client IP.
type ConnectThrottle struct {
	ips   map[string]*ipEntry
	mu    sync.Mutex
	limit rate.Limit
	burst int
	clock func() time.Time
}

// NewConnectThrottle allows perSecond attempts per IP with the given burst.
func NewConnectThrottle(perSecond float64, burst int) *ConnectThrottle {
	if burst < 1 {
		burst = 1
	}
	return &ConnectThrottle{
		ips:   make(map[string]*ipEntry),
		limit: rate.Limit(perSecond),
		burst: burst,
		clock: time.Now,
	}
}

// Allow reports whether ip may open another connection now, pruning stale
// entries once the map grows past cleanupThreshold.
func (t *ConnectThrottle) Allow(ip string) bool {
	now := t.clock()

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.ips) > cleanupThreshold {
		cutoff := now.Add(-maxIdleAge)
		for key, entry := range t.ips {
			if entry.lastSeen.Before(cutoff) {
				delete(t.ips, key)
			}
		}
	}

	entry, exists := t.ips[ip]
	if !exists {
		entry = &ipEntry{limiter: rate.NewLimiter(t.limit, t.burst)}
		t.ips[ip] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}
