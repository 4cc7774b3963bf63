package gateway

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Rate limiter housekeeping. Entries unused for idleEvict are swept so the
// map does not grow with every session or address ever seen.
const (
	idleEvict     = 10 * time.Minute
	sweepInterval = time.Minute
)

// limiterEntry is one client's token bucket plus the limit it was built
// for, so a policy change rebuilds the bucket instead of silently keeping
// the old rate.
type limiterEntry struct {
	lim       *rate.Limiter
	perMinute int
	lastSeen  time.Time
}

// RateLimiter applies a per-client sliding rate limit. Clients are keyed
// by session ID when the request carries one, client IP otherwise, and
// the limit itself comes from the current mode policy so guest and owner
// mode can run different budgets without a restart.
//
// Safe for concurrent use.
type RateLimiter struct {
	mu        sync.Mutex
	entries   map[string]*limiterEntry
	lastSweep time.Time
	now       func() time.Time
}

// NewRateLimiter creates an empty limiter.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		entries: make(map[string]*limiterEntry),
		now:     time.Now,
	}
}

// Allow reports whether the client identified by key may proceed under a
// budget of perMinute requests. A perMinute of zero or below means
// unlimited. Tokens refill continuously, so the budget slides rather than
// resetting on minute boundaries.
func (rl *RateLimiter) Allow(key string, perMinute int) bool {
	if perMinute <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	rl.sweepLocked(now)

	e, ok := rl.entries[key]
	if !ok || e.perMinute != perMinute {
		e = &limiterEntry{
			lim:       rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
			perMinute: perMinute,
		}
		rl.entries[key] = e
	}
	e.lastSeen = now
	return e.lim.AllowN(now, 1)
}

// sweepLocked drops idle entries. Called with rl.mu held.
func (rl *RateLimiter) sweepLocked(now time.Time) {
	if now.Sub(rl.lastSweep) < sweepInterval {
		return
	}
	rl.lastSweep = now
	for key, e := range rl.entries {
		if now.Sub(e.lastSeen) > idleEvict {
			delete(rl.entries, key)
		}
	}
}

// clientKey identifies the caller for rate limiting: the session ID when
// one is supplied, the client IP otherwise. Behind a proxy the first
// X-Forwarded-For hop is the original client.
func clientKey(r *http.Request, sessionID string) string {
	if sessionID != "" {
		return "session:" + sessionID
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, ok := strings.Cut(xff, ","); ok {
			return "ip:" + strings.TrimSpace(first)
		}
		return "ip:" + strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return "ip:" + r.RemoteAddr
	}
	return "ip:" + host
}
