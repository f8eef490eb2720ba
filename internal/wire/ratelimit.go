package wire

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// perMinuteLimit and perHourLimit are the default per-peer rate caps
	// (spec §5).
	perMinuteLimit = 60
	perHourLimit   = 3600
)

// peerLimiter pairs a short-window and long-window token bucket so a
// burst that respects the per-minute cap still can't exceed the
// per-hour cap.
type peerLimiter struct {
	perMinute *rate.Limiter
	perHour   *rate.Limiter
}

// RateLimiter enforces the per-peer message rate of spec §5 (default
// 60/min, 3600/hour). Grounded on the teacher's absence of any rate
// limiting — golang.org/x/time/rate is adopted from the rest of the pack
// (postalsys-Muti-Metroo) since no pack repo hand-rolls a token bucket.
type RateLimiter struct {
	mu     sync.Mutex
	peers  map[string]*peerLimiter
	minute int
	hour   int
}

// NewRateLimiter constructs a RateLimiter with the spec defaults.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		peers:  make(map[string]*peerLimiter),
		minute: perMinuteLimit,
		hour:   perHourLimit,
	}
}

func (rl *RateLimiter) limiterFor(peerID string) *peerLimiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	pl, ok := rl.peers[peerID]
	if !ok {
		pl = &peerLimiter{
			perMinute: rate.NewLimiter(rate.Limit(float64(rl.minute)/60.0), rl.minute),
			perHour:   rate.NewLimiter(rate.Limit(float64(rl.hour)/3600.0), rl.hour),
		}
		rl.peers[peerID] = pl
	}
	return pl
}

// Allow reports whether peerID may send one more message right now,
// consuming one token from each window's bucket if so.
func (rl *RateLimiter) Allow(peerID string) bool {
	pl := rl.limiterFor(peerID)
	now := time.Now()
	if pl.perHour.TokensAt(now) < 1 || pl.perMinute.TokensAt(now) < 1 {
		return false
	}
	return pl.perHour.AllowN(now, 1) && pl.perMinute.AllowN(now, 1)
}

// Forget drops per-peer limiter state, e.g. once a peer is evicted from
// the routing table.
func (rl *RateLimiter) Forget(peerID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.peers, peerID)
}
