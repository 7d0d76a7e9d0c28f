package api

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Idle buckets are forgotten after limiterIdleTTL; the sweep runs every
// limiterSweepInterval.
const (
	limiterIdleTTL       = 5 * time.Minute
	limiterSweepInterval = time.Minute
)

// ipLimiter keeps one token bucket per client IP.
type ipLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	now     func() time.Time
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func newIPLimiter(perMinute, burst int) *ipLimiter {
	return &ipLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(float64(perMinute) / time.Minute.Seconds()),
		burst:   burst,
		now:     time.Now,
	}
}

// allow takes one token from ip's bucket.
func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[ip] = b
	}
	b.lastSeen = now
	return b.lim.AllowN(now, 1)
}

// prune drops buckets idle for longer than limiterIdleTTL.
func (l *ipLimiter) prune() {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.now().Add(-limiterIdleTTL)
	for ip, b := range l.buckets {
		if b.lastSeen.Before(cutoff) {
			delete(l.buckets, ip)
		}
	}
}

// sweep prunes periodically until ctx is cancelled.
func (l *ipLimiter) sweep(ctx context.Context) {
	ticker := time.NewTicker(limiterSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.prune()
		}
	}
}

// clientIP is the peer address. Forwarding headers are not trusted; put a
// proxy that rewrites RemoteAddr in front if identityd is not exposed directly.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
