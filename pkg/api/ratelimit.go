package api

import (
	"math"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// clientLimiter keeps one token bucket per client IP. Buckets unused for
// longer than idle are swept on the next request after the idle period.
type clientLimiter struct {
	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time

	mu        sync.Mutex
	clients   map[string]*clientBucket
	lastSweep time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(rps float64, burst int, idle time.Duration) *clientLimiter {
	return &clientLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idle:    idle,
		now:     time.Now,
		clients: make(map[string]*clientBucket),
	}
}

func (cl *clientLimiter) allow(key string) bool {
	cl.mu.Lock()
	now := cl.now()
	if cl.lastSweep.IsZero() {
		cl.lastSweep = now
	}
	if now.Sub(cl.lastSweep) >= cl.idle {
		cl.sweep(now)
	}
	b, ok := cl.clients[key]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(cl.limit, cl.burst)}
		cl.clients[key] = b
	}
	b.lastSeen = now
	cl.mu.Unlock()
	return b.limiter.AllowN(now, 1)
}

// sweep drops idle buckets. Callers hold mu.
func (cl *clientLimiter) sweep(now time.Time) {
	for key, b := range cl.clients {
		if now.Sub(b.lastSeen) > cl.idle {
			delete(cl.clients, key)
		}
	}
	cl.lastSweep = now
}

func (cl *clientLimiter) size() int {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.clients)
}

// retryAfter is the wait for one token, in whole seconds.
func (cl *clientLimiter) retryAfter() int {
	return max(1, int(math.Ceil(1/float64(cl.limit))))
}

// clientKey identifies the caller by forwarded address, falling back to
// the connection's remote host.
func clientKey(r *http.Request) string {
	if fwd := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}
