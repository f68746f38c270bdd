package server

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// rateLimiter enforces a sliding-window cap on requests per client. A client
// is identified by its source IP; requests older than the window are pruned
// on every check, so at most max requests are admitted per window.
type rateLimiter struct {
	mu     sync.Mutex
	seen   map[string][]time.Time
	max    int
	window time.Duration
	clock  clock.Clock
}

func newRateLimiter(max int, window time.Duration, clk clock.Clock) *rateLimiter {
	if clk == nil {
		clk = clock.New()
	}
	return &rateLimiter{
		seen:   make(map[string][]time.Time),
		max:    max,
		window: window,
		clock:  clk,
	}
}

// Allow records an attempt for the client and reports whether it is within
// the window cap. Rejected attempts are not recorded.
func (rl *rateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.clock.Now()
	cutoff := now.Add(-rl.window)

	recent := rl.seen[client][:0]
	for _, at := range rl.seen[client] {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}

	if len(recent) >= rl.max {
		rl.seen[client] = recent
		return false
	}

	rl.seen[client] = append(recent, now)
	return true
}

// clientKey extracts a stable client identity from the request, preferring
// the first X-Forwarded-For hop when the server sits behind a proxy.
func clientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
