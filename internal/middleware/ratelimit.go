package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/juju/clock"
	"gopkg.in/tomb.v2"
)

type visitor struct {
	count    int
	lastSeen time.Time
}

// RateLimiter allows each client IP limit requests per window. It guards
// the websocket endpoint, where every accepted request pins a change
// channel.
type RateLimiter struct {
	clock  clock.Clock
	limit  int
	window time.Duration
	tomb   tomb.Tomb

	mu       sync.Mutex
	visitors map[string]*visitor
}

func NewRateLimiter(clk clock.Clock, limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		clock:    clk,
		visitors: make(map[string]*visitor),
		limit:    limit,
		window:   window,
	}
	rl.tomb.Go(rl.cleanup)
	return rl
}

func (rl *RateLimiter) cleanup() error {
	for {
		select {
		case <-rl.tomb.Dying():
			return nil
		case <-rl.clock.After(rl.window):
		}
		now := rl.clock.Now()
		rl.mu.Lock()
		for ip, v := range rl.visitors {
			if now.Sub(v.lastSeen) > rl.window {
				delete(rl.visitors, ip)
			}
		}
		rl.mu.Unlock()
	}
}

func (rl *RateLimiter) Stop() {
	rl.tomb.Kill(nil)
	rl.tomb.Wait()
}

// Allow records a request from ip and reports whether it is within the
// limit.
func (rl *RateLimiter) Allow(ip string) bool {
	now := rl.clock.Now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	v, exists := rl.visitors[ip]
	if !exists || now.Sub(v.lastSeen) > rl.window {
		rl.visitors[ip] = &visitor{count: 1, lastSeen: now}
		return true
	}

	v.count++
	v.lastSeen = now
	return v.count <= rl.limit
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.Allow(r.RemoteAddr) {
			writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "Too many requests. Please try again later.", r)
			return
		}
		next.ServeHTTP(w, r)
	})
}
