package handlers

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RequireAuth is middleware that enforces bearer token authentication.
// An empty token disables the check, for local development.
func RequireAuth(next http.Handler, token string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		presented := strings.TrimPrefix(auth, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			w.Header().Set("Content-Type", "application/json")
			http.Error(w, `{"error":"unauthorized","code":"UNAUTHORIZED"}`,
				http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// maxTrackedClients bounds the limiter map; beyond it stale entries are
// evicted.
const maxTrackedClients = 4096

// ClientRateLimiter applies a per-client token bucket keyed by remote IP.
type ClientRateLimiter struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	rate    rate.Limit
	burst   int
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewClientRateLimiter creates a rate limiter with the given sustained
// per-client rate and burst size.
func NewClientRateLimiter(reqPerSec float64, burst int) *ClientRateLimiter {
	if reqPerSec <= 0 {
		reqPerSec = 20
	}
	if burst <= 0 {
		burst = int(reqPerSec) * 2
	}
	return &ClientRateLimiter{
		clients: make(map[string]*clientLimiter),
		rate:    rate.Limit(reqPerSec),
		burst:   burst,
	}
}

// Allow reports whether the client may proceed.
func (rl *ClientRateLimiter) Allow(clientKey string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cl, ok := rl.clients[clientKey]
	if !ok {
		if len(rl.clients) >= maxTrackedClients {
			rl.evictStale()
		}
		cl = &clientLimiter{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.clients[clientKey] = cl
	}
	cl.lastSeen = time.Now()
	return cl.limiter.Allow()
}

// evictStale removes limiters idle for ten minutes. Called under rl.mu.
func (rl *ClientRateLimiter) evictStale() {
	cutoff := time.Now().Add(-10 * time.Minute)
	for key, cl := range rl.clients {
		if cl.lastSeen.Before(cutoff) {
			delete(rl.clients, key)
		}
	}
	if len(rl.clients) >= maxTrackedClients {
		rl.clients = make(map[string]*clientLimiter)
	}
}

// RateLimitMiddleware enforces the per-client limit using the request's
// remote IP.
func RateLimitMiddleware(next http.Handler, rl *ClientRateLimiter) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if !rl.Allow(host) {
			w.Header().Set("Content-Type", "application/json")
			http.Error(w, `{"error":"rate limit exceeded","code":"RATE_LIMITED"}`,
				http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
