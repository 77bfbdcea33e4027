package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/aaronlmathis/tsinsight/internal/metrics"
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter applies a per-client token bucket keyed by remote address
type RateLimiter struct {
	logger            *zap.Logger
	requestsPerMinute int
	burst             int

	mu      sync.Mutex
	clients map[string]*clientLimiter
	now     func() time.Time
}

// NewRateLimiter creates a limiter allowing requestsPerMinute per client with
// the given burst. A non-positive rate disables limiting.
func NewRateLimiter(logger *zap.Logger, requestsPerMinute, burst int) *RateLimiter {
	if burst <= 0 {
		burst = 10
	}
	return &RateLimiter{
		logger:            logger,
		requestsPerMinute: requestsPerMinute,
		burst:             burst,
		clients:           make(map[string]*clientLimiter),
		now:               time.Now,
	}
}

// Middleware rejects requests over the client's budget with 429
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if rl.requestsPerMinute <= 0 {
		return next
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := clientKey(r)

		if !rl.limiterFor(clientID).Allow() {
			rl.logger.Warn("Rate limit exceeded",
				zap.String("client", clientID),
				zap.String("path", r.URL.Path))
			metrics.RecordRateLimitedRequest(routeLabel(r))
			writeRateLimitExceeded(w)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (rl *RateLimiter) limiterFor(clientID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if c, exists := rl.clients[clientID]; exists {
		c.lastSeen = now
		return c.limiter
	}

	limiter := rate.NewLimiter(perMinute(rl.requestsPerMinute), rl.burst)
	rl.clients[clientID] = &clientLimiter{limiter: limiter, lastSeen: now}
	return limiter
}

// perMinute converts a per-minute budget into a token rate
func perMinute(n int) rate.Limit {
	return rate.Limit(float64(n) / time.Minute.Seconds())
}

// Cleanup forgets clients idle for longer than maxIdle and returns how many
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-maxIdle)
	removed := 0
	for id, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, id)
			removed++
		}
	}
	return removed
}

// RunCleanup calls Cleanup every interval until ctx is done
func (rl *RateLimiter) RunCleanup(ctx context.Context, interval, maxIdle time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := rl.Cleanup(maxIdle); n > 0 {
				rl.logger.Debug("Removed idle rate limiters", zap.Int("count", n))
			}
		}
	}
}

// clientKey is the remote host without its port
func clientKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeRateLimitExceeded(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "60")
	w.WriteHeader(http.StatusTooManyRequests)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Error:  genericErrorMessage(http.StatusTooManyRequests),
		Status: http.StatusTooManyRequests,
	})
}

// SecureHeaders adds conservative headers suitable for a JSON API
func SecureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		next.ServeHTTP(w, r)
	})
}
