package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/narraform-go/internal/config"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// RateLimiter interface for per-client API rate limiting
type RateLimiter interface {
	Allow(clientID string) bool
	Reset(clientID string)
	Middleware(next http.Handler) http.Handler
}

// ClientRateLimiter implements per-client rate limiting for the HTTP API
type ClientRateLimiter struct {
	enabled         bool
	limiters        map[string]*rate.Limiter
	mu              sync.RWMutex
	rpm             int
	burst           int
	logger          *logrus.Logger
	cleanupInterval time.Duration
}

// NewRateLimiter creates a new API rate limiter
func NewRateLimiter(cfg *config.APIRateLimit, logger *logrus.Logger) RateLimiter {
	if !cfg.Enabled {
		return &ClientRateLimiter{enabled: false}
	}

	rl := &ClientRateLimiter{
		enabled:         true,
		limiters:        make(map[string]*rate.Limiter),
		rpm:             cfg.RequestsPerMinute,
		burst:           cfg.Burst,
		logger:          logger,
		cleanupInterval: 1 * time.Hour,
	}

	// Start cleanup goroutine
	go rl.cleanup()

	return rl
}

// Allow checks if a client is allowed to make a request
func (r *ClientRateLimiter) Allow(clientID string) bool {
	if !r.enabled {
		return true
	}

	limiter := r.getLimiter(clientID)
	allowed := limiter.Allow()

	if !allowed {
		r.logger.WithFields(logrus.Fields{
			"client_id": clientID,
		}).Warn("API rate limit exceeded")
	}

	return allowed
}

// Reset resets the rate limiter for a client
func (r *ClientRateLimiter) Reset(clientID string) {
	if !r.enabled {
		return
	}

	r.mu.Lock()
	delete(r.limiters, clientID)
	r.mu.Unlock()
}

// Middleware rejects requests from clients over their limit with 429
func (r *ClientRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if !r.Allow(clientKey(req)) {
			w.Header().Set("Retry-After", "60")
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// clientKey identifies a caller by API key header, falling back to
// remote address
func clientKey(req *http.Request) string {
	if key := req.Header.Get("X-API-Key"); key != "" {
		return key
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}

// getLimiter gets or creates a rate limiter for a client
func (r *ClientRateLimiter) getLimiter(clientID string) *rate.Limiter {
	r.mu.RLock()
	limiter, exists := r.limiters[clientID]
	r.mu.RUnlock()

	if exists {
		return limiter
	}

	// Create new limiter
	r.mu.Lock()
	defer r.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := r.limiters[clientID]; exists {
		return limiter
	}

	// Rate per second = RPM / 60
	rps := float64(r.rpm) / 60.0
	limiter = rate.NewLimiter(rate.Limit(rps), r.burst)
	r.limiters[clientID] = limiter

	return limiter
}

// cleanup removes inactive limiters
func (r *ClientRateLimiter) cleanup() {
	ticker := time.NewTicker(r.cleanupInterval)
	defer ticker.Stop()

	for range ticker.C {
		r.mu.Lock()
		if len(r.limiters) > 10000 {
			r.logger.Warn("Rate limiter map size exceeded threshold, clearing")
			r.limiters = make(map[string]*rate.Limiter)
		}
		r.mu.Unlock()
	}
}
