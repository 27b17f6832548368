// Package middleware provides HTTP middleware for the sync server's
// push/pull/register endpoints.
package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/vitaliisemenov/dbsync/internal/metrics"
)

// Config holds configuration for building the server's middleware stack.
type Config struct {
	Logger         *slog.Logger
	Metrics        *metrics.Registry
	RateLimiter    *RateLimitConfig
	MaxRequestSize int64
	RequestTimeout time.Duration
}

// RateLimitConfig configures per-node and global token-bucket rate
// limiting (golang.org/x/time/rate). NodeIDHeader names the header
// carrying the pushing/pulling node's id (X-Node-ID when empty);
// requests without that header fall under the global limiter only.
type RateLimitConfig struct {
	Enabled      bool
	PerNodeRPS   int
	GlobalRPS    int
	NodeIDHeader string
}

// Stack builds the complete middleware chain, applied outermost to
// innermost:
//  1. Security headers
//  2. Panic recovery
//  3. Request ID
//  4. Logging
//  5. Metrics
//  6. Rate limiting
//  7. Request size limit
//  8. Request timeout
func Stack(cfg Config) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		handler := next

		if cfg.RequestTimeout > 0 {
			handler = http.TimeoutHandler(handler, cfg.RequestTimeout, "request timeout")
		}

		if cfg.MaxRequestSize > 0 {
			handler = limitRequestSize(handler, cfg.MaxRequestSize)
		}

		if cfg.RateLimiter != nil && cfg.RateLimiter.Enabled {
			handler = newRateLimiter(*cfg.RateLimiter).middleware(handler)
		}

		if cfg.Metrics != nil {
			handler = applyMetrics(handler, cfg.Metrics)
		}

		if cfg.Logger != nil {
			handler = applyLogging(handler, cfg.Logger)
		}

		handler = applyRequestID(handler)
		handler = applyRecovery(handler, cfg.Logger)

		securityHeaders := NewSecurityHeadersMiddleware(nil)
		handler = securityHeaders.Handler(handler)

		return handler
	}
}

func limitRequestSize(next http.Handler, max int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > max {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, max)
		next.ServeHTTP(w, r)
	})
}

// rateLimiter tracks one global limiter plus one per-node limiter,
// created lazily the first time a node is seen.
type rateLimiter struct {
	cfg     RateLimitConfig
	global  *rate.Limiter
	mu      sync.Mutex
	perNode map[string]*rate.Limiter
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	return &rateLimiter{
		cfg:     cfg,
		global:  rate.NewLimiter(rate.Limit(cfg.GlobalRPS), cfg.GlobalRPS),
		perNode: make(map[string]*rate.Limiter),
	}
}

func (rl *rateLimiter) limiterFor(nodeID string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	l, ok := rl.perNode[nodeID]
	if !ok {
		l = rate.NewLimiter(rate.Limit(rl.cfg.PerNodeRPS), rl.cfg.PerNodeRPS)
		rl.perNode[nodeID] = l
	}
	return l
}

func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.global.Allow() {
			http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
			return
		}
		header := rl.cfg.NodeIDHeader
		if header == "" {
			header = "X-Node-ID"
		}
		if nodeID := r.Header.Get(header); nodeID != "" {
			if !rl.limiterFor(nodeID).Allow() {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func applyMetrics(next http.Handler, reg *metrics.Registry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		reg.HTTPRequestDuration.WithLabelValues(r.URL.Path).Observe(time.Since(start).Seconds())
	})
}

func applyLogging(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
			"request_id", r.Header.Get("X-Request-ID"),
		)
		next.ServeHTTP(w, r)
	})
}

func applyRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Request-ID") == "" {
			r.Header.Set("X-Request-ID", uuid.NewString())
		}
		w.Header().Set("X-Request-ID", r.Header.Get("X-Request-ID"))
		next.ServeHTTP(w, r)
	})
}

func applyRecovery(next http.Handler, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if logger != nil {
					logger.Error("panic recovered", "error", err, "path", r.URL.Path)
				}
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
