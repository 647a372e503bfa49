package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/astra-platform/backbone/internal/logging"
	"github.com/astra-platform/backbone/internal/router"
)

// BurstGuard is a transport-level per-client token bucket that sits in
// front of the quota checks. It protects the gateway itself from tight
// request loops; the fixed-window quotas remain the contractual limits.
type BurstGuard struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
	logger   *logging.Logger
}

// NewBurstGuard creates a burst guard admitting requestsPerSecond with the
// given burst per client key.
func NewBurstGuard(requestsPerSecond, burst int, logger *logging.Logger) *BurstGuard {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &BurstGuard{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		logger:   logger,
	}
}

func (g *BurstGuard) getLimiter(key string) *rate.Limiter {
	g.mu.Lock()
	defer g.mu.Unlock()

	limiter, exists := g.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(g.rate, g.burst)
		g.limiters[key] = limiter
	}
	return limiter
}

// Handler returns the burst guard middleware handler. The client key is
// the caller header when present, otherwise the remote address.
func (g *BurstGuard) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(router.CallerHeader)
		if key == "" {
			key = r.RemoteAddr
		}

		if !g.getLimiter(key).Allow() {
			g.logger.LogSecurityEvent(r.Context(), "burst_guard_tripped", map[string]any{
				"key":    key,
				"path":   r.URL.Path,
				"method": r.Method,
			})
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Cleanup drops the limiter table once it grows past a bound so abandoned
// client keys do not accumulate.
func (g *BurstGuard) Cleanup() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.limiters) > 10000 {
		g.limiters = make(map[string]*rate.Limiter)
	}
}

// StartCleanup starts a background goroutine running Cleanup until the
// stop channel closes.
func (g *BurstGuard) StartCleanup(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				g.Cleanup()
			}
		}
	}()
}
