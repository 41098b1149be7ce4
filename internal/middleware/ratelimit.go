// ratelimit.go enforces fixed-window request throttling in front of every
// privileged endpoint. Buckets are keyed "<limiterName>:<clientKey>"; the
// client key is the first X-Forwarded-For entry when present, else the
// connection's remote address.
//
// The registry is an explicitly owned component: one per server instance,
// injected where needed, with a Start/Stop lifecycle tied to server startup
// and shutdown. The background sweep that bounds memory runs on its own
// ticker, independent of request traffic, and never keeps the process alive
// on its own.
package middleware

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/contextlink/contextlink/internal/apierror"
	"github.com/contextlink/contextlink/internal/telemetry"
)

// BucketStore is the counter backend of the rate limiter. Incr creates or
// resets the bucket when its window has elapsed and returns the new count and
// the instant the window resets.
type BucketStore interface {
	Incr(ctx context.Context, key string, window time.Duration) (count int, resetAt time.Time, err error)
	// Sweep removes expired buckets; a no-op for backends with native expiry.
	Sweep(now time.Time)
}

type bucket struct {
	count   int
	resetAt time.Time
}

// MemoryStore is the default in-process bucket table. Increments are
// serialized by the mutex so concurrent hits from one client never lose
// updates.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*bucket
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{buckets: make(map[string]*bucket)}
}

// Incr implements BucketStore.
func (s *MemoryStore) Incr(_ context.Context, key string, window time.Duration) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	b, ok := s.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		b = &bucket{count: 1, resetAt: now.Add(window)}
		s.buckets[key] = b
		return b.count, b.resetAt, nil
	}
	b.count++
	return b.count, b.resetAt, nil
}

// Sweep implements BucketStore.
func (s *MemoryStore) Sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, b := range s.buckets {
		if !now.Before(b.resetAt) {
			delete(s.buckets, key)
		}
	}
}

// RateLimiterRegistry owns the bucket store and the sweep lifecycle.
type RateLimiterRegistry struct {
	store         BucketStore
	sweepInterval time.Duration
	stopCh        chan struct{}
	stopOnce      sync.Once
}

// NewRateLimiterRegistry creates a registry over the given store.
func NewRateLimiterRegistry(store BucketStore, sweepInterval time.Duration) *RateLimiterRegistry {
	if sweepInterval <= 0 {
		sweepInterval = 5 * time.Minute
	}
	return &RateLimiterRegistry{
		store:         store,
		sweepInterval: sweepInterval,
		stopCh:        make(chan struct{}),
	}
}

// Start launches the background sweep. Call Stop on shutdown.
func (r *RateLimiterRegistry) Start() {
	go func() {
		ticker := time.NewTicker(r.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.store.Sweep(time.Now())
			case <-r.stopCh:
				return
			}
		}
	}()
}

// Stop terminates the background sweep. Safe to call more than once.
func (r *RateLimiterRegistry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Middleware returns a Gin middleware enforcing max requests per window under
// the given limiter name. Store failures admit the request — the limiter
// protects the backend, it must not become the outage.
func (r *RateLimiterRegistry) Middleware(name string, max int, window time.Duration) gin.HandlerFunc {
	windowMS := window.Milliseconds()
	return func(c *gin.Context) {
		key := name + ":" + clientKey(c)

		count, resetAt, err := r.store.Incr(c.Request.Context(), key, window)
		if err != nil {
			slog.Error("rate limiter store failure, admitting request", "limiter", name, "error", err)
			c.Next()
			return
		}

		if count > max {
			retryAfter := int64(time.Until(resetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.FormatInt(retryAfter, 10))
			telemetry.RateLimitRejectionsTotal.WithLabelValues(name).Inc()
			apierror.Abort(c, apierror.RateLimited(max, windowMS, retryAfter))
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(max))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(max-count))
		c.Next()
	}
}

// clientKey resolves the throttling identity of a request: the first
// X-Forwarded-For entry when present and non-empty, else the connection's
// remote address.
func clientKey(c *gin.Context) string {
	if forwarded := c.GetHeader("X-Forwarded-For"); forwarded != "" {
		first := strings.TrimSpace(strings.SplitN(forwarded, ",", 2)[0])
		if first != "" {
			return first
		}
	}
	return c.Request.RemoteAddr
}
