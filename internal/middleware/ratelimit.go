// Package middleware holds the companion daemon's own HTTP middleware.
package middleware

import (
	"context"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/siraat/companion/pkg/errors"
	"github.com/siraat/companion/pkg/httputil"
)

const idleTTL = 3 * time.Minute

// Policy is a token bucket: Limit tokens per second refilling a bucket of
// Burst.
type Policy struct {
	Limit rate.Limit
	Burst int
}

// PerSecond allows rps requests per second with bursts of burst.
func PerSecond(rps, burst int) Policy {
	return Policy{Limit: rate.Limit(rps), Burst: burst}
}

// PerMinute allows n requests per minute, all of which may come at once.
func PerMinute(n int) Policy {
	return Policy{Limit: rate.Every(time.Minute / time.Duration(n)), Burst: n}
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// buckets keeps one limiter per client IP and forgets IPs idle for ttl.
type buckets struct {
	policy Policy
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*bucket
}

func newBuckets(policy Policy, ttl time.Duration) *buckets {
	return &buckets{
		policy:  policy,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*bucket),
	}
}

// take spends one token for ip. When none is left it returns how long until
// one is.
func (b *buckets) take(ip string) (ok bool, wait time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	e, found := b.entries[ip]
	if !found {
		e = &bucket{limiter: rate.NewLimiter(b.policy.Limit, b.policy.Burst)}
		b.entries[ip] = e
	}
	e.lastSeen = now

	r := e.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if wait = r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return false, wait
	}
	return true, 0
}

func (b *buckets) evictIdle() {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.now().Add(-b.ttl)
	for ip, e := range b.entries {
		if e.lastSeen.Before(cutoff) {
			delete(b.entries, ip)
		}
	}
}

func (b *buckets) size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// janitor runs evictIdle every ttl until ctx is done.
func (b *buckets) janitor(ctx context.Context) {
	ticker := time.NewTicker(b.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.evictIdle()
		}
	}
}

// RateLimit returns middleware enforcing policy per client IP. Rejected
// requests get 429 and a Retry-After of the seconds until the next token.
// Idle IPs are forgotten until ctx is done.
func RateLimit(ctx context.Context, policy Policy, logger *slog.Logger) func(http.Handler) http.Handler {
	b := newBuckets(policy, idleTTL)
	go b.janitor(ctx)
	return limitWith(b, logger)
}

func limitWith(b *buckets, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			ok, wait := b.take(ip)
			if ok {
				next.ServeHTTP(w, r)
				return
			}

			retry := int(math.Ceil(wait.Seconds()))
			logger.WarnContext(r.Context(), "rate limit exceeded",
				slog.String("ip", ip),
				slog.String("path", r.URL.Path),
				slog.Int("retry_after", retry),
			)
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			httputil.WriteError(w, r, apperrors.RateLimited("too many requests"), logger)
		})
	}
}

// clientIP takes the first valid address of X-Forwarded-For, then
// X-Real-IP, then the connection's remote host.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := net.ParseIP(strings.TrimSpace(first)); ip != nil {
			return ip.String()
		}
	}
	if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
		return ip.String()
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
