package main

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// rateQuota reports the state of a client's window after an admitted request.
type rateQuota struct {
	remaining  int
	resetAfter time.Duration
}

// rateLimitError is the expected rejection outcome, not a system fault.
type rateLimitError struct {
	retryAfter time.Duration
}

func (e *rateLimitError) Error() string {
	return "rate limit exceeded"
}

// rateLimiter is a sliding-window admission counter keyed by client identity.
// All state lives behind a single mutex; limiter operations are O(window
// occupancy) and expected to be fast, so per-key locking is not worth it.
type rateLimiter struct {
	requests       int
	window         time.Duration
	trustForwarded bool

	mu        sync.Mutex
	hits      map[string][]time.Time
	lastSweep time.Time
	now       func() time.Time
}

func newRateLimiter(requests int, window time.Duration, trustForwarded bool) *rateLimiter {
	if requests < 1 {
		requests = 1
	}
	if window < time.Second {
		window = time.Second
	}
	return &rateLimiter{
		requests:       requests,
		window:         window,
		trustForwarded: trustForwarded,
		hits:           make(map[string][]time.Time),
		now:            time.Now,
	}
}

// clientKey derives the limiter key from the first X-Forwarded-For hop when
// that header is trusted, otherwise from the direct peer address.
func (l *rateLimiter) clientKey(r *http.Request) string {
	if l.trustForwarded {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if key := strings.TrimSpace(first); key != "" {
				return key
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
	return host
}

// hit records one admission attempt for key. It returns the remaining quota,
// or a rateLimitError carrying the time until the oldest retained hit leaves
// the window.
func (l *rateLimiter) hit(key string) (rateQuota, error) {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	l.sweep(now)

	windowStart := now.Add(-l.window)
	bucket := l.hits[key]
	kept := bucket[:0]
	for _, ts := range bucket {
		if ts.After(windowStart) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.requests {
		l.hits[key] = kept
		return rateQuota{}, &rateLimitError{retryAfter: l.window - now.Sub(kept[0])}
	}
	kept = append(kept, now)
	l.hits[key] = kept

	return rateQuota{
		remaining:  l.requests - len(kept),
		resetAfter: l.window - now.Sub(kept[0]),
	}, nil
}

// sweep drops fully idle keys at most once per window so spoofed forwarded
// addresses cannot grow the map without bound.
func (l *rateLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < l.window {
		return
	}
	l.lastSweep = now
	windowStart := now.Add(-l.window)
	for key, bucket := range l.hits {
		live := false
		for _, ts := range bucket {
			if ts.After(windowStart) {
				live = true
				break
			}
		}
		if !live {
			delete(l.hits, key)
		}
	}
}
