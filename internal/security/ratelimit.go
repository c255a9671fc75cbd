package security

import (
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// RateLimitEntry tracks violations from one source identifier
type RateLimitEntry struct {
	Source         string    `json:"source"`
	Count          int       `json:"count"`
	InWindow       int       `json:"in_window"`
	FirstViolation time.Time `json:"first_violation"`
	LastViolation  time.Time `json:"last_violation"`

	// newest violation times, capped at threshold+1
	window []time.Time
}

// RateLimiter is a per-source sliding-window violation counter. A source is
// limited while more than threshold violations fall inside the window. The
// table is bounded: idle sources expire after one window and the least
// recently violating source is evicted at capacity.
type RateLimiter struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	entries   *expirable.LRU[string, *RateLimitEntry]
}

// NewRateLimiter creates a rate limiter
func NewRateLimiter(threshold int, window time.Duration, maxSources int) *RateLimiter {
	if threshold <= 0 {
		threshold = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	if maxSources <= 0 {
		maxSources = 10000
	}
	return &RateLimiter{
		threshold: threshold,
		window:    window,
		entries:   expirable.NewLRU[string, *RateLimitEntry](maxSources, nil, window),
	}
}

// Threshold returns the number of in-window violations a source may have
// before it is limited
func (r *RateLimiter) Threshold() int {
	return r.threshold
}

// Window returns the sliding window length
func (r *RateLimiter) Window() time.Duration {
	return r.window
}

// Observe records one request from source. When violated is true the
// violation is counted. It reports whether the source is limited after the
// observation, together with a snapshot of its entry.
func (r *RateLimiter) Observe(source string, violated bool, now time.Time) (bool, RateLimitEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries.Peek(source)
	if ok {
		r.prune(entry, now)
	}

	if !violated {
		if !ok {
			return false, RateLimitEntry{Source: source}
		}
		return r.limited(entry), entry.snapshot()
	}

	if !ok || len(entry.window) == 0 {
		// first violation, or the window elapsed with nothing new
		entry = &RateLimitEntry{Source: source, FirstViolation: now}
	}
	entry.Count++
	entry.LastViolation = now
	entry.window = append(entry.window, now)
	if limit := r.threshold + 1; len(entry.window) > limit {
		entry.window = append(entry.window[:0], entry.window[len(entry.window)-limit:]...)
	}
	entry.InWindow = len(entry.window)

	// Add refreshes the TTL, so expiry tracks the last violation
	r.entries.Add(source, entry)

	return r.limited(entry), entry.snapshot()
}

// IsLimited reports whether source is currently limited
func (r *RateLimiter) IsLimited(source string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries.Peek(source)
	if !ok {
		return false
	}
	r.prune(entry, now)
	return r.limited(entry)
}

// LimitedSources returns the sorted list of currently limited sources
func (r *RateLimiter) LimitedSources(now time.Time) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var sources []string
	for _, entry := range r.entries.Values() {
		r.prune(entry, now)
		if r.limited(entry) {
			sources = append(sources, entry.Source)
		}
	}
	sort.Strings(sources)
	return sources
}

// Entry returns a snapshot of the entry for source
func (r *RateLimiter) Entry(source string, now time.Time) (RateLimitEntry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries.Peek(source)
	if !ok {
		return RateLimitEntry{}, false
	}
	r.prune(entry, now)
	return entry.snapshot(), true
}

// Tracked returns the number of sources in the table
func (r *RateLimiter) Tracked() int {
	return r.entries.Len()
}

// Reset forgets source
func (r *RateLimiter) Reset(source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries.Remove(source)
}

func (r *RateLimiter) limited(entry *RateLimitEntry) bool {
	return len(entry.window) > r.threshold
}

// prune drops violation times that fell out of the window
func (r *RateLimiter) prune(entry *RateLimitEntry, now time.Time) {
	cutoff := now.Add(-r.window)
	expired := 0
	for expired < len(entry.window) && !entry.window[expired].After(cutoff) {
		expired++
	}
	if expired > 0 {
		entry.window = append(entry.window[:0], entry.window[expired:]...)
	}
	entry.InWindow = len(entry.window)
}

func (e *RateLimitEntry) snapshot() RateLimitEntry {
	out := *e
	out.window = nil
	return out
}
