package security

import (
	"sync"
	"time"
)

// FloodDetector is a sliding-window message-rate guard keyed by user: it
// tracks, per key, the timestamps of events within the trailing window and
// blocks once more than maxMessages have landed inside it. This is
// algorithmically distinct from a token bucket (it counts recent events
// in a rolling window rather than refilling a budget at a steady rate),
// though the pattern — a mutex-protected struct with monotonic-clock-driven
// counters keyed by user — mirrors channels.RateLimiter's shape.
type FloodDetector struct {
	mu          sync.Mutex
	window      time.Duration
	maxMessages int
	events      map[string][]time.Time
}

// NewFloodDetector builds a FloodDetector allowing at most maxMessages
// events per key within window (security.flood_window /
// security.flood_max_messages, §6).
func NewFloodDetector(window time.Duration, maxMessages int) *FloodDetector {
	return &FloodDetector{
		window:      window,
		maxMessages: maxMessages,
		events:      make(map[string][]time.Time),
	}
}

// Allow records an event for key at the current time and reports whether
// it falls within the allowed rate. A blocked event is still recorded, so
// a user who keeps sending while blocked doesn't reset their own window.
func (f *FloodDetector) Allow(key string) bool {
	return f.allowAt(key, time.Now())
}

func (f *FloodDetector) allowAt(key string, now time.Time) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	cutoff := now.Add(-f.window)
	events := f.events[key]
	kept := events[:0]
	for _, t := range events {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	f.events[key] = kept

	return len(kept) <= f.maxMessages
}

// Reset clears the tracked history for key, e.g. after an operator
// override or an idle-eviction sweep.
func (f *FloodDetector) Reset(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.events, key)
}
