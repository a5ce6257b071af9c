package abuse

import (
	"sync"
	"time"
)

const (
	repeatThreshold = 30 * time.Second
	entryMaxAge     = time.Hour
)

// RecentAttempts tracks the last request time per phone in process memory.
// Single-instance best effort only; the per-phone rate limit is the
// cross-instance backstop.
type RecentAttempts struct {
	mu   sync.Mutex
	now  func() time.Time
	seen map[string]time.Time
}

func NewRecentAttempts() *RecentAttempts {
	return NewRecentAttemptsWithClock(time.Now)
}

func NewRecentAttemptsWithClock(now func() time.Time) *RecentAttempts {
	return &RecentAttempts{
		now:  now,
		seen: make(map[string]time.Time),
	}
}

// TooSoon records an attempt for phone and reports whether the previous
// attempt was within the repeat threshold.
func (r *RecentAttempts) TooSoon(phone string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	last, ok := r.seen[phone]
	r.seen[phone] = now
	return ok && now.Sub(last) < repeatThreshold
}

// Prune drops entries older than the max age so the map cannot grow without
// bound.
func (r *RecentAttempts) Prune(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for phone, last := range r.seen {
		if now.Sub(last) > entryMaxAge {
			delete(r.seen, phone)
		}
	}
}

// StartPruning prunes on a background ticker until stop is closed.
func (r *RecentAttempts) StartPruning(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Prune(r.now())
			case <-stop:
				return
			}
		}
	}()
}

// Len reports the number of tracked phones.
func (r *RecentAttempts) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seen)
}
