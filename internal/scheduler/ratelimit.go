package scheduler

import (
	"sync"
	"time"
)

// Service names templates consume quota under.
const (
	ServiceEmail   = "email"
	ServiceTwitter = "twitter"
	ServiceSearch  = "search"
	ServiceMedia   = "media"
)

// DefaultQuotas is the per-hour allowance for each external service.
var DefaultQuotas = map[string]int{
	ServiceEmail:   20,
	ServiceTwitter: 10,
	ServiceSearch:  60,
	ServiceMedia:   6,
}

// Limiter tracks sliding-window quotas for external services. Templates
// check Allow before doing external work and Consume only when the work
// actually happens, so a short-circuited run never costs quota.
type Limiter struct {
	mu     sync.Mutex
	window time.Duration
	quotas map[string]int
	used   map[string][]time.Time
	now    func() time.Time
}

// NewLimiter creates a limiter over the given window. Nil quotas means
// DefaultQuotas; a service with no quota entry is unlimited.
func NewLimiter(window time.Duration, quotas map[string]int) *Limiter {
	if window <= 0 {
		window = time.Hour
	}
	if quotas == nil {
		quotas = DefaultQuotas
	}
	return &Limiter{
		window: window,
		quotas: quotas,
		used:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow reports whether one more use of the service fits the window.
func (l *Limiter) Allow(service string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.remaining(service) > 0
}

// Consume records one use. It returns false (recording nothing) when the
// quota is already exhausted.
func (l *Limiter) Consume(service string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.remaining(service) <= 0 {
		return false
	}
	l.used[service] = append(l.used[service], l.now())
	return true
}

// Snapshot returns the remaining allowance per quota-limited service.
func (l *Limiter) Snapshot() map[string]int {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]int, len(l.quotas))
	for service := range l.quotas {
		out[service] = l.remaining(service)
	}
	return out
}

// remaining is called with the lock held. It also prunes expired uses.
func (l *Limiter) remaining(service string) int {
	quota, limited := l.quotas[service]
	if !limited {
		return 1 << 30
	}
	cutoff := l.now().Add(-l.window)
	live := l.used[service][:0]
	for _, t := range l.used[service] {
		if t.After(cutoff) {
			live = append(live, t)
		}
	}
	l.used[service] = live
	return quota - len(live)
}
