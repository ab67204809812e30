package craftcord

import (
	"sync"
	"time"
)

type limiterEntry struct {
	// grants holds the times of the grants inside the current window,
	// oldest first
	grants   []time.Time
	lastSeen time.Time
}

// keyedLimiter allows each key (user ID) at most perWindow events in
// any rolling window
type keyedLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	perWindow int
	window    time.Duration
	now       func() time.Time
}

func newKeyedLimiter(window time.Duration, perWindow int) *keyedLimiter {
	if perWindow < 1 {
		perWindow = 1
	}
	return &keyedLimiter{
		limiters:  map[string]*limiterEntry{},
		perWindow: perWindow,
		window:    window,
		now:       time.Now,
	}
}

// Allow reports whether key may act now, recording the grant if so
func (k *keyedLimiter) Allow(key string) bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	now := k.now()
	e, ok := k.limiters[key]
	if !ok {
		e = &limiterEntry{grants: make([]time.Time, 0, k.perWindow)}
		k.limiters[key] = e
	}
	e.lastSeen = now

	expired := 0
	for _, t := range e.grants {
		if now.Sub(t) < k.window {
			break
		}
		expired++
	}
	e.grants = append(e.grants[:0], e.grants[expired:]...)
	if len(e.grants) >= k.perWindow {
		return false
	}
	e.grants = append(e.grants, now)
	return true
}

// Prune drops limiters idle for longer than a window, which hold no
// grants and are equivalent to a new one
func (k *keyedLimiter) Prune() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	now := k.now()
	pruned := 0
	for key, e := range k.limiters {
		if now.Sub(e.lastSeen) > k.window {
			delete(k.limiters, key)
			pruned++
		}
	}
	return pruned
}

func (k *keyedLimiter) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.limiters)
}
