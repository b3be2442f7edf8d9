// Package limiter guards keyed work against overlapping itself.
package limiter

import (
	"sort"
	"sync"
	"time"
)

// Limiter allows at most one active holder per key and remembers when each
// holder took its slot. The scheduler keys it by job name.
type Limiter struct {
	mu     sync.Mutex
	active map[string]time.Time
	now    func() time.Time
}

// New creates an empty limiter
func New() *Limiter {
	return &Limiter{
		active: make(map[string]time.Time),
		now:    time.Now,
	}
}

// TryAcquire takes the slot for key. Returns false if key is already held.
func (l *Limiter) TryAcquire(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, held := l.active[key]; held {
		return false
	}
	l.active[key] = l.now()
	return true
}

// Release frees the slot for key
func (l *Limiter) Release(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.active, key)
}

// Since returns when key was acquired, and false if it is not held
func (l *Limiter) Since(key string) (time.Time, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	at, held := l.active[key]
	return at, held
}

// Active returns the held keys in sorted order
func (l *Limiter) Active() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	keys := make([]string, 0, len(l.active))
	for k := range l.active {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
