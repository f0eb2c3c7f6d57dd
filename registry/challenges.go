package registry

import (
	"sync"
	"time"

	"github.com/quicklock/lock-pairing-backend/interfaces"
)

type challengeEntry[T any] struct {
	value    T
	storedAt time.Time
}

// ChallengeCache implements interfaces.ChallengeStore with an in-memory map.
// Entries expire after the configured TTL; expired entries are treated as
// absent and swept opportunistically on insert.
type ChallengeCache[T any] struct {
	mu      sync.Mutex
	entries map[interfaces.ChallengeID]challengeEntry[T]
	ttl     time.Duration
	now     func() time.Time
}

// NewChallengeCache creates a challenge store whose entries expire after ttl.
func NewChallengeCache[T any](ttl time.Duration) *ChallengeCache[T] {
	return &ChallengeCache[T]{
		entries: make(map[interfaces.ChallengeID]challengeEntry[T]),
		ttl:     ttl,
		now:     time.Now,
	}
}

// WithClock overrides the time source used for expiry.
func (c *ChallengeCache[T]) WithClock(now func() time.Time) *ChallengeCache[T] {
	c.now = now
	return c
}

// PutIfAbsent inserts the value if no live entry exists for the ID. Reports
// whether the insert happened.
func (c *ChallengeCache[T]) PutIfAbsent(id interfaces.ChallengeID, value T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.entries {
		if now.Sub(entry.storedAt) > c.ttl {
			delete(c.entries, key)
		}
	}

	if _, exists := c.entries[id]; exists {
		return false
	}
	c.entries[id] = challengeEntry[T]{value: value, storedAt: now}
	return true
}

// Get returns the value without consuming it.
func (c *ChallengeCache[T]) Get(id interfaces.ChallengeID) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveLocked(id)
}

// Take removes and returns the value. At most one concurrent caller observes
// ok == true for a given ID.
func (c *ChallengeCache[T]) Take(id interfaces.ChallengeID) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	value, ok := c.liveLocked(id)
	if ok {
		delete(c.entries, id)
	}
	return value, ok
}

// Delete removes the value if present.
func (c *ChallengeCache[T]) Delete(id interfaces.ChallengeID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// liveLocked looks up an entry and expires it in place if stale. Caller holds
// the lock.
func (c *ChallengeCache[T]) liveLocked(id interfaces.ChallengeID) (T, bool) {
	entry, ok := c.entries[id]
	if !ok {
		var zero T
		return zero, false
	}
	if c.now().Sub(entry.storedAt) > c.ttl {
		delete(c.entries, id)
		var zero T
		return zero, false
	}
	return entry.value, true
}
