// Package cache provides the TTL-checked key/value stores used by the
// triage pipeline. Expiry is lazy: an entry is only judged stale when read,
// there is no janitor goroutine sweeping the map.
package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Clock returns the current time. Tests replace it to step over TTL edges.
type Clock func() time.Time

// Entry is a stored value together with the moment it was written
type Entry[V any] struct {
	Value     V
	Timestamp time.Time
}

// Option configures a Store
type Option func(*options)

type options struct {
	now Clock
}

// WithClock overrides time.Now for the store
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.now = c
		}
	}
}

// Store is a named key -> (value, timestamp) map with a single TTL.
// The underlying go-cache map serializes access per operation, so concurrent
// readers and writers never corrupt it. Read-modify-write sequences across
// two calls are not atomic.
type Store[V any] struct {
	name  string
	ttl   time.Duration
	items *gocache.Cache
	now   Clock
}

// New creates a store. go-cache's own expiration is disabled (NoExpiration,
// no cleanup interval) because validity is decided here against ttl.
func New[V any](name string, ttl time.Duration, opts ...Option) *Store[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Store[V]{
		name:  name,
		ttl:   ttl,
		items: gocache.New(gocache.NoExpiration, 0),
		now:   o.now,
	}
}

// Get returns the value for key if it was written less than ttl ago.
// Missing and expired entries are both reported as absent.
func (s *Store[V]) Get(key string) (V, bool) {
	entry, ok := s.GetEntry(key)
	if !ok {
		var zero V
		return zero, false
	}
	return entry.Value, true
}

// GetEntry is Get that also exposes the write timestamp
func (s *Store[V]) GetEntry(key string) (Entry[V], bool) {
	raw, found := s.items.Get(key)
	if !found {
		return Entry[V]{}, false
	}
	entry, ok := raw.(Entry[V])
	if !ok {
		return Entry[V]{}, false
	}
	if s.now().Sub(entry.Timestamp) >= s.ttl {
		s.items.Delete(key)
		return Entry[V]{}, false
	}
	return entry, true
}

// Put overwrites key unconditionally and stamps the current time
func (s *Store[V]) Put(key string, value V) {
	s.items.Set(key, Entry[V]{Value: value, Timestamp: s.now()}, gocache.NoExpiration)
}

// Delete drops key if present
func (s *Store[V]) Delete(key string) {
	s.items.Delete(key)
}

// Len counts stored entries, including ones that are stale but not yet read
func (s *Store[V]) Len() int {
	return s.items.ItemCount()
}

// Flush removes every entry
func (s *Store[V]) Flush() {
	s.items.Flush()
}

func (s *Store[V]) Name() string       { return s.name }
func (s *Store[V]) TTL() time.Duration { return s.ttl }
