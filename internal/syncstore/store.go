// Package syncstore keeps a process-wide cache of query results keyed by
// resource identity. Reads are served stale-while-revalidate, mutations
// invalidate matching keys, and optimistic mutations patch cached values
// ahead of the store call with snapshot rollback on failure.
package syncstore

import (
	"strings"
	"sync"
	"time"
)

const (
	DefaultFreshFor    = 60 * time.Second
	retainToFreshRatio = 5
)

// Key identifies one cached collection, built from the entity name and its
// filters, e.g. "cart/list/<user>" or "products/list/<user>/<page>/<cat>".
type Key string

func KeyOf(parts ...string) Key {
	return Key(strings.Join(parts, "/"))
}

// Prefix matches every key under the given namespace.
func Prefix(prefix Key) func(Key) bool {
	return func(k Key) bool {
		return strings.HasPrefix(string(k), string(prefix))
	}
}

type Config struct {
	// FreshFor is how long a fetched value is served without revalidation.
	FreshFor time.Duration
	// RetainFor is how long an entry survives without being read.
	// Defaults to 5x FreshFor.
	RetainFor time.Duration
	// Now is the clock, overridable in tests.
	Now func() time.Time
}

type Store struct {
	mu      sync.Mutex
	entries map[Key]*entry

	freshFor  time.Duration
	retainFor time.Duration
	now       func() time.Time
}

type entry struct {
	value     any
	hasValue  bool
	stale     bool
	fetchedAt time.Time
	lastRead  time.Time

	// seq is bumped on every issued fetch and every optimistic patch; a
	// completing fetch is applied only while it is still the latest.
	seq      uint64
	fetching bool
}

func New(cfg Config) *Store {
	if cfg.FreshFor <= 0 {
		cfg.FreshFor = DefaultFreshFor
	}
	if cfg.RetainFor <= 0 {
		cfg.RetainFor = cfg.FreshFor * retainToFreshRatio
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{
		entries:   make(map[Key]*entry),
		freshFor:  cfg.FreshFor,
		retainFor: cfg.RetainFor,
		now:       cfg.Now,
	}
}

// Invalidate marks every matching key stale; the next read refetches.
// Distinct keys are independent: nothing is invalidated transitively.
func (s *Store) Invalidate(pred func(Key) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, e := range s.entries {
		if pred(k) {
			e.stale = true
		}
	}
}

// Drop removes every matching key outright.
func (s *Store) Drop(pred func(Key) bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.entries {
		if pred(k) {
			delete(s.entries, k)
		}
	}
}

// Keys lists the retained keys matching pred.
func (s *Store) Keys(pred func(Key) bool) []Key {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []Key
	for k := range s.entries {
		if pred(k) {
			keys = append(keys, k)
		}
	}
	return keys
}

// Len reports how many entries are currently retained.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) entryLocked(k Key) *entry {
	e, ok := s.entries[k]
	if !ok {
		e = &entry{}
		s.entries[k] = e
	}
	return e
}

// evictIdleLocked drops entries that have not been read within the
// retention window. Runs on every access, so eviction needs no janitor.
func (s *Store) evictIdleLocked(now time.Time) {
	for k, e := range s.entries {
		if !e.lastRead.IsZero() && now.Sub(e.lastRead) > s.retainFor {
			delete(s.entries, k)
		}
	}
}
