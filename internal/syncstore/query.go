package syncstore

import "context"

// FetchFunc loads the authoritative value for a key from the backing store.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// Query is a typed read handle over one cache key. A given key must always
// be read through queries of the same value type.
type Query[T any] struct {
	store *Store
	key   Key
	fetch FetchFunc[T]
}

func NewQuery[T any](s *Store, key Key, fetch FetchFunc[T]) *Query[T] {
	return &Query[T]{store: s, key: key, fetch: fetch}
}

func (q *Query[T]) Key() Key { return q.key }

// Get returns the cached value when it is fresh. A stale cached value is
// returned immediately while a background refetch revalidates it. With no
// cached value the call blocks on the first fetch. A failed fetch is retried
// once before the error is surfaced; errors are never cached.
func (q *Query[T]) Get(ctx context.Context) (T, error) {
	s := q.store
	now := s.now()

	s.mu.Lock()
	s.evictIdleLocked(now)
	e := s.entryLocked(q.key)
	e.lastRead = now

	if e.hasValue {
		fresh := !e.stale && now.Sub(e.fetchedAt) < s.freshFor
		if !fresh && !e.fetching {
			e.fetching = true
			e.seq++
			go q.revalidate(e.seq)
		}
		v := e.value.(T)
		s.mu.Unlock()
		return v, nil
	}

	e.seq++
	seq := e.seq
	s.mu.Unlock()

	v, err := q.fetchWithRetry(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	s.mu.Lock()
	q.applyLocked(seq, v)
	s.mu.Unlock()
	return v, nil
}

// Peek returns the cached value without fetching or revalidating.
func (q *Query[T]) Peek() (T, bool) {
	s := q.store
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[q.key]
	if !ok || !e.hasValue {
		var zero T
		return zero, false
	}
	return e.value.(T), true
}

func (q *Query[T]) fetchWithRetry(ctx context.Context) (T, error) {
	v, err := q.fetch(ctx)
	if err == nil {
		return v, nil
	}
	return q.fetch(ctx)
}

// revalidate runs outside any request; in-flight requests are never
// cancelled when the reader that triggered them goes away.
func (q *Query[T]) revalidate(seq uint64) {
	v, err := q.fetchWithRetry(context.Background())

	s := q.store
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[q.key]
	if !ok {
		return
	}
	e.fetching = false
	if err != nil {
		// Leave the stale value in place; the next read retries.
		e.stale = true
		return
	}
	q.applyLocked(seq, v)
}

// applyLocked installs a fetch result unless a later fetch or optimistic
// patch has been issued for the key since, in which case the superseded
// response is discarded.
func (q *Query[T]) applyLocked(seq uint64, v T) {
	e, ok := q.store.entries[q.key]
	if !ok || e.seq != seq {
		return
	}
	e.value = v
	e.hasValue = true
	e.stale = false
	e.fetchedAt = q.store.now()
}
