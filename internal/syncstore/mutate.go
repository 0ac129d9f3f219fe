package syncstore

import (
	"context"
	"time"
)

// Patch is an optimistic local edit of one cached value, mirroring the
// effect the store call is expected to have. Apply must build a new value
// rather than mutate old in place: the snapshot taken for rollback aliases
// the old value.
type Patch struct {
	Key   Key
	Apply func(old any) any
}

// PatchQuery builds a typed patch for a query's key.
func PatchQuery[T any](q *Query[T], apply func(T) T) Patch {
	return Patch{
		Key: q.key,
		Apply: func(old any) any {
			return apply(old.(T))
		},
	}
}

type snapState struct {
	key       Key
	value     any
	hasValue  bool
	stale     bool
	fetchedAt time.Time
	seq       uint64
}

// Mutate runs op and, on success, marks every matching cached key stale so
// the next read refetches the authoritative state. On failure nothing is
// committed and the error is returned unchanged.
func (s *Store) Mutate(ctx context.Context, op func(context.Context) error, pred func(Key) bool) error {
	if err := op(ctx); err != nil {
		return err
	}
	s.Invalidate(pred)
	return nil
}

// MutateOptimistic snapshots the patched keys, applies the patches
// synchronously, then runs op. On success the matching keys are invalidated
// for an authoritative refetch; on failure every snapshot is restored
// exactly. Concurrent optimistic patches on one key are not coalesced; the
// last patch wins until a refetch lands.
func (s *Store) MutateOptimistic(ctx context.Context, patches []Patch, op func(context.Context) error, pred func(Key) bool) error {
	snap := s.applyPatches(patches)

	if err := op(ctx); err != nil {
		s.restore(snap)
		return err
	}

	s.Invalidate(pred)
	return nil
}

// applyPatches edits cached values in place and bumps each key's sequence so
// that fetch responses issued before the patch cannot overwrite it.
// Keys with no cached value are skipped; there is nothing to patch or roll
// back for them.
func (s *Store) applyPatches(patches []Patch) []snapState {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := make([]snapState, 0, len(patches))
	for _, p := range patches {
		e, ok := s.entries[p.Key]
		if !ok || !e.hasValue {
			continue
		}
		snap = append(snap, snapState{
			key:       p.Key,
			value:     e.value,
			hasValue:  e.hasValue,
			stale:     e.stale,
			fetchedAt: e.fetchedAt,
			seq:       e.seq,
		})
		e.value = p.Apply(e.value)
		e.seq++
	}
	return snap
}

func (s *Store) restore(snap []snapState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range snap {
		e, ok := s.entries[st.key]
		if !ok {
			// A recreated entry needs a read stamp or idle eviction
			// would never reclaim it.
			e = &entry{lastRead: s.now()}
			s.entries[st.key] = e
		}
		e.value = st.value
		e.hasValue = st.hasValue
		e.stale = st.stale
		e.fetchedAt = st.fetchedAt
		e.seq = st.seq
	}
}
