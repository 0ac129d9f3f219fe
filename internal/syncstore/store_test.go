package syncstore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestStore(clk *fakeClock) *Store {
	return New(Config{FreshFor: time.Minute, Now: clk.Now})
}

func TestQueryGet_FirstFetchBlocksThenCaches(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	s := newTestStore(clk)

	var calls atomic.Int64
	q := NewQuery(s, KeyOf("cart", "list", "u1"), func(ctx context.Context) ([]int, error) {
		calls.Add(1)
		return []int{1, 2}, nil
	})

	v, err := q.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, v)
	assert.EqualValues(t, 1, calls.Load())

	clk.Advance(30 * time.Second)

	v, err = q.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, v)
	assert.EqualValues(t, 1, calls.Load(), "fresh value must not refetch")
}

func TestQueryGet_StaleServesCachedWhileRevalidating(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	s := newTestStore(clk)

	var calls atomic.Int64
	q := NewQuery(s, KeyOf("products", "detail", "p1"), func(ctx context.Context) (int, error) {
		return int(calls.Add(1)), nil
	})

	v, err := q.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	clk.Advance(2 * time.Minute)

	v, err = q.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, v, "stale read returns the cached value immediately")

	require.Eventually(t, func() bool {
		got, ok := q.Peek()
		return ok && got == 2
	}, time.Second, 5*time.Millisecond, "background revalidation must land")
}

func TestQueryGet_RetriesOnceThenSurfacesError(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	s := newTestStore(clk)

	boom := errors.New("store unavailable")
	var calls atomic.Int64
	q := NewQuery(s, KeyOf("cart", "list", "u1"), func(ctx context.Context) (int, error) {
		calls.Add(1)
		return 0, boom
	})

	_, err := q.Get(context.Background())
	require.ErrorIs(t, err, boom)
	assert.EqualValues(t, 2, calls.Load(), "a failed fetch is retried exactly once")

	_, ok := q.Peek()
	assert.False(t, ok, "errors are never cached")
}

func TestQueryGet_RecoversAfterFailedFetch(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	s := newTestStore(clk)

	var calls atomic.Int64
	q := NewQuery(s, KeyOf("cart", "list", "u1"), func(ctx context.Context) (int, error) {
		if calls.Add(1) <= 2 {
			return 0, errors.New("transient")
		}
		return 7, nil
	})

	_, err := q.Get(context.Background())
	require.Error(t, err)

	v, err := q.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestStore_EvictsIdleEntries(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	s := newTestStore(clk)

	qa := NewQuery(s, KeyOf("cart", "list", "a"), func(ctx context.Context) (int, error) { return 1, nil })
	qb := NewQuery(s, KeyOf("cart", "list", "b"), func(ctx context.Context) (int, error) { return 2, nil })

	_, err := qa.Get(context.Background())
	require.NoError(t, err)

	// Past the 5x retention window without a read.
	clk.Advance(6 * time.Minute)

	_, err = qb.Get(context.Background())
	require.NoError(t, err)

	_, ok := qa.Peek()
	assert.False(t, ok, "idle entry must be evicted")
	assert.Equal(t, 1, s.Len())
}

func TestInvalidate_OnlyMatchingKeysRefetch(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	s := newTestStore(clk)

	var cartCalls, prodCalls atomic.Int64
	cart := NewQuery(s, KeyOf("cart", "list", "u1"), func(ctx context.Context) (int64, error) {
		return cartCalls.Add(1), nil
	})
	prod := NewQuery(s, KeyOf("products", "list", "u1", "1", "All"), func(ctx context.Context) (int64, error) {
		return prodCalls.Add(1), nil
	})

	_, err := cart.Get(context.Background())
	require.NoError(t, err)
	_, err = prod.Get(context.Background())
	require.NoError(t, err)

	s.Invalidate(Prefix("cart/"))

	_, err = cart.Get(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		v, ok := cart.Peek()
		return ok && v == 2
	}, time.Second, 5*time.Millisecond)

	v, err := prod.Get(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, v, "unrelated keys stay untouched")
}

func TestMutateOptimistic_RollbackRestoresSnapshot(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	s := newTestStore(clk)

	q := NewQuery(s, KeyOf("cart", "list", "u1"), func(ctx context.Context) ([]int, error) {
		return []int{1, 2, 3}, nil
	})
	_, err := q.Get(context.Background())
	require.NoError(t, err)

	boom := errors.New("write failed")
	err = s.MutateOptimistic(context.Background(),
		[]Patch{PatchQuery(q, func(old []int) []int {
			out := append([]int(nil), old...)
			out[1] = 9
			return out
		})},
		func(ctx context.Context) error { return boom },
		Prefix("cart/"),
	)
	require.ErrorIs(t, err, boom)

	v, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, []int{1, 2, 3}, v, "cache reverts exactly to the pre-mutation snapshot")
}

func TestMutateOptimistic_PatchVisibleBeforeOpCompletes(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	s := newTestStore(clk)

	q := NewQuery(s, KeyOf("cart", "list", "u1"), func(ctx context.Context) (int, error) { return 10, nil })
	_, err := q.Get(context.Background())
	require.NoError(t, err)

	err = s.MutateOptimistic(context.Background(),
		[]Patch{PatchQuery(q, func(old int) int { return old + 1 })},
		func(ctx context.Context) error {
			v, ok := q.Peek()
			require.True(t, ok)
			assert.Equal(t, 11, v, "patch is applied before the store call runs")
			return nil
		},
		func(Key) bool { return false },
	)
	require.NoError(t, err)
}

func TestMutateOptimistic_OverlappingMutationsLastPatchWins(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	s := newTestStore(clk)

	q := NewQuery(s, KeyOf("cart", "list", "u1"), func(ctx context.Context) (int, error) { return 7, nil })
	_, err := q.Get(context.Background())
	require.NoError(t, err)

	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- s.MutateOptimistic(context.Background(),
			[]Patch{PatchQuery(q, func(old int) int { return old + 10 })},
			func(ctx context.Context) error {
				<-release
				return nil
			},
			Prefix("cart/"),
		)
	}()

	require.Eventually(t, func() bool {
		v, ok := q.Peek()
		return ok && v == 17
	}, time.Second, time.Millisecond, "the first patch lands before its store call resolves")

	// A second mutation on the same key while the first is in flight.
	err = s.MutateOptimistic(context.Background(),
		[]Patch{PatchQuery(q, func(int) int { return 100 })},
		func(ctx context.Context) error { return nil },
		Prefix("cart/"),
	)
	require.NoError(t, err)

	v, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, 100, v, "the later patch is visible, not a blend of both")

	close(release)
	require.NoError(t, <-done)

	v, ok = q.Peek()
	require.True(t, ok)
	assert.Equal(t, 100, v, "the first mutation completing must not clobber the later patch")

	// The authoritative refetch, not either patch, settles the value.
	_, err = q.Get(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, ok := q.Peek()
		return ok && got == 7
	}, time.Second, time.Millisecond)
}

func TestRestore_RecreatedEntryIsStillEvictable(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	s := newTestStore(clk)

	q := NewQuery(s, KeyOf("cart", "list", "u1"), func(ctx context.Context) (int, error) { return 1, nil })
	_, err := q.Get(context.Background())
	require.NoError(t, err)

	release := make(chan struct{})
	boom := errors.New("write failed")
	done := make(chan error, 1)
	go func() {
		done <- s.MutateOptimistic(context.Background(),
			[]Patch{PatchQuery(q, func(old int) int { return old + 1 })},
			func(ctx context.Context) error {
				<-release
				return boom
			},
			Prefix("cart/"),
		)
	}()

	require.Eventually(t, func() bool {
		v, ok := q.Peek()
		return ok && v == 2
	}, time.Second, time.Millisecond)

	// The entry vanishes while the mutation is in flight, so the rollback
	// has to recreate it from the snapshot.
	s.Drop(Prefix("cart/"))

	close(release)
	require.ErrorIs(t, <-done, boom)

	v, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, 1, v)

	clk.Advance(6 * time.Minute)

	other := NewQuery(s, KeyOf("cart", "list", "u2"), func(ctx context.Context) (int, error) { return 2, nil })
	_, err = other.Get(context.Background())
	require.NoError(t, err)

	_, ok = q.Peek()
	assert.False(t, ok, "a rolled-back entry ages out like any other")
	assert.Equal(t, 1, s.Len())
}

func TestMutate_SuccessInvalidatesMatchingKeys(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	s := newTestStore(clk)

	var calls atomic.Int64
	q := NewQuery(s, KeyOf("cart", "list", "u1"), func(ctx context.Context) (int64, error) {
		return calls.Add(1), nil
	})
	_, err := q.Get(context.Background())
	require.NoError(t, err)

	err = s.Mutate(context.Background(), func(ctx context.Context) error { return nil }, Prefix("cart/"))
	require.NoError(t, err)

	_, err = q.Get(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		v, ok := q.Peek()
		return ok && v == 2
	}, time.Second, 5*time.Millisecond)
}

func TestSequence_SupersededFetchIsDiscarded(t *testing.T) {
	t.Parallel()

	clk := newFakeClock()
	s := newTestStore(clk)

	release := make(chan struct{})
	var calls atomic.Int64
	q := NewQuery(s, KeyOf("products", "list", "u1", "1", "All"), func(ctx context.Context) (int, error) {
		if calls.Add(1) > 1 {
			<-release
			return 100, nil
		}
		return 1, nil
	})

	_, err := q.Get(context.Background())
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)

	// Triggers a background revalidation that parks on the channel.
	_, err = q.Get(context.Background())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)

	// A later optimistic patch bumps the key's sequence.
	err = s.MutateOptimistic(context.Background(),
		[]Patch{PatchQuery(q, func(int) int { return 42 })},
		func(ctx context.Context) error { return nil },
		func(Key) bool { return false },
	)
	require.NoError(t, err)

	close(release)

	// The parked response was issued before the patch and must be dropped.
	time.Sleep(50 * time.Millisecond)
	v, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, 42, v)
}
