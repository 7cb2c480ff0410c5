package guard

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquire_SecondAttemptFails(t *testing.T) {
	g := New()

	lock, ok := g.TryAcquire("u1")
	require.True(t, ok)
	assert.Equal(t, "u1", lock.UserID())

	_, ok = g.TryAcquire("u1")
	assert.False(t, ok, "user must not be acquired twice")

	other, ok := g.TryAcquire("u2")
	require.True(t, ok, "different users are independent")
	other.Release()

	lock.Release()
	assert.False(t, g.Held("u1"))

	again, ok := g.TryAcquire("u1")
	require.True(t, ok, "released user can be acquired again")
	again.Release()
}

func TestRelease_Idempotent(t *testing.T) {
	g := New()

	first, ok := g.TryAcquire("u1")
	require.True(t, ok)
	first.Release()

	second, ok := g.TryAcquire("u1")
	require.True(t, ok)

	// A stale double release must not free the new holder's claim.
	first.Release()
	assert.True(t, g.Held("u1"))

	second.Release()
	second.Release()
	assert.Equal(t, 0, g.Len())

	var nilLock *Lock
	assert.NotPanics(t, func() { nilLock.Release() })
}

func TestTryAcquire_Concurrent(t *testing.T) {
	g := New()

	var wins atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	locks := make(chan *Lock, 50)

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if l, ok := g.TryAcquire("u1"); ok {
				wins.Add(1)
				locks <- l
			}
		}()
	}
	close(start)
	wg.Wait()
	close(locks)

	assert.Equal(t, int32(1), wins.Load())
	for l := range locks {
		l.Release()
	}
	assert.Equal(t, 0, g.Len())
}
