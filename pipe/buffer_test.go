// Copyright 2025 go-tilepipe Authors. SPDX-License-Identifier: Apache-2.0

package pipe

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	blockedFor = 100 * time.Millisecond
	settleIn   = 2 * time.Second
	pollEvery  = time.Millisecond
)

func fillWith(v int) PopulateFunc[int] {
	return func(slot []int) {
		for i := range slot {
			slot[i] = v
		}
	}
}

func countingFill(v int, calls *atomic.Int32) PopulateFunc[int] {
	return func(slot []int) {
		calls.Add(1)
		fillWith(v)(slot)
	}
}

func TestTagRoundTrip(t *testing.T) {
	for _, idx := range []uint64{0, 1, 2, 1 << 40, MaxIndex} {
		for _, s := range []Status{Idle, Populating, Busy} {
			tg := makeTag(idx, s)
			assert.False(t, tg.fresh())
			assert.Equal(t, idx, tg.index())
			assert.Equal(t, s, tg.status())
		}
	}

	var zero tag
	assert.True(t, zero.fresh())
	assert.Equal(t, Idle, zero.status())
	assert.False(t, zero.covers(0))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "populating", Populating.String())
	assert.Equal(t, "busy", Busy.String())
	assert.Equal(t, "Status(7)", Status(7).String())
}

func TestBufferLifecycle(t *testing.T) {
	b := newBuffer(0, make([]int, 4), 2, NopObserver())
	require.Equal(t, Idle, b.Status())

	var calls atomic.Int32
	slot := b.GetOrPopulate(7, countingFill(7, &calls))
	assert.Equal(t, []int{7, 7, 7, 7}, slot)
	assert.Equal(t, Busy, b.Status())
	assert.Equal(t, uint64(7), b.Index())
	assert.Equal(t, 2, b.Outstanding())

	// Second reader takes the lock-free path.
	b.GetOrPopulate(7, countingFill(-1, &calls))
	assert.EqualValues(t, 1, calls.Load())

	b.Release()
	assert.Equal(t, Busy, b.Status())
	b.Release()
	assert.Equal(t, Idle, b.Status())
	assert.Equal(t, uint64(7), b.Index())
}

func TestBufferTryPopulateAlreadyClaimed(t *testing.T) {
	b := newBuffer(0, make([]int, 1), 1, NopObserver())

	var calls atomic.Int32
	b.TryPopulate(3, countingFill(3, &calls))
	require.Equal(t, Busy, b.Status())

	b.TryPopulate(3, countingFill(3, &calls))
	b.GetOrPopulate(3, countingFill(3, &calls))
	assert.EqualValues(t, 1, calls.Load())

	b.Release()
	// A late hint for an epoch that has already drained is a no-op.
	b.TryPopulate(3, countingFill(3, &calls))
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, Idle, b.Status())
}

func TestBufferPopulateRunsOutsideLock(t *testing.T) {
	b := newBuffer(0, make([]int, 1), 2, NopObserver())

	entered := make(chan struct{})
	unblock := make(chan struct{})
	go b.TryPopulate(1, func(slot []int) {
		close(entered)
		<-unblock
		slot[0] = 1
	})
	<-entered

	// A hint for the same index must not wait for the populate to finish.
	hinted := make(chan struct{})
	go func() {
		b.TryPopulate(1, fillWith(-1))
		close(hinted)
	}()
	require.Eventually(t, func() bool {
		select {
		case <-hinted:
			return true
		default:
			return false
		}
	}, settleIn, pollEvery)

	// A reader must wait for it.
	got := make(chan []int, 1)
	go func() { got <- b.GetOrPopulate(1, fillWith(-1)) }()
	require.Never(t, func() bool { return len(got) > 0 }, blockedFor, pollEvery)

	close(unblock)
	assert.Equal(t, []int{1}, <-got)
}

func TestBufferSetNumUsersClamps(t *testing.T) {
	b := newBuffer(0, make([]int, 1), 4, NopObserver())
	assert.Equal(t, 4, b.NumUsers())

	b.SetNumUsers(9)
	assert.Equal(t, 4, b.NumUsers())
	b.SetNumUsers(0)
	assert.Equal(t, 1, b.NumUsers())
	b.SetNumUsers(3)
	assert.Equal(t, 3, b.NumUsers())
	assert.Equal(t, 4, b.MaxUsers())
}

func TestBufferSetNumUsersLeavesClaimedEpoch(t *testing.T) {
	b := newBuffer(0, make([]int, 1), 3, NopObserver())
	b.GetOrPopulate(0, fillWith(0))
	b.SetNumUsers(1)

	b.Release()
	b.Release()
	assert.Equal(t, Busy, b.Status(), "claimed epoch keeps its original user count")
	b.Release()
	assert.Equal(t, Idle, b.Status())

	b.GetOrPopulate(3, fillWith(3))
	assert.Equal(t, 1, b.Outstanding())
	b.Release()
	assert.Equal(t, Idle, b.Status())
}

func TestBufferOverReleasePanics(t *testing.T) {
	b := newBuffer(2, make([]int, 1), 1, NopObserver())
	b.GetOrPopulate(5, fillWith(5))
	b.Release()
	assert.PanicsWithValue(t, "pipe: buffer 2 released more times than its 1 users (index 5)", b.Release)
}

// Waiters for different conditions share one cond; a recycle must wake the
// hint waiting on a newer index as well as any reader.
func TestBufferBroadcastWakesAllWaiters(t *testing.T) {
	b := newBuffer(0, make([]int, 1), 2, NopObserver())
	b.GetOrPopulate(0, fillWith(0))
	b.GetOrPopulate(0, fillWith(0))

	var wg sync.WaitGroup
	var populated atomic.Int32
	results := make([][]int, 4)
	for i := range results {
		wg.Go(func() {
			if i%2 == 0 {
				b.TryPopulate(3, countingFill(3, &populated))
				return
			}
			s := b.GetOrPopulate(3, countingFill(3, &populated))
			results[i] = append([]int(nil), s...)
			b.Release()
		})
	}

	time.Sleep(blockedFor)
	assert.Equal(t, Busy, b.Status())
	assert.Equal(t, uint64(0), b.Index())

	b.Release()
	b.Release()
	wg.Wait()

	assert.EqualValues(t, 1, populated.Load())
	assert.Equal(t, []int{3}, results[1])
	assert.Equal(t, []int{3}, results[3])
	assert.Equal(t, Idle, b.Status())
}
