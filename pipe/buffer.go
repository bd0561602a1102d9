// Copyright 2025 go-tilepipe Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipe

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// PopulateFunc fills a slot with the content of one epoch. It runs outside
// every buffer lock and may be called concurrently with populate callbacks
// for other indices, so it must not share unsynchronized state across calls.
type PopulateFunc[T any] func(slot []T)

// Buffer serializes access to one slot across an unbounded sequence of
// epochs: one populate phase followed by up to numUsers concurrent readers.
//
// The (index, status) pair lives in a single atomic word. It is only ever
// written with mu held, which lets the fast paths read it without the lock
// while every decision that mutates state is re-made under the lock.
type Buffer[T any] struct {
	mu    sync.Mutex
	cond  sync.Cond
	state atomic.Uint64 // tag

	// outstanding is set from numUsers at the claim and counted down by
	// Release. The goroutine that reaches zero owns the Busy->Idle transition.
	outstanding atomic.Int64
	numUsers    atomic.Int32
	maxUsers    int

	id   int
	data []T
	obs  Observer
}

func newBuffer[T any](id int, data []T, maxUsers int, obs Observer) *Buffer[T] {
	b := &Buffer[T]{
		id:       id,
		data:     data,
		maxUsers: maxUsers,
		obs:      obs,
	}
	b.cond.L = &b.mu
	b.numUsers.Store(int32(maxUsers))
	return b
}

func (b *Buffer[T]) load() tag { return tag(b.state.Load()) }

// store must be called with b.mu held.
func (b *Buffer[T]) store(t tag) { b.state.Store(uint64(t)) }

// TryPopulate populates the buffer for index unless another goroutine has
// already claimed it. If the buffer still holds an older index, TryPopulate
// waits for that epoch to drain first. It never reads the content.
func (b *Buffer[T]) TryPopulate(index uint64, populate PopulateFunc[T]) {
	if b.load().covers(index) {
		return
	}
	if b.await(index, false) {
		b.fill(index, populate)
	}
}

// GetOrPopulate blocks until the buffer is Busy for index and returns its
// slot. If nobody has claimed the index yet, the caller populates it inline.
// Every successful call must be matched by exactly one Release.
func (b *Buffer[T]) GetOrPopulate(index uint64, populate PopulateFunc[T]) []T {
	if b.load() == makeTag(index, Busy) {
		return b.data
	}
	if b.await(index, true) {
		b.fill(index, populate)
	}
	return b.data
}

// await parks until the caller can either claim the buffer for index, in
// which case it reports true, or has nothing left to wait for. A reader
// (needBusy) is done once index is Busy; a populate hint is done as soon as
// index has been claimed by anyone.
func (b *Buffer[T]) await(index uint64, needBusy bool) (claimed bool) {
	var parked time.Time

	b.mu.Lock()
	for {
		t := b.load()
		if needBusy {
			if t == makeTag(index, Busy) {
				break
			}
		} else if t.covers(index) {
			break
		}
		if t.status() == Idle {
			b.outstanding.Store(int64(b.numUsers.Load()))
			b.store(makeTag(index, Populating))
			claimed = true
			break
		}
		if parked.IsZero() {
			parked = time.Now()
		}
		b.cond.Wait()
	}
	b.mu.Unlock()

	if !parked.IsZero() {
		b.obs.Waited(b.id, index, time.Since(parked))
	}
	return claimed
}

// fill runs populate for a claimed index and publishes the result.
func (b *Buffer[T]) fill(index uint64, populate PopulateFunc[T]) {
	b.obs.Claimed(b.id, index)
	start := time.Now()

	populate(b.data)

	b.mu.Lock()
	b.store(makeTag(index, Busy))
	b.mu.Unlock()
	b.cond.Broadcast()

	b.obs.Populated(b.id, index, time.Since(start))
}

// Release drops one reader's claim on the current epoch. The last release
// returns the buffer to Idle and wakes every waiter, since waiters may be
// blocked on different conditions.
//
// Releasing more times than the epoch has users is a caller bug and panics.
func (b *Buffer[T]) Release() {
	left := b.outstanding.Add(-1)
	if left > 0 {
		return
	}
	if left < 0 {
		panic(fmt.Sprintf("pipe: buffer %d released more times than its %d users (index %d)",
			b.id, b.numUsers.Load(), b.load().index()))
	}

	// Only the goroutine that reached zero may touch the state until it is
	// Idle again, so the index can be read before taking the lock.
	index := b.load().index()
	b.obs.Recycled(b.id, index)

	b.mu.Lock()
	b.store(makeTag(index, Idle))
	b.mu.Unlock()
	b.cond.Broadcast()
}

// SetNumUsers sets how many releases the next epoch requires, clamped to
// [1, maxUsers]. An epoch that is already claimed keeps its count.
func (b *Buffer[T]) SetNumUsers(n int) {
	n = min(max(n, 1), b.maxUsers)
	b.numUsers.Store(int32(n))
}

// NumUsers returns the user count the next claim will apply.
func (b *Buffer[T]) NumUsers() int { return int(b.numUsers.Load()) }

// MaxUsers returns the fixed upper bound on concurrent readers.
func (b *Buffer[T]) MaxUsers() int { return b.maxUsers }

// Status returns a snapshot of the buffer phase.
func (b *Buffer[T]) Status() Status { return b.load().status() }

// Index returns a snapshot of the epoch the buffer last held or holds.
func (b *Buffer[T]) Index() uint64 { return b.load().index() }

// Outstanding returns how many releases the current epoch still expects.
func (b *Buffer[T]) Outstanding() int { return int(b.outstanding.Load()) }
