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

import "fmt"

// PoolSize is the number of buffers a multi-threaded Manager rotates
// through: one being read, one being populated, one draining.
const PoolSize = 3

// StorageRequirement returns the number of elements of backing storage a
// Manager needs for the given concurrency and per-block size.
func StorageRequirement(maxThreads, blockSize int) int {
	if maxThreads == 1 {
		return blockSize
	}
	return PoolSize * blockSize
}

// Option configures a Manager.
type Option func(*options)

type options struct {
	observer Observer
}

// WithObserver routes buffer lifecycle events to o.
func WithObserver(o Observer) Option {
	return func(opts *options) {
		if o != nil {
			opts.observer = o
		}
	}
}

// Manager routes epoch-indexed populate/read/release requests to a fixed
// pool of buffers sharing one backing allocation.
//
// With maxThreads == 1 no synchronization takes place: TryPopulate and
// Release are no-ops and GetOrPopulate populates the single slot inline on
// every call. The caller must not hold two epochs' data at once in this mode.
type Manager[T any] struct {
	maxThreads int
	blockSize  int

	slot []T // single-threaded only
	pool [PoolSize]*Buffer[T]
}

// NewManager slices storage into the slots it needs and returns a manager
// expecting maxThreads readers per epoch. storage must hold at least
// StorageRequirement(maxThreads, blockSize) elements; it is never copied or
// reallocated.
func NewManager[T any](maxThreads, blockSize int, storage []T, opts ...Option) (*Manager[T], error) {
	if maxThreads < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidThreads, maxThreads)
	}
	if blockSize < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidBlockSize, blockSize)
	}
	need := StorageRequirement(maxThreads, blockSize)
	if len(storage) < need {
		return nil, fmt.Errorf("%w: need %d elements, got %d", ErrStorageTooSmall, need, len(storage))
	}

	o := options{observer: NopObserver()}
	for _, opt := range opts {
		opt(&o)
	}

	m := &Manager[T]{
		maxThreads: maxThreads,
		blockSize:  blockSize,
	}
	if maxThreads == 1 {
		m.slot = storage[:blockSize:blockSize]
		return m, nil
	}
	for i := range PoolSize {
		lo, hi := i*blockSize, (i+1)*blockSize
		// Cap each slot so no buffer can grow into its neighbour.
		m.pool[i] = newBuffer(i, storage[lo:hi:hi], maxThreads, o.observer)
	}
	return m, nil
}

func (m *Manager[T]) route(index uint64) *Buffer[T] {
	if index > MaxIndex {
		panic(fmt.Sprintf("pipe: index %d exceeds MaxIndex", index))
	}
	return m.pool[index%PoolSize]
}

// TryPopulate hints that index will be needed soon. If no goroutine has
// claimed it yet, the caller populates it now. It may block while the target
// buffer drains an older epoch. No-op when single-threaded.
func (m *Manager[T]) TryPopulate(index uint64, populate PopulateFunc[T]) {
	if m.maxThreads == 1 {
		return
	}
	m.route(index).TryPopulate(index, populate)
}

// GetOrPopulate returns the slot holding index, populating it on the calling
// goroutine if nobody else has. Pair every call with Release(index).
func (m *Manager[T]) GetOrPopulate(index uint64, populate PopulateFunc[T]) []T {
	if m.maxThreads == 1 {
		populate(m.slot)
		return m.slot
	}
	return m.route(index).GetOrPopulate(index, populate)
}

// Release drops the caller's claim on index. No-op when single-threaded.
func (m *Manager[T]) Release(index uint64) {
	if m.maxThreads == 1 {
		return
	}
	m.route(index).Release()
}

// SetConcurrency changes how many readers each future epoch expects,
// clamped to [1, maxThreads]. Call it only between epochs. No-op when
// single-threaded.
func (m *Manager[T]) SetConcurrency(n int) {
	if m.maxThreads == 1 {
		return
	}
	for _, b := range m.pool {
		b.SetNumUsers(n)
	}
}

// MaxThreads returns the concurrency the manager was built for.
func (m *Manager[T]) MaxThreads() int { return m.maxThreads }

// BlockSize returns the number of elements in each slot.
func (m *Manager[T]) BlockSize() int { return m.blockSize }

// PoolSize returns the number of pooled buffers, zero when single-threaded.
func (m *Manager[T]) PoolSize() int {
	if m.maxThreads == 1 {
		return 0
	}
	return PoolSize
}

// Buffer returns pooled buffer i for inspection. It panics when the manager
// is single-threaded or i is out of range.
func (m *Manager[T]) Buffer(i int) *Buffer[T] {
	if m.maxThreads == 1 {
		panic("pipe: single-threaded manager has no pooled buffers")
	}
	return m.pool[i]
}
