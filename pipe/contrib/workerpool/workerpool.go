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

// Package workerpool provides a persistent pool of goroutines for
// data-parallel kernels.
//
// Each worker owns a private task queue. A dispatch of n tasks to n workers
// therefore runs all n tasks at the same time, which pipelined kernels rely
// on: every consumer of an epoch must be live before that epoch can drain.
//
//	pool := workerpool.New(runtime.GOMAXPROCS(0))
//	defer pool.Close()
//
//	pool.ParallelFor(rows, func(start, end int) {
//	    for r := start; r < end; r++ {
//	        process(r)
//	    }
//	})
package workerpool

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// Executor runs data-parallel work on a fixed set of workers.
type Executor interface {
	// NumWorkers returns the number of workers.
	NumWorkers() int

	// ParallelFor splits [0, n) into at most NumWorkers contiguous ranges
	// and calls fn on each concurrently. It returns when all calls return.
	ParallelFor(n int, fn func(start, end int))

	// RunThreads calls fn(threadID) for threadID in [0, n), each on its own
	// worker, all running concurrently. n must not exceed NumWorkers.
	RunThreads(n int, fn func(threadID int))
}

var _ Executor = (*Pool)(nil)

// Pool is a fixed set of long-lived worker goroutines.
type Pool struct {
	queues  []chan func()
	workers sync.WaitGroup
	closed  atomic.Bool

	// threads serializes RunThreads so two callers never interleave
	// mutually-dependent tasks on the same workers.
	threads sync.Mutex
}

// New starts a pool of n workers. n <= 0 means runtime.GOMAXPROCS(0).
func New(n int) *Pool {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	p := &Pool{queues: make([]chan func(), n)}
	for i := range p.queues {
		q := make(chan func(), 1)
		p.queues[i] = q
		p.workers.Go(func() {
			for task := range q {
				task()
			}
		})
	}
	return p
}

// NumWorkers returns the number of workers in the pool.
func (p *Pool) NumWorkers() int { return len(p.queues) }

// ParallelFor implements Executor.
func (p *Pool) ParallelFor(n int, fn func(start, end int)) {
	p.checkOpen()
	if n <= 0 {
		return
	}
	workers := min(n, len(p.queues))
	chunk := (n + workers - 1) / workers

	var wg sync.WaitGroup
	for w := range workers {
		start := w * chunk
		if start >= n {
			break
		}
		end := min(start+chunk, n)
		wg.Add(1)
		p.queues[w] <- func() {
			defer wg.Done()
			fn(start, end)
		}
	}
	wg.Wait()
}

// RunThreads implements Executor. It panics if n exceeds NumWorkers, since
// the tasks could not all run at once.
func (p *Pool) RunThreads(n int, fn func(threadID int)) {
	p.checkOpen()
	if n > len(p.queues) {
		panic(fmt.Sprintf("workerpool: %d threads requested from a pool of %d", n, len(p.queues)))
	}
	if n <= 0 {
		return
	}

	p.threads.Lock()
	defer p.threads.Unlock()

	var wg sync.WaitGroup
	wg.Add(n)
	for id := range n {
		p.queues[id] <- func() {
			defer wg.Done()
			fn(id)
		}
	}
	wg.Wait()
}

// Close stops the workers after their queued tasks finish. Using the pool
// after Close panics.
func (p *Pool) Close() {
	if p.closed.Swap(true) {
		return
	}
	for _, q := range p.queues {
		close(q)
	}
	p.workers.Wait()
}

func (p *Pool) checkOpen() {
	if p.closed.Load() {
		panic("workerpool: use of closed pool")
	}
}
