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

package gemm

import (
	"github.com/ajroetker/go-tilepipe/pipe"
	"github.com/ajroetker/go-tilepipe/pipe/contrib/workerpool"
)

// RowsPerStrip is the strip height used by MatMulStrips.
const RowsPerStrip = 64

// Run executes the problem on pool, one thread per worker up to Threads.
// The window is split evenly; threads with an empty share still walk the
// blocks so the staging buffers drain.
func (g *Interleaved[T]) Run(pool workerpool.Executor) error {
	if err := g.Ready(); err != nil {
		return err
	}
	if n := pool.NumWorkers(); n < g.nthreads {
		g.SetThreads(n)
	}

	defer g.Finish()

	window := g.WindowSize()
	n := g.nthreads
	if n == 1 {
		g.Execute(0, window, 0)
		return nil
	}
	pool.RunThreads(n, func(id int) {
		g.Execute(window*id/n, window*(id+1)/n, id)
	})
	return nil
}

// MatMul computes C = alpha*A*B + beta*C on pool, allocating the working
// space. opts are passed to the staging buffer manager.
func MatMul[T Float](pool workerpool.Executor, args Args[T], a, b, c []T, opts ...pipe.Option) error {
	if args.MaxThreads == 0 {
		args.MaxThreads = pool.NumWorkers()
	}
	g, err := NewInterleaved(args, opts...)
	if err != nil {
		return err
	}
	g.SetThreads(pool.NumWorkers())
	if err := g.SetWorkingSpace(make([]T, g.WorkingSize())); err != nil {
		return err
	}
	if args.PretransposeB {
		if err := g.PretransposeB(b, make([]T, g.PretransposedSize())); err != nil {
			return err
		}
	}
	if err := g.SetArrays(a, b, c); err != nil {
		return err
	}
	return g.Run(pool)
}

// MatMulFloat32 is the non-generic version for float32.
func MatMulFloat32(pool workerpool.Executor, args Args[float32], a, b, c []float32) error {
	return MatMul(pool, args, a, b, c)
}

// MatMulFloat64 is the non-generic version for float64.
func MatMulFloat64(pool workerpool.Executor, args Args[float64], a, b, c []float64) error {
	return MatMul(pool, args, a, b, c)
}

// MatMulStrips computes the same result as MatMul but splits A into
// horizontal strips and runs an independent single-threaded Interleaved per
// strip. Each strip packs its own copy of every B block; it is the baseline
// the shared pipeline is measured against.
func MatMulStrips[T Float](pool workerpool.Executor, args Args[T], a, b, c []T) error {
	args.MaxThreads = 1
	args.PretransposeB = false
	batches, multis := max(args.Batches, 1), max(args.Multis, 1)

	// Validate once up front so the workers cannot fail.
	whole, err := NewInterleaved(args)
	if err != nil {
		return err
	}
	if err := whole.SetArrays(a, b, c); err != nil {
		return err
	}

	m, n, k := args.M, args.N, args.K
	stripsPerBatch := iceildiv(m, RowsPerStrip)
	total := multis * batches * stripsPerBatch

	pool.ParallelFor(total, func(start, end int) {
		var ws []T
		for unit := start; unit < end; unit++ {
			matrix := unit / stripsPerBatch
			multi := matrix / batches
			rowStart := (unit % stripsPerBatch) * RowsPerStrip
			rowEnd := min(rowStart+RowsPerStrip, m)

			sub := args
			sub.M, sub.Batches, sub.Multis = rowEnd-rowStart, 1, 1
			g, _ := NewInterleaved(sub)
			if need := g.WorkingSize(); len(ws) < need {
				ws = make([]T, need)
			}
			_ = g.SetWorkingSpace(ws)

			aOff := matrix*m*k + rowStart*k
			cOff := matrix*m*n + rowStart*n
			_ = g.SetArrays(a[aOff:aOff+sub.M*k], b[multi*k*n:(multi+1)*k*n], c[cOff:cOff+sub.M*n])
			g.Execute(0, g.WindowSize(), 0)
		}
	})
	return nil
}

// MatMulReference computes C = alpha*A*B + beta*C with a plain triple loop.
// It is the correctness oracle for the blocked paths.
func MatMulReference[T Float](args Args[T], a, b, c []T) {
	m, n, k := args.M, args.N, args.K
	batches, multis := max(args.Batches, 1), max(args.Multis, 1)
	for multi := range multis {
		bm := b[multi*k*n:]
		for batch := range batches {
			matrix := multi*batches + batch
			am := a[matrix*m*k:]
			cm := c[matrix*m*n:]
			for i := range m {
				for j := range n {
					var sum T
					for p := range k {
						sum += am[i*k+p] * bm[p*n+j]
					}
					if args.Beta == 0 {
						cm[i*n+j] = args.Alpha * sum
					} else {
						cm[i*n+j] = args.Alpha*sum + args.Beta*cm[i*n+j]
					}
				}
			}
		}
	}
}
