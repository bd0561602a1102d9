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
	"fmt"

	"github.com/ajroetker/go-tilepipe/pipe"
)

// Args describes one GEMM problem.
type Args[T Float] struct {
	M, N, K int

	// Batches share B; Multis each have their own B. Zero means one.
	Batches int
	Multis  int

	Alpha, Beta T

	// MaxThreads bounds the number of threads that may call Execute
	// concurrently. Zero means one.
	MaxThreads int

	// PretransposeB packs all of B once up front (see PretransposeB)
	// instead of staging blocks through the shared pipeline.
	PretransposeB bool

	// Params overrides the blocking. The zero value means DefaultParams.
	Params BlockParams
}

// Interleaved is a blocked GEMM whose threads share packed B blocks.
//
// Lifecycle: NewInterleaved, then SetThreads (optional), then
// SetWorkingSpace, then PretransposeB when requested, then SetArrays, then
// Execute on every thread (or Run).
type Interleaved[T Float] struct {
	m, n, k         int
	batches, multis int
	alpha, beta     T

	maxThreads, nthreads int

	mr, nr         int
	kBlock, xBlock int
	mRound         int
	pretransposed  bool
	opts           []pipe.Option

	bm     *pipe.Manager[T]
	aPanel []T
	cTiles []T
	bPre   []T

	a, b, c []T

	// base is the epoch of the first block of the current run. Epochs keep
	// increasing across runs so lookahead hints are never mistaken for
	// stale ones.
	base uint64
}

// NewInterleaved validates args and derives the blocking. opts are passed to
// the pipe.Manager created by SetWorkingSpace.
func NewInterleaved[T Float](args Args[T], opts ...pipe.Option) (*Interleaved[T], error) {
	if args.M < 1 || args.N < 1 || args.K < 1 || args.Batches < 0 || args.Multis < 0 {
		return nil, fmt.Errorf("%w: M=%d N=%d K=%d batches=%d multis=%d",
			ErrInvalidShape, args.M, args.N, args.K, args.Batches, args.Multis)
	}
	if args.MaxThreads < 0 {
		return nil, fmt.Errorf("%w: MaxThreads=%d", pipe.ErrInvalidThreads, args.MaxThreads)
	}
	p := args.Params
	if p == (BlockParams{}) {
		p = DefaultParams[T]()
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}

	g := &Interleaved[T]{
		m:             args.M,
		n:             args.N,
		k:             args.K,
		batches:       max(args.Batches, 1),
		multis:        max(args.Multis, 1),
		alpha:         args.Alpha,
		beta:          args.Beta,
		maxThreads:    max(args.MaxThreads, 1),
		mr:            p.Mr,
		nr:            p.Nr,
		pretransposed: args.PretransposeB,
		opts:          opts,
	}
	g.nthreads = g.maxThreads
	g.kBlock, g.xBlock = g.blocking(p)
	g.mRound = iceildiv(g.m, g.mr) * g.mr
	return g, nil
}

// blocking derives the K and X block sizes. A block of B and an Mr-row strip
// of A should fit in half of L1 for K, and B blocks should fill most of L2
// for X. Both are then evened out across the problem.
func (g *Interleaved[T]) blocking(p BlockParams) (kBlock, xBlock int) {
	size := elemSize[T]()

	kBlock = p.KBlock
	if kBlock == 0 {
		kBlock = max((p.L1Bytes/2)/(size*max(g.mr, g.nr)), 1)
		kBlock = iceildiv(g.k, iceildiv(g.k, kBlock))
	}

	xBlock = p.XBlock
	if xBlock == 0 {
		xBlock = (p.L2Bytes*9/10 - kBlock*size*(g.mr+g.nr)) / (size * kBlock)
		xBlock = max(xBlock/g.nr, 1) * g.nr
		xBlock = iceildiv(g.n, iceildiv(g.n, xBlock))
	}
	xBlock = iceildiv(xBlock, g.nr) * g.nr
	return kBlock, xBlock
}

// KBlock returns the number of K rows per block.
func (g *Interleaved[T]) KBlock() int { return g.kBlock }

// XBlock returns the number of N columns per block, a multiple of Nr.
func (g *Interleaved[T]) XBlock() int { return g.xBlock }

// NumBlocks returns the number of B blocks, which is the number of epochs
// each Execute walks.
func (g *Interleaved[T]) NumBlocks() int {
	w := g.walker()
	return w.numBlocks()
}

// MaxThreads returns the thread bound fixed at construction.
func (g *Interleaved[T]) MaxThreads() int { return g.maxThreads }

// Threads returns the number of threads that will call Execute.
func (g *Interleaved[T]) Threads() int { return g.nthreads }

// WindowSize returns the number of work units Execute ranges over: one unit
// per Mr rows per batch.
func (g *Interleaved[T]) WindowSize() int {
	return g.mRound / g.mr * g.batches
}

// SetThreads sets how many threads will call Execute, clamped to
// [1, MaxThreads]. Only call it between executions.
func (g *Interleaved[T]) SetThreads(n int) {
	g.nthreads = min(max(n, 1), g.maxThreads)
	if g.bm != nil {
		g.bm.SetConcurrency(g.nthreads)
	}
}

func (g *Interleaved[T]) bBlockSize() int { return g.kBlock * g.xBlock }
func (g *Interleaved[T]) aPanelSize() int { return g.kBlock * g.mRound * g.batches }
func (g *Interleaved[T]) cTileSize() int  { return g.mr * g.xBlock }

// WorkingSize returns the number of elements SetWorkingSpace needs: the
// staging buffers for B (unless pretransposed), the packed A panel, and one
// output tile per thread.
func (g *Interleaved[T]) WorkingSize() int {
	size := g.aPanelSize() + g.cTileSize()*g.maxThreads
	if !g.pretransposed {
		size += pipe.StorageRequirement(g.maxThreads, g.bBlockSize())
	}
	return size
}

// SetWorkingSpace carves ws into the staging buffers, A panel and output
// tiles. ws must hold at least WorkingSize elements and must not be shared
// with anything else while the Interleaved is in use.
func (g *Interleaved[T]) SetWorkingSpace(ws []T) error {
	need := g.WorkingSize()
	if len(ws) < need {
		return fmt.Errorf("%w: need %d elements, got %d", ErrWorkingSpace, need, len(ws))
	}

	off := 0
	if !g.pretransposed {
		req := pipe.StorageRequirement(g.maxThreads, g.bBlockSize())
		bm, err := pipe.NewManager(g.maxThreads, g.bBlockSize(), ws[:req:req], g.opts...)
		if err != nil {
			return err
		}
		bm.SetConcurrency(g.nthreads)
		g.bm = bm
		off = req
	}

	aSize := g.aPanelSize()
	g.aPanel = ws[off : off+aSize : off+aSize]
	off += aSize

	cSize := g.cTileSize() * g.maxThreads
	g.cTiles = ws[off : off+cSize : off+cSize]
	return nil
}

// PretransposedSize returns the number of elements PretransposeB writes.
func (g *Interleaved[T]) PretransposedSize() int {
	size := 0
	for w := g.walker(); !w.done; w.advance() {
		size += PackedRHSSize(w.kmax()-w.k0, w.xmax()-w.x0, g.nr)
	}
	return size
}

// PretransposeB packs every block of b into dst in walk order and makes
// Execute read from dst. Requires Args.PretransposeB.
func (g *Interleaved[T]) PretransposeB(b, dst []T) error {
	if !g.pretransposed {
		return fmt.Errorf("%w: Args.PretransposeB not set", ErrNotPretransposed)
	}
	if len(b) < g.multis*g.k*g.n {
		return fmt.Errorf("%w: B has %d elements, need %d", ErrInvalidShape, len(b), g.multis*g.k*g.n)
	}
	need := g.PretransposedSize()
	if len(dst) < need {
		return fmt.Errorf("%w: pretransposed buffer has %d elements, need %d", ErrInvalidShape, len(dst), need)
	}

	off := 0
	for w := g.walker(); !w.done; w.advance() {
		kLen, xLen := w.kmax()-w.k0, w.xmax()-w.x0
		PackRHS(b[w.multi*g.k*g.n:], dst[off:], g.n, w.k0, w.x0, kLen, xLen, g.nr)
		off += PackedRHSSize(kLen, xLen, g.nr)
	}
	g.bPre = dst[:need]
	return nil
}

// SetArrays sets the operands. b may be nil when B was pretransposed.
func (g *Interleaved[T]) SetArrays(a, b, c []T) error {
	aLen := g.multis * g.batches * g.m * g.k
	cLen := g.multis * g.batches * g.m * g.n
	bLen := g.multis * g.k * g.n
	switch {
	case len(a) < aLen:
		return fmt.Errorf("%w: A has %d elements, need %d", ErrInvalidShape, len(a), aLen)
	case len(c) < cLen:
		return fmt.Errorf("%w: C has %d elements, need %d", ErrInvalidShape, len(c), cLen)
	case !g.pretransposed && len(b) < bLen:
		return fmt.Errorf("%w: B has %d elements, need %d", ErrInvalidShape, len(b), bLen)
	}
	g.a, g.b, g.c = a, b, c
	return nil
}

// Ready reports whether Execute may be called.
func (g *Interleaved[T]) Ready() error {
	switch {
	case g.aPanel == nil:
		return ErrWorkingSpace
	case g.pretransposed && g.bPre == nil:
		return ErrNotPretransposed
	case g.a == nil || g.c == nil:
		return fmt.Errorf("%w: operands not set", ErrInvalidShape)
	}
	return nil
}

func (g *Interleaved[T]) walker() blockWalker {
	return newBlockWalker(g.kBlock, g.xBlock, g.k, g.n, g.multis)
}

// packB returns the populate callback that packs block w of B into a
// staging buffer.
func (g *Interleaved[T]) packB(w blockWalker) pipe.PopulateFunc[T] {
	b := g.b[w.multi*g.k*g.n:]
	return func(slot []T) {
		PackRHS(b, slot, g.n, w.k0, w.x0, w.kmax()-w.k0, w.xmax()-w.x0, g.nr)
	}
}

// rows returns the rows of batch that the window [start, end) covers.
func (g *Interleaved[T]) rows(batch, batch0, batchEnd, m0, mMax int) (first, last int) {
	first, last = 0, g.m
	if batch == batch0 {
		first = m0
	}
	if batch == batchEnd {
		last = mMax
	}
	return first, last
}

// Execute computes the rows in window units [start, end) using output tile
// threadID. Every thread must call Execute once per run, even with an empty
// window, because each one is counted as a user of every B block. Callers
// driving Execute themselves call Finish once all threads have returned.
// Execute panics if Ready would fail.
func (g *Interleaved[T]) Execute(start, end, threadID int) {
	if err := g.Ready(); err != nil {
		panic(err)
	}

	perBatch := g.mRound / g.mr
	batch0 := start / perBatch
	batchEnd := end / perBatch
	m0 := (start - batch0*perBatch) * g.mr
	mMax := (end - batchEnd*perBatch) * g.mr

	tileSize := g.cTileSize()
	tile := g.cTiles[threadID*tileSize : (threadID+1)*tileSize]

	current := g.walker()
	next := current
	kLen := 0
	bOff := 0

	for ; !current.done; current.advance() {
		if current.newKBlock {
			kLen = current.kmax() - current.k0
			for batch := batch0; batch <= batchEnd; batch++ {
				first, last := g.rows(batch, batch0, batchEnd, m0, mMax)
				if first >= last {
					continue
				}
				a := g.a[(current.multi*g.batches+batch)*g.m*g.k:]
				PackLHS(a, g.aPanel[(batch*g.mRound+first)*g.kBlock:], g.k, first, current.k0, last-first, kLen, g.mr)
			}
		}

		xLen := current.xmax() - current.x0
		bblocks := iceildiv(xLen, g.nr)

		var bPanel []T
		if g.pretransposed {
			bPanel = g.bPre[bOff:]
		} else {
			if next.advance() {
				g.bm.TryPopulate(g.base+next.index, g.packB(next))
			}
			bPanel = g.bm.GetOrPopulate(g.base+current.index, g.packB(current))
		}

		beta := T(1)
		if current.k0 == 0 {
			beta = g.beta
		}
		width := bblocks * g.nr

		for batch := batch0; batch <= batchEnd; batch++ {
			first, last := g.rows(batch, batch0, batchEnd, m0, mMax)
			if first >= last {
				continue
			}
			c := g.c[(current.multi*g.batches+batch)*g.m*g.n:]
			aOff := (batch*g.mRound + first) * g.kBlock
			for y := first; y < last; y += g.mr {
				ymax := min(y+g.mr, g.m)
				kernel(g.aPanel[aOff:], bPanel, tile, bblocks, kLen, g.mr, g.nr)
				merge(c, g.n, tile, width, y, ymax, current.x0, current.xmax(), g.alpha, beta)
				aOff += g.mr * kLen
			}
		}

		if g.pretransposed {
			bOff += bblocks * g.nr * kLen
		} else {
			g.bm.Release(g.base + current.index)
		}
	}
}

// Finish ends a run. The next run's blocks continue the epoch sequence.
func (g *Interleaved[T]) Finish() {
	g.base += uint64(g.NumBlocks())
}
