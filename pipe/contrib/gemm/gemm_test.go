// Copyright 2025 go-tilepipe Authors. SPDX-License-Identifier: Apache-2.0

package gemm

import (
	"fmt"
	"math/rand/v2"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajroetker/go-tilepipe/pipe"
	"github.com/ajroetker/go-tilepipe/pipe/contrib/workerpool"
)

// Small blocks so even modest problems walk many epochs and every buffer
// slot is reused several times.
var tinyParams = BlockParams{Mr: 4, Nr: 4, KBlock: 3, XBlock: 8}

// smallInts fills a slice with integers in [-2, 2]. Products and sums stay
// exact in float32, so blocked and reference results compare equal.
func smallInts[T Float](rng *rand.Rand, n int) []T {
	s := make([]T, n)
	for i := range s {
		s[i] = T(rng.IntN(5) - 2)
	}
	return s
}

type problem[T Float] struct {
	args    Args[T]
	a, b, c []T
	want    []T
}

func newProblem[T Float](args Args[T], seed uint64) problem[T] {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b9))
	batches, multis := max(args.Batches, 1), max(args.Multis, 1)
	p := problem[T]{
		args: args,
		a:    smallInts[T](rng, multis*batches*args.M*args.K),
		b:    smallInts[T](rng, multis*args.K*args.N),
		c:    smallInts[T](rng, multis*batches*args.M*args.N),
	}
	p.want = append([]T(nil), p.c...)
	MatMulReference(args, p.a, p.b, p.want)
	return p
}

type countingObserver struct {
	claims, recycles atomic.Int32
}

func (o *countingObserver) Claimed(int, uint64)                  { o.claims.Add(1) }
func (o *countingObserver) Populated(int, uint64, time.Duration) {}
func (o *countingObserver) Waited(int, uint64, time.Duration)    {}
func (o *countingObserver) Recycled(int, uint64)                 { o.recycles.Add(1) }

func TestDefaultParams(t *testing.T) {
	for _, p := range []BlockParams{DefaultParams[float32](), DefaultParams[float64]()} {
		require.NoError(t, p.Validate())
		assert.Equal(t, 4, p.Mr)
		assert.Zero(t, p.KBlock)
		assert.Zero(t, p.XBlock)
	}
	assert.GreaterOrEqual(t, DefaultParams[float32]().Nr, DefaultParams[float64]().Nr)
}

func TestBlockParamsValidate(t *testing.T) {
	tests := []struct {
		name string
		p    BlockParams
		ok   bool
	}{
		{"explicit", tinyParams, true},
		{"no micro-tile", BlockParams{KBlock: 1, XBlock: 1}, false},
		{"negative block", BlockParams{Mr: 4, Nr: 4, KBlock: -1, XBlock: 4}, false},
		{"derived needs L1", BlockParams{Mr: 4, Nr: 4, XBlock: 4}, false},
		{"derived needs L2", BlockParams{Mr: 4, Nr: 4, KBlock: 4}, false},
		{"derived", BlockParams{Mr: 4, Nr: 8, L1Bytes: 1024, L2Bytes: 4096}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.p.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, ErrInvalidParams)
			}
		})
	}
}

func TestPackLHS(t *testing.T) {
	// 5x3 matrix, values encode row*10+col.
	a := make([]float32, 5*3)
	for r := range 5 {
		for c := range 3 {
			a[r*3+c] = float32(r*10 + c)
		}
	}
	packed := make([]float32, 2*2*4)
	for i := range packed {
		packed[i] = -1
	}
	// Rows 1..4, columns 1..2: one full micro-panel of 4 rows.
	active := PackLHS(a, packed, 3, 1, 1, 4, 2, 4)
	assert.Equal(t, 4, active)
	assert.Equal(t, []float32{11, 21, 31, 41, 12, 22, 32, 42}, packed[:8])

	// Rows 2..4 (3 rows) with mr=2: one full panel plus one padded panel.
	active = PackLHS(a, packed, 3, 2, 0, 3, 2, 2)
	assert.Equal(t, 1, active)
	assert.Equal(t, []float32{20, 30, 21, 31, 40, 0, 41, 0}, packed[:8])
}

func TestPackRHS(t *testing.T) {
	// 3x5 matrix, values encode row*10+col.
	b := make([]float64, 3*5)
	for r := range 3 {
		for c := range 5 {
			b[r*5+c] = float64(r*10 + c)
		}
	}
	packed := make([]float64, PackedRHSSize(2, 5, 4))
	require.Len(t, packed, 16)

	active := PackRHS(b, packed, 5, 1, 0, 2, 5, 4)
	assert.Equal(t, 1, active)
	assert.Equal(t, []float64{
		10, 11, 12, 13, 20, 21, 22, 23,
		14, 0, 0, 0, 24, 0, 0, 0,
	}, packed)
}

func TestBlockWalker(t *testing.T) {
	w := newBlockWalker(2, 4, 5, 6, 2)
	assert.Equal(t, 2*3*2, w.numBlocks())

	type block struct{ multi, k0, x0, kmax, xmax int }
	var got []block
	var newK []uint64
	for ; !w.done; w.advance() {
		got = append(got, block{w.multi, w.k0, w.x0, w.kmax(), w.xmax()})
		if w.newKBlock {
			newK = append(newK, w.index)
		}
	}
	require.Len(t, got, 12)
	assert.Equal(t, block{0, 0, 0, 2, 4}, got[0])
	assert.Equal(t, block{0, 0, 4, 2, 6}, got[1])
	assert.Equal(t, block{0, 4, 4, 5, 6}, got[5])
	assert.Equal(t, block{1, 0, 0, 2, 4}, got[6])
	assert.Equal(t, []uint64{0, 2, 4, 6, 8, 10}, newK)
	assert.False(t, w.advance())
}

func TestBlockingDerivation(t *testing.T) {
	args := Args[float32]{M: 10, N: 100, K: 300, Params: BlockParams{
		Mr: 4, Nr: 8, L1Bytes: 1024, L2Bytes: 8192,
	}}
	g, err := NewInterleaved(args)
	require.NoError(t, err)

	// Half of L1 over 4*max(Mr,Nr) bytes is 16; K=300 still needs 19 blocks.
	assert.Equal(t, 16, g.KBlock())
	assert.Zero(t, g.XBlock()%8)
	assert.LessOrEqual(t, g.XBlock(), 104)
	assert.Equal(t, 1, g.MaxThreads())
	assert.Equal(t, 3, g.WindowSize())
}

func TestNewInterleavedErrors(t *testing.T) {
	_, err := NewInterleaved(Args[float32]{M: 0, N: 1, K: 1})
	assert.ErrorIs(t, err, ErrInvalidShape)

	_, err = NewInterleaved(Args[float32]{M: 1, N: 1, K: 1, MaxThreads: -1})
	assert.ErrorIs(t, err, pipe.ErrInvalidThreads)

	_, err = NewInterleaved(Args[float32]{M: 1, N: 1, K: 1, Params: BlockParams{Mr: 4}})
	assert.ErrorIs(t, err, ErrInvalidParams)
}

func TestInterleavedNotReady(t *testing.T) {
	g, err := NewInterleaved(Args[float32]{M: 4, N: 4, K: 4, Params: tinyParams})
	require.NoError(t, err)
	assert.ErrorIs(t, g.Ready(), ErrWorkingSpace)
	assert.Panics(t, func() { g.Execute(0, 1, 0) })

	err = g.SetWorkingSpace(make([]float32, g.WorkingSize()-1))
	assert.ErrorIs(t, err, ErrWorkingSpace)
	require.NoError(t, g.SetWorkingSpace(make([]float32, g.WorkingSize())))
	assert.ErrorIs(t, g.Ready(), ErrInvalidShape)

	err = g.SetArrays(make([]float32, 16), make([]float32, 15), make([]float32, 16))
	assert.ErrorIs(t, err, ErrInvalidShape)
	assert.ErrorContains(t, err, "B has 15 elements, need 16")

	err = g.PretransposeB(make([]float32, 16), make([]float32, 64))
	assert.ErrorIs(t, err, ErrNotPretransposed)
}

func TestMatMulMatchesReference(t *testing.T) {
	shapes := []Args[float32]{
		{M: 1, N: 1, K: 1, Alpha: 1},
		{M: 7, N: 9, K: 5, Alpha: 1},
		{M: 13, N: 21, K: 17, Alpha: 2, Beta: 0.5},
		{M: 5, N: 8, K: 6, Batches: 3, Alpha: 1, Beta: 1},
		{M: 6, N: 11, K: 7, Batches: 2, Multis: 3, Alpha: -1},
		{M: 33, N: 40, K: 29, Alpha: 1},
	}
	for _, threads := range []int{1, 2, 3, 4} {
		pool := workerpool.New(threads)
		for i, args := range shapes {
			args.Params = tinyParams
			args.MaxThreads = threads
			t.Run(fmt.Sprintf("threads=%d/%dx%dx%d/b%d/m%d", threads, args.M, args.N, args.K, args.Batches, args.Multis), func(t *testing.T) {
				p := newProblem(args, uint64(i+1))
				obs := &countingObserver{}
				require.NoError(t, MatMul(pool, args, p.a, p.b, p.c, pipe.WithObserver(obs)))
				assert.Equal(t, p.want, p.c)

				g, err := NewInterleaved(args)
				require.NoError(t, err)
				if threads > 1 {
					// Every block is packed exactly once and recycled.
					assert.EqualValues(t, g.NumBlocks(), obs.claims.Load())
					assert.EqualValues(t, g.NumBlocks(), obs.recycles.Load())
				}
			})
		}
		pool.Close()
	}
}

func TestMatMulFloat64DefaultParams(t *testing.T) {
	pool := workerpool.New(3)
	defer pool.Close()

	args := Args[float64]{M: 70, N: 130, K: 90, Batches: 2, Alpha: 1}
	p := newProblem(args, 42)
	require.NoError(t, MatMulFloat64(pool, args, p.a, p.b, p.c))
	assert.Equal(t, p.want, p.c)
}

func TestMatMulPretransposed(t *testing.T) {
	pool := workerpool.New(4)
	defer pool.Close()

	args := Args[float32]{M: 9, N: 14, K: 10, Multis: 2, Alpha: 1, Beta: 1,
		MaxThreads: 4, PretransposeB: true, Params: tinyParams}
	p := newProblem(args, 7)

	g, err := NewInterleaved(args)
	require.NoError(t, err)
	require.NoError(t, g.SetWorkingSpace(make([]float32, g.WorkingSize())))
	require.NoError(t, g.SetArrays(p.a, nil, p.c))
	assert.ErrorIs(t, g.Run(pool), ErrNotPretransposed)

	err = g.PretransposeB(p.b, make([]float32, g.PretransposedSize()-1))
	assert.ErrorIs(t, err, ErrInvalidShape)
	require.NoError(t, g.PretransposeB(p.b, make([]float32, g.PretransposedSize())))
	require.NoError(t, g.Run(pool))
	assert.Equal(t, p.want, p.c)
}

func TestInterleavedSetThreads(t *testing.T) {
	args := Args[float32]{M: 17, N: 19, K: 11, Alpha: 1, MaxThreads: 4, Params: tinyParams}
	p := newProblem(args, 3)

	g, err := NewInterleaved(args)
	require.NoError(t, err)
	g.SetThreads(2)
	require.NoError(t, g.SetWorkingSpace(make([]float32, g.WorkingSize())))
	require.NoError(t, g.SetArrays(p.a, p.b, p.c))

	pool := workerpool.New(2)
	defer pool.Close()
	require.NoError(t, g.Run(pool))
	assert.Equal(t, p.want, p.c)

	// A second run on the same working space, shrunk to one thread.
	clear(p.c)
	want := make([]float32, len(p.c))
	MatMulReference(args, p.a, p.b, want)
	g.SetThreads(0)
	assert.Equal(t, 1, g.Threads())
	require.NoError(t, g.Run(pool))
	assert.Equal(t, want, p.c)
}

// More threads than window units: some threads get an empty range but must
// still walk every block or the buffers never drain.
func TestInterleavedEmptyWindows(t *testing.T) {
	pool := workerpool.New(4)
	defer pool.Close()

	args := Args[float32]{M: 3, N: 20, K: 9, Alpha: 1, MaxThreads: 4, Params: tinyParams}
	p := newProblem(args, 11)
	g, err := NewInterleaved(args)
	require.NoError(t, err)
	require.Equal(t, 1, g.WindowSize())

	require.NoError(t, MatMul(pool, args, p.a, p.b, p.c))
	assert.Equal(t, p.want, p.c)
}

func TestMatMulStrips(t *testing.T) {
	pool := workerpool.New(3)
	defer pool.Close()

	args := Args[float32]{M: 150, N: 12, K: 10, Batches: 2, Multis: 2, Alpha: 1, Beta: -1, Params: tinyParams}
	p := newProblem(args, 5)
	require.NoError(t, MatMulStrips(pool, args, p.a, p.b, p.c))
	assert.Equal(t, p.want, p.c)

	err := MatMulStrips(pool, args, p.a[:10], p.b, p.c)
	assert.ErrorIs(t, err, ErrInvalidShape)
}

func BenchmarkMatMul(b *testing.B) {
	pool := workerpool.New(0)
	defer pool.Close()

	for _, size := range []int{64, 256} {
		args := Args[float32]{M: size, N: size, K: size, Alpha: 1}
		p := newProblem(args, 1)
		b.Run(fmt.Sprintf("pipelined/%d", size), func(b *testing.B) {
			for b.Loop() {
				if err := MatMul(pool, args, p.a, p.b, p.c); err != nil {
					b.Fatal(err)
				}
			}
		})
		b.Run(fmt.Sprintf("strips/%d", size), func(b *testing.B) {
			for b.Loop() {
				if err := MatMulStrips(pool, args, p.a, p.b, p.c); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}
