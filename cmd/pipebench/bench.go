// Copyright 2025 go-tilepipe Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"github.com/ajroetker/go-tilepipe/internal/config"
	"github.com/ajroetker/go-tilepipe/internal/observability"
	"github.com/ajroetker/go-tilepipe/pipe"
	"github.com/ajroetker/go-tilepipe/pipe/contrib/gemm"
	"github.com/ajroetker/go-tilepipe/pipe/contrib/workerpool"
)

var errVerify = errors.New("result does not match the reference")

type bench struct {
	cfg      *config.Config
	pool     workerpool.Executor
	observer pipe.Observer
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// runner performs one timed GEMM into c.
type runner[T gemm.Float] func(c []T) error

func blockParams[T gemm.Float](pc config.PipelineConfig) gemm.BlockParams {
	p := gemm.DefaultParams[T]()
	if pc.Mr > 0 {
		p.Mr, p.Nr = pc.Mr, pc.Nr
	}
	p.KBlock, p.XBlock = pc.KBlock, pc.XBlock
	return p
}

func randomMatrix[T gemm.Float](rng *rand.Rand, n int) []T {
	s := make([]T, n)
	for i := range s {
		s[i] = T(rng.Float64()*2 - 1)
	}
	return s
}

// newRunner prepares the configured mode. Pipelined and pretransposed modes
// reuse one Interleaved and its working space across iterations.
func newRunner[T gemm.Float](b bench, args gemm.Args[T], a, bm []T) (runner[T], gemm.BlockParams, error) {
	switch b.cfg.Pipeline.Mode {
	case config.ModeStrips:
		return func(c []T) error {
			return gemm.MatMulStrips(b.pool, args, a, bm, c)
		}, args.Params, nil
	case config.ModePretransposed:
		args.PretransposeB = true
	}

	g, err := gemm.NewInterleaved(args, pipe.WithObserver(b.observer))
	if err != nil {
		return nil, gemm.BlockParams{}, err
	}
	g.SetThreads(b.pool.NumWorkers())
	if err := g.SetWorkingSpace(make([]T, g.WorkingSize())); err != nil {
		return nil, gemm.BlockParams{}, err
	}
	if args.PretransposeB {
		if err := g.PretransposeB(bm, make([]T, g.PretransposedSize())); err != nil {
			return nil, gemm.BlockParams{}, err
		}
	}
	b.logger.Debug("pipeline ready",
		zap.Int("kBlock", g.KBlock()),
		zap.Int("xBlock", g.XBlock()),
		zap.Int("blocks", g.NumBlocks()),
		zap.Int("window", g.WindowSize()),
		zap.Int("workingSize", g.WorkingSize()),
	)

	p := args.Params
	p.KBlock, p.XBlock = g.KBlock(), g.XBlock()
	return func(c []T) error {
		if err := g.SetArrays(a, bm, c); err != nil {
			return err
		}
		return g.Run(b.pool)
	}, p, nil
}

func runTyped[T gemm.Float](ctx context.Context, b bench) (report, error) {
	pc := b.cfg.Problem
	args := gemm.Args[T]{
		M: pc.M, N: pc.N, K: pc.K,
		Batches:    pc.Batches,
		Multis:     pc.Multis,
		Alpha:      T(pc.Alpha),
		Beta:       T(pc.Beta),
		MaxThreads: b.pool.NumWorkers(),
		Params:     blockParams[T](b.cfg.Pipeline),
	}

	rng := rand.New(rand.NewPCG(b.cfg.Bench.Seed, b.cfg.Bench.Seed))
	a := randomMatrix[T](rng, pc.Multis*pc.Batches*pc.M*pc.K)
	bm := randomMatrix[T](rng, pc.Multis*pc.K*pc.N)
	c0 := randomMatrix[T](rng, pc.Multis*pc.Batches*pc.M*pc.N)
	c := make([]T, len(c0))

	run, params, err := newRunner(b, args, a, bm)
	if err != nil {
		return report{}, err
	}

	rep := report{
		problem: pc,
		mode:    b.cfg.Pipeline.Mode,
		threads: b.pool.NumWorkers(),
		params:  params,
		flops:   2 * float64(pc.Multis*pc.Batches) * float64(pc.M) * float64(pc.N) * float64(pc.K),
	}

	total := b.cfg.Bench.Warmup + b.cfg.Bench.Iterations
	for iter := range total {
		if err := ctx.Err(); err != nil {
			return report{}, err
		}
		copy(c, c0)

		start := time.Now()
		err := run(c)
		took := time.Since(start)
		if iter < b.cfg.Bench.Warmup {
			continue
		}
		b.metrics.ObserveRun(rep.mode, took, rep.flops, err)
		if err != nil {
			return report{}, err
		}
		rep.durations = append(rep.durations, took)
		b.logger.Debug("iteration done", zap.Int("iteration", iter-b.cfg.Bench.Warmup), zap.Duration("took", took))
	}

	if b.cfg.Bench.Verify {
		want := append([]T(nil), c0...)
		gemm.MatMulReference(args, a, bm, want)
		rep.verified = true
		rep.maxErr = maxAbsDiff(c, want)
		// Inputs are in [-1, 1]; allow rounding growth with K.
		tol := 1e-4 * float64(pc.K) * max(math.Abs(pc.Alpha), 1)
		if rep.maxErr > tol {
			return rep, fmt.Errorf("%w: max abs error %g exceeds %g", errVerify, rep.maxErr, tol)
		}
	}
	return rep, nil
}

func maxAbsDiff[T gemm.Float](got, want []T) float64 {
	var worst float64
	for i := range got {
		worst = max(worst, math.Abs(float64(got[i]-want[i])))
	}
	return worst
}
