// Copyright 2025 go-tilepipe Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"time"

	"github.com/samber/lo"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/ajroetker/go-tilepipe/internal/config"
	"github.com/ajroetker/go-tilepipe/pipe/contrib/gemm"
)

type line struct {
	format string
	args   []any
}

type report struct {
	problem   config.ProblemConfig
	mode      string
	threads   int
	params    gemm.BlockParams
	flops     float64
	durations []time.Duration
	verified  bool
	maxErr    float64
}

func (r report) best() time.Duration  { return lo.Min(r.durations) }
func (r report) worst() time.Duration { return lo.Max(r.durations) }

func (r report) mean() time.Duration {
	if len(r.durations) == 0 {
		return 0
	}
	return lo.Sum(r.durations) / time.Duration(len(r.durations))
}

func gflops(flops float64, d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return flops / d.Seconds() / 1e9
}

func (r report) print(w io.Writer) error {
	p := message.NewPrinter(language.English)
	pr := r.problem

	lines := []line{
		{"problem     %d x %d x %d, batches %d, multis %d, %s\n",
			[]any{pr.M, pr.N, pr.K, pr.Batches, pr.Multis, pr.Precision}},
		{"mode        %s on %d threads\n", []any{r.mode, r.threads}},
		{"blocking    %v\n", []any{r.params}},
		{"flops/run   %d\n", []any{int64(r.flops)}},
		{"runs        %d\n", []any{len(r.durations)}},
		{"time        min %v  mean %v  max %v\n", []any{r.best(), r.mean(), r.worst()}},
		{"throughput  %.2f GFLOP/s best, %.2f GFLOP/s mean\n",
			[]any{gflops(r.flops, r.best()), gflops(r.flops, r.mean())}},
	}
	if r.verified {
		lines = append(lines, line{"verified    max abs error %.3g\n", []any{r.maxErr}})
	}

	for _, l := range lines {
		if _, err := p.Fprintf(w, l.format, l.args...); err != nil {
			return err
		}
	}
	return nil
}
