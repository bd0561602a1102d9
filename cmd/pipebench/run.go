// Copyright 2025 go-tilepipe Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ajroetker/go-tilepipe/internal/config"
	"github.com/ajroetker/go-tilepipe/internal/observability"
	"github.com/ajroetker/go-tilepipe/pipe"
	"github.com/ajroetker/go-tilepipe/pipe/contrib/workerpool"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the benchmark",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runBench(cmd.Context(), cmd, cfg)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	loader := config.NewLoader()
	if err := loader.BindFlags(cmd.Flags()); err != nil {
		return nil, err
	}
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	return loader.Load(path)
}

func runBench(ctx context.Context, cmd *cobra.Command, cfg *config.Config) error {
	logger, err := observability.NewLogger(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := observability.NewMetrics(registry)

	observers := []pipe.Observer{metrics}
	if cfg.Observability.Logging.TraceBuffers {
		observers = append(observers, observability.LogObserver(logger))
	}

	threads := cfg.Pipeline.Threads
	if threads == 0 {
		threads = runtime.GOMAXPROCS(0)
	}
	pool := workerpool.New(threads)
	defer pool.Close()

	logger.Info("starting benchmark",
		zap.Int("m", cfg.Problem.M),
		zap.Int("n", cfg.Problem.N),
		zap.Int("k", cfg.Problem.K),
		zap.Int("batches", cfg.Problem.Batches),
		zap.Int("multis", cfg.Problem.Multis),
		zap.String("precision", cfg.Problem.Precision),
		zap.String("mode", cfg.Pipeline.Mode),
		zap.Int("threads", threads),
		zap.Int("iterations", cfg.Bench.Iterations),
	)

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServing := context.WithCancel(gctx)
	defer stopServing()

	if cfg.Observability.Metrics.Enabled {
		srv := observability.NewServer(cfg.Observability.Metrics.Addr, cfg.Observability.Metrics.Path, registry, logger)
		g.Go(func() error { return srv.ListenAndServe(serveCtx) })
	}

	var rep report
	g.Go(func() error {
		defer stopServing()
		b := bench{
			cfg:      cfg,
			pool:     pool,
			observer: observability.Tee(observers...),
			metrics:  metrics,
			logger:   logger,
		}
		var err error
		if cfg.Problem.Precision == "float64" {
			rep, err = runTyped[float64](gctx, b)
		} else {
			rep, err = runTyped[float32](gctx, b)
		}
		return err
	})

	if err := g.Wait(); err != nil {
		logger.Error("benchmark failed", zap.Error(err))
		return err
	}
	logger.Info("benchmark finished", zap.Duration("best", rep.best()))
	return rep.print(cmd.OutOrStdout())
}
