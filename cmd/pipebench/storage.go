// Copyright 2025 go-tilepipe Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"runtime"
	"unsafe"

	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/ajroetker/go-tilepipe/internal/config"
	"github.com/ajroetker/go-tilepipe/pipe"
	"github.com/ajroetker/go-tilepipe/pipe/contrib/gemm"
)

func newStorageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storage",
		Short: "Print the working space the configured problem needs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Problem.Precision == "float64" {
				return printStorage[float64](cmd, cfg)
			}
			return printStorage[float32](cmd, cfg)
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func printStorage[T gemm.Float](cmd *cobra.Command, cfg *config.Config) error {
	threads := cfg.Pipeline.Threads
	if threads == 0 {
		threads = runtime.GOMAXPROCS(0)
	}
	pc := cfg.Problem
	args := gemm.Args[T]{
		M: pc.M, N: pc.N, K: pc.K,
		Batches:       pc.Batches,
		Multis:        pc.Multis,
		MaxThreads:    threads,
		PretransposeB: cfg.Pipeline.Mode == config.ModePretransposed,
		Params:        blockParams[T](cfg.Pipeline),
	}
	g, err := gemm.NewInterleaved(args)
	if err != nil {
		return err
	}

	var zero T
	size := int(unsafe.Sizeof(zero))
	blockSize := g.KBlock() * g.XBlock()
	staging := pipe.StorageRequirement(threads, blockSize)

	p := message.NewPrinter(language.English)
	w := cmd.OutOrStdout()
	p.Fprintf(w, "threads          %d\n", threads)
	p.Fprintf(w, "block            %d x %d (%d elements)\n", g.KBlock(), g.XBlock(), blockSize)
	p.Fprintf(w, "blocks per run   %d\n", g.NumBlocks())
	p.Fprintf(w, "staging buffers  %d elements (%d bytes)\n", staging, staging*size)
	if args.PretransposeB {
		p.Fprintf(w, "pretransposed B  %d elements (%d bytes)\n", g.PretransposedSize(), g.PretransposedSize()*size)
	}
	p.Fprintf(w, "working space    %d elements (%d bytes)\n", g.WorkingSize(), g.WorkingSize()*size)
	return nil
}
