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

// Command pipebench runs GEMMs through the shared-buffer pipeline and
// reports timing, optionally exporting pipeline metrics to Prometheus.
//
// Usage:
//
//	pipebench run --m 1024 --n 1024 --k 1024 --threads 8 --verify
//	pipebench run --config bench.yaml --metrics --metrics-addr :9090
//	pipebench storage --m 256 --n 256 --k 256 --threads 4
//
// Settings come from an optional YAML file, then TILEPIPE_* environment
// variables (TILEPIPE_PROBLEM_M, TILEPIPE_PIPELINE_THREADS, ...), then flags.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "pipebench:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pipebench",
		Short:         "Benchmark the triple-buffered GEMM pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "path to a YAML config file")

	root.AddCommand(newRunCmd(), newStorageCmd())
	return root
}
