// Copyright 2025 go-tilepipe Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajroetker/go-tilepipe/internal/config"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

var smallProblem = []string{
	"--m", "21", "--n", "26", "--k", "17",
	"--mr", "4", "--nr", "4", "--k-block", "5", "--x-block", "8",
	"--threads", "3", "-i", "2", "--warmup", "1",
	"--log-level", "error", "--log-format", "json",
}

func TestRunModes(t *testing.T) {
	tests := []struct {
		mode, precision string
	}{
		{config.ModePipelined, "float32"},
		{config.ModePipelined, "float64"},
		{config.ModePretransposed, "float32"},
		{config.ModeStrips, "float64"},
	}
	for _, tc := range tests {
		t.Run(tc.mode+"/"+tc.precision, func(t *testing.T) {
			args := append([]string{"run"}, smallProblem...)
			args = append(args, "--mode", tc.mode, "--precision", tc.precision,
				"--batches", "2", "--beta", "0.5", "--verify")
			out, err := execute(t, args...)
			require.NoError(t, err)

			assert.Contains(t, out, "problem     21 x 26 x 17, batches 2, multis 1, "+tc.precision)
			assert.Contains(t, out, "mode        "+tc.mode+" on 3 threads")
			assert.Contains(t, out, "runs        2")
			assert.Contains(t, out, "throughput")
			assert.Contains(t, out, "verified")
		})
	}
}

func TestRunFromConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bench.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
problem:
  m: 9
  n: 10
  k: 11
  multis: 2
bench:
  iterations: 1
  warmup: 0
observability:
  logging:
    level: error
`), 0o644))

	out, err := execute(t, "run", "--config", path, "--threads", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "problem     9 x 10 x 11, batches 1, multis 2, float32")
	assert.Contains(t, out, "flops/run   3,960")
	assert.NotContains(t, out, "verified")
}

func TestRunInvalidConfig(t *testing.T) {
	_, err := execute(t, "run", "--mode", "magic")
	assert.ErrorIs(t, err, config.ErrInvalid)

	_, err = execute(t, "run", "unexpected")
	assert.Error(t, err)
}

func TestRunCancelled(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs(append([]string{"run"}, smallProblem...))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, root.ExecuteContext(ctx), context.Canceled)
}

func TestStorage(t *testing.T) {
	out, err := execute(t, "storage",
		"--m", "64", "--n", "64", "--k", "64", "--threads", "2",
		"--mr", "4", "--nr", "8", "--k-block", "16", "--x-block", "32")
	require.NoError(t, err)

	assert.Contains(t, out, "block            16 x 32 (512 elements)")
	assert.Contains(t, out, "blocks per run   8")
	assert.Contains(t, out, "staging buffers  1,536 elements (6,144 bytes)")
	assert.NotContains(t, out, "pretransposed")

	out, err = execute(t, "storage", "--mode", "pretransposed", "--precision", "float64",
		"--m", "64", "--n", "64", "--k", "64", "--threads", "1",
		"--mr", "4", "--nr", "8", "--k-block", "16", "--x-block", "32")
	require.NoError(t, err)
	assert.Contains(t, out, "pretransposed B  4,096 elements (32,768 bytes)")
}
