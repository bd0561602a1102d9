// Copyright 2025 go-tilepipe Authors. SPDX-License-Identifier: Apache-2.0

// Package config loads pipebench settings from a YAML file, TILEPIPE_*
// environment variables and command-line flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid config")

// Run modes.
const (
	ModePipelined     = "pipelined"
	ModePretransposed = "pretransposed"
	ModeStrips        = "strips"
)

// Config is the root configuration.
type Config struct {
	Problem       ProblemConfig       `mapstructure:"problem"`
	Pipeline      PipelineConfig      `mapstructure:"pipeline"`
	Bench         BenchConfig         `mapstructure:"bench"`
	Observability ObservabilityConfig `mapstructure:"observability"`
}

// ProblemConfig describes the GEMM to run.
type ProblemConfig struct {
	M         int     `mapstructure:"m"`
	N         int     `mapstructure:"n"`
	K         int     `mapstructure:"k"`
	Batches   int     `mapstructure:"batches"`
	Multis    int     `mapstructure:"multis"`
	Alpha     float64 `mapstructure:"alpha"`
	Beta      float64 `mapstructure:"beta"`
	Precision string  `mapstructure:"precision"`
}

// PipelineConfig controls threading and blocking. Zero block sizes mean
// "derive from the CPU".
type PipelineConfig struct {
	Threads int    `mapstructure:"threads"`
	Mode    string `mapstructure:"mode"`
	Mr      int    `mapstructure:"mr"`
	Nr      int    `mapstructure:"nr"`
	KBlock  int    `mapstructure:"k_block"`
	XBlock  int    `mapstructure:"x_block"`
}

// BenchConfig controls the benchmark loop.
type BenchConfig struct {
	Iterations int    `mapstructure:"iterations"`
	Warmup     int    `mapstructure:"warmup"`
	Verify     bool   `mapstructure:"verify"`
	Seed       uint64 `mapstructure:"seed"`
}

// ObservabilityConfig groups logging and metrics settings.
type ObservabilityConfig struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// LoggingConfig selects the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	// TraceBuffers logs every buffer transition at debug level.
	TraceBuffers bool `mapstructure:"trace_buffers"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Path    string `mapstructure:"path"`
}

// Validate checks the configuration for values the benchmark cannot run.
func (c *Config) Validate() error {
	p := c.Problem
	if p.M < 1 || p.N < 1 || p.K < 1 {
		return fmt.Errorf("%w: problem dimensions must be positive, got %dx%dx%d", ErrInvalid, p.M, p.N, p.K)
	}
	if p.Batches < 1 || p.Multis < 1 {
		return fmt.Errorf("%w: problem.batches and problem.multis must be positive", ErrInvalid)
	}
	switch p.Precision {
	case "float32", "float64":
	default:
		return fmt.Errorf("%w: unsupported precision %q", ErrInvalid, p.Precision)
	}

	pl := c.Pipeline
	if pl.Threads < 0 {
		return fmt.Errorf("%w: pipeline.threads must not be negative", ErrInvalid)
	}
	switch pl.Mode {
	case ModePipelined, ModePretransposed, ModeStrips:
	default:
		return fmt.Errorf("%w: unsupported mode %q", ErrInvalid, pl.Mode)
	}
	if pl.Mr < 0 || pl.Nr < 0 || pl.KBlock < 0 || pl.XBlock < 0 {
		return fmt.Errorf("%w: block sizes must not be negative", ErrInvalid)
	}
	if (pl.Mr == 0) != (pl.Nr == 0) {
		return fmt.Errorf("%w: pipeline.mr and pipeline.nr must be set together", ErrInvalid)
	}

	if c.Bench.Iterations < 1 {
		return fmt.Errorf("%w: bench.iterations must be positive", ErrInvalid)
	}
	if c.Bench.Warmup < 0 {
		return fmt.Errorf("%w: bench.warmup must not be negative", ErrInvalid)
	}

	switch strings.ToLower(c.Observability.Logging.Format) {
	case "json", "console":
	default:
		return fmt.Errorf("%w: unsupported log format %q", ErrInvalid, c.Observability.Logging.Format)
	}
	m := c.Observability.Metrics
	if m.Enabled && (m.Addr == "" || !strings.HasPrefix(m.Path, "/")) {
		return fmt.Errorf("%w: metrics need an address and an absolute path", ErrInvalid)
	}
	return nil
}
