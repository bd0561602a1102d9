// Copyright 2025 go-tilepipe Authors. SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. TILEPIPE_PROBLEM_M.
const EnvPrefix = "TILEPIPE"

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"m":             "problem.m",
	"n":             "problem.n",
	"k":             "problem.k",
	"batches":       "problem.batches",
	"multis":        "problem.multis",
	"alpha":         "problem.alpha",
	"beta":          "problem.beta",
	"precision":     "problem.precision",
	"threads":       "pipeline.threads",
	"mode":          "pipeline.mode",
	"mr":            "pipeline.mr",
	"nr":            "pipeline.nr",
	"k-block":       "pipeline.k_block",
	"x-block":       "pipeline.x_block",
	"iterations":    "bench.iterations",
	"warmup":        "bench.warmup",
	"verify":        "bench.verify",
	"seed":          "bench.seed",
	"log-level":     "observability.logging.level",
	"log-format":    "observability.logging.format",
	"trace-buffers": "observability.logging.trace_buffers",
	"metrics":       "observability.metrics.enabled",
	"metrics-addr":  "observability.metrics.addr",
}

// Loader reads configuration through viper.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a loader with defaults and environment overrides.
func NewLoader() *Loader {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return &Loader{v: v}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("problem.m", 512)
	v.SetDefault("problem.n", 512)
	v.SetDefault("problem.k", 512)
	v.SetDefault("problem.batches", 1)
	v.SetDefault("problem.multis", 1)
	v.SetDefault("problem.alpha", 1.0)
	v.SetDefault("problem.beta", 0.0)
	v.SetDefault("problem.precision", "float32")

	v.SetDefault("pipeline.threads", 0)
	v.SetDefault("pipeline.mode", ModePipelined)
	v.SetDefault("pipeline.mr", 0)
	v.SetDefault("pipeline.nr", 0)
	v.SetDefault("pipeline.k_block", 0)
	v.SetDefault("pipeline.x_block", 0)

	v.SetDefault("bench.iterations", 10)
	v.SetDefault("bench.warmup", 1)
	v.SetDefault("bench.verify", false)
	v.SetDefault("bench.seed", 1)

	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "console")
	v.SetDefault("observability.logging.trace_buffers", false)
	v.SetDefault("observability.metrics.enabled", false)
	v.SetDefault("observability.metrics.addr", ":9090")
	v.SetDefault("observability.metrics.path", "/metrics")
}

// RegisterFlags defines the command-line overrides on fs. Flag defaults are
// only placeholders: unset flags never override file or environment values.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Int("m", 0, "rows of A and C")
	fs.Int("n", 0, "columns of B and C")
	fs.Int("k", 0, "columns of A, rows of B")
	fs.Int("batches", 0, "batches sharing one B")
	fs.Int("multis", 0, "independent problems, each with its own B")
	fs.Float64("alpha", 0, "scale of A*B")
	fs.Float64("beta", 0, "scale of the previous C")
	fs.String("precision", "", "float32 or float64")
	fs.IntP("threads", "t", 0, "worker threads (0 = GOMAXPROCS)")
	fs.String("mode", "", "pipelined, pretransposed or strips")
	fs.Int("mr", 0, "micro-tile rows (0 = CPU default)")
	fs.Int("nr", 0, "micro-tile columns (0 = CPU default)")
	fs.Int("k-block", 0, "K rows per B block (0 = derive)")
	fs.Int("x-block", 0, "N columns per B block (0 = derive)")
	fs.IntP("iterations", "i", 0, "timed iterations")
	fs.Int("warmup", 0, "untimed iterations before timing")
	fs.Bool("verify", false, "check the result against the reference")
	fs.Uint64("seed", 0, "input generator seed")
	fs.String("log-level", "", "debug, info, warn or error")
	fs.String("log-format", "", "console or json")
	fs.Bool("trace-buffers", false, "log every buffer transition at debug level")
	fs.Bool("metrics", false, "serve Prometheus metrics")
	fs.String("metrics-addr", "", "metrics listen address")
}

// BindFlags makes the flags registered by RegisterFlags override other
// sources when set. Flags missing from fs are skipped.
func (l *Loader) BindFlags(fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := l.v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Load reads path (optional; a missing file is not an error), applies
// environment and flag overrides, and validates the result.
func (l *Loader) Load(path string) (*Config, error) {
	if path != "" {
		l.v.SetConfigFile(path)
		if err := l.v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}
