// Copyright 2025 go-tilepipe Authors. SPDX-License-Identifier: Apache-2.0

package observability

import (
	"time"

	"go.uber.org/zap"

	"github.com/ajroetker/go-tilepipe/pipe"
)

type logObserver struct {
	logger *zap.Logger
}

// LogObserver returns a pipe.Observer that logs every buffer transition at
// debug level. Use it for tracing small runs; it is chatty.
func LogObserver(logger *zap.Logger) pipe.Observer {
	return logObserver{logger: logger.Named("pipe")}
}

func (o logObserver) Claimed(slot int, index uint64) {
	o.logger.Debug("buffer claimed", zap.Int("slot", slot), zap.Uint64("index", index))
}

func (o logObserver) Populated(slot int, index uint64, took time.Duration) {
	o.logger.Debug("buffer populated",
		zap.Int("slot", slot),
		zap.Uint64("index", index),
		zap.Duration("took", took),
	)
}

func (o logObserver) Waited(slot int, index uint64, took time.Duration) {
	o.logger.Debug("waited for buffer",
		zap.Int("slot", slot),
		zap.Uint64("index", index),
		zap.Duration("took", took),
	)
}

func (o logObserver) Recycled(slot int, index uint64) {
	o.logger.Debug("buffer recycled", zap.Int("slot", slot), zap.Uint64("index", index))
}

type tee []pipe.Observer

// Tee fans each event out to every observer in order.
func Tee(observers ...pipe.Observer) pipe.Observer {
	switch len(observers) {
	case 0:
		return pipe.NopObserver()
	case 1:
		return observers[0]
	}
	return tee(observers)
}

func (t tee) Claimed(slot int, index uint64) {
	for _, o := range t {
		o.Claimed(slot, index)
	}
}

func (t tee) Populated(slot int, index uint64, took time.Duration) {
	for _, o := range t {
		o.Populated(slot, index, took)
	}
}

func (t tee) Waited(slot int, index uint64, took time.Duration) {
	for _, o := range t {
		o.Waited(slot, index, took)
	}
}

func (t tee) Recycled(slot int, index uint64) {
	for _, o := range t {
		o.Recycled(slot, index)
	}
}
