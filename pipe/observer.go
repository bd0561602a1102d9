// Copyright 2025 go-tilepipe Authors. SPDX-License-Identifier: Apache-2.0

package pipe

import "time"

// Observer receives buffer lifecycle events. Implementations are called from
// the goroutine performing the transition and must be safe for concurrent use.
// None of the hooks are called while a buffer lock is held.
type Observer interface {
	// Claimed is called when a goroutine wins the Idle->Populating claim.
	Claimed(slot int, index uint64)
	// Populated is called after the populate callback returns and the
	// buffer has become Busy.
	Populated(slot int, index uint64, took time.Duration)
	// Waited is called after a goroutine was parked behind another index
	// or an in-flight populate.
	Waited(slot int, index uint64, took time.Duration)
	// Recycled is called by the goroutine whose release drained the epoch,
	// just before the buffer is published as Idle.
	Recycled(slot int, index uint64)
}

type nopObserver struct{}

func (nopObserver) Claimed(int, uint64)                  {}
func (nopObserver) Populated(int, uint64, time.Duration) {}
func (nopObserver) Waited(int, uint64, time.Duration)    {}
func (nopObserver) Recycled(int, uint64)                 {}

// NopObserver returns an Observer that ignores every event.
func NopObserver() Observer { return nopObserver{} }
