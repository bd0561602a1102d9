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

// Package pipe overlaps block preparation with block consumption across a
// small fixed pool of staging buffers.
//
// A pipeline driver numbers each unit of work with a monotonically
// increasing epoch index. For every index one goroutine populates a staging
// buffer (for example, packs a GEMM operand panel) while any number of
// worker goroutines wait for it, read it concurrently, and release it.
// The buffer is recycled once the last worker releases it.
//
// # Buffer lifecycle
//
// Each pooled [Buffer] moves through three states:
//
//	Idle --claim--> Populating --populated--> Busy --last release--> Idle
//
// Exactly one goroutine wins the claim for an index and runs the populate
// callback outside the buffer lock. Readers of a Busy buffer need no further
// synchronization: its content is immutable until the last release.
//
// # Manager
//
// [Manager] owns three buffers carved from one caller-provided backing
// slice and routes index i to buffer i%3. This bounds how far a producer
// can run ahead: the claim for index i+3 waits until every consumer of
// index i has released.
//
// With maxThreads == 1 the manager owns no buffers at all and
// [Manager.GetOrPopulate] simply populates the single slot inline.
//
// # Example
//
//	storage := make([]float32, pipe.StorageRequirement(threads, panelSize))
//	bm, err := pipe.NewManager(threads, panelSize, storage)
//	if err != nil {
//	    return err
//	}
//
//	// On every worker goroutine:
//	for idx := uint64(0); idx < blocks; idx++ {
//	    if idx+1 < blocks {
//	        bm.TryPopulate(idx+1, packPanel(idx+1))
//	    }
//	    panel := bm.GetOrPopulate(idx, packPanel(idx))
//	    compute(panel)
//	    bm.Release(idx)
//	}
//
// # Caller contract
//
// There are no timeouts and no cancellation. Every successful GetOrPopulate
// must be paired with exactly one Release for the same index. A missing
// release stalls every later index routed to that buffer forever.
package pipe
