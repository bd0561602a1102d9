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

// Package gemm provides an interleaved, blocked matrix multiply that shares
// packed B panels between worker goroutines through a pipe.Manager.
//
// The computation is C = alpha*A*B + beta*C over optional batches and
// "multis" (independent problems with their own B):
//
//   - A is [multi][batch][M][K] (row-major)
//   - B is [multi][K][N] (row-major)
//   - C is [multi][batch][M][N] (row-major)
//
// B is walked in blocks of KBlock rows by XBlock columns. Every block gets a
// sequential epoch index. All threads walk every block: the first thread to
// need a block packs it into a shared staging buffer, the others read it,
// and the buffer is recycled after the last thread releases it. Each thread
// also looks one block ahead so packing overlaps with computation.
//
// Rows of A are divided between threads by window. A window unit is Mr rows
// of one batch.
//
// # Usage
//
//	pool := workerpool.New(0)
//	defer pool.Close()
//
//	args := gemm.Args[float32]{M: m, N: n, K: k, Alpha: 1, MaxThreads: pool.NumWorkers()}
//	if err := gemm.MatMul(pool, args, a, b, c); err != nil {
//	    return err
//	}
//
// For finer control build an Interleaved directly, size its working space
// with WorkingSize, and call Run or Execute per thread.
package gemm
