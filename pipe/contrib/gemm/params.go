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

package gemm

import (
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/cpu"
)

// Float is the set of element types the kernels support.
type Float interface {
	~float32 | ~float64
}

// BlockParams controls how the problem is tiled.
//
//   - Mr × Nr: micro-tile produced by one kernel call
//   - KBlock: rows of B per block (0 derives it from L1Bytes)
//   - XBlock: columns of B per block (0 derives it from L2Bytes)
//
// Derived blocks are then tuned to the problem so all blocks are about the
// same size.
type BlockParams struct {
	Mr      int
	Nr      int
	KBlock  int
	XBlock  int
	L1Bytes int
	L2Bytes int
}

func (p BlockParams) String() string {
	return fmt.Sprintf("Mr=%d Nr=%d KBlock=%d XBlock=%d L1=%dB L2=%dB",
		p.Mr, p.Nr, p.KBlock, p.XBlock, p.L1Bytes, p.L2Bytes)
}

// Validate reports whether p can be used to tile a problem.
func (p BlockParams) Validate() error {
	switch {
	case p.Mr < 1 || p.Nr < 1:
		return fmt.Errorf("%w: micro-tile %dx%d", ErrInvalidParams, p.Mr, p.Nr)
	case p.KBlock < 0 || p.XBlock < 0:
		return fmt.Errorf("%w: negative block %dx%d", ErrInvalidParams, p.KBlock, p.XBlock)
	case p.KBlock == 0 && p.L1Bytes < 1:
		return fmt.Errorf("%w: KBlock=0 needs L1Bytes", ErrInvalidParams)
	case p.XBlock == 0 && p.L2Bytes < 1:
		return fmt.Errorf("%w: XBlock=0 needs L2Bytes", ErrInvalidParams)
	}
	return nil
}

// Cache sizes assumed when deriving blocks. x/sys/cpu does not report cache
// geometry, so these are conservative figures per family.
const (
	l1Default = 32 * 1024
	l2Default = 256 * 1024
	l1Apple   = 64 * 1024
	l2Apple   = 1024 * 1024
)

// DefaultParams returns blocking parameters for the running CPU and element
// type. Micro-tiles follow the register blocking used by the SIMD kernels of
// each family even though the kernels here are portable.
func DefaultParams[T Float]() BlockParams {
	wide := elemSize[T]() == 8
	p := BlockParams{Mr: 4, L1Bytes: l1Default, L2Bytes: l2Default}

	switch {
	case cpu.X86.HasAVX512F:
		p.Nr = pick(wide, 16, 32)
	case cpu.X86.HasAVX2 && cpu.X86.HasFMA:
		p.Nr = pick(wide, 8, 16)
	case cpu.ARM64.HasASIMD:
		p.Nr = pick(wide, 4, 8)
		if runtime.GOOS == "darwin" {
			p.L1Bytes, p.L2Bytes = l1Apple, l2Apple
		}
	default:
		p.Nr = pick(wide, 4, 8)
	}
	return p
}

func pick(wide bool, ifWide, otherwise int) int {
	if wide {
		return ifWide
	}
	return otherwise
}

func elemSize[T Float]() int {
	var zero T
	return int(unsafe.Sizeof(zero))
}

func iceildiv(a, b int) int {
	return (a + b - 1) / b
}
