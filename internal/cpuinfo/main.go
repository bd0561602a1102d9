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

// Package main prints the CPU features that drive GEMM block selection and
// the blocking chosen for each element type.
package main

import (
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/cpu"

	"github.com/ajroetker/go-tilepipe/pipe"
	"github.com/ajroetker/go-tilepipe/pipe/contrib/gemm"
)

func main() {
	fmt.Printf("GOOS: %s\n", runtime.GOOS)
	fmt.Printf("GOARCH: %s\n", runtime.GOARCH)
	fmt.Printf("NumCPU: %d\n", runtime.NumCPU())
	fmt.Printf("GOMAXPROCS: %d\n", runtime.GOMAXPROCS(0))
	fmt.Println()

	switch runtime.GOARCH {
	case "arm64":
		printARM64Features()
	case "amd64":
		printAMD64Features()
	}

	fmt.Println()
	fmt.Println("=== Default blocking ===")
	fmt.Printf("  float32: %v\n", gemm.DefaultParams[float32]())
	fmt.Printf("  float64: %v\n", gemm.DefaultParams[float64]())

	// Derived blocks for a square problem show what KBlock/XBlock resolve to.
	threads := runtime.GOMAXPROCS(0)
	describe[float32]("float32", 1024, threads)
	describe[float64]("float64", 1024, threads)
}

func describe[T gemm.Float](name string, size, threads int) {
	g, err := gemm.NewInterleaved(gemm.Args[T]{M: size, N: size, K: size, MaxThreads: threads})
	if err != nil {
		fmt.Printf("  %s: %v\n", name, err)
		return
	}
	fmt.Printf("  %s %dx%dx%d: KBlock=%d XBlock=%d blocks=%d, staging for %d threads = %d elements\n",
		name, size, size, size, g.KBlock(), g.XBlock(), g.NumBlocks(), threads,
		pipe.StorageRequirement(threads, g.KBlock()*g.XBlock()))
}

func printARM64Features() {
	fmt.Println("=== golang.org/x/sys/cpu.ARM64 ===")
	fmt.Printf("  HasASIMD:    %v (NEON baseline)\n", cpu.ARM64.HasASIMD)
	fmt.Printf("  HasFP:       %v (Floating point)\n", cpu.ARM64.HasFP)
	fmt.Printf("  HasASIMDHP:  %v (FP16 NEON, ARMv8.2-A)\n", cpu.ARM64.HasASIMDHP)
	fmt.Printf("  HasSVE:      %v (Scalable Vector Extension)\n", cpu.ARM64.HasSVE)
	fmt.Printf("  HasSVE2:     %v (SVE2)\n", cpu.ARM64.HasSVE2)
	fmt.Printf("  HasATOMICS:  %v (Large System Extensions)\n", cpu.ARM64.HasATOMICS)
}

func printAMD64Features() {
	fmt.Println("=== golang.org/x/sys/cpu.X86 ===")
	fmt.Printf("  HasAVX:      %v\n", cpu.X86.HasAVX)
	fmt.Printf("  HasAVX2:     %v\n", cpu.X86.HasAVX2)
	fmt.Printf("  HasFMA:      %v\n", cpu.X86.HasFMA)
	fmt.Printf("  HasAVX512F:  %v\n", cpu.X86.HasAVX512F)
	fmt.Printf("  HasSSE42:    %v\n", cpu.X86.HasSSE42)
	fmt.Printf("  Cache line:  %d bytes\n", unsafe.Sizeof(cpu.CacheLinePad{}))
}
