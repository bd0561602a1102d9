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

// PackLHS packs rows [rowStart, rowStart+panelRows) and columns
// [colStart, colStart+panelK) of the row-major matrix a (K columns) into
// micro-panels of mr rows.
//
// Layout is [ceil(panelRows/mr), panelK, mr]: for each micro-panel and each
// k, the mr values of that column are contiguous, so the kernel's inner loop
// over k reads A sequentially. Rows past panelRows in the last micro-panel
// are zero.
//
// Returns the number of active rows in the last micro-panel.
func PackLHS[T Float](a, packed []T, k, rowStart, colStart, panelRows, panelK, mr int) int {
	numMicroPanels := iceildiv(panelRows, mr)
	activeRowsLast := panelRows - (numMicroPanels-1)*mr

	fullPanels := numMicroPanels
	if activeRowsLast < mr {
		fullPanels--
	}

	packIdx := 0
	for panel := range fullPanels {
		baseRow := rowStart + panel*mr
		if mr == 4 {
			row0 := baseRow*k + colStart
			row1 := row0 + k
			row2 := row1 + k
			row3 := row2 + k
			for kk := range panelK {
				packed[packIdx] = a[row0+kk]
				packed[packIdx+1] = a[row1+kk]
				packed[packIdx+2] = a[row2+kk]
				packed[packIdx+3] = a[row3+kk]
				packIdx += 4
			}
			continue
		}
		for kk := range panelK {
			for r := range mr {
				packed[packIdx] = a[(baseRow+r)*k+colStart+kk]
				packIdx++
			}
		}
	}

	if activeRowsLast < mr && activeRowsLast > 0 {
		baseRow := rowStart + fullPanels*mr
		for kk := range panelK {
			for r := range activeRowsLast {
				packed[packIdx] = a[(baseRow+r)*k+colStart+kk]
				packIdx++
			}
			clear(packed[packIdx : packIdx+mr-activeRowsLast])
			packIdx += mr - activeRowsLast
		}
	}

	return activeRowsLast
}

// PackRHS packs rows [rowStart, rowStart+panelK) and columns
// [colStart, colStart+panelCols) of the row-major matrix b (n columns) into
// micro-panels of nr columns.
//
// Layout is [ceil(panelCols/nr), panelK, nr]. Columns past panelCols in the
// last micro-panel are zero.
//
// Returns the number of active columns in the last micro-panel.
func PackRHS[T Float](b, packed []T, n, rowStart, colStart, panelK, panelCols, nr int) int {
	numMicroPanels := iceildiv(panelCols, nr)
	activeColsLast := panelCols - (numMicroPanels-1)*nr

	dstIdx := 0
	for strip := 0; strip < panelCols; strip += nr {
		validCols := min(nr, panelCols-strip)
		baseCol := colStart + strip
		for kk := range panelK {
			src := (rowStart+kk)*n + baseCol
			copy(packed[dstIdx:dstIdx+validCols], b[src:src+validCols])
			if validCols < nr {
				clear(packed[dstIdx+validCols : dstIdx+nr])
			}
			dstIdx += nr
		}
	}

	return activeColsLast
}

// PackedRHSSize returns the number of elements PackRHS writes for a panel.
func PackedRHSSize(panelK, panelCols, nr int) int {
	return iceildiv(panelCols, nr) * nr * panelK
}
