// Copyright 2025 go-tilepipe Authors. SPDX-License-Identifier: Apache-2.0

package gemm

// kernel multiplies one packed mr-row strip of A (layout [kLen][mr]) by
// bblocks packed micro-panels of B (layout [bblocks][kLen][nr]).
//
// The result overwrites tile, laid out row-major as [mr][bblocks*nr].
func kernel[T Float](a, b, tile []T, bblocks, kLen, mr, nr int) {
	width := bblocks * nr
	clear(tile[:mr*width])

	for bb := range bblocks {
		bp := b[bb*kLen*nr : (bb+1)*kLen*nr]
		col0 := bb * nr
		for kk := range kLen {
			av := a[kk*mr : kk*mr+mr]
			bv := bp[kk*nr : kk*nr+nr]
			for r, ar := range av {
				row := tile[r*width+col0 : r*width+col0+nr]
				for j, bj := range bv {
					row[j] += ar * bj
				}
			}
		}
	}
}

// merge writes rows [y, ymax) and columns [x0, xmax) of a kernel tile into
// c (row stride ldc) as c = alpha*tile + beta*c. With beta == 0 the previous
// contents of c are ignored, so uninitialized output never leaks through.
func merge[T Float](c []T, ldc int, tile []T, width, y, ymax, x0, xmax int, alpha, beta T) {
	cols := xmax - x0
	for r := range ymax - y {
		dst := c[(y+r)*ldc+x0 : (y+r)*ldc+xmax]
		src := tile[r*width : r*width+cols]
		if beta == 0 {
			for j, v := range src {
				dst[j] = alpha * v
			}
			continue
		}
		for j, v := range src {
			dst[j] = alpha*v + beta*dst[j]
		}
	}
}
