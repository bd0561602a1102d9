// Copyright 2025 go-tilepipe Authors. SPDX-License-Identifier: Apache-2.0

package gemm

// blockWalker enumerates the blocks of B in the order every thread visits
// them: multi outermost, then K blocks, then X blocks. index is the block's
// epoch in the buffer pipeline.
type blockWalker struct {
	kBlock, xBlock int
	k, n, multis   int

	k0, x0, multi int
	index         uint64
	newKBlock     bool
	done          bool
}

func newBlockWalker(kBlock, xBlock, k, n, multis int) blockWalker {
	return blockWalker{
		kBlock:    kBlock,
		xBlock:    xBlock,
		k:         k,
		n:         n,
		multis:    multis,
		newKBlock: true,
	}
}

func (w *blockWalker) kmax() int { return min(w.k0+w.kBlock, w.k) }
func (w *blockWalker) xmax() int { return min(w.x0+w.xBlock, w.n) }

// advance moves to the next block and reports whether one exists.
func (w *blockWalker) advance() bool {
	if w.done {
		return false
	}
	w.index++
	w.newKBlock = false

	w.x0 += w.xBlock
	if w.x0 >= w.n {
		w.x0 = 0
		w.k0 += w.kBlock
		w.newKBlock = true
		if w.k0 >= w.k {
			w.k0 = 0
			w.multi++
			if w.multi >= w.multis {
				w.done = true
				return false
			}
		}
	}
	return true
}

// numBlocks returns how many blocks the walk visits.
func (w *blockWalker) numBlocks() int {
	return w.multis * iceildiv(w.k, w.kBlock) * iceildiv(w.n, w.xBlock)
}
