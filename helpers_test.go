// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package btalloc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestHeap builds a Heap over a fresh arena of the given capacity,
// with default options.
func newTestHeap(t *testing.T, capacity uintptr) *Heap {
	t.Helper()
	h := &Heap{}
	err := h.Init(NewArenaExtender(capacity), DefaultOptions())
	require.NoError(t, err)
	return h
}

// blockWalk visits every block header from the first real block to
// the epilogue (exclusive), in address order.
func (h *Heap) blockWalk() []ref {
	var blocks []ref
	for b := firstBlockOffset; b != h.epilogue; b = h.next(b) {
		blocks = append(blocks, b)
	}
	return blocks
}

// freeWalkForward returns the free list contents walked head-to-tail.
func (h *Heap) freeWalkForward() []ref {
	var blocks []ref
	for f := h.freeHead; f != nullRef; f = h.nextFree(f) {
		blocks = append(blocks, f)
	}
	return blocks
}

// freeWalkBackward returns the free list contents walked tail-to-head.
func (h *Heap) freeWalkBackward() []ref {
	var blocks []ref
	for f := h.freeTail; f != nullRef; f = h.prevFree(f) {
		blocks = append(blocks, f)
	}
	return blocks
}

// assertInvariants checks the universally-quantified properties from
// spec.md §8 after a public operation has returned.
func assertInvariants(t *testing.T, h *Heap) {
	t.Helper()

	blocks := h.blockWalk()
	freeSet := map[ref]bool{}
	for _, b := range blocks {
		require.Zero(t, h.size(b)%alignment, "block %d size %d not aligned", b, h.size(b))
		require.GreaterOrEqual(t, h.size(b), uint32(minBlockSize))
		require.Equal(t, h.allocated(b), wordAllocated(h.wordAt(h.footer(b))),
			"header/footer allocated-bit mismatch at block %d", b)
		require.Equal(t, h.size(b), wordSize(h.wordAt(h.footer(b))),
			"header/footer size mismatch at block %d", b)
		if !h.allocated(b) {
			freeSet[b] = true
		}
	}

	// no two adjacent blocks both free
	for i := 1; i < len(blocks); i++ {
		if !h.allocated(blocks[i-1]) && !h.allocated(blocks[i]) {
			t.Fatalf("adjacent free blocks at %d and %d", blocks[i-1], blocks[i])
		}
	}

	fwd := h.freeWalkForward()
	bwd := h.freeWalkBackward()
	require.Len(t, fwd, len(freeSet))
	require.Equal(t, len(fwd), len(bwd))
	var reversed []ref
	for i := len(bwd) - 1; i >= 0; i-- {
		reversed = append(reversed, bwd[i])
	}
	require.Equal(t, fwd, reversed)
	for _, b := range fwd {
		require.True(t, freeSet[b], "free list contains non-free or out-of-heap block %d", b)
	}
	for b := range freeSet {
		found := false
		for _, f := range fwd {
			if f == b {
				found = true
				break
			}
		}
		require.True(t, found, "free block %d missing from free list", b)
	}
}
