// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package btalloc

// insertFree places a newly-freed block on the free list. Blocks
// smaller than SmallBlockThreshold are prepended so they cluster near
// the head, which findFit's small-request path searches first; larger
// blocks are appended, matching the tail-first search large requests
// use. See fit.go.
func (h *Heap) insertFree(b ref) {
	if h.size(b) < h.opts.SmallBlockThreshold {
		h.freeListPrepend(b)
	} else {
		h.freeListAppend(b)
	}
}

// coalesce marks b free and merges it with whichever physical
// neighbors are also free, returning the header of the resulting
// block. It is the single entry point that puts a block onto the
// free list — callers never call insertFree directly on a block that
// hasn't just been coalesced.
func (h *Heap) coalesce(b ref) ref {
	size := h.size(b)
	h.setBoth(b, size, false)

	prevAlloc := h.allocated(h.prev(b))
	next := h.next(b)
	nextAlloc := h.allocated(next)

	switch {
	case prevAlloc && nextAlloc:
		h.insertFree(b)
		return b

	case prevAlloc && !nextAlloc:
		h.freeListRemove(next)
		total := size + h.size(next)
		h.setBoth(b, total, false)
		h.insertFree(b)
		return b

	case !prevAlloc && nextAlloc:
		prev := h.prev(b)
		total := h.size(prev) + size
		h.setBoth(prev, total, false)
		// prev was already on the free list and keeps its position.
		return prev

	default: // !prevAlloc && !nextAlloc
		prev := h.prev(b)
		h.freeListRemove(next)
		total := h.size(prev) + size + h.size(next)
		h.setBoth(prev, total, false)
		return prev
	}
}
