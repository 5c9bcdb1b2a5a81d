// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package btalloc

// place converts a free block b of size >= want into an allocated
// block of exactly want bytes, splitting off the remainder as a new
// free block when there's enough slack to host one. It returns the
// header of the allocated block (b itself or its split-off neighbor,
// depending on the split policy below).
func (h *Heap) place(b ref, want uint32) ref {
	total := h.size(b)
	h.freeListRemove(b)

	remainder := total - want
	if remainder <= 8 {
		// too small to host a valid free block: hand over the whole
		// fragment instead of leaving an unusable sliver.
		h.setBoth(b, total, true)
		return b
	}

	if want <= h.opts.SplitFrontMax {
		// small allocation: carve it from the low address so it
		// clusters with other short-lived small blocks, leaving the
		// remainder (and its locality) at the high address.
		h.setBoth(b, want, true)
		rest := h.next(b)
		h.setBoth(rest, remainder, false)
		h.coalesce(rest)
		return b
	}

	// larger allocation: carve it from the high address, leaving the
	// front of the original block — and whatever was free before it —
	// intact and reusable.
	h.setBoth(b, remainder, false)
	allocated := h.next(b)
	h.setBoth(allocated, want, true)
	h.coalesce(b)
	return allocated
}
