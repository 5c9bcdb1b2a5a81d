// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package btalloc

// Free blocks overlay their payload's first 8 bytes with two 4-byte
// link fields: prev-free then next-free. These accessors are valid
// only while the block's allocated bit is 0 — a documented precondition,
// not a runtime-checked union (Design Notes, spec.md §9).

func (h *Heap) prevFree(r ref) ref {
	return ref(h.wordAt(h.payload(r)))
}

func (h *Heap) nextFree(r ref) ref {
	return ref(h.wordAt(h.payload(r) + 4))
}

func (h *Heap) setPrevFree(r ref, prev ref) {
	h.setWordAt(h.payload(r), uint32(prev))
}

func (h *Heap) setNextFree(r ref, next ref) {
	h.setWordAt(h.payload(r)+4, uint32(next))
}

// freeListPrepend adds b at the head of the free list.
func (h *Heap) freeListPrepend(b ref) {
	if h.freeHead == nullRef {
		h.setPrevFree(b, nullRef)
		h.setNextFree(b, nullRef)
		h.freeHead = b
		h.freeTail = b
		return
	}
	h.setPrevFree(b, nullRef)
	h.setNextFree(b, h.freeHead)
	h.setPrevFree(h.freeHead, b)
	h.freeHead = b
}

// freeListAppend adds b at the tail of the free list.
func (h *Heap) freeListAppend(b ref) {
	if h.freeTail == nullRef {
		h.setPrevFree(b, nullRef)
		h.setNextFree(b, nullRef)
		h.freeHead = b
		h.freeTail = b
		return
	}
	h.setNextFree(b, nullRef)
	h.setNextFree(h.freeTail, b)
	h.setPrevFree(b, h.freeTail)
	h.freeTail = b
}

// freeListRemove splices b out of the free list. b's own link fields
// are cleared on the way out so a stale block can't be mistaken for
// free by an accidental later read.
func (h *Heap) freeListRemove(b ref) {
	prev := h.prevFree(b)
	next := h.nextFree(b)

	switch {
	case prev == nullRef && next == nullRef:
		// singleton
		h.freeHead = nullRef
		h.freeTail = nullRef
	case prev == nullRef:
		// head
		h.freeHead = next
		h.setPrevFree(next, nullRef)
	case next == nullRef:
		// tail
		h.freeTail = prev
		h.setNextFree(prev, nullRef)
	default:
		// interior
		h.setNextFree(prev, next)
		h.setPrevFree(next, prev)
	}
	h.setPrevFree(b, nullRef)
	h.setNextFree(b, nullRef)
}
