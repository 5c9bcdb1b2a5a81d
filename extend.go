// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package btalloc

import (
	"errors"
	"unsafe"
)

// ErrExtendFailed is returned (wrapped) by an Extender when it cannot
// grow the region any further.
var ErrExtendFailed = errors.New("btalloc: heap extension failed")

// Extender is the external heap-extension capability this allocator
// grows through (spec.md §6): it hands back `n` fresh, contiguous
// bytes physically adjacent to whatever it returned last time, or
// fails. The allocator never asks for memory back.
type Extender interface {
	// Extend grows the region by exactly n bytes (always a multiple
	// of 8 when called by Heap) and returns the address of the first
	// new byte. It returns ErrExtendFailed (or a wrapping error) if
	// the region cannot grow by n bytes.
	Extend(n uintptr) (unsafe.Pointer, error)
}

// arenaExtender is the default Extender: it pre-reserves a fixed
// capacity byte arena once, up front, and serves Extend calls by
// bumping a length counter into that arena. Because the backing array
// is allocated once and never grows, addresses handed out earlier
// stay valid for the arena's whole lifetime — the same guarantee a
// real sbrk/mmap-backed extender gives, and the pattern
// modernc.org/libc's membrk sbrk-emulation (go-gitea-gitea__mem_brk.go
// in the retrieval pack) uses for the same reason.
type arenaExtender struct {
	arena []byte
	used  uintptr
}

// NewArenaExtender returns an Extender backed by a single
// capacity-byte arena. It is reference/test infrastructure: a real
// embedder is expected to supply its own Extender backed by its
// platform's virtual memory primitive.
func NewArenaExtender(capacity uintptr) Extender {
	return &arenaExtender{arena: make([]byte, capacity)}
}

func (a *arenaExtender) Extend(n uintptr) (unsafe.Pointer, error) {
	if a.used+n > uintptr(len(a.arena)) {
		return nil, ErrExtendFailed
	}
	p := unsafe.Pointer(&a.arena[a.used])
	a.used += n
	return p, nil
}

// extendHeap requests size additional bytes from h's Extender and
// returns the header of the resulting free block, or nullRef if the
// extender failed. size must be a multiple of 8.
//
// The extender is contractually guaranteed to return an address 4
// bytes past the old epilogue's header (the epilogue occupied the
// heap's last 4 bytes): the new block's header overwrites what was the
// epilogue, and the new bytes hold the rest
// of a new free block, followed by its footer and a fresh epilogue at
// the new heap top. The new block is then coalesced with whatever
// precedes it.
func (h *Heap) extendHeap(size uint32) ref {
	addr, err := h.ext.Extend(uintptr(size))
	if err != nil {
		if WARNon() {
			WARN("heap extension of %d bytes failed: %v\n", size, err)
		}
		return nullRef
	}

	// addr is guaranteed contiguous with the old epilogue's 4 bytes.
	oldEpilogue := ref(uintptr(addr)-uintptr(h.base)) - headerSize
	h.setBoth(oldEpilogue, size, false)

	h.epilogue = oldEpilogue + ref(size)
	h.setHeader(h.epilogue, 0, true)
	h.heapSize += size

	return h.coalesce(oldEpilogue)
}
