// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package btalloc

import (
	"unsafe"
)

// ref is a byte offset of a block header, relative to a Heap's base
// address. Using an offset instead of a raw pointer keeps navigation
// arithmetic heap-relative and lets the zero value double as a null
// sentinel: offset 0 always falls inside the heap's alignment pad and
// is never a valid header address.
type ref uint32

const nullRef ref = 0

// headerSize and footerSize are the on-disk width of a block's boundary
// tags. Both encode the same 32-bit word: size in the high 29 bits
// (always a multiple of 8), allocated bit in bit 0.
const (
	headerSize = 4
	footerSize = 4
	tagOverhead = headerSize + footerSize

	// minBlockSize is the smallest block that can hold a header, a
	// footer and the two free-list link fields (4 bytes each) in its
	// payload.
	minBlockSize = 16

	// alignment is the granularity every block size is rounded to.
	alignment = 8

	// prologueSize is the size written into the allocated prologue
	// block's header/footer (it has no payload).
	prologueSize = 8

	// padOffset is the heap-relative offset of the 4-byte alignment
	// pad at the very base of the heap.
	padOffset ref = 0

	// prologueOffset is the heap-relative offset of the prologue
	// block's header, immediately after the pad.
	prologueOffset ref = padOffset + 4

	// firstBlockOffset is the heap-relative offset of the first real
	// (non-sentinel) block's header, immediately after the prologue.
	firstBlockOffset ref = prologueOffset + prologueSize

	// firstPayloadOffset is the lowest offset any Malloc/Realloc
	// payload address can ever have.
	firstPayloadOffset ref = firstBlockOffset + headerSize
)

// allocWord packs a size and an allocated bit the way the header/footer
// word is defined: size occupies the high bits, the allocated bit is
// the least-significant bit. Callers guarantee size is a multiple of 8.
func allocWord(size uint32, allocated bool) uint32 {
	w := size
	if allocated {
		w |= 1
	}
	return w
}

func wordSize(w uint32) uint32 {
	return w &^ 7
}

func wordAllocated(w uint32) bool {
	return w&1 != 0
}

// addrOf turns a heap-relative offset into an absolute address, by
// adding it to the base address the Heap recorded on its first
// Extend call.
func (h *Heap) addrOf(r ref) unsafe.Pointer {
	return unsafe.Pointer(uintptr(h.base) + uintptr(r))
}

// wordAt reads the raw 4-byte word at a byte offset within the heap.
func (h *Heap) wordAt(off ref) uint32 {
	return *(*uint32)(h.addrOf(off))
}

func (h *Heap) setWordAt(off ref, w uint32) {
	*(*uint32)(h.addrOf(off)) = w
}

// size returns the block size recorded in the header at r.
func (h *Heap) size(r ref) uint32 {
	return wordSize(h.wordAt(r))
}

// allocated returns the allocated bit recorded in the header at r.
func (h *Heap) allocated(r ref) bool {
	return wordAllocated(h.wordAt(r))
}

// setHeader writes the header word for the block at r.
func (h *Heap) setHeader(r ref, size uint32, allocated bool) {
	h.setWordAt(r, allocWord(size, allocated))
}

// setFooter writes the footer word for the block at r (size must
// match the block's current header size).
func (h *Heap) setFooter(r ref, size uint32, allocated bool) {
	h.setWordAt(h.footer(r), allocWord(size, allocated))
}

// setBoth writes header and footer together — the common case any
// time a block's size or allocated bit changes.
func (h *Heap) setBoth(r ref, size uint32, allocated bool) {
	h.setHeader(r, size, allocated)
	h.setFooter(r, size, allocated)
}

// payload returns the address of the usable payload for the block at r.
func (h *Heap) payload(r ref) ref {
	return r + headerSize
}

// headerOf recovers a block's header ref from a payload address
// previously returned by Malloc/Realloc.
func headerOf(p ref) ref {
	return p - headerSize
}

// footer returns the address of the footer word for the block at r.
func (h *Heap) footer(r ref) ref {
	return r + ref(h.size(r)) - footerSize
}

// next returns the header of the block physically following r.
// Callers must never call next on the epilogue.
func (h *Heap) next(r ref) ref {
	return r + ref(h.size(r))
}

// prev returns the header of the block physically preceding r, by
// reading the 4 bytes immediately before r as the previous block's
// footer. Callers must never call prev on the prologue.
func (h *Heap) prev(r ref) ref {
	prevFooter := r - footerSize
	prevSize := wordSize(h.wordAt(prevFooter))
	return r - ref(prevSize)
}

// roundUp rounds n up to the next multiple of alignment.
func roundUp(n uint32) uint32 {
	return (n + (alignment - 1)) &^ (alignment - 1)
}

// requiredBlockSize computes the block size (header + payload +
// footer, rounded up to a multiple of 8) needed to satisfy a request
// for n payload bytes.
func requiredBlockSize(n uint32) uint32 {
	return roundUp(n + tagOverhead)
}
