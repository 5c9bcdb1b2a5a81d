// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package btalloc

import (
	"fmt"
	"unsafe"
)

// Tuning thresholds (spec.md §4.3/§4.4/§4.5/§4.10). Each trades
// fragmentation against search/split speed; orderings among them
// (SplitFrontMax < ReallocNoSplitMax < FitClassThreshold <
// SmallBlockThreshold) should be preserved by anyone overriding the
// defaults.
const (
	// DefaultSmallBlockThreshold is the free-block size below which
	// insertFree prepends (§4.3) rather than appends.
	DefaultSmallBlockThreshold uint32 = 1000

	// DefaultFitClassThreshold is the request size above which findFit
	// searches from the free-list tail instead of the head (§4.5).
	DefaultFitClassThreshold uint32 = 270

	// DefaultReallocNoSplitMax is the largest leftover (shrink) or
	// combined-minus-required (grow) slack that realloc will leave
	// unsplit rather than carve into a separate free block (§4.10).
	DefaultReallocNoSplitMax uint32 = 250

	// DefaultSplitFrontMax is the largest request that place() carves
	// from the low address of an oversized free block; larger
	// requests are carved from the high address instead (§4.4).
	DefaultSplitFrontMax uint32 = 25

	// DefaultInitialExtension is the size of the slab mm_init uses to
	// seed the free list with one block (§4.6).
	DefaultInitialExtension uint32 = 200

	// sentinelOverhead is the fixed pad+prologue+epilogue cost paid
	// once at Init (4 + 8 + 4 bytes).
	sentinelOverhead uint32 = 16
)

// Options configures tunables and optional misuse-detection checks.
// The zero value is not valid on its own; use DefaultOptions and
// override individual fields.
type Options struct {
	// Checks gates the optional validation on Free and Realloc: a
	// heap-range check on the pointer and an allocated-bit check on its
	// block header (spec.md §7: implementations MAY detect misuse).
	Checks bool

	SmallBlockThreshold uint32
	FitClassThreshold   uint32
	ReallocNoSplitMax   uint32
	SplitFrontMax       uint32
	InitialExtension    uint32
}

// DefaultOptions returns the tuned thresholds from spec.md, with
// misuse checks enabled.
func DefaultOptions() Options {
	return Options{
		Checks:              true,
		SmallBlockThreshold: DefaultSmallBlockThreshold,
		FitClassThreshold:   DefaultFitClassThreshold,
		ReallocNoSplitMax:   DefaultReallocNoSplitMax,
		SplitFrontMax:       DefaultSplitFrontMax,
		InitialExtension:    DefaultInitialExtension,
	}
}

// Usage reports memory accounting for a Heap, mirroring qmalloc's
// MUsed. Used and RealUsed both count the whole size of every live
// allocated block, header and footer included, so the two are always
// equal; the tag overhead is not reported separately. MaxRealUsed is
// the high-water mark of RealUsed.
type Usage struct {
	Used        uint64
	RealUsed    uint64
	MaxRealUsed uint64
}

// Heap is a single allocator arena: the heap-extension capability it
// grows through, its tunables, and all process-wide mutable state
// (base address, free-list head/tail, usage stats). It is not safe
// for concurrent use — spec.md's Non-goals explicitly exclude thread
// safety; a shared Heap needs an external mutex.
type Heap struct {
	ext  Extender
	opts Options

	base     unsafe.Pointer // address corresponding to ref(0)
	epilogue ref            // current epilogue header
	heapSize uint32         // total bytes obtained from the extender so far

	freeHead ref
	freeTail ref

	used Usage
}

// Init prepares h to allocate from ext, laying out the alignment pad,
// prologue and epilogue sentinels, then seeding the free list with one
// initial extension (spec.md §4.6). It must be called exactly once
// before any other method.
func (h *Heap) Init(ext Extender, opts Options) error {
	if opts.SmallBlockThreshold == 0 {
		opts = DefaultOptions()
	}
	*h = Heap{ext: ext, opts: opts}

	addr, err := ext.Extend(uintptr(sentinelOverhead))
	if err != nil {
		return fmt.Errorf("btalloc: init failed: %w", err)
	}
	h.base = addr
	h.heapSize = sentinelOverhead

	h.setBoth(prologueOffset, prologueSize, true)
	h.epilogue = firstBlockOffset
	h.setHeader(h.epilogue, 0, true)

	h.freeHead = nullRef
	h.freeTail = nullRef

	if h.extendHeap(roundUp(opts.InitialExtension)) == nullRef {
		return fmt.Errorf("btalloc: init failed to seed heap: %w", ErrExtendFailed)
	}
	return nil
}

// Available reports how many bytes are free.
func (h *Heap) Available() uint64 {
	return uint64(h.heapSize) - uint64(sentinelOverhead) - h.used.RealUsed
}

// MUsage returns the current usage snapshot.
func (h *Heap) MUsage() Usage {
	return h.used
}

func (h *Heap) addUsed(size uint32) {
	h.used.Used += uint64(size)
	h.used.RealUsed += uint64(size)
	if h.used.MaxRealUsed < h.used.RealUsed {
		h.used.MaxRealUsed = h.used.RealUsed
	}
}

func (h *Heap) subUsed(size uint32) {
	h.used.Used -= uint64(size)
	h.used.RealUsed -= uint64(size)
}

// Owns reports whether p lies within h's block region, from the first
// possible payload address up to the epilogue. It is a bounds check
// only: it does not check that p is a payload address returned by
// Malloc/Realloc, nor that its block is still allocated.
func (h *Heap) Owns(p unsafe.Pointer) bool {
	if h.base == nil {
		return false
	}
	off := uintptr(p) - uintptr(h.base)
	if off >= uintptr(h.epilogue) || off < uintptr(firstPayloadOffset) {
		return false
	}
	return true
}

// Malloc allocates n bytes and returns an 8-byte-aligned payload
// address, or nil if n is 0 or the heap could not be extended enough
// to satisfy the request.
func (h *Heap) Malloc(n uint32) unsafe.Pointer {
	if n == 0 {
		return nil
	}
	want := requiredBlockSize(n)

	b := h.findFit(want)
	for b == nullRef {
		if h.extendHeap(want) == nullRef {
			// extender failure: stop retrying instead of looping
			// forever (spec.md §9 Open Questions).
			return nil
		}
		b = h.findFit(want)
	}

	b = h.place(b, want)
	h.addUsed(h.size(b))
	return h.addrOf(h.payload(b))
}

// Free releases the memory at p, which must be a payload address
// previously returned by Malloc or Realloc and not yet freed. Passing
// an invalid or already-freed pointer is undefined behavior. With
// Options.Checks enabled, Free panics on a pointer outside the heap's
// block region and on one whose block header has the allocated bit
// clear; other invalid pointers are not detected.
func (h *Heap) Free(p unsafe.Pointer) {
	if h.opts.Checks {
		if !h.Owns(p) {
			PANIC("BUG: Free called with pointer %p out of heap range\n", p)
			return
		}
	}
	b := headerOf(h.refOf(p))
	if h.opts.Checks && !h.allocated(b) {
		PANIC("BUG: attempt to free already freed pointer %p\n", p)
		return
	}
	h.subUsed(h.size(b))
	h.coalesce(b)
}

// Realloc grows or shrinks a previously-allocated pointer to a new
// size. See spec.md §4.10 for the shrink/grow/relocate cases.
func (h *Heap) Realloc(p unsafe.Pointer, n uint32) unsafe.Pointer {
	if p == nil {
		return h.Malloc(n)
	}
	if n == 0 {
		h.Free(p)
		return nil
	}
	if h.opts.Checks && !h.Owns(p) {
		PANIC("BUG: Realloc called with pointer %p out of heap range\n", p)
		return nil
	}

	b := headerOf(h.refOf(p))
	if h.opts.Checks && !h.allocated(b) {
		PANIC("BUG: attempt to realloc an already freed pointer %p\n", p)
		return nil
	}

	blockSize := h.size(b)
	want := requiredBlockSize(n)

	switch {
	case blockSize >= want:
		h.shrinkInPlace(b, blockSize, want)
		return p

	default:
		if h.growInPlace(b, blockSize, want) {
			return p
		}
		// can't grow in place: allocate, copy, free.
		newPtr := h.Malloc(n)
		if newPtr == nil {
			return nil
		}
		oldPayload := blockSize - tagOverhead
		copyLen := oldPayload
		if n < copyLen {
			copyLen = n
		}
		copyBytes(newPtr, p, uintptr(copyLen))
		h.Free(p)
		return newPtr
	}
}

// shrinkInPlace implements the shrink half of Realloc: split off a
// free tail when the leftover is worth splitting, otherwise leave the
// block untouched.
func (h *Heap) shrinkInPlace(b ref, blockSize, want uint32) {
	slack := blockSize - want
	if slack <= h.opts.ReallocNoSplitMax {
		return
	}
	origSize := blockSize
	h.setBoth(b, want, true)
	tail := h.next(b)
	h.setBoth(tail, slack, false)
	h.coalesce(tail)
	h.subUsed(origSize - want)
}

// growInPlace tries to satisfy a grow-Realloc by absorbing the
// immediately-following free block. It reports whether the grow
// succeeded in place.
func (h *Heap) growInPlace(b ref, blockSize, want uint32) bool {
	next := h.next(b)
	if h.allocated(next) {
		return false
	}
	combined := blockSize + h.size(next)
	if combined < want {
		return false
	}
	h.freeListRemove(next)
	origSize := blockSize

	if combined-want <= h.opts.ReallocNoSplitMax {
		h.setBoth(b, combined, true)
	} else {
		h.setBoth(b, want, true)
		tail := h.next(b)
		h.setBoth(tail, combined-want, false)
		h.coalesce(tail)
	}
	h.addUsed(h.size(b) - origSize)
	return true
}

// refOf converts an absolute address back into a heap-relative ref.
func (h *Heap) refOf(p unsafe.Pointer) ref {
	return ref(uintptr(p) - uintptr(h.base))
}

// copyBytes copies n bytes from src to dst. Both must point at
// regions of at least n bytes; the realloc relocate path is the only
// caller, and its regions never overlap since dst is freshly
// allocated.
func copyBytes(dst, src unsafe.Pointer, n uintptr) {
	if n == 0 {
		return
	}
	d := unsafe.Slice((*byte)(dst), n)
	s := unsafe.Slice((*byte)(src), n)
	copy(d, s)
}
