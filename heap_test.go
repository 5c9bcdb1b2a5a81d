// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package btalloc

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
)

// Scenario 1 (spec.md §8): init + single malloc/free leaves the heap
// with exactly one free block spanning the initial extension.
func TestScenarioInitMallocFree(t *testing.T) {
	h := newTestHeap(t, 4096)
	assertInvariants(t, h)

	p := h.Malloc(24)
	require.NotNil(t, p)
	assertInvariants(t, h)

	h.Free(p)
	assertInvariants(t, h)

	blocks := h.blockWalk()
	require.Len(t, blocks, 1)
	require.False(t, h.allocated(blocks[0]))
	require.Equal(t, roundUp(DefaultInitialExtension), h.size(blocks[0]))
}

// Scenario 2 (spec.md §8): a 16-byte malloc splits the initial free
// block into a 24-byte allocated block (low address) and the
// remainder (high address), since the required size (24) is <= 25.
func TestScenarioSplitOnPlacement(t *testing.T) {
	h := newTestHeap(t, 4096)

	p := h.Malloc(16)
	require.NotNil(t, p)
	assertInvariants(t, h)

	blocks := h.blockWalk()
	require.Len(t, blocks, 2)

	allocBlock, freeBlock := blocks[0], blocks[1]
	require.True(t, h.allocated(allocBlock))
	require.Equal(t, uint32(24), h.size(allocBlock))
	require.False(t, h.allocated(freeBlock))
	require.Equal(t, roundUp(DefaultInitialExtension)-24, h.size(freeBlock))

	// the allocation is at the low address.
	require.Equal(t, h.refOf(p), h.payload(allocBlock))
}

// Scenario 3 (spec.md §8): three same-size allocations, freed in an
// order that forces three of coalesce's four cases, merge back into
// one block equal to the sum of their sizes.
func TestScenarioCoalesceThree(t *testing.T) {
	h := newTestHeap(t, 4096)

	a := h.Malloc(32)
	b := h.Malloc(32)
	c := h.Malloc(32)
	require.NotNil(t, a)
	require.NotNil(t, b)
	require.NotNil(t, c)

	// With nothing else live, freeing all three leaves the whole real
	// (non-sentinel) heap region as a single free block — a, b, c and
	// whatever free slack preceded them all coalesce together.
	heapPayloadBytes := uint32(h.epilogue - firstBlockOffset)

	h.Free(a)
	assertInvariants(t, h)
	h.Free(c)
	assertInvariants(t, h)
	h.Free(b)
	assertInvariants(t, h)

	blocks := h.blockWalk()
	require.Len(t, blocks, 1)
	require.False(t, h.allocated(blocks[0]))
	require.Equal(t, heapPayloadBytes, h.size(blocks[0]))
}

// Scenario 4 (spec.md §8): realloc grows in place by absorbing a free
// neighbor, when that neighbor is large enough.
//
// Requests over SplitFrontMax are carved from the high address of
// whatever free block satisfies them (§4.4), so two same-size
// mallocs drawn from one free region land in descending-address
// order: the second allocation (b) physically precedes the first
// (a), i.e. next(b) == a. Freeing a — not b — is what leaves b with
// a free next neighbor to absorb.
func TestScenarioReallocGrowsInPlace(t *testing.T) {
	h := newTestHeap(t, 4096)

	a := h.Malloc(32)
	b := h.Malloc(32)
	require.NotNil(t, a)
	require.NotNil(t, b)
	require.Equal(t, h.next(headerOf(h.refOf(b))), headerOf(h.refOf(a)))

	h.Free(a)
	assertInvariants(t, h)

	q := h.Realloc(b, 56)
	require.Equal(t, b, q)
	assertInvariants(t, h)

	bb := headerOf(h.refOf(q))
	require.True(t, h.allocated(bb))
	require.GreaterOrEqual(t, h.size(bb), requiredBlockSize(56))
}

// Scenario 5 (spec.md §8): realloc relocates when the following block
// is allocated, copying the live payload and freeing the original.
func TestScenarioReallocRelocates(t *testing.T) {
	h := newTestHeap(t, 4096)

	a := h.Malloc(32)
	require.NotNil(t, a)
	pattern := []byte("0123456789abcdef0123456789abcdef")[:32]
	copyBytes(a, unsafe.Pointer(&pattern[0]), 32)

	b := h.Malloc(32)
	require.NotNil(t, b)

	q := h.Realloc(a, 200)
	require.NotNil(t, q)
	require.NotEqual(t, a, q)
	assertInvariants(t, h)

	got := unsafe.Slice((*byte)(q), 32)
	require.Equal(t, pattern, []byte(got))
}

// Scenario 6 (spec.md §8): many allocations force repeated heap
// extension; freeing them all coalesces back to a single free block.
func TestScenarioHeapExtensionOnExhaustion(t *testing.T) {
	h := newTestHeap(t, 1<<20)

	const n = 1000
	ptrs := make([]unsafe.Pointer, n)
	seen := map[uintptr]bool{}
	for i := 0; i < n; i++ {
		p := h.Malloc(32)
		require.NotNil(t, p)
		require.Zero(t, uintptr(p)%8, "payload not 8-byte aligned")
		require.False(t, seen[uintptr(p)], "duplicate payload address")
		seen[uintptr(p)] = true
		ptrs[i] = p
	}
	assertInvariants(t, h)

	for _, p := range ptrs {
		h.Free(p)
	}
	assertInvariants(t, h)

	blocks := h.blockWalk()
	require.Len(t, blocks, 1)
	require.False(t, h.allocated(blocks[0]))
}

func TestMallocZeroReturnsNil(t *testing.T) {
	h := newTestHeap(t, 4096)
	require.Nil(t, h.Malloc(0))
}

func TestHeapExhaustionReturnsNil(t *testing.T) {
	h := newTestHeap(t, 256)
	var last unsafe.Pointer
	for i := 0; i < 1000; i++ {
		p := h.Malloc(64)
		if p == nil {
			break
		}
		last = p
	}
	require.NotNil(t, last)
	require.Nil(t, h.Malloc(1<<20))
}

func TestOwns(t *testing.T) {
	h := newTestHeap(t, 4096)
	p := h.Malloc(16)
	require.True(t, h.Owns(p))

	var other int
	require.False(t, h.Owns(unsafe.Pointer(&other)))
}
