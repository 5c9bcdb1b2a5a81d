// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package btalloc is a single-threaded dynamic memory allocator over a
// single, monotonically growing heap region.
//
// The heap is a gap-free sequence of blocks, each carrying a 4-byte
// header and a matching 4-byte footer (a "boundary tag") encoding the
// block's size and allocated bit. Free blocks are additionally linked
// into one process-wide doubly-linked free list, with size-directed
// insertion and fit search and four-case coalescing on free.
//
// The heap itself is obtained on demand from an Extender, an external
// capability that hands back fresh, contiguous, never-moving memory —
// btalloc never asks for memory back and never shrinks the heap.
package btalloc

const NAME = "btalloc"
