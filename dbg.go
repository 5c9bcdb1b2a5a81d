// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package btalloc

import "github.com/intuitivelabs/slog"

// dumpStatus writes a heap summary to the log: usage, every currently
// allocated block, and a free-list walk with its block count, gated
// at slog.LDBG the way the teacher package gates its own dumpStatus.
func (h *Heap) dumpStatus() {
	const lev = slog.LDBG
	if !Log.L(lev) {
		return
	}
	Log.LLog(lev, 0, pDBG, "heap size=%d\n", h.heapSize)
	Log.LLog(lev, 0, pDBG, "used=%d, used+overhead=%d, free=%d\n",
		h.used.Used, h.used.RealUsed, h.Available())
	Log.LLog(lev, 0, pDBG, "max used (+overhead)=%d\n", h.used.MaxRealUsed)

	i := 0
	for b := firstBlockOffset; b != h.epilogue; b = h.next(b) {
		if h.allocated(b) {
			Log.LLog(lev, 0, pDBG, "  %3d. header=%d size=%d\n",
				i, b, h.size(b))
		}
		i++
	}

	n := 0
	for f := h.freeHead; f != nullRef; f = h.nextFree(f) {
		n++
	}
	Log.LLog(lev, 0, pDBG, "free list: %d blocks, head=%d tail=%d\n",
		n, h.freeHead, h.freeTail)
}
