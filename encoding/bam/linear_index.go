// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bam

import "github.com/grailbio/hts/bgzf"

// LinearIndex holds, for each 16kb window of one reference, the smallest
// virtual offset of any record overlapping that window.
type LinearIndex struct {
	RefID int
	// Start is the first window represented by Entries[0].
	Start   int
	Entries []bgzf.Offset
}

// WindowFor returns the linear-index window of the 1-based position pos.
func WindowFor(pos int) int {
	return (pos - 1) >> LinearIndexShift
}

// Size returns the number of windows.
func (l *LinearIndex) Size() int { return len(l.Entries) }

// MinimumOffset returns the smallest virtual offset at which records
// overlapping the 1-based position pos can start.  Positions beyond the last
// window use the last entry.  It returns 0 when nothing can be pruned.
func (l *LinearIndex) MinimumOffset(pos int) uint64 {
	if l == nil || len(l.Entries) == 0 {
		return 0
	}
	w := WindowFor(pos) - l.Start
	if w < 0 {
		return 0
	}
	if w >= len(l.Entries) {
		w = len(l.Entries) - 1
	}
	return VOffset(l.Entries[w])
}

// Entry returns the offset stored for window w, and false if the window is
// not represented.
func (l *LinearIndex) Entry(w int) (bgzf.Offset, bool) {
	if l == nil {
		return bgzf.Offset{}, false
	}
	w -= l.Start
	if w < 0 || w >= len(l.Entries) {
		return bgzf.Offset{}, false
	}
	return l.Entries[w], true
}
