// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bam

import (
	"fmt"

	"github.com/grailbio/bamlocus/interval"
	"github.com/grailbio/hts/bgzf"
	"v.io/x/lib/vlog"
)

// BinTree lists, for one lowest-level (16kb) window, the bin at every level of
// the hierarchy that covers the window.  Bins[0] is the coarsest level; absent
// bins are nil.  A BinTree is immutable once returned by BinTreeIterator.
type BinTree struct {
	RefID int
	Bins  [NumLevels]*Bin
	// Start and Stop are the 1-based closed bounds of the window.
	Start, Stop int
	// LinearIndexEntry is the linear-index offset for the window, if present.
	LinearIndexEntry bgzf.Offset
}

// Level returns the bin at the given level, or nil.
func (t *BinTree) Level(level int) *Bin { return t.Bins[level] }

// NumBins returns the number of levels with a bin.
func (t *BinTree) NumBins() int {
	n := 0
	for _, b := range t.Bins {
		if b != nil {
			n++
		}
	}
	return n
}

// Chunks returns the raw chunks of every bin in the tree, coarsest first.
func (t *BinTree) Chunks() []Chunk {
	var chunks []Chunk
	for _, b := range t.Bins {
		if b != nil {
			chunks = append(chunks, b.Chunks...)
		}
	}
	return chunks
}

// Overlaps returns true if the window overlaps loc.
func (t *BinTree) Overlaps(loc interval.Loc) bool {
	return loc.RefID == t.RefID && t.Start <= loc.Stop && loc.Start <= t.Stop
}

// IsBefore returns true if the window ends before loc starts.
func (t *BinTree) IsBefore(loc interval.Loc) bool {
	if loc.RefID != t.RefID {
		return loc.IsUnmapped() || t.RefID < loc.RefID
	}
	return t.Stop < loc.Start
}

func (t *BinTree) String() string {
	s := fmt.Sprintf("bintree{ref:%d [%d,%d] bins:", t.RefID, t.Start, t.Stop)
	for _, b := range t.Bins {
		if b == nil {
			s += " -"
		} else {
			s += fmt.Sprintf(" %d", b.BinNum)
		}
	}
	return s + "}"
}

// levelCursor is a single-element lookahead over the bins of one level.
type levelCursor struct {
	bins []*Bin
	pos  int
}

func (c *levelCursor) exhausted() bool { return c.pos >= len(c.bins) }

func (c *levelCursor) peek() int { return int(c.bins[c.pos].BinNum) }

// BinTreeIterator yields, in coordinate order, a BinTree for every lowest-level
// window covered by at least one bin of the index.  Windows without any bin are
// skipped.  It makes one pass over the bins of each level.
//
// Example:
//   it := NewBinTreeIterator(index)
//   for it.Scan() {
//     tree := it.BinTree()
//     ...
//   }
//   it.Close()
type BinTreeIterator struct {
	refID   int
	linear  *LinearIndex
	levels  [NumLevels]levelCursor
	current int // last lowest-level bin examined
	tree    BinTree
	valid   bool
	closed  bool
}

// NewBinTreeIterator creates an iterator over the bins of index.
func NewBinTreeIterator(index *BinIndex) *BinTreeIterator {
	it := &BinTreeIterator{
		refID:   index.RefID(),
		linear:  index.LinearIndex(),
		current: levelStarts[NumLevels-1] - 1,
	}
	for _, b := range index.Bins() {
		level := mustLevelForBin(int(b.BinNum))
		it.levels[level].bins = append(it.levels[level].bins, b)
	}
	return it
}

func (it *BinTreeIterator) exhausted() bool {
	for level := range it.levels {
		if !it.levels[level].exhausted() {
			return false
		}
	}
	return true
}

// Scan advances to the next window that has at least one bin.  It returns false
// once every window has been visited.
func (it *BinTreeIterator) Scan() bool {
	if it.closed {
		vlog.Panic("BinTreeIterator: Scan after Close")
	}
	it.valid = false
	firstLowest := levelStarts[NumLevels-1]
	lowestSize := LevelSize(NumLevels - 1)
	lastLowest := firstLowest + lowestSize - 1
	for !it.exhausted() && it.current < lastLowest {
		it.current++
		var bins [NumLevels]*Bin
		found := false
		for level := NumLevels - 1; level >= 0; level-- {
			c := &it.levels[level]
			want := (it.current-firstLowest)*LevelSize(level)/lowestSize + levelStarts[level]
			for !c.exhausted() && c.peek() < want {
				c.pos++
			}
			if !c.exhausted() && c.peek() == want {
				bins[level] = c.bins[c.pos]
				found = true
			}
		}
		if !found {
			continue
		}
		it.tree = BinTree{
			RefID: it.refID,
			Bins:  bins,
			Start: FirstLocusInBin(it.current),
			Stop:  LastLocusInBin(it.current),
		}
		if e, ok := it.linear.Entry(it.current - firstLowest); ok {
			it.tree.LinearIndexEntry = e
		}
		it.valid = true
		return true
	}
	return false
}

// BinTree returns the tree found by the last successful Scan.
//
// REQUIRES: Scan returned true.
func (it *BinTreeIterator) BinTree() BinTree {
	if !it.valid {
		vlog.Panic("BinTreeIterator: BinTree called without a successful Scan")
	}
	return it.tree
}

// Close releases the iterator.  It always returns nil.
func (it *BinTreeIterator) Close() error {
	it.closed = true
	it.valid = false
	for level := range it.levels {
		it.levels[level].bins = nil
	}
	return nil
}
