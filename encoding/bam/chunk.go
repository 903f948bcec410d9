// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bam

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/grailbio/hts/bgzf"
)

// Chunk is a half-open range [Begin, End) of BGZF virtual offsets in a BAM
// file.  Chunks are values; nothing in this package modifies a Chunk after
// creation.
type Chunk struct {
	Begin bgzf.Offset
	End   bgzf.Offset
}

// EndOfFile is the largest representable virtual offset.  Chunks ending there
// extend to the end of the BAM file.
var EndOfFile = ToOffset(math.MaxInt64)

// ToOffset unpacks a virtual offset.
func ToOffset(voffset uint64) bgzf.Offset {
	return bgzf.Offset{
		File:  int64(voffset >> 16),
		Block: uint16(voffset),
	}
}

// VOffset packs o into a virtual offset.
func VOffset(o bgzf.Offset) uint64 {
	return uint64(o.File<<16) | uint64(o.Block)
}

// NewChunk creates a chunk from two packed virtual offsets.
func NewChunk(begin, end uint64) Chunk {
	return Chunk{Begin: ToOffset(begin), End: ToOffset(end)}
}

// Less orders chunks by begin, then end.
func (c Chunk) Less(o Chunk) bool {
	if b0, b1 := VOffset(c.Begin), VOffset(o.Begin); b0 != b1 {
		return b0 < b1
	}
	return VOffset(c.End) < VOffset(o.End)
}

// Overlaps returns true if c and o share at least one virtual offset.
func (c Chunk) Overlaps(o Chunk) bool {
	return VOffset(c.Begin) < VOffset(o.End) && VOffset(o.Begin) < VOffset(c.End)
}

// IsAdjacentTo returns true if one chunk ends exactly where the other begins.
func (c Chunk) IsAdjacentTo(o Chunk) bool {
	return c.End == o.Begin || o.End == c.Begin
}

// Size returns the approximate number of compressed bytes spanned by c.
func (c Chunk) Size() int64 {
	if c.Begin.File == c.End.File {
		return int64(c.End.Block) - int64(c.Begin.Block)
	}
	return c.End.File - c.Begin.File
}

func (c Chunk) String() string {
	return fmt.Sprintf("%d:%d-%d:%d", c.Begin.File, c.Begin.Block, c.End.File, c.End.Block)
}

// OptimizeChunkList returns a sorted list of non-overlapping, non-adjacent
// chunks covering the same offsets as chunks, minus any chunk that ends at or
// before minimumOffset.  Chunks that overlap or touch are coalesced.  The input
// slice is not modified.
func OptimizeChunkList(chunks []Chunk, minimumOffset uint64) []Chunk {
	sorted := make([]Chunk, len(chunks))
	copy(sorted, chunks)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })

	result := make([]Chunk, 0, len(sorted))
	for _, c := range sorted {
		if VOffset(c.End) <= minimumOffset {
			continue
		}
		if n := len(result); n > 0 {
			last := result[n-1]
			if VOffset(c.Begin) <= VOffset(last.End) {
				if VOffset(c.End) > VOffset(last.End) {
					result[n-1] = Chunk{Begin: last.Begin, End: c.End}
				}
				continue
			}
		}
		result = append(result, c)
	}
	return result
}

// FileSpan is an optimized, ordered list of chunks to read from one BAM file.
type FileSpan []Chunk

// IsEmpty returns true if the span covers no data.
func (s FileSpan) IsEmpty() bool { return len(s) == 0 }

// Size returns the approximate number of compressed bytes spanned.
func (s FileSpan) Size() int64 {
	var n int64
	for _, c := range s {
		n += c.Size()
	}
	return n
}

// Union returns the optimized union of s and o.
func (s FileSpan) Union(o FileSpan) FileSpan {
	all := make([]Chunk, 0, len(s)+len(o))
	all = append(all, s...)
	all = append(all, o...)
	return FileSpan(OptimizeChunkList(all, 0))
}

func (s FileSpan) String() string {
	parts := make([]string, len(s))
	for i, c := range s {
		parts[i] = c.String()
	}
	return "[" + strings.Join(parts, ";") + "]"
}
