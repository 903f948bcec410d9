// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bam

import (
	"sort"

	"github.com/grailbio/bamlocus/interval"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
	"v.io/x/lib/vlog"
)

// IndexSource supplies the index of one BAM file.  *Index implements it.
type IndexSource interface {
	// BinIndex returns the index of reference refID.
	BinIndex(refID int) (*BinIndex, error)
	// StartOfLastLinearBin returns the offset at or before which unmapped
	// reads start, or -1.
	StartOfLastLinearBin() int64
}

// binTreeCursor is a one-element lookahead over one file's BinTreeIterator for
// one reference.
type binTreeCursor struct {
	index *BinIndex
	it    *BinTreeIterator
	tree  BinTree
	ok    bool
}

func (c *binTreeCursor) advance() {
	if c.ok = c.it.Scan(); c.ok {
		c.tree = c.it.BinTree()
	}
}

// IntervalSharder converts a sorted set of query intervals plus one index per
// BAM file into an ordered sequence of non-overlapping FilePointers.  Each
// FilePointer covers at most one lowest-level index window, and lists the
// chunks every file needs to cover it.  Query intervals not covered by any
// index content still produce a FilePointer, with empty spans.
//
// The sharder keeps one BinTreeIterator per file, recreated when the
// reference changes.  Thread compatible.
//
// Example:
//   s := NewIntervalSharder(loci, map[string]IndexSource{path: index})
//   for s.Scan() {
//     fp := s.FilePointer()
//     ...
//   }
//   if err := s.Close(); err != nil { ... }
type IntervalSharder struct {
	loci    []interval.Loc
	next    int // index into loci of the next unread interval
	current interval.Loc
	hasCur  bool

	files   []string
	indices map[string]IndexSource
	cursors map[string]*binTreeCursor

	fp     FilePointer
	valid  bool
	err    error
	closed bool
}

// NewIntervalSharder creates a sharder over loci.  indices maps a file
// identifier to that file's index.
func NewIntervalSharder(loci *interval.SortedSet, indices map[string]IndexSource) *IntervalSharder {
	s := &IntervalSharder{
		loci:    loci.Locs(),
		indices: indices,
		cursors: make(map[string]*binTreeCursor, len(indices)),
	}
	for id := range indices {
		s.files = append(s.files, id)
	}
	sort.Strings(s.files)
	s.advanceLocus()
	return s
}

func (s *IntervalSharder) advanceLocus() {
	if s.next < len(s.loci) {
		s.current = s.loci[s.next]
		s.next++
		s.hasCur = true
		return
	}
	s.hasCur = false
}

// nextOverlappingBinTree returns file id's first bin tree at or after locus,
// if it overlaps locus.  The tree is not consumed.
func (s *IntervalSharder) nextOverlappingBinTree(id string, locus interval.Loc) (*binTreeCursor, error) {
	c := s.cursors[id]
	if c == nil || c.index.RefID() != locus.RefID {
		if c != nil {
			c.it.Close() // nolint: errcheck
		}
		index, err := s.indices[id].BinIndex(locus.RefID)
		if err != nil {
			return nil, errors.E(err, id)
		}
		c = &binTreeCursor{index: index, it: NewBinTreeIterator(index)}
		c.advance()
		s.cursors[id] = c
	}
	for c.ok && c.tree.IsBefore(locus) {
		c.advance()
	}
	if c.ok && c.tree.Overlaps(locus) {
		return c, nil
	}
	return nil, nil
}

func (s *IntervalSharder) newEmptyPointer(locus interval.Loc) FilePointer {
	fp := NewFilePointer(locus.RefID, locus.RefName)
	for _, id := range s.files {
		fp.AddFileSpan(id, FileSpan{})
	}
	fp.AddLocation(locus)
	return fp
}

// Scan advances to the next FilePointer.  It returns false when the query
// intervals are exhausted or an error occurs.
func (s *IntervalSharder) Scan() bool {
	if s.closed {
		vlog.Panic("IntervalSharder: Scan after Close")
	}
	s.valid = false
	if s.err != nil || !s.hasCur {
		return false
	}
	locus := s.current

	if locus.IsUnmapped() {
		fp := NewUnmappedFilePointer()
		for _, id := range s.files {
			start := s.indices[id].StartOfLastLinearBin()
			if start < 0 {
				start = 0
			}
			fp.AddFileSpan(id, FileSpan{{Begin: ToOffset(uint64(start)), End: EndOfFile}})
		}
		s.advanceLocus()
		return s.emit(fp)
	}

	hits := make(map[string]*binTreeCursor, len(s.files))
	coveredStart := -1
	for _, id := range s.files {
		c, err := s.nextOverlappingBinTree(id, locus)
		if err != nil {
			s.err = err
			return false
		}
		if c == nil {
			continue
		}
		hits[id] = c
		if coveredStart < 0 || c.tree.Start < coveredStart {
			coveredStart = c.tree.Start
		}
	}

	// No file has content in this interval.
	if len(hits) == 0 {
		s.advanceLocus()
		return s.emit(s.newEmptyPointer(locus))
	}

	// All lowest-level windows share one geometry, so the trees starting at
	// coveredStart describe the same window.
	coveredStop := 0
	for id, c := range hits {
		if c.tree.Start != coveredStart {
			delete(hits, id)
			continue
		}
		coveredStop = c.tree.Stop
	}
	covered := interval.NewLoc(locus.RefID, locus.RefName, coveredStart, coveredStop)

	// The part of the interval before the first covered window has no data.
	if locus.Start < covered.Start {
		prefix := interval.NewLoc(locus.RefID, locus.RefName, locus.Start, covered.Start-1)
		s.current = interval.NewLoc(locus.RefID, locus.RefName, covered.Start, locus.Stop)
		return s.emit(s.newEmptyPointer(prefix))
	}

	fp := NewFilePointer(locus.RefID, locus.RefName)
	initial, _ := locus.Intersect(covered)
	fp.AddLocation(initial)
	for s.next < len(s.loci) && s.loci[s.next].Overlaps(covered) {
		s.current = s.loci[s.next]
		s.next++
		loc, _ := s.current.Intersect(covered)
		fp.AddLocation(loc)
	}
	if covered.Stop < s.current.Stop {
		s.current = interval.NewLoc(s.current.RefID, s.current.RefName, covered.Stop+1, s.current.Stop)
	} else {
		s.advanceLocus()
	}

	for _, id := range s.files {
		c, ok := hits[id]
		if !ok {
			fp.AddFileSpan(id, FileSpan{})
			continue
		}
		minOffset := c.index.LinearIndex().MinimumOffset(initial.Start)
		fp.AddFileSpan(id, FileSpan(OptimizeChunkList(c.tree.Chunks(), minOffset)))
	}
	return s.emit(fp)
}

func (s *IntervalSharder) emit(fp FilePointer) bool {
	vlog.VI(2).Infof("IntervalSharder: %v", fp)
	s.fp = fp
	s.valid = true
	return true
}

// FilePointer returns the pointer produced by the last successful Scan.
//
// REQUIRES: Scan returned true.
func (s *IntervalSharder) FilePointer() FilePointer {
	if !s.valid {
		vlog.Panic("IntervalSharder: FilePointer called without a successful Scan")
	}
	return s.fp
}

// Err returns the error encountered during iteration, if any.
func (s *IntervalSharder) Err() error { return s.err }

// Close releases the per-file iterators and returns Err().
func (s *IntervalSharder) Close() error {
	for _, c := range s.cursors {
		c.it.Close() // nolint: errcheck
	}
	s.cursors = nil
	s.closed = true
	s.valid = false
	return s.err
}

// ShardIntervals runs an IntervalSharder to completion.
func ShardIntervals(loci *interval.SortedSet, indices map[string]IndexSource) ([]FilePointer, error) {
	s := NewIntervalSharder(loci, indices)
	var fps []FilePointer
	for s.Scan() {
		fps = append(fps, s.FilePointer())
	}
	return fps, s.Close()
}

// GenomeIntervals returns a SortedSet covering every reference of header in
// full, plus the unmapped pseudo-locus if includeUnmapped is set.  Sharding it
// yields FilePointers for the whole file.
func GenomeIntervals(header *sam.Header, includeUnmapped bool) *interval.SortedSet {
	return interval.NewDictionary(header).Genome(includeUnmapped)
}
