// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bam

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/grailbio/bamlocus/interval"
	"github.com/grailbio/base/errors"
)

// FilePointer is one schedulable unit of work: a list of genomic locations on
// one reference, plus the chunks to read from each BAM file to cover them.
// FileSpans is keyed by file identifier (usually the BAM path).  A file
// without an entry, or with an empty span, has no records in the locations.
//
// FilePointers are built by IntervalSharder and are not modified afterwards;
// they may be handed to other goroutines freely.
type FilePointer struct {
	RefName   string
	RefID     int
	FileSpans map[string]FileSpan
	Locations []interval.Loc
	// Unmapped is set for the pointer that covers unmapped reads.
	Unmapped bool
}

// NewFilePointer creates an empty FilePointer for the given reference.
func NewFilePointer(refID int, refName string) FilePointer {
	return FilePointer{RefID: refID, RefName: refName, FileSpans: map[string]FileSpan{}}
}

// NewUnmappedFilePointer creates the FilePointer that covers unmapped reads.
func NewUnmappedFilePointer() FilePointer {
	return FilePointer{
		RefID:     interval.UnmappedRefID,
		RefName:   interval.Unmapped.RefName,
		FileSpans: map[string]FileSpan{},
		Locations: []interval.Loc{interval.Unmapped},
		Unmapped:  true,
	}
}

// AddLocation appends loc.  Only used while the FilePointer is being built.
func (fp *FilePointer) AddLocation(loc interval.Loc) {
	fp.Locations = append(fp.Locations, loc)
}

// AddFileSpan records the span to read from file id, merging with any span
// already present.  Only used while the FilePointer is being built.
func (fp *FilePointer) AddFileSpan(id string, span FileSpan) {
	if old, ok := fp.FileSpans[id]; ok {
		span = old.Union(span)
	}
	fp.FileSpans[id] = span
}

// FileIDs returns the file identifiers with a span, sorted.
func (fp FilePointer) FileIDs() []string {
	ids := make([]string, 0, len(fp.FileSpans))
	for id := range fp.FileSpans {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsEmpty returns true if no file has data for this pointer.
func (fp FilePointer) IsEmpty() bool {
	for _, span := range fp.FileSpans {
		if !span.IsEmpty() {
			return false
		}
	}
	return true
}

// Size returns the approximate number of compressed bytes to read, summed over
// all files.
func (fp FilePointer) Size() int64 {
	var n int64
	for _, span := range fp.FileSpans {
		n += span.Size()
	}
	return n
}

// Combine returns a FilePointer covering the locations and spans of both fp
// and other.  Overlapping or adjacent locations are merged.  Both pointers must
// be mapped pointers on the same reference, or both unmapped.
func (fp FilePointer) Combine(other FilePointer) (FilePointer, error) {
	if fp.Unmapped != other.Unmapped {
		return FilePointer{}, errors.E(errors.Invalid, "bam.FilePointer.Combine: cannot combine mapped and unmapped pointers")
	}
	if fp.RefID != other.RefID {
		return FilePointer{}, errors.E(errors.Invalid,
			fmt.Sprintf("bam.FilePointer.Combine: pointers are on different references (%s, %s)", fp.RefName, other.RefName))
	}
	combined := FilePointer{
		RefID:     fp.RefID,
		RefName:   fp.RefName,
		Unmapped:  fp.Unmapped,
		FileSpans: map[string]FileSpan{},
	}
	if fp.Unmapped {
		combined.Locations = []interval.Loc{interval.Unmapped}
	} else {
		locs := make([]interval.Loc, 0, len(fp.Locations)+len(other.Locations))
		locs = append(locs, fp.Locations...)
		locs = append(locs, other.Locations...)
		combined.Locations = mergeLocs(locs)
	}
	for id, span := range fp.FileSpans {
		combined.AddFileSpan(id, span)
	}
	for id, span := range other.FileSpans {
		combined.AddFileSpan(id, span)
	}
	return combined, nil
}

// Union combines a list of FilePointers on one reference into one.
func Union(fps []FilePointer) (FilePointer, error) {
	if len(fps) == 0 {
		return FilePointer{}, errors.E(errors.Invalid, "bam.Union: no file pointers")
	}
	result := fps[0]
	for _, fp := range fps[1:] {
		var err error
		if result, err = result.Combine(fp); err != nil {
			return FilePointer{}, err
		}
	}
	return result, nil
}

// mergeLocs sorts locs and merges those that overlap or touch.
func mergeLocs(locs []interval.Loc) []interval.Loc {
	sort.Slice(locs, func(i, j int) bool { return locs[i].Compare(locs[j]) < 0 })
	merged := make([]interval.Loc, 0, len(locs))
	for _, l := range locs {
		if n := len(merged); n > 0 && (merged[n-1].Overlaps(l) || merged[n-1].IsAdjacentTo(l)) {
			merged[n-1] = merged[n-1].Merge(l)
			continue
		}
		merged = append(merged, l)
	}
	return merged
}

func (fp FilePointer) String() string {
	var buf bytes.Buffer
	if fp.Unmapped {
		buf.WriteString("unmapped")
	} else {
		buf.WriteString(fp.RefName)
	}
	buf.WriteString(" locs:")
	for _, l := range fp.Locations {
		fmt.Fprintf(&buf, " %v", l)
	}
	for _, id := range fp.FileIDs() {
		fmt.Fprintf(&buf, " %s:%v", id, fp.FileSpans[id])
	}
	return buf.String()
}
