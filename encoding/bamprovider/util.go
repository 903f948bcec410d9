package bamprovider

import (
	"github.com/grailbio/bamlocus/encoding/bam"
	"github.com/grailbio/bamlocus/interval"
	"github.com/grailbio/hts/sam"
)

type recordPlacement int

const (
	// The record ends before the next location; skip it.
	recordBefore recordPlacement = iota
	recordInside
	// The record, and every record after it in coordinate order, lies past
	// the last location.
	recordPast
)

// recordStop returns the 1-based closed end of rec's alignment.  Records that
// consume no reference bases occupy their start position.
func recordStop(rec *sam.Record) int {
	if end := rec.End(); end > rec.Pos {
		return end
	}
	return rec.Pos + 1
}

// classify places rec relative to fp's locations.  Records are assumed to
// arrive in coordinate order.
func classify(fp bam.FilePointer, rec *sam.Record) recordPlacement {
	if fp.Unmapped {
		if rec.Ref == nil {
			return recordInside
		}
		return recordBefore
	}
	if rec.Ref == nil || rec.Ref.ID() > fp.RefID {
		return recordPast
	}
	if rec.Ref.ID() < fp.RefID {
		return recordBefore
	}
	start, stop := rec.Pos+1, recordStop(rec)
	for _, loc := range fp.Locations {
		if start <= loc.Stop && loc.Start <= stop {
			return recordInside
		}
	}
	if n := len(fp.Locations); n == 0 || start > fp.Locations[n-1].Stop {
		return recordPast
	}
	return recordBefore
}

// RefByName finds a sam.Reference with the given name. It returns nil if a
// reference is not found.
func RefByName(h *sam.Header, refName string) *sam.Reference {
	for _, ref := range h.Refs() {
		if ref.Name() == refName {
			return ref
		}
	}
	return nil
}

// NewSharder loads the index of every provider and returns a sharder that
// produces FilePointers keyed by provider ID, one at a time.
func NewSharder(loci *interval.SortedSet, providers ...*BAMProvider) (*bam.IntervalSharder, error) {
	indices := make(map[string]bam.IndexSource, len(providers))
	for _, p := range providers {
		index, err := p.GetIndex()
		if err != nil {
			return nil, err
		}
		indices[p.ID()] = index
	}
	return bam.NewIntervalSharder(loci, indices), nil
}

// Shard is NewSharder run to completion.
func Shard(loci *interval.SortedSet, providers ...*BAMProvider) ([]bam.FilePointer, error) {
	s, err := NewSharder(loci, providers...)
	if err != nil {
		return nil, err
	}
	var fps []bam.FilePointer
	for s.Scan() {
		fps = append(fps, s.FilePointer())
	}
	return fps, s.Close()
}

// NewFilePointerIterator opens fp in every provider and merges the results
// into one coordinate-ordered stream.  Providers without a span in fp are
// skipped.
func NewFilePointerIterator(fp bam.FilePointer, providers ...Provider) Iterator {
	var iters []Iterator
	for _, p := range providers {
		if span := fp.FileSpans[p.ID()]; span.IsEmpty() {
			continue
		}
		iters = append(iters, p.NewIterator(fp))
	}
	if len(iters) == 1 {
		return iters[0]
	}
	return NewMergingIterator(iters...)
}
