// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package pileup

import (
	"math/rand"

	farm "github.com/dgryski/go-farm"
	"github.com/grailbio/bamlocus/interval"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
)

// Opts configures a LocusIterator.
type Opts struct {
	// Samples lists the samples whose reads enter the pileup.  Reads of other
	// samples are dropped.
	Samples []string
	// SampleOf maps a read to its sample.  It may be nil when Samples has one
	// entry, in which case every read belongs to that sample.
	SampleOf func(*sam.Record) string
	// DownsampleToCoverage caps the number of active reads per sample.  Zero
	// disables downsampling.
	DownsampleToCoverage int
	// Seed seeds the per-sample downsampling random sources.
	Seed int64
	// IncludeDeletions adds an element for reads with a deletion at the
	// position.
	IncludeDeletions bool
	// FilterAdaptorBases drops bases that lie in the read's adaptor, as
	// inferred from the insert size.
	FilterAdaptorBases bool
	// Bounds, if non-nil, restricts the reported positions to these sorted,
	// disjoint locations.  Reads overlapping a boundary are still walked.
	Bounds []interval.Loc
}

// DefaultOpts is the default LocusIterator configuration.
var DefaultOpts = Opts{
	IncludeDeletions: true,
}

// LocusIterator produces the pileup of every covered reference position of a
// coordinate-sorted read stream, in order.  Thread compatible.
//
// Example:
//   it, err := pileup.NewLocusIterator(src, opts)
//   ...
//   for it.Scan() {
//     p := it.Pileup()
//     ...
//   }
//   err = it.Close()
type LocusIterator struct {
	opts   Opts
	states *ReadStateManager

	pileup   Pileup
	boundIdx int
	err      error
	closed   bool
}

// sampleSeed mixes the iterator seed with the sample name, so that samples
// draw from independent, reproducible streams.
func sampleSeed(seed int64, sample string) int64 {
	return seed ^ int64(farm.Hash64([]byte(sample)))
}

// NewLocusIterator creates an iterator over src.
func NewLocusIterator(src RecordSource, opts Opts) (*LocusIterator, error) {
	if opts.SampleOf == nil {
		switch len(opts.Samples) {
		case 0:
			opts.SampleOf = func(*sam.Record) string { return "" }
		case 1:
			sample := opts.Samples[0]
			opts.SampleOf = func(*sam.Record) string { return sample }
		default:
			return nil, errors.E(errors.Invalid, "pileup: SampleOf must be set when there are several samples")
		}
	}
	if opts.DownsampleToCoverage < 0 {
		return nil, errors.E(errors.Invalid, "pileup: negative DownsampleToCoverage")
	}
	newRand := func(sample string) *rand.Rand {
		return rand.New(rand.NewSource(sampleSeed(opts.Seed, sample)))
	}
	states, err := newReadStateManager(src, opts.Samples, opts.SampleOf, opts.DownsampleToCoverage, newRand)
	if err != nil {
		return nil, err
	}
	return &LocusIterator{opts: opts, states: states}, nil
}

// Scan advances to the next position that has at least one pileup element.
// It returns false at the end of the input or on error.
func (it *LocusIterator) Scan() bool {
	if it.closed {
		log.Panicf("pileup: Scan after Close")
	}
	if it.err != nil {
		return false
	}
	if len(it.opts.Samples) == 0 {
		if it.states.HasNext() {
			it.err = errors.E(errors.Invalid, "pileup: no samples given for a non-empty read stream")
		} else {
			it.err = it.states.err
		}
		return false
	}
	for it.states.HasNext() {
		if err := it.states.CollectPendingReads(); err != nil {
			it.err = err
			return false
		}
		first := it.states.First()
		if first == nil {
			continue
		}
		ref, pos := first.Read().Ref, first.GenomePosition()
		loc := interval.NewLoc(ref.ID(), ref.Name(), pos, pos)
		p := it.buildPileup(loc)
		it.states.updateReadStates()
		if len(p.BySample) > 0 && it.inBounds(loc) {
			it.pileup = p
			return true
		}
	}
	it.err = it.states.err
	return false
}

func (it *LocusIterator) inBounds(loc interval.Loc) bool {
	bounds := it.opts.Bounds
	if bounds == nil {
		return true
	}
	for it.boundIdx < len(bounds) && bounds[it.boundIdx].IsBefore(loc) {
		it.boundIdx++
	}
	return it.boundIdx < len(bounds) && bounds[it.boundIdx].ContainsPos(loc.RefID, loc.Start)
}

// buildPileup collects the elements of every active state at loc.
func (it *LocusIterator) buildPileup(loc interval.Loc) Pileup {
	p := Pileup{Loc: loc, BySample: map[string][]Element{}}
	for _, sample := range it.opts.Samples {
		var elems []Element
		it.states.managers[sample].Each(func(s *AlignmentStateMachine) {
			if e, ok := it.newElement(s); ok {
				elems = append(elems, e)
			}
		})
		if len(elems) > 0 {
			p.BySample[sample] = elems
		}
	}
	return p
}

// newElement classifies the base of s at the current position.  ok is false
// when the read contributes nothing there.
func (it *LocusIterator) newElement(s *AlignmentStateMachine) (e Element, ok bool) {
	cur := s.CurrentCigarElement()
	nextIdx, lastIdx := s.peekForwardIdx(), s.peekBackwardIdx()
	next, last := s.elementAt(nextIdx), s.elementAt(lastIdx)
	single := nextIdx == lastIdx
	read := s.Read()

	e = Element{
		Read:              read,
		Offset:            s.ReadOffset(),
		IsBeforeDeletion:  next.Type() == sam.CigarDeletion,
		IsAfterDeletion:   last.Type() == sam.CigarDeletion,
		IsBeforeInsertion: next.Type() == sam.CigarInsertion,
		IsAfterInsertion:  last.Type() == sam.CigarInsertion && !single,
		IsNextToSoftClip: next.Type() == sam.CigarSoftClipped ||
			(s.GenomeOffset() == 0 && softClippedStart(read) != read.Pos),
		NextElementLength: -1,
	}
	switch cur.Type() {
	case sam.CigarSkipped:
		return e, false
	case sam.CigarDeletion:
		if !it.opts.IncludeDeletions {
			return e, false
		}
		e.IsDeletion = true
		if next.Type() == sam.CigarDeletion {
			e.NextElementLength = next.Len()
		}
		return e, true
	}
	if it.opts.FilterAdaptorBases && isBaseInAdaptor(read, s.GenomePosition()) {
		return e, false
	}
	e.NextElementLength = next.Len()
	if e.IsBeforeInsertion {
		insertionOffset := 1
		if single {
			insertionOffset = 0
			e.Offset -= next.Len() - 1
		}
		start := e.Offset + insertionOffset
		if start >= 0 && start+next.Len() <= read.Seq.Length {
			e.InsertedBases = seqASCII(read.Seq, start, next.Len())
		}
	}
	return e, true
}

// softClippedStart returns the 0-based reference position where read would
// start if its leading soft clip were aligned.
func softClippedStart(read *sam.Record) int {
	start := read.Pos
	for _, op := range read.Cigar {
		t := op.Type()
		if t == sam.CigarSoftClipped {
			start -= op.Len()
		} else if t != sam.CigarHardClipped {
			break
		}
	}
	return start
}

// Pileup returns the pileup found by the last successful Scan.
func (it *LocusIterator) Pileup() Pileup { return it.pileup }

// Err returns the error that stopped the iteration, if any.
func (it *LocusIterator) Err() error { return it.err }

// Close releases the iterator and returns Err.  It does not close the
// source.
func (it *LocusIterator) Close() error {
	if it.closed {
		log.Panicf("pileup: double Close")
	}
	it.closed = true
	if n := it.states.nUnmapped; n > 0 {
		log.Debug.Printf("pileup: skipped %d unmapped reads", n)
	}
	if n := it.states.partitioner.NumUnregistered(); n > 0 {
		log.Printf("pileup: dropped %d reads of unregistered samples", n)
	}
	return it.err
}
