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
	"fmt"
	"sort"
	"strings"

	"github.com/grailbio/bamlocus/interval"
	"github.com/grailbio/hts/sam"
)

// DeletionBase is reported by Element.Base for deletions.
const DeletionBase = 'D'

// DeletionQual is reported by Element.Qual for deletions.
const DeletionQual = 16

// Element is one read's contribution to the pileup at a position.
type Element struct {
	Read *sam.Record
	// Offset is the 0-based offset of the base in Read.  For a deletion it is
	// the offset of the last aligned base before the deletion.
	Offset int

	IsDeletion        bool
	IsBeforeDeletion  bool
	IsAfterDeletion   bool
	IsBeforeInsertion bool
	IsAfterInsertion  bool
	IsNextToSoftClip  bool

	// InsertedBases holds the bases of the insertion that follows this base,
	// if IsBeforeInsertion.
	InsertedBases string
	// NextElementLength is the length of the cigar element holding the next
	// base.  For a deletion it is set only when the deletion continues, and
	// is -1 otherwise.
	NextElementLength int
}

// Base returns the ASCII base at the element, or DeletionBase.
func (e Element) Base() byte {
	if e.IsDeletion {
		return DeletionBase
	}
	return Seq8ToASCIITable[seqNibble(e.Read.Seq, e.Offset)]
}

// BaseEnum returns the A/C/G/T/X enum of the base.  Deletions map to BaseX.
func (e Element) BaseEnum() byte {
	if e.IsDeletion {
		return BaseX
	}
	return Seq8ToEnumTable[seqNibble(e.Read.Seq, e.Offset)]
}

// Qual returns the phred base quality, or DeletionQual for deletions.
func (e Element) Qual() byte {
	if e.IsDeletion || e.Offset >= len(e.Read.Qual) {
		return DeletionQual
	}
	return e.Read.Qual[e.Offset]
}

// MappingQual returns the read's mapping quality.
func (e Element) MappingQual() byte { return e.Read.MapQ }

func (e Element) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s @ %d = %c Q%d", e.Read.Name, e.Offset, e.Base(), e.Qual())
	if e.IsBeforeInsertion {
		fmt.Fprintf(&b, " +%s", e.InsertedBases)
	}
	return b.String()
}

// Pileup is the set of elements covering one reference position, grouped by
// sample.  Samples with no element are absent from BySample.
type Pileup struct {
	// Loc covers exactly one base.
	Loc      interval.Loc
	BySample map[string][]Element
}

// Samples returns the sample names present in the pileup in sorted order.
func (p Pileup) Samples() []string {
	names := make([]string, 0, len(p.BySample))
	for name := range p.BySample {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Depth returns the number of elements across all samples.
func (p Pileup) Depth() int {
	n := 0
	for _, elems := range p.BySample {
		n += len(elems)
	}
	return n
}

// NumDeletions returns the number of deletion elements across all samples.
func (p Pileup) NumDeletions() int {
	return p.count(func(e Element) bool { return e.IsDeletion })
}

// NumMQ0 returns the number of elements whose read has mapping quality 0.
func (p Pileup) NumMQ0() int {
	return p.count(func(e Element) bool { return e.Read.MapQ == 0 })
}

func (p Pileup) count(fn func(e Element) bool) int {
	n := 0
	for _, elems := range p.BySample {
		for _, e := range elems {
			if fn(e) {
				n++
			}
		}
	}
	return n
}

// BaseCounts counts the A/C/G/T/X bases of one sample.  Deletions are not
// counted.
func BaseCounts(elems []Element) [NBaseEnum]int {
	var counts [NBaseEnum]int
	for _, e := range elems {
		if !e.IsDeletion {
			counts[e.BaseEnum()]++
		}
	}
	return counts
}

// StrandCounts counts the elements of one sample by the strand of their read
// pair; see GetStrand.
func StrandCounts(elems []Element) [3]int {
	var counts [3]int
	for _, e := range elems {
		counts[GetStrand(e.Read)]++
	}
	return counts
}
