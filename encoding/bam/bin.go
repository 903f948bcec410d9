// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bam

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/willf/bitset"
	"v.io/x/lib/vlog"
)

const (
	// NumLevels is the depth of the .bai bin hierarchy.
	NumLevels = 6
	// MaxBins is one past the largest regular bin number.
	MaxBins = 37450
	// MetadataBin is the pseudo-bin that carries per-reference metadata.
	MetadataBin = MaxBins
	// BinGenomicSpan is the number of positions addressable by the bin
	// hierarchy.
	BinGenomicSpan = 512 * 1024 * 1024
	// LinearIndexShift is log2 of the linear-index window size (16kb).
	LinearIndexShift = 14
)

var levelStarts = [NumLevels]int{0, 1, 9, 73, 585, 4681}

// LevelStart returns the first bin number at the given level.  Level 0 is the
// coarsest.
func LevelStart(level int) int { return levelStarts[level] }

// LevelSize returns the number of bins at the given level.
func LevelSize(level int) int {
	if level == NumLevels-1 {
		return MaxBins - levelStarts[level] - 1
	}
	return levelStarts[level+1] - levelStarts[level]
}

// LevelForBin returns the level containing bin.
func LevelForBin(bin int) (int, error) {
	if bin < 0 || bin >= MaxBins {
		return 0, errors.E(errors.Invalid, fmt.Sprintf("bam: invalid bin number %d", bin))
	}
	for level := NumLevels - 1; level >= 0; level-- {
		if bin >= levelStarts[level] {
			return level, nil
		}
	}
	panic(bin)
}

func mustLevelForBin(bin int) int {
	level, err := LevelForBin(bin)
	if err != nil {
		vlog.Panicf("%v", err)
	}
	return level
}

// binWidth returns the number of positions covered by one bin at level.
func binWidth(level int) int {
	levelStart := levelStarts[level]
	var levelEnd int
	if level == NumLevels-1 {
		levelEnd = MaxBins - 1
	} else {
		levelEnd = levelStarts[level+1]
	}
	return BinGenomicSpan / (levelEnd - levelStart)
}

// FirstLocusInBin returns the first 1-based position covered by bin.
//
// REQUIRES: 0 <= bin < MaxBins.
func FirstLocusInBin(bin int) int {
	level := mustLevelForBin(bin)
	return (bin-levelStarts[level])*binWidth(level) + 1
}

// LastLocusInBin returns the last 1-based position covered by bin.
//
// REQUIRES: 0 <= bin < MaxBins.
func LastLocusInBin(bin int) int {
	level := mustLevelForBin(bin)
	return (bin - levelStarts[level] + 1) * binWidth(level)
}

// RegionToBins returns the set of bins that may hold records overlapping the
// 1-based closed region [start, end].  The set is empty when start > end.
func RegionToBins(start, end int) *bitset.BitSet {
	const maxPos = 0x1FFFFFFF
	bins := bitset.New(MaxBins)
	if start > end {
		return bins
	}
	s := uint((start - 1) & maxPos)
	e := uint((end - 1) & maxPos)
	bins.Set(0)
	for level := 1; level < NumLevels; level++ {
		shift := uint(29 - 3*level)
		first := uint(levelStarts[level])
		for k := first + (s >> shift); k <= first+(e>>shift); k++ {
			bins.Set(k)
		}
	}
	return bins
}

// BinForRegion returns the smallest bin that fully contains the 1-based closed
// region [start, end], as computed by the SAM reg2bin routine.
func BinForRegion(start, end int) int {
	beg, stop := start-1, end
	stop--
	for level := NumLevels - 1; level > 0; level-- {
		shift := uint(29 - 3*level)
		if beg>>shift == stop>>shift {
			return levelStarts[level] + beg>>shift
		}
	}
	return 0
}

// MaxBinNumberForSequenceLength returns the largest lowest-level bin that a
// reference of the given length can use.
func MaxBinNumberForSequenceLength(length int) int {
	return levelStarts[NumLevels-1] + (length >> LinearIndexShift)
}
