// Package bamprovider provides utilities for reading a BAM file one
// FilePointer at a time.
//
// The Provider is an interface for reading the records of one BAM file that
// fall in a FilePointer produced by encoding/bam.IntervalSharder.
//
// NewMergingIterator combines the iterators of several files into one
// coordinate-ordered stream.
package bamprovider
