// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package bam reads BAM index (.bai) files and turns a set of genomic query
// intervals into an ordered list of FilePointers, the units of work handed to
// readers and walkers.
//
// The index is modeled as a six-level binning scheme (bin.go), per-bin lists
// of virtual-offset chunks (chunk.go) and a 16kb linear index
// (linear_index.go).  BinTreeIterator visits every lowest-level window that
// has index content, and IntervalSharder walks the query intervals against
// the bin trees of one or more BAM files to produce FilePointers.
//
// All genomic positions are 1-based and inclusive.
package bam
