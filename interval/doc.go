// Package interval implements the genome-coordinate model shared by the
// index, sharding and pileup packages.
//
// A Loc is a 1-based, closed interval [Start, Stop] on one reference sequence,
// which matches the bin geometry of .bai indexes.  Sets of query intervals are
// kept in a SortedSet, which merges overlapping intervals on insertion and
// iterates them in reference-then-position order.  Intervals can be loaded from
// BED files (0-based, half-open) or from samtools-style region strings.
package interval
