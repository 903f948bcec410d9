// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package bam

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"io/ioutil"
	"sort"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/hts/bgzf"
	"v.io/x/lib/vlog"
)

var baiMagic = [4]byte{'B', 'A', 'I', 0x1}

// Index represents the content of a .bai index file (for use with a .bam file).
type Index struct {
	Magic         [4]byte
	Refs          []Reference
	UnmappedCount *uint64
}

// Reference represents the reference data within a .bai file.
type Reference struct {
	Bins      []Bin
	Intervals []bgzf.Offset
	Meta      *Metadata
}

// Bin represents the bin data within a .bai file.
type Bin struct {
	BinNum uint32
	Chunks []Chunk
}

// Metadata represents the contents of the metadata pseudo-bin.
type Metadata struct {
	UnmappedBegin uint64
	UnmappedEnd   uint64
	MappedCount   uint64
	UnmappedCount uint64
}

// indexReader decodes the little-endian .bai layout.  The first error sticks.
type indexReader struct {
	r   io.Reader
	buf [8]byte
	err error
}

func (ir *indexReader) readFull(n int) []byte {
	if ir.err != nil {
		return nil
	}
	if _, err := io.ReadFull(ir.r, ir.buf[:n]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		ir.err = errors.E(err, "bam index: truncated file")
		return nil
	}
	return ir.buf[:n]
}

func (ir *indexReader) int32() int32 {
	b := ir.readFull(4)
	if b == nil {
		return 0
	}
	return int32(binary.LittleEndian.Uint32(b))
}

func (ir *indexReader) uint64() uint64 {
	b := ir.readFull(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

func (ir *indexReader) count(what string) int {
	n := ir.int32()
	if ir.err == nil && n < 0 {
		ir.err = errors.E(errors.Invalid, fmt.Sprintf("bam index: negative %s count %d", what, n))
	}
	return int(n)
}

func (ir *indexReader) skip(n int64) {
	if ir.err != nil {
		return
	}
	if _, err := io.CopyN(ioutil.Discard, ir.r, n); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		ir.err = errors.E(err, "bam index: truncated file")
	}
}

func (ir *indexReader) header() int {
	var magic [4]byte
	if b := ir.readFull(4); b != nil {
		copy(magic[:], b)
	}
	if ir.err == nil && magic != baiMagic {
		ir.err = errors.E(errors.Invalid, fmt.Sprintf("bam index invalid magic: %v", magic))
	}
	return ir.count("reference")
}

// reference parses one reference's bins and linear index.
func (ir *indexReader) reference() Reference {
	binCount := ir.count("bin")
	ref := Reference{Bins: make([]Bin, 0, binCount)}
	for b := 0; b < binCount && ir.err == nil; b++ {
		binNum := uint32(ir.int32())
		chunkCount := ir.count("chunk")
		if ir.err != nil {
			break
		}
		bin := Bin{BinNum: binNum, Chunks: make([]Chunk, chunkCount)}
		for c := 0; c < chunkCount; c++ {
			begin := ir.uint64()
			end := ir.uint64()
			bin.Chunks[c] = NewChunk(begin, end)
		}
		switch {
		case binNum == MetadataBin:
			// If we have a metadata chunk, put it in ref.Meta instead of ref.Bins.
			if len(bin.Chunks) != 2 {
				ir.err = errors.E(errors.Invalid, fmt.Sprintf("bam index: invalid metadata chunk has %d chunks, should have 2", len(bin.Chunks)))
				break
			}
			ref.Meta = &Metadata{
				UnmappedBegin: VOffset(bin.Chunks[0].Begin),
				UnmappedEnd:   VOffset(bin.Chunks[0].End),
				MappedCount:   VOffset(bin.Chunks[1].Begin),
				UnmappedCount: VOffset(bin.Chunks[1].End),
			}
		case binNum > MetadataBin:
			ir.err = errors.E(errors.Invalid, fmt.Sprintf("bam index: invalid bin number %d", binNum))
		default:
			ref.Bins = append(ref.Bins, bin)
		}
	}
	intervalCount := ir.count("linear index")
	if ir.err != nil {
		return ref
	}
	ref.Intervals = make([]bgzf.Offset, intervalCount)
	for i := 0; i < intervalCount; i++ {
		ref.Intervals[i] = ToOffset(ir.uint64())
	}
	return ref
}

// skipReference consumes one reference without retaining it.  It returns the
// last linear-index entry, or -1 if the reference has none.
func (ir *indexReader) skipReference() int64 {
	binCount := ir.count("bin")
	for b := 0; b < binCount && ir.err == nil; b++ {
		ir.skip(4)
		chunkCount := ir.count("chunk")
		ir.skip(16 * int64(chunkCount))
	}
	intervalCount := ir.count("linear index")
	if intervalCount == 0 || ir.err != nil {
		return -1
	}
	ir.skip(8 * int64(intervalCount-1))
	return int64(ir.uint64())
}

// ReadIndex parses the content of r and returns an Index or nil and an error.
func ReadIndex(r io.Reader) (*Index, error) {
	ir := indexReader{r: r}
	refCount := ir.header()
	if ir.err != nil {
		return nil, ir.err
	}
	i := &Index{Magic: baiMagic, Refs: make([]Reference, refCount)}
	for refID := 0; refID < refCount; refID++ {
		i.Refs[refID] = ir.reference()
		if ir.err != nil {
			return nil, ir.err
		}
	}
	var buf [8]byte
	n, err := io.ReadFull(r, buf[:])
	switch {
	case err == nil:
		unmappedCount := binary.LittleEndian.Uint64(buf[:])
		i.UnmappedCount = &unmappedCount
	case err == io.EOF:
	case err == io.ErrUnexpectedEOF:
		return nil, errors.E(err, fmt.Sprintf("bam index: %d trailing bytes", n))
	default:
		return nil, errors.E(err, "bam index")
	}
	return i, nil
}

// LoadIndex reads the .bai file at path.
func LoadIndex(ctx context.Context, path string) (index *Index, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "open bam index")
	}
	defer file.CloseAndReport(ctx, in, &err)
	index, err = ReadIndex(bufio.NewReader(in.Reader(ctx)))
	if err != nil {
		return nil, errors.E(err, path)
	}
	vlog.VI(1).Infof("%s: loaded index with %d reference(s)", path, len(index.Refs))
	return index, nil
}

// BinIndex returns the view of reference refID.  It implements IndexSource.
func (i *Index) BinIndex(refID int) (*BinIndex, error) {
	if refID < 0 || refID >= len(i.Refs) {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("bam index: invalid sequence number %d (index has %d)", refID, len(i.Refs)))
	}
	return newBinIndex(refID, &i.Refs[refID]), nil
}

// StartOfLastLinearBin returns the virtual offset stored in the last
// linear-index entry of the last reference that has one, or -1 if no reference
// has a linear index (i.e., there are no mapped reads).  Unmapped reads are
// stored after this offset.
func (i *Index) StartOfLastLinearBin() int64 {
	last := int64(-1)
	for _, ref := range i.Refs {
		if n := len(ref.Intervals); n > 0 {
			last = int64(VOffset(ref.Intervals[n-1]))
		}
	}
	return last
}

// AllOffsets returns a map of chunk offsets in the index file, it
// includes chunk begin locations, and interval locations.  The Key of
// the map is the Reference ID, and the value is a slice of
// bgzf.Offsets.  The return map will have an entry for every
// reference ID, even if the list of offsets is empty.
func (i *Index) AllOffsets() map[int][]bgzf.Offset {
	m := make(map[int][]bgzf.Offset)
	for refID, ref := range i.Refs {
		var offsets []bgzf.Offset
		for _, bin := range ref.Bins {
			for _, chunk := range bin.Chunks {
				if VOffset(chunk.Begin) != 0 {
					offsets = append(offsets, chunk.Begin)
				}
			}
		}
		for _, interval := range ref.Intervals {
			if VOffset(interval) != 0 {
				offsets = append(offsets, interval)
			}
		}
		sort.Slice(offsets, func(i, j int) bool { return VOffset(offsets[i]) < VOffset(offsets[j]) })

		uniq := make([]bgzf.Offset, 0, len(offsets))
		for k, offset := range offsets {
			if k == 0 || offset != offsets[k-1] {
				uniq = append(uniq, offset)
			}
		}
		m[refID] = uniq
	}
	return m
}

// BinIndex is the index content of one reference sequence: its bins, addressed
// directly by bin number, and its linear index.
type BinIndex struct {
	refID  int
	bins   []*Bin // indexed by bin number; len MaxBins
	sorted []*Bin
	linear *LinearIndex
	meta   *Metadata
}

func newBinIndex(refID int, ref *Reference) *BinIndex {
	idx := &BinIndex{
		refID:  refID,
		bins:   make([]*Bin, MaxBins),
		sorted: make([]*Bin, 0, len(ref.Bins)),
		linear: &LinearIndex{RefID: refID, Entries: ref.Intervals},
		meta:   ref.Meta,
	}
	for k := range ref.Bins {
		b := &ref.Bins[k]
		if idx.bins[b.BinNum] == nil {
			idx.sorted = append(idx.sorted, b)
		}
		idx.bins[b.BinNum] = b
	}
	sort.Slice(idx.sorted, func(i, j int) bool { return idx.sorted[i].BinNum < idx.sorted[j].BinNum })
	return idx
}

// NewBinIndex parses the .bai content in r, retaining only reference refID.
// It fails if the magic number is wrong, if refID is not listed in the index,
// or if the content is truncated.
func NewBinIndex(r io.Reader, refID int) (*BinIndex, error) {
	ir := indexReader{r: r}
	refCount := ir.header()
	if ir.err != nil {
		return nil, ir.err
	}
	if refID < 0 || refID >= refCount {
		return nil, errors.E(errors.Invalid, fmt.Sprintf("bam index: invalid sequence number %d (index has %d)", refID, refCount))
	}
	for i := 0; i < refID; i++ {
		ir.skipReference()
		if ir.err != nil {
			return nil, ir.err
		}
	}
	ref := ir.reference()
	if ir.err != nil {
		return nil, ir.err
	}
	return newBinIndex(refID, &ref), nil
}

// OpenBinIndex is a wrapper for NewBinIndex that takes a path.
func OpenBinIndex(ctx context.Context, path string, refID int) (idx *BinIndex, err error) {
	in, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "open bam index")
	}
	defer file.CloseAndReport(ctx, in, &err)
	if idx, err = NewBinIndex(bufio.NewReader(in.Reader(ctx)), refID); err != nil {
		return nil, errors.E(err, path)
	}
	return idx, nil
}

// RefID returns the reference sequence this index covers.
func (b *BinIndex) RefID() int { return b.refID }

// NumBins returns the number of (non-metadata) bins present.
func (b *BinIndex) NumBins() int { return len(b.sorted) }

// Bin returns the bin with the given number, or nil.
func (b *BinIndex) Bin(n int) *Bin {
	if n < 0 || n >= MaxBins {
		return nil
	}
	return b.bins[n]
}

// Bins returns the bins present, sorted by bin number.  The caller must not
// modify the result.
func (b *BinIndex) Bins() []*Bin { return b.sorted }

// LinearIndex returns the reference's linear index.
func (b *BinIndex) LinearIndex() *LinearIndex { return b.linear }

// Metadata returns the contents of the metadata pseudo-bin, or nil.
func (b *BinIndex) Metadata() *Metadata { return b.meta }

// ContentsOfBin returns the raw chunks of bin n, or nil if absent.
func (b *BinIndex) ContentsOfBin(n int) []Chunk {
	if bin := b.Bin(n); bin != nil {
		return bin.Chunks
	}
	return nil
}

// SpanOverlapping returns the chunks that may contain records overlapping bin
// n: those of n itself, plus those of the one ancestor at each coarser level
// that covers n's first position.  Chunks ending before the linear-index
// minimum offset for n's first position are dropped.
func (b *BinIndex) SpanOverlapping(n int) (FileSpan, error) {
	binLevel, err := LevelForBin(n)
	if err != nil {
		return nil, err
	}
	firstLocus := FirstLocusInBin(n)
	var chunks []Chunk
	chunks = append(chunks, b.ContentsOfBin(n)...)
	for level := binLevel - 1; level >= 0; level-- {
		parent := (firstLocus-1)/binWidth(level) + levelStarts[level]
		chunks = append(chunks, b.ContentsOfBin(parent)...)
	}
	return FileSpan(OptimizeChunkList(chunks, b.linear.MinimumOffset(firstLocus))), nil
}

// SpanOverlappingRegion returns the chunks that may contain records
// overlapping the 1-based closed region [start, end].
func (b *BinIndex) SpanOverlappingRegion(start, end int) FileSpan {
	bins := RegionToBins(start, end)
	var chunks []Chunk
	for n, ok := bins.NextSet(0); ok; n, ok = bins.NextSet(n + 1) {
		chunks = append(chunks, b.ContentsOfBin(int(n))...)
	}
	return FileSpan(OptimizeChunkList(chunks, b.linear.MinimumOffset(start)))
}
