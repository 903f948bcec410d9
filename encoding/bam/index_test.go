package bam

import (
	"bytes"
	"encoding/binary"
	"io"
	"io/ioutil"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func toInt(t *testing.T, s string) int {
	i, err := strconv.Atoi(s)
	require.Nil(t, err)
	return i
}

// writeBin writes the bins of one reference.  s has the form
// "bin,beg,end,beg,end:bin,beg,end", with raw virtual offsets.
func writeBin(t *testing.T, w io.Writer, s string) {
	var bins []string
	if s != "" {
		bins = strings.Split(s, ":")
	}
	// Write the number of bins
	err := binary.Write(w, binary.LittleEndian, int32(len(bins)))
	assert.Nil(t, err)

	for _, bin := range bins {
		binContent := strings.Split(bin, ",")

		// Write the bin number
		err = binary.Write(w, binary.LittleEndian, uint32(toInt(t, binContent[0])))
		assert.Nil(t, err)
		binContent = binContent[1:]

		// Write the number of chunks
		err = binary.Write(w, binary.LittleEndian, int32(len(binContent)/2))
		assert.Nil(t, err)

		// Write the chunks
		for _, voffset := range binContent {
			err = binary.Write(w, binary.LittleEndian, uint64(toInt(t, voffset)))
			assert.Nil(t, err)
		}
	}
}

func writeIntervals(t *testing.T, w io.Writer, s string) {
	var intervals []string
	if s != "" {
		intervals = strings.Split(s, ",")
	}

	// Write the number of intervals
	err := binary.Write(w, binary.LittleEndian, int32(len(intervals)))
	assert.Nil(t, err)

	for _, voffset := range intervals {
		err = binary.Write(w, binary.LittleEndian, uint64(toInt(t, voffset)))
		assert.Nil(t, err)
	}
}

func writeIndex(t *testing.T, bins, intervals []string, unmapped int) *bytes.Buffer {
	var buf bytes.Buffer
	_, err := buf.Write(baiMagic[:])
	assert.Nil(t, err)

	err = binary.Write(&buf, binary.LittleEndian, int32(len(bins)))
	assert.Nil(t, err)

	for i := range bins {
		writeBin(t, &buf, bins[i])
		writeIntervals(t, &buf, intervals[i])
	}

	if unmapped >= 0 {
		err = binary.Write(&buf, binary.LittleEndian, uint64(unmapped))
		assert.Nil(t, err)
	}
	return &buf
}

var testBins = []string{
	"100,1,2:200,3,4:37450,5,6,7,8",
	"4681,10,22:585,30,40:0,5,50",
	"37450,5,6,7,8",
	"200,100002,200003", // Use a voffset larger than 16 bits to check that .File is parsed.
}

var testIntervals = []string{
	"1000,1001",
	"2000,2001",
	"",
	"103000,103001", // Use a voffset larger than 16 bits to check that .File is parsed.
}

func TestReadIndex(t *testing.T) {
	tests := []struct {
		bins      []string
		intervals []string
		unmapped  int
	}{
		{testBins, testIntervals, 999},
		{[]string{"100,1,2:200,3,4:37450,5,6,7,8"}, []string{"1000,1001"}, -1},
	}

	for _, test := range tests {
		buf := writeIndex(t, test.bins, test.intervals, test.unmapped)
		index, err := ReadIndex(buf)
		require.Nil(t, err)

		assert.Equal(t, baiMagic, index.Magic)
		require.Equal(t, len(test.bins), len(index.Refs))
		for refID := range test.bins {
			binCount := 0
			for _, binString := range strings.Split(test.bins[refID], ":") {
				binInfo := strings.Split(binString, ",")
				if toInt(t, binInfo[0]) == MetadataBin {
					meta := index.Refs[refID].Meta
					require.NotNil(t, meta)
					assert.Equal(t, uint64(toInt(t, binInfo[1])), meta.UnmappedBegin)
					assert.Equal(t, uint64(toInt(t, binInfo[2])), meta.UnmappedEnd)
					assert.Equal(t, uint64(toInt(t, binInfo[3])), meta.MappedCount)
					assert.Equal(t, uint64(toInt(t, binInfo[4])), meta.UnmappedCount)
					continue
				}
				bin := index.Refs[refID].Bins[binCount]
				assert.Equal(t, uint32(toInt(t, binInfo[0])), bin.BinNum)
				for i := 1; i < len(binInfo)-1; i += 2 {
					chunk := bin.Chunks[(i-1)/2]
					assert.Equal(t, int64(toInt(t, binInfo[i]))>>16, chunk.Begin.File)
					assert.Equal(t, uint16(toInt(t, binInfo[i])), chunk.Begin.Block)
					assert.Equal(t, int64(toInt(t, binInfo[i+1]))>>16, chunk.End.File)
					assert.Equal(t, uint16(toInt(t, binInfo[i+1])), chunk.End.Block)
				}
				binCount++
			}
			assert.Equal(t, binCount, len(index.Refs[refID].Bins))

			var intervals []string
			if test.intervals[refID] != "" {
				intervals = strings.Split(test.intervals[refID], ",")
			}
			require.Equal(t, len(intervals), len(index.Refs[refID].Intervals))
			for i, intervalStr := range intervals {
				assert.Equal(t, uint64(toInt(t, intervalStr)), VOffset(index.Refs[refID].Intervals[i]))
			}
		}
		if test.unmapped >= 0 {
			assert.Equal(t, uint64(test.unmapped), *index.UnmappedCount)
		} else {
			assert.Nil(t, index.UnmappedCount)
		}
	}
}

func TestAllOffsets(t *testing.T) {
	index, err := ReadIndex(writeIndex(t, testBins[:2], testIntervals[:2], -1))
	require.NoError(t, err)
	offsets := index.AllOffsets()
	require.Equal(t, 2, len(offsets))
	asV := func(offs []bgzf.Offset) []uint64 {
		v := make([]uint64, len(offs))
		for i, o := range offs {
			v[i] = VOffset(o)
		}
		return v
	}
	assert.Equal(t, []uint64{1, 3, 1000, 1001}, asV(offsets[0]))
	assert.Equal(t, []uint64{5, 10, 30, 2000, 2001}, asV(offsets[1]))
}

func TestStartOfLastLinearBin(t *testing.T) {
	index, err := ReadIndex(writeIndex(t, testBins, testIntervals, 0))
	require.NoError(t, err)
	assert.Equal(t, int64(103001), index.StartOfLastLinearBin())

	index, err = ReadIndex(writeIndex(t, testBins[2:3], testIntervals[2:3], 0))
	require.NoError(t, err)
	assert.Equal(t, int64(-1), index.StartOfLastLinearBin())
}

func TestNewBinIndex(t *testing.T) {
	buf := writeIndex(t, testBins, testIntervals, 999)
	idx, err := NewBinIndex(buf, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, idx.RefID())
	assert.Equal(t, 3, idx.NumBins())
	assert.Nil(t, idx.Metadata())
	var nums []uint32
	for _, b := range idx.Bins() {
		nums = append(nums, b.BinNum)
	}
	assert.Equal(t, []uint32{0, 585, 4681}, nums)
	assert.Equal(t, []Chunk{NewChunk(10, 22)}, idx.ContentsOfBin(4681))
	assert.Nil(t, idx.Bin(100))
	assert.Equal(t, 2, idx.LinearIndex().Size())

	idx, err = NewBinIndex(writeIndex(t, testBins, testIntervals, 999), 2)
	require.NoError(t, err)
	assert.Equal(t, 0, idx.NumBins())
	require.NotNil(t, idx.Metadata())
	assert.Equal(t, uint64(8), idx.Metadata().UnmappedCount)
}

func TestNewBinIndexErrors(t *testing.T) {
	_, err := NewBinIndex(writeIndex(t, testBins, testIntervals, 999), 4)
	require.Error(t, err)
	assert.True(t, errors.Is(errors.Invalid, err), "%v", err)

	_, err = NewBinIndex(writeIndex(t, testBins, testIntervals, 999), -1)
	assert.True(t, errors.Is(errors.Invalid, err), "%v", err)

	buf := writeIndex(t, testBins, testIntervals, 999)
	buf.Bytes()[3] = 2
	_, err = NewBinIndex(buf, 0)
	assert.True(t, errors.Is(errors.Invalid, err), "%v", err)
	_, err = ReadIndex(bytes.NewReader(buf.Bytes()))
	assert.True(t, errors.Is(errors.Invalid, err), "%v", err)

	buf = writeIndex(t, testBins, testIntervals, -1)
	truncated := buf.Bytes()[:buf.Len()-12]
	_, err = NewBinIndex(bytes.NewReader(truncated), 3)
	assert.Error(t, err)
	_, err = ReadIndex(bytes.NewReader(truncated))
	assert.Error(t, err)

	_, err = ReadIndex(writeIndex(t, []string{"40000,1,2"}, []string{""}, -1))
	assert.True(t, errors.Is(errors.Invalid, err), "%v", err)
}

func TestOpenBinIndex(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(tmpDir, "test.bam.bai")
	require.NoError(t, ioutil.WriteFile(path, writeIndex(t, testBins, testIntervals, 999).Bytes(), 0644))

	ctx := vcontext.Background()
	idx, err := OpenBinIndex(ctx, path, 3)
	require.NoError(t, err)
	assert.Equal(t, []Chunk{NewChunk(100002, 200003)}, idx.ContentsOfBin(200))

	index, err := LoadIndex(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 4, len(index.Refs))

	_, err = OpenBinIndex(ctx, filepath.Join(tmpDir, "missing.bai"), 0)
	assert.Error(t, err)
}

func TestSpanOverlapping(t *testing.T) {
	v := func(file int64) uint64 { return uint64(file) << 16 }
	index := &Index{Refs: []Reference{{
		Bins: []Bin{
			{BinNum: 0, Chunks: []Chunk{NewChunk(v(1), v(2))}},
			{BinNum: 1, Chunks: []Chunk{NewChunk(v(2), v(3))}},
			{BinNum: 9, Chunks: []Chunk{NewChunk(v(50), v(60))}},
			{BinNum: 4682, Chunks: []Chunk{NewChunk(v(10), v(12))}},
			{BinNum: 585, Chunks: []Chunk{NewChunk(v(12), v(20))}},
			{BinNum: 4690, Chunks: []Chunk{NewChunk(v(100), v(101))}},
		},
		Intervals: []bgzf.Offset{ToOffset(v(1)), ToOffset(v(11))},
	}}}
	idx, err := index.BinIndex(0)
	require.NoError(t, err)

	// Bin 4682 covers [16385, 32768]; its ancestors are 585, 73 (absent), 9, 1
	// and 0.  The linear index minimum at 16385 is v(11), which drops bin 0's
	// and bin 1's chunks.
	span, err := idx.SpanOverlapping(4682)
	require.NoError(t, err)
	assert.Equal(t, FileSpan{NewChunk(v(10), v(20)), NewChunk(v(50), v(60))}, span)

	span, err = idx.SpanOverlapping(4681)
	require.NoError(t, err)
	assert.Equal(t, FileSpan{NewChunk(v(1), v(3)), NewChunk(v(12), v(20)), NewChunk(v(50), v(60))}, span)

	span, err = idx.SpanOverlapping(37000)
	require.NoError(t, err)
	assert.True(t, span.IsEmpty())
	assert.NotNil(t, span)

	_, err = idx.SpanOverlapping(MaxBins)
	assert.Error(t, err)

	span = idx.SpanOverlappingRegion(16385, 16400)
	assert.Equal(t, FileSpan{NewChunk(v(10), v(20)), NewChunk(v(50), v(60))}, span)
}

func TestLinearIndex(t *testing.T) {
	l := &LinearIndex{Entries: []bgzf.Offset{ToOffset(100), ToOffset(200), ToOffset(300)}}
	assert.Equal(t, uint64(100), l.MinimumOffset(1))
	assert.Equal(t, uint64(100), l.MinimumOffset(16384))
	assert.Equal(t, uint64(200), l.MinimumOffset(16385))
	assert.Equal(t, uint64(300), l.MinimumOffset(1<<20))
	assert.Equal(t, uint64(0), (&LinearIndex{}).MinimumOffset(1))
	_, ok := l.Entry(3)
	assert.False(t, ok)
	e, ok := l.Entry(1)
	assert.True(t, ok)
	assert.Equal(t, ToOffset(200), e)
}
