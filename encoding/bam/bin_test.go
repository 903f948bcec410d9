package bam

import (
	"math/rand"
	"testing"

	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelForBin(t *testing.T) {
	tests := []struct {
		bin, level int
	}{
		{0, 0}, {1, 1}, {8, 1}, {9, 2}, {72, 2}, {73, 3}, {584, 3},
		{585, 4}, {4680, 4}, {4681, 5}, {37449, 5},
	}
	for _, tt := range tests {
		level, err := LevelForBin(tt.bin)
		expect.NoError(t, err)
		expect.EQ(t, level, tt.level, "bin %d", tt.bin)
	}
	_, err := LevelForBin(MaxBins)
	expect.NotNil(t, err)
	_, err = LevelForBin(-1)
	expect.NotNil(t, err)

	expect.EQ(t, LevelSize(0), 1)
	expect.EQ(t, LevelSize(1), 8)
	expect.EQ(t, LevelSize(4), 4096)
	expect.EQ(t, LevelSize(5), 32768)
}

func TestBinLociPartitionEachLevel(t *testing.T) {
	for level := 0; level < NumLevels; level++ {
		first := LevelStart(level)
		last := first + LevelSize(level) - 1
		require.Equal(t, 1, FirstLocusInBin(first), "level %d", level)
		require.Equal(t, BinGenomicSpan, LastLocusInBin(last), "level %d", level)
		for bin := first; bin <= last; bin++ {
			require.True(t, FirstLocusInBin(bin) <= LastLocusInBin(bin))
			if bin > first {
				require.Equal(t, LastLocusInBin(bin-1)+1, FirstLocusInBin(bin), "bin %d", bin)
			}
		}
	}
	assert.Equal(t, 16385, FirstLocusInBin(4682))
	assert.Equal(t, 32768, LastLocusInBin(4682))
}

func TestRegionToBins(t *testing.T) {
	bins := RegionToBins(1, 1)
	var got []int
	for n, ok := bins.NextSet(0); ok; n, ok = bins.NextSet(n + 1) {
		got = append(got, int(n))
	}
	assert.Equal(t, []int{0, 1, 9, 73, 585, 4681}, got)

	bins = RegionToBins(16000, 16385)
	assert.True(t, bins.Test(4681))
	assert.True(t, bins.Test(4682))
	assert.False(t, bins.Test(4683))
	assert.EqualValues(t, 7, bins.Count())

	assert.EqualValues(t, 0, RegionToBins(10, 5).Count())

	// Every record's own bin must be among the candidates for any region it
	// overlaps.
	r := rand.New(rand.NewSource(0))
	for i := 0; i < 1000; i++ {
		start := r.Intn(1<<28) + 1
		end := start + r.Intn(1<<18)
		bin := BinForRegion(start, end)
		qstart := start + r.Intn(end-start+1)
		assert.True(t, RegionToBins(qstart, qstart).Test(uint(bin)), "[%d,%d] bin %d", start, end, bin)
		assert.True(t, FirstLocusInBin(bin) <= start && end <= LastLocusInBin(bin))
	}
}

func TestBinForRegion(t *testing.T) {
	expect.EQ(t, BinForRegion(1, 16384), 4681)
	expect.EQ(t, BinForRegion(1, 16385), 585)
	expect.EQ(t, BinForRegion(16385, 16385), 4682)
	expect.EQ(t, BinForRegion(1, BinGenomicSpan), 0)
	expect.EQ(t, MaxBinNumberForSequenceLength(1<<14), 4682)
}
