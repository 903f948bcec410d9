package interval

import (
	"io/ioutil"
	"path/filepath"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDict(t *testing.T) *Dictionary {
	chr1, err := sam.NewReference("chr1", "", "", 1000, nil, nil)
	require.NoError(t, err)
	chr2, err := sam.NewReference("chr2", "", "", 500, nil, nil)
	require.NoError(t, err)
	header, err := sam.NewHeader(nil, []*sam.Reference{chr1, chr2})
	require.NoError(t, err)
	return NewDictionary(header)
}

func TestLocRelations(t *testing.T) {
	a := NewLoc(0, "chr1", 1, 5)
	b := NewLoc(0, "chr1", 6, 10)
	c := NewLoc(0, "chr1", 4, 8)
	d := NewLoc(1, "chr2", 1, 5)

	expect.False(t, a.Overlaps(b))
	expect.True(t, a.IsAdjacentTo(b))
	expect.True(t, a.Overlaps(c))
	expect.True(t, a.IsBefore(b))
	expect.True(t, b.IsPast(a))
	expect.True(t, a.IsBefore(d))
	expect.True(t, d.IsBefore(Unmapped))
	expect.False(t, Unmapped.IsBefore(d))
	expect.EQ(t, a.Size(), 5)

	i, ok := a.Intersect(c)
	expect.True(t, ok)
	expect.EQ(t, i, NewLoc(0, "chr1", 4, 5))
	_, ok = a.Intersect(b)
	expect.False(t, ok)
	expect.EQ(t, a.Merge(c), NewLoc(0, "chr1", 1, 8))
	expect.EQ(t, a.Compare(b), -1)
	expect.EQ(t, d.Compare(a), 1)
	expect.EQ(t, a.Compare(a), 0)
	expect.EQ(t, a.String(), "chr1:1-5")
}

func TestSortedSetMergesOverlapping(t *testing.T) {
	s := NewSortedSet(
		NewLoc(1, "chr2", 10, 20),
		NewLoc(0, "chr1", 100, 200),
		NewLoc(0, "chr1", 1, 5),
		NewLoc(0, "chr1", 6, 10),
		NewLoc(0, "chr1", 150, 300),
		NewLoc(0, "chr1", 90, 100),
	)
	expect.EQ(t, s.Locs(), []Loc{
		NewLoc(0, "chr1", 1, 5),
		NewLoc(0, "chr1", 6, 10),
		NewLoc(0, "chr1", 90, 300),
		NewLoc(1, "chr2", 10, 20),
	})
	expect.EQ(t, s.Size(), 5+5+211+11)
	expect.True(t, s.ContainsPos(0, 95))
	expect.False(t, s.ContainsPos(0, 50))
	expect.False(t, s.ContainsPos(1, 5))
	expect.EQ(t, s.Overlapping(NewLoc(0, "chr1", 4, 95)), []Loc{
		NewLoc(0, "chr1", 1, 5),
		NewLoc(0, "chr1", 6, 10),
		NewLoc(0, "chr1", 90, 300),
	})
	expect.False(t, s.HasUnmapped())
	s.Add(Unmapped)
	expect.True(t, s.HasUnmapped())
	expect.EQ(t, s.Locs()[s.Len()-1], Unmapped)
}

func TestParseRegionString(t *testing.T) {
	tests := []struct {
		region  string
		refName string
		start   int
		stop    int
	}{
		{"chr1:1-1000", "chr1", 1, 1000},
		{"chr1:1,000-2,000", "chr1", 1000, 2000},
		{"chr1:1000", "chr1", 1000, 1000},
		{"chr1", "chr1", 1, MaxPos},
	}
	for _, tt := range tests {
		result, err := ParseRegionString(tt.region)
		expect.NoError(t, err)
		expect.EQ(t, result.RefName, tt.refName)
		expect.EQ(t, result.Start, tt.start)
		expect.EQ(t, result.Stop, tt.stop)
	}
	for _, bad := range []string{"", ":1-2", "chr1:0", "chr1:10-5", "chr1:x-5"} {
		_, err := ParseRegionString(bad)
		expect.NotNil(t, err, bad)
	}
}

func TestParseRegions(t *testing.T) {
	dict := testDict(t)
	s, err := ParseRegions([]string{"chr2", "chr1:10-20", "unmapped"}, dict)
	require.NoError(t, err)
	assert.Equal(t, []Loc{
		NewLoc(0, "chr1", 10, 20),
		NewLoc(1, "chr2", 1, 500),
		Unmapped,
	}, s.Locs())

	_, err = ParseRegions([]string{"chrZ:1-2"}, dict)
	assert.Error(t, err)
}

func TestLoadBEDFromPath(t *testing.T) {
	tmpDir, cleanup := testutil.TempDir(t, "", "")
	defer cleanup()
	path := filepath.Join(tmpDir, "test.bed")
	content := "track name=test\n" +
		"chr1\t0\t5\n" +
		"chr1\t5\t10\n" +
		"chr1\t100\t100\n" +
		"chr2\t9\t20\tname\n" +
		"chr1\t50\t60\n"
	require.NoError(t, ioutil.WriteFile(path, []byte(content), 0644))

	s, err := LoadBEDFromPath(vcontext.Background(), path, testDict(t))
	require.NoError(t, err)
	assert.Equal(t, []Loc{
		NewLoc(0, "chr1", 1, 5),
		NewLoc(0, "chr1", 6, 10),
		NewLoc(0, "chr1", 51, 60),
		NewLoc(1, "chr2", 10, 20),
	}, s.Locs())
}

func TestGenome(t *testing.T) {
	dict := testDict(t)
	s := dict.Genome(true)
	assert.Equal(t, []Loc{
		NewLoc(0, "chr1", 1, 1000),
		NewLoc(1, "chr2", 1, 500),
		Unmapped,
	}, s.Locs())
	_, err := dict.NewLoc("chr1", 0, 10)
	assert.Error(t, err)
	l, err := dict.NewLoc("chr2", 400, 1000)
	require.NoError(t, err)
	assert.Equal(t, 500, l.Stop)
}
