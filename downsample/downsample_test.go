package downsample_test

import (
	"math/rand"
	"testing"

	"github.com/grailbio/bamlocus/downsample"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReservoirDownsampler(t *testing.T) {
	_, err := downsample.NewReservoirDownsampler(0, rand.New(rand.NewSource(0)))
	require.Error(t, err)
	_, err = downsample.NewReservoirDownsampler(3, nil)
	require.Error(t, err)

	d, err := downsample.NewReservoirDownsampler(3, rand.New(rand.NewSource(1)))
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		d.Submit(i)
	}
	expect.EQ(t, d.Consume(), []interface{}{0, 1})
	expect.EQ(t, d.NumDiscarded(), 0)

	for i := 0; i < 100; i++ {
		d.Submit(i)
	}
	expect.EQ(t, d.Len(), 3)
	got := d.Consume()
	require.Len(t, got, 3)
	for i := 1; i < len(got); i++ {
		assert.True(t, got[i-1].(int) < got[i].(int), "%v", got)
	}
	expect.EQ(t, d.NumDiscarded(), 97)
	expect.EQ(t, d.Len(), 0)
	d.Reset()
	expect.EQ(t, d.NumDiscarded(), 0)
}

func TestReservoirIsUnbiased(t *testing.T) {
	const n, target, trials = 10, 2, 20000
	counts := make([]int, n)
	d, err := downsample.NewReservoirDownsampler(target, rand.New(rand.NewSource(0)))
	require.NoError(t, err)
	for trial := 0; trial < trials; trial++ {
		for i := 0; i < n; i++ {
			d.Submit(i)
		}
		for _, item := range d.Consume() {
			counts[item.(int)]++
		}
	}
	want := trials * target / n
	for i, c := range counts {
		assert.InDelta(t, want, c, float64(want)/5, "item %d", i)
	}
}

func TestPassThroughDownsampler(t *testing.T) {
	d := downsample.NewPassThroughDownsampler()
	d.Submit("a")
	d.Submit("b")
	expect.EQ(t, d.Len(), 2)
	expect.EQ(t, d.Consume(), []interface{}{"a", "b"})
	expect.EQ(t, d.NumDiscarded(), 0)
	expect.EQ(t, d.Len(), 0)
}

type intGroup struct{ items []int }

func (g *intGroup) Len() int { return len(g.items) }
func (g *intGroup) Remove(i int) {
	g.items = append(g.items[:i], g.items[i+1:]...)
}

func newGroups(sizes ...int) []downsample.Group {
	groups := make([]downsample.Group, len(sizes))
	for i, n := range sizes {
		g := &intGroup{}
		for j := 0; j < n; j++ {
			g.items = append(g.items, j)
		}
		groups[i] = g
	}
	return groups
}

func sizes(groups []downsample.Group) []int {
	var s []int
	for _, g := range groups {
		s = append(s, g.Len())
	}
	return s
}

func TestLevelingDownsampler(t *testing.T) {
	_, err := downsample.NewLevelingDownsampler(-1, rand.New(rand.NewSource(0)))
	require.Error(t, err)

	tests := []struct {
		target  int
		sizes   []int
		want    []int
		removed int
	}{
		{10, []int{3, 3}, []int{3, 3}, 0},
		{6, []int{10, 2, 1}, []int{3, 2, 1}, 7},
		{4, []int{5, 5}, []int{2, 2}, 6},
		{5, []int{5, 5}, []int{2, 3}, 5},
		// The per-group floor wins over the target.
		{2, []int{1, 4, 1, 2}, []int{1, 1, 1, 1}, 4},
	}
	for _, tt := range tests {
		d, err := downsample.NewLevelingDownsampler(tt.target, rand.New(rand.NewSource(0)))
		require.NoError(t, err)
		groups := newGroups(tt.sizes...)
		expect.EQ(t, d.Level(groups), tt.removed, "%+v", tt)
		expect.EQ(t, sizes(groups), tt.want, "%+v", tt)
	}
}
