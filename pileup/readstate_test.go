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
	"math/rand"
	"testing"

	"github.com/grailbio/bamlocus/downsample"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

func newStates(t *testing.T, n, pos int, cigar string) []*AlignmentStateMachine {
	var states []*AlignmentStateMachine
	for i := 0; i < n; i++ {
		s, err := NewAlignmentStateMachine(newCigarRecord(t, "r", pos, cigar))
		require.NoError(t, err)
		_, ok := s.StepForwardOnGenome()
		require.True(t, ok)
		states = append(states, s)
	}
	return states
}

func TestPerSampleReadStateManager(t *testing.T) {
	m := NewPerSampleReadStateManager(nil)
	expect.True(t, m.IsEmpty())
	expect.Nil(t, m.Peek())
	m.AddStatesAtNextAlignmentStart(nil)
	expect.True(t, m.IsEmpty())

	a := newStates(t, 2, 0, "2M")
	m.AddStatesAtNextAlignmentStart(a)
	expect.EQ(t, m.Size(), 2)
	expect.True(t, m.Peek() == a[0])

	n := 0
	m.Filter(func(s *AlignmentStateMachine) bool {
		n++
		return s != a[0]
	})
	expect.EQ(t, n, 2)
	expect.EQ(t, m.Size(), 1)
	expect.True(t, m.Peek() == a[1])

	m.Filter(func(*AlignmentStateMachine) bool { return false })
	expect.True(t, m.IsEmpty())
	expect.EQ(t, len(m.groups), 0)
}

func TestPerSampleReadStateManagerLeveling(t *testing.T) {
	leveler, err := downsample.NewLevelingDownsampler(4, rand.New(rand.NewSource(0)))
	require.NoError(t, err)
	m := NewPerSampleReadStateManager(leveler)
	m.AddStatesAtNextAlignmentStart(newStates(t, 4, 0, "20M"))
	expect.EQ(t, m.Size(), 4)
	expect.EQ(t, m.DownsamplingExtent(), 0)

	m.AddStatesAtNextAlignmentStart(newStates(t, 4, 0, "30M"))
	expect.EQ(t, m.Size(), 4)
	expect.EQ(t, len(m.groups), 2)
	expect.EQ(t, m.groups[0].Len(), 2)
	expect.EQ(t, m.groups[1].Len(), 2)
	expect.EQ(t, m.DownsamplingExtent(), 30)

	count := 0
	m.Each(func(*AlignmentStateMachine) { count++ })
	expect.EQ(t, count, 4)
}

func TestSamplePartitioner(t *testing.T) {
	p := NewSamplePartitioner([]string{"A", "B"}, func(sample string) downsample.Downsampler {
		if sample == "A" {
			d, err := downsample.NewReservoirDownsampler(2, rand.New(rand.NewSource(1)))
			require.NoError(t, err)
			return d
		}
		return downsample.NewPassThroughDownsampler()
	})
	var recs []*sam.Record
	for i := 0; i < 5; i++ {
		r := newCigarRecord(t, "r", i, "2M")
		recs = append(recs, r)
		p.Submit("A", r)
		p.Submit("B", r)
	}
	p.Submit("C", recs[0])
	p.Complete()
	expect.EQ(t, len(p.Selected("A")), 2)
	expect.EQ(t, p.Selected("B"), recs)
	expect.EQ(t, len(p.Selected("C")), 0)
	expect.EQ(t, p.NumDiscarded("A"), 3)
	expect.EQ(t, p.NumDiscarded("B"), 0)
	expect.EQ(t, p.NumUnregistered(), 1)

	p.Reset()
	expect.EQ(t, len(p.Selected("A")), 0)
	expect.EQ(t, p.NumDiscarded("A"), 3)
}

func TestParseCols(t *testing.T) {
	cols := map[string]int{"depth": 1, "ndel": 2, "mq0": 4}
	v, err := ParseCols("", cols, 3)
	require.NoError(t, err)
	expect.EQ(t, v, 3)
	v, err = ParseCols("+mq0,-ndel", cols, 3)
	require.NoError(t, err)
	expect.EQ(t, v, 5)
	v, err = ParseCols("ndel", cols, 3)
	require.NoError(t, err)
	expect.EQ(t, v, 2)
	_, err = ParseCols("+mq0,ndel", cols, 3)
	require.Error(t, err)
	_, err = ParseCols("foo", cols, 3)
	require.Error(t, err)
	for _, bad := range []string{"depth,", ",", "depth,,ndel", "+mq0,"} {
		_, err = ParseCols(bad, cols, 3)
		expect.True(t, errors.Is(errors.Invalid, err), "cols %q: %v", bad, err)
	}
}

func TestGetStrand(t *testing.T) {
	r := newCigarRecord(t, "r", 0, "2M")
	r.MateRef = r.Ref
	r.Flags = sam.Paired | sam.Read1 | sam.MateReverse
	expect.EQ(t, GetStrand(r), StrandFwd)
	r.Flags = sam.Paired | sam.Read1 | sam.Reverse
	expect.EQ(t, GetStrand(r), StrandRev)
	r.MateRef = nil
	expect.EQ(t, GetStrand(r), StrandNone)
}

func TestBaseCounts(t *testing.T) {
	r := newCigarRecord(t, "r", 0, "4M")
	elems := []Element{{Read: r, Offset: 0}, {Read: r, Offset: 1}, {Read: r, Offset: 1}, {Read: r, IsDeletion: true}}
	expect.EQ(t, BaseCounts(elems), [NBaseEnum]int{1, 2, 0, 0, 0})
	expect.EQ(t, StrandCounts(elems)[StrandNone], 4)
}
