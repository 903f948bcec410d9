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
	"fmt"
	"math/rand"

	"github.com/grailbio/bamlocus/downsample"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/hts/sam"
)

// RecordSource is the coordinate-sorted read stream consumed by the pileup.
// bamprovider.Iterator satisfies it.
type RecordSource interface {
	Scan() bool
	Record() *sam.Record
	Err() error
}

// alignmentStartGroup holds the states of reads that entered the pileup at
// the same position, in admission order.
type alignmentStartGroup struct {
	mgr    *PerSampleReadStateManager
	states []*AlignmentStateMachine
}

// Len implements downsample.Group.
func (g *alignmentStartGroup) Len() int { return len(g.states) }

// Remove implements downsample.Group.
func (g *alignmentStartGroup) Remove(i int) {
	g.mgr.noteDownsampled(g.states[i])
	g.states = append(g.states[:i], g.states[i+1:]...)
	g.mgr.size--
}

// PerSampleReadStateManager holds the active read states of one sample as a
// queue of alignment-start groups.  All states sit at the same reference
// position.  Thread compatible.
type PerSampleReadStateManager struct {
	groups []*alignmentStartGroup
	size   int

	// leveler is nil when downsampling is off.
	leveler *downsample.LevelingDownsampler
	// 1-based stop of the furthest read removed by leveling.
	extent int
}

// NewPerSampleReadStateManager creates a manager.  If leveler is non-nil, the
// number of states is leveled down to leveler.Target whenever a group is
// added.
func NewPerSampleReadStateManager(leveler *downsample.LevelingDownsampler) *PerSampleReadStateManager {
	return &PerSampleReadStateManager{leveler: leveler}
}

func (m *PerSampleReadStateManager) noteDownsampled(s *AlignmentStateMachine) {
	if stop := s.Read().End(); stop > m.extent {
		m.extent = stop
	}
}

// AddStatesAtNextAlignmentStart appends states as a new alignment-start
// group, then levels the manager if downsampling is on.
func (m *PerSampleReadStateManager) AddStatesAtNextAlignmentStart(states []*AlignmentStateMachine) {
	if len(states) == 0 {
		return
	}
	m.groups = append(m.groups, &alignmentStartGroup{mgr: m, states: states})
	m.size += len(states)
	if m.leveler == nil || m.size <= m.leveler.Target {
		return
	}
	groups := make([]downsample.Group, len(m.groups))
	for i, g := range m.groups {
		groups[i] = g
	}
	m.leveler.Level(groups)
	m.dropEmptyGroups()
}

func (m *PerSampleReadStateManager) dropEmptyGroups() {
	groups := m.groups[:0]
	for _, g := range m.groups {
		if len(g.states) > 0 {
			groups = append(groups, g)
		}
	}
	for i := len(groups); i < len(m.groups); i++ {
		m.groups[i] = nil
	}
	m.groups = groups
}

// Size returns the number of active states.
func (m *PerSampleReadStateManager) Size() int { return m.size }

// IsEmpty is true when the manager holds no state.
func (m *PerSampleReadStateManager) IsEmpty() bool { return m.size == 0 }

// Peek returns the oldest state, or nil.
func (m *PerSampleReadStateManager) Peek() *AlignmentStateMachine {
	if m.size == 0 {
		return nil
	}
	return m.groups[0].states[0]
}

// Each calls fn on every state, oldest group first.
func (m *PerSampleReadStateManager) Each(fn func(s *AlignmentStateMachine)) {
	for _, g := range m.groups {
		for _, s := range g.states {
			fn(s)
		}
	}
}

// Filter removes the states for which keep returns false.  Groups left empty
// are dropped.
func (m *PerSampleReadStateManager) Filter(keep func(s *AlignmentStateMachine) bool) {
	for _, g := range m.groups {
		states := g.states[:0]
		for _, s := range g.states {
			if keep(s) {
				states = append(states, s)
			}
		}
		for i := len(states); i < len(g.states); i++ {
			g.states[i] = nil
		}
		m.size -= len(g.states) - len(states)
		g.states = states
	}
	m.dropEmptyGroups()
}

// DownsamplingExtent returns the 1-based reference stop of the furthest read
// removed by leveling, or 0.
func (m *PerSampleReadStateManager) DownsamplingExtent() int { return m.extent }

// ReadStateManager admits reads from a RecordSource into per-sample managers
// as the pileup advances.  Thread compatible.
type ReadStateManager struct {
	src      RecordSource
	sampleOf func(*sam.Record) string

	// One-record lookahead; valid iff peeked.
	next   *sam.Record
	peeked bool
	done   bool
	err    error

	samples     []string
	partitioner *SamplePartitioner
	managers    map[string]*PerSampleReadStateManager

	nUnmapped int
}

// newReadStateManager creates the managers for samples.  When
// downsampleToCoverage is positive, every sample is capped with its own random
// source returned by newRand(sample).
func newReadStateManager(src RecordSource, samples []string, sampleOf func(*sam.Record) string,
	downsampleToCoverage int, newRand func(sample string) *rand.Rand) (*ReadStateManager, error) {
	m := &ReadStateManager{
		src:      src,
		sampleOf: sampleOf,
		samples:  samples,
		managers: make(map[string]*PerSampleReadStateManager, len(samples)),
	}
	for _, sample := range samples {
		var leveler *downsample.LevelingDownsampler
		if downsampleToCoverage > 0 {
			var err error
			if leveler, err = downsample.NewLevelingDownsampler(downsampleToCoverage, newRand(sample)); err != nil {
				return nil, errors.E(errors.Invalid, err.Error())
			}
		}
		m.managers[sample] = NewPerSampleReadStateManager(leveler)
	}
	var samplerErr error
	m.partitioner = NewSamplePartitioner(samples, func(sample string) downsample.Downsampler {
		if downsampleToCoverage <= 0 {
			return downsample.NewPassThroughDownsampler()
		}
		d, err := downsample.NewReservoirDownsampler(downsampleToCoverage, newRand(sample))
		if err != nil {
			samplerErr = err
			return downsample.NewPassThroughDownsampler()
		}
		return d
	})
	if samplerErr != nil {
		return nil, errors.E(errors.Invalid, samplerErr.Error())
	}
	return m, nil
}

// peek returns the next mapped record of the source without consuming it.
// Unmapped reads never enter the pileup and are skipped here.
func (m *ReadStateManager) peek() *sam.Record {
	for !m.peeked && !m.done {
		if !m.src.Scan() {
			m.done = true
			m.err = m.src.Err()
			break
		}
		r := m.src.Record()
		if r.Ref == nil || r.Flags&sam.Unmapped != 0 {
			m.nUnmapped++
			continue
		}
		m.next, m.peeked = r, true
	}
	if !m.peeked {
		return nil
	}
	return m.next
}

func (m *ReadStateManager) pop() *sam.Record {
	r := m.peek()
	m.next, m.peeked = nil, false
	return r
}

// Size returns the number of active states across samples.
func (m *ReadStateManager) Size() int {
	n := 0
	for _, mgr := range m.managers {
		n += mgr.Size()
	}
	return n
}

// SizeOf returns the number of active states of sample.
func (m *ReadStateManager) SizeOf(sample string) int {
	if mgr, ok := m.managers[sample]; ok {
		return mgr.Size()
	}
	return 0
}

// Manager returns the state manager of sample, or nil.
func (m *ReadStateManager) Manager(sample string) *PerSampleReadStateManager {
	return m.managers[sample]
}

// HasNext is true while there are active states or unread records.
func (m *ReadStateManager) HasNext() bool {
	return m.Size() > 0 || m.peek() != nil
}

// First returns the oldest state of the first sample that has one, or nil.
// Every active state sits at the same position.
func (m *ReadStateManager) First() *AlignmentStateMachine {
	for _, sample := range m.samples {
		if s := m.managers[sample].Peek(); s != nil {
			return s
		}
	}
	return nil
}

// compareToState compares the 1-based start of r with the reference position
// of s.
func compareToState(r *sam.Record, s *AlignmentStateMachine) int {
	if d := r.Ref.ID() - s.Read().Ref.ID(); d != 0 {
		return d
	}
	return r.Pos + 1 - s.GenomePosition()
}

// CollectPendingReads admits the reads that start at the current position.
// With no active state, it takes every read at the start of the next read.
// Each admitted read is stepped onto its first reference base; reads with no
// reference base are dropped.
func (m *ReadStateManager) CollectPendingReads() error {
	first := m.First()
	nSubmitted := 0
	if first == nil {
		head := m.peek()
		if head == nil {
			return m.err
		}
		refID, pos := head.Ref.ID(), head.Pos
		for r := m.peek(); r != nil && r.Ref.ID() == refID && r.Pos == pos; r = m.peek() {
			m.partitioner.Submit(m.sampleOf(r), m.pop())
			nSubmitted++
		}
	} else {
		for r := m.peek(); r != nil && compareToState(r, first) <= 0; r = m.peek() {
			if compareToState(r, first) < 0 {
				return errors.E(errors.Invalid, fmt.Sprintf("read %s at %s:%d is out of coordinate order", r.Name, r.Ref.Name(), r.Pos+1))
			}
			m.partitioner.Submit(m.sampleOf(r), m.pop())
			nSubmitted++
		}
	}
	if m.err != nil {
		return m.err
	}
	if nSubmitted == 0 {
		return nil
	}
	m.partitioner.Complete()
	defer m.partitioner.Reset()
	for _, sample := range m.samples {
		reads := m.partitioner.Selected(sample)
		if len(reads) == 0 {
			continue
		}
		states := make([]*AlignmentStateMachine, 0, len(reads))
		for _, r := range reads {
			s, err := NewAlignmentStateMachine(r)
			if err != nil {
				return err
			}
			if _, ok := s.StepForwardOnGenome(); !ok {
				log.Debug.Printf("%s: read has no reference base, dropped", r.Name)
				continue
			}
			states = append(states, s)
		}
		m.managers[sample].AddStatesAtNextAlignmentStart(states)
	}
	return nil
}

// updateReadStates moves every state one reference base forward and drops
// the ones that moved past their read.
func (m *ReadStateManager) updateReadStates() {
	for _, mgr := range m.managers {
		mgr.Filter(func(s *AlignmentStateMachine) bool {
			_, ok := s.StepForwardOnGenome()
			return ok
		})
	}
}
