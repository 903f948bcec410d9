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

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
)

// AlignmentStateMachine walks one read along the reference, one genome base
// per step.  Before the first step it sits on the left edge of the read;
// after the step that moves past the last reference-consuming element it sits
// on the right edge.
//
// Offsets are 0-based: ReadOffset indexes the read's bases and GenomeOffset
// counts reference bases from the alignment start.
type AlignmentStateMachine struct {
	read  *sam.Record
	cigar sam.Cigar

	// Index of the current cigar element; -1 on the left edge and len(cigar) on
	// the right edge.
	elemIdx int
	// Number of bases of the current element consumed so far.
	elemCount int

	readOffset   int
	genomeOffset int
}

// skipsRead is true for operators that consume neither read nor reference
// bases.
func skipsRead(t sam.CigarOpType) bool {
	return t == sam.CigarHardClipped || t == sam.CigarPadded
}

// validateCigar rejects reads with a deletion before their first read base or
// after their last one, and cigars with operators the state machine cannot
// walk.  A deletion next to a soft clip or an insertion is allowed.
func validateCigar(read *sam.Record) error {
	cigar := read.Cigar
	for _, op := range cigar {
		switch op.Type() {
		case sam.CigarMatch, sam.CigarInsertion, sam.CigarDeletion, sam.CigarSkipped,
			sam.CigarSoftClipped, sam.CigarHardClipped, sam.CigarPadded,
			sam.CigarEqual, sam.CigarMismatch:
		default:
			return errors.E(errors.Invalid, fmt.Sprintf("read %s: unsupported cigar operator in %v", read.Name, cigar))
		}
	}
	first, last := 0, len(cigar)-1
	for first < len(cigar) && skipsRead(cigar[first].Type()) {
		first++
	}
	for last >= 0 && skipsRead(cigar[last].Type()) {
		last--
	}
	if first < len(cigar) && cigar[first].Type() == sam.CigarDeletion {
		return errors.E(errors.Invalid, fmt.Sprintf("read %s: cigar %v starts with a deletion", read.Name, cigar))
	}
	if last >= 0 && cigar[last].Type() == sam.CigarDeletion {
		return errors.E(errors.Invalid, fmt.Sprintf("read %s: cigar %v ends with a deletion", read.Name, cigar))
	}
	return nil
}

// NewAlignmentStateMachine creates a machine positioned on the left edge of
// read.  It returns an errors.Invalid error if the read's alignment starts or
// ends with a deletion.
func NewAlignmentStateMachine(read *sam.Record) (*AlignmentStateMachine, error) {
	if err := validateCigar(read); err != nil {
		return nil, err
	}
	return &AlignmentStateMachine{
		read:         read,
		cigar:        read.Cigar,
		elemIdx:      -1,
		readOffset:   -1,
		genomeOffset: -1,
	}, nil
}

// StepForwardOnGenome advances the machine by one reference base and returns
// the operator of the element it lands on (M, =, X, D or N).  Clips, padding
// and insertions are passed over, advancing the read offset as needed.  When
// the read has no reference base left, the machine moves onto the right edge
// and StepForwardOnGenome returns false.
func (m *AlignmentStateMachine) StepForwardOnGenome() (sam.CigarOpType, bool) {
	if m.IsRightEdge() {
		return 0, false
	}
	for {
		if m.elemIdx < 0 || m.elemCount >= m.cigar[m.elemIdx].Len() {
			m.elemIdx++
			m.elemCount = 0
			if m.elemIdx >= len(m.cigar) {
				m.genomeOffset++
				return 0, false
			}
			continue
		}
		op := m.cigar[m.elemIdx]
		switch t := op.Type(); t {
		case sam.CigarHardClipped, sam.CigarPadded:
			m.elemCount = op.Len()
		case sam.CigarInsertion, sam.CigarSoftClipped:
			m.readOffset += op.Len() - m.elemCount
			m.elemCount = op.Len()
		case sam.CigarDeletion, sam.CigarSkipped:
			m.elemCount++
			m.genomeOffset++
			return t, true
		default:
			m.elemCount++
			m.readOffset++
			m.genomeOffset++
			return t, true
		}
	}
}

// Read returns the read being walked.
func (m *AlignmentStateMachine) Read() *sam.Record { return m.read }

// ReadOffset returns the offset of the current base in the read, or -1 on the
// left edge.
func (m *AlignmentStateMachine) ReadOffset() int { return m.readOffset }

// GenomeOffset returns the number of reference bases between the alignment
// start and the current position.
func (m *AlignmentStateMachine) GenomeOffset() int { return m.genomeOffset }

// GenomePosition returns the 1-based reference position of the machine.
func (m *AlignmentStateMachine) GenomePosition() int {
	return m.read.Pos + 1 + m.genomeOffset
}

// IsLeftEdge is true before the first step.
func (m *AlignmentStateMachine) IsLeftEdge() bool { return m.elemIdx < 0 }

// IsRightEdge is true once the machine has stepped past the read's last
// reference base.
func (m *AlignmentStateMachine) IsRightEdge() bool { return m.elemIdx >= len(m.cigar) }

// CurrentCigarElementOffset returns the index of the current cigar element.
func (m *AlignmentStateMachine) CurrentCigarElementOffset() int { return m.elemIdx }

// CurrentCigarElement returns the current cigar element.  It returns the zero
// CigarOp on either edge.
func (m *AlignmentStateMachine) CurrentCigarElement() sam.CigarOp {
	return m.elementAt(m.elemIdx)
}

// OffsetIntoCurrentCigarElement returns the 0-based position of the machine
// within the current cigar element.
func (m *AlignmentStateMachine) OffsetIntoCurrentCigarElement() int {
	return m.elemCount - 1
}

// peekForwardIdx returns the index of the cigar element holding the next
// base.  Within an element that is the current one.
func (m *AlignmentStateMachine) peekForwardIdx() int {
	if !m.IsLeftEdge() && !m.IsRightEdge() &&
		m.elemCount >= m.cigar[m.elemIdx].Len() && m.elemIdx+1 < len(m.cigar) {
		return m.elemIdx + 1
	}
	return m.elemIdx
}

// peekBackwardIdx returns the index of the cigar element holding the
// previous base.
func (m *AlignmentStateMachine) peekBackwardIdx() int {
	if !m.IsLeftEdge() && !m.IsRightEdge() && m.elemCount <= 1 && m.elemIdx > 0 {
		return m.elemIdx - 1
	}
	return m.elemIdx
}

func (m *AlignmentStateMachine) elementAt(idx int) sam.CigarOp {
	if idx < 0 || idx >= len(m.cigar) {
		return 0
	}
	return m.cigar[idx]
}

// PeekForwardOnGenome returns the cigar element the next base belongs to,
// without moving.
func (m *AlignmentStateMachine) PeekForwardOnGenome() sam.CigarOp {
	return m.elementAt(m.peekForwardIdx())
}

// PeekBackwardOnGenome returns the cigar element the previous base belongs
// to, without moving.
func (m *AlignmentStateMachine) PeekBackwardOnGenome() sam.CigarOp {
	return m.elementAt(m.peekBackwardIdx())
}

func (m *AlignmentStateMachine) String() string {
	return fmt.Sprintf("%s ro=%d go=%d cig=%v off=%d",
		m.read.Name, m.readOffset, m.genomeOffset, m.CurrentCigarElement(), m.OffsetIntoCurrentCigarElement())
}
