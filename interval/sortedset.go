package interval

import (
	"math"

	"github.com/biogo/store/llrb"
)

// locKey adapts Loc to llrb.Comparable.
type locKey Loc

func (k locKey) Compare(c llrb.Comparable) int {
	return Loc(k).Compare(Loc(c.(locKey)))
}

// SortedSet is an ordered set of non-overlapping Locs.  Adding a Loc that
// overlaps existing members replaces them with their union.  Adjacent Locs are
// kept separate.  Thread compatible.
type SortedSet struct {
	tree llrb.Tree
}

// NewSortedSet creates a SortedSet containing locs.
func NewSortedSet(locs ...Loc) *SortedSet {
	s := &SortedSet{}
	for _, l := range locs {
		s.Add(l)
	}
	return s
}

// Add inserts l, merging it with any overlapping member.
func (s *SortedSet) Add(l Loc) {
	if l.IsUnmapped() {
		s.tree.Insert(locKey(Unmapped))
		return
	}
	for _, o := range s.Overlapping(l) {
		s.tree.Delete(locKey(o))
		l = l.Merge(o)
	}
	s.tree.Insert(locKey(l))
}

// Len returns the number of members.
func (s *SortedSet) Len() int { return s.tree.Len() }

// IsEmpty returns true if the set has no members.
func (s *SortedSet) IsEmpty() bool { return s.tree.Len() == 0 }

// HasUnmapped returns true if the unmapped pseudo-locus is a member.
func (s *SortedSet) HasUnmapped() bool {
	return s.tree.Get(locKey(Unmapped)) != nil
}

// Each calls fn on every member in order, stopping when fn returns false.
func (s *SortedSet) Each(fn func(l Loc) bool) {
	s.tree.Do(func(c llrb.Comparable) bool {
		return !fn(Loc(c.(locKey)))
	})
}

// Locs returns the members in order.
func (s *SortedSet) Locs() []Loc {
	locs := make([]Loc, 0, s.tree.Len())
	s.Each(func(l Loc) bool {
		locs = append(locs, l)
		return true
	})
	return locs
}

// Overlapping returns the members that overlap l, in order.
func (s *SortedSet) Overlapping(l Loc) []Loc {
	var locs []Loc
	if l.IsUnmapped() {
		return locs
	}
	// A member starting before l.Start may still reach into l; since members do
	// not overlap, only the last such member can.
	if c := s.tree.Floor(locKey{RefID: l.RefID, Start: l.Start, Stop: math.MaxInt32}); c != nil {
		if o := Loc(c.(locKey)); o.Start < l.Start && o.Overlaps(l) {
			locs = append(locs, o)
		}
	}
	s.tree.DoRange(func(c llrb.Comparable) bool {
		if o := Loc(c.(locKey)); o.Overlaps(l) {
			locs = append(locs, o)
		}
		return false
	}, locKey{RefID: l.RefID, Start: l.Start}, locKey{RefID: l.RefID, Start: l.Stop + 1})
	return locs
}

// ContainsPos returns true if a member covers the 1-based position pos on
// refID.
func (s *SortedSet) ContainsPos(refID, pos int) bool {
	c := s.tree.Floor(locKey{RefID: refID, Start: pos, Stop: math.MaxInt32})
	return c != nil && Loc(c.(locKey)).ContainsPos(refID, pos)
}

// Size returns the total number of mapped positions covered by the set.
func (s *SortedSet) Size() int {
	n := 0
	s.Each(func(l Loc) bool {
		n += l.Size()
		return true
	})
	return n
}
