package interval

import (
	"fmt"
	"math"
)

// UnmappedRefID is the RefID of the unmapped pseudo-locus.
const UnmappedRefID = -1

// MaxPos is the largest position a Loc can carry; BAM positions are int32.
const MaxPos = math.MaxInt32 - 1

// Loc is a closed, 1-based interval [Start, Stop] on reference RefID.
type Loc struct {
	RefID   int
	RefName string
	Start   int
	Stop    int
}

// Unmapped is the pseudo-locus covering reads without a reference position.
// It sorts after every mapped locus.
var Unmapped = Loc{RefID: UnmappedRefID, RefName: "*"}

// NewLoc creates a Loc.  It does not validate the coordinates; use
// Dictionary.NewLoc for that.
func NewLoc(refID int, refName string, start, stop int) Loc {
	return Loc{RefID: refID, RefName: refName, Start: start, Stop: stop}
}

// IsUnmapped returns true for the unmapped pseudo-locus.
func (l Loc) IsUnmapped() bool { return l.RefID == UnmappedRefID }

// Size returns the number of positions in l.
func (l Loc) Size() int {
	if l.IsUnmapped() {
		return 0
	}
	return l.Stop - l.Start + 1
}

// Overlaps returns true if l and o share at least one position.
func (l Loc) Overlaps(o Loc) bool {
	if l.RefID != o.RefID || l.IsUnmapped() {
		return false
	}
	return l.Start <= o.Stop && o.Start <= l.Stop
}

// Contains returns true if o lies entirely within l.
func (l Loc) Contains(o Loc) bool {
	return l.RefID == o.RefID && !l.IsUnmapped() && l.Start <= o.Start && o.Stop <= l.Stop
}

// ContainsPos returns true if the 1-based position pos on refID lies in l.
func (l Loc) ContainsPos(refID, pos int) bool {
	return l.RefID == refID && !l.IsUnmapped() && l.Start <= pos && pos <= l.Stop
}

// IsBefore returns true if l ends strictly before o starts.
func (l Loc) IsBefore(o Loc) bool {
	if l.RefID != o.RefID {
		return refOrder(l.RefID) < refOrder(o.RefID)
	}
	return l.Stop < o.Start
}

// IsPast returns true if l starts strictly after o ends.
func (l Loc) IsPast(o Loc) bool {
	return o.IsBefore(l)
}

// IsAdjacentTo returns true if l and o are on the same reference and touch
// without overlapping.
func (l Loc) IsAdjacentTo(o Loc) bool {
	return l.RefID == o.RefID && !l.IsUnmapped() && (l.Stop+1 == o.Start || o.Stop+1 == l.Start)
}

// Intersect returns the overlap of l and o.  The second result is false when
// they do not overlap.
func (l Loc) Intersect(o Loc) (Loc, bool) {
	if !l.Overlaps(o) {
		return Loc{}, false
	}
	return Loc{RefID: l.RefID, RefName: l.RefName, Start: max(l.Start, o.Start), Stop: min(l.Stop, o.Stop)}, true
}

// Merge returns the smallest Loc covering both l and o.
//
// REQUIRES: l and o are on the same reference.
func (l Loc) Merge(o Loc) Loc {
	if l.RefID != o.RefID {
		panic(fmt.Sprintf("interval.Loc.Merge: %v and %v are on different references", l, o))
	}
	return Loc{RefID: l.RefID, RefName: l.RefName, Start: min(l.Start, o.Start), Stop: max(l.Stop, o.Stop)}
}

// Compare orders locs by reference (unmapped last), then start, then stop.
func (l Loc) Compare(o Loc) int {
	if r0, r1 := refOrder(l.RefID), refOrder(o.RefID); r0 != r1 {
		if r0 < r1 {
			return -1
		}
		return 1
	}
	if l.Start != o.Start {
		if l.Start < o.Start {
			return -1
		}
		return 1
	}
	if l.Stop != o.Stop {
		if l.Stop < o.Stop {
			return -1
		}
		return 1
	}
	return 0
}

func (l Loc) String() string {
	if l.IsUnmapped() {
		return "unmapped"
	}
	return fmt.Sprintf("%s:%d-%d", l.RefName, l.Start, l.Stop)
}

func refOrder(refID int) int {
	if refID == UnmappedRefID {
		return math.MaxInt32
	}
	return refID
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
