package downsample

import (
	"math/rand"

	"github.com/pkg/errors"
)

// Group is one bucket of items trimmed by LevelingDownsampler.
type Group interface {
	// Len returns the number of items in the group.
	Len() int
	// Remove deletes the i'th item.
	Remove(i int)
}

// LevelingDownsampler reduces a list of groups to at most Target items in
// total.  It repeatedly takes one item from each of the largest groups, so the
// sizes of large groups converge while small groups are left alone.  A group
// is never reduced below MinPerGroup items; if that floor alone exceeds Target,
// the total stays above Target.
type LevelingDownsampler struct {
	Target      int
	MinPerGroup int
	r           *rand.Rand
}

// NewLevelingDownsampler creates a leveler with the given target and a
// per-group floor of one item.
func NewLevelingDownsampler(target int, r *rand.Rand) (*LevelingDownsampler, error) {
	if target <= 0 {
		return nil, errors.Errorf("leveling target must be positive, got %d", target)
	}
	if r == nil {
		return nil, errors.New("leveling downsampler needs a random source")
	}
	return &LevelingDownsampler{Target: target, MinPerGroup: 1, r: r}, nil
}

// Level removes randomly chosen items from groups until the total is at most
// Target or no group can shrink further.  It returns the number of items
// removed.
func (d *LevelingDownsampler) Level(groups []Group) int {
	sizes := make([]int, len(groups))
	total := 0
	for i, g := range groups {
		sizes[i] = g.Len()
		total += sizes[i]
	}
	if total <= d.Target {
		return 0
	}

	// Compute the new sizes first, one item off the largest groups per round.
	excess := total - d.Target
	for excess > 0 {
		largest := d.MinPerGroup
		for _, n := range sizes {
			if n > largest {
				largest = n
			}
		}
		if largest <= d.MinPerGroup {
			break
		}
		for i := range sizes {
			if excess > 0 && sizes[i] == largest {
				sizes[i]--
				excess--
			}
		}
	}

	removed := 0
	for i, g := range groups {
		for g.Len() > sizes[i] {
			g.Remove(d.r.Intn(g.Len()))
			removed++
		}
	}
	return removed
}
