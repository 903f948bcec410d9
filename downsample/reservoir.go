package downsample

import (
	"math/rand"

	"github.com/pkg/errors"
)

// Downsampler accumulates submitted items and returns the ones it selected.
type Downsampler interface {
	// Submit offers one item.
	Submit(item interface{})
	// Consume returns the selected items, in submission order, and resets
	// the downsampler for the next batch.  The discard count is kept.
	Consume() []interface{}
	// Len returns the number of items currently selected.
	Len() int
	// NumDiscarded returns the number of items dropped since creation or
	// the last Reset.
	NumDiscarded() int
	// Reset forgets all items and counters.
	Reset()
}

// PassThroughDownsampler selects every item.
type PassThroughDownsampler struct {
	items []interface{}
}

// NewPassThroughDownsampler creates a Downsampler that discards nothing.
func NewPassThroughDownsampler() *PassThroughDownsampler {
	return &PassThroughDownsampler{}
}

// Submit implements Downsampler.
func (d *PassThroughDownsampler) Submit(item interface{}) { d.items = append(d.items, item) }

// Consume implements Downsampler.
func (d *PassThroughDownsampler) Consume() []interface{} {
	items := d.items
	d.items = nil
	return items
}

// Len implements Downsampler.
func (d *PassThroughDownsampler) Len() int { return len(d.items) }

// NumDiscarded implements Downsampler.  It is always zero.
func (d *PassThroughDownsampler) NumDiscarded() int { return 0 }

// Reset implements Downsampler.
func (d *PassThroughDownsampler) Reset() { d.items = nil }

// reservoirItem remembers the submission order of a kept item.
type reservoirItem struct {
	seq  int
	item interface{}
}

// ReservoirDownsampler keeps a uniformly random subset of at most Target items
// out of the items submitted since the last Consume (Vitter's algorithm R).
// Thread compatible.
type ReservoirDownsampler struct {
	target    int
	r         *rand.Rand
	reservoir []reservoirItem
	seen      int
	discarded int
}

// NewReservoirDownsampler creates a downsampler that keeps at most target
// items.  r supplies the randomness.
func NewReservoirDownsampler(target int, r *rand.Rand) (*ReservoirDownsampler, error) {
	if target <= 0 {
		return nil, errors.Errorf("reservoir size must be positive, got %d", target)
	}
	if r == nil {
		return nil, errors.New("reservoir downsampler needs a random source")
	}
	return &ReservoirDownsampler{target: target, r: r}, nil
}

// Target returns the reservoir size.
func (d *ReservoirDownsampler) Target() int { return d.target }

// Submit implements Downsampler.
func (d *ReservoirDownsampler) Submit(item interface{}) {
	seq := d.seen
	d.seen++
	if len(d.reservoir) < d.target {
		d.reservoir = append(d.reservoir, reservoirItem{seq, item})
		return
	}
	d.discarded++
	if j := d.r.Intn(d.seen); j < d.target {
		d.reservoir[j] = reservoirItem{seq, item}
	}
}

// Consume implements Downsampler.
func (d *ReservoirDownsampler) Consume() []interface{} {
	if len(d.reservoir) == 0 {
		d.seen = 0
		return nil
	}
	kept := d.reservoir
	// Restore submission order; the reservoir is small.
	for i := 1; i < len(kept); i++ {
		for j := i; j > 0 && kept[j-1].seq > kept[j].seq; j-- {
			kept[j-1], kept[j] = kept[j], kept[j-1]
		}
	}
	items := make([]interface{}, len(kept))
	for i, k := range kept {
		items[i] = k.item
	}
	d.reservoir = nil
	d.seen = 0
	return items
}

// Len implements Downsampler.
func (d *ReservoirDownsampler) Len() int { return len(d.reservoir) }

// NumDiscarded implements Downsampler.
func (d *ReservoirDownsampler) NumDiscarded() int { return d.discarded }

// Reset implements Downsampler.
func (d *ReservoirDownsampler) Reset() {
	d.reservoir = nil
	d.seen = 0
	d.discarded = 0
}
