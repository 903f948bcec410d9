package interval

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
)

// Dictionary maps reference names to IDs and lengths, as listed in a BAM
// header.  It validates the Locs it creates.
type Dictionary struct {
	refs   []*sam.Reference
	byName map[string]int
}

// NewDictionary creates a Dictionary from the references in header.
func NewDictionary(header *sam.Header) *Dictionary {
	d := &Dictionary{
		refs:   header.Refs(),
		byName: make(map[string]int, len(header.Refs())),
	}
	for _, ref := range d.refs {
		d.byName[ref.Name()] = ref.ID()
	}
	return d
}

// Len returns the number of references.
func (d *Dictionary) Len() int { return len(d.refs) }

// ID returns the ID of the named reference.
func (d *Dictionary) ID(name string) (int, bool) {
	id, ok := d.byName[name]
	return id, ok
}

// Name returns the name of reference id, or "*" for UnmappedRefID.
func (d *Dictionary) Name(id int) string {
	if id < 0 || id >= len(d.refs) {
		return "*"
	}
	return d.refs[id].Name()
}

// RefLen returns the length of reference id.
func (d *Dictionary) RefLen(id int) int {
	return d.refs[id].Len()
}

// NewLoc creates a validated Loc on the named reference.  Coordinates are
// 1-based and inclusive; stop is clamped to the reference length.
func (d *Dictionary) NewLoc(name string, start, stop int) (Loc, error) {
	id, ok := d.byName[name]
	if !ok {
		return Loc{}, errors.E(errors.Invalid, fmt.Sprintf("interval: reference %q not in sequence dictionary", name))
	}
	if n := d.refs[id].Len(); stop > n {
		stop = n
	}
	if start < 1 || stop < start {
		return Loc{}, errors.E(errors.Invalid, fmt.Sprintf("interval: invalid range %s:%d-%d", name, start, stop))
	}
	return NewLoc(id, name, start, stop), nil
}

// WholeRef returns the Loc spanning all of reference id.
func (d *Dictionary) WholeRef(id int) Loc {
	return NewLoc(id, d.refs[id].Name(), 1, d.refs[id].Len())
}

// Genome returns a SortedSet covering every reference in full.  When
// includeUnmapped is set, the unmapped pseudo-locus is added as well.
func (d *Dictionary) Genome(includeUnmapped bool) *SortedSet {
	s := NewSortedSet()
	for id := range d.refs {
		if d.refs[id].Len() > 0 {
			s.Add(d.WholeRef(id))
		}
	}
	if includeUnmapped {
		s.Add(Unmapped)
	}
	return s
}
