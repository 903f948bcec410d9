package bamprovider

import (
	"math"

	"github.com/biogo/store/llrb"
	"github.com/grailbio/hts/sam"
	"v.io/x/lib/vlog"
)

// mergeHead is the next record of one input of a mergingIterator.
type mergeHead struct {
	rec *sam.Record
	src int
}

func refOrder(r *sam.Record) int {
	if r.Ref == nil {
		return math.MaxInt32
	}
	return r.Ref.ID()
}

// Compare implements llrb.Comparable.  Ties are broken by input index, so
// records at the same position come out in the order of the inputs.
func (h mergeHead) Compare(c llrb.Comparable) int {
	o := c.(mergeHead)
	if d := refOrder(h.rec) - refOrder(o.rec); d != 0 {
		return d
	}
	if d := h.rec.Pos - o.rec.Pos; d != 0 {
		return d
	}
	return h.src - o.src
}

type mergingIterator struct {
	iters  []Iterator
	heads  llrb.Tree
	primed bool
	// Input whose head was returned last, or -1.
	last   int
	rec    *sam.Record
	err    error
	closed bool
}

// NewMergingIterator merges iterators over several files into one
// coordinate-ordered iterator.  Close closes every input.
func NewMergingIterator(iters ...Iterator) Iterator {
	return &mergingIterator{iters: iters, last: -1}
}

func (m *mergingIterator) pull(src int) {
	it := m.iters[src]
	if it.Scan() {
		m.heads.Insert(mergeHead{rec: it.Record(), src: src})
		return
	}
	if err := it.Err(); err != nil && m.err == nil {
		m.err = err
	}
}

// Scan implements the Iterator interface.
func (m *mergingIterator) Scan() bool {
	if m.closed {
		vlog.Panic("mergingIterator: Scan after Close")
	}
	if !m.primed {
		for src := range m.iters {
			m.pull(src)
		}
		m.primed = true
	} else if m.last >= 0 {
		m.pull(m.last)
	}
	m.last = -1
	if m.err != nil || m.heads.Len() == 0 {
		m.rec = nil
		return false
	}
	head := m.heads.Min().(mergeHead)
	m.heads.DeleteMin()
	m.rec, m.last = head.rec, head.src
	return true
}

// Record implements the Iterator interface.
func (m *mergingIterator) Record() *sam.Record { return m.rec }

// Err implements the Iterator interface.
func (m *mergingIterator) Err() error { return m.err }

// Close implements the Iterator interface.
func (m *mergingIterator) Close() error {
	for _, it := range m.iters {
		if err := it.Close(); err != nil && m.err == nil {
			m.err = err
		}
	}
	m.iters = nil
	m.closed = true
	return m.err
}
