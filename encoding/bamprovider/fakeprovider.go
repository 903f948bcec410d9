package bamprovider

import (
	gbam "github.com/grailbio/bamlocus/encoding/bam"
	"github.com/grailbio/hts/sam"
)

// fakeProvider is only for unittests. It yields the given records.
type fakeProvider struct {
	id     string
	header *sam.Header
	recs   []*sam.Record
}

type fakeIterator struct {
	fp   gbam.FilePointer
	recs []*sam.Record
	rec  *sam.Record
	done bool
}

// NewFakeProvider creates a provider that returns "header" in response to a
// GetHeader() call, and the members of recs that overlap a FilePointer's
// locations in response to NewIterator.  recs must be sorted by coordinate.
// FileSpans are ignored.
func NewFakeProvider(id string, header *sam.Header, recs []*sam.Record) Provider {
	return &fakeProvider{id: id, header: header, recs: recs}
}

// ID implements the Provider interface.
func (b *fakeProvider) ID() string { return b.id }

// GetHeader implements the Provider interface. It returns the header passed to
// the constructor.
func (b *fakeProvider) GetHeader() (*sam.Header, error) {
	return b.header, nil
}

// Close implements the Provider interface.
func (b *fakeProvider) Close() error {
	return nil
}

// NewIterator implements the Provider interface.
func (b *fakeProvider) NewIterator(fp gbam.FilePointer) Iterator {
	return &fakeIterator{fp: fp, recs: b.recs}
}

// Err implements the Iterator interface.
func (i *fakeIterator) Err() error {
	return nil
}

// Close implements the Iterator interface.
func (i *fakeIterator) Close() error {
	return nil
}

func (i *fakeIterator) Scan() bool {
	for !i.done && len(i.recs) > 0 {
		i.rec = i.recs[0]
		i.recs = i.recs[1:]
		switch classify(i.fp, i.rec) {
		case recordInside:
			return true
		case recordPast:
			i.done = true
		}
	}
	return false
}

func (i *fakeIterator) Record() *sam.Record {
	// Return a copy so that the code under test cannot alter the
	// original test input data.
	copy := sam.GetFromFreePool()
	*copy = *i.rec
	return copy
}
