package bamprovider

import (
	"fmt"
	"io"
	"sync"

	gbam "github.com/grailbio/bamlocus/encoding/bam"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/hts/bam"
	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/hts/sam"
	"v.io/x/lib/vlog"
)

// BAMProvider implements Provider for BAM files.  Both BAM and the index
// filenames are allowed to be S3 URLs, in which case the data will be read from
// S3. Otherwise the data will be read from the local filesystem.
type BAMProvider struct {
	// Path of the *.bam file. Must be nonempty.
	Path string
	// Index is the pathname of *.bam.bai file. If "", Path + ".bai"
	Index string
	err   errors.Once

	mu        sync.Mutex
	nActive   int
	freeIters []*bamIterator
	header    *sam.Header
	index     *gbam.Index
}

type bamIterator struct {
	provider *BAMProvider
	in       file.File
	reader   *bam.Reader
	// Offset of the first record in the file.
	firstRecord bgzf.Offset

	fp     gbam.FilePointer
	chunks []gbam.Chunk
	// End of the chunk being read; valid iff inChunk.
	chunkEnd uint64
	inChunk  bool

	active bool
	err    error
	next   *sam.Record
}

func (b *BAMProvider) indexPath() string {
	index := b.Index
	if index == "" {
		index = b.Path + ".bai"
	}
	return index
}

// ID implements the Provider interface.  It returns Path.
func (b *BAMProvider) ID() string { return b.Path }

// GetHeader implements the Provider interface.
func (b *BAMProvider) GetHeader() (*sam.Header, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.header != nil {
		return b.header, nil
	}

	ctx := vcontext.Background()
	reader, err := file.Open(ctx, b.Path)
	if err != nil {
		b.err.Set(err)
		return nil, err
	}
	defer reader.Close(ctx) // nolint: errcheck
	bamReader, err := bam.NewReader(reader.Reader(ctx), 1)
	if err != nil {
		b.err.Set(err)
		return nil, err
	}
	defer bamReader.Close() // nolint: errcheck
	b.header = bamReader.Header()
	return b.header, nil
}

// GetIndex loads the file's .bai index.  The index is read once and shared by
// all callers; they must not modify it.
func (b *BAMProvider) GetIndex() (*gbam.Index, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.index != nil {
		return b.index, nil
	}
	index, err := gbam.LoadIndex(vcontext.Background(), b.indexPath())
	if err != nil {
		b.err.Set(err)
		return nil, err
	}
	b.index = index
	return index, nil
}

// Close implements the Provider interface.
func (b *BAMProvider) Close() error {
	if b.nActive > 0 {
		vlog.Fatalf("%d iterators still active for %+v", b.nActive, b)
	}
	for _, iter := range b.freeIters {
		iter.internalClose()
	}
	b.freeIters = nil
	return b.err.Err()
}

func (b *BAMProvider) freeIterator(i *bamIterator) {
	if !i.active {
		vlog.Fatal(i)
	}
	i.active = false
	if i.Err() != nil {
		// The iter may be invalid. Don't reuse it.
		i.internalClose() // Will set b.err
		i = nil
	}
	b.mu.Lock()
	if i != nil {
		b.freeIters = append(b.freeIters, i)
	}
	b.nActive--
	if b.nActive < 0 {
		vlog.Fatalf("Negative active count for %+v", b)
	}
	b.mu.Unlock()
}

// Return an unused iterator. If b.freeIters is nonempty, this function returns
// one from freeIters. Else, it opens the BAM file, creates a BAM reader and
// returns an iterator containing them. On error, returns an iterator with
// non-nil err field.
func (b *BAMProvider) allocateIterator() *bamIterator {
	b.mu.Lock()
	b.nActive++
	if len(b.freeIters) > 0 {
		iter := b.freeIters[len(b.freeIters)-1]
		iter.active = true
		iter.err = nil
		iter.next = nil
		iter.inChunk = false
		b.freeIters = b.freeIters[:len(b.freeIters)-1]
		b.mu.Unlock()
		return iter
	}
	b.mu.Unlock()

	iter := bamIterator{
		provider: b,
		active:   true,
	}
	ctx := vcontext.Background()
	if iter.in, iter.err = file.Open(ctx, b.Path); iter.err != nil {
		return &iter
	}
	if iter.reader, iter.err = bam.NewReader(iter.in.Reader(ctx), 1); iter.err != nil {
		return &iter
	}
	iter.firstRecord = iter.reader.LastChunk().End
	return &iter
}

// NewIterator implements the Provider interface.
func (b *BAMProvider) NewIterator(fp gbam.FilePointer) Iterator {
	iter := b.allocateIterator()
	if iter.err != nil {
		return iter
	}
	iter.fp = fp
	iter.chunks = fp.FileSpans[b.ID()]
	return iter
}

// Err implements the Iterator interface.
func (i *bamIterator) Err() error {
	if i.err == io.EOF {
		return nil
	}
	return i.err
}

// Close implements the Iterator interface.
func (i *bamIterator) Close() error {
	err := i.Err()
	i.provider.freeIterator(i)
	return err
}

// nextChunk positions the reader at the start of the next chunk that lies
// past the header.  It returns false when no chunk remains.
func (i *bamIterator) nextChunk() bool {
	first := gbam.VOffset(i.firstRecord)
	for len(i.chunks) > 0 {
		c := i.chunks[0]
		i.chunks = i.chunks[1:]
		end := gbam.VOffset(c.End)
		if end <= first {
			continue
		}
		begin := c.Begin
		if gbam.VOffset(begin) < first {
			begin = i.firstRecord
		}
		if err := i.reader.Seek(begin); err != nil {
			i.err = errors.E(err, fmt.Sprintf("%s: seek %v", i.provider.Path, gbam.Chunk{Begin: begin, End: c.End}))
			return false
		}
		i.chunkEnd = end
		i.inChunk = true
		return true
	}
	i.err = io.EOF
	return false
}

// Scan implements the Iterator interface.
func (i *bamIterator) Scan() bool {
	if !i.active {
		vlog.Fatal("Reusing iterator")
	}
	for i.err == nil {
		if !i.inChunk && !i.nextChunk() {
			return false
		}
		rec, err := i.reader.Read()
		if err == io.EOF {
			i.inChunk = false
			continue
		}
		if err != nil {
			i.err = errors.E(err, i.provider.Path)
			return false
		}
		if gbam.VOffset(i.reader.LastChunk().Begin) >= i.chunkEnd {
			i.inChunk = false
			continue
		}
		switch classify(i.fp, rec) {
		case recordInside:
			i.next = rec
			return true
		case recordPast:
			i.err = io.EOF
			return false
		}
	}
	return false
}

// Record implements the Iterator interface.
func (i *bamIterator) Record() *sam.Record {
	return i.next
}

func (i *bamIterator) internalClose() {
	if i.reader != nil {
		if err := i.reader.Close(); err != nil && i.err == nil {
			i.err = err
		}
		i.reader = nil
	}
	if i.in != nil {
		if err := i.in.Close(vcontext.Background()); err != nil && i.err == nil {
			i.err = err
		}
		i.in = nil
	}
	i.provider.err.Set(i.Err())
}
