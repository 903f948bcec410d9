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
package depth

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"runtime"
	"strconv"

	"github.com/grailbio/bamlocus/encoding/bam"
	"github.com/grailbio/bamlocus/encoding/bamprovider"
	"github.com/grailbio/bamlocus/interval"
	"github.com/grailbio/bamlocus/pileup"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/hts/bgzf"
	"github.com/grailbio/hts/sam"
)

// Opts holds the command-line options of bio-locus-pileup.
type Opts struct {
	BedPath      string
	Region       string
	BamIndexPath string
	Cols         string
	// Format is "tsv" or "tsv-bgz".
	Format               string
	DownsampleToCoverage int
	Seed                 int64
	IncludeDeletions     bool
	FilterAdaptorBases   bool
	// Parallelism is the number of FilePointers processed at once; 0 means
	// runtime.NumCPU().
	Parallelism int
	// TempDir holds the per-job row files.  "" means the system default.
	TempDir string
}

// Number of FilePointers each job takes from the sharder per batch.
var filePointersPerJob = 64

// DefaultOpts are the default options.
var DefaultOpts = Opts{
	Format:           "tsv",
	IncludeDeletions: pileup.DefaultOpts.IncludeDeletions,
}

// Optional output column sets.
//   Depth   = number of pileup elements of the sample.
//   NDel    = number of deletions among them.
//   MQ0     = number of elements whose read has mapping quality 0.
//   Bases   = A, C, G, T and N counts.
//   Strands = number of elements on forward and reverse read pairs.
const (
	colBitDepth = 1 << iota
	colBitNDel
	colBitMQ0
	colBitBases
	colBitStrands
)

const colBitsetDefault = colBitDepth | colBitNDel

var colNameMap = map[string]int{
	"depth":   colBitDepth,
	"ndel":    colBitNDel,
	"mq0":     colBitMQ0,
	"bases":   colBitBases,
	"strands": colBitStrands,
}

// loadLoci returns the intervals selected by opts, or every reference when
// neither -bed nor -region is set.
func loadLoci(ctx context.Context, opts *Opts, dict *interval.Dictionary) (*interval.SortedSet, error) {
	switch {
	case opts.BedPath != "" && opts.Region != "":
		return nil, errors.E(errors.Invalid, "depth: -bed and -region can't be used together")
	case opts.BedPath != "":
		return interval.LoadBEDFromPath(ctx, opts.BedPath, dict)
	case opts.Region != "":
		return interval.ParseRegions([]string{opts.Region}, dict)
	}
	return dict.Genome(false), nil
}

func writeHeader(w *tsv.Writer, colBitset int) error {
	w.WriteString("#CHROM")
	w.WriteString("POS")
	w.WriteString("SAMPLE")
	if colBitset&colBitDepth != 0 {
		w.WriteString("DEPTH")
	}
	if colBitset&colBitNDel != 0 {
		w.WriteString("NDEL")
	}
	if colBitset&colBitMQ0 != 0 {
		w.WriteString("MQ0")
	}
	if colBitset&colBitBases != 0 {
		for _, b := range pileup.EnumToASCIITable {
			w.WriteString(string(b))
		}
	}
	if colBitset&colBitStrands != 0 {
		w.WriteString("FWD")
		w.WriteString("REV")
	}
	return w.EndLine()
}

// writeRows writes one row per sample of p.
func writeRows(w *tsv.Writer, p pileup.Pileup, colBitset int) error {
	for _, sample := range p.Samples() {
		elems := p.BySample[sample]
		w.WriteString(p.Loc.RefName)
		w.WriteUint32(uint32(p.Loc.Start))
		w.WriteString(sample)
		if colBitset&colBitDepth != 0 {
			w.WriteUint32(uint32(len(elems)))
		}
		sp := pileup.Pileup{Loc: p.Loc, BySample: map[string][]pileup.Element{sample: elems}}
		if colBitset&colBitNDel != 0 {
			w.WriteUint32(uint32(sp.NumDeletions()))
		}
		if colBitset&colBitMQ0 != 0 {
			w.WriteUint32(uint32(sp.NumMQ0()))
		}
		if colBitset&colBitBases != 0 {
			for _, n := range pileup.BaseCounts(elems) {
				w.WriteUint32(uint32(n))
			}
		}
		if colBitset&colBitStrands != 0 {
			strands := pileup.StrandCounts(elems)
			w.WriteUint32(uint32(strands[pileup.StrandFwd]))
			w.WriteUint32(uint32(strands[pileup.StrandRev]))
		}
		if err := w.EndLine(); err != nil {
			return err
		}
	}
	return nil
}

// processFilePointer runs the pileup over one FilePointer and writes its
// rows to out.  Only positions inside the FilePointer's locations are
// written, so adjacent FilePointers never report the same position.
func processFilePointer(fp bam.FilePointer, providers []bamprovider.Provider, popts pileup.Opts, colBitset int, out io.Writer) (err error) {
	iter := bamprovider.NewFilePointerIterator(fp, providers...)
	defer func() {
		if e := iter.Close(); e != nil && err == nil {
			err = e
		}
	}()
	popts.Bounds = fp.Locations
	li, err := pileup.NewLocusIterator(iter, popts)
	if err != nil {
		return err
	}
	w := tsv.NewWriter(out)
	for li.Scan() {
		if err = writeRows(w, li.Pileup(), colBitset); err != nil {
			break
		}
	}
	if e := li.Close(); e != nil && err == nil {
		err = errors.E(e, fmt.Sprintf("pileup of %v", fp.Locations))
	}
	if e := w.Flush(); e != nil && err == nil {
		err = e
	}
	return err
}

// Run computes per-position, per-sample depth for the BAM files at bamPaths
// and writes it to outPath as TSV.  Every file must have an index.
func Run(ctx context.Context, bamPaths []string, outPath string, opts *Opts) (err error) {
	if len(bamPaths) == 0 {
		return errors.E(errors.Invalid, "depth: no BAM file given")
	}
	if opts.BamIndexPath != "" && len(bamPaths) > 1 {
		return errors.E(errors.Invalid, "depth: -index can only be used with a single BAM file")
	}
	var bgzip bool
	switch opts.Format {
	case "tsv":
	case "tsv-bgz":
		bgzip = true
	default:
		return errors.E(errors.Invalid, fmt.Sprintf("depth: unrecognized format %q", opts.Format))
	}
	colBitset, err := pileup.ParseCols(opts.Cols, colNameMap, colBitsetDefault)
	if err != nil {
		return err
	}
	parallelism := opts.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.NumCPU()
	}

	providers := make([]*bamprovider.BAMProvider, len(bamPaths))
	generic := make([]bamprovider.Provider, len(bamPaths))
	headers := make([]*sam.Header, len(bamPaths))
	for i, path := range bamPaths {
		providers[i] = bamprovider.NewProvider(path, bamprovider.ProviderOpts{Index: opts.BamIndexPath})
		generic[i] = providers[i]
	}
	defer func() {
		for _, p := range providers {
			if e := p.Close(); e != nil && err == nil {
				err = e
			}
		}
	}()
	for i, p := range providers {
		if headers[i], err = p.GetHeader(); err != nil {
			return err
		}
	}
	loci, err := loadLoci(ctx, opts, interval.NewDictionary(headers[0]))
	if err != nil {
		return err
	}
	sharder, err := bamprovider.NewSharder(loci, providers...)
	if err != nil {
		return err
	}
	defer func() {
		if e := sharder.Close(); e != nil && err == nil {
			err = e
		}
	}()
	popts := pileup.Opts{
		Samples:              pileup.SamplesFromHeader(headers...),
		SampleOf:             pileup.SampleByReadGroup(headers...),
		DownsampleToCoverage: opts.DownsampleToCoverage,
		Seed:                 opts.Seed,
		IncludeDeletions:     opts.IncludeDeletions,
		FilterAdaptorBases:   opts.FilterAdaptorBases,
	}
	log.Printf("depth: %d samples, %d jobs", len(popts.Samples), parallelism)

	if opts.TempDir != "" {
		if err = os.MkdirAll(opts.TempDir, 0755); err != nil {
			return err
		}
	}
	tmpFiles := make([]*os.File, parallelism)
	defer func() {
		for _, f := range tmpFiles {
			if f == nil {
				continue
			}
			if e := f.Close(); e != nil && err == nil {
				err = e
			}
			if e := os.Remove(f.Name()); e != nil && err == nil {
				err = e
			}
		}
	}()
	for jobIdx := range tmpFiles {
		if tmpFiles[jobIdx], err = ioutil.TempFile(opts.TempDir, "depth_tmp"+strconv.Itoa(jobIdx)+"_*.tsv"); err != nil {
			return err
		}
	}

	dst, err := file.Create(ctx, outPath)
	if err != nil {
		return err
	}
	defer file.CloseAndReport(ctx, dst, &err)
	var out io.Writer = dst.Writer(ctx)
	if bgzip {
		bw := bgzf.NewWriter(out, parallelism)
		defer func() {
			if e := bw.Close(); e != nil && err == nil {
				err = e
			}
		}()
		out = bw
	}
	w := tsv.NewWriter(out)
	if err = writeHeader(w, colBitset); err != nil {
		return err
	}
	if err = w.Flush(); err != nil {
		return err
	}

	// FilePointers are pulled from the sharder one batch at a time, so
	// neither the FilePointers nor their rows are held for the whole genome.
	batch := make([]bam.FilePointer, 0, parallelism*filePointersPerJob)
	nFilePointers := 0
	for more := true; more; {
		batch = batch[:0]
		for len(batch) < cap(batch) {
			if more = sharder.Scan(); !more {
				break
			}
			if fp := sharder.FilePointer(); !fp.Unmapped && !fp.IsEmpty() {
				batch = append(batch, fp)
			}
		}
		if len(batch) == 0 {
			continue
		}
		nFilePointers += len(batch)
		if err = processBatch(batch, tmpFiles, generic, popts, colBitset, out); err != nil {
			return err
		}
	}
	if err = sharder.Err(); err != nil {
		return err
	}
	log.Debug.Printf("depth: %d file pointers written to %s", nFilePointers, outPath)
	return nil
}

// processBatch runs the pileup over fps, each job writing a contiguous slice
// of fps to its own temp file, then appends the temp files to out in job
// order.
func processBatch(fps []bam.FilePointer, tmpFiles []*os.File, providers []bamprovider.Provider, popts pileup.Opts, colBitset int, out io.Writer) error {
	nJob := len(tmpFiles)
	if nJob > len(fps) {
		nJob = len(fps)
	}
	for _, f := range tmpFiles[:nJob] {
		if err := f.Truncate(0); err != nil {
			return err
		}
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
	}
	err := traverse.Each(nJob, func(jobIdx int) error {
		startIdx := (jobIdx * len(fps)) / nJob
		endIdx := ((jobIdx + 1) * len(fps)) / nJob
		for i := startIdx; i < endIdx; i++ {
			if err := processFilePointer(fps[i], providers, popts, colBitset, tmpFiles[jobIdx]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, f := range tmpFiles[:nJob] {
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return err
		}
		if _, err := io.Copy(out, f); err != nil {
			return err
		}
	}
	return nil
}
