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
	"sort"

	"github.com/grailbio/bamlocus/downsample"
	"github.com/grailbio/hts/sam"
)

// NoSample names the sample of reads in a file without read-group sample
// tags.
const NoSample = "-"

var (
	rgTag     = sam.NewTag("RG")
	sampleTag = sam.NewTag("SM")
)

// SamplesFromHeader returns the distinct SM values of the read groups of
// headers in sorted order.  If no read group names a sample, it returns
// {NoSample}.
func SamplesFromHeader(headers ...*sam.Header) []string {
	seen := map[string]bool{}
	var samples []string
	for _, h := range headers {
		for _, rg := range h.RGs() {
			if s := rg.Get(sampleTag); s != "" && !seen[s] {
				seen[s] = true
				samples = append(samples, s)
			}
		}
	}
	if len(samples) == 0 {
		return []string{NoSample}
	}
	sort.Strings(samples)
	return samples
}

// SampleByReadGroup returns a function that maps a read to the SM value of
// its RG in headers.  Reads without a read group, or whose read group has no
// sample, map to NoSample.  When several headers define the same read group,
// the first one wins.
func SampleByReadGroup(headers ...*sam.Header) func(*sam.Record) string {
	byRG := map[string]string{}
	for _, h := range headers {
		for _, rg := range h.RGs() {
			if _, ok := byRG[rg.Name()]; ok {
				continue
			}
			if s := rg.Get(sampleTag); s != "" {
				byRG[rg.Name()] = s
			}
		}
	}
	return func(r *sam.Record) string {
		aux := r.AuxFields.Get(rgTag)
		if aux == nil {
			return NoSample
		}
		name, ok := aux.Value().(string)
		if !ok {
			return NoSample
		}
		if s, ok := byRG[name]; ok {
			return s
		}
		return NoSample
	}
}

// SamplePartitioner splits a batch of reads by sample, passing each sample's
// reads through its own downsampler.  Usage: Submit reads, call Complete, read
// the results with Selected, then Reset before the next batch.  Thread
// compatible.
type SamplePartitioner struct {
	samplers map[string]downsample.Downsampler
	selected map[string][]*sam.Record
	// Number of reads submitted for samples that were not registered.
	nUnregistered int
}

// NewSamplePartitioner creates a partitioner for the given samples.
// newSampler is called once per sample.
func NewSamplePartitioner(samples []string, newSampler func(sample string) downsample.Downsampler) *SamplePartitioner {
	p := &SamplePartitioner{
		samplers: make(map[string]downsample.Downsampler, len(samples)),
		selected: make(map[string][]*sam.Record, len(samples)),
	}
	for _, s := range samples {
		p.samplers[s] = newSampler(s)
	}
	return p
}

// Submit adds a read for sample.  Reads of unregistered samples are counted
// and dropped.
func (p *SamplePartitioner) Submit(sample string, r *sam.Record) {
	d, ok := p.samplers[sample]
	if !ok {
		p.nUnregistered++
		return
	}
	d.Submit(r)
}

// Complete ends the current batch and makes the kept reads available through
// Selected.
func (p *SamplePartitioner) Complete() {
	for sample, d := range p.samplers {
		items := d.Consume()
		if len(items) == 0 {
			continue
		}
		recs := make([]*sam.Record, len(items))
		for i, item := range items {
			recs[i] = item.(*sam.Record)
		}
		p.selected[sample] = recs
	}
}

// Selected returns the reads kept for sample in the last completed batch, in
// submission order.
func (p *SamplePartitioner) Selected(sample string) []*sam.Record {
	return p.selected[sample]
}

// Reset clears the results of the last batch.  Discard counts are kept.
func (p *SamplePartitioner) Reset() {
	for sample := range p.selected {
		delete(p.selected, sample)
	}
}

// NumDiscarded returns the number of reads of sample dropped by its
// downsampler so far.
func (p *SamplePartitioner) NumDiscarded(sample string) int {
	if d, ok := p.samplers[sample]; ok {
		return d.NumDiscarded()
	}
	return 0
}

// NumUnregistered returns the number of reads dropped because their sample
// was not registered.
func (p *SamplePartitioner) NumUnregistered() int { return p.nUnregistered }
