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
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/bamlocus/pileup/depth"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
)

var (
	bedPath            = flag.String("bed", depth.DefaultOpts.BedPath, "Input BED path; at most one of -bed and -region may be set. Defaults to every reference")
	region             = flag.String("region", depth.DefaultOpts.Region, "Restrict pileup computation to the specified region. Format as <contig ID>:<1-based first pos>-<last pos>, <contig ID>:<1-based pos>, or just <contig ID>")
	bamIndexPath       = flag.String("index", depth.DefaultOpts.BamIndexPath, "Input BAM index path, for a single BAM. Defaults to bampath + .bai")
	cols               = flag.String("cols", depth.DefaultOpts.Cols, "Output TSV column sets. #CHROM/POS/SAMPLE are always present. Supported optional sets are 'depth', 'ndel', 'mq0', 'bases' and 'strands'; default is \"depth,ndel\"")
	format             = flag.String("format", depth.DefaultOpts.Format, "Output format; 'tsv' and 'tsv-bgz' supported")
	dcov               = flag.Int("dcov", depth.DefaultOpts.DownsampleToCoverage, "Maximum number of reads per sample at a position; 0 disables downsampling")
	seed               = flag.Int64("seed", depth.DefaultOpts.Seed, "Seed for downsampling")
	includeDeletions   = flag.Bool("include-deletions", depth.DefaultOpts.IncludeDeletions, "Count reads with a deletion at the position")
	filterAdaptorBases = flag.Bool("filter-adaptor", depth.DefaultOpts.FilterAdaptorBases, "Skip bases that lie in the read's adaptor, as inferred from the insert size")
	outPath            = flag.String("out", "bio-locus-pileup.tsv", "Output path")
	parallelism        = flag.Int("parallelism", depth.DefaultOpts.Parallelism, "Maximum number of file pointers processed at once; 0 = runtime.NumCPU()")
	tempDir            = flag.String("temp-dir", depth.DefaultOpts.TempDir, "Directory for the per-job row files. Defaults to the system temp directory")
)

func bioLocusPileupUsage() {
	fmt.Printf("Usage: %s [OPTIONS] bampath...\n", os.Args[0])
	fmt.Printf("Other options:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Usage = bioLocusPileupUsage
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() == 0 {
		log.Fatalf("Missing positional arguments (at least one bampath required)")
	}
	ctx := vcontext.Background()
	opts := depth.Opts{
		BedPath:              *bedPath,
		Region:               *region,
		BamIndexPath:         *bamIndexPath,
		Cols:                 *cols,
		Format:               *format,
		DownsampleToCoverage: *dcov,
		Seed:                 *seed,
		IncludeDeletions:     *includeDeletions,
		FilterAdaptorBases:   *filterAdaptorBases,
		Parallelism:          *parallelism,
		TempDir:              *tempDir,
	}
	if err := depth.Run(ctx, flag.Args(), *outPath, &opts); err != nil {
		log.Panicf("%v", err)
	}
	log.Debug.Printf("exiting")
}
