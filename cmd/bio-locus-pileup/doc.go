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

/*
Given one or more coordinate-sorted, indexed BAM files, bio-locus-pileup
reports the per-sample read depth at every covered genomic position.  Reads
are grouped into samples by the SM tag of their read group; reads of files
without read-group samples are reported under "-".

The requested intervals are split into file pointers, which are processed in
parallel; the output is ordered by position.

Sample usage:
bio-locus-pileup \
    --region chr1:1000000-2000000 \
    --dcov 250 \
    --cols +mq0,+strands \
    --out depth.tsv \
    a.bam b.bam
*/
package main
