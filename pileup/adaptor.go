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

import "github.com/grailbio/hts/sam"

const (
	// MaxAdaptorLength is how far outside the alignment an adaptor boundary
	// may lie and still be honored.
	MaxAdaptorLength = 8
	// DefaultAdaptorSize is the largest insert size for which bases past the
	// adaptor boundary are filtered.
	DefaultAdaptorSize = 100
)

// adaptorBoundary returns the 1-based reference position where the read's
// sequencing adaptor begins, inferred from the insert size.  ok is false
// when no usable boundary exists.
func adaptorBoundary(r *sam.Record) (pos int, ok bool) {
	isize := r.TempLen
	if isize == 0 || r.Flags&sam.Unmapped != 0 || r.Ref == nil {
		return 0, false
	}
	if isize < 0 {
		isize = -isize
	}
	alignStart, alignEnd := r.Pos+1, r.End()
	if r.Flags&sam.Reverse != 0 {
		// One before the 1-based mate start.
		pos = r.MatePos
	} else {
		pos = alignStart + isize + 1
	}
	if pos < alignStart-MaxAdaptorLength || pos > alignEnd+MaxAdaptorLength {
		return 0, false
	}
	return pos, true
}

// isBaseInAdaptor reports whether the base at 1-based reference position pos
// lies in r's adaptor sequence.
func isBaseInAdaptor(r *sam.Record, pos int) bool {
	boundary, ok := adaptorBoundary(r)
	if !ok || r.TempLen > DefaultAdaptorSize {
		return false
	}
	if r.Flags&sam.Reverse != 0 {
		return pos <= boundary
	}
	return pos >= boundary
}
