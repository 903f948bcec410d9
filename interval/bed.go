package interval

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/klauspost/compress/gzip"
)

// getTokens identifies up to the first len(tokens) tokens from curLine,
// returning the number of tokens saved.  Any (group of) characters <= ' ' is
// treated as a delimiter.
func getTokens(tokens [][]byte, curLine []byte) int {
	posEnd := 0
	lineLen := len(curLine)
	for tokenIdx := range tokens {
		pos := posEnd
		for ; pos != lineLen; pos++ {
			if curLine[pos] > ' ' {
				break
			}
		}
		if pos == lineLen {
			return tokenIdx
		}
		posEnd = pos
		for ; posEnd != lineLen; posEnd++ {
			if curLine[posEnd] <= ' ' {
				break
			}
		}
		tokens[tokenIdx] = curLine[pos:posEnd]
	}
	return len(tokens)
}

// LoadBED reads BED intervals (0-based, half-open) from reader and returns
// them as 1-based closed Locs.  Header lines ("#", "track", "browser") and empty
// intervals are skipped.  Intervals need not be sorted.
func LoadBED(reader io.Reader, dict *Dictionary) (*SortedSet, error) {
	scanner := bufio.NewScanner(reader)
	set := NewSortedSet()
	var tokens [3][]byte
	lineIdx := 0
	totBases := 0
	for scanner.Scan() {
		lineIdx++
		curLine := scanner.Bytes()
		nToken := getTokens(tokens[:], curLine)
		if nToken == 0 {
			continue
		}
		chr := gunsafe.BytesToString(tokens[0])
		if strings.HasPrefix(chr, "#") || chr == "track" || chr == "browser" {
			continue
		}
		if nToken != 3 {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("interval.LoadBED: line %d has fewer tokens than expected", lineIdx))
		}
		start0, err := strconv.Atoi(gunsafe.BytesToString(tokens[1]))
		if err != nil {
			return nil, errors.E(errors.Invalid, err, fmt.Sprintf("interval.LoadBED: line %d", lineIdx))
		}
		end, err := strconv.Atoi(gunsafe.BytesToString(tokens[2]))
		if err != nil {
			return nil, errors.E(errors.Invalid, err, fmt.Sprintf("interval.LoadBED: line %d", lineIdx))
		}
		if start0 < 0 || end < start0 || end > MaxPos {
			return nil, errors.E(errors.Invalid, fmt.Sprintf("interval.LoadBED: invalid coordinate pair on line %d", lineIdx))
		}
		if end == start0 {
			continue
		}
		loc, err := dict.NewLoc(string(tokens[0]), start0+1, end)
		if err != nil {
			return nil, errors.E(err, fmt.Sprintf("interval.LoadBED: line %d", lineIdx))
		}
		totBases += loc.Size()
		set.Add(loc)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.E(err, "interval.LoadBED")
	}
	log.Debug.Printf("BED loaded, %d interval(s), %d base(s) listed", set.Len(), totBases)
	return set, nil
}

// LoadBEDFromPath is a wrapper for LoadBED that takes a path instead of an
// io.Reader.  Gzipped files are detected by their extension.
func LoadBEDFromPath(ctx context.Context, path string, dict *Dictionary) (set *SortedSet, err error) {
	var infile file.File
	if infile, err = file.Open(ctx, path); err != nil {
		return nil, err
	}
	defer file.CloseAndReport(ctx, infile, &err)
	reader := io.Reader(infile.Reader(ctx))
	switch fileio.DetermineType(path) {
	case fileio.Gzip:
		var gz *gzip.Reader
		if gz, err = gzip.NewReader(reader); err != nil {
			return nil, err
		}
		defer func() {
			if e := gz.Close(); e != nil && err == nil {
				err = e
			}
		}()
		reader = gz
	}
	return LoadBED(reader, dict)
}

// Region is a parsed samtools-style region string with 1-based, inclusive
// coordinates.
type Region struct {
	RefName string
	Start   int
	Stop    int
}

// ParseRegionString parses a region string of one of the forms
//   [contig ID]:[1-based first pos]-[last pos]
//   [contig ID]:[1-based pos]
//   [contig ID]
// The interval [1, MaxPos] is returned if there is no positional restriction.
func ParseRegionString(region string) (result Region, err error) {
	if len(region) == 0 {
		err = fmt.Errorf("interval.ParseRegionString: empty region string")
		return
	}
	colonPos := strings.LastIndexByte(region, ':')
	if colonPos == -1 {
		result.RefName = region
		result.Start = 1
		result.Stop = MaxPos
		return
	}
	if colonPos == 0 {
		err = fmt.Errorf("interval.ParseRegionString: empty contig ID")
		return
	}
	result.RefName = region[0:colonPos]
	rangeStr := strings.Replace(region[colonPos+1:], ",", "", -1)
	dashPos := strings.IndexByte(rangeStr, '-')
	if dashPos == -1 {
		var pos1 int64
		if pos1, err = strconv.ParseInt(rangeStr, 10, 32); err != nil {
			return
		}
		if pos1 <= 0 {
			err = fmt.Errorf("interval.ParseRegionString: position %v in region string out of range", rangeStr)
			return
		}
		result.Start = int(pos1)
		result.Stop = int(pos1)
		return
	}
	var start, stop int
	if start, err = strconv.Atoi(rangeStr[:dashPos]); err != nil {
		return
	}
	if start <= 0 {
		err = fmt.Errorf("interval.ParseRegionString: position %v in region string out of range", rangeStr[:dashPos])
		return
	}
	if stop, err = strconv.Atoi(rangeStr[dashPos+1:]); err != nil {
		return
	}
	if stop < start || stop > MaxPos {
		err = fmt.Errorf("interval.ParseRegionString: invalid range string %v", rangeStr)
		return
	}
	result.Start = start
	result.Stop = stop
	return
}

// ParseRegions parses region strings into a SortedSet.  The word "unmapped"
// selects the unmapped pseudo-locus.
func ParseRegions(regions []string, dict *Dictionary) (*SortedSet, error) {
	set := NewSortedSet()
	for _, r := range regions {
		if r == "unmapped" {
			set.Add(Unmapped)
			continue
		}
		region, err := ParseRegionString(r)
		if err != nil {
			return nil, errors.E(errors.Invalid, err)
		}
		loc, err := dict.NewLoc(region.RefName, region.Start, region.Stop)
		if err != nil {
			return nil, err
		}
		set.Add(loc)
	}
	return set, nil
}
