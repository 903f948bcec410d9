package main

// See doc.go for documentation
import (
	"bufio"
	"flag"
	"fmt"
	"os"

	"github.com/grailbio/bamlocus/encoding/bam"
	"github.com/grailbio/bamlocus/encoding/bamprovider"
	"github.com/grailbio/bamlocus/interval"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
)

var (
	bedPath         = flag.String("bed", "", "BED file of intervals to shard")
	region          = flag.String("region", "", "Region to shard, as <contig>:<start>-<end>; \"unmapped\" selects unmapped reads")
	index           = flag.String("index", "", "Index path, for a single BAM. Defaults to bampath + .bai")
	includeUnmapped = flag.Bool("unmapped", true, "Add the unmapped file pointer when sharding the whole genome")
)

func printFilePointer(w *bufio.Writer, fp bam.FilePointer) {
	if fp.Unmapped {
		fmt.Fprint(w, "*")
	} else {
		fmt.Fprint(w, fp.RefName)
	}
	for _, l := range fp.Locations {
		fmt.Fprintf(w, "\t%v", l)
	}
	for _, id := range fp.FileIDs() {
		span := fp.FileSpans[id]
		fmt.Fprintf(w, "\t%s:%d:%d", id, len(span), span.Size())
	}
	fmt.Fprintln(w)
}

func main() {
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() == 0 {
		log.Fatalf("usage: bio-bam-shard [flags] bampath...")
	}
	if *index != "" && flag.NArg() > 1 {
		log.Fatalf("-index can only be used with a single BAM file")
	}
	var providers []*bamprovider.BAMProvider
	for _, path := range flag.Args() {
		providers = append(providers, bamprovider.NewProvider(path, bamprovider.ProviderOpts{Index: *index}))
	}
	header, err := providers[0].GetHeader()
	if err != nil {
		log.Fatalf("%v", err)
	}
	dict := interval.NewDictionary(header)

	var loci *interval.SortedSet
	switch {
	case *bedPath != "" && *region != "":
		log.Fatalf("-bed and -region can't be used together")
	case *bedPath != "":
		loci, err = interval.LoadBEDFromPath(vcontext.Background(), *bedPath, dict)
	case *region != "":
		loci, err = interval.ParseRegions([]string{*region}, dict)
	default:
		loci = bam.GenomeIntervals(header, *includeUnmapped)
	}
	if err != nil {
		log.Fatalf("%v", err)
	}

	sharder, err := bamprovider.NewSharder(loci, providers...)
	if err != nil {
		log.Fatalf("%v", err)
	}
	w := bufio.NewWriter(os.Stdout)
	var (
		n     int
		total int64
	)
	for sharder.Scan() {
		fp := sharder.FilePointer()
		printFilePointer(w, fp)
		n++
		total += fp.Size()
	}
	if err := sharder.Close(); err != nil {
		log.Fatalf("%v", err)
	}
	if err := w.Flush(); err != nil {
		log.Fatalf("%v", err)
	}
	log.Printf("%d file pointers, %d bytes", n, total)
	for _, p := range providers {
		if err := p.Close(); err != nil {
			log.Fatalf("%v", err)
		}
	}
}
