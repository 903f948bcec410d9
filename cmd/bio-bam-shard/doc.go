/*Command bio-bam-shard splits genomic intervals into file pointers, using
  the .bai indexes of one or more BAM files.  Each output line describes one
  file pointer: its reference, its locations, and for each file the number
  of BGZF chunks to read and their approximate compressed size.

  Usage: bio-bam-shard [-bed regions.bed | -region chr1:1-1000000] a.bam b.bam
*/
package main
