// Package downsample bounds the number of items kept from a stream.
//
// ReservoirDownsampler keeps a uniform random subset of fixed size from an
// unbounded stream.  LevelingDownsampler trims a list of groups down to a
// total size, taking items from the largest groups first so that every group
// stays represented.
//
// Randomness is always supplied by the caller, so results are reproducible for
// a given seed.
package downsample
