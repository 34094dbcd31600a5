// Package simhash computes the deterministic per-table and per-frame
// world hashes used by the desync detector. Every hash is a pure function
// of a byte sequence: no field is interpreted by endianness or iterated
// out of a hash container, so the same bytes always produce the same
// digest regardless of platform or execution history.
package simhash

import "github.com/cespare/xxhash/v2"

// Table hashes meta followed by slab in one pass, the same meta-then-slab
// order the snapshot codec (internal/snapshot) writes them in. The codec's
// length prefixes are not part of the digest.
func Table(meta, slab []byte) uint64 {
	d := xxhash.New()
	d.Write(meta)
	d.Write(slab)
	return d.Sum64()
}

// seedMix is an arbitrary odd 64-bit constant giving the frame-hash
// mixer a non-zero starting state, so a world with zero tables still
// yields a non-zero, stable digest.
const seedMix uint64 = 0x9e3779b97f4a7c15

// Frame combines per-table hashes, taken in declared table order, into one
// combined world hash via a fixed, order-sensitive mixing function
// (multiply-rotate-xor), so swapping two tables' declared order changes
// the result — exercising the stated "declared table order" contract.
func Frame(tableHashes []uint64) uint64 {
	h := seedMix
	for _, th := range tableHashes {
		h ^= th
		h *= 0xff51afd7ed558ccd
		h = rotl64(h, 31)
	}
	return h
}

func rotl64(x uint64, r uint) uint64 {
	return x<<r | x>>(64-r)
}
