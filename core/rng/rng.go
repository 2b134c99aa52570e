// Package rng provides the deterministic random source used for bagging,
// feature sampling and data splits.
//
// RNG is a PCG32 generator (64-bit LCG state, XSH-RR output). Every tree draws
// from its own substream obtained with Derive, so a bag can be regenerated
// later from (seed, tree index, nonce) alone.
package rng

import (
	"encoding/binary"
	"hash/fnv"
	"math/bits"
)

const (
	pcgMultiplier = 6364136223846793005

	splitmixC1 = 0x9e3779b97f4a7c15
	splitmixC2 = 0xbf58476d1ce4e5b9
	splitmixC3 = 0x94d049bb133111eb

	seedIncMix   = 0xda3e39cb94b95bdb
	streamIncMix = 0x632be59bd9b4e019
)

// RNG is a seedable PCG32 generator. It is not safe for concurrent use.
type RNG struct {
	state    uint64
	inc      uint64
	baseSeed uint64
}

// New returns a generator seeded with seed.
func New(seed uint64) *RNG {
	r := &RNG{baseSeed: seed}
	r.seed(seed, seed^seedIncMix)
	return r
}

func (r *RNG) seed(initState, initSeq uint64) {
	r.state = 0
	r.inc = (initSeq << 1) | 1
	r.Next()
	r.state += initState
	r.Next()
}

// Seed returns the base seed substreams are derived from.
func (r *RNG) Seed() uint64 {
	return r.baseSeed
}

// Next returns the next 32-bit output.
func (r *RNG) Next() uint32 {
	old := r.state
	r.state = old*pcgMultiplier + r.inc
	xorshifted := uint32(((old >> 18) ^ old) >> 27)
	rot := int(old >> 59)
	return bits.RotateLeft32(xorshifted, -rot)
}

// Bounded returns a uniform value in [0, n).
//
// Outputs below 2^32 mod n are rejected so every residue is equally likely;
// the expected number of draws is below 2 for any n. Bounded(0) returns 0.
func (r *RNG) Bounded(n uint32) uint32 {
	if n == 0 {
		return 0
	}
	threshold := -n % n
	for {
		v := r.Next()
		if v >= threshold {
			return v % n
		}
	}
}

// Float returns a value in [0, 1).
func (r *RNG) Float() float64 {
	return float64(r.Next()) / (1 << 32)
}

// Derive returns an independent substream for (stream, nonce).
// The receiver's state is not consumed: identical arguments always give
// identical substreams.
func (r *RNG) Derive(stream, nonce uint64) *RNG {
	s := splitmix64(r.baseSeed ^ (stream*splitmixC1 + nonce))
	inc := splitmix64(r.baseSeed + (stream << 1) + streamIncMix)
	d := &RNG{baseSeed: s}
	d.seed(s, inc)
	return d
}

// Shuffle permutes ids in place (Fisher-Yates).
func (r *RNG) Shuffle(ids []uint32) {
	for i := len(ids) - 1; i > 0; i-- {
		j := r.Bounded(uint32(i + 1))
		ids[i], ids[j] = ids[j], ids[i]
	}
}

// Perm returns a random permutation of [0, n).
func (r *RNG) Perm(n int) []uint32 {
	p := make([]uint32, n)
	for i := range p {
		p[i] = uint32(i)
	}
	r.Shuffle(p)
	return p
}

// Sample picks k distinct values from [0, n) in selection order (Floyd).
func (r *RNG) Sample(n, k int) []int {
	if k > n {
		k = n
	}
	chosen := make([]int, 0, k)
	seen := make(map[int]struct{}, k)
	for j := n - k; j < n; j++ {
		t := int(r.Bounded(uint32(j + 1)))
		if _, dup := seen[t]; dup {
			t = j
		}
		seen[t] = struct{}{}
		chosen = append(chosen, t)
	}
	return chosen
}

func splitmix64(x uint64) uint64 {
	x += splitmixC1
	x = (x ^ (x >> 30)) * splitmixC2
	x = (x ^ (x >> 27)) * splitmixC3
	return x ^ (x >> 31)
}

// HashIDs is a 64-bit FNV-1a hash over the little-endian bytes of each id
// followed by the id count. Callers sort ids first for an order-independent hash.
func HashIDs(ids []uint32) uint64 {
	buf := make([]byte, 0, 4*len(ids)+8)
	for _, id := range ids {
		buf = binary.LittleEndian.AppendUint32(buf, id)
	}
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(ids)))
	h := fnv.New64a()
	_, _ = h.Write(buf)
	return h.Sum64()
}
