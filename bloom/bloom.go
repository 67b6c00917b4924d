// Package bloom implements a probabilistic membership filter: a bit
// vector plus k independent hash probes, sized from an expected item
// count and a target false-positive probability. It never produces a
// false negative.
package bloom

import (
	"encoding/binary"
	"errors"
	"hash/fnv"
	"math"

	"github.com/bits-and-blooms/bitset"
)

// ErrCorrupt is returned by Decode when the encoded bytes are too
// short (no full header, or a bit array shorter than the declared bit
// count needs) or declare a zero bit count or hash count.
var ErrCorrupt = errors.New("bloom: corrupt filter data")

// Filter is a bit-vector membership filter with k double-hashed
// probes per key. The zero value is not usable; construct one with
// New.
type Filter struct {
	m    uint32 // number of bits
	k    uint32 // number of hash functions
	c    uint32 // number of items inserted
	bits *bitset.BitSet
}

// New builds a filter sized for n expected items and a target
// false-positive probability p. n is clamped up to 1; p must be in
// (0,1) for the sizing formula to be meaningful, but New does not
// validate p itself — callers that accept p from configuration should
// validate it (see engine.Options).
//
//	m = ceil(-n * ln(p) / ln(2)^2)
//	k = max(1, round((m/n) * ln(2)))
func New(n int, p float64) *Filter {
	if n < 1 {
		n = 1
	}
	m := uint32(math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)))
	if m < 1 {
		m = 1
	}
	k := uint32(math.Round((float64(m) / float64(n)) * math.Ln2))
	if k < 1 {
		k = 1
	}
	return &Filter{
		m:    m,
		k:    k,
		bits: bitset.New(uint(m)),
	}
}

// Insert adds key to the filter, setting all k of its bits.
func (f *Filter) Insert(key []byte) {
	h1, h2 := hash2(key)
	for i := uint32(0); i < f.k; i++ {
		idx := uint((h1 + uint64(i)*h2) % uint64(f.m))
		f.bits.Set(idx)
	}
	f.c++
}

// MightContain reports whether key may have been inserted. A false
// result is a guarantee the key was never inserted; a true result may
// be a false positive.
func (f *Filter) MightContain(key []byte) bool {
	h1, h2 := hash2(key)
	for i := uint32(0); i < f.k; i++ {
		idx := uint((h1 + uint64(i)*h2) % uint64(f.m))
		if !f.bits.Test(idx) {
			return false
		}
	}
	return true
}

// EstimatedFPP returns the filter's estimated current false-positive
// probability given how many items have been inserted so far:
// (1 - e^(-k*c/m))^k.
func (f *Filter) EstimatedFPP() float64 {
	if f.c == 0 {
		return 0
	}
	exponent := -float64(f.k) * float64(f.c) / float64(f.m)
	return math.Pow(1-math.Exp(exponent), float64(f.k))
}

// NumBits returns m, the size of the bit vector.
func (f *Filter) NumBits() uint32 { return f.m }

// NumHashes returns k, the number of hash probes per key.
func (f *Filter) NumHashes() uint32 { return f.k }

// NumItems returns c, the number of keys inserted so far.
func (f *Filter) NumItems() uint32 { return f.c }

// Encode serializes the filter per the on-disk format:
// num_bits:u32LE | num_hashes:u32LE | num_items:u32LE | bit_array
// (ceil(m/8) bytes, bit i at byte i/8, bit i%8, LSB-first).
func (f *Filter) Encode() []byte {
	byteLen := (f.m + 7) / 8
	out := make([]byte, 12+byteLen)
	binary.LittleEndian.PutUint32(out[0:4], f.m)
	binary.LittleEndian.PutUint32(out[4:8], f.k)
	binary.LittleEndian.PutUint32(out[8:12], f.c)
	for i := uint32(0); i < f.m; i++ {
		if f.bits.Test(uint(i)) {
			out[12+i/8] |= 1 << (i % 8)
		}
	}
	return out
}

// Decode parses a filter from the on-disk format written by Encode.
func Decode(b []byte) (*Filter, error) {
	if len(b) < 12 {
		return nil, ErrCorrupt
	}
	m := binary.LittleEndian.Uint32(b[0:4])
	k := binary.LittleEndian.Uint32(b[4:8])
	c := binary.LittleEndian.Uint32(b[8:12])
	if m == 0 || k == 0 {
		return nil, ErrCorrupt
	}
	body := b[12:]
	wantBytes := int((m + 7) / 8)
	if len(body) < wantBytes {
		return nil, ErrCorrupt
	}
	bs := bitset.New(uint(m))
	for i := uint32(0); i < m; i++ {
		if body[i/8]&(1<<(i%8)) != 0 {
			bs.Set(uint(i))
		}
	}
	return &Filter{m: m, k: k, c: c, bits: bs}, nil
}

// hash2 derives two independent 64-bit hashes for key using FNV-1a
// with two distinct fixed seeds. The k probe indices are then
// index_i = (h1 + i*h2) mod m (double hashing). The hash family is
// part of the on-disk contract: filter files are not portable across
// implementations using a different hash2.
func hash2(key []byte) (uint64, uint64) {
	h := fnv.New64a()
	_, _ = h.Write(key)
	h1 := h.Sum64()

	h.Reset()
	_, _ = h.Write([]byte{0x7f})
	_, _ = h.Write(key)
	h2 := h.Sum64()
	if h2 == 0 {
		h2 = 0x9e3779b97f4a7c15
	}
	return h1, h2
}
