// Package bloom is a concurrent Bloom filter over strings.
package bloom

import (
	"math"
	"sync"

	"github.com/bits-and-blooms/bitset"
	"github.com/twmb/murmur3"
)

// Filter answers "definitely absent" or "possibly present". It never
// forgets an added key; callers rebuild it with Reset when the key set shrinks.
type Filter struct {
	mu   sync.RWMutex
	bits *bitset.BitSet
	m    uint // bits
	k    uint // hash functions
	n    uint // keys added since the last reset
	cap  uint // keys the filter was sized for
}

// New sizes a filter for expected keys at the given false positive rate.
func New(expected uint, fpRate float64) *Filter {
	expected = max(expected, 1)
	m, k := estimate(expected, fpRate)
	return &Filter{bits: bitset.New(m), m: m, k: k, cap: expected}
}

func estimate(n uint, p float64) (m, k uint) {
	if p <= 0 || p >= 1 {
		p = 0.01
	}
	m = uint(math.Ceil(-float64(n) * math.Log(p) / (math.Ln2 * math.Ln2)))
	k = uint(math.Ceil(math.Ln2 * float64(m) / float64(n)))
	return max(m, 64), max(k, 1)
}

// locations uses double hashing over the two 64-bit halves of murmur3.
func (f *Filter) locations(key string) []uint {
	h1, h2 := murmur3.StringSum128(key)
	locs := make([]uint, f.k)
	for i := range f.k {
		locs[i] = uint((h1 + uint64(i)*h2) % uint64(f.m))
	}
	return locs
}

func (f *Filter) Add(key string) {
	locs := f.locations(key)
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, l := range locs {
		f.bits.Set(l)
	}
	f.n++
}

// MayContain is false only when key was never added.
func (f *Filter) MayContain(key string) bool {
	locs := f.locations(key)
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, l := range locs {
		if !f.bits.Test(l) {
			return false
		}
	}
	return true
}

// Reset replaces the contents with keys.
func (f *Filter) Reset(keys []string) {
	fresh := bitset.New(f.m)
	for _, key := range keys {
		for _, l := range f.locations(key) {
			fresh.Set(l)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bits = fresh
	f.n = uint(len(keys))
}

// Len is the number of keys added since the last reset.
func (f *Filter) Len() uint {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.n
}

// Cap is the number of keys the filter was sized for. Past it the false
// positive rate climbs quickly.
func (f *Filter) Cap() uint {
	return f.cap
}

// Full reports whether the filter holds at least Cap keys.
func (f *Filter) Full() bool {
	return f.Len() >= f.cap
}
