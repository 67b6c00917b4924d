// Package memtable holds the engine's in-memory, ordered key/value
// buffer: an unsorted map for O(1) point access plus a sort-on-demand
// key listing for flush.
package memtable

import (
	"bytes"
	"sort"
)

// Memtable is an ordered mapping from key to value with unique keys.
// A later Put of an existing key replaces the prior value in place.
type Memtable struct {
	byKey map[string][]byte
}

// New returns an empty memtable.
func New() *Memtable {
	return &Memtable{byKey: make(map[string][]byte)}
}

// Put inserts or replaces the value for key.
func (m *Memtable) Put(key, value []byte) {
	m.byKey[string(key)] = cloneBytes(value)
}

// Get returns the value for key and whether it was present.
func (m *Memtable) Get(key []byte) ([]byte, bool) {
	v, ok := m.byKey[string(key)]
	if !ok {
		return nil, false
	}
	return cloneBytes(v), true
}

// Len returns the number of distinct keys currently held.
func (m *Memtable) Len() int {
	return len(m.byKey)
}

// KeysSorted returns every key currently held, in ascending
// unsigned-lexicographic byte order.
func (m *Memtable) KeysSorted() [][]byte {
	keys := make([][]byte, 0, len(m.byKey))
	for k := range m.byKey {
		keys = append(keys, []byte(k))
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i], keys[j]) < 0
	})
	return keys
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
