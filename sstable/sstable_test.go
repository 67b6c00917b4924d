package sstable

import (
	"iter"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func seqOf(pairs [][2]string) iter.Seq2[[]byte, []byte] {
	return func(yield func(key, value []byte) bool) {
		for _, p := range pairs {
			if !yield([]byte(p[0]), []byte(p[1])) {
				return
			}
		}
	}
}

func TestWriteAndGet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sstable_0.db")

	pairs := [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}}
	require.NoError(t, Write(path, seqOf(pairs)))

	r := Open(path)
	v, ok, err := r.Get([]byte("b"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2", string(v))

	_, ok, err = r.Get([]byte("missing"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetEarlyTerminatesPastTarget(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sstable_0.db")

	pairs := [][2]string{{"a", "1"}, {"m", "2"}, {"z", "3"}}
	require.NoError(t, Write(path, seqOf(pairs)))

	r := Open(path)
	_, ok, err := r.Get([]byte("b")) // falls strictly between "a" and "m"
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAllYieldsAscendingOrder(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sstable_0.db")

	pairs := [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}}
	require.NoError(t, Write(path, seqOf(pairs)))

	r := Open(path)
	var got [][2]string
	for k, v := range r.All() {
		got = append(got, [2]string{string(k), string(v)})
	}
	require.Equal(t, pairs, got)
}

func TestEmptyValuesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sstable_0.db")

	pairs := [][2]string{{"", "b"}, {"a", ""}}
	require.NoError(t, Write(path, seqOf(pairs)))

	r := Open(path)
	v, ok, err := r.Get([]byte("a"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "", string(v))

	v, ok, err = r.Get([]byte(""))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "b", string(v))
}
