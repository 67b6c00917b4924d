package engine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openT(t *testing.T, threshold int) *Engine {
	t.Helper()
	dir := t.TempDir()
	e, err := Open(dir, threshold)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestBasicPutGet(t *testing.T) {
	e := openT(t, 1<<20)

	require.NoError(t, e.Put([]byte("a"), []byte("1")))
	require.NoError(t, e.Put([]byte("b"), []byte("2")))

	v, ok := e.Get([]byte("a"))
	require.True(t, ok)
	assert.Equal(t, "1", string(v))

	v, ok = e.Get([]byte("b"))
	require.True(t, ok)
	assert.Equal(t, "2", string(v))

	_, ok = e.Get([]byte("c"))
	assert.False(t, ok)
}

func TestOverwriteAcrossFlush(t *testing.T) {
	e := openT(t, 1<<20)

	require.NoError(t, e.Put([]byte("k"), []byte("v1")))
	require.NoError(t, e.Flush())
	require.NoError(t, e.Put([]byte("k"), []byte("v2")))

	assert.Equal(t, 1, e.SSTableCount())
	v, ok := e.Get([]byte("k"))
	require.True(t, ok)
	assert.Equal(t, "v2", string(v))

	require.NoError(t, e.Flush())
	assert.Equal(t, 2, e.SSTableCount())

	v, ok = e.Get([]byte("k"))
	require.True(t, ok)
	assert.Equal(t, "v2", string(v))
}

func TestWALCrashRecovery(t *testing.T) {
	dir := t.TempDir()

	e, err := Open(dir, 1<<30)
	require.NoError(t, err)
	require.NoError(t, e.Put([]byte("x"), []byte("1")))
	require.NoError(t, e.Put([]byte("y"), []byte("2")))
	// Simulate a crash: drop the engine without flushing or closing.

	e2, err := Open(dir, 1<<30)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e2.Close() })

	v, ok := e2.Get([]byte("x"))
	require.True(t, ok)
	assert.Equal(t, "1", string(v))

	v, ok = e2.Get([]byte("y"))
	require.True(t, ok)
	assert.Equal(t, "2", string(v))

	assert.Equal(t, 0, e2.SSTableCount())
}

func TestThresholdTriggeredFlush(t *testing.T) {
	e := openT(t, 32)

	written := map[string]string{}
	for i := 0; i < 8; i++ {
		k := string(rune('a' + i))
		v := "value-0" // 7 bytes
		written[k] = v
		require.NoError(t, e.Put([]byte(k), []byte(v)))
	}

	assert.GreaterOrEqual(t, e.SSTableCount(), 1)
	for k, v := range written {
		got, ok := e.Get([]byte(k))
		require.True(t, ok)
		assert.Equal(t, v, string(got))
	}
}

func TestFilterSkipStatistic(t *testing.T) {
	e := openT(t, 16)

	require.NoError(t, e.Put([]byte("alpha"), []byte("A")))
	require.NoError(t, e.Flush())
	e.ResetBloomFilterStats()

	_, ok := e.Get([]byte("omega"))
	assert.False(t, ok)

	stats := e.BloomFilterStats()
	assert.Equal(t, uint64(1), stats.Skips)
	assert.Equal(t, uint64(0), stats.Proceeds)
}

func TestHighFPPNeverPanicsOrReturnsWrongValue(t *testing.T) {
	e, err := OpenWithFPP(t.TempDir(), 1<<20, 0.5)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	for i := 0; i < 100; i++ {
		k := []byte{byte(i), byte(i >> 8)}
		require.NoError(t, e.Put(k, []byte("v")))
	}
	require.NoError(t, e.Flush())

	for i := 1000; i < 2000; i++ {
		k := []byte{byte(i), byte(i >> 8), byte(i >> 16)}
		_, ok := e.Get(k)
		assert.False(t, ok)
	}
}

func TestInvalidConfigRejected(t *testing.T) {
	dir := t.TempDir()

	_, err := Open(dir, 0)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = OpenWithFPP(dir, 1024, 0)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = OpenWithFPP(dir, 1024, 1)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestFlushTruncatesWALAndReopenIsEmpty(t *testing.T) {
	dir := t.TempDir()

	e, err := Open(dir, 1<<20)
	require.NoError(t, err)
	require.NoError(t, e.Put([]byte("k"), []byte("v")))
	require.NoError(t, e.Flush())

	walPath := filepath.Join(dir, walFileName)
	info, err := os.Stat(walPath)
	require.NoError(t, err)
	assert.Zero(t, info.Size())
	require.NoError(t, e.Close())

	e2, err := Open(dir, 1<<20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e2.Close() })
	assert.True(t, e2.IsEmpty())
	assert.Equal(t, 1, e2.SSTableCount())
}

func TestPutAfterCloseFails(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, 1<<20)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	err = e.Put([]byte("a"), []byte("b"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMissingBloomSiblingIsReconstructed(t *testing.T) {
	dir := t.TempDir()
	e, err := Open(dir, 1<<20)
	require.NoError(t, err)
	require.NoError(t, e.Put([]byte("k"), []byte("v")))
	require.NoError(t, e.Flush())
	require.NoError(t, e.Close())

	require.NoError(t, os.Remove(filepath.Join(dir, "sstable_0.bloom")))

	e2, err := Open(dir, 1<<20)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e2.Close() })

	v, ok := e2.Get([]byte("k"))
	require.True(t, ok)
	assert.Equal(t, "v", string(v))

	stats := e2.BloomFilterStats()
	require.Len(t, stats.PerFilter, 1)
	assert.Equal(t, uint32(1), stats.PerFilter[0].Items)
}

func TestGetImmutDoesNotAffectStats(t *testing.T) {
	e := openT(t, 16)
	require.NoError(t, e.Put([]byte("alpha"), []byte("A")))
	require.NoError(t, e.Flush())
	e.ResetBloomFilterStats()

	_, ok := e.GetImmut([]byte("omega"))
	assert.False(t, ok)

	stats := e.BloomFilterStats()
	assert.Equal(t, uint64(0), stats.Skips)
	assert.Equal(t, uint64(0), stats.Proceeds)
}
