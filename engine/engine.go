// Package engine composes the memtable, write-ahead log, and
// per-SSTable membership filters into the storage engine: the read
// merge across memtable and on-disk runs, the threshold-triggered
// flush, and startup recovery.
package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rvarma-dev/lsmkv/bloom"
	"github.com/rvarma-dev/lsmkv/memtable"
	"github.com/rvarma-dev/lsmkv/sstable"
	"github.com/rvarma-dev/lsmkv/wal"
)

// ErrClosed is returned by Put and Flush once the engine has been
// closed.
var ErrClosed = errors.New("engine: closed")

const walFileName = "wal.log"

// tableEntry co-owns one on-disk SSTable with its membership filter
// so the two can never drift apart — one tagged record rather than
// two parallel slices.
type tableEntry struct {
	id     uint64
	reader *sstable.Reader
	filter *bloom.Filter
}

// Engine is the sole entry point of the storage core: it owns the
// data directory, the live memtable, the WAL, and the list of
// on-disk SSTables (held newest-first so reads shadow correctly).
type Engine struct {
	mu     sync.Mutex
	opts   Options
	closed bool

	mem      *memtable.Memtable
	memBytes int

	walPath string
	w       *wal.WAL

	sstables []*tableEntry // newest-first
	nextID   uint64

	skips    uint64
	proceeds uint64
}

// Open opens (or creates) an engine rooted at dataDir with the given
// memtable flush threshold in bytes, using the default 1% target
// bloom false-positive rate.
func Open(dataDir string, memtableThresholdBytes int) (*Engine, error) {
	return OpenWithOptions(Options{
		DataDir:                dataDir,
		MemtableThresholdBytes: memtableThresholdBytes,
		BloomFPP:               defaultBloomFPP,
	})
}

// OpenWithFPP is Open with an explicit bloom false-positive target.
func OpenWithFPP(dataDir string, memtableThresholdBytes int, fpp float64) (*Engine, error) {
	return OpenWithOptions(Options{
		DataDir:                dataDir,
		MemtableThresholdBytes: memtableThresholdBytes,
		BloomFPP:               fpp,
	})
}

// OpenWithOptions opens an engine with full control over Options.
//
// Recovery proceeds in three steps: enumerate existing SSTables and
// load or reconstruct each one's filter, replay the WAL into a fresh
// memtable, then open the WAL for further appends. No flush happens
// as part of recovery even if the replayed memtable is already over
// threshold — the next Put triggers it.
func OpenWithOptions(opts Options) (*Engine, error) {
	if opts.DataDir == "" {
		opts.DataDir = "."
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(opts.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("engine: create data dir: %w", err)
	}

	tables, nextID, err := loadSSTables(opts.DataDir, opts.BloomFPP, opts.Verbose)
	if err != nil {
		return nil, fmt.Errorf("engine: load sstables: %w", err)
	}

	e := &Engine{
		opts:     opts,
		mem:      memtable.New(),
		walPath:  filepath.Join(opts.DataDir, walFileName),
		sstables: tables,
		nextID:   nextID,
	}

	replayed := 0
	err = wal.Recover(e.walPath, func(key, value []byte) error {
		e.mem.Put(key, value)
		e.memBytes += len(key) + len(value)
		replayed++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("engine: recover wal: %w", err)
	}
	if opts.Verbose {
		fmt.Fprintf(os.Stderr, "[open] loaded %d sstable(s), replayed %d wal record(s)\n", len(tables), replayed)
	}

	w, err := wal.Open(e.walPath)
	if err != nil {
		return nil, fmt.Errorf("engine: open wal: %w", err)
	}
	e.w = w
	return e, nil
}

// Put durably appends (key, value) to the WAL, then applies it to the
// memtable. If the WAL append fails the memtable is left untouched,
// preserving the durability invariant on the failure path. Crossing
// the configured byte threshold triggers a synchronous flush before
// Put returns.
func (e *Engine) Put(key, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrClosed
	}
	if err := e.w.AppendPut(key, value); err != nil {
		return fmt.Errorf("engine: wal append: %w", err)
	}
	e.mem.Put(key, value)
	e.memBytes += len(key) + len(value)

	if e.memBytes >= e.opts.MemtableThresholdBytes {
		if err := e.flushLocked(); err != nil {
			return err
		}
	}
	return nil
}

// Get looks up key in the memtable, then newest-to-oldest across
// on-disk SSTables, consulting each one's filter before scanning.
// Filter skip/proceed statistics are updated.
func (e *Engine) Get(key []byte) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lookupLocked(key, true)
}

// GetImmut performs the same lookup as Get without updating the
// filter skip/proceed statistics.
func (e *Engine) GetImmut(key []byte) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lookupLocked(key, false)
}

func (e *Engine) lookupLocked(key []byte, trackStats bool) ([]byte, bool) {
	if v, ok := e.mem.Get(key); ok {
		return v, true
	}

	for _, t := range e.sstables {
		if !t.filter.MightContain(key) {
			if trackStats {
				e.skips++
			}
			if e.opts.Verbose {
				fmt.Fprintf(os.Stderr, "[get] sstable %d: filter skip\n", t.id)
			}
			continue
		}
		if trackStats {
			e.proceeds++
		}
		if e.opts.Verbose {
			fmt.Fprintf(os.Stderr, "[get] sstable %d: filter proceed\n", t.id)
		}
		v, ok, err := t.reader.Get(key)
		if err != nil {
			// Get never surfaces scan errors; an unreadable table
			// is treated as a miss on that table and the search
			// continues into older tables.
			if e.opts.Verbose {
				fmt.Fprintf(os.Stderr, "[get] sstable %d: scan error, treated as miss: %v\n", t.id, err)
			}
			continue
		}
		if ok {
			return v, true
		}
	}
	return nil, false
}

// Flush writes the current memtable out as a new SSTable plus filter
// and truncates the WAL. It is a no-op that returns success if the
// memtable is empty.
func (e *Engine) Flush() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return e.flushLocked()
}

func (e *Engine) flushLocked() error {
	if e.mem.Len() == 0 {
		return nil
	}

	keys := e.mem.KeysSorted()
	id := e.nextID
	e.nextID++

	filter := bloom.New(len(keys), e.opts.BloomFPP)
	for _, k := range keys {
		filter.Insert(k)
	}

	mem := e.mem
	dataPath := filepath.Join(e.opts.DataDir, sstable.FormatDataName(id))
	entries := func(yield func(key, value []byte) bool) {
		for _, k := range keys {
			v, _ := mem.Get(k)
			if !yield(k, v) {
				return
			}
		}
	}
	if err := sstable.Write(dataPath, entries); err != nil {
		return fmt.Errorf("engine: flush sstable %d: %w", id, err)
	}

	filterPath := filepath.Join(e.opts.DataDir, sstable.FormatFilterName(id))
	if err := writeFileSynced(filterPath, filter.Encode()); err != nil {
		return fmt.Errorf("engine: flush filter %d: %w", id, err)
	}

	entry := &tableEntry{id: id, reader: sstable.Open(dataPath), filter: filter}
	e.sstables = append([]*tableEntry{entry}, e.sstables...)

	// Truncating the WAL here is the durability commit point for this
	// flush: if the process dies before this, the next open replays a
	// WAL whose records are already durable in sstable_<id>.db, which
	// is harmless since the re-flush reuses a fresh, higher index.
	if err := e.w.Clear(); err != nil {
		return fmt.Errorf("engine: truncate wal: %w", err)
	}

	e.mem = memtable.New()
	e.memBytes = 0

	if e.opts.Verbose {
		fmt.Fprintf(os.Stderr, "[flush] sstable %d written (%d keys)\n", id, len(keys))
	}
	return nil
}

// Close flushes and closes the WAL file. SSTables are read-only and
// need no closing. There is no externally observable closed state
// beyond Put/Flush subsequently returning ErrClosed.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.w.Close()
}

// Len returns the number of distinct keys currently held in the
// memtable.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.mem.Len()
}

// IsEmpty reports whether the memtable currently holds no keys.
func (e *Engine) IsEmpty() bool {
	return e.Len() == 0
}

// SSTableCount returns the number of on-disk SSTables currently
// installed.
func (e *Engine) SSTableCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sstables)
}

// PerFilterStats describes one loaded SSTable's membership filter.
type PerFilterStats struct {
	Bits         uint32
	Hashes       uint32
	Items        uint32
	EstimatedFPP float64
}

// FilterStats summarizes the engine's filter skip/proceed behavior
// since the last reset, plus a per-filter breakdown newest-first.
type FilterStats struct {
	Skips     uint64
	Proceeds  uint64
	SkipRate  float64
	PerFilter []PerFilterStats
}

// BloomFilterStats returns the engine's current filter statistics.
func (e *Engine) BloomFilterStats() FilterStats {
	e.mu.Lock()
	defer e.mu.Unlock()

	stats := FilterStats{Skips: e.skips, Proceeds: e.proceeds}
	if denom := e.skips + e.proceeds; denom > 0 {
		stats.SkipRate = float64(e.skips) / float64(denom)
	}
	for _, t := range e.sstables {
		stats.PerFilter = append(stats.PerFilter, PerFilterStats{
			Bits:         t.filter.NumBits(),
			Hashes:       t.filter.NumHashes(),
			Items:        t.filter.NumItems(),
			EstimatedFPP: t.filter.EstimatedFPP(),
		})
	}
	return stats
}

// ResetBloomFilterStats zeroes the skip/proceed counters.
func (e *Engine) ResetBloomFilterStats() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.skips = 0
	e.proceeds = 0
}

// loadSSTables enumerates sstable_<id>.db files in dir and loads each
// one's filter, reconstructing it by scanning when the .bloom sibling
// is missing or fails to decode. An SSTable whose keys cannot be read
// at all is discarded rather than failing the whole open. The
// returned slice is ordered newest-first (highest id first), matching
// the engine's in-memory shadowing order; the returned next id is one
// greater than the highest id found, or 0 if none.
func loadSSTables(dir string, fpp float64, verbose bool) ([]*tableEntry, uint64, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, 0, err
	}

	var ids []uint64
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		id, ok := parseDataFileName(e.Name())
		if !ok {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var nextID uint64
	tables := make([]*tableEntry, 0, len(ids))
	for _, id := range ids {
		if id+1 > nextID {
			nextID = id + 1
		}
		dataPath := filepath.Join(dir, sstable.FormatDataName(id))
		reader := sstable.Open(dataPath)
		filter, err := loadOrRebuildFilter(filepath.Join(dir, sstable.FormatFilterName(id)), reader, fpp)
		if err != nil {
			if verbose {
				fmt.Fprintf(os.Stderr, "[open] sstable %d: unreadable, discarding: %v\n", id, err)
			}
			continue
		}
		tables = append(tables, &tableEntry{id: id, reader: reader, filter: filter})
	}

	// tables is currently ascending by id (oldest first); reverse in
	// place to get newest-first.
	for i, j := 0, len(tables)-1; i < j; i, j = i+1, j-1 {
		tables[i], tables[j] = tables[j], tables[i]
	}
	return tables, nextID, nil
}

func loadOrRebuildFilter(filterPath string, reader *sstable.Reader, fpp float64) (*bloom.Filter, error) {
	keys, err := reader.Keys()
	if err != nil {
		return nil, err
	}
	if data, err := os.ReadFile(filterPath); err == nil {
		if f, derr := bloom.Decode(data); derr == nil {
			return f, nil
		}
	}
	f := bloom.New(len(keys), fpp)
	for _, k := range keys {
		f.Insert(k)
	}
	return f, nil
}

func parseDataFileName(name string) (uint64, bool) {
	const prefix, suffix = "sstable_", ".db"
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
		return 0, false
	}
	idStr := strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix)
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

func writeFileSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	if _, err := f.Write(data); err != nil {
		return err
	}
	return f.Sync()
}
