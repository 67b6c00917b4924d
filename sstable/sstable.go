// Package sstable implements the engine's immutable on-disk runs: a
// flat concatenation of key/value records written once in ascending
// key order, with no header, footer, or index, plus a linear-scan
// reader.
package sstable

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
)

// ErrCorrupt is returned when a record's declared key or value length
// overruns the bytes actually present in the file.
var ErrCorrupt = errors.New("sstable: corrupt record")

// Write creates (or truncates) path and writes entries to it in the
// order they are yielded. Callers must supply entries already in
// ascending key order; duplicates are the caller's responsibility to
// avoid (the source memtable has unique keys, so this never happens
// in practice). The file is flushed and synced before Write returns,
// so it is durable before the caller installs it into the engine's
// view.
func Write(path string, entries iter.Seq2[[]byte, []byte]) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	w := bufio.NewWriterSize(f, 64*1024)
	var writeErr error
	entries(func(key, value []byte) bool {
		writeErr = writeRecord(w, key, value)
		return writeErr == nil
	})
	if writeErr != nil {
		return writeErr
	}
	if err := w.Flush(); err != nil {
		return err
	}
	return f.Sync()
}

func writeRecord(w *bufio.Writer, key, value []byte) error {
	var klenBuf [4]byte
	binary.LittleEndian.PutUint32(klenBuf[:], uint32(len(key)))
	if _, err := w.Write(klenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(key); err != nil {
		return err
	}
	var vlenBuf [4]byte
	binary.LittleEndian.PutUint32(vlenBuf[:], uint32(len(value)))
	if _, err := w.Write(vlenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(value); err != nil {
		return err
	}
	return nil
}

// Reader is a lightweight, stateless handle to an on-disk SSTable.
// It holds no parsed state — every Get or All call opens and scans
// the file fresh, which is correct because the file is never
// rewritten after Write.
type Reader struct {
	Path string
}

// Open returns a reader for the SSTable at path. It does not touch
// the file; any I/O error surfaces from the first Get or All call.
func Open(path string) *Reader {
	return &Reader{Path: path}
}

// Get linearly scans the file from the start for key, returning the
// first (and only, since keys are unique within a table) matching
// value. Because entries are sorted ascending, Get stops as soon as
// it reads a key that compares greater than the target.
func (r *Reader) Get(key []byte) ([]byte, bool, error) {
	f, err := os.Open(r.Path)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = f.Close() }()

	br := bufio.NewReaderSize(f, 64*1024)
	for {
		k, v, ok, err := readRecord(br)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		switch bytes.Compare(k, key) {
		case 0:
			return v, true, nil
		case 1:
			return nil, false, nil
		}
	}
}

// Keys reads every key in the table, in ascending file order,
// surfacing any I/O or format error encountered along the way. Used
// by the engine to rebuild a filter when an SSTable's sibling .bloom
// file is missing or fails to decode. Unlike All, a corrupt record
// here is reported rather than silently ending the scan, since the
// caller needs to decide whether the whole table is unreadable.
func (r *Reader) Keys() ([][]byte, error) {
	f, err := os.Open(r.Path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	br := bufio.NewReaderSize(f, 64*1024)
	var keys [][]byte
	for {
		k, _, ok, err := readRecord(br)
		if err != nil {
			return nil, err
		}
		if !ok {
			return keys, nil
		}
		keys = append(keys, k)
	}
}

// All returns an iterator over every (key, value) record in the
// table, in file order (ascending key). Provided as the idiomatic
// range-over-func counterpart to Keys for callers that want values
// too and are content to have a corrupt tail end the scan silently.
func (r *Reader) All() iter.Seq2[[]byte, []byte] {
	return func(yield func(key, value []byte) bool) {
		f, err := os.Open(r.Path)
		if err != nil {
			return
		}
		defer func() { _ = f.Close() }()

		br := bufio.NewReaderSize(f, 64*1024)
		for {
			k, v, ok, err := readRecord(br)
			if err != nil || !ok {
				return
			}
			if !yield(k, v) {
				return
			}
		}
	}
}

func readRecord(r *bufio.Reader) (key, value []byte, ok bool, err error) {
	var klenBuf [4]byte
	if _, err := io.ReadFull(r, klenBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil, false, nil
		}
		return nil, nil, false, ErrCorrupt
	}
	klen := binary.LittleEndian.Uint32(klenBuf[:])
	k := make([]byte, klen)
	if _, err := io.ReadFull(r, k); err != nil {
		return nil, nil, false, ErrCorrupt
	}

	var vlenBuf [4]byte
	if _, err := io.ReadFull(r, vlenBuf[:]); err != nil {
		return nil, nil, false, ErrCorrupt
	}
	vlen := binary.LittleEndian.Uint32(vlenBuf[:])
	v := make([]byte, vlen)
	if _, err := io.ReadFull(r, v); err != nil {
		return nil, nil, false, ErrCorrupt
	}
	return k, v, true, nil
}

// FormatDataName returns the conventional .db filename for SSTable
// index i.
func FormatDataName(i uint64) string {
	return fmt.Sprintf("sstable_%d.db", i)
}

// FormatFilterName returns the conventional .bloom filename for the
// filter sibling of SSTable index i.
func FormatFilterName(i uint64) string {
	return fmt.Sprintf("sstable_%d.bloom", i)
}
