// Package wal implements the engine's write-ahead log: an
// append-only file of Put records, synced before each append is
// acknowledged, and replayed from the start on recovery.
package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"os"
)

// opPut is the only record type this core ever writes. The format
// reserves a byte for future tombstone ops, but deletion is out of
// scope here.
const opPut uint8 = 1

// ErrCorrupt is returned by Recover when a record's op byte is not a
// known record type. A clean EOF or a short trailing read is not
// corruption: both are treated as the log's natural end.
var ErrCorrupt = errors.New("wal: corrupt record")

// WAL is an open handle to the append-only log file.
type WAL struct {
	f *os.File
	w *bufio.Writer
}

// Open creates the log file if absent and opens it for appending.
func Open(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &WAL{f: f, w: bufio.NewWriter(f)}, nil
}

// Close flushes and closes the underlying file.
func (w *WAL) Close() error {
	if w == nil || w.f == nil {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		_ = w.f.Close()
		return err
	}
	return w.f.Close()
}

// AppendPut appends one Put record and forces it durably to stable
// storage (flush the buffer, then fsync the file) before returning.
// A Put acknowledgement requires this call to have succeeded.
func (w *WAL) AppendPut(key, value []byte) error {
	var hdr [1 + 4 + 4]byte
	hdr[0] = opPut
	binary.LittleEndian.PutUint32(hdr[1:5], uint32(len(key)))
	binary.LittleEndian.PutUint32(hdr[5:9], uint32(len(value)))

	if _, err := w.w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.w.Write(key); err != nil {
		return err
	}
	if _, err := w.w.Write(value); err != nil {
		return err
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.f.Sync()
}

// Clear truncates the log to zero bytes and syncs the truncation.
func (w *WAL) Clear() error {
	if err := w.w.Flush(); err != nil {
		return err
	}
	if err := w.f.Truncate(0); err != nil {
		return err
	}
	if _, err := w.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	w.w.Reset(w.f)
	return w.f.Sync()
}

// IsEmpty reports whether the log currently holds zero bytes.
func (w *WAL) IsEmpty() (bool, error) {
	n, err := w.LenBytes()
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

// LenBytes returns the current size of the log file in bytes.
func (w *WAL) LenBytes() (int64, error) {
	st, err := w.f.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

// Recover reads path from the beginning and invokes fn with each
// (key, value) pair in file order, stopping cleanly at EOF. A
// trailing partial record — a short read of the length header or of
// the declared key/value payload — is treated as the natural end of
// the log, not as an error: it is the shape a crash between an fsync
// and full kernel persistence leaves behind. Such a partial record is
// cut off the file (truncated to the end of the last complete record)
// so that later appends do not land behind it. If the log does not
// exist yet, Recover is a no-op.
func Recover(path string, fn func(key, value []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer func() { _ = f.Close() }()

	r := bufio.NewReaderSize(f, 64*1024)
	var good int64 // offset just past the last complete record
	for {
		var hdr [1 + 4 + 4]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return os.Truncate(path, good)
			}
			return err
		}
		op := hdr[0]
		keyLen := binary.LittleEndian.Uint32(hdr[1:5])
		valLen := binary.LittleEndian.Uint32(hdr[5:9])
		if op != opPut {
			return ErrCorrupt
		}

		key := make([]byte, keyLen)
		if _, err := io.ReadFull(r, key); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return os.Truncate(path, good)
			}
			return err
		}
		value := make([]byte, valLen)
		if _, err := io.ReadFull(r, value); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return os.Truncate(path, good)
			}
			return err
		}
		if err := fn(key, value); err != nil {
			return err
		}
		good += int64(len(hdr)) + int64(keyLen) + int64(valLen)
	}
}
