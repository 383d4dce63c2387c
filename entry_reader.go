// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

package cpk

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/woozymasta/cpk/crilayla"
)

// nopCloser wraps a reader and provides a no-op close.
type nopCloser struct {
	io.Reader
}

// Close closes nopCloser (no-op).
func (nopCloser) Close() error {
	return nil
}

// findEntryByName resolves one file entry by case-insensitive key.
func (r *Reader) findEntryByName(name string) *Entry {
	key := LookupKey(name)
	for i := range r.entries {
		if r.entries[i].Type == EntryFile && r.entries[i].Key() == key {
			return &r.entries[i]
		}
	}

	return nil
}

// Entry returns file entry metadata by path.
func (r *Reader) Entry(name string) (Entry, bool) {
	if r == nil {
		return Entry{}, false
	}

	e := r.findEntryByName(name)
	if e == nil {
		return Entry{}, false
	}

	return *e, true
}

// checkOpen reports whether the reader is usable.
func (r *Reader) checkOpen() error {
	if r == nil || r.ra == nil {
		return ErrNilReader
	}

	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}

	return nil
}

// OpenEntry opens named entry for reading.
// Returned stream yields decompressed content for CRILAYLA payloads.
func (r *Reader) OpenEntry(name string) (io.ReadCloser, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	e := r.findEntryByName(name)
	if e == nil {
		return nil, fmt.Errorf("%w: entry %s", ErrNotFound, name)
	}

	return r.OpenResolved(*e)
}

// OpenResolved opens the stream of an entry taken from Entries or Files.
func (r *Reader) OpenResolved(e Entry) (io.ReadCloser, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	data, err := r.readEntryData(&e, false)
	if err != nil {
		return nil, err
	}

	return nopCloser{Reader: bytes.NewReader(data)}, nil
}

// ReadEntry reads full (decompressed) content of the named entry.
func (r *Reader) ReadEntry(name string) ([]byte, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	e := r.findEntryByName(name)
	if e == nil {
		return nil, fmt.Errorf("%w: entry %s", ErrNotFound, name)
	}

	return r.readEntryData(e, false)
}

// ReadRawEntry reads stored bytes of the named entry without decompression.
func (r *Reader) ReadRawEntry(name string) ([]byte, error) {
	if err := r.checkOpen(); err != nil {
		return nil, err
	}

	e := r.findEntryByName(name)
	if e == nil {
		return nil, fmt.Errorf("%w: entry %s", ErrNotFound, name)
	}

	return r.readEntryData(e, true)
}

// readEntryData reads stored payload and decodes it unless raw is set.
func (r *Reader) readEntryData(e *Entry, raw bool) ([]byte, error) {
	size, err := checkedUint64ToInt(e.FileSize)
	if err != nil {
		return nil, entryError("read", r.path, e, err)
	}
	if int64(e.FileOffset)+int64(size) > r.size { //nolint:gosec // bounded by parse validation
		return nil, entryError("read", r.path, e, fmt.Errorf("%w: payload out of archive bounds", ErrFormat))
	}

	stored := make([]byte, size)
	if err := readFullAt(r.ra, stored, int64(e.FileOffset)); err != nil { //nolint:gosec // bounded by parse validation
		return nil, entryError("read", r.path, e, ioError(err, "read payload"))
	}

	if raw {
		return stored, nil
	}

	data, err := decodePayload(stored, e, r.layout)
	if err != nil {
		return nil, entryError("decompress", r.path, e, err)
	}

	return data, nil
}

// decodePayload decompresses stored bytes when they carry the CRILAYLA signature.
func decodePayload(stored []byte, e *Entry, layout crilayla.Layout) ([]byte, error) {
	if !crilayla.HasSignature(stored) {
		return stored, nil
	}
	// Equal sizes mean the payload is raw and only starts with the marker.
	if e.HasExtractSize && e.ExtractSize == e.FileSize {
		return stored, nil
	}

	var (
		size int
		err  error
	)
	if e.HasExtractSize {
		size, err = checkedUint64ToInt(e.ExtractSize)
	} else {
		size, err = crilayla.DecodedLen(stored)
	}
	if err != nil {
		return nil, mapCodecError(err)
	}

	data, err := crilayla.DecompressLayout(stored, size, layout)
	if err != nil {
		return nil, mapCodecError(err)
	}

	return data, nil
}

// mapCodecError maps codec sentinels onto package sentinels.
func mapCodecError(err error) error {
	switch {
	case errors.Is(err, crilayla.ErrFormat):
		return fmt.Errorf("%w: %w", ErrFormat, err)
	case errors.Is(err, crilayla.ErrDataCorrupt):
		return fmt.Errorf("%w: %w", ErrDataCorrupt, err)
	default:
		return err
	}
}

// checkedUint64ToInt converts uint64 to int with platform-safe overflow check.
func checkedUint64ToInt(v uint64) (int, error) {
	if v > uint64(math.MaxInt) {
		return 0, ErrSizeOverflow
	}

	return int(v), nil
}
