// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

package cpk

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for CPK operations. Use errors.Is in callers.
var (
	// ErrFormat means a section signature is missing or a table record is malformed.
	ErrFormat = errors.New("invalid CPK format")
	// ErrDataCorrupt means a compressed payload does not decode to its declared size.
	ErrDataCorrupt = errors.New("corrupt CPK payload")
	// ErrNotFound means a requested entry or replacement source does not exist.
	ErrNotFound = errors.New("not found")
	// ErrIO means reading or writing an underlying stream failed.
	ErrIO = errors.New("CPK I/O failure")
	// ErrInUse means the destination file is held open by another writer.
	ErrInUse = errors.New("destination is in use")
	// ErrNilReader means the reader is nil.
	ErrNilReader = errors.New("reader is nil")
	// ErrNilWriter means the writer is nil.
	ErrNilWriter = errors.New("writer is nil")
	// ErrClosed means the reader or resource is already closed.
	ErrClosed = errors.New("reader or resource already closed")
	// ErrSizeOverflow means a value does not fit the column width or the platform int.
	ErrSizeOverflow = errors.New("size exceeds field width")
	// ErrEmptyInputs means no inputs provided for create.
	ErrEmptyInputs = errors.New("no inputs provided for create")
	// ErrInvalidCompressPattern means one or more compression rules are invalid.
	ErrInvalidCompressPattern = errors.New("invalid compress rules")
	// ErrInvalidEntryPath means one of entry paths is empty or invalid after normalization.
	ErrInvalidEntryPath = errors.New("invalid entry path")
	// ErrDuplicateEntryPath means two inputs resolve to the same path (case-insensitive).
	ErrDuplicateEntryPath = errors.New("duplicate entry path")
	// ErrInvalidExtractPath means archive entry path is invalid for extraction destination.
	ErrInvalidExtractPath = errors.New("invalid extract path")
	// ErrInvalidMapping means a replacement mapping line is malformed.
	ErrInvalidMapping = errors.New("invalid replacement mapping")
)

// EntryError attaches archive and entry context to an operation failure.
type EntryError struct {
	// Err is the underlying error.
	Err error
	// Op names the failed operation ("extract", "replace", "copy").
	Op string
	// Archive is the archive path when known.
	Archive string
	// Path is the entry key ("dir/file" or "/file").
	Path string
	// ID is the entry identifier when HasID is set.
	ID uint64
	// HasID reports whether ID is meaningful.
	HasID bool
}

// Error formats error with archive and entry context.
func (e *EntryError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.Archive != "" {
		fmt.Fprintf(&b, " %s", e.Archive)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " entry %s", e.Path)
	}
	if e.HasID {
		fmt.Fprintf(&b, " (id %d)", e.ID)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}

	return b.String()
}

// Unwrap returns the underlying error.
func (e *EntryError) Unwrap() error {
	return e.Err
}

// entryError wraps err with entry context; nil stays nil.
func entryError(op string, archive string, entry *Entry, err error) error {
	if err == nil {
		return nil
	}

	out := &EntryError{Op: op, Archive: archive, Err: err}
	if entry != nil {
		out.Path = entry.Key()
		out.ID = entry.ID
		out.HasID = entry.HasID
	}

	return out
}

// ioError marks err as an I/O failure unless it already carries a taxonomy sentinel.
func ioError(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}

	msg := fmt.Sprintf(format, args...)
	for _, known := range []error{ErrFormat, ErrDataCorrupt, ErrNotFound, ErrIO, ErrInUse} {
		if errors.Is(err, known) {
			return fmt.Errorf("%s: %w", msg, err)
		}
	}

	return fmt.Errorf("%w: %s: %w", ErrIO, msg, err)
}
