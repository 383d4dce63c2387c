// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

package cpk

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/woozymasta/cpk/crilayla"
)

// Reader provides read-only access to a parsed archive.
type Reader struct {
	// ra is the underlying random-access reader used for payload reads.
	ra io.ReaderAt
	// file is set when Reader owns an *os.File opened via Open.
	file *os.File
	// meta stores parsed archive-level values and section tables.
	meta *Metadata
	// entries stores parsed entries sorted by offset.
	entries []Entry
	// path is the archive path when opened by path.
	path string
	// size is total source size in bytes.
	size int64
	// mu guards closed state and close operation.
	mu sync.Mutex
	// layout selects CRILAYLA layout for decompression.
	layout crilayla.Layout
	// closed reports whether Close was already called.
	closed bool
}

// Open opens an archive by path and parses its section tables.
func Open(path string) (*Reader, error) {
	return OpenWithOptions(path, ReaderOptions{})
}

// OpenWithOptions opens an archive by path using explicit reader options.
func OpenWithOptions(path string, opts ReaderOptions) (*Reader, error) {
	f, size, err := openFileWithSize(path)
	if err != nil {
		return nil, err
	}

	r, err := NewReaderFromReaderAtWithOptions(f, size, opts)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	r.file = f
	r.path = path
	return r, nil
}

// NewReaderFromReaderAt parses an archive from existing ReaderAt and known size.
func NewReaderFromReaderAt(ra io.ReaderAt, size int64) (*Reader, error) {
	return NewReaderFromReaderAtWithOptions(ra, size, ReaderOptions{})
}

// NewReaderFromReaderAtWithOptions parses an archive from ReaderAt using explicit reader options.
func NewReaderFromReaderAtWithOptions(ra io.ReaderAt, size int64, opts ReaderOptions) (*Reader, error) {
	entries, meta, err := ParseReaderAt(ra, size)
	if err != nil {
		return nil, err
	}

	return &Reader{
		ra:      ra,
		size:    size,
		entries: entries,
		meta:    meta,
		layout:  opts.Layout,
	}, nil
}

// Entries returns a copy of parsed entries sorted by offset.
func (r *Reader) Entries() []Entry {
	if r == nil {
		return nil
	}

	entries := make([]Entry, len(r.entries))
	copy(entries, r.entries)
	return entries
}

// Files returns a copy of file entries sorted by offset.
func (r *Reader) Files() []Entry {
	if r == nil {
		return nil
	}

	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.Type == EntryFile {
			out = append(out, e)
		}
	}

	return out
}

// Metadata returns a copy of archive metadata.
func (r *Reader) Metadata() *Metadata {
	if r == nil {
		return nil
	}

	return r.meta.Clone()
}

// Size returns source size in bytes.
func (r *Reader) Size() int64 {
	if r == nil {
		return 0
	}

	return r.size
}

// Close closes the underlying file if reader owns one.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	r.closed = true
	if r.file != nil {
		return r.file.Close()
	}

	return nil
}

// Parse parses an in-memory archive image.
func Parse(b []byte) ([]Entry, *Metadata, error) {
	return ParseReaderAt(bytes.NewReader(b), int64(len(b)))
}

// ParseReaderAt parses section tables and returns offset-sorted entries and metadata.
// Sections are read in the order CPK, TOC, ITOC, ETOC, GTOC; CPK and one of TOC or ITOC
// are mandatory. Archives indexed by ITOC alone get ID-named entries.
func ParseReaderAt(ra io.ReaderAt, size int64) ([]Entry, *Metadata, error) {
	if ra == nil {
		return nil, nil, ErrNilReader
	}

	root, err := readSection(ra, 0, size, SectionCPK)
	if err != nil {
		return nil, nil, err
	}

	hdr := root.table
	if hdr.RowCount() == 0 {
		return nil, nil, fmt.Errorf("%w: CPK header table has no rows", ErrFormat)
	}

	meta := &Metadata{Widths: make(map[string]ColumnType)}
	meta.sections[SectionCPK] = root
	meta.ContentOffset, _ = hdr.Uint(0, "ContentOffset")
	meta.TocOffset, _ = hdr.Uint(0, "TocOffset")
	meta.ItocOffset, _ = hdr.Uint(0, "ItocOffset")
	meta.EtocOffset, _ = hdr.Uint(0, "EtocOffset")
	meta.GtocOffset, _ = hdr.Uint(0, "GtocOffset")
	meta.Align, _ = hdr.Uint(0, "Align")

	if meta.TocOffset == 0 && meta.ItocOffset == 0 {
		return nil, nil, fmt.Errorf("%w: archive has no TOC or ITOC section", ErrFormat)
	}

	entries := make([]Entry, 0, 64)
	entries = append(entries, Entry{
		FileName: SectionCPK.HeaderEntryName(),
		Type:     EntryHeader,
		Section:  SectionCPK,
		FileSize: sectionHeaderSize + root.size,
	})

	for _, kind := range sectionKinds[1:] {
		off := meta.SectionOffset(kind)
		if off == 0 {
			continue
		}
		if off > uint64(size) {
			return nil, nil, fmt.Errorf("%w: %s offset 0x%x beyond archive end", ErrFormat, kind, off)
		}

		sec, err := readSection(ra, int64(off), size, kind) //nolint:gosec // bounded above
		if err != nil {
			return nil, nil, err
		}
		meta.sections[kind] = sec

		slot := sectionHeaderSize + sec.size
		if declared, ok := hdr.Uint(0, kind.headerSizeColumn()); ok && declared > slot {
			slot = declared
		}

		entries = append(entries, Entry{
			FileName:   kind.HeaderEntryName(),
			Type:       EntryHeader,
			Section:    kind,
			FileOffset: off,
			FileSize:   slot,
		})

		if kind == meta.indexSection() && meta.ContentOffset > 0 {
			// Added ahead of TOC files so a stable sort keeps it first on ties.
			entries = append(entries, Entry{
				FileName:   ContentOffsetEntry,
				Type:       EntryContent,
				Section:    SectionCPK,
				FileOffset: meta.ContentOffset,
			})
		}
	}

	var files []Entry
	if meta.HasSection(SectionTOC) {
		if files, err = parseTocEntries(meta, size); err != nil {
			return nil, nil, err
		}
		if err := applyItocSizes(meta, files, size); err != nil {
			return nil, nil, err
		}
	} else if files, err = itocEntries(meta, size); err != nil {
		return nil, nil, err
	}
	entries = append(entries, files...)

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].FileOffset < entries[j].FileOffset
	})

	return entries, meta, nil
}

// parseTocEntries builds file entries from TOC rows.
func parseTocEntries(meta *Metadata, size int64) ([]Entry, error) {
	toc := meta.sections[SectionTOC].table
	for _, name := range []string{"FileName", "FileSize", "FileOffset"} {
		if toc.ColumnIndex(name) < 0 {
			return nil, fmt.Errorf("%w: TOC has no %s column", ErrFormat, name)
		}
	}

	for _, col := range toc.Columns {
		meta.Widths[col.Name] = col.Type
	}

	sizeCol, _ := toc.Column("FileSize")
	extractCol, hasExtract := toc.Column("ExtractSize")
	_, hasID := toc.Column("ID")

	base := meta.tocBase()
	files := make([]Entry, 0, toc.RowCount())
	for row := range toc.RowCount() {
		e := Entry{
			Type:           EntryFile,
			Section:        SectionTOC,
			Row:            row,
			SizeWidth:      sizeCol.Type,
			ExtractWidth:   extractCol.Type,
			HasExtractSize: hasExtract,
			HasID:          hasID,
		}

		var ok bool
		if e.FileName, ok = toc.Text(row, "FileName"); !ok {
			return nil, fmt.Errorf("%w: TOC row %d FileName is not a string", ErrFormat, row)
		}
		e.DirName = tocText(toc, row, "DirName")
		e.UserString = tocText(toc, row, "UserString")
		if e.FileSize, ok = toc.Uint(row, "FileSize"); !ok {
			return nil, fmt.Errorf("%w: TOC row %d FileSize is not an integer", ErrFormat, row)
		}

		rel, ok := toc.Uint(row, "FileOffset")
		if !ok {
			return nil, fmt.Errorf("%w: TOC row %d FileOffset is not an integer", ErrFormat, row)
		}
		e.FileOffset = base + rel

		if hasExtract {
			e.ExtractSize, _ = toc.Uint(row, "ExtractSize")
		}
		if hasID {
			e.ID, _ = toc.Uint(row, "ID")
		}

		end := e.FileOffset + e.FileSize
		if end < e.FileOffset || end > uint64(size) {
			return nil, fmt.Errorf("%w: entry %s payload 0x%x+%d out of archive bounds", ErrFormat, e.Key(), e.FileOffset, e.FileSize)
		}

		files = append(files, e)
	}

	return files, nil
}

// tocText returns optional string cell; the pool null marker reads as empty.
func tocText(t *Table, row int, name string) string {
	s, _ := t.Text(row, name)
	if s == nullString {
		return ""
	}

	return s
}

// hasTocColumn reports whether TOC carries the named column.
func hasTocColumn(meta *Metadata, name string) bool {
	_, ok := meta.Widths[name]
	return ok
}
