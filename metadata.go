// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

package cpk

import (
	"fmt"
	"io"
	"maps"
	"os"
)

// Metadata holds archive-level layout values and the decoded section tables.
type Metadata struct {
	// Widths maps TOC column name to its column type.
	Widths map[string]ColumnType `json:"widths,omitempty" yaml:"widths,omitempty"`
	// sections keeps decoded tables indexed by SectionKind.
	sections [len(sectionKinds)]*sectionTable
	// ContentOffset is the absolute start of the content region.
	ContentOffset uint64 `json:"content_offset" yaml:"content_offset"`
	// TocOffset is the absolute TOC section offset.
	TocOffset uint64 `json:"toc_offset" yaml:"toc_offset"`
	// ItocOffset is the absolute ITOC section offset, zero when absent.
	ItocOffset uint64 `json:"itoc_offset,omitempty" yaml:"itoc_offset,omitempty"`
	// EtocOffset is the absolute ETOC section offset, zero when absent.
	EtocOffset uint64 `json:"etoc_offset,omitempty" yaml:"etoc_offset,omitempty"`
	// GtocOffset is the absolute GTOC section offset, zero when absent.
	GtocOffset uint64 `json:"gtoc_offset,omitempty" yaml:"gtoc_offset,omitempty"`
	// Align is the header alignment value.
	Align uint64 `json:"align,omitempty" yaml:"align,omitempty"`
}

// Clone returns a deep copy of metadata.
func (m *Metadata) Clone() *Metadata {
	if m == nil {
		return nil
	}

	out := *m
	out.Widths = maps.Clone(m.Widths)
	for i := range m.sections {
		out.sections[i] = m.sections[i].clone()
	}

	return &out
}

// HasSection reports whether the archive carries the section.
func (m *Metadata) HasSection(kind SectionKind) bool {
	return int(kind) < len(m.sections) && m.sections[kind] != nil
}

// Table returns a copy of the decoded section table, nil when absent.
func (m *Metadata) Table(kind SectionKind) *Table {
	if !m.HasSection(kind) {
		return nil
	}

	return m.sections[kind].table.Clone()
}

// SectionOffset returns absolute offset of the section.
func (m *Metadata) SectionOffset(kind SectionKind) uint64 {
	switch kind {
	case SectionTOC:
		return m.TocOffset
	case SectionITOC:
		return m.ItocOffset
	case SectionETOC:
		return m.EtocOffset
	case SectionGTOC:
		return m.GtocOffset
	default:
		return 0
	}
}

// SetSectionOffset updates absolute offset of the section.
func (m *Metadata) SetSectionOffset(kind SectionKind, off uint64) {
	switch kind {
	case SectionTOC:
		m.TocOffset = off
	case SectionITOC:
		m.ItocOffset = off
	case SectionETOC:
		m.EtocOffset = off
	case SectionGTOC:
		m.GtocOffset = off
	}
}

// tocBase returns the base that TOC file offsets are relative to.
func (m *Metadata) tocBase() uint64 {
	if m.ContentOffset == 0 {
		return m.TocOffset
	}

	return min(m.ContentOffset, m.TocOffset)
}

// indexSection returns the section that lists file entries: TOC, or ITOC when TOC is absent.
func (m *Metadata) indexSection() SectionKind {
	if m.TocOffset == 0 && m.ItocOffset != 0 {
		return SectionITOC
	}

	return SectionTOC
}

// fileAlign returns the payload alignment, DefaultAlign when the header has none.
func (m *Metadata) fileAlign() uint64 {
	if m.Align == 0 {
		return DefaultAlign
	}

	return m.Align
}

// ListEntries opens an archive and returns entry metadata without payload reads.
func ListEntries(path string) ([]Entry, error) {
	f, size, err := openFileWithSize(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	return ListEntriesFromReaderAt(f, size)
}

// ListEntriesFromReaderAt parses entry metadata from a random-access source.
func ListEntriesFromReaderAt(ra io.ReaderAt, size int64) ([]Entry, error) {
	entries, _, err := ParseReaderAt(ra, size)
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// openFileWithSize opens a file and returns a handle plus current size.
func openFileWithSize(path string) (*os.File, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, openError(path, err)
	}

	fi, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, fmt.Errorf("%w: stat %s: %w", ErrIO, path, err)
	}

	return f, fi.Size(), nil
}

// openError maps a file open failure onto the error taxonomy.
func openError(path string, err error) error {
	if os.IsNotExist(err) {
		return fmt.Errorf("%w: open %s: %w", ErrNotFound, path, err)
	}

	return fmt.Errorf("%w: open %s: %w", ErrIO, path, err)
}
