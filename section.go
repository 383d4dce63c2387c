// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

package cpk

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// sectionHeaderSize is tag + flags + table size.
const sectionHeaderSize = 16

// SectionKind identifies one archive section.
type SectionKind uint8

// Archive sections in parse order.
const (
	SectionCPK SectionKind = iota
	SectionTOC
	SectionITOC
	SectionETOC
	SectionGTOC
)

// sectionKinds lists all kinds in parse order.
var sectionKinds = [...]SectionKind{SectionCPK, SectionTOC, SectionITOC, SectionETOC, SectionGTOC}

// Tag returns the 4-byte section signature.
func (k SectionKind) Tag() string {
	switch k {
	case SectionCPK:
		return "CPK "
	case SectionTOC:
		return "TOC "
	case SectionITOC:
		return "ITOC"
	case SectionETOC:
		return "ETOC"
	case SectionGTOC:
		return "GTOC"
	default:
		return "????"
	}
}

// String returns section name.
func (k SectionKind) String() string {
	switch k {
	case SectionCPK:
		return "CPK"
	case SectionTOC:
		return "TOC"
	case SectionITOC:
		return "ITOC"
	case SectionETOC:
		return "ETOC"
	case SectionGTOC:
		return "GTOC"
	default:
		return fmt.Sprintf("section(%d)", uint8(k))
	}
}

// HeaderEntryName returns the synthesized entry name for the section.
func (k SectionKind) HeaderEntryName() string {
	return k.String() + "_HDR"
}

// tableName returns the table name written for new sections.
func (k SectionKind) tableName() string {
	switch k {
	case SectionCPK:
		return "CpkHeader"
	case SectionTOC:
		return "CpkTocInfo"
	case SectionITOC:
		return "CpkItocInfo"
	case SectionETOC:
		return "CpkEtocInfo"
	default:
		return "CpkGtocInfo"
	}
}

// headerOffsetColumn returns CPK header column holding section offset.
func (k SectionKind) headerOffsetColumn() string {
	switch k {
	case SectionTOC:
		return "TocOffset"
	case SectionITOC:
		return "ItocOffset"
	case SectionETOC:
		return "EtocOffset"
	case SectionGTOC:
		return "GtocOffset"
	default:
		return ""
	}
}

// headerSizeColumn returns CPK header column holding section size.
func (k SectionKind) headerSizeColumn() string {
	switch k {
	case SectionTOC:
		return "TocSize"
	case SectionITOC:
		return "ItocSize"
	case SectionETOC:
		return "EtocSize"
	case SectionGTOC:
		return "GtocSize"
	default:
		return ""
	}
}

// Section is one encoded section ready to be written at Offset.
type Section struct {
	// Data is section header plus table image.
	Data []byte
	// Offset is absolute output offset.
	Offset int64
	// Kind identifies the section.
	Kind SectionKind
}

// sectionTable is a decoded section with its framing fields.
type sectionTable struct {
	table *Table
	// size is the table size from the section header.
	size  uint64
	flags uint32
	kind  SectionKind
}

// clone returns deep copy.
func (s *sectionTable) clone() *sectionTable {
	if s == nil {
		return nil
	}

	out := *s
	out.table = s.table.Clone()

	return &out
}

// encode returns section header followed by table image.
func (s *sectionTable) encode() ([]byte, error) {
	img, err := s.table.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode %s table: %w", s.kind, err)
	}

	out := make([]byte, sectionHeaderSize, sectionHeaderSize+len(img))
	copy(out, s.kind.Tag())
	binary.LittleEndian.PutUint32(out[4:8], s.flags)
	binary.LittleEndian.PutUint64(out[8:16], uint64(len(img)))

	return append(out, img...), nil
}

// newSectionTable wraps a built table with default framing.
func newSectionTable(kind SectionKind, t *Table) *sectionTable {
	return &sectionTable{kind: kind, table: t, flags: 0xff}
}

// readSection reads and decodes the section at off.
func readSection(ra io.ReaderAt, off int64, total int64, kind SectionKind) (*sectionTable, error) {
	if off < 0 || off+sectionHeaderSize > total {
		return nil, fmt.Errorf("%w: %s section at 0x%x is outside archive", ErrFormat, kind, off)
	}

	var hdr [sectionHeaderSize]byte
	if err := readFullAt(ra, hdr[:], off); err != nil {
		return nil, ioError(err, "read %s section header", kind)
	}

	if string(hdr[:4]) != kind.Tag() {
		if kind == SectionCPK {
			return nil, fmt.Errorf("%w: unrecognized root signature %q", ErrFormat, hdr[:4])
		}

		return nil, fmt.Errorf("%w: %s section at 0x%x has tag %q", ErrFormat, kind, off, hdr[:4])
	}

	size := binary.LittleEndian.Uint64(hdr[8:16])
	if size > uint64(total-off-sectionHeaderSize) {
		return nil, fmt.Errorf("%w: %s table of %d bytes is truncated", ErrFormat, kind, size)
	}

	img := make([]byte, size)
	if err := readFullAt(ra, img, off+sectionHeaderSize); err != nil {
		return nil, ioError(err, "read %s table", kind)
	}

	t, err := DecodeTable(img)
	if err != nil {
		return nil, fmt.Errorf("decode %s table: %w", kind, err)
	}

	return &sectionTable{
		kind:  kind,
		flags: binary.LittleEndian.Uint32(hdr[4:8]),
		size:  size,
		table: t,
	}, nil
}

// readFullAt fills b from ra at off, mapping short reads to io.ErrUnexpectedEOF.
func readFullAt(ra io.ReaderAt, b []byte, off int64) error {
	n, err := ra.ReadAt(b, off)
	if n == len(b) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}

	return err
}
