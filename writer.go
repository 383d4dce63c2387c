// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

package cpk

import (
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	// copyBufferPool reuses payload copy buffers between rebuild and create calls.
	copyBufferPool = sync.Pool{
		New: func() any {
			return new([copyBufferSize]byte)
		},
	}
)

const (
	// copyBufferSize is the temporary buffer used by streaming payload copy.
	copyBufferSize = 64 * 1024
)

// headerOffsetColumns are CPK header columns patched from Metadata on emit.
var headerOffsetColumns = [...]string{"ContentOffset", "TocOffset", "ItocOffset", "EtocOffset", "GtocOffset"}

// Emit re-encodes every section table of meta with values taken from entries.
//
// The CPK header receives section offsets from meta, TOC rows receive offsets and
// sizes by row index and ITOC rows receive sizes by entry ID. ETOC and GTOC are
// re-encoded unchanged. Emit does not modify its arguments.
func Emit(entries []Entry, meta *Metadata) ([]Section, error) {
	if meta == nil || !meta.HasSection(SectionCPK) || !meta.HasSection(meta.indexSection()) {
		return nil, fmt.Errorf("%w: metadata has no CPK or TOC table", ErrFormat)
	}

	m := meta.Clone()
	if err := patchHeaderTable(m, entries); err != nil {
		return nil, err
	}
	if err := patchTocTable(m, entries); err != nil {
		return nil, err
	}
	if err := patchItocTable(m, entries); err != nil {
		return nil, err
	}

	slots := headerSlots(entries)
	sections := make([]Section, 0, len(sectionKinds))
	for _, kind := range sectionKinds {
		if !m.HasSection(kind) {
			continue
		}

		data, err := m.sections[kind].encode()
		if err != nil {
			return nil, err
		}

		if slot, ok := slots[kind]; ok && uint64(len(data)) > slot {
			return nil, fmt.Errorf("%w: %s section of %d bytes outgrows its %d byte slot", ErrFormat, kind, len(data), slot)
		}

		sections = append(sections, Section{
			Kind:   kind,
			Offset: int64(m.SectionOffset(kind)), //nolint:gosec // offsets come from parsed u64 columns
			Data:   data,
		})
	}

	return sections, nil
}

// WriteSections writes encoded sections at their offsets.
func WriteSections(w io.WriterAt, sections []Section) error {
	if w == nil {
		return ErrNilWriter
	}

	for _, s := range sections {
		if _, err := w.WriteAt(s.Data, s.Offset); err != nil {
			return ioError(err, "write %s section", s.Kind)
		}
	}

	return nil
}

// writeSectionsSeeker writes encoded sections through a WriteSeeker.
func writeSectionsSeeker(w io.WriteSeeker, sections []Section) error {
	for _, s := range sections {
		if _, err := w.Seek(s.Offset, io.SeekStart); err != nil {
			return ioError(err, "seek to %s section", s.Kind)
		}
		if _, err := w.Write(s.Data); err != nil {
			return ioError(err, "write %s section", s.Kind)
		}
	}

	return nil
}

// headerSlots maps section kind to the byte slot its header entry spans.
func headerSlots(entries []Entry) map[SectionKind]uint64 {
	slots := make(map[SectionKind]uint64, len(sectionKinds))
	for i := range entries {
		if entries[i].Type == EntryHeader {
			slots[entries[i].Section] = entries[i].FileSize
		}
	}

	return slots
}

// patchHeaderTable stores section offsets and content size into the CPK header row.
func patchHeaderTable(m *Metadata, entries []Entry) error {
	hdr := m.sections[SectionCPK].table
	values := [...]uint64{m.ContentOffset, m.TocOffset, m.ItocOffset, m.EtocOffset, m.GtocOffset}
	for i, name := range headerOffsetColumns {
		if err := setOptionalUint(hdr, 0, name, values[i]); err != nil {
			return fmt.Errorf("patch CPK header: %w", err)
		}
	}

	// Only per-row ContentSize follows the payload; other storages stay as read.
	if col, ok := hdr.Column("ContentSize"); ok && col.Storage == StoragePerRow {
		if err := hdr.SetUint(0, "ContentSize", contentSize(m, entries)); err != nil {
			return fmt.Errorf("patch CPK header: %w", err)
		}
	}

	return nil
}

// contentSize returns the span from content start to the end of the last payload.
func contentSize(m *Metadata, entries []Entry) uint64 {
	var end uint64
	for i := range entries {
		if entries[i].Type == EntryFile {
			end = max(end, entries[i].FileOffset+entries[i].FileSize)
		}
	}
	if end <= m.ContentOffset {
		return 0
	}

	return end - m.ContentOffset
}

// patchTocTable stores entry offsets and sizes into TOC rows.
func patchTocTable(m *Metadata, entries []Entry) error {
	if !m.HasSection(SectionTOC) {
		return nil
	}

	toc := m.sections[SectionTOC].table
	hasExtract := toc.ColumnIndex("ExtractSize") >= 0
	base := m.tocBase()
	for i := range entries {
		e := &entries[i]
		if e.Type != EntryFile || e.Section != SectionTOC {
			continue
		}
		if e.Row < 0 || e.Row >= toc.RowCount() {
			return fmt.Errorf("%w: entry %s row %d out of TOC range", ErrFormat, e.Key(), e.Row)
		}
		if e.FileOffset < base {
			return fmt.Errorf("%w: entry %s offset 0x%x precedes TOC base 0x%x", ErrFormat, e.Key(), e.FileOffset, base)
		}

		if err := toc.SetUint(e.Row, "FileOffset", e.FileOffset-base); err != nil {
			return entryError("emit", "", e, err)
		}
		if err := toc.SetUint(e.Row, "FileSize", e.FileSize); err != nil {
			return entryError("emit", "", e, err)
		}
		// Without a TOC column the value lives in ITOC only.
		if e.HasExtractSize && hasExtract {
			if err := toc.SetUint(e.Row, "ExtractSize", e.ExtractSize); err != nil {
				return entryError("emit", "", e, err)
			}
		}
	}

	return nil
}

// setOptionalUint stores v into a column that may be absent when v is zero.
func setOptionalUint(t *Table, row int, name string, v uint64) error {
	if t.ColumnIndex(name) < 0 {
		if v == 0 {
			return nil
		}

		return fmt.Errorf("%w: table %s has no column %s for value %d", ErrFormat, t.Name, name, v)
	}

	return t.SetUint(row, name, v)
}

// acquireCopyBuffer returns reusable payload copy buffer and release callback.
func acquireCopyBuffer() ([]byte, func()) {
	arr := copyBufferPool.Get().(*[copyBufferSize]byte) //nolint:forcetypeassert // pool contains only fixed-size buffers
	buf := arr[:]

	return buf, func() {
		copyBufferPool.Put(arr)
	}
}

// copyPayloadBounded streams payload from src to dst and enforces strict size limit.
func copyPayloadBounded(dst io.Writer, src io.Reader, limit int64, buf []byte) (int64, error) {
	if dst == nil {
		return 0, ErrNilWriter
	}
	if src == nil {
		return 0, ErrNilReader
	}
	if limit < 0 {
		return 0, ErrSizeOverflow
	}
	if len(buf) == 0 {
		buf = make([]byte, 32*1024)
	}

	var written int64
	emptyReads := 0
	for written < limit {
		chunkSize := len(buf)
		remaining := limit - written
		if int64(chunkSize) > remaining {
			chunkSize = int(remaining)
		}

		n, readErr := src.Read(buf[:chunkSize])
		if n > 0 {
			emptyReads = 0
			nw, writeErr := dst.Write(buf[:n])
			written += int64(nw)

			if writeErr != nil {
				return written, writeErr
			}
			if nw != n {
				return written, io.ErrShortWrite
			}
		}
		if n == 0 && readErr == nil {
			emptyReads++
			if emptyReads > 100 {
				return written, io.ErrNoProgress
			}

			continue
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}

			return written, readErr
		}
	}

	// At exactly the limit, one more byte means the source is longer.
	if written == limit {
		var extra [1]byte
		n, err := src.Read(extra[:])
		if n > 0 {
			return written, ErrSizeOverflow
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return written, err
		}
	}

	return written, nil
}

// writeZeros writes n zero bytes.
func writeZeros(w io.Writer, n int64, buf []byte) error {
	clear(buf)
	for n > 0 {
		chunk := min(int64(len(buf)), n)
		if _, err := w.Write(buf[:chunk]); err != nil {
			return err
		}
		n -= chunk
	}

	return nil
}

// alignOffset rounds off up to a multiple of a.
func alignOffset(off uint64, a uint64) uint64 {
	if a <= 1 {
		return off
	}

	return (off + a - 1) / a * a
}
