// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

package cpk

import (
	"fmt"
	"sort"
)

// ITOC comes in two shapes. The flat one carries ID, FileSize and ExtractSize
// rows directly. The grouped CpkItocInfo one has a single row whose DataL and
// DataH cells hold nested tables with 16-bit and 32-bit sizes.
const (
	itocTableL = "CpkItocL"
	itocTableH = "CpkItocH"
)

// itocGroups are the grouped ITOC data columns, narrow sizes first.
var itocGroups = [...]string{"DataL", "DataH"}

// itocRow is one decoded ITOC size record.
type itocRow struct {
	ID           uint64
	FileSize     uint64
	ExtractSize  uint64
	SizeWidth    ColumnType
	ExtractWidth ColumnType
	HasSize      bool
	HasExtract   bool
}

// readItocRows returns size records of a flat or grouped ITOC table.
func readItocRows(t *Table) ([]itocRow, error) {
	if t.ColumnIndex("ID") >= 0 {
		return itocRowsOf(t)
	}

	var rows []itocRow
	for _, name := range itocGroups {
		child, err := itocGroupTable(t, name)
		if err != nil {
			return nil, err
		}
		if child == nil {
			continue
		}

		group, err := itocRowsOf(child)
		if err != nil {
			return nil, fmt.Errorf("ITOC %s: %w", name, err)
		}
		rows = append(rows, group...)
	}

	return rows, nil
}

// itocGroupTable decodes the nested table stored in a grouped ITOC column.
// It returns nil when the column is absent or empty.
func itocGroupTable(t *Table, name string) (*Table, error) {
	if t.RowCount() == 0 {
		return nil, nil
	}

	b, ok := t.Data(0, name)
	if !ok || len(b) == 0 {
		return nil, nil
	}

	child, err := DecodeTable(b)
	if err != nil {
		return nil, fmt.Errorf("ITOC %s: %w", name, err)
	}

	return child, nil
}

// itocRowsOf reads ID keyed size rows of one table.
func itocRowsOf(t *Table) ([]itocRow, error) {
	if t.ColumnIndex("ID") < 0 {
		return nil, fmt.Errorf("%w: table %s has no ID column", ErrFormat, t.Name)
	}

	sizeCol, _ := t.Column("FileSize")
	extractCol, _ := t.Column("ExtractSize")
	rows := make([]itocRow, 0, t.RowCount())
	for row := range t.RowCount() {
		id, ok := t.Uint(row, "ID")
		if !ok {
			return nil, fmt.Errorf("%w: table %s row %d ID is not an integer", ErrFormat, t.Name, row)
		}

		r := itocRow{
			ID:           id,
			SizeWidth:    sizeCol.Type,
			ExtractWidth: extractCol.Type,
		}
		r.FileSize, r.HasSize = t.Uint(row, "FileSize")
		r.ExtractSize, r.HasExtract = t.Uint(row, "ExtractSize")

		rows = append(rows, r)
	}

	return rows, nil
}

// applyItocSizes overrides sizes of TOC entries with ITOC rows of the same ID.
func applyItocSizes(meta *Metadata, files []Entry, size int64) error {
	if !meta.HasSection(SectionITOC) {
		return nil
	}

	rows, err := readItocRows(meta.sections[SectionITOC].table)
	if err != nil {
		return err
	}

	byID := make(map[uint64]int, len(files))
	for i := range files {
		if files[i].HasID {
			byID[files[i].ID] = i
		}
	}

	for _, r := range rows {
		i, found := byID[r.ID]
		if !found {
			continue
		}

		e := &files[i]
		if r.HasSize {
			e.FileSize = r.FileSize
			e.SizeWidth = narrowerType(e.SizeWidth, r.SizeWidth)
		}
		if r.HasExtract {
			e.ExtractSize = r.ExtractSize
			e.HasExtractSize = true
			if hasTocColumn(meta, "ExtractSize") {
				e.ExtractWidth = narrowerType(e.ExtractWidth, r.ExtractWidth)
			} else {
				e.ExtractWidth = r.ExtractWidth
			}
		}

		if end := e.FileOffset + e.FileSize; end < e.FileOffset || end > uint64(size) { //nolint:gosec // size is non-negative
			return fmt.Errorf("%w: entry %s ITOC size %d out of archive bounds", ErrFormat, e.Key(), e.FileSize)
		}
	}

	return nil
}

// itocEntries builds file entries of an archive indexed by ITOC alone.
// Payloads follow each other from ContentOffset in ID order, each padded to Align.
func itocEntries(meta *Metadata, size int64) ([]Entry, error) {
	if meta.ContentOffset == 0 {
		return nil, fmt.Errorf("%w: ITOC-only archive has no content offset", ErrFormat)
	}

	rows, err := readItocRows(meta.sections[SectionITOC].table)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].ID < rows[j].ID
	})

	align := meta.fileAlign()
	off := meta.ContentOffset
	files := make([]Entry, 0, len(rows))
	for i, r := range rows {
		if !r.HasSize {
			return nil, fmt.Errorf("%w: ITOC row for ID %d has no FileSize", ErrFormat, r.ID)
		}

		e := Entry{
			FileName:       itocFileName(r.ID),
			Type:           EntryFile,
			Section:        SectionITOC,
			Row:            i,
			FileOffset:     off,
			FileSize:       r.FileSize,
			ExtractSize:    r.ExtractSize,
			ID:             r.ID,
			HasID:          true,
			HasExtractSize: r.HasExtract,
			SizeWidth:      r.SizeWidth,
			ExtractWidth:   r.ExtractWidth,
		}

		end := e.FileOffset + e.FileSize
		if end < e.FileOffset || end > uint64(size) { //nolint:gosec // size is non-negative
			return nil, fmt.Errorf("%w: entry %s payload 0x%x+%d out of archive bounds", ErrFormat, e.Key(), e.FileOffset, e.FileSize)
		}

		files = append(files, e)
		off += alignOffset(r.FileSize, align)
	}

	return files, nil
}

// itocFileName names an entry known only by its ID.
func itocFileName(id uint64) string {
	return fmt.Sprintf("%05d", id)
}

// patchItocTable stores entry sizes into ITOC rows matched by ID.
// Grouped tables get their nested DataL and DataH images re-encoded in place.
func patchItocTable(m *Metadata, entries []Entry) error {
	if !m.HasSection(SectionITOC) {
		return nil
	}

	byID := make(map[uint64]*Entry, len(entries))
	for i := range entries {
		if entries[i].Type == EntryFile && entries[i].HasID {
			byID[entries[i].ID] = &entries[i]
		}
	}

	itoc := m.sections[SectionITOC].table
	if itoc.ColumnIndex("ID") >= 0 {
		return patchItocRows(itoc, byID)
	}

	for _, name := range itocGroups {
		child, err := itocGroupTable(itoc, name)
		if err != nil {
			return err
		}
		if child == nil {
			continue
		}

		if err := patchItocRows(child, byID); err != nil {
			return err
		}

		img, err := child.Encode()
		if err != nil {
			return fmt.Errorf("encode ITOC %s: %w", name, err)
		}
		if err := itoc.SetData(0, name, img); err != nil {
			return fmt.Errorf("patch ITOC %s: %w", name, err)
		}
	}

	return nil
}

// patchItocRows stores sizes of matched entries into one ID keyed table.
// A size that no longer fits its column fails with ErrFormat.
func patchItocRows(t *Table, byID map[uint64]*Entry) error {
	hasSize := t.ColumnIndex("FileSize") >= 0
	hasExtract := t.ColumnIndex("ExtractSize") >= 0
	for row := range t.RowCount() {
		id, _ := t.Uint(row, "ID")
		e, ok := byID[id]
		if !ok {
			continue
		}

		if hasSize {
			if err := t.SetUint(row, "FileSize", e.FileSize); err != nil {
				return entryError("emit", "", e, err)
			}
		}
		if hasExtract && e.HasExtractSize {
			if err := t.SetUint(row, "ExtractSize", e.ExtractSize); err != nil {
				return entryError("emit", "", e, err)
			}
		}
	}

	return nil
}

// narrowerType returns the integer type with fewer bytes.
func narrowerType(a ColumnType, b ColumnType) ColumnType {
	if b.Size() < a.Size() {
		return b
	}

	return a
}
