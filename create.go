// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

package cpk

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"time"

	"github.com/woozymasta/cpk/vfs"
)

// Header column constants written into new archives.
const (
	createVersion  = 7
	createRevision = 14
	// cpkModeToc and cpkModeTocItoc are the CpkMode values for the written indexes.
	cpkModeToc     = 1
	cpkModeTocItoc = 2
)

// createItem is one normalized input with its archive path parts.
type createItem struct {
	in   Input
	dir  string
	file string
	key  string
}

// createRecord stores sizes produced by one payload write.
type createRecord struct {
	fileSize    uint64
	extractSize uint64
	candidate   bool
	compressed  bool
}

// columnSpec describes one column of a table built for a new archive.
type columnSpec struct {
	value   Value
	name    string
	typ     ColumnType
	storage Storage
}

// Create writes a new archive to out from inputs.
//
// The CPK header goes at offset zero followed by TOC and the optional ITOC,
// each on an Align boundary. Payloads follow in path order, separated by
// zero padding up to Align. The optional ETOC is written after the content.
func Create(ctx context.Context, out io.WriteSeeker, inputs []Input, opts CreateOptions) (*CreateResult, error) {
	startedAt := time.Now()

	if out == nil {
		return nil, ErrNilWriter
	}
	if len(inputs) == 0 {
		return nil, ErrEmptyInputs
	}
	if ctx == nil {
		ctx = context.Background()
	}

	opts.applyDefaults()
	if opts.Align > math.MaxUint16 {
		return nil, fmt.Errorf("%w: align 0x%x does not fit the header column", ErrSizeOverflow, opts.Align)
	}

	items, err := prepareCreateItems(inputs)
	if err != nil {
		return nil, err
	}

	policy, err := newCompressPolicy(opts)
	if err != nil {
		return nil, fmt.Errorf("compile compress rules: %w", err)
	}

	meta, etocSlot, err := newCreateMetadata(items, opts)
	if err != nil {
		return nil, err
	}

	if _, err := out.Seek(int64(meta.ContentOffset), io.SeekStart); err != nil { //nolint:gosec // bounded by table sizes
		return nil, ioError(err, "seek to content")
	}

	w := bufio.NewWriterSize(out, copyBufferSize)
	copyBuf, releaseCopyBuffer := acquireCopyBuffer()
	defer releaseCopyBuffer()

	align := uint64(opts.Align)
	res := &CreateResult{}
	entries := make([]Entry, 0, len(items))
	pos := meta.ContentOffset
	for i := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if i > 0 {
			next := alignOffset(pos, align)
			if err := writeZeros(w, int64(next-pos), copyBuf); err != nil { //nolint:gosec // padding is below align
				return nil, ioError(err, "write padding")
			}
			pos = next
		}

		rec, err := writeCreatePayload(w, items[i], policy, copyBuf)
		if err != nil {
			return nil, err
		}

		entries = append(entries, Entry{
			DirName:        items[i].dir,
			FileName:       items[i].file,
			Type:           EntryFile,
			Section:        SectionTOC,
			Row:            i,
			FileOffset:     pos,
			FileSize:       rec.fileSize,
			ExtractSize:    rec.extractSize,
			HasExtractSize: true,
			ID:             uint64(i), //nolint:gosec // index is non-negative
			HasID:          true,
			SizeWidth:      TypeUint32,
			ExtractWidth:   TypeUint32,
		})

		res.WrittenEntries++
		if rec.compressed {
			res.CompressedEntries++
			res.CompressedBytes += int64(rec.fileSize) //nolint:gosec // bounded by u32 column
		} else {
			res.RawBytes += int64(rec.fileSize) //nolint:gosec // bounded by u32 column
		}
		if rec.candidate && !rec.compressed {
			res.SkippedCompressionEntries++
		}

		if opts.OnEntryDone != nil {
			opts.OnEntryDone(CreateEntryProgress{
				Path:                 items[i].in.Path,
				ID:                   uint64(i), //nolint:gosec // index is non-negative
				FileOffset:           pos,
				FileSize:             rec.fileSize,
				ExtractSize:          rec.extractSize,
				CompressionCandidate: rec.candidate,
				Compressed:           rec.compressed,
			})
		}
		opts.Logger.Debug("entry written",
			"path", items[i].in.Path,
			"offset", pos,
			"size", rec.fileSize,
			"compressed", rec.compressed)

		pos += rec.fileSize
	}

	res.DataSize = int64(pos - meta.ContentOffset) //nolint:gosec // bounded by u32 payload sizes

	if opts.ETOC {
		next := alignOffset(pos, align)
		if err := writeZeros(w, int64(next-pos)+int64(etocSlot), copyBuf); err != nil { //nolint:gosec // bounded by table size
			return nil, ioError(err, "reserve ETOC")
		}

		meta.EtocOffset = next
		pos = next + etocSlot
	}

	if err := w.Flush(); err != nil {
		return nil, ioError(err, "flush payloads")
	}

	sections, err := Emit(entries, meta)
	if err != nil {
		return nil, err
	}
	if err := writeSectionsSeeker(out, sections); err != nil {
		return nil, err
	}
	if _, err := out.Seek(int64(pos), io.SeekStart); err != nil { //nolint:gosec // bounded by written data
		return nil, ioError(err, "seek to archive end")
	}

	res.Duration = time.Since(startedAt)
	opts.Logger.Info("archive created",
		"entries", res.WrittenEntries,
		"compressed", res.CompressedEntries,
		"size", pos,
		"duration", res.Duration)

	return res, nil
}

// CreateFile writes a new archive to outPath.
func CreateFile(ctx context.Context, outPath string, inputs []Input, opts CreateOptions) (*CreateResult, error) {
	f, err := os.OpenFile(outPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, openError(outPath, err)
	}
	defer func() {
		if f != nil {
			_ = f.Close()
		}
	}()

	res, err := Create(ctx, f, inputs, opts)
	if err != nil {
		return nil, err
	}

	if err := f.Sync(); err != nil {
		return nil, ioError(err, "sync %s", outPath)
	}

	if err := f.Close(); err != nil {
		return nil, ioError(err, "close %s", outPath)
	}
	f = nil

	return res, nil
}

// InputsFromTree returns one Input per file below dir, keyed by relative path.
func InputsFromTree(dir *vfs.Directory) ([]Input, error) {
	if dir == nil {
		return nil, ErrEmptyInputs
	}

	files := dir.Files()
	inputs := make([]Input, 0, len(files))
	for p, f := range files {
		size, err := f.Size()
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrNotFound, p, err)
		}

		inputs = append(inputs, Input{
			Path:     p,
			Open:     f.Open,
			SizeHint: size,
		})
	}

	return inputs, nil
}

// prepareCreateItems normalizes, validates and sorts inputs.
func prepareCreateItems(inputs []Input) ([]createItem, error) {
	items := make([]createItem, 0, len(inputs))
	seen := make(map[string]struct{}, len(inputs))
	for i := range inputs {
		dir, file, err := splitEntryPath(inputs[i].Path)
		if err != nil {
			return nil, err
		}

		key := LookupKey(inputs[i].Path)
		if _, exists := seen[key]; exists {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateEntryPath, inputs[i].Path)
		}
		seen[key] = struct{}{}

		in := inputs[i]
		in.Path = NormalizePath(in.Path)
		items = append(items, createItem{in: in, dir: dir, file: file, key: key})
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].in.Path < items[j].in.Path
	})

	return items, nil
}

// newCreateMetadata builds section tables for items and lays out their offsets.
// It returns the ETOC slot size, zero when ETOC is disabled.
func newCreateMetadata(items []createItem, opts CreateOptions) (*Metadata, uint64, error) {
	meta := &Metadata{Widths: make(map[string]ColumnType), Align: uint64(opts.Align)}

	hdr, err := buildHeaderTable(len(items), opts)
	if err != nil {
		return nil, 0, err
	}
	meta.sections[SectionCPK] = newSectionTable(SectionCPK, hdr)

	toc, err := buildTocTable(items)
	if err != nil {
		return nil, 0, err
	}
	meta.sections[SectionTOC] = newSectionTable(SectionTOC, toc)
	for _, col := range toc.Columns {
		meta.Widths[col.Name] = col.Type
	}

	if opts.ITOC {
		itoc, err := buildItocTable(len(items))
		if err != nil {
			return nil, 0, err
		}
		meta.sections[SectionITOC] = newSectionTable(SectionITOC, itoc)
	}

	if opts.ETOC {
		etoc, err := buildEtocTable(items)
		if err != nil {
			return nil, 0, err
		}
		meta.sections[SectionETOC] = newSectionTable(SectionETOC, etoc)
	}

	for _, kind := range sectionKinds {
		if meta.HasSection(kind) {
			meta.sections[kind].table.SetMasked(opts.Mask)
		}
	}

	slots := make(map[SectionKind]uint64, len(sectionKinds))
	for _, kind := range []SectionKind{SectionTOC, SectionITOC, SectionETOC} {
		if !meta.HasSection(kind) {
			continue
		}

		data, err := meta.sections[kind].encode()
		if err != nil {
			return nil, 0, err
		}
		slots[kind] = uint64(len(data))

		if err := hdr.SetUint(0, kind.headerSizeColumn(), slots[kind]); err != nil {
			return nil, 0, fmt.Errorf("set %s size: %w", kind, err)
		}
	}

	cpkData, err := meta.sections[SectionCPK].encode()
	if err != nil {
		return nil, 0, err
	}

	align := uint64(opts.Align)
	meta.TocOffset = alignOffset(uint64(len(cpkData)), align)
	next := meta.TocOffset + slots[SectionTOC]
	if opts.ITOC {
		meta.ItocOffset = alignOffset(next, align)
		next = meta.ItocOffset + slots[SectionITOC]
	}
	meta.ContentOffset = alignOffset(next, align)

	return meta, slots[SectionETOC], nil
}

// buildHeaderTable returns the single-row CPK header table.
func buildHeaderTable(files int, opts CreateOptions) (*Table, error) {
	mode := uint64(cpkModeToc)
	if opts.ITOC {
		mode = cpkModeTocItoc
	}

	t, err := buildTable(SectionCPK.tableName(), []columnSpec{
		{name: "UpdateDateTime", typ: TypeUint64, storage: StoragePerRow},
		{name: "ContentOffset", typ: TypeUint64, storage: StoragePerRow},
		{name: "ContentSize", typ: TypeUint64, storage: StoragePerRow},
		{name: "TocOffset", typ: TypeUint64, storage: StoragePerRow},
		{name: "TocSize", typ: TypeUint64, storage: StoragePerRow},
		{name: "ItocOffset", typ: TypeUint64, storage: StoragePerRow},
		{name: "ItocSize", typ: TypeUint64, storage: StoragePerRow},
		{name: "EtocOffset", typ: TypeUint64, storage: StoragePerRow},
		{name: "EtocSize", typ: TypeUint64, storage: StoragePerRow},
		{name: "GtocOffset", typ: TypeUint64, storage: StorageZero},
		{name: "GtocSize", typ: TypeUint64, storage: StorageZero},
		{name: "Files", typ: TypeUint32, storage: StoragePerRow},
		{name: "Groups", typ: TypeUint32, storage: StorageZero},
		{name: "Attrs", typ: TypeUint32, storage: StorageZero},
		{name: "Version", typ: TypeUint16, storage: StorageConstant, value: UintValue(createVersion)},
		{name: "Revision", typ: TypeUint16, storage: StorageConstant, value: UintValue(createRevision)},
		{name: "Align", typ: TypeUint16, storage: StorageConstant, value: UintValue(uint64(opts.Align))},
		{name: "Sorted", typ: TypeUint16, storage: StorageConstant, value: UintValue(1)},
		{name: "CpkMode", typ: TypeUint32, storage: StorageConstant, value: UintValue(mode)},
	}, 1)
	if err != nil {
		return nil, err
	}

	if err := t.SetUint(0, "Files", uint64(files)); err != nil { //nolint:gosec // count is non-negative
		return nil, err
	}

	return t, nil
}

// buildTocTable returns the TOC table with one row per item.
func buildTocTable(items []createItem) (*Table, error) {
	t, err := buildTable(SectionTOC.tableName(), []columnSpec{
		{name: "DirName", typ: TypeString, storage: StoragePerRow},
		{name: "FileName", typ: TypeString, storage: StoragePerRow},
		{name: "FileSize", typ: TypeUint32, storage: StoragePerRow},
		{name: "ExtractSize", typ: TypeUint32, storage: StoragePerRow},
		{name: "FileOffset", typ: TypeUint64, storage: StoragePerRow},
		{name: "ID", typ: TypeUint32, storage: StoragePerRow},
		{name: "UserString", typ: TypeString, storage: StorageConstant, value: StringValue(nullString)},
		{name: "CRC", typ: TypeUint32, storage: StorageZero},
	}, len(items))
	if err != nil {
		return nil, err
	}

	for row, item := range items {
		dir := item.dir
		if dir == "" {
			dir = nullString
		}

		if err := t.SetText(row, "DirName", dir); err != nil {
			return nil, err
		}
		if err := t.SetText(row, "FileName", item.file); err != nil {
			return nil, err
		}
		if err := t.SetUint(row, "ID", uint64(row)); err != nil { //nolint:gosec // row is non-negative
			return nil, err
		}
	}

	return t, nil
}

// buildItocTable returns a grouped ITOC table with every entry in the 32-bit DataH group.
// DataL stays empty; sizes are patched on emit without changing the table length.
func buildItocTable(files int) (*Table, error) {
	group, err := buildTable(itocTableH, []columnSpec{
		{name: "ID", typ: TypeUint16, storage: StoragePerRow},
		{name: "FileSize", typ: TypeUint32, storage: StoragePerRow},
		{name: "ExtractSize", typ: TypeUint32, storage: StoragePerRow},
	}, files)
	if err != nil {
		return nil, err
	}

	for row := range files {
		if err := group.SetUint(row, "ID", uint64(row)); err != nil { //nolint:gosec // row is non-negative
			return nil, fmt.Errorf("ITOC DataH: %w", err)
		}
	}

	img, err := group.Encode()
	if err != nil {
		return nil, err
	}

	t, err := buildTable(SectionITOC.tableName(), []columnSpec{
		{name: "FilesL", typ: TypeUint32, storage: StoragePerRow},
		{name: "FilesH", typ: TypeUint32, storage: StoragePerRow},
		{name: "DataL", typ: TypeData, storage: StoragePerRow},
		{name: "DataH", typ: TypeData, storage: StoragePerRow},
	}, 1)
	if err != nil {
		return nil, err
	}

	if err := t.SetUint(0, "FilesH", uint64(files)); err != nil { //nolint:gosec // count is non-negative
		return nil, err
	}
	if err := t.SetData(0, "DataH", img); err != nil {
		return nil, err
	}

	return t, nil
}

// buildEtocTable returns ETOC rows carrying timestamps and local directories.
func buildEtocTable(items []createItem) (*Table, error) {
	t, err := buildTable(SectionETOC.tableName(), []columnSpec{
		{name: "UpdateDateTime", typ: TypeUint64, storage: StoragePerRow},
		{name: "LocalDir", typ: TypeString, storage: StoragePerRow},
	}, len(items))
	if err != nil {
		return nil, err
	}

	for row, item := range items {
		if err := t.SetUint(row, "UpdateDateTime", packDateTime(item.in.ModTime)); err != nil {
			return nil, err
		}
		if err := t.SetText(row, "LocalDir", item.dir); err != nil {
			return nil, err
		}
	}

	return t, nil
}

// buildTable creates a table from column specs with rows zero-valued rows.
func buildTable(name string, cols []columnSpec, rows int) (*Table, error) {
	t := NewTable(name)
	for _, c := range cols {
		if err := t.AddColumn(c.name, c.typ, c.storage, c.value); err != nil {
			return nil, err
		}
	}

	for range rows {
		t.AddRow()
	}

	return t, nil
}

// packDateTime packs t as year, month, day, hour, minute and second fields, zero for the zero time.
func packDateTime(t time.Time) uint64 {
	if t.IsZero() {
		return 0
	}

	t = t.UTC()

	return uint64(t.Year())<<48 | //nolint:gosec // year is positive
		uint64(t.Month())<<40 |
		uint64(t.Day())<<32 | //nolint:gosec // day is positive
		uint64(t.Hour())<<24 | //nolint:gosec // hour is non-negative
		uint64(t.Minute())<<16 | //nolint:gosec // minute is non-negative
		uint64(t.Second())<<8 //nolint:gosec // second is non-negative
}

// openInputReader opens source stream for one input.
func openInputReader(in Input) (io.ReadCloser, error) {
	if in.Open == nil {
		return nil, fmt.Errorf("input %s: Open is nil", in.Path)
	}

	rc, err := in.Open()
	if err != nil {
		return nil, fmt.Errorf("open input %s: %w", in.Path, err)
	}

	return rc, nil
}

// writeCreatePayload writes one input payload, compressing candidates that shrink.
func writeCreatePayload(
	dst io.Writer,
	item createItem,
	policy *compressPolicy,
	copyBuf []byte,
) (createRecord, error) {
	rc, err := openInputReader(item.in)
	if err != nil {
		return createRecord{}, err
	}
	defer func() { _ = rc.Close() }()

	candidate := policy.selects(item.in.Path)
	if candidate && item.in.SizeHint > 0 {
		candidate = policy.fits(uint64(item.in.SizeHint))
	}

	if !candidate {
		n, err := copyPayloadBounded(dst, rc, math.MaxUint32, copyBuf)
		if err != nil {
			return createRecord{}, fmt.Errorf("stream input %s: %w", item.in.Path, err)
		}

		return createRecord{fileSize: uint64(n), extractSize: uint64(n)}, nil //nolint:gosec // bounded by limit
	}

	raw, err := readPayloadBounded(rc, math.MaxUint32, item.in.SizeHint, copyBuf)
	if err != nil {
		return createRecord{}, fmt.Errorf("stream input %s: %w", item.in.Path, err)
	}

	rec := createRecord{
		fileSize:    uint64(len(raw)),
		extractSize: uint64(len(raw)),
		candidate:   true,
	}

	payload, packed, err := policy.pack(raw)
	if err != nil {
		return createRecord{}, fmt.Errorf("compress %s: %w", item.in.Path, err)
	}
	if packed {
		rec.fileSize = uint64(len(payload))
		rec.compressed = true
	}

	if _, err := dst.Write(payload); err != nil {
		return createRecord{}, ioError(err, "write payload %s", item.in.Path)
	}

	return rec, nil
}

// readPayloadBounded reads whole payload into memory with strict max-size enforcement.
func readPayloadBounded(src io.Reader, limit int64, sizeHint int64, copyBuf []byte) ([]byte, error) {
	var dst bytes.Buffer
	if sizeHint > 0 && sizeHint <= limit {
		dst.Grow(int(sizeHint))
	}

	written, err := copyPayloadBounded(&dst, src, limit, copyBuf)
	if err != nil {
		return nil, err
	}
	if int64(dst.Len()) != written {
		return nil, fmt.Errorf("short read into memory (%d/%d)", dst.Len(), written)
	}

	return dst.Bytes(), nil
}
