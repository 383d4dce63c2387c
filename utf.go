// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

package cpk

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

// utfSignature opens every table.
const utfSignature = "@UTF"

const (
	// utfBase is the offset all table-relative offsets are counted from.
	utfBase = 8
	// utfHeaderSize is the fixed table header after signature and size.
	utfHeaderSize = 24
	// nullString is the first string every pool carries.
	nullString = "<NULL>"
	// maskSeed and maskStep drive the table XOR mask stream.
	maskSeed = 0x655f
	maskStep = 0x4115
)

// ColumnType is the value type of one table column.
type ColumnType uint8

// Column value types.
const (
	TypeUint8   ColumnType = 0x0
	TypeInt8    ColumnType = 0x1
	TypeUint16  ColumnType = 0x2
	TypeInt16   ColumnType = 0x3
	TypeUint32  ColumnType = 0x4
	TypeInt32   ColumnType = 0x5
	TypeUint64  ColumnType = 0x6
	TypeInt64   ColumnType = 0x7
	TypeFloat32 ColumnType = 0x8
	TypeFloat64 ColumnType = 0x9
	TypeString  ColumnType = 0xA
	TypeData    ColumnType = 0xB
)

// Size returns encoded byte width of the type, zero for unknown types.
func (t ColumnType) Size() int {
	switch t {
	case TypeUint8, TypeInt8:
		return 1
	case TypeUint16, TypeInt16:
		return 2
	case TypeUint32, TypeInt32, TypeFloat32, TypeString:
		return 4
	case TypeUint64, TypeInt64, TypeFloat64, TypeData:
		return 8
	default:
		return 0
	}
}

// IsInteger reports whether the type stores an integer.
func (t ColumnType) IsInteger() bool {
	return t <= TypeInt64
}

// MaxUint returns the largest unsigned value the type can hold.
func (t ColumnType) MaxUint() uint64 {
	switch t {
	case TypeUint8:
		return math.MaxUint8
	case TypeInt8:
		return math.MaxInt8
	case TypeUint16:
		return math.MaxUint16
	case TypeInt16:
		return math.MaxInt16
	case TypeUint32:
		return math.MaxUint32
	case TypeInt32:
		return math.MaxInt32
	case TypeUint64:
		return math.MaxUint64
	case TypeInt64:
		return math.MaxInt64
	default:
		return 0
	}
}

// String returns short type name.
func (t ColumnType) String() string {
	names := [...]string{"u8", "s8", "u16", "s16", "u32", "s32", "u64", "s64", "f32", "f64", "string", "data"}
	if int(t) < len(names) {
		return names[t]
	}

	return fmt.Sprintf("type(0x%x)", uint8(t))
}

// Storage is where a column keeps its value.
type Storage uint8

// Column storage classes.
const (
	// StorageZero columns have no stored value and read as zero.
	StorageZero Storage = 0x10
	// StorageConstant columns keep one value inline in the column descriptor.
	StorageConstant Storage = 0x30
	// StoragePerRow columns keep one value per row.
	StoragePerRow Storage = 0x50
)

// Value is one table cell.
type Value struct {
	data   []byte
	text   string
	num    uint64
	ref    uint32
	pooled bool
}

// UintValue returns integer cell value.
func UintValue(v uint64) Value {
	return Value{num: v}
}

// StringValue returns string cell value.
func StringValue(s string) Value {
	return Value{text: s}
}

// DataValue returns binary cell value; b is referenced, not copied.
func DataValue(b []byte) Value {
	return Value{data: b}
}

// Column describes one table column.
type Column struct {
	// Value is the inline value of constant columns.
	Value Value
	// Name is the column name from the string pool.
	Name string
	// Type is the value type.
	Type ColumnType
	// Storage is the storage class.
	Storage Storage

	nameRef    uint32
	namePooled bool
	// pos is the image offset of a constant value or the in-row offset of a per-row value.
	pos int
}

// Table is a decoded @UTF table.
//
// Decoded tables keep their original image so unchanged content re-encodes byte for byte.
type Table struct {
	// Name is the table name.
	Name    string
	Columns []Column
	rows    [][]Value
	strings []byte
	data    []byte
	// image is the unmasked original encoding; nil for built tables.
	image      []byte
	stringsOff int
	dataOff    int
	rowsOff    int
	rowLen     int
	nameRef    uint32
	version    uint16
	masked     bool
}

// NewTable returns an empty table ready for AddColumn.
func NewTable(name string) *Table {
	return &Table{
		Name:    name,
		version: 1,
		strings: []byte(nullString + "\x00"),
	}
}

// DecodeTable parses a table image, unmasking it when needed.
func DecodeTable(b []byte) (*Table, error) {
	if len(b) < utfBase+utfHeaderSize {
		return nil, fmt.Errorf("%w: table of %d bytes is too short", ErrFormat, len(b))
	}

	image := make([]byte, len(b))
	copy(image, b)

	masked := false
	if string(image[:4]) != utfSignature {
		xorMask(image)
		if string(image[:4]) != utfSignature {
			return nil, fmt.Errorf("%w: missing %s signature", ErrFormat, utfSignature)
		}

		masked = true
	}

	t := &Table{image: image, masked: masked}
	if err := t.decode(); err != nil {
		return nil, err
	}

	return t, nil
}

// decode fills table structure from image.
func (t *Table) decode() error {
	image := t.image
	tableSize := int(binary.BigEndian.Uint32(image[4:8]))
	end := utfBase + tableSize
	if tableSize < utfHeaderSize || end > len(image) {
		return fmt.Errorf("%w: table size %d exceeds %d bytes", ErrFormat, tableSize, len(image))
	}

	h := image[utfBase:]
	t.version = binary.BigEndian.Uint16(h[0:2])
	t.rowsOff = int(binary.BigEndian.Uint16(h[2:4]))
	t.stringsOff = int(binary.BigEndian.Uint32(h[4:8]))
	t.dataOff = int(binary.BigEndian.Uint32(h[8:12]))
	t.nameRef = binary.BigEndian.Uint32(h[12:16])
	numColumns := int(binary.BigEndian.Uint16(h[16:18]))
	t.rowLen = int(binary.BigEndian.Uint16(h[18:20]))
	numRows := int(binary.BigEndian.Uint32(h[20:24]))

	if t.rowsOff > t.stringsOff || t.stringsOff > tableSize || t.dataOff > tableSize {
		return fmt.Errorf("%w: table regions out of order", ErrFormat)
	}
	if uint64(t.rowsOff)+uint64(t.rowLen)*uint64(numRows) > uint64(t.stringsOff) {
		return fmt.Errorf("%w: %d rows of %d bytes overrun string pool", ErrFormat, numRows, t.rowLen)
	}

	stringsEnd := tableSize
	if t.dataOff >= t.stringsOff {
		stringsEnd = t.dataOff
	}
	t.strings = image[utfBase+t.stringsOff : utfBase+stringsEnd : utfBase+stringsEnd]
	t.data = image[utfBase+t.dataOff : end : end]

	name, err := t.poolString(t.nameRef)
	if err != nil {
		return err
	}
	t.Name = name

	pos := utfBase + utfHeaderSize
	rowWidth := 0
	t.Columns = make([]Column, 0, numColumns)
	for range numColumns {
		if pos+5 > utfBase+t.rowsOff {
			return fmt.Errorf("%w: column descriptors overrun rows", ErrFormat)
		}

		flags := image[pos]
		col := Column{
			Type:       ColumnType(flags & 0x0f),
			Storage:    Storage(flags & 0xf0),
			nameRef:    binary.BigEndian.Uint32(image[pos+1 : pos+5]),
			namePooled: true,
		}
		pos += 5

		if col.Type.Size() == 0 {
			return fmt.Errorf("%w: column type 0x%x", ErrFormat, uint8(col.Type))
		}
		if col.Name, err = t.poolString(col.nameRef); err != nil {
			return err
		}

		switch col.Storage {
		case StorageZero:
		case StorageConstant:
			if pos+col.Type.Size() > utfBase+t.rowsOff {
				return fmt.Errorf("%w: constant of column %s overruns rows", ErrFormat, col.Name)
			}

			col.pos = pos
			if col.Value, err = t.readValue(image[pos:], col.Type); err != nil {
				return err
			}
			pos += col.Type.Size()
		case StoragePerRow:
			col.pos = rowWidth
			rowWidth += col.Type.Size()
		default:
			return fmt.Errorf("%w: column %s storage 0x%x", ErrFormat, col.Name, uint8(col.Storage))
		}

		t.Columns = append(t.Columns, col)
	}

	if rowWidth > t.rowLen {
		return fmt.Errorf("%w: row columns need %d bytes, row length is %d", ErrFormat, rowWidth, t.rowLen)
	}

	t.rows = make([][]Value, numRows)
	for r := range t.rows {
		row := make([]Value, len(t.Columns))
		base := utfBase + t.rowsOff + r*t.rowLen
		for c := range t.Columns {
			col := &t.Columns[c]
			if col.Storage != StoragePerRow {
				continue
			}

			if row[c], err = t.readValue(image[base+col.pos:], col.Type); err != nil {
				return fmt.Errorf("row %d column %s: %w", r, col.Name, err)
			}
		}

		t.rows[r] = row
	}

	return nil
}

// readValue decodes one cell of type typ from the start of b.
func (t *Table) readValue(b []byte, typ ColumnType) (Value, error) {
	switch typ {
	case TypeString:
		ref := binary.BigEndian.Uint32(b[:4])
		s, err := t.poolString(ref)
		if err != nil {
			return Value{}, err
		}

		return Value{text: s, ref: ref, pooled: true}, nil
	case TypeData:
		ref := binary.BigEndian.Uint32(b[:4])
		size := binary.BigEndian.Uint32(b[4:8])
		if uint64(ref)+uint64(size) > uint64(len(t.data)) {
			return Value{}, fmt.Errorf("%w: data reference 0x%x+%d out of pool", ErrFormat, ref, size)
		}

		return Value{data: t.data[ref : ref+size : ref+size], ref: ref, pooled: true}, nil
	default:
		return Value{num: readUint(b, typ.Size())}, nil
	}
}

// poolString reads a NUL-terminated string at ref in the string pool.
func (t *Table) poolString(ref uint32) (string, error) {
	if uint64(ref) >= uint64(len(t.strings)) {
		return "", fmt.Errorf("%w: string reference 0x%x out of pool", ErrFormat, ref)
	}

	s := t.strings[ref:]
	n := bytes.IndexByte(s, 0)
	if n < 0 {
		return "", fmt.Errorf("%w: unterminated string at 0x%x", ErrFormat, ref)
	}

	return string(s[:n]), nil
}

// Masked reports whether the table was XOR-masked on input.
func (t *Table) Masked() bool {
	return t.masked
}

// SetMasked selects whether Encode applies the XOR mask.
func (t *Table) SetMasked(masked bool) {
	t.masked = masked
}

// RowCount returns number of rows.
func (t *Table) RowCount() int {
	return len(t.rows)
}

// ColumnIndex returns index of named column or -1.
func (t *Table) ColumnIndex(name string) int {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return i
		}
	}

	return -1
}

// Column returns named column descriptor.
func (t *Table) Column(name string) (Column, bool) {
	i := t.ColumnIndex(name)
	if i < 0 {
		return Column{}, false
	}

	return t.Columns[i], true
}

// cell returns the value of named column at row.
func (t *Table) cell(row int, name string) (*Column, Value, bool) {
	i := t.ColumnIndex(name)
	if i < 0 || row < 0 || row >= len(t.rows) {
		return nil, Value{}, false
	}

	col := &t.Columns[i]
	switch col.Storage {
	case StorageConstant:
		return col, col.Value, true
	case StoragePerRow:
		return col, t.rows[row][i], true
	default:
		return col, Value{}, true
	}
}

// Uint returns integer value of named column at row.
func (t *Table) Uint(row int, name string) (uint64, bool) {
	col, v, ok := t.cell(row, name)
	if !ok || !col.Type.IsInteger() {
		return 0, false
	}

	return v.num, true
}

// Text returns string value of named column at row.
func (t *Table) Text(row int, name string) (string, bool) {
	col, v, ok := t.cell(row, name)
	if !ok || col.Type != TypeString {
		return "", false
	}

	return v.text, true
}

// Data returns binary value of named column at row.
func (t *Table) Data(row int, name string) ([]byte, bool) {
	col, v, ok := t.cell(row, name)
	if !ok || col.Type != TypeData {
		return nil, false
	}

	return v.data, true
}

// SetUint stores integer value into named column at row.
// Values that do not fit the column width fail with ErrFormat.
func (t *Table) SetUint(row int, name string, v uint64) error {
	i := t.ColumnIndex(name)
	if i < 0 {
		return fmt.Errorf("%w: table %s has no column %s", ErrFormat, t.Name, name)
	}
	if row < 0 || row >= len(t.rows) {
		return fmt.Errorf("%w: table %s row %d out of range", ErrFormat, t.Name, row)
	}

	col := &t.Columns[i]
	if !col.Type.IsInteger() {
		return fmt.Errorf("%w: column %s is %s, not integer", ErrFormat, name, col.Type)
	}
	if v > col.Type.MaxUint() {
		return fmt.Errorf("%w: %w: value %d does not fit %s column %s", ErrFormat, ErrSizeOverflow, v, col.Type, name)
	}

	return t.setCell(i, row, Value{num: v}, v == col.Value.num)
}

// SetText stores string value into named column at row.
func (t *Table) SetText(row int, name string, s string) error {
	i := t.ColumnIndex(name)
	if i < 0 {
		return fmt.Errorf("%w: table %s has no column %s", ErrFormat, t.Name, name)
	}
	if row < 0 || row >= len(t.rows) {
		return fmt.Errorf("%w: table %s row %d out of range", ErrFormat, t.Name, row)
	}
	if t.Columns[i].Type != TypeString {
		return fmt.Errorf("%w: column %s is %s, not string", ErrFormat, name, t.Columns[i].Type)
	}

	return t.setCell(i, row, Value{text: s}, s == t.Columns[i].Value.text)
}

// SetData stores binary value into named column at row.
func (t *Table) SetData(row int, name string, b []byte) error {
	i := t.ColumnIndex(name)
	if i < 0 {
		return fmt.Errorf("%w: table %s has no column %s", ErrFormat, t.Name, name)
	}
	if row < 0 || row >= len(t.rows) {
		return fmt.Errorf("%w: table %s row %d out of range", ErrFormat, t.Name, row)
	}
	if t.Columns[i].Type != TypeData {
		return fmt.Errorf("%w: column %s is %s, not data", ErrFormat, name, t.Columns[i].Type)
	}

	// Same-length pooled data is overwritten in place; the layout stays put.
	if t.Columns[i].Storage == StoragePerRow {
		cur := t.rows[row][i]
		if cur.pooled && len(b) > 0 && len(cur.data) == len(b) && !t.dataShared(row, i) {
			end := int(cur.ref) + len(b)
			copy(t.data[cur.ref:end], b)
			t.rows[row][i].data = t.data[cur.ref:end:end]
			return nil
		}
	}

	return t.setCell(i, row, Value{data: b}, bytes.Equal(b, t.Columns[i].Value.data))
}

// dataShared reports whether another pooled data cell overlaps the pool bytes of row, col.
func (t *Table) dataShared(row int, col int) bool {
	cur := t.rows[row][col]
	lo, hi := uint64(cur.ref), uint64(cur.ref)+uint64(len(cur.data))
	overlaps := func(v Value) bool {
		return v.pooled && len(v.data) > 0 && uint64(v.ref) < hi && lo < uint64(v.ref)+uint64(len(v.data))
	}

	for c := range t.Columns {
		column := &t.Columns[c]
		if column.Type != TypeData {
			continue
		}

		switch column.Storage {
		case StorageConstant:
			if overlaps(column.Value) {
				return true
			}
		case StoragePerRow:
			for r := range t.rows {
				if (r != row || c != col) && overlaps(t.rows[r][c]) {
					return true
				}
			}
		}
	}

	return false
}

// setCell stores v; shared columns only accept their current value.
func (t *Table) setCell(col int, row int, v Value, matchesShared bool) error {
	c := &t.Columns[col]
	switch c.Storage {
	case StoragePerRow:
		// Unchanged pooled cells keep their original references.
		cur := t.rows[row][col]
		if cur.pooled && cur.text == v.text && bytes.Equal(cur.data, v.data) {
			return nil
		}

		t.rows[row][col] = v
		return nil
	case StorageZero:
		if v.num == 0 && v.text == "" && len(v.data) == 0 {
			return nil
		}

		return fmt.Errorf("%w: column %s has zero storage", ErrFormat, c.Name)
	default:
		if matchesShared {
			return nil
		}

		return fmt.Errorf("%w: column %s is constant", ErrFormat, c.Name)
	}
}

// AddColumn appends a column; only valid before rows are added.
func (t *Table) AddColumn(name string, typ ColumnType, storage Storage, constant Value) error {
	if len(t.rows) > 0 {
		return fmt.Errorf("%w: add column %s after rows", ErrFormat, name)
	}
	if typ.Size() == 0 {
		return fmt.Errorf("%w: column %s type 0x%x", ErrFormat, name, uint8(typ))
	}
	if t.ColumnIndex(name) >= 0 {
		return fmt.Errorf("%w: duplicate column %s", ErrFormat, name)
	}

	switch storage {
	case StorageZero, StoragePerRow:
		constant = Value{}
	case StorageConstant:
	default:
		return fmt.Errorf("%w: column %s storage 0x%x", ErrFormat, name, uint8(storage))
	}

	t.Columns = append(t.Columns, Column{Name: name, Type: typ, Storage: storage, Value: constant})
	t.image = nil

	return nil
}

// AddRow appends a row with zero per-row values and returns its index.
func (t *Table) AddRow() int {
	t.rows = append(t.rows, make([]Value, len(t.Columns)))
	t.image = nil

	return len(t.rows) - 1
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}

	out := *t
	out.Columns = make([]Column, len(t.Columns))
	copy(out.Columns, t.Columns)
	out.strings = cloneBytes(t.strings)
	out.data = cloneBytes(t.data)
	out.image = cloneBytes(t.image)
	out.rows = make([][]Value, len(t.rows))
	for i := range t.rows {
		out.rows[i] = make([]Value, len(t.rows[i]))
		copy(out.rows[i], t.rows[i])
	}

	return &out
}

// Encode returns the table image, masked when the source was masked.
func (t *Table) Encode() ([]byte, error) {
	origStrings, origData := len(t.strings), len(t.data)
	t.intern()

	var (
		out []byte
		err error
	)
	if t.image != nil && len(t.strings) == origStrings && len(t.data) == origData {
		out, err = t.patchImage()
	} else {
		out, err = t.layout()
	}
	if err != nil {
		return nil, err
	}

	if t.masked {
		xorMask(out)
	}

	return out, nil
}

// intern places every unpooled string and data value into the pools.
func (t *Table) intern() {
	if len(t.strings) == 0 {
		t.strings = []byte(nullString + "\x00")
	}
	if t.image == nil {
		t.nameRef = t.internString(t.Name)
	}

	for i := range t.Columns {
		col := &t.Columns[i]
		if !col.namePooled {
			col.nameRef = t.internString(col.Name)
			col.namePooled = true
		}
		if col.Storage == StorageConstant {
			t.internValue(&col.Value, col.Type)
		}
	}

	for r := range t.rows {
		for c := range t.Columns {
			if t.Columns[c].Storage == StoragePerRow {
				t.internValue(&t.rows[r][c], t.Columns[c].Type)
			}
		}
	}
}

// internValue pools one string or data value.
func (t *Table) internValue(v *Value, typ ColumnType) {
	if v.pooled {
		return
	}

	switch typ {
	case TypeString:
		v.ref = t.internString(v.text)
		v.pooled = true
	case TypeData:
		v.ref = t.internData(v.data)
		v.pooled = true
	}
}

// internString returns pool offset of s, appending it when absent.
func (t *Table) internString(s string) uint32 {
	needle := append([]byte(s), 0)
	for start := 0; start < len(t.strings); {
		i := bytes.Index(t.strings[start:], needle)
		if i < 0 {
			break
		}

		at := start + i
		if at == 0 || t.strings[at-1] == 0 {
			return uint32(at) //nolint:gosec // pool is bounded by u32 table size
		}
		start = at + 1
	}

	off := len(t.strings)
	t.strings = append(t.strings, needle...)

	return uint32(off) //nolint:gosec // pool is bounded by u32 table size
}

// internData returns pool offset of b, appending it when absent.
func (t *Table) internData(b []byte) uint32 {
	if len(b) == 0 {
		return 0
	}
	if i := bytes.Index(t.data, b); i >= 0 {
		return uint32(i) //nolint:gosec // pool is bounded by u32 table size
	}

	off := len(t.data)
	t.data = append(t.data, b...)

	return uint32(off) //nolint:gosec // pool is bounded by u32 table size
}

// patchImage rewrites cell values over a copy of the original image.
func (t *Table) patchImage() ([]byte, error) {
	out := cloneBytes(t.image)
	copy(out[utfBase+t.dataOff:], t.data)
	for i := range t.Columns {
		col := &t.Columns[i]
		if col.Storage == StorageConstant {
			putValue(out[col.pos:], col.Type, col.Value)
		}
	}

	for r := range t.rows {
		base := utfBase + t.rowsOff + r*t.rowLen
		for c := range t.Columns {
			col := &t.Columns[c]
			if col.Storage == StoragePerRow {
				putValue(out[base+col.pos:], col.Type, t.rows[r][c])
			}
		}
	}

	return out, nil
}

// layout encodes the table from scratch.
func (t *Table) layout() ([]byte, error) {
	var descriptors []byte
	rowLen := 0
	for i := range t.Columns {
		col := &t.Columns[i]
		descriptors = append(descriptors, byte(col.Storage)|byte(col.Type))
		descriptors = binary.BigEndian.AppendUint32(descriptors, col.nameRef)

		switch col.Storage {
		case StorageConstant:
			col.pos = utfBase + utfHeaderSize + len(descriptors)
			cell := make([]byte, col.Type.Size())
			putValue(cell, col.Type, col.Value)
			descriptors = append(descriptors, cell...)
		case StoragePerRow:
			col.pos = rowLen
			rowLen += col.Type.Size()
		}
	}

	if rowLen > math.MaxUint16 || len(t.Columns) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: table %s row layout is too wide", ErrFormat, t.Name)
	}

	rowsOff := utfHeaderSize + len(descriptors)
	if rowsOff > math.MaxUint16 {
		return nil, fmt.Errorf("%w: table %s column block is too large", ErrFormat, t.Name)
	}

	stringsOff := rowsOff + rowLen*len(t.rows)
	dataOff := align(stringsOff+len(t.strings), 8)
	tableSize := dataOff + len(t.data)
	if uint64(tableSize) > math.MaxUint32 {
		return nil, fmt.Errorf("%w: %w: table %s", ErrFormat, ErrSizeOverflow, t.Name)
	}

	total := align(utfBase+tableSize, 8)
	if total < len(t.image) {
		total = len(t.image)
	}

	out := make([]byte, total)
	copy(out, utfSignature)
	binary.BigEndian.PutUint32(out[4:8], uint32(tableSize)) //nolint:gosec // bounded above

	h := out[utfBase:]
	binary.BigEndian.PutUint16(h[0:2], t.version)
	binary.BigEndian.PutUint16(h[2:4], uint16(rowsOff))     //nolint:gosec // bounded above
	binary.BigEndian.PutUint32(h[4:8], uint32(stringsOff))  //nolint:gosec // bounded above
	binary.BigEndian.PutUint32(h[8:12], uint32(dataOff))    //nolint:gosec // bounded above
	binary.BigEndian.PutUint32(h[12:16], t.nameRef)
	binary.BigEndian.PutUint16(h[16:18], uint16(len(t.Columns))) //nolint:gosec // bounded above
	binary.BigEndian.PutUint16(h[18:20], uint16(rowLen))         //nolint:gosec // bounded above
	binary.BigEndian.PutUint32(h[20:24], uint32(len(t.rows)))    //nolint:gosec // bounded by stringsOff
	copy(out[utfBase+utfHeaderSize:], descriptors)

	for r := range t.rows {
		base := utfBase + rowsOff + r*rowLen
		for c := range t.Columns {
			col := &t.Columns[c]
			if col.Storage == StoragePerRow {
				putValue(out[base+col.pos:], col.Type, t.rows[r][c])
			}
		}
	}

	copy(out[utfBase+stringsOff:], t.strings)
	copy(out[utfBase+dataOff:], t.data)

	t.image = cloneBytes(out)
	t.rowsOff, t.stringsOff, t.dataOff, t.rowLen = rowsOff, stringsOff, dataOff, rowLen
	t.strings = t.image[utfBase+stringsOff : utfBase+stringsOff+len(t.strings) : utfBase+stringsOff+len(t.strings)]
	t.data = t.image[utfBase+dataOff : utfBase+tableSize : utfBase+tableSize]

	return out, nil
}

// putValue encodes v at the start of b.
func putValue(b []byte, typ ColumnType, v Value) {
	switch typ {
	case TypeString:
		binary.BigEndian.PutUint32(b, v.ref)
	case TypeData:
		binary.BigEndian.PutUint32(b, v.ref)
		binary.BigEndian.PutUint32(b[4:], uint32(len(v.data))) //nolint:gosec // pool is bounded by u32 table size
	default:
		writeUint(b, typ.Size(), v.num)
	}
}

// readUint decodes a big-endian unsigned integer of width n.
func readUint(b []byte, n int) uint64 {
	var v uint64
	for i := range n {
		v = v<<8 | uint64(b[i])
	}

	return v
}

// writeUint encodes v as big-endian integer of width n.
func writeUint(b []byte, n int, v uint64) {
	for i := n - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

// xorMask applies the table mask stream; applying it twice restores input.
func xorMask(b []byte) {
	m := uint32(maskSeed)
	for i := range b {
		b[i] ^= byte(m)
		m *= maskStep
	}
}

// align rounds n up to a multiple of a.
func align(n int, a int) int {
	if a <= 1 {
		return n
	}

	return (n + a - 1) / a * a
}

// cloneBytes returns an exact-capacity copy of b, nil stays nil.
func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}

	out := make([]byte, len(b))
	copy(out, b)

	return out
}
