// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

package cpk

import (
	"bytes"
	"errors"
	"testing"
)

// buildSampleTable returns a two-row table covering every storage class.
func buildSampleTable(t *testing.T) *Table {
	t.Helper()

	tbl := NewTable("Sample")
	cols := []struct {
		value   Value
		name    string
		typ     ColumnType
		storage Storage
	}{
		{name: "Small", typ: TypeUint8, storage: StoragePerRow},
		{name: "Word", typ: TypeUint16, storage: StoragePerRow},
		{name: "Size", typ: TypeUint32, storage: StoragePerRow},
		{name: "Offset", typ: TypeUint64, storage: StoragePerRow},
		{name: "Name", typ: TypeString, storage: StoragePerRow},
		{name: "Blob", typ: TypeData, storage: StoragePerRow},
		{name: "Version", typ: TypeUint16, storage: StorageConstant, value: UintValue(7)},
		{name: "Label", typ: TypeString, storage: StorageConstant, value: StringValue("shared")},
		{name: "CRC", typ: TypeUint32, storage: StorageZero},
	}
	for _, c := range cols {
		if err := tbl.AddColumn(c.name, c.typ, c.storage, c.value); err != nil {
			t.Fatalf("AddColumn(%s): %v", c.name, err)
		}
	}

	rows := []struct {
		name   string
		blob   []byte
		small  uint64
		word   uint64
		size   uint64
		offset uint64
	}{
		{small: 1, word: 0x1234, size: 0xDEADBEEF, offset: 0x1_0000_0000, name: "first.bin", blob: []byte{1, 2, 3}},
		{small: 255, word: 2, size: 3, offset: 4, name: "second.bin", blob: nil},
	}
	for _, r := range rows {
		row := tbl.AddRow()
		mustSetUint(t, tbl, row, "Small", r.small)
		mustSetUint(t, tbl, row, "Word", r.word)
		mustSetUint(t, tbl, row, "Size", r.size)
		mustSetUint(t, tbl, row, "Offset", r.offset)
		if err := tbl.SetText(row, "Name", r.name); err != nil {
			t.Fatalf("SetText: %v", err)
		}
		if err := tbl.SetData(row, "Blob", r.blob); err != nil {
			t.Fatalf("SetData: %v", err)
		}
	}

	return tbl
}

func mustSetUint(t *testing.T, tbl *Table, row int, name string, v uint64) {
	t.Helper()

	if err := tbl.SetUint(row, name, v); err != nil {
		t.Fatalf("SetUint(%d, %s, %d): %v", row, name, v, err)
	}
}

func TestTable_EncodeDecode(t *testing.T) {
	t.Parallel()

	image, err := buildSampleTable(t).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(image[:4]) != utfSignature {
		t.Fatalf("signature %q", image[:4])
	}

	got, err := DecodeTable(image)
	if err != nil {
		t.Fatalf("DecodeTable: %v", err)
	}
	if got.Name != "Sample" || got.RowCount() != 2 || len(got.Columns) != 9 {
		t.Fatalf("decoded %s with %d rows and %d columns", got.Name, got.RowCount(), len(got.Columns))
	}

	uints := []struct {
		name string
		row  int
		want uint64
	}{
		{name: "Small", row: 1, want: 255},
		{name: "Word", row: 0, want: 0x1234},
		{name: "Size", row: 0, want: 0xDEADBEEF},
		{name: "Offset", row: 0, want: 0x1_0000_0000},
		{name: "Version", row: 1, want: 7},
		{name: "CRC", row: 0, want: 0},
	}
	for _, tc := range uints {
		v, ok := got.Uint(tc.row, tc.name)
		if !ok || v != tc.want {
			t.Fatalf("%s[%d]=%d,%v want %d", tc.name, tc.row, v, ok, tc.want)
		}
	}

	if s, ok := got.Text(1, "Name"); !ok || s != "second.bin" {
		t.Fatalf("Name[1]=%q,%v", s, ok)
	}
	if s, ok := got.Text(0, "Label"); !ok || s != "shared" {
		t.Fatalf("Label=%q,%v", s, ok)
	}
	if b, ok := got.Data(0, "Blob"); !ok || !bytes.Equal(b, []byte{1, 2, 3}) {
		t.Fatalf("Blob[0]=%v,%v", b, ok)
	}
	if b, ok := got.Data(1, "Blob"); !ok || len(b) != 0 {
		t.Fatalf("Blob[1]=%v,%v", b, ok)
	}

	if _, ok := got.Text(0, "Size"); ok {
		t.Fatal("Text must reject integer column")
	}
	if _, ok := got.Uint(5, "Size"); ok {
		t.Fatal("Uint must reject row out of range")
	}
	if _, ok := got.Uint(0, "Missing"); ok {
		t.Fatal("Uint must reject unknown column")
	}
}

func TestTable_ReencodeUnchangedIsIdentical(t *testing.T) {
	t.Parallel()

	image, err := buildSampleTable(t).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := DecodeTable(image)
	if err != nil {
		t.Fatalf("DecodeTable: %v", err)
	}

	again, err := decoded.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(again, image) {
		t.Fatal("re-encoded table differs from source image")
	}
}

func TestTable_PatchKeepsLayout(t *testing.T) {
	t.Parallel()

	image, err := buildSampleTable(t).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := DecodeTable(image)
	if err != nil {
		t.Fatalf("DecodeTable: %v", err)
	}
	mustSetUint(t, decoded, 1, "Offset", 0xABCDEF)
	if err := decoded.SetText(0, "Name", "second.bin"); err != nil {
		t.Fatalf("SetText: %v", err)
	}

	patched, err := decoded.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if len(patched) != len(image) {
		t.Fatalf("patched table is %d bytes, want %d", len(patched), len(image))
	}

	got, err := DecodeTable(patched)
	if err != nil {
		t.Fatalf("DecodeTable: %v", err)
	}
	if v, _ := got.Uint(1, "Offset"); v != 0xABCDEF {
		t.Fatalf("Offset[1]=0x%x", v)
	}
	if s, _ := got.Text(0, "Name"); s != "second.bin" {
		t.Fatalf("Name[0]=%q", s)
	}
}

func TestTable_NewStringRelayouts(t *testing.T) {
	t.Parallel()

	image, err := buildSampleTable(t).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := DecodeTable(image)
	if err != nil {
		t.Fatalf("DecodeTable: %v", err)
	}
	if err := decoded.SetText(1, "Name", "a much longer replacement name.bin"); err != nil {
		t.Fatalf("SetText: %v", err)
	}

	out, err := decoded.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	got, err := DecodeTable(out)
	if err != nil {
		t.Fatalf("DecodeTable: %v", err)
	}
	if s, _ := got.Text(1, "Name"); s != "a much longer replacement name.bin" {
		t.Fatalf("Name[1]=%q", s)
	}
	if s, _ := got.Text(0, "Name"); s != "first.bin" {
		t.Fatalf("Name[0]=%q", s)
	}
}

func TestTable_Masked(t *testing.T) {
	t.Parallel()

	tbl := buildSampleTable(t)
	tbl.SetMasked(true)

	image, err := tbl.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(image[:4]) == utfSignature {
		t.Fatal("masked table must not expose the signature")
	}

	got, err := DecodeTable(image)
	if err != nil {
		t.Fatalf("DecodeTable: %v", err)
	}
	if !got.Masked() {
		t.Fatal("Masked must be reported")
	}
	if s, _ := got.Text(0, "Name"); s != "first.bin" {
		t.Fatalf("Name[0]=%q", s)
	}

	again, err := got.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.Equal(again, image) {
		t.Fatal("masked re-encode differs")
	}
}

func TestTable_SetErrors(t *testing.T) {
	t.Parallel()

	tbl := buildSampleTable(t)

	err := tbl.SetUint(0, "Small", 256)
	if !errors.Is(err, ErrFormat) || !errors.Is(err, ErrSizeOverflow) {
		t.Fatalf("overflow err=%v", err)
	}

	if err := tbl.SetUint(0, "Version", 7); err != nil {
		t.Fatalf("same constant value: %v", err)
	}
	if err := tbl.SetUint(0, "Version", 8); !errors.Is(err, ErrFormat) {
		t.Fatalf("constant err=%v", err)
	}
	if err := tbl.SetUint(0, "CRC", 0); err != nil {
		t.Fatalf("zero into zero column: %v", err)
	}
	if err := tbl.SetUint(0, "CRC", 1); !errors.Is(err, ErrFormat) {
		t.Fatalf("zero column err=%v", err)
	}
	if err := tbl.SetText(0, "Size", "x"); !errors.Is(err, ErrFormat) {
		t.Fatalf("type err=%v", err)
	}
	if err := tbl.SetUint(9, "Size", 1); !errors.Is(err, ErrFormat) {
		t.Fatalf("row err=%v", err)
	}
	if err := tbl.AddColumn("Late", TypeUint8, StoragePerRow, Value{}); !errors.Is(err, ErrFormat) {
		t.Fatalf("late column err=%v", err)
	}
}

func TestDecodeTable_Errors(t *testing.T) {
	t.Parallel()

	image, err := buildSampleTable(t).Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	tests := []struct {
		name string
		data []byte
	}{
		{name: "short", data: []byte("@UTF")},
		{name: "bad signature", data: append([]byte("XXXX"), image[4:]...)},
		{name: "truncated", data: image[:len(image)/2]},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if _, err := DecodeTable(tc.data); !errors.Is(err, ErrFormat) {
				t.Fatalf("err=%v, want ErrFormat", err)
			}
		})
	}
}

func TestColumnType(t *testing.T) {
	t.Parallel()

	if TypeUint16.Size() != 2 || TypeString.Size() != 4 || TypeData.Size() != 8 {
		t.Fatal("unexpected column sizes")
	}
	if TypeUint8.MaxUint() != 255 || TypeFloat32.MaxUint() != 0 {
		t.Fatal("unexpected MaxUint")
	}
	if TypeFloat64.IsInteger() || !TypeInt64.IsInteger() {
		t.Fatal("unexpected IsInteger")
	}
	if TypeUint32.String() != "u32" || ColumnType(0x20).String() != "type(0x20)" {
		t.Fatalf("unexpected String: %s %s", TypeUint32, ColumnType(0x20))
	}
}
