// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

package cpk

import (
	"errors"
	"testing"
)

func TestNormalizePath(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty", in: "", want: ""},
		{name: "slash", in: "/", want: ""},
		{name: "clean", in: "movie/op/intro.usm", want: "movie/op/intro.usm"},
		{name: "windows", in: `.\movie\op\`, want: "movie/op"},
		{name: "dot segments", in: "./a/../b//c.bin", want: "b/c.bin"},
		{name: "spaces", in: "  data/x.bin  ", want: "data/x.bin"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := NormalizePath(tc.in); got != tc.want {
				t.Fatalf("NormalizePath(%q)=%q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestLookupKey(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		in   string
		want string
	}{
		{in: "File.BIN", want: "/file.bin"},
		{in: "/File.BIN", want: "/file.bin"},
		{in: `Movie\Intro.USM`, want: "movie/intro.usm"},
	}

	for _, tc := range testCases {
		if got := LookupKey(tc.in); got != tc.want {
			t.Fatalf("LookupKey(%q)=%q, want %q", tc.in, got, tc.want)
		}
	}

	e := Entry{DirName: "Movie", FileName: "Intro.USM"}
	if e.Key() != LookupKey(e.Path()) {
		t.Fatalf("Entry.Key %q differs from LookupKey %q", e.Key(), LookupKey(e.Path()))
	}
	root := Entry{FileName: "A.bin"}
	if root.Key() != LookupKey(root.Path()) {
		t.Fatalf("root Entry.Key %q differs from LookupKey %q", root.Key(), LookupKey(root.Path()))
	}
}

func TestSplitEntryPath(t *testing.T) {
	t.Parallel()

	dir, file, err := splitEntryPath(`a\b\c.bin`)
	if err != nil || dir != "a/b" || file != "c.bin" {
		t.Fatalf("splitEntryPath=%q,%q,%v", dir, file, err)
	}

	dir, file, err = splitEntryPath("root.bin")
	if err != nil || dir != "" || file != "root.bin" {
		t.Fatalf("splitEntryPath(root)=%q,%q,%v", dir, file, err)
	}

	if _, _, err := splitEntryPath(" / "); !errors.Is(err, ErrInvalidEntryPath) {
		t.Fatalf("err=%v, want ErrInvalidEntryPath", err)
	}
}
