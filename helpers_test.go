// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

package cpk

import (
	"bytes"
	"context"
	"io"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/woozymasta/pathrules"
)

// testFile is one payload of a generated test archive.
type testFile struct {
	path string
	data []byte
}

// inputsOf returns in-memory create inputs for files.
func inputsOf(files []testFile) []Input {
	inputs := make([]Input, 0, len(files))
	for _, f := range files {
		data := f.data
		inputs = append(inputs, Input{
			Path: f.path,
			Open: func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(data)), nil
			},
			SizeHint: int64(len(data)),
		})
	}

	return inputs
}

// writeTestArchive creates an archive from files in a temp dir and returns its path.
func writeTestArchive(t testing.TB, files []testFile, opts CreateOptions) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.cpk")
	if _, err := CreateFile(context.Background(), path, inputsOf(files), opts); err != nil {
		t.Fatalf("CreateFile: %v", err)
	}

	return path
}

// readFile returns file content or fails the test.
func readFile(t testing.TB, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile(%s): %v", path, err)
	}

	return data
}

// includeRules returns include rules for patterns.
func includeRules(patterns ...string) []pathrules.Rule {
	rules := make([]pathrules.Rule, 0, len(patterns))
	for _, p := range patterns {
		rules = append(rules, pathrules.Rule{Action: pathrules.ActionInclude, Pattern: p})
	}

	return rules
}

// compressibleData returns n bytes that CRILAYLA shrinks well.
func compressibleData(n int) []byte {
	pattern := []byte("CRILAYLA test payload; ")
	out := bytes.Repeat(pattern, n/len(pattern)+1)

	return out[:n]
}

// randomData returns n pseudo-random bytes for seed.
func randomData(n int, seed uint64) []byte {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(rng.Uint32())
	}

	return out
}

// fileEntries returns file entries of an archive image.
func fileEntries(t testing.TB, image []byte) []Entry {
	t.Helper()

	entries, _, err := Parse(image)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	files := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Type == EntryFile {
			files = append(files, e)
		}
	}

	return files
}

// entryByKey returns the entry with key or nil.
func entryByKey(entries []Entry, key string) *Entry {
	for i := range entries {
		if entries[i].Key() == key {
			return &entries[i]
		}
	}

	return nil
}

// seekBuffer is an in-memory io.WriteSeeker.
type seekBuffer struct {
	data []byte
	pos  int64
}

// Write writes p at current position, growing the buffer as needed.
func (b *seekBuffer) Write(p []byte) (int, error) {
	end := b.pos + int64(len(p))
	if end > int64(len(b.data)) {
		grown := make([]byte, end)
		copy(grown, b.data)
		b.data = grown
	}

	copy(b.data[b.pos:], p)
	b.pos = end

	return len(p), nil
}

// Seek moves current position.
func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		b.pos = offset
	case io.SeekCurrent:
		b.pos += offset
	case io.SeekEnd:
		b.pos = int64(len(b.data)) + offset
	}

	return b.pos, nil
}
