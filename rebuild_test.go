// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

package cpk

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"testing"

	"github.com/woozymasta/cpk/internal/lockfile"
	"github.com/woozymasta/cpk/vfs"
)

// rebuildImage rebuilds image with overlay into memory.
func rebuildImage(t *testing.T, image []byte, overlay *vfs.Directory, opts RebuildOptions) ([]byte, *RebuildResult) {
	t.Helper()

	var out seekBuffer
	res, err := Rebuild(context.Background(), &out, bytes.NewReader(image), int64(len(image)), overlay, opts)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}

	return out.data, res
}

// overlayOf builds an in-memory overlay from archive path to content.
func overlayOf(t testing.TB, files map[string][]byte) *vfs.Directory {
	t.Helper()

	root := vfs.NewDirectory("")
	for p, data := range files {
		err := stageOverlayFile(root, p, func(name string) (*vfs.File, error) {
			return vfs.NewFile(name, data)
		})
		if err != nil {
			t.Fatalf("stage %s: %v", p, err)
		}
	}

	return root
}

// assertPadded checks that every entry starts at the aligned end of the previous one.
func assertPadded(t *testing.T, image []byte) {
	t.Helper()

	entries, _, err := Parse(image)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	for i := 1; i < len(entries); i++ {
		prev, cur := entries[i-1], entries[i]
		want := alignOffset(prev.FileOffset+prev.FileSize, DefaultAlign)
		if cur.FileOffset != want {
			t.Fatalf("entry %s at 0x%x, want 0x%x after %s", cur.Key(), cur.FileOffset, want, prev.Key())
		}
	}
}

func TestRebuild_NoChangesIsIdentical(t *testing.T) {
	t.Parallel()

	files := []testFile{
		{path: "a.bin", data: []byte("root payload")},
		{path: "data/b.txt", data: compressibleData(6000)},
		{path: "data/sub/c.bin", data: randomData(3000, 1)},
	}

	tests := []struct {
		name string
		opts CreateOptions
	}{
		{name: "plain"},
		{name: "compressed", opts: CreateOptions{Compress: includeRules("*.txt")}},
		{name: "itoc etoc", opts: CreateOptions{ITOC: true, ETOC: true}},
		{name: "masked", opts: CreateOptions{Mask: true, Compress: includeRules("*.txt")}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			image := readFile(t, writeTestArchive(t, files, tc.opts))
			out, res := rebuildImage(t, image, nil, RebuildOptions{})
			if !bytes.Equal(out, image) {
				t.Fatalf("rebuild changed archive: %d bytes, want %d", len(out), len(image))
			}
			if res.Replaced != 0 || len(res.Skipped) != 0 {
				t.Fatalf("unexpected result: %+v", res)
			}
			if res.Written != int64(len(image)) {
				t.Fatalf("Written=%d, want %d", res.Written, len(image))
			}
		})
	}
}

func TestRebuild_PadsBetweenEntriesOnly(t *testing.T) {
	t.Parallel()

	image := readFile(t, writeTestArchive(t, []testFile{
		{path: "a.bin", data: make([]byte, 100)},
		{path: "b.bin", data: make([]byte, 4096)},
		{path: "c.bin", data: make([]byte, 50)},
	}, CreateOptions{}))

	_, meta, err := Parse(image)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	out, res := rebuildImage(t, image, nil, RebuildOptions{})
	want := int64(meta.ContentOffset) + 0x800 + 0x1000 + 50
	if int64(len(out)) != want || res.Written != want {
		t.Fatalf("output size %d (Written %d), want %d", len(out), res.Written, want)
	}

	files := fileEntries(t, out)
	offsets := make([]uint64, 0, len(files))
	for _, e := range files {
		offsets = append(offsets, e.FileOffset-meta.ContentOffset)
	}
	if !slices.Equal(offsets, []uint64{0, 0x800, 0x1800}) {
		t.Fatalf("relative offsets %x", offsets)
	}
}

func TestRebuild_FirstFileAtContentOffset(t *testing.T) {
	t.Parallel()

	payloads := map[string][]byte{"a.bin": []byte("first"), "b.bin": []byte("second")}
	image := readFile(t, writeTestArchive(t, []testFile{
		{path: "a.bin", data: payloads["a.bin"]},
		{path: "b.bin", data: payloads["b.bin"]},
	}, CreateOptions{Align: 0x820}))

	_, meta, err := Parse(image)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if meta.ContentOffset%DefaultAlign == 0 {
		t.Fatalf("content offset 0x%x must not sit on a 0x%x boundary", meta.ContentOffset, DefaultAlign)
	}

	out, _ := rebuildImage(t, image, nil, RebuildOptions{})
	_, outMeta, err := Parse(out)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if outMeta.ContentOffset != meta.ContentOffset {
		t.Fatalf("content offset 0x%x, want 0x%x", outMeta.ContentOffset, meta.ContentOffset)
	}

	files := fileEntries(t, out)
	if files[0].FileOffset != outMeta.ContentOffset {
		t.Fatalf("first file at 0x%x, want content offset 0x%x", files[0].FileOffset, outMeta.ContentOffset)
	}
	if files[1].FileOffset != alignOffset(files[0].FileOffset+files[0].FileSize, DefaultAlign) {
		t.Fatalf("second file at 0x%x", files[1].FileOffset)
	}

	for name, want := range payloads {
		if got := imageEntry(t, out, name); !bytes.Equal(got, want) {
			t.Fatalf("%s=%q, want %q", name, got, want)
		}
	}
}

func TestRebuild_GrowsRawEntry(t *testing.T) {
	t.Parallel()

	image := readFile(t, writeTestArchive(t, []testFile{
		{path: "dir/a.bin", data: bytes.Repeat([]byte{1}, 200)},
		{path: "dir/b.bin", data: bytes.Repeat([]byte{2}, 300)},
	}, CreateOptions{}))

	replacement := bytes.Repeat([]byte{9}, 5000)
	out, res := rebuildImage(t, image, overlayOf(t, map[string][]byte{"dir/a.bin": replacement}), RebuildOptions{Compress: true})
	if res.Replaced != 1 || res.Compressed != 0 {
		t.Fatalf("Replaced=%d Compressed=%d", res.Replaced, res.Compressed)
	}

	files := fileEntries(t, out)
	a := entryByKey(files, "dir/a.bin")
	if a == nil {
		t.Fatal("dir/a.bin missing")
	}
	if a.FileSize != 5000 || a.ExtractSize != 5000 {
		t.Fatalf("sizes %d/%d, want 5000/5000", a.FileSize, a.ExtractSize)
	}

	r, err := NewReaderFromReaderAt(bytes.NewReader(out), int64(len(out)))
	if err != nil {
		t.Fatalf("NewReaderFromReaderAt: %v", err)
	}
	got, err := r.ReadEntry("dir/a.bin")
	if err != nil {
		t.Fatalf("ReadEntry: %v", err)
	}
	if !bytes.Equal(got, replacement) {
		t.Fatal("replacement payload mismatch")
	}

	got, err = r.ReadEntry("dir/b.bin")
	if err != nil {
		t.Fatalf("ReadEntry: %v", err)
	}
	if !bytes.Equal(got, bytes.Repeat([]byte{2}, 300)) {
		t.Fatal("untouched payload mismatch")
	}

	assertPadded(t, out)
}

func TestRebuild_RecompressesCompressedEntry(t *testing.T) {
	t.Parallel()

	image := readFile(t, writeTestArchive(t, []testFile{
		{path: "text/a.txt", data: compressibleData(4096)},
		{path: "text/b.txt", data: compressibleData(2048)},
	}, CreateOptions{Compress: includeRules("*.txt")}))

	before := entryByKey(fileEntries(t, image), "text/a.txt")
	if before == nil || !before.IsCompressed() {
		t.Fatal("text/a.txt must be stored compressed")
	}

	replacement := bytes.Repeat([]byte("replacement line\n"), 1000)
	out, res := rebuildImage(t, image, overlayOf(t, map[string][]byte{"TEXT/A.TXT": replacement}), RebuildOptions{Compress: true})
	if res.Replaced != 1 || res.Compressed != 1 {
		t.Fatalf("Replaced=%d Compressed=%d", res.Replaced, res.Compressed)
	}

	after := entryByKey(fileEntries(t, out), "text/a.txt")
	if after == nil || !after.IsCompressed() {
		t.Fatal("replacement must be stored compressed")
	}
	if after.ExtractSize != uint64(len(replacement)) {
		t.Fatalf("ExtractSize=%d, want %d", after.ExtractSize, len(replacement))
	}

	r, err := NewReaderFromReaderAt(bytes.NewReader(out), int64(len(out)))
	if err != nil {
		t.Fatalf("NewReaderFromReaderAt: %v", err)
	}
	got, err := r.ReadEntry("text/a.txt")
	if err != nil {
		t.Fatalf("ReadEntry: %v", err)
	}
	if !bytes.Equal(got, replacement) {
		t.Fatal("decoded replacement mismatch")
	}

	assertPadded(t, out)
}

func TestRebuild_IncompressibleReplacementStoredRaw(t *testing.T) {
	t.Parallel()

	image := readFile(t, writeTestArchive(t, []testFile{
		{path: "a.txt", data: compressibleData(4096)},
	}, CreateOptions{Compress: includeRules("*.txt")}))

	replacement := randomData(4096, 42)
	out, res := rebuildImage(t, image, overlayOf(t, map[string][]byte{"a.txt": replacement}), RebuildOptions{Compress: true})
	if res.Compressed != 0 {
		t.Fatalf("Compressed=%d, want 0", res.Compressed)
	}

	e := entryByKey(fileEntries(t, out), "/a.txt")
	if e == nil {
		t.Fatal("a.txt missing")
	}
	if e.IsCompressed() || e.FileSize != 4096 || e.ExtractSize != 4096 {
		t.Fatalf("entry %+v must be raw 4096 bytes", e)
	}
}

func TestRebuild_WithoutCompressStoresRaw(t *testing.T) {
	t.Parallel()

	image := readFile(t, writeTestArchive(t, []testFile{
		{path: "a.txt", data: compressibleData(4096)},
	}, CreateOptions{Compress: includeRules("*.txt")}))

	replacement := compressibleData(5000)
	out, _ := rebuildImage(t, image, overlayOf(t, map[string][]byte{"a.txt": replacement}), RebuildOptions{})

	e := entryByKey(fileEntries(t, out), "/a.txt")
	if e == nil || e.IsCompressed() || e.FileSize != 5000 {
		t.Fatalf("entry %+v must be raw 5000 bytes", e)
	}
}

func TestRebuild_PaddingHoldsAfterReplacements(t *testing.T) {
	t.Parallel()

	image := readFile(t, writeTestArchive(t, []testFile{
		{path: "a/1.bin", data: make([]byte, 10)},
		{path: "a/2.bin", data: make([]byte, 0x800)},
		{path: "b/3.bin", data: make([]byte, 0x801)},
		{path: "b/4.txt", data: compressibleData(3000)},
		{path: "c.bin", data: make([]byte, 1)},
	}, CreateOptions{ITOC: true, ETOC: true, Compress: includeRules("*.txt")}))
	assertPadded(t, image)

	out, res := rebuildImage(t, image, overlayOf(t, map[string][]byte{
		"a/1.bin": make([]byte, 0x1234),
		"b/3.bin": nil,
		"b/4.txt": compressibleData(9000),
		"c.bin":   make([]byte, 0x800),
	}), RebuildOptions{Compress: true})
	if res.Replaced != 4 {
		t.Fatalf("Replaced=%d, want 4", res.Replaced)
	}

	assertPadded(t, out)
}

func TestRebuild_ReportsSkippedTargets(t *testing.T) {
	t.Parallel()

	image := readFile(t, writeTestArchive(t, []testFile{
		{path: "dir/a.bin", data: []byte("a")},
	}, CreateOptions{}))

	_, res := rebuildImage(t, image, overlayOf(t, map[string][]byte{
		"dir/a.bin":     []byte("new"),
		"nope.bin":      []byte("x"),
		"missing/x.bin": []byte("y"),
	}), RebuildOptions{})

	if !slices.Equal(res.Skipped, []string{"/nope.bin", "missing/x.bin"}) {
		t.Fatalf("Skipped=%v", res.Skipped)
	}
	if res.Replaced != 1 {
		t.Fatalf("Replaced=%d, want 1", res.Replaced)
	}
}

func TestRebuild_ProgressCallback(t *testing.T) {
	t.Parallel()

	image := readFile(t, writeTestArchive(t, []testFile{
		{path: "a.bin", data: []byte("a")},
		{path: "b.bin", data: []byte("b")},
	}, CreateOptions{}))

	var events []RebuildProgress
	_, res := rebuildImage(t, image, overlayOf(t, map[string][]byte{"b.bin": []byte("bb")}), RebuildOptions{
		OnEntryDone: func(p RebuildProgress) {
			events = append(events, p)
		},
	})

	if len(events) != res.Entries {
		t.Fatalf("events=%d, entries=%d", len(events), res.Entries)
	}

	var replaced []string
	for _, ev := range events {
		if ev.Replaced {
			replaced = append(replaced, ev.Key)
		}
	}
	if !slices.Equal(replaced, []string{"/b.bin"}) {
		t.Fatalf("replaced events %v", replaced)
	}
}

func TestRebuild_CanceledContext(t *testing.T) {
	t.Parallel()

	image := readFile(t, writeTestArchive(t, []testFile{{path: "a.bin", data: []byte("a")}}, CreateOptions{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out seekBuffer
	_, err := Rebuild(ctx, &out, bytes.NewReader(image), int64(len(image)), nil, RebuildOptions{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, want context.Canceled", err)
	}
}

func TestRebuild_BadSource(t *testing.T) {
	t.Parallel()

	src := bytes.Repeat([]byte{0xAA}, 64)
	var out seekBuffer
	_, err := Rebuild(context.Background(), &out, bytes.NewReader(src), int64(len(src)), nil, RebuildOptions{})
	if !errors.Is(err, ErrFormat) {
		t.Fatalf("err=%v, want ErrFormat", err)
	}
}

func TestWriteReplacement_WidthOverflow(t *testing.T) {
	t.Parallel()

	f, err := vfs.NewFile("big.bin", make([]byte, 300))
	if err != nil {
		t.Fatalf("NewFile: %v", err)
	}

	e := &Entry{FileName: "big.bin", Type: EntryFile, SizeWidth: TypeUint8, FileSize: 10}
	_, err = writeReplacement(&bytes.Buffer{}, e, f, RebuildOptions{}, make([]byte, 64))
	if !errors.Is(err, ErrFormat) {
		t.Fatalf("err=%v, want ErrFormat", err)
	}
}

func TestReplaceEntry_File(t *testing.T) {
	t.Parallel()

	src := writeTestArchive(t, []testFile{
		{path: "dir/a.bin", data: []byte("old")},
		{path: "dir/b.bin", data: []byte("keep")},
	}, CreateOptions{})
	srcImage := readFile(t, src)

	dir := t.TempDir()
	host := filepath.Join(dir, "new.bin")
	if err := os.WriteFile(host, []byte("brand new"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	dst := filepath.Join(dir, "out.cpk")
	res, err := ReplaceEntry(context.Background(), src, dst, "Dir\\A.bin", host, RebuildOptions{})
	if err != nil {
		t.Fatalf("ReplaceEntry: %v", err)
	}
	if res.Replaced != 1 {
		t.Fatalf("Replaced=%d, want 1", res.Replaced)
	}

	if !bytes.Equal(readFile(t, src), srcImage) {
		t.Fatal("source archive must stay unchanged")
	}

	r, err := Open(dst)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = r.Close() }()

	got, err := r.ReadEntry("dir/a.bin")
	if err != nil {
		t.Fatalf("ReadEntry: %v", err)
	}
	if string(got) != "brand new" {
		t.Fatalf("got %q", got)
	}
}

func TestReplaceEntry_MissingHostFile(t *testing.T) {
	t.Parallel()

	src := writeTestArchive(t, []testFile{{path: "a.bin", data: []byte("a")}}, CreateOptions{})
	dst := filepath.Join(t.TempDir(), "out.cpk")

	_, err := ReplaceEntry(context.Background(), src, dst, "a.bin", filepath.Join(t.TempDir(), "absent.bin"), RebuildOptions{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
	if _, statErr := os.Stat(dst); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatalf("destination must not exist: %v", statErr)
	}
}

func TestReplaceBatch(t *testing.T) {
	t.Parallel()

	src := writeTestArchive(t, []testFile{
		{path: "a.bin", data: []byte("a")},
		{path: "dir/b.bin", data: []byte("b")},
	}, CreateOptions{})

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.new"), []byte("AAA"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.new"), []byte("BBBB"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	mapping := filepath.Join(dir, "list.csv")
	content := "# replacements\na.bin,a.new\ndir/b.bin, b.new\nabsent.bin,a.new\n"
	if err := os.WriteFile(mapping, []byte(content), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	dst := filepath.Join(dir, "out.cpk")
	res, err := ReplaceBatch(context.Background(), src, dst, mapping, RebuildOptions{})
	if err != nil {
		t.Fatalf("ReplaceBatch: %v", err)
	}
	if res.Replaced != 2 || !slices.Equal(res.Skipped, []string{"/absent.bin"}) {
		t.Fatalf("unexpected result %+v", res)
	}

	r, err := Open(dst)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = r.Close() }()

	for name, want := range map[string]string{"a.bin": "AAA", "dir/b.bin": "BBBB"} {
		got, err := r.ReadEntry(name)
		if err != nil {
			t.Fatalf("ReadEntry(%s): %v", name, err)
		}
		if string(got) != want {
			t.Fatalf("%s=%q, want %q", name, got, want)
		}
	}
}

func TestRebuildFile_InPlace(t *testing.T) {
	t.Parallel()

	path := writeTestArchive(t, []testFile{{path: "a.bin", data: []byte("old")}}, CreateOptions{})

	res, err := RebuildFile(context.Background(), path, "", overlayOf(t, map[string][]byte{"a.bin": []byte("new")}), RebuildOptions{})
	if err != nil {
		t.Fatalf("RebuildFile: %v", err)
	}
	if res.Replaced != 1 {
		t.Fatalf("Replaced=%d, want 1", res.Replaced)
	}

	if _, err := os.Stat(BackupPath(path, 0)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("in-place rebuild must not leave a backup: %v", err)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = r.Close() }()

	got, err := r.ReadEntry("a.bin")
	if err != nil {
		t.Fatalf("ReadEntry: %v", err)
	}
	if string(got) != "new" {
		t.Fatalf("got %q", got)
	}
}

func TestRebuildFile_LockedDestination(t *testing.T) {
	t.Parallel()
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		t.Skip("flock based locking only")
	}

	src := writeTestArchive(t, []testFile{{path: "a.bin", data: []byte("a")}}, CreateOptions{})
	dst := filepath.Join(t.TempDir(), "busy.cpk")
	if err := os.WriteFile(dst, []byte("held by game"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	holder, err := os.OpenFile(dst, os.O_RDWR, 0)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer func() { _ = holder.Close() }()

	unlock, err := lockfile.TryLock(holder)
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	defer func() { _ = unlock() }()

	_, err = RebuildFile(context.Background(), src, dst, nil, RebuildOptions{})
	if !errors.Is(err, ErrInUse) {
		t.Fatalf("err=%v, want ErrInUse", err)
	}

	if got := readFile(t, dst); string(got) != "held by game" {
		t.Fatalf("destination changed: %q", got)
	}
}
