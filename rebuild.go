// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

package cpk

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/spf13/afero"
	"github.com/woozymasta/cpk/internal/lockfile"
	"github.com/woozymasta/cpk/vfs"
)

// Rebuild rewrites the archive read from src into dst in one linear pass.
//
// Entries are written in source offset order. Files named in overlay take
// their payload from it and every other entry is copied verbatim. Entries are
// separated by zero padding up to DefaultAlign, the last one excepted. The
// content region never starts before its recorded offset and the first file
// starts right at it. Section tables are re-emitted at the end with the new
// offsets and sizes.
//
// A failed rebuild leaves dst with partial output that must be discarded.
func Rebuild(
	ctx context.Context,
	dst io.WriteSeeker,
	src io.ReaderAt,
	srcSize int64,
	overlay *vfs.Directory,
	opts RebuildOptions,
) (*RebuildResult, error) {
	return rebuild(ctx, dst, src, srcSize, overlay, opts, "")
}

// RebuildFile rebuilds srcPath into dstPath.
//
// The destination is locked for the whole pass and a destination held by
// another writer fails with ErrInUse before it is modified. Partial output is
// removed on failure. An empty dstPath or one naming the source file rebuilds
// in place through an Editor.
func RebuildFile(ctx context.Context, srcPath string, dstPath string, overlay *vfs.Directory, opts RebuildOptions) (*RebuildResult, error) {
	if dstPath == "" || samePath(srcPath, dstPath) {
		ed, err := OpenEditor(srcPath, EditOptions{RebuildOptions: opts})
		if err != nil {
			return nil, err
		}
		if err := ed.ReplaceTree(overlay); err != nil {
			return nil, err
		}

		return ed.Commit(ctx)
	}

	src, size, err := openFileWithSize(srcPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = src.Close() }()

	return rebuildInto(ctx, dstPath, src, size, overlay, opts, srcPath)
}

// ReplaceEntry rebuilds srcPath into dstPath with one entry taken from hostPath.
// A missing host file fails with ErrNotFound; an entry absent from the archive
// is reported in RebuildResult.Skipped.
func ReplaceEntry(
	ctx context.Context,
	srcPath string,
	dstPath string,
	entryPath string,
	hostPath string,
	opts RebuildOptions,
) (*RebuildResult, error) {
	overlay, err := OverlayFromMapping(afero.NewOsFs(), []Mapping{{ArchivePath: entryPath, HostPath: hostPath}})
	if err != nil {
		return nil, err
	}

	return RebuildFile(ctx, srcPath, dstPath, overlay, opts)
}

// ReplaceBatch rebuilds srcPath into dstPath with entries listed in a mapping file.
func ReplaceBatch(ctx context.Context, srcPath string, dstPath string, mappingPath string, opts RebuildOptions) (*RebuildResult, error) {
	mappings, err := ReadMappingFile(mappingPath)
	if err != nil {
		return nil, err
	}

	overlay, err := OverlayFromMapping(afero.NewOsFs(), mappings)
	if err != nil {
		return nil, err
	}

	return RebuildFile(ctx, srcPath, dstPath, overlay, opts)
}

// rebuildInto rebuilds src into a locked dstPath, removing it on failure.
func rebuildInto(
	ctx context.Context,
	dstPath string,
	src io.ReaderAt,
	size int64,
	overlay *vfs.Directory,
	opts RebuildOptions,
	archive string,
) (*RebuildResult, error) {
	dst, unlock, err := openLockedDestination(dstPath)
	if err != nil {
		return nil, err
	}

	res, err := rebuild(ctx, dst, src, size, overlay, opts, archive)
	if err == nil {
		if syncErr := dst.Sync(); syncErr != nil {
			err = ioError(syncErr, "sync %s", dstPath)
		}
	}

	_ = unlock()
	closeErr := dst.Close()
	if err == nil && closeErr != nil {
		err = ioError(closeErr, "close %s", dstPath)
	}
	if err != nil {
		_ = os.Remove(dstPath)
		return nil, err
	}

	return res, nil
}

// openLockedDestination opens path for writing under an exclusive lock and truncates it.
func openLockedDestination(path string) (*os.File, lockfile.Unlock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, nil, openError(path, err)
	}

	unlock, err := lockfile.TryLock(f)
	if err != nil {
		_ = f.Close()
		if errors.Is(err, lockfile.ErrLocked) {
			return nil, nil, fmt.Errorf("%w: %s", ErrInUse, path)
		}

		return nil, nil, ioError(err, "lock %s", path)
	}

	if err := f.Truncate(0); err != nil {
		_ = unlock()
		_ = f.Close()
		return nil, nil, ioError(err, "truncate %s", path)
	}

	return f, unlock, nil
}

// checkNotInUse fails with ErrInUse when another writer holds path locked.
// A missing path is not in use.
func checkNotInUse(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return openError(path, err)
	}
	defer func() { _ = f.Close() }()

	unlock, err := lockfile.TryLock(f)
	if errors.Is(err, lockfile.ErrLocked) {
		return fmt.Errorf("%w: %s", ErrInUse, path)
	}
	if err != nil {
		return ioError(err, "lock %s", path)
	}

	return unlock()
}

// samePath reports whether a and b name the same file.
func samePath(a string, b string) bool {
	ai, errA := os.Stat(a)
	bi, errB := os.Stat(b)
	if errA == nil && errB == nil {
		return os.SameFile(ai, bi)
	}

	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)

	return errA == nil && errB == nil && absA == absB
}

// rebuild is the shared single pass behind Rebuild, RebuildFile and Editor.Commit.
func rebuild(
	ctx context.Context,
	dst io.WriteSeeker,
	src io.ReaderAt,
	srcSize int64,
	overlay *vfs.Directory,
	opts RebuildOptions,
	archive string,
) (*RebuildResult, error) {
	startedAt := time.Now()

	if dst == nil {
		return nil, ErrNilWriter
	}
	if src == nil {
		return nil, ErrNilReader
	}
	if ctx == nil {
		ctx = context.Background()
	}

	opts.applyDefaults()

	entries, meta, err := ParseReaderAt(src, srcSize)
	if err != nil {
		return nil, err
	}

	targets := overlayTargets(overlay)
	matched := make(map[string]struct{}, len(targets))

	if _, err := dst.Seek(0, io.SeekStart); err != nil {
		return nil, ioError(err, "seek destination")
	}

	w := bufio.NewWriterSize(dst, copyBufferSize)
	copyBuf, releaseCopyBuffer := acquireCopyBuffer()
	defer releaseCopyBuffer()

	out := meta.Clone()
	idOnly := meta.indexSection() == SectionITOC
	res := &RebuildResult{}
	var pos uint64
	for i := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		e := &entries[i]
		var replaced, compressed bool
		switch e.Type {
		case EntryContent:
			if pos < meta.ContentOffset {
				if err := writeZeros(w, int64(meta.ContentOffset-pos), copyBuf); err != nil { //nolint:gosec // bounded by source size
					return nil, ioError(err, "pad to content")
				}
				pos = meta.ContentOffset
			}

			e.FileOffset = pos
			out.ContentOffset = pos
		case EntryHeader:
			// Placeholder; tables are written once every offset is known.
			if err := writeZeros(w, int64(e.FileSize), copyBuf); err != nil { //nolint:gosec // bounded by source size
				return nil, ioError(err, "reserve %s", e.Section)
			}

			e.FileOffset = pos
			out.SetSectionOffset(e.Section, pos)
			pos += e.FileSize
		case EntryFile:
			srcOff := e.FileOffset
			e.FileOffset = pos
			key := e.Key()
			if f, ok := targets[key]; ok {
				matched[key] = struct{}{}
				replaced = true

				compressed, err = writeReplacement(w, e, f, opts, copyBuf)
				if err != nil {
					return nil, entryError("replace", archive, e, err)
				}

				res.Replaced++
				if compressed {
					res.Compressed++
				}
			} else if err := copySourcePayload(w, src, srcOff, e, copyBuf); err != nil {
				return nil, entryError("copy", archive, e, err)
			}

			pos += e.FileSize
		}

		if opts.OnEntryDone != nil {
			opts.OnEntryDone(RebuildProgress{
				Key:         e.Key(),
				Type:        e.Type,
				FileOffset:  e.FileOffset,
				FileSize:    e.FileSize,
				ExtractSize: e.ExtractSize,
				Replaced:    replaced,
				Compressed:  compressed,
			})
		}
		if replaced {
			opts.Logger.Debug("entry replaced",
				"key", e.Key(),
				"offset", e.FileOffset,
				"size", e.FileSize,
				"compressed", compressed)
		}

		// The content marker is zero length; the first file starts right at it.
		if i < len(entries)-1 && e.Type != EntryContent {
			next := alignOffset(pos, DefaultAlign)
			if idOnly && e.Type == EntryFile {
				// ITOC-only offsets are implied by sizes padded to the header alignment.
				next = e.FileOffset + alignOffset(e.FileSize, meta.fileAlign())
			}
			if err := writeZeros(w, int64(next-pos), copyBuf); err != nil { //nolint:gosec // padding is below the alignment
				return nil, ioError(err, "write padding")
			}
			pos = next
		}
	}

	if err := w.Flush(); err != nil {
		return nil, ioError(err, "flush payloads")
	}

	sections, err := Emit(entries, out)
	if err != nil {
		return nil, err
	}
	if err := writeSectionsSeeker(dst, sections); err != nil {
		return nil, err
	}
	if _, err := dst.Seek(int64(pos), io.SeekStart); err != nil { //nolint:gosec // bounded by written data
		return nil, ioError(err, "seek to archive end")
	}

	for key := range targets {
		if _, ok := matched[key]; !ok {
			res.Skipped = append(res.Skipped, key)
		}
	}
	slices.Sort(res.Skipped)

	res.Entries = len(entries)
	res.Written = int64(pos) //nolint:gosec // bounded by written data
	res.Duration = time.Since(startedAt)

	for _, key := range res.Skipped {
		opts.Logger.Warn("replacement target not in archive", "key", key)
	}
	opts.Logger.Info("archive rebuilt",
		"entries", res.Entries,
		"replaced", res.Replaced,
		"compressed", res.Compressed,
		"skipped", len(res.Skipped),
		"size", res.Written,
		"duration", res.Duration)

	return res, nil
}

// overlayTargets maps entry lookup keys to overlay files.
func overlayTargets(overlay *vfs.Directory) map[string]*vfs.File {
	if overlay == nil {
		return nil
	}

	files := overlay.Files()
	targets := make(map[string]*vfs.File, len(files))
	for p, f := range files {
		targets[LookupKey(p)] = f
	}

	return targets
}

// copySourcePayload copies stored bytes of e at srcOff from src unchanged.
func copySourcePayload(dst io.Writer, src io.ReaderAt, srcOff uint64, e *Entry, copyBuf []byte) error {
	if e.FileSize > math.MaxInt64 {
		return ErrSizeOverflow
	}

	size := int64(e.FileSize)
	sr := io.NewSectionReader(src, int64(srcOff), size) //nolint:gosec // bounded by parse validation
	written, err := copyPayloadBounded(dst, sr, size, copyBuf)
	if err != nil {
		return ioError(err, "copy payload")
	}
	if written != size {
		return ioError(io.ErrUnexpectedEOF, "copy payload: short read (%d/%d)", written, size)
	}

	return nil
}

// writeReplacement writes overlay content for e and updates its sizes.
// Content is recompressed only when enabled and the original payload was compressed.
func writeReplacement(dst io.Writer, e *Entry, f *vfs.File, opts RebuildOptions, copyBuf []byte) (bool, error) {
	rc, err := f.Open()
	if err != nil {
		if errors.Is(err, vfs.ErrNotFound) {
			return false, fmt.Errorf("%w: replacement %s: %w", ErrNotFound, f.Path(), err)
		}

		return false, ioError(err, "open replacement %s", f.Path())
	}
	defer func() { _ = rc.Close() }()

	if opts.Compress && e.IsCompressed() {
		raw, err := readPayloadBounded(rc, widthLimit(e.ExtractWidth), 0, copyBuf)
		if err != nil {
			return false, replacementError(err)
		}

		payload, ok, err := compressPayload(raw, opts.Layout)
		if err != nil {
			return false, fmt.Errorf("compress replacement: %w", err)
		}
		if _, err := dst.Write(payload); err != nil {
			return false, ioError(err, "write replacement")
		}

		e.FileSize = uint64(len(payload))
		e.ExtractSize = uint64(len(raw))

		return ok, nil
	}

	n, err := copyPayloadBounded(dst, rc, widthLimit(e.SizeWidth), copyBuf)
	if err != nil {
		return false, replacementError(err)
	}

	e.FileSize = uint64(n) //nolint:gosec // copy count is non-negative
	if e.HasExtractSize {
		e.ExtractSize = e.FileSize
	}

	return false, nil
}

// replacementError maps replacement stream failures onto the error taxonomy.
func replacementError(err error) error {
	if errors.Is(err, ErrSizeOverflow) {
		return fmt.Errorf("%w: replacement does not fit its size column: %w", ErrFormat, err)
	}

	return ioError(err, "read replacement")
}

// widthLimit returns the largest byte count a size column of typ can hold.
func widthLimit(typ ColumnType) int64 {
	limit := typ.MaxUint()
	if limit == 0 || limit > math.MaxInt64 {
		return math.MaxInt64
	}

	return int64(limit)
}
