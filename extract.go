// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

package cpk

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"golang.org/x/sync/errgroup"
)

// extractWorkItem stores one selected entry with prepared output relative paths.
type extractWorkItem struct {
	relPath string
	relDir  string
	entry   Entry
}

// Extract writes selected file entries below dstDir, decoding compressed payloads
// unless opts.Raw is set. Work runs on MaxWorkers goroutines and the first
// failure cancels the rest.
func (r *Reader) Extract(ctx context.Context, dstDir string, opts ExtractOptions) error {
	if err := r.checkOpen(); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}

	opts.applyDefaults()

	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	entries := opts.Entries
	if entries == nil {
		entries = r.Files()
	}

	entries, err := filterEntriesByRules(entries, opts.Rules, opts.RulesMatcherOptions)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	paths, err := extractPaths(entries, opts.RawNames)
	if err != nil {
		return err
	}

	dstRootAbs, err := filepath.Abs(dstDir)
	if err != nil {
		return fmt.Errorf("resolve output dir: %w", err)
	}
	if err := os.MkdirAll(dstRootAbs, 0o750); err != nil {
		return ioError(err, "create output dir")
	}

	workItems, err := prepareExtractWorkItems(entries, paths)
	if err != nil {
		return err
	}
	if err := prepareExtractDirs(dstRootAbs, workItems); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, task := range workItems {
		if gctx.Err() != nil {
			break
		}

		g.Go(func() error {
			return r.extractPreparedEntry(gctx, dstRootAbs, task, opts)
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	return ctx.Err()
}

// ExtractEntry writes one entry by name to w and returns bytes written.
func (r *Reader) ExtractEntry(name string, w io.Writer, raw bool) (int64, error) {
	if w == nil {
		return 0, ErrNilWriter
	}
	if err := r.checkOpen(); err != nil {
		return 0, err
	}

	e := r.findEntryByName(name)
	if e == nil {
		return 0, fmt.Errorf("%w: entry %s", ErrNotFound, name)
	}

	data, err := r.readEntryData(e, raw)
	if err != nil {
		return 0, err
	}

	n, err := w.Write(data)
	if err != nil {
		return int64(n), entryError("extract", r.path, e, ioError(err, "write"))
	}

	return int64(n), nil
}

// extractPaths returns output paths for entries, sanitized unless raw is set.
func extractPaths(entries []Entry, raw bool) ([]string, error) {
	if !raw {
		return sanitizeEntryPaths(entries)
	}

	paths := make([]string, len(entries))
	for i := range entries {
		paths[i] = entries[i].Path()
	}

	return paths, nil
}

// prepareExtractWorkItems validates output paths and pairs them with entries.
func prepareExtractWorkItems(entries []Entry, paths []string) ([]extractWorkItem, error) {
	workItems := make([]extractWorkItem, 0, len(entries))
	for i := range entries {
		normalizedPath, err := normalizeExtractEntryPath(paths[i])
		if err != nil {
			return nil, fmt.Errorf("%w: entry %s", err, entries[i].Key())
		}

		relPath := filepath.FromSlash(normalizedPath)
		relDir := filepath.Dir(relPath)
		if relDir == "." {
			relDir = ""
		}

		workItems = append(workItems, extractWorkItem{
			entry:   entries[i],
			relPath: relPath,
			relDir:  relDir,
		})
	}

	return workItems, nil
}

// prepareExtractDirs creates all unique parent directories needed by work items.
func prepareExtractDirs(dstRootAbs string, workItems []extractWorkItem) error {
	seen := make(map[string]struct{}, len(workItems))
	for _, task := range workItems {
		if task.relDir == "" {
			continue
		}
		if _, ok := seen[task.relDir]; ok {
			continue
		}
		seen[task.relDir] = struct{}{}

		dirPath := filepath.Join(dstRootAbs, task.relDir)
		if err := os.MkdirAll(dirPath, 0o750); err != nil {
			return ioError(err, "create output directory %s", dirPath)
		}
	}

	return nil
}

// extractPreparedEntry writes one prepared work item to destination root.
func (r *Reader) extractPreparedEntry(ctx context.Context, dstRootAbs string, task extractWorkItem, opts ExtractOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := r.readEntryData(&task.entry, opts.Raw)
	if err != nil {
		return err
	}

	outPath := filepath.Join(dstRootAbs, task.relPath)
	file, err := openExtractFile(outPath, opts.FileMode)
	if err != nil {
		return entryError("extract", r.path, &task.entry, ioError(err, "open %s", outPath))
	}

	written, writeErr := file.Write(data)
	closeErr := file.Close()
	if writeErr != nil {
		return entryError("extract", r.path, &task.entry, ioError(writeErr, "write %s", outPath))
	}
	if closeErr != nil {
		return entryError("extract", r.path, &task.entry, ioError(closeErr, "close %s", outPath))
	}

	if opts.OnEntryDone != nil {
		opts.OnEntryDone(task.entry, int64(written), outPath)
	}

	return nil
}

// openExtractFile opens output path according to selected extract file mode.
func openExtractFile(path string, mode ExtractFileMode) (*os.File, error) {
	switch mode {
	case ExtractFileModeAuto:
		file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil || !os.IsExist(err) {
			return file, err
		}

		return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	case ExtractFileModeTruncate:
		return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	case ExtractFileModeCreateOnly:
		return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	default:
		return nil, fmt.Errorf("unknown extract file mode %q", mode)
	}
}

// normalizeExtractEntryPath normalizes entry path and rejects absolute/traversal inputs.
func normalizeExtractEntryPath(entryPath string) (string, error) {
	raw := strings.TrimSpace(entryPath)
	if raw == "" || strings.ContainsRune(raw, 0) {
		return "", ErrInvalidExtractPath
	}
	if strings.HasPrefix(raw, `/`) || strings.HasPrefix(raw, `\`) {
		return "", ErrInvalidExtractPath
	}

	raw = strings.ReplaceAll(raw, `\`, `/`)
	if hasWindowsAbsDrivePrefix(raw) {
		return "", ErrInvalidExtractPath
	}

	parts := strings.Split(raw, `/`)
	cleanParts := make([]string, 0, len(parts))
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			return "", ErrInvalidExtractPath
		default:
			cleanParts = append(cleanParts, part)
		}
	}
	if len(cleanParts) == 0 {
		return "", ErrInvalidExtractPath
	}

	return strings.Join(cleanParts, `/`), nil
}

// hasWindowsAbsDrivePrefix reports whether path starts with drive-root prefix like C:/.
func hasWindowsAbsDrivePrefix(path string) bool {
	if len(path) < 3 {
		return false
	}

	c := path[0] | 0x20

	return c >= 'a' && c <= 'z' && path[1] == ':' && path[2] == '/'
}
