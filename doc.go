// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

/*
Package cpk reads, creates, extracts and rebuilds CRI CPK archives.

A CPK archive is a set of @UTF section tables (CPK header, TOC and the
optional ITOC, ETOC and GTOC) plus a content region of file payloads, some of
them CRILAYLA-compressed. The package models the archive as one offset-sorted
list of entries: file payloads, one synthesized header entry per section and a
CONTENT_OFFSET marker. Rebuilding walks that list once, copies untouched
payloads verbatim, substitutes replacements from a vfs overlay and re-emits
the tables with the new offsets and sizes.

Rebuild rules (summary):
  - entries keep their source order; every entry except the last is padded
    with zeros to a 0x800 boundary;
  - the content region never starts before its recorded offset;
  - replacement targets absent from the archive are reported, not added;
  - replacements are recompressed only when enabled and the original payload
    was compressed, and only kept compressed when that shrinks them;
  - table slots never shrink, so a rebuilt archive keeps its header layout.

# Reading

Open an archive and list or read entries:

	r, err := cpk.Open("data.cpk")
	if err != nil {
	    return err
	}
	defer r.Close()
	for _, e := range r.Files() {
	    data, _ := r.ReadEntry(e.Path())
	    // use data
	}

For metadata-only scans use ListEntries; it also returns the synthesized
header and content entries.

# Extracting

	err := r.Extract(ctx, "out", cpk.ExtractOptions{
	    Rules: []pathrules.Rule{{Action: pathrules.ActionInclude, Pattern: "*.usm"}},
	})

Output names are sanitized for the host filesystem unless RawNames is set.

# Replacing entries

Replace one entry, writing a new archive:

	res, err := cpk.ReplaceEntry(ctx, "data.cpk", "data_new.cpk", "movie/op.usm", "op.usm", cpk.RebuildOptions{})

Replace many entries listed in a mapping file ("archive path<TAB>host path"
per line, or comma separated):

	res, err := cpk.ReplaceBatch(ctx, "data.cpk", "data_new.cpk", "patch.tsv", cpk.RebuildOptions{Compress: true})

Rebuild from an overlay tree, for example a mod directory mirrored with vfs:

	overlay, err := vfs.BuildFromHostDirectory(afero.NewOsFs(), "mod/data")
	if err != nil {
	    return err
	}
	res, err := cpk.RebuildFile(ctx, "data.cpk", "out/data.cpk", overlay, cpk.RebuildOptions{})

A destination held by another writer fails with ErrInUse before it is touched.

# In-place edits

	ed, err := cpk.OpenEditor("data.cpk", cpk.EditOptions{BackupKeep: 3, CompressBackups: true})
	if err != nil {
	    return err
	}
	_ = ed.ReplaceFile("script/main.bin", "build/main.bin")
	res, err := ed.Commit(ctx)

Commit renames the archive to "data.cpk.bak", rebuilds into the original path
and rolls back on failure. Older generations rotate to ".bak.N", optionally
zstd-compressed; RestoreBackup brings one back.

# Creating

	inputs, err := cpk.InputsFromTree(tree)
	if err != nil {
	    return err
	}
	res, err := cpk.CreateFile(ctx, "new.cpk", inputs, cpk.CreateOptions{
	    Compress: []pathrules.Rule{{Action: pathrules.ActionInclude, Pattern: "*.bin"}},
	    ITOC:     true,
	})

# Errors

Failures wrap one of ErrFormat, ErrDataCorrupt, ErrNotFound, ErrIO or
ErrInUse; test with errors.Is. Entry-level failures are *EntryError values
carrying the archive and entry path.
*/
package cpk
