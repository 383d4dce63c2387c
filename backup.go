// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

package cpk

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
)

// zstdSuffix marks compressed backup generations.
const zstdSuffix = ".zst"

// BackupPath returns the path of backup generation n for archivePath.
// Generation 0 is "<archive>.bak"; later ones are "<archive>.bak.N".
func BackupPath(archivePath string, n int) string {
	if n <= 0 {
		return archivePath + backupSuffix
	}

	return generationPath(archivePath+backupSuffix, n)
}

// RestoreBackup copies backup generation n over archivePath.
// Compressed generations are decoded; the backup itself is kept.
func RestoreBackup(archivePath string, n int) error {
	from := BackupPath(archivePath, n)
	decode := false
	if _, err := os.Stat(from); errors.Is(err, os.ErrNotExist) && n > 0 {
		from += zstdSuffix
		decode = true
	}

	src, err := os.Open(from)
	if err != nil {
		return openError(from, err)
	}
	defer func() { _ = src.Close() }()

	var r io.Reader = src
	if decode {
		dec, err := zstd.NewReader(src)
		if err != nil {
			return fmt.Errorf("%w: open zstd backup %s: %w", ErrDataCorrupt, from, err)
		}
		defer dec.Close()
		r = dec
	}

	tmp := archivePath + ".restore"
	if err := writeFileFrom(tmp, r); err != nil {
		_ = os.Remove(tmp)
		return err
	}

	if err := checkNotInUse(archivePath); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, archivePath); err != nil {
		_ = os.Remove(tmp)
		return ioError(err, "restore %s", archivePath)
	}

	return nil
}

// prepareBackupSlot rotates existing backup generations before a new commit.
// keep counts generations including the plain ".bak"; rotated generations are
// zstd-compressed when compress is set.
func prepareBackupSlot(backupPath string, keep int, compress bool) error {
	if keep <= 1 {
		return removeIfExists(backupPath)
	}

	if err := removeGeneration(backupPath, keep-1); err != nil {
		return err
	}

	for i := keep - 2; i >= 1; i-- {
		if err := renameGeneration(backupPath, i, i+1); err != nil {
			return err
		}
	}

	if _, err := os.Stat(backupPath); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	first := generationPath(backupPath, 1)
	if !compress {
		return renameIfExists(backupPath, first)
	}

	if err := compressFile(backupPath, first+zstdSuffix); err != nil {
		return err
	}

	return removeIfExists(backupPath)
}

// generationPath returns the plain path of rotated generation n.
func generationPath(backupPath string, n int) string {
	return fmt.Sprintf("%s.%d", backupPath, n)
}

// removeGeneration removes both plain and compressed forms of generation n.
func removeGeneration(backupPath string, n int) error {
	p := generationPath(backupPath, n)
	if err := removeIfExists(p); err != nil {
		return err
	}

	return removeIfExists(p + zstdSuffix)
}

// renameGeneration moves generation from to slot to, whichever form exists.
func renameGeneration(backupPath string, from int, to int) error {
	src := generationPath(backupPath, from)
	dst := generationPath(backupPath, to)
	if err := renameIfExists(src, dst); err != nil {
		return err
	}

	return renameIfExists(src+zstdSuffix, dst+zstdSuffix)
}

// compressFile writes a zstd copy of src to dst.
func compressFile(src string, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return openError(src, err)
	}
	defer func() { _ = in.Close() }()

	tmp := dst + ".tmp"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return ioError(err, "create %s", tmp)
	}

	enc, err := zstd.NewWriter(out, zstd.WithEncoderConcurrency(1))
	if err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("create zstd encoder: %w", err)
	}

	_, copyErr := io.Copy(enc, in)
	encErr := enc.Close()
	syncErr := out.Sync()
	closeErr := out.Close()
	if err := errors.Join(copyErr, encErr, syncErr, closeErr); err != nil {
		_ = os.Remove(tmp)
		return ioError(err, "compress backup %s", src)
	}

	if err := os.Rename(tmp, dst); err != nil {
		_ = os.Remove(tmp)
		return ioError(err, "rename %s", tmp)
	}

	return nil
}

// writeFileFrom writes r to path and syncs it.
func writeFileFrom(path string, r io.Reader) error {
	out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return ioError(err, "create %s", path)
	}

	_, copyErr := io.Copy(out, r)
	syncErr := out.Sync()
	closeErr := out.Close()
	if err := errors.Join(copyErr, syncErr, closeErr); err != nil {
		return ioError(err, "write %s", path)
	}

	return nil
}

// renameIfExists renames source to destination when source exists.
func renameIfExists(from string, to string) error {
	_, err := os.Stat(from)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return ioError(err, "stat %s", from)
	}

	if err := removeIfExists(to); err != nil {
		return err
	}

	if err := os.Rename(from, to); err != nil {
		return ioError(err, "rename %s to %s", from, to)
	}

	return nil
}

// removeIfExists removes file when present.
func removeIfExists(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) || err == nil {
		return nil
	}

	return ioError(err, "remove %s", path)
}
