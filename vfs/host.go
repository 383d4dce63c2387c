// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

package vfs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"github.com/woozymasta/cpk/internal/lockfile"
)

// swapSuffix names the scratch tree used by MaterializeSwap.
const swapSuffix = ".swap"

// BuildFromHostDirectory mirrors root on fsys into a detached tree.
// Only names are read; file content stays on the host until opened.
func BuildFromHostDirectory(fsys afero.Fs, root string) (*Directory, error) {
	if fsys == nil {
		return nil, errors.New("vfs: nil host filesystem")
	}

	info, err := fsys.Stat(root)
	if err != nil {
		return nil, hostError(root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrTypeConflict, root)
	}

	dir := NewDirectory(filepath.Base(filepath.Clean(root)))
	if err := mirrorHostDirectory(fsys, root, dir); err != nil {
		return nil, err
	}

	return dir, nil
}

// mirrorHostDirectory fills dir from hostDir recursively.
func mirrorHostDirectory(fsys afero.Fs, hostDir string, dir *Directory) error {
	infos, err := afero.ReadDir(fsys, hostDir)
	if err != nil {
		return hostError(hostDir, err)
	}

	for _, info := range infos {
		hostPath := filepath.Join(hostDir, info.Name())
		switch {
		case info.IsDir():
			child := NewDirectory(info.Name())
			if err := mirrorHostDirectory(fsys, hostPath, child); err != nil {
				return err
			}
			if err := dir.Add(child, Union); err != nil {
				return err
			}
		case info.Mode().IsRegular():
			child, err := NewHostFile(info.Name(), fsys, hostPath)
			if err != nil {
				return err
			}
			if err := dir.Add(child, Union); err != nil {
				return err
			}
		}
	}

	return nil
}

// Materialize writes d's descendants below dest on fsys.
// A destination file locked by another writer fails with ErrInUse before any
// of its bytes change.
func (d *Directory) Materialize(fsys afero.Fs, dest string) error {
	if fsys == nil {
		return errors.New("vfs: nil host filesystem")
	}
	if err := fsys.MkdirAll(dest, 0o750); err != nil {
		return fmt.Errorf("vfs: create %s: %w", dest, err)
	}

	return d.Walk(func(p string, node Node) error {
		target := filepath.Join(dest, filepath.FromSlash(p))
		if node.IsDir() {
			if err := fsys.MkdirAll(target, 0o750); err != nil {
				return fmt.Errorf("vfs: create %s: %w", target, err)
			}

			return nil
		}

		f, _ := node.(*File)
		return writeHostFile(fsys, target, f)
	})
}

// MaterializeSwap writes the tree into a scratch directory next to dest and
// renames every file into place, so readers holding old files keep them.
func (d *Directory) MaterializeSwap(fsys afero.Fs, dest string) error {
	if fsys == nil {
		return errors.New("vfs: nil host filesystem")
	}

	scratch := filepath.Clean(dest) + swapSuffix
	if err := fsys.RemoveAll(scratch); err != nil {
		return fmt.Errorf("vfs: clear scratch %s: %w", scratch, err)
	}
	defer func() { _ = fsys.RemoveAll(scratch) }()

	if err := d.Materialize(fsys, scratch); err != nil {
		return err
	}
	if err := fsys.MkdirAll(dest, 0o750); err != nil {
		return fmt.Errorf("vfs: create %s: %w", dest, err)
	}

	return d.Walk(func(p string, node Node) error {
		target := filepath.Join(dest, filepath.FromSlash(p))
		if node.IsDir() {
			return fsys.MkdirAll(target, 0o750)
		}

		from := filepath.Join(scratch, filepath.FromSlash(p))
		if err := fsys.Rename(from, target); err != nil {
			return fmt.Errorf("vfs: swap %s: %w", p, err)
		}

		return nil
	})
}

// writeHostFile writes one file, refusing destinations locked elsewhere.
func writeHostFile(fsys afero.Fs, target string, f *File) error {
	out, err := fsys.OpenFile(target, os.O_RDWR|os.O_CREATE, 0o640)
	if err != nil {
		return fmt.Errorf("vfs: open %s: %w", target, err)
	}
	defer func() { _ = out.Close() }()

	if osFile, ok := out.(*os.File); ok {
		unlock, err := lockfile.TryLock(osFile)
		if errors.Is(err, lockfile.ErrLocked) {
			return fmt.Errorf("%w: %s", ErrInUse, target)
		}
		if err != nil {
			return fmt.Errorf("vfs: lock %s: %w", target, err)
		}
		defer func() { _ = unlock() }()
	}

	src, err := f.Open()
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	if err := out.Truncate(0); err != nil {
		return fmt.Errorf("vfs: truncate %s: %w", target, err)
	}
	if _, err := out.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("vfs: seek %s: %w", target, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		return fmt.Errorf("vfs: write %s: %w", target, err)
	}

	return nil
}
