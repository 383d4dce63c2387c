// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

package cpk

import (
	"context"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"

	"github.com/spf13/afero"
	"github.com/woozymasta/cpk/vfs"
)

// backupSuffix names the first backup generation next to the archive.
const backupSuffix = ".bak"

// Editor stages entry replacements for one archive and applies them in place on Commit.
//
// Commit moves the archive to "<archive>.bak", rebuilds from it into the
// original path and restores the backup when the rebuild fails.
type Editor struct {
	overlay *vfs.Directory
	fs      afero.Fs
	path    string
	opts    EditOptions
}

// OpenEditor creates a staged editor for the archive at path.
func OpenEditor(path string, opts EditOptions) (*Editor, error) {
	trimmedPath := strings.TrimSpace(path)
	if trimmedPath == "" {
		return nil, ErrInvalidEntryPath
	}

	opts.applyDefaults()

	return &Editor{
		path:    trimmedPath,
		opts:    opts,
		fs:      afero.NewOsFs(),
		overlay: vfs.NewDirectory(""),
	}, nil
}

// ReplaceFile stages archivePath to take its payload from hostPath.
// The host file is read at commit time.
func (e *Editor) ReplaceFile(archivePath string, hostPath string) error {
	if e == nil {
		return ErrNilReader
	}

	tree, err := OverlayFromMapping(e.fs, []Mapping{{ArchivePath: archivePath, HostPath: hostPath}})
	if err != nil {
		return err
	}

	return e.ReplaceTree(tree)
}

// ReplaceData stages archivePath to take data as its payload.
func (e *Editor) ReplaceData(archivePath string, data []byte) error {
	if e == nil {
		return ErrNilReader
	}

	return stageOverlayFile(e.overlay, archivePath, func(name string) (*vfs.File, error) {
		return vfs.NewFile(name, data)
	})
}

// ReplaceTree stages every file of tree at its path relative to tree.
// Later stages win over earlier ones for the same path.
func (e *Editor) ReplaceTree(tree *vfs.Directory) error {
	if e == nil {
		return ErrNilReader
	}
	if tree == nil {
		return nil
	}

	if err := e.overlay.Merge(tree, vfs.Union); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidMapping, err)
	}

	return nil
}

// Staged returns sorted lookup keys of staged replacements.
func (e *Editor) Staged() []string {
	if e == nil {
		return nil
	}

	keys := make(map[string]struct{})
	for p := range e.overlay.Files() {
		keys[LookupKey(p)] = struct{}{}
	}

	return slices.Sorted(maps.Keys(keys))
}

// Overlay returns the staged replacement tree.
func (e *Editor) Overlay() *vfs.Directory {
	if e == nil {
		return nil
	}

	return e.overlay
}

// Commit applies staged replacements in one rebuild transaction.
func (e *Editor) Commit(ctx context.Context) (*RebuildResult, error) {
	if e == nil {
		return nil, ErrNilReader
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if _, err := os.Stat(e.path); err != nil {
		return nil, openError(e.path, err)
	}
	if err := checkNotInUse(e.path); err != nil {
		return nil, err
	}

	backupPath := e.path + backupSuffix
	if err := prepareBackupSlot(backupPath, e.opts.BackupKeep, e.opts.CompressBackups); err != nil {
		return nil, err
	}

	if err := os.Rename(e.path, backupPath); err != nil {
		return nil, ioError(err, "move archive to backup")
	}

	res, err := e.commitFromBackup(ctx, backupPath)
	if err != nil {
		if rollbackErr := rollbackFromBackup(e.path, backupPath); rollbackErr != nil {
			return nil, fmt.Errorf("%w (rollback failed: %w)", err, rollbackErr)
		}

		return nil, err
	}

	if e.opts.BackupKeep == 0 {
		if err := removeIfExists(backupPath); err != nil {
			return nil, ioError(err, "remove backup")
		}
	}

	return res, nil
}

// commitFromBackup rebuilds the archive path from its backup.
func (e *Editor) commitFromBackup(ctx context.Context, backupPath string) (*RebuildResult, error) {
	src, size, err := openFileWithSize(backupPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = src.Close() }()

	return rebuildInto(ctx, e.path, src, size, e.overlay, e.opts.RebuildOptions, e.path)
}

// rollbackFromBackup restores backup on failed commit.
func rollbackFromBackup(path string, backupPath string) error {
	_ = os.Remove(path)

	if err := os.Rename(backupPath, path); err != nil {
		return fmt.Errorf("restore backup: %w", err)
	}

	return nil
}
