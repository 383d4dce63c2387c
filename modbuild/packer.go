// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

package modbuild

import (
	"context"
	"fmt"

	"github.com/spf13/afero"
	"github.com/woozymasta/cpk"
	"github.com/woozymasta/cpk/vfs"
)

// ArchivePacker packs the staged output into one new CPK archive.
type ArchivePacker struct {
	// Fs is the filesystem the staged tree is read from; nil means the host.
	Fs afero.Fs
	// Output is the archive path to create.
	Output string
	// Options configure archive creation.
	Options cpk.CreateOptions
}

// Pack creates Output from every file below stagedDir.
func (p ArchivePacker) Pack(ctx context.Context, stagedDir string) (string, error) {
	fsys := p.Fs
	if fsys == nil {
		fsys = afero.NewOsFs()
	}

	tree, err := vfs.BuildFromHostDirectory(fsys, stagedDir)
	if err != nil {
		return "", err
	}

	inputs, err := cpk.InputsFromTree(tree)
	if err != nil {
		return "", err
	}

	if _, err := cpk.CreateFile(ctx, p.Output, inputs, p.Options); err != nil {
		return "", fmt.Errorf("create %s: %w", p.Output, err)
	}

	return p.Output, nil
}
