// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

package modbuild

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/afero"
	"github.com/woozymasta/cpk"
	"github.com/woozymasta/cpk/vfs"
	"github.com/woozymasta/pathrules"
)

// Packer turns a staged output directory into a distributable artifact.
type Packer interface {
	// Pack packages stagedDir and returns the artifact path.
	Pack(ctx context.Context, stagedDir string) (string, error)
}

// Option configures a Builder.
type Option func(*Builder) error

// WithLogger sets the logger for build progress.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Builder) error {
		b.logger = logger
		return nil
	}
}

// WithFs sets the filesystem mods are read from and loose files are written to.
// Archives are always read and written on the host filesystem.
func WithFs(fsys afero.Fs) Option {
	return func(b *Builder) error {
		if fsys == nil {
			return errors.New("modbuild: nil filesystem")
		}
		b.fs = fsys
		return nil
	}
}

// WithPacker sets the collaborator called after staging.
func WithPacker(p Packer) Option {
	return func(b *Builder) error {
		b.packer = p
		return nil
	}
}

// Request names the inputs and output of one build.
type Request struct {
	// SourceDir is the original game data tree holding the archives.
	SourceDir string `json:"source_dir" yaml:"source_dir"`
	// OutputDir receives rebuilt archives and loose files.
	OutputDir string `json:"output_dir" yaml:"output_dir"`
	// Mods are mod roots in priority order; later mods win.
	Mods []string `json:"mods" yaml:"mods"`
}

// ArchiveResult reports one rebuilt archive.
type ArchiveResult struct {
	// Rebuild holds rebuild statistics.
	Rebuild *cpk.RebuildResult `json:"rebuild" yaml:"rebuild"`
	// Path is the archive path relative to the data root.
	Path string `json:"path" yaml:"path"`
}

// Result reports one build.
type Result struct {
	// Archives lists rebuilt archives in path order.
	Archives []ArchiveResult `json:"archives,omitempty" yaml:"archives,omitempty"`
	// Packed is the artifact path returned by the Packer.
	Packed string `json:"packed,omitempty" yaml:"packed,omitempty"`
	// Files is number of loose files written.
	Files int `json:"files" yaml:"files"`
	// Swapped reports whether loose files were written through a scratch swap.
	Swapped bool `json:"swapped,omitempty" yaml:"swapped,omitempty"`
	// Duration is end-to-end build duration.
	Duration time.Duration `json:"duration,omitempty" yaml:"duration,omitempty"`
}

// Builder stages mods and rebuilds archives according to one Profile.
type Builder struct {
	fs      afero.Fs
	logger  *slog.Logger
	packer  Packer
	matcher *pathrules.Matcher
	profile Profile
}

// NewBuilder creates a builder for profile.
func NewBuilder(profile Profile, opts ...Option) (*Builder, error) {
	profile.applyDefaults()

	matcher, err := pathrules.NewMatcher(profile.ArchiveDirs, profile.MatcherOptions)
	if err != nil {
		return nil, fmt.Errorf("modbuild: compile archive rules: %w", err)
	}

	b := &Builder{
		fs:      afero.NewOsFs(),
		profile: profile,
		matcher: matcher,
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}
	if b.logger == nil {
		b.logger = slog.New(slog.DiscardHandler)
	}

	return b, nil
}

// Profile returns the builder profile.
func (b *Builder) Profile() Profile {
	return b.profile
}

// Build stages req.Mods, rebuilds touched archives and writes the output tree.
func (b *Builder) Build(ctx context.Context, req Request) (*Result, error) {
	startedAt := time.Now()
	if req.SourceDir == "" || req.OutputDir == "" {
		return nil, errors.New("modbuild: source and output directories are required")
	}
	if len(req.Mods) == 0 {
		return nil, errors.New("modbuild: no mods to build")
	}

	staged, err := b.stage(req.Mods)
	if err != nil {
		return nil, err
	}

	res := &Result{}
	for _, dir := range b.archiveDirs(staged) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ar, err := b.rebuildArchive(ctx, req, dir)
		if err != nil {
			return nil, err
		}
		res.Archives = append(res.Archives, ar)

		if _, err := dir.Parent().Remove(dir.Name()); err != nil {
			return nil, err
		}
	}

	res.Files = len(staged.Files())
	if err := staged.Materialize(b.fs, req.OutputDir); err != nil {
		if !errors.Is(err, vfs.ErrInUse) {
			return nil, err
		}

		b.logger.Warn("output file in use, swapping files into place", "error", err)
		if err := staged.MaterializeSwap(b.fs, req.OutputDir); err != nil {
			return nil, err
		}
		res.Swapped = true
	}

	if b.packer != nil {
		packed, err := b.packer.Pack(ctx, req.OutputDir)
		if err != nil {
			return nil, fmt.Errorf("modbuild: pack %s: %w", req.OutputDir, err)
		}
		res.Packed = packed
	}

	res.Duration = time.Since(startedAt)
	b.logger.Info("build done",
		"profile", b.profile.Name,
		"archives", len(res.Archives),
		"files", res.Files,
		"duration", res.Duration)

	return res, nil
}

// stage merges mod trees into one overlay, later mods winning.
func (b *Builder) stage(mods []string) (*vfs.Directory, error) {
	staged := vfs.NewDirectory("")
	for _, mod := range mods {
		tree, err := vfs.BuildFromHostDirectory(b.fs, mod)
		if err != nil {
			return nil, fmt.Errorf("modbuild: read mod %s: %w", mod, err)
		}
		if err := staged.Merge(tree, vfs.Union); err != nil {
			return nil, fmt.Errorf("modbuild: stage mod %s: %w", mod, err)
		}

		b.logger.Debug("mod staged", "mod", mod, "files", len(tree.Files()))
	}

	return staged, nil
}

// archiveDirs returns staged directories standing for archives, outermost only.
func (b *Builder) archiveDirs(staged *vfs.Directory) []*vfs.Directory {
	var dirs []*vfs.Directory
	var prefixes []string
	_ = staged.Walk(func(p string, node vfs.Node) error {
		dir, ok := node.(*vfs.Directory)
		if !ok || !b.matcher.Included(p, true) {
			return nil
		}
		if slices.ContainsFunc(prefixes, func(prefix string) bool { return strings.HasPrefix(p, prefix) }) {
			return nil
		}

		dirs = append(dirs, dir)
		prefixes = append(prefixes, p+"/")
		return nil
	})

	return dirs
}

// rebuildArchive rebuilds the source archive named by dir into the output tree.
func (b *Builder) rebuildArchive(ctx context.Context, req Request, dir *vfs.Directory) (ArchiveResult, error) {
	rel := dir.Path()
	src := filepath.Join(req.SourceDir, filepath.FromSlash(rel))
	dst := filepath.Join(req.OutputDir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return ArchiveResult{}, fmt.Errorf("modbuild: create %s: %w", filepath.Dir(dst), err)
	}

	res, err := cpk.RebuildFile(ctx, src, dst, dir, cpk.RebuildOptions{
		Logger:   b.logger.With("archive", rel),
		Layout:   b.profile.Layout,
		Compress: b.profile.Compress,
	})
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("modbuild: rebuild %s: %w", rel, err)
	}

	return ArchiveResult{Path: rel, Rebuild: res}, nil
}
