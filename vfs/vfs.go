// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

/*
Package vfs implements the staging overlay tree used to collect replacement
content before an archive is rebuilt.

A tree is made of Directory and File nodes. Files are backed either by a host
path on an afero.Fs (read lazily) or by an in-memory buffer that copies share
by reference. Names are unique case-insensitively inside one directory, and a
file and a directory never share a name.

	mods := vfs.NewDirectory("")
	base, err := vfs.BuildFromHostDirectory(afero.NewOsFs(), "mods/base")
	if err != nil {
	    return err
	}
	if err := mods.Merge(base, vfs.Union); err != nil {
	    return err
	}
	if err := mods.Materialize(afero.NewOsFs(), "out"); errors.Is(err, vfs.ErrInUse) {
	    err = mods.MaterializeSwap(afero.NewOsFs(), "out")
	}
*/
package vfs

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for overlay operations.
var (
	// ErrNotFound means a path or host file does not exist.
	ErrNotFound = errors.New("vfs: not found")
	// ErrTypeConflict means a file and a directory would share a name.
	ErrTypeConflict = errors.New("vfs: file and directory share a name")
	// ErrInvalidName means a node name is empty or contains separators.
	ErrInvalidName = errors.New("vfs: invalid name")
	// ErrInUse means a materialize destination is held by another writer.
	ErrInUse = errors.New("vfs: destination is in use")
)

// MergeMode selects how non-matching source nodes are handled.
type MergeMode uint8

const (
	// ReplaceOnly overwrites existing matches and drops non-matches.
	ReplaceOnly MergeMode = iota
	// Union overwrites existing matches and inserts non-matches.
	Union
)

// String returns mode name.
func (m MergeMode) String() string {
	switch m {
	case ReplaceOnly:
		return "replace-only"
	case Union:
		return "union"
	default:
		return fmt.Sprintf("merge-mode(%d)", uint8(m))
	}
}

// Node is a File or a Directory.
type Node interface {
	// Name returns the node name.
	Name() string
	// Parent returns the containing directory or nil for roots and detached nodes.
	Parent() *Directory
	// IsDir reports whether the node is a Directory.
	IsDir() bool
	// Path returns the slash-separated path from the tree root, root name excluded.
	Path() string
	// CopyTo adds a shallow clone of the node into dst.
	CopyTo(dst *Directory, mode MergeMode) error
	// MoveTo detaches the node and adds it into dst.
	MoveTo(dst *Directory, mode MergeMode) error

	setParent(parent *Directory)
	clone() Node
}

// validName reports whether name can be a child name.
func validName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	return nil
}

// nodePath composes a path by walking parent links.
func nodePath(n Node) string {
	var parts []string
	for cur := n; cur != nil; {
		parent := cur.Parent()
		if parent == nil {
			break
		}

		parts = append(parts, cur.Name())
		cur = parent
	}

	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}

	return strings.Join(parts, "/")
}

// splitPath splits a slash or backslash separated path into clean segments.
func splitPath(p string) []string {
	p = strings.ReplaceAll(p, `\`, "/")
	raw := strings.Split(p, "/")
	out := raw[:0]
	for _, s := range raw {
		if s == "" || s == "." {
			continue
		}

		out = append(out, s)
	}

	return out
}
