// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

package vfs

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/spf13/afero"
	"github.com/woozymasta/lzss"
)

// buffer is in-memory file content shared by clones.
type buffer struct {
	data []byte
	// size is decoded length; differs from len(data) when packed.
	size int
	// packed reports LZSS-packed data.
	packed bool
}

// bytes returns decoded buffer content.
func (b *buffer) bytes() ([]byte, error) {
	if !b.packed {
		return b.data, nil
	}

	var out bytes.Buffer
	out.Grow(b.size)
	if _, err := lzss.DecompressToWriter(&out, bytes.NewReader(b.data), b.size, nil); err != nil {
		return nil, fmt.Errorf("unpack buffer: %w", err)
	}

	return out.Bytes(), nil
}

// File is a leaf node backed by a host path or an in-memory buffer.
type File struct {
	// parent is a non-owning back-reference.
	parent   *Directory
	fs       afero.Fs
	buf      *buffer
	name     string
	hostPath string
}

// NewFile returns a file holding data; data is referenced, not copied.
func NewFile(name string, data []byte) (*File, error) {
	if err := validName(name); err != nil {
		return nil, err
	}

	return &File{name: name, buf: &buffer{data: data, size: len(data)}}, nil
}

// NewPackedFile returns a file holding data LZSS-packed in memory.
// Data that does not shrink is kept as-is.
func NewPackedFile(name string, data []byte) (*File, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return &File{name: name, buf: &buffer{data: data}}, nil
	}

	packed, err := lzss.Compress(data, lzss.DefaultCompressOptions())
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", name, err)
	}
	if len(packed) >= len(data) {
		return &File{name: name, buf: &buffer{data: data, size: len(data)}}, nil
	}

	return &File{name: name, buf: &buffer{data: packed, size: len(data), packed: true}}, nil
}

// NewHostFile returns a file backed by hostPath on fsys; content is read lazily.
func NewHostFile(name string, fsys afero.Fs, hostPath string) (*File, error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	if fsys == nil {
		return nil, errors.New("vfs: nil host filesystem")
	}

	return &File{name: name, fs: fsys, hostPath: hostPath}, nil
}

// Name returns file name.
func (f *File) Name() string { return f.name }

// Parent returns containing directory.
func (f *File) Parent() *Directory { return f.parent }

// IsDir reports false.
func (f *File) IsDir() bool { return false }

// Path returns path from the tree root.
func (f *File) Path() string { return nodePath(f) }

// setParent updates the parent link.
func (f *File) setParent(parent *Directory) { f.parent = parent }

// HostPath returns host backing when present.
func (f *File) HostPath() (afero.Fs, string, bool) {
	if f.fs == nil {
		return nil, "", false
	}

	return f.fs, f.hostPath, true
}

// IsPacked reports whether content is held LZSS-packed in memory.
func (f *File) IsPacked() bool {
	return f.buf != nil && f.buf.packed
}

// Open returns a reader over file content.
// A missing host file fails with ErrNotFound.
func (f *File) Open() (io.ReadCloser, error) {
	if f.fs != nil {
		hf, err := f.fs.Open(f.hostPath)
		if err != nil {
			return nil, hostError(f.hostPath, err)
		}

		return hf, nil
	}

	data, err := f.bufferBytes()
	if err != nil {
		return nil, err
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

// ReadAll returns full file content.
func (f *File) ReadAll() ([]byte, error) {
	if f.fs != nil {
		data, err := afero.ReadFile(f.fs, f.hostPath)
		if err != nil {
			return nil, hostError(f.hostPath, err)
		}

		return data, nil
	}

	data, err := f.bufferBytes()
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(data))
	copy(out, data)

	return out, nil
}

// Size returns content length in bytes.
func (f *File) Size() (int64, error) {
	if f.fs != nil {
		info, err := f.fs.Stat(f.hostPath)
		if err != nil {
			return 0, hostError(f.hostPath, err)
		}

		return info.Size(), nil
	}
	if f.buf == nil {
		return 0, nil
	}

	return int64(f.buf.size), nil
}

// SetData replaces content with an owned in-memory buffer; data is referenced.
// Clones made earlier keep their previous content.
func (f *File) SetData(data []byte) {
	f.fs, f.hostPath = nil, ""
	f.buf = &buffer{data: data, size: len(data)}
}

// bufferBytes returns in-memory content.
func (f *File) bufferBytes() ([]byte, error) {
	if f.buf == nil {
		return []byte{}, nil
	}

	return f.buf.bytes()
}

// assign takes content backing from src, keeping identity and parent of f.
func (f *File) assign(src *File) {
	f.fs = src.fs
	f.hostPath = src.hostPath
	f.buf = src.buf
}

// clone returns a detached shallow copy sharing content backing.
func (f *File) clone() Node {
	return &File{name: f.name, fs: f.fs, hostPath: f.hostPath, buf: f.buf}
}

// CopyTo adds a shallow clone into dst.
func (f *File) CopyTo(dst *Directory, mode MergeMode) error {
	return dst.Add(f.clone(), mode)
}

// MoveTo detaches f and adds it into dst.
// When dst already holds the name, content moves into the existing file.
func (f *File) MoveTo(dst *Directory, mode MergeMode) error {
	return moveNode(f, dst, mode)
}

// hostError maps host file errors onto package sentinels.
func hostError(path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: host file %s: %w", ErrNotFound, path, err)
	}

	return fmt.Errorf("vfs: host file %s: %w", path, err)
}
