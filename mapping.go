// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

package cpk

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"github.com/woozymasta/cpk/vfs"
)

// Mapping pairs an archive entry path with the host file replacing it.
type Mapping struct {
	// ArchivePath is the entry path inside the archive ("dir/file").
	ArchivePath string `json:"archive_path" yaml:"archive_path"`
	// HostPath is the replacement file on the host filesystem.
	HostPath string `json:"host_path" yaml:"host_path"`
}

// ParseMapping reads a two-column replacement list.
//
// Each record is "archive path, host path". Fields are tab separated when the
// first record contains a tab and comma separated otherwise. Lines starting
// with '#' and blank lines are ignored; fields may be quoted.
func ParseMapping(r io.Reader) ([]Mapping, error) {
	if r == nil {
		return nil, ErrNilReader
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, ioError(err, "read mapping")
	}

	cr := csv.NewReader(bytes.NewReader(data))
	cr.Comma = mappingDelimiter(data)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	var out []Mapping
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidMapping, err)
		}

		line, _ := cr.FieldPos(0)
		if len(record) != 2 {
			return nil, fmt.Errorf("%w: line %d has %d fields, want 2", ErrInvalidMapping, line, len(record))
		}

		m := Mapping{
			ArchivePath: strings.TrimSpace(record[0]),
			HostPath:    strings.TrimSpace(record[1]),
		}
		if NormalizePath(m.ArchivePath) == "" || m.HostPath == "" {
			return nil, fmt.Errorf("%w: line %d has an empty path", ErrInvalidMapping, line)
		}

		out = append(out, m)
	}

	return out, nil
}

// mappingDelimiter picks tab when the first record line contains one.
func mappingDelimiter(data []byte) rune {
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.Contains(sc.Text(), "\t") {
			return '\t'
		}

		break
	}

	return ','
}

// ReadMappingFile parses the mapping file at path.
// Relative host paths resolve against the directory holding the mapping file.
func ReadMappingFile(path string) ([]Mapping, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, openError(path, err)
	}
	defer func() { _ = f.Close() }()

	mappings, err := ParseMapping(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	base := filepath.Dir(path)
	for i := range mappings {
		if !filepath.IsAbs(mappings[i].HostPath) {
			mappings[i].HostPath = filepath.Join(base, filepath.FromSlash(mappings[i].HostPath))
		}
	}

	return mappings, nil
}

// OverlayFromMapping builds an overlay tree of host-backed files from mappings.
// Every host file must exist; later mappings for the same archive path win.
func OverlayFromMapping(fsys afero.Fs, mappings []Mapping) (*vfs.Directory, error) {
	if fsys == nil {
		return nil, ErrNilReader
	}

	root := vfs.NewDirectory("")
	for _, m := range mappings {
		info, err := fsys.Stat(m.HostPath)
		if err != nil {
			return nil, openError(m.HostPath, err)
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%w: host path %s is a directory", ErrInvalidMapping, m.HostPath)
		}

		err = stageOverlayFile(root, m.ArchivePath, func(name string) (*vfs.File, error) {
			return vfs.NewHostFile(name, fsys, m.HostPath)
		})
		if err != nil {
			return nil, err
		}
	}

	return root, nil
}

// stageOverlayFile places the file made by newFile at archivePath below root,
// creating intermediate directories.
func stageOverlayFile(root *vfs.Directory, archivePath string, newFile func(name string) (*vfs.File, error)) error {
	dir, name, err := splitEntryPath(archivePath)
	if err != nil {
		return err
	}

	parent := root
	if dir != "" {
		for seg := range strings.SplitSeq(dir, "/") {
			switch child := parent.Child(seg).(type) {
			case nil:
				next := vfs.NewDirectory(seg)
				if err := parent.Add(next, vfs.Union); err != nil {
					return fmt.Errorf("%w: %s: %w", ErrInvalidEntryPath, archivePath, err)
				}
				parent = next
			case *vfs.Directory:
				parent = child
			default:
				return fmt.Errorf("%w: %s: %w", ErrInvalidMapping, archivePath, vfs.ErrTypeConflict)
			}
		}
	}

	f, err := newFile(name)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidEntryPath, archivePath, err)
	}
	if err := parent.Add(f, vfs.Union); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrInvalidMapping, archivePath, err)
	}

	return nil
}
