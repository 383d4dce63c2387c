// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

package cpk

import (
	"fmt"
	"path"
	"strings"
)

// NormalizePath converts an archive/internal path to normalized slash-separated form.
// It trims spaces, accepts both "/" and "\", removes leading "./" and "/", and cleans "." segments.
func NormalizePath(raw string) string {
	raw = normalizePathForMatching(raw)
	raw = strings.TrimPrefix(raw, "/")
	raw = path.Clean("/" + raw)
	raw = strings.TrimPrefix(raw, "/")
	if raw == "." {
		return ""
	}

	return strings.TrimSuffix(raw, "/")
}

// LookupKey converts a user path into the case-insensitive entry key form.
// Root files map to "/name" the same way Entry.Key does.
func LookupKey(raw string) string {
	normalized := strings.ToLower(NormalizePath(raw))
	if !strings.Contains(normalized, "/") {
		return "/" + normalized
	}

	return normalized
}

// normalizePathForMatching normalizes user/input paths for matcher use.
func normalizePathForMatching(path string) string {
	path = strings.TrimSpace(path)
	path = strings.ReplaceAll(path, `\`, `/`)
	path = strings.TrimPrefix(path, "./")
	return path
}

// splitEntryPath normalizes input path and splits it into directory and file name.
func splitEntryPath(raw string) (string, string, error) {
	normalized := NormalizePath(raw)
	if normalized == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidEntryPath, raw)
	}

	dir, file := path.Split(normalized)

	return strings.TrimSuffix(dir, "/"), file, nil
}
