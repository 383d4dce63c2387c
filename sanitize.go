// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

package cpk

import (
	"fmt"
	"hash/fnv"
	"path"
	"strconv"
	"strings"
	"unicode"
)

// maxSanitizedSegmentLen limits one path segment to common filesystem-safe length.
const maxSanitizedSegmentLen = 240

// reservedDeviceNames are Windows device names that cannot be used as file bases.
var reservedDeviceNames = map[string]struct{}{
	"aux": {}, "con": {}, "nul": {}, "prn": {}, "clock$": {},
	"com1": {}, "com2": {}, "com3": {}, "com4": {}, "com5": {}, "com6": {}, "com7": {}, "com8": {}, "com9": {},
	"lpt1": {}, "lpt2": {}, "lpt3": {}, "lpt4": {}, "lpt5": {}, "lpt6": {}, "lpt7": {}, "lpt8": {}, "lpt9": {},
}

// SanitizePath rewrites one archive path to a deterministic filesystem-safe form.
func SanitizePath(pathValue string) (string, error) {
	normalizedPath := NormalizePath(pathValue)
	if normalizedPath == "" {
		return "", nil
	}

	sanitized := sanitizeRelativePath(normalizedPath)
	if _, err := normalizeExtractEntryPath(sanitized); err != nil {
		return "", err
	}

	return sanitized, nil
}

// sanitizeEntryPaths returns filesystem-safe output paths for entries.
// Paths that collide after sanitizing, case ignored, get "~N" suffixes in entry order.
func sanitizeEntryPaths(entries []Entry) ([]string, error) {
	out := make([]string, len(entries))
	used := make(map[string]struct{}, len(entries))
	nextSuffix := make(map[string]int)

	for i := range entries {
		raw := strings.ReplaceAll(entries[i].Path(), `\`, `/`)
		sanitized, err := makeSanitizedPathUnique(sanitizeRelativePath(raw), used, nextSuffix)
		if err != nil {
			return nil, fmt.Errorf("sanitize path %s: %w", entries[i].Path(), err)
		}

		out[i] = sanitized
	}

	return out, nil
}

// sanitizeRelativePath sanitizes each segment of a slash-separated path.
// Traversal segments are neutralized instead of rejected.
func sanitizeRelativePath(relativePath string) string {
	parts := strings.Split(relativePath, "/")
	sanitized := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" || part == "." {
			continue
		}

		sanitized = append(sanitized, sanitizePathSegment(part))
	}
	if len(sanitized) == 0 {
		return "_"
	}

	return strings.Join(sanitized, "/")
}

// sanitizePathSegment rewrites one segment for broad filesystem compatibility.
func sanitizePathSegment(segment string) string {
	var b strings.Builder
	b.Grow(len(segment))
	for _, r := range segment {
		if isUnsafePathRune(r) {
			b.WriteRune('_')
			continue
		}

		b.WriteRune(r)
	}

	sanitized := strings.TrimRight(b.String(), ". ")
	if sanitized == "" {
		return "_"
	}

	base := strings.ToLower(sanitized)
	if dot := strings.IndexByte(base, '.'); dot >= 0 {
		base = base[:dot]
	}
	if _, reserved := reservedDeviceNames[base]; reserved {
		sanitized = "_" + sanitized
	}

	return shortenSegmentDeterministic(sanitized, maxSanitizedSegmentLen)
}

// isUnsafePathRune reports whether r cannot appear in a portable file name.
func isUnsafePathRune(r rune) bool {
	// U+FFFD shows up when names in a legacy code page are read as UTF-8.
	if unicode.IsControl(r) || unicode.In(r, unicode.Cf) || r == '�' {
		return true
	}

	return strings.ContainsRune(`<>:"/\|?*`, r)
}

// makeSanitizedPathUnique resolves collisions by adding deterministic numeric suffix.
func makeSanitizedPathUnique(pathValue string, used map[string]struct{}, nextSuffix map[string]int) (string, error) {
	key := strings.ToLower(pathValue)
	if _, exists := used[key]; !exists {
		used[key] = struct{}{}
		return pathValue, nil
	}

	dir := path.Dir(pathValue)
	name := path.Base(pathValue)
	startIdx := max(nextSuffix[key], 2)

	for idx := startIdx; idx < 1000000; idx++ {
		candidate := withNumericSuffix(name, idx)
		if dir != "." {
			candidate = dir + "/" + candidate
		}

		candidateKey := strings.ToLower(candidate)
		if _, exists := used[candidateKey]; exists {
			continue
		}

		used[candidateKey] = struct{}{}
		nextSuffix[key] = idx + 1
		return candidate, nil
	}

	return "", ErrInvalidExtractPath
}

// withNumericSuffix appends "~N" before extension and preserves max segment length.
func withNumericSuffix(name string, n int) string {
	ext := path.Ext(name)
	base := strings.TrimSuffix(name, ext)
	suffix := "~" + strconv.Itoa(n)
	allowedBaseLen := max(maxSanitizedSegmentLen-len(ext)-len(suffix), 1)

	return shortenSegmentDeterministic(base, allowedBaseLen) + suffix + ext
}

// shortenSegmentDeterministic shortens long segment while preserving deterministic identity suffix.
func shortenSegmentDeterministic(value string, maxLen int) string {
	if len(value) <= maxLen {
		return value
	}
	if maxLen <= 10 {
		return value[:maxLen]
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(value))
	hashPart := fmt.Sprintf("~%08x", h.Sum32())

	return value[:maxLen-len(hashPart)] + hashPart
}
