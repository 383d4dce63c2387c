// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

package cpk

import (
	"fmt"
	"strings"

	"github.com/woozymasta/pathrules"
)

// EntryFilter selects file entries for listing and extraction.
type EntryFilter struct {
	// Prefix keeps entries under this directory or the exact file it names.
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	// Rules keep entries included by ordered path rules.
	Rules []pathrules.Rule `json:"rules,omitempty" yaml:"rules,omitempty"`
	// MatcherOptions control rule matching; zero means case-insensitive with exclude default.
	MatcherOptions pathrules.MatcherOptions `json:"matcher_options,omitzero" yaml:"matcher_options,omitzero"`
	// MinSize drops entries whose decoded size is smaller.
	MinSize uint64 `json:"min_size,omitempty" yaml:"min_size,omitempty"`
	// CompressedOnly keeps only CRILAYLA-compressed entries.
	CompressedOnly bool `json:"compressed_only,omitempty" yaml:"compressed_only,omitempty"`
}

// FilterEntries returns file entries of entries that pass every filter criterion.
// Synthesized header and content entries are always dropped.
func FilterEntries(entries []Entry, f EntryFilter) ([]Entry, error) {
	out := filterFileEntries(entries)
	out = filterEntriesByPrefix(out, f.Prefix)
	out = filterEntriesBySize(out, f.MinSize)
	if f.CompressedOnly {
		out = filterCompressedEntries(out)
	}

	opts := f.MatcherOptions
	if opts == (pathrules.MatcherOptions{}) {
		opts = pathrules.MatcherOptions{CaseInsensitive: true, DefaultAction: pathrules.ActionExclude}
	}

	return filterEntriesByRules(out, f.Rules, opts)
}

// filterFileEntries keeps EntryFile entries.
func filterFileEntries(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Type == EntryFile {
			out = append(out, e)
		}
	}

	return out
}

// filterEntriesBySize keeps entries whose decoded size is at least minSize.
func filterEntriesBySize(entries []Entry, minSize uint64) []Entry {
	if minSize == 0 {
		return entries
	}

	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.DecodedSize() >= minSize {
			out = append(out, e)
		}
	}

	return out
}

// filterCompressedEntries keeps compressed entries.
func filterCompressedEntries(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.IsCompressed() {
			out = append(out, e)
		}
	}

	return out
}

// filterEntriesByPrefix keeps entries under prefix (or exact match if it points to a file).
func filterEntriesByPrefix(entries []Entry, prefix string) []Entry {
	prefix = strings.ToLower(NormalizePath(prefix))
	if prefix == "" {
		return entries
	}

	withSlash := prefix + "/"
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		entryPath := strings.ToLower(NormalizePath(e.Path()))
		if entryPath == prefix || strings.HasPrefix(entryPath, withSlash) {
			out = append(out, e)
		}
	}

	return out
}

// filterEntriesByRules keeps entries included by rules; no rules keeps everything.
func filterEntriesByRules(entries []Entry, rules []pathrules.Rule, opts pathrules.MatcherOptions) ([]Entry, error) {
	selected := make([]pathrules.Rule, 0, len(rules))
	for _, rule := range rules {
		if pattern := normalizePathForMatching(rule.Pattern); pattern != "" {
			selected = append(selected, pathrules.Rule{Action: rule.Action, Pattern: pattern})
		}
	}
	if len(selected) == 0 {
		return entries, nil
	}

	matcher, err := pathrules.NewMatcher(selected, opts)
	if err != nil {
		return nil, fmt.Errorf("compile selection rules: %w", err)
	}

	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if matcher.Included(NormalizePath(e.Path()), false) {
			out = append(out, e)
		}
	}

	return out, nil
}
