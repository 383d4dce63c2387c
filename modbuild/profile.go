// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

// Package modbuild stages mod directories over a game data tree and rebuilds
// every archive they touch.
//
// A mod mirrors the game layout. A directory whose path matches a profile's
// archive rules (for example "movie.cpk/") stands for the archive of that
// name: its files replace entries of the original archive in the source tree.
// Everything else is copied to the output as loose files.
package modbuild

import (
	"github.com/woozymasta/cpk/crilayla"
	"github.com/woozymasta/pathrules"
)

// Builtin profile keys.
const (
	// KeyCPK builds archives with the modern CRILAYLA layout.
	KeyCPK = "cpk"
	// KeyCPKLegacy builds archives with the legacy CRILAYLA layout.
	KeyCPKLegacy = "cpk-legacy"
)

// Profile describes how one game family lays out archives.
type Profile struct {
	// Name identifies the profile in logs.
	Name string `json:"name" yaml:"name"`
	// ArchiveDirs select staged directories that stand for archives.
	ArchiveDirs []pathrules.Rule `json:"archive_dirs" yaml:"archive_dirs"`
	// MatcherOptions control archive rule matching.
	MatcherOptions pathrules.MatcherOptions `json:"matcher_options,omitzero" yaml:"matcher_options,omitzero"`
	// Layout selects the CRILAYLA layout for recompressed replacements.
	Layout crilayla.Layout `json:"layout,omitempty" yaml:"layout,omitempty"`
	// Compress recompresses replacements of compressed entries.
	Compress bool `json:"compress,omitempty" yaml:"compress,omitempty"`
}

// defaultArchiveDirs treats every "*.cpk" directory as an archive.
func defaultArchiveDirs() []pathrules.Rule {
	return []pathrules.Rule{{Action: pathrules.ActionInclude, Pattern: "*.cpk"}}
}

// CPKProfile returns the profile for archives using the modern layout.
func CPKProfile() Profile {
	return Profile{
		Name:        KeyCPK,
		ArchiveDirs: defaultArchiveDirs(),
		Layout:      crilayla.LayoutModern,
		Compress:    true,
	}
}

// LegacyCPKProfile returns the profile for archives using the legacy layout.
func LegacyCPKProfile() Profile {
	return Profile{
		Name:        KeyCPKLegacy,
		ArchiveDirs: defaultArchiveDirs(),
		Layout:      crilayla.LayoutLegacy,
		Compress:    true,
	}
}

// applyDefaults fills zero-valued profile fields.
func (p *Profile) applyDefaults() {
	if len(p.ArchiveDirs) == 0 {
		p.ArchiveDirs = defaultArchiveDirs()
	}

	if p.MatcherOptions == (pathrules.MatcherOptions{}) {
		p.MatcherOptions = pathrules.MatcherOptions{
			CaseInsensitive: true,
			DefaultAction:   pathrules.ActionExclude,
		}
	}
}
