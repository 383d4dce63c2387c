// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

package cpk

import (
	"fmt"

	"github.com/woozymasta/cpk/crilayla"
	"github.com/woozymasta/pathrules"
)

// compressPolicy selects CRILAYLA candidates by path rules and a size window
// and packs them with one layout. A nil policy selects nothing.
type compressPolicy struct {
	rules  *pathrules.Matcher
	min    uint64
	max    uint64
	layout crilayla.Layout
}

// newCompressPolicy compiles the compression settings of opts, defaults applied.
// It returns nil when opts carries no usable rule.
func newCompressPolicy(opts CreateOptions) (*compressPolicy, error) {
	rules := make([]pathrules.Rule, 0, len(opts.Compress))
	for _, rule := range opts.Compress {
		if pattern := normalizePathForMatching(rule.Pattern); pattern != "" {
			rules = append(rules, pathrules.Rule{Action: rule.Action, Pattern: pattern})
		}
	}
	if len(rules) == 0 {
		return nil, nil
	}

	matcher, err := pathrules.NewMatcher(rules, opts.CompressMatcherOptions)
	if err != nil {
		return nil, fmt.Errorf("%w: compile rules: %w", ErrInvalidCompressPattern, err)
	}

	return &compressPolicy{
		rules:  matcher,
		min:    uint64(opts.MinCompressSize),
		max:    uint64(opts.MaxCompressSize),
		layout: opts.Layout,
	}, nil
}

// selects reports whether the entry path is a compression candidate.
func (p *compressPolicy) selects(path string) bool {
	if p == nil {
		return false
	}

	candidate := NormalizePath(path)
	return candidate != "" && p.rules.Included(candidate, false)
}

// fits reports whether a payload of size bytes is inside the compression window.
func (p *compressPolicy) fits(size uint64) bool {
	return p != nil && size >= p.min && size <= p.max
}

// pack compresses raw of a selected entry when its size fits the window.
// It reports whether the packed form was kept.
func (p *compressPolicy) pack(raw []byte) ([]byte, bool, error) {
	if !p.fits(uint64(len(raw))) {
		return raw, false, nil
	}

	return compressPayload(raw, p.layout)
}

// compressPayload compresses raw with layout and reports whether the result is smaller.
// Output that does not shrink is discarded and raw is returned unchanged.
func compressPayload(raw []byte, layout crilayla.Layout) ([]byte, bool, error) {
	if len(raw) == 0 {
		return raw, false, nil
	}

	packed, err := crilayla.CompressLayout(raw, layout)
	if err != nil {
		return nil, false, err
	}
	if len(packed) >= len(raw) {
		return raw, false, nil
	}

	return packed, true, nil
}
