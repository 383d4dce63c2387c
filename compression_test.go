// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

package cpk

import (
	"bytes"
	"errors"
	"testing"

	"github.com/woozymasta/cpk/crilayla"
	"github.com/woozymasta/pathrules"
)

// policyOf compiles a compression policy from opts with defaults applied.
func policyOf(t *testing.T, opts CreateOptions) *compressPolicy {
	t.Helper()

	opts.applyDefaults()
	p, err := newCompressPolicy(opts)
	if err != nil {
		t.Fatalf("newCompressPolicy: %v", err)
	}

	return p
}

func TestCompressPolicySelects(t *testing.T) {
	t.Parallel()

	policy := policyOf(t, CreateOptions{Compress: includeRules(
		"*.txt",
		"script/",
		"/data/event/**/*.bin",
	)})

	cases := []struct {
		name string
		path string
		want bool
	}{
		{name: "extension rule", path: `text\jp\a.TXT`, want: true},
		{name: "dir-only rule", path: "data/script/a.dat", want: true},
		{name: "anchored root match", path: "data/event/ch1/a.bin", want: true},
		{name: "anchored root miss", path: "x/data/event/ch1/a.bin", want: false},
		{name: "no match", path: "movie/intro.usm", want: false},
		{name: "empty path", path: "  ", want: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if got := policy.selects(tc.path); got != tc.want {
				t.Fatalf("selects(%q) = %v, want %v", tc.path, got, tc.want)
			}
		})
	}
}

func TestCompressPolicyWindow(t *testing.T) {
	t.Parallel()

	policy := policyOf(t, CreateOptions{
		Compress:        includeRules("*.bin"),
		MinCompressSize: 100,
		MaxCompressSize: 1000,
		Layout:          crilayla.LayoutLegacy,
	})

	if policy.fits(99) || policy.fits(1001) {
		t.Fatal("sizes outside the window must not fit")
	}
	if !policy.fits(100) || !policy.fits(1000) {
		t.Fatal("window bounds are inclusive")
	}

	small := compressibleData(99)
	out, ok, err := policy.pack(small)
	if err != nil || ok || !bytes.Equal(out, small) {
		t.Fatalf("payload below window must pass through: ok=%v err=%v", ok, err)
	}

	raw := compressibleData(1000)
	packed, ok, err := policy.pack(raw)
	if err != nil || !ok {
		t.Fatalf("pack in window: ok=%v err=%v", ok, err)
	}
	decoded, err := crilayla.DecompressLayout(packed, len(raw), crilayla.LayoutLegacy)
	if err != nil {
		t.Fatalf("policy layout must be used: %v", err)
	}
	if !bytes.Equal(decoded, raw) {
		t.Fatal("round trip mismatch")
	}
}

func TestCompressPolicyNil(t *testing.T) {
	t.Parallel()

	policy := policyOf(t, CreateOptions{Compress: includeRules("  ")})
	if policy != nil {
		t.Fatal("blank rules must produce no policy")
	}
	if policy.selects("a.bin") || policy.fits(500) {
		t.Fatal("nil policy selects nothing")
	}

	raw := compressibleData(500)
	out, ok, err := policy.pack(raw)
	if err != nil || ok || !bytes.Equal(out, raw) {
		t.Fatalf("nil policy must pass payload through: ok=%v err=%v", ok, err)
	}
}

func TestCompressPolicyIncludeExcludeRules(t *testing.T) {
	t.Parallel()

	policy := policyOf(t, CreateOptions{Compress: []pathrules.Rule{
		{Action: pathrules.ActionInclude, Pattern: "event/**"},
		{Action: pathrules.ActionExclude, Pattern: "event/voice/**"},
		{Action: pathrules.ActionInclude, Pattern: "event/voice/text/**"},
	}})

	if !policy.selects("event/ch1.bin") {
		t.Fatal("event/ch1.bin must be included by rules")
	}
	if policy.selects("event/voice/a.adx") {
		t.Fatal("event/voice/a.adx must be excluded by rules")
	}
	if !policy.selects("EVENT/VOICE/text/a.txt") {
		t.Fatal("EVENT/VOICE/text/a.txt must be re-included by rules")
	}
}

func TestCompressPolicyInvalidRule(t *testing.T) {
	t.Parallel()

	opts := CreateOptions{Compress: []pathrules.Rule{
		{Action: pathrules.ActionUnknown, Pattern: "*.bin"},
	}}
	opts.applyDefaults()

	if _, err := newCompressPolicy(opts); !errors.Is(err, ErrInvalidCompressPattern) {
		t.Fatalf("expected ErrInvalidCompressPattern, got %v", err)
	}
}

func TestCompressPayload(t *testing.T) {
	t.Parallel()

	for _, layout := range []crilayla.Layout{crilayla.LayoutModern, crilayla.LayoutLegacy} {
		raw := compressibleData(8192)
		packed, ok, err := compressPayload(raw, layout)
		if err != nil {
			t.Fatalf("compressPayload: %v", err)
		}
		if !ok || len(packed) >= len(raw) {
			t.Fatalf("layout %s: repetitive data must shrink (%d >= %d)", layout, len(packed), len(raw))
		}

		decoded, err := crilayla.DecompressLayout(packed, len(raw), layout)
		if err != nil {
			t.Fatalf("DecompressLayout: %v", err)
		}
		if !bytes.Equal(decoded, raw) {
			t.Fatalf("layout %s: round trip mismatch", layout)
		}
	}

	random := randomData(2048, 5)
	out, ok, err := compressPayload(random, crilayla.LayoutModern)
	if err != nil {
		t.Fatalf("compressPayload: %v", err)
	}
	if ok || !bytes.Equal(out, random) {
		t.Fatal("incompressible data must be returned unchanged")
	}

	out, ok, err = compressPayload(nil, crilayla.LayoutModern)
	if err != nil || ok || len(out) != 0 {
		t.Fatalf("empty payload: %v %v %v", out, ok, err)
	}
}
