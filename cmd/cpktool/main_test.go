// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/woozymasta/cpk"
)

// runTool runs one command and returns exit code with captured output.
func runTool(t *testing.T, args ...string) (int, string, string) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)

	return code, stdout.String(), stderr.String()
}

// writeTree writes files below root.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()

	for rel, data := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
		require.NoError(t, os.WriteFile(p, []byte(data), 0o600))
	}
}

// packFixture packs a small tree and returns the archive path.
func packFixture(t *testing.T) string {
	t.Helper()

	base := t.TempDir()
	src := filepath.Join(base, "src")
	writeTree(t, src, map[string]string{
		"movie/op.usm":    "opening",
		"text/script.txt": string(bytes.Repeat([]byte("line of script text\n"), 200)),
		"root.bin":        "root",
	})

	archive := filepath.Join(base, "data.cpk")
	code, stdout, stderr := runTool(t, "pack", "-c", "--itoc", src, archive)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "3 entries")

	return archive
}

// entryText reads one decoded entry of archive.
func entryText(t *testing.T, archive string, name string) string {
	t.Helper()

	r, err := cpk.Open(archive)
	require.NoError(t, err)
	defer func() { _ = r.Close() }()

	data, err := r.ReadEntry(name)
	require.NoError(t, err)

	return string(data)
}

// listRow returns the fields of the list output line whose path is name.
func listRow(t *testing.T, out string, name string) []string {
	t.Helper()

	for line := range strings.Lines(out) {
		fields := strings.Fields(line)
		if len(fields) > 0 && fields[len(fields)-1] == name {
			return fields
		}
	}

	require.Failf(t, "entry not listed", "%s in:\n%s", name, out)
	return nil
}

func TestRunUsage(t *testing.T) {
	t.Parallel()

	code, _, stderr := runTool(t)
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, "usage: cpktool")

	code, _, stderr = runTool(t, "frobnicate")
	assert.Equal(t, 2, code)
	assert.Contains(t, stderr, `unknown command "frobnicate"`)

	code, stdout, _ := runTool(t, "help")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "commands:")

	code, _, _ = runTool(t, "list", "--no-such-flag", "x.cpk")
	assert.Equal(t, 2, code)
}

func TestRunListAndExtract(t *testing.T) {
	t.Parallel()

	archive := packFixture(t)

	code, stdout, stderr := runTool(t, "list", archive)
	require.Equal(t, 0, code, stderr)
	assert.True(t, strings.HasPrefix(stdout, "ID"), stdout)
	assert.NotContains(t, stdout, "TOC_HDR")

	movie := listRow(t, stdout, "movie/op.usm")
	assert.Equal(t, "0", movie[0], "ID")
	assert.Equal(t, []string{"7", "7"}, movie[2:4], "exact stored and extracted sizes")
	assert.Equal(t, []string{"FILE", "-"}, movie[len(movie)-3:len(movie)-1])

	script := listRow(t, stdout, "text/script.txt")
	assert.Equal(t, "2", script[0])
	assert.Equal(t, "4000", script[3])
	assert.NotEqual(t, "4000", script[2], "stored size must be the compressed size")
	assert.Equal(t, []string{"FILE", "lz"}, script[len(script)-3:len(script)-1])

	code, stdout, stderr = runTool(t, "list", "-a", archive)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "TOC_HDR")
	assert.Contains(t, stdout, "ITOC_HDR")
	assert.Equal(t, "0x00000000", listRow(t, stdout, "CPK_HDR")[0], "synthesized entries have no ID")

	code, stdout, stderr = runTool(t, "list", "-p", "movie", archive)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "movie/op.usm")
	assert.NotContains(t, stdout, "root.bin")

	out := filepath.Join(t.TempDir(), "out")
	code, _, stderr = runTool(t, "extract", "-j", "2", archive, out)
	require.Equal(t, 0, code, stderr)

	data, err := os.ReadFile(filepath.Join(out, "movie", "op.usm"))
	require.NoError(t, err)
	assert.Equal(t, "opening", string(data))

	scriptData, err := os.ReadFile(filepath.Join(out, "text", "script.txt"))
	require.NoError(t, err)
	assert.Equal(t, entryText(t, archive, "text/script.txt"), string(scriptData))

	code, _, stderr = runTool(t, "list", filepath.Join(t.TempDir(), "missing.cpk"))
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "cpktool list")
}

func TestRunReplaceAndBatch(t *testing.T) {
	t.Parallel()

	archive := packFixture(t)
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{
		"op.usm":   "patched opening",
		"root.bin": "patched root",
		"list.csv": "movie/op.usm,op.usm\nroot.bin,root.bin\nnope.bin,root.bin\n",
	})

	replaced := filepath.Join(dir, "replaced.cpk")
	code, stdout, stderr := runTool(t, "replace", "-o", replaced, archive, "movie/op.usm", filepath.Join(dir, "op.usm"))
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "1 replaced")
	assert.Equal(t, "patched opening", entryText(t, replaced, "movie/op.usm"))
	assert.Equal(t, "opening", entryText(t, archive, "movie/op.usm"))

	batched := filepath.Join(dir, "batched.cpk")
	code, stdout, stderr = runTool(t, "batch", "-o", batched, archive, filepath.Join(dir, "list.csv"))
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "skipped /nope.bin")
	assert.Contains(t, stdout, "2 replaced")
	assert.Equal(t, "patched root", entryText(t, batched, "root.bin"))

	code, _, stderr = runTool(t, "replace", archive, "movie/op.usm")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "want archive, entry and host file")
}

func TestRunBuild(t *testing.T) {
	t.Parallel()

	archive := packFixture(t)
	base := t.TempDir()
	src := filepath.Join(base, "game")
	require.NoError(t, os.MkdirAll(src, 0o750))
	require.NoError(t, os.Rename(archive, filepath.Join(src, "data.cpk")))

	mod := filepath.Join(base, "mod")
	writeTree(t, mod, map[string]string{
		"data.cpk/root.bin": "modded root",
		"notes.txt":         "loose",
	})

	out := filepath.Join(base, "out")
	code, stdout, stderr := runTool(t, "build", "-s", src, "-o", out, mod)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, stdout, "data.cpk: 1 replaced")
	assert.Contains(t, stdout, "1 archive(s), 1 loose file(s)")
	assert.Equal(t, "modded root", entryText(t, filepath.Join(out, "data.cpk"), "root.bin"))

	code, _, stderr = runTool(t, "build", "--profile", "pbo", "-s", src, "-o", out, mod)
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "known: cpk, cpk-legacy")
}
