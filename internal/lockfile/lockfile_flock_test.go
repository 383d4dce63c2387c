// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package lockfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryLock_SecondHolderFails(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "dst.cpk")
	first, err := os.Create(path)
	require.NoError(t, err)
	defer first.Close()

	unlock, err := TryLock(first)
	require.NoError(t, err)

	second, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer second.Close()

	_, err = TryLock(second)
	assert.ErrorIs(t, err, ErrLocked)

	require.NoError(t, unlock())

	unlockSecond, err := TryLock(second)
	require.NoError(t, err)
	assert.NoError(t, unlockSecond())
}

func TestTryLock_NilFile(t *testing.T) {
	t.Parallel()

	_, err := TryLock(nil)
	assert.ErrorIs(t, err, os.ErrInvalid)
}
