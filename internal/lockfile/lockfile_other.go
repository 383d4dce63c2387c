// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

//go:build !(linux || darwin || freebsd || netbsd || openbsd || dragonfly)

package lockfile

import "os"

// TryLock is a no-op on platforms without flock; destinations are never reported busy.
func TryLock(f *os.File) (Unlock, error) {
	if f == nil {
		return nil, os.ErrInvalid
	}

	return func() error { return nil }, nil
}
