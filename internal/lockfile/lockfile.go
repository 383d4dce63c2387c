// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

// Package lockfile takes non-blocking exclusive advisory locks on open files.
package lockfile

import "errors"

// ErrLocked means another holder already owns the lock.
var ErrLocked = errors.New("file is locked by another holder")

// Unlock releases a lock taken by TryLock.
type Unlock func() error
