// SPDX-License-Identifier: MIT
// Copyright (c) 2026 WoozyMasta
// Source: github.com/woozymasta/cpk

//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package lockfile

import (
	"errors"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// TryLock takes an exclusive flock on f without blocking.
// A lock held through another open file description fails with ErrLocked.
func TryLock(f *os.File) (Unlock, error) {
	if f == nil {
		return nil, os.ErrInvalid
	}

	fd := int(f.Fd()) //nolint:gosec // file descriptors fit int
	for {
		err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, f.Name())
		}

		return nil, fmt.Errorf("flock %s: %w", f.Name(), err)
	}

	return func() error {
		return unix.Flock(fd, unix.LOCK_UN)
	}, nil
}
