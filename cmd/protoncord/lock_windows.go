//go:build windows

package main

import (
	"os"

	"golang.org/x/sys/windows"
)

// lockFile locks the first byte of f with LockFileEx, failing immediately
// when another daemon holds it.
func lockFile(f *os.File) error {
	return windows.LockFileEx(
		windows.Handle(f.Fd()),
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY,
		0, 1, 0,
		new(windows.Overlapped),
	)
}

// unlockFile releases the byte range locked by lockFile.
func unlockFile(f *os.File) error {
	return windows.UnlockFileEx(windows.Handle(f.Fd()), 0, 1, 0, new(windows.Overlapped))
}
