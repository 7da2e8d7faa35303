//go:build !windows

package main

import (
	"os"
	"syscall"
)

// lockFile takes a non-blocking exclusive flock(2) on f. EWOULDBLOCK means
// another daemon holds it.
func lockFile(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
}

// unlockFile drops the flock. Closing f drops it as well.
func unlockFile(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}
