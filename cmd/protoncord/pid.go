package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"tools.zach/dev/protoncord/internal/paths"
)

// ///////////////////////////////////////////////
// PID Management
// ///////////////////////////////////////////////

// errAlreadyRunning is returned when another daemon holds the PID lock.
var errAlreadyRunning = errors.New("daemon already running")

// pidLock is a held PID file. The advisory lock lives as long as f is open.
type pidLock struct {
	path  string
	token string
	f     *os.File
}

// acquirePID opens the PID file, takes the lock and writes "PID:TOKEN".
// The token lets release remove only a file this instance wrote.
func acquirePID(rt paths.RuntimeDir) (*pidLock, error) {
	path := rt.PID()
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open PID file: %w", err)
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w (pid %d)", errAlreadyRunning, readPID(path))
	}

	b := make([]byte, 8)
	_, _ = rand.Read(b)
	l := &pidLock{path: path, token: hex.EncodeToString(b), f: f}

	if err := f.Truncate(0); err != nil {
		l.release()
		return nil, fmt.Errorf("truncate PID file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d:%s", os.Getpid(), l.token); err != nil {
		l.release()
		return nil, fmt.Errorf("write PID file: %w", err)
	}
	return l, nil
}

// release unlocks and closes the file, removing it if the token still
// matches.
func (l *pidLock) release() {
	if l == nil {
		return
	}
	_ = unlockFile(l.f)
	l.f.Close()

	data, err := os.ReadFile(l.path)
	if err != nil {
		return
	}
	if _, token, ok := strings.Cut(string(data), ":"); ok && token == l.token {
		os.Remove(l.path)
	}
}

// readPID returns the pid stored in path, or 0.
func readPID(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, _, _ := strings.Cut(string(data), ":")
	n, _ := strconv.Atoi(pid)
	return n
}
