// Package scanner finds Steam games running through Proton by reading the
// process table. Each call to [Scanner.Scan] is an independent snapshot.
package scanner

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"tools.zach/dev/protoncord/internal/logger"
)

// ErrScan reports that the process table itself could not be enumerated.
var ErrScan = errors.New("scanner: process table unavailable")

// DefaultRoot is the procfs mount point read by [New].
const DefaultRoot = "/proc"

// ///////////////////////////////////////////////
// Types
// ///////////////////////////////////////////////

// Process is the subset of a process table entry an [ExtractFunc] inspects.
type Process struct {
	PID       int
	PPID      int
	Name      string
	Cmdline   []string
	Environ   []string
	StartTime time.Time
}

// Getenv returns the value of key in the process environment.
func (p Process) Getenv(key string) (string, bool) {
	prefix := key + "="
	for _, kv := range p.Environ {
		if v, ok := strings.CutPrefix(kv, prefix); ok {
			return v, true
		}
	}
	return "", false
}

// Handle identifies a running game.
type Handle struct {
	PID        int
	Identifier string
	StartTime  time.Time
	// Executable is the Windows executable path from the command line, or
	// the first argument when none is present.
	Executable string
}

// ExtractFunc returns the catalog identifier for p, or false when p is not
// a game process.
type ExtractFunc func(p Process) (string, bool)

// ///////////////////////////////////////////////
// Scanner
// ///////////////////////////////////////////////

// Scanner enumerates processes under a procfs root.
type Scanner struct {
	root    string
	extract ExtractFunc
	// ticks is the kernel clock rate used to convert stat start times.
	ticks int64
}

// Option configures a [Scanner].
type Option func(*Scanner)

// WithRoot reads the process table from root instead of /proc.
func WithRoot(root string) Option {
	return func(s *Scanner) { s.root = root }
}

// WithExtractor replaces the identifier extraction rule.
func WithExtractor(fn ExtractFunc) Option {
	return func(s *Scanner) { s.extract = fn }
}

// New returns a scanner using [DefaultRules] unless overridden.
func New(opts ...Option) *Scanner {
	s := &Scanner{
		root:    DefaultRoot,
		extract: ProtonExtractor(DefaultRules()),
		ticks:   100,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan returns one handle per running game, earliest started first. A game
// identifier seen in several processes is reported once, for the process
// that started first. Processes that exit mid-scan are skipped.
func (s *Scanner) Scan() ([]Handle, error) {
	boot, err := s.bootTime()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScan, err)
	}
	dirents, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrScan, err)
	}

	var handles []Handle
	for _, d := range dirents {
		if !d.IsDir() {
			continue
		}
		pid, err := strconv.Atoi(d.Name())
		if err != nil || pid <= 0 {
			continue
		}
		p, err := s.readProcess(pid, boot)
		if err != nil {
			logger.Trace(slog.Default(), "skipping process", "pid", pid, "error", err)
			continue
		}
		id, ok := s.extract(p)
		if !ok {
			continue
		}
		handles = append(handles, Handle{
			PID:        p.PID,
			Identifier: id,
			StartTime:  p.StartTime,
			Executable: executable(p),
		})
	}

	slices.SortFunc(handles, func(a, b Handle) int {
		if c := a.StartTime.Compare(b.StartTime); c != 0 {
			return c
		}
		return cmp.Compare(a.PID, b.PID)
	})
	seen := make(map[string]bool, len(handles))
	out := handles[:0]
	for _, h := range handles {
		if seen[h.Identifier] {
			continue
		}
		seen[h.Identifier] = true
		out = append(out, h)
	}
	return out, nil
}

// executable picks the game binary out of the command line.
func executable(p Process) string {
	for i := len(p.Cmdline) - 1; i >= 0; i-- {
		if hasExeSuffix(p.Cmdline[i]) {
			return p.Cmdline[i]
		}
	}
	if len(p.Cmdline) > 0 {
		return p.Cmdline[0]
	}
	return p.Name
}

func hasExeSuffix(arg string) bool {
	return len(arg) > 4 && strings.EqualFold(arg[len(arg)-4:], ".exe")
}
