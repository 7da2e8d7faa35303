package scanner

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// ///////////////////////////////////////////////
// procfs Readers
// ///////////////////////////////////////////////

// bootTime reads the btime line of <root>/stat.
func (s *Scanner) bootTime() (time.Time, error) {
	f, err := os.Open(filepath.Join(s.root, "stat"))
	if err != nil {
		return time.Time{}, err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		rest, ok := strings.CutPrefix(sc.Text(), "btime ")
		if !ok {
			continue
		}
		sec, err := strconv.ParseInt(strings.TrimSpace(rest), 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse btime: %w", err)
		}
		return time.Unix(sec, 0), nil
	}
	if err := sc.Err(); err != nil {
		return time.Time{}, err
	}
	return time.Time{}, errors.New("btime not found")
}

// readProcess loads stat, cmdline and environ for pid. An unreadable
// environment (another user's process) leaves Environ empty.
func (s *Scanner) readProcess(pid int, boot time.Time) (Process, error) {
	dir := filepath.Join(s.root, strconv.Itoa(pid))

	stat, err := os.ReadFile(filepath.Join(dir, "stat"))
	if err != nil {
		return Process{}, err
	}
	name, ppid, ticks, err := parseStat(stat)
	if err != nil {
		return Process{}, err
	}

	cmdline, err := os.ReadFile(filepath.Join(dir, "cmdline"))
	if err != nil {
		return Process{}, err
	}
	environ, _ := os.ReadFile(filepath.Join(dir, "environ"))

	return Process{
		PID:       pid,
		PPID:      ppid,
		Name:      name,
		Cmdline:   splitNUL(cmdline),
		Environ:   splitNUL(environ),
		StartTime: boot.Add(time.Duration(ticks) * time.Second / time.Duration(s.ticks)),
	}, nil
}

// parseStat extracts comm, ppid and starttime from a /proc/<pid>/stat line.
// comm may itself contain spaces and parentheses, so it spans from the
// first '(' to the last ')'.
func parseStat(b []byte) (name string, ppid int, startTicks int64, err error) {
	raw := string(b)
	open := strings.IndexByte(raw, '(')
	end := strings.LastIndexByte(raw, ')')
	if open < 0 || end < open {
		return "", 0, 0, errors.New("malformed stat: no comm")
	}
	name = raw[open+1 : end]

	// Fields after comm start at state (field 3); starttime is field 22.
	fields := strings.Fields(raw[end+1:])
	if len(fields) < 20 {
		return "", 0, 0, fmt.Errorf("malformed stat: %d fields", len(fields))
	}
	if ppid, err = strconv.Atoi(fields[1]); err != nil {
		return "", 0, 0, fmt.Errorf("malformed stat ppid: %w", err)
	}
	if startTicks, err = strconv.ParseInt(fields[19], 10, 64); err != nil {
		return "", 0, 0, fmt.Errorf("malformed stat starttime: %w", err)
	}
	return name, ppid, startTicks, nil
}

func splitNUL(b []byte) []string {
	var out []string
	for part := range bytes.SplitSeq(b, []byte{0}) {
		if len(part) > 0 {
			out = append(out, string(part))
		}
	}
	return out
}
