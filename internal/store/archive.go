package store

import (
	"fmt"
	"os"
	"path/filepath"

	"tools.zach/dev/protoncord/internal/atomicfile"
	"tools.zach/dev/protoncord/internal/paths"
)

// archive keeps fetched app pages on disk as <dir>/<id>.html. A nil archive
// is valid and stores nothing.
type archive struct {
	dir   string
	reuse bool
}

// load returns the archived page for id when reuse is enabled.
func (a *archive) load(id string) ([]byte, bool) {
	if a == nil || !a.reuse {
		return nil, false
	}
	body, err := os.ReadFile(filepath.Join(a.dir, paths.PageFile(id)))
	if err != nil || len(body) == 0 {
		return nil, false
	}
	return body, true
}

// store writes the page for id atomically.
func (a *archive) store(id string, body []byte) error {
	if a == nil {
		return nil
	}
	if err := os.MkdirAll(a.dir, 0o700); err != nil {
		return fmt.Errorf("creating page archive: %w", err)
	}
	return atomicfile.Write(filepath.Join(a.dir, paths.PageFile(id)), body, 0o600)
}
