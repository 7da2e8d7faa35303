// Package paths centralizes file and directory names used across the project.
// All config and runtime file names are defined here as the single source of truth.
package paths

import (
	"os"
	"path/filepath"
	"strconv"
)

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

// AppName names the per-user config and runtime subdirectories.
const AppName = "protoncord"

// Config directory file names.
const (
	ConfigFile       = "config.toml"
	LegacyConfigFile = "config.json"
)

// Runtime directory file names.
const (
	PIDFile  = "daemon.pid"
	LogFile  = "daemon.log"
	CacheDir = "cache"
	PageExt  = ".html"
)

// ///////////////////////////////////////////////
// Config Directory
// ///////////////////////////////////////////////

// ConfigDir holds persistent, user-edited files.
type ConfigDir struct {
	Root string
}

// DefaultConfigDir returns $XDG_CONFIG_HOME/protoncord, falling back to
// os.UserConfigDir and finally ./.protoncord.
func DefaultConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, AppName)
	}
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, AppName)
	}
	return filepath.Join(".", "."+AppName)
}

// Config returns the full path to the TOML config file.
func (d ConfigDir) Config() string { return filepath.Join(d.Root, ConfigFile) }

// LegacyConfig returns the full path to the JSON config used by older releases.
func (d ConfigDir) LegacyConfig() string { return filepath.Join(d.Root, LegacyConfigFile) }

// ///////////////////////////////////////////////
// Runtime Directory
// ///////////////////////////////////////////////

// RuntimeDir holds state that only lives as long as the login session: the
// PID lock, the log, and the store page cache. Nothing here survives a reboot
// when it sits under XDG_RUNTIME_DIR.
type RuntimeDir struct {
	Root string
}

// DefaultRuntimeDir returns $XDG_RUNTIME_DIR/protoncord. Without
// XDG_RUNTIME_DIR it uses a per-user directory under os.TempDir.
func DefaultRuntimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, AppName)
	}
	return filepath.Join(os.TempDir(), AppName+"-"+strconv.Itoa(os.Getuid()))
}

// PID returns the full path to the PID file.
func (d RuntimeDir) PID() string { return filepath.Join(d.Root, PIDFile) }

// Log returns the full path to the log file.
func (d RuntimeDir) Log() string { return filepath.Join(d.Root, LogFile) }

// Cache returns the full path to the store page cache directory.
func (d RuntimeDir) Cache() string { return filepath.Join(d.Root, CacheDir) }

// PageFile returns the cached page file name for a store app id.
func PageFile(appID string) string { return appID + PageExt }
