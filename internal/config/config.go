// Package config provides configuration loading and defaults for the protoncord daemon.
//
// Configuration is loaded from a TOML file in the user's config directory.
// The package covers the Discord client id, process scanner tuning, store
// client limits, presence content, privacy filters, and logging.
package config

//go:generate go run ../../cmd/genconfig

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/bmatcuk/doublestar/v4"
	"tools.zach/dev/protoncord/internal/atomicfile"
	"tools.zach/dev/protoncord/internal/migrate"
	"tools.zach/dev/protoncord/internal/paths"
)

// ErrNoClientID is returned by [Config.RequireClientID] when no Discord
// application id has been configured.
var ErrNoClientID = errors.New("discord_client_id is empty")

// ///////////////////////////////////////////////
// Configuration Types
// ///////////////////////////////////////////////

// Config represents the top-level application configuration.
type Config struct {
	// Version is the config schema version used for migrations.
	Version int `toml:"version"`
	// DiscordClientID is the Discord application id presence is published under.
	DiscordClientID string `toml:"discord_client_id"`
	// Scanner holds process scanning settings.
	Scanner ScannerConfig `toml:"scanner"`
	// Store holds Steam store client settings.
	Store StoreConfig `toml:"store"`
	// Cache holds page archive settings.
	Cache CacheConfig `toml:"cache"`
	// Presence holds Rich Presence content and reconnect settings.
	Presence PresenceConfig `toml:"presence"`
	// Privacy holds rules for games that should never be shown.
	Privacy PrivacyConfig `toml:"privacy"`
	// Log holds logging settings.
	Log LogConfig `toml:"log"`
}

// ScannerConfig controls how running games are detected.
type ScannerConfig struct {
	// PollIntervalSeconds is the time between process table scans.
	PollIntervalSeconds int `toml:"poll_interval_seconds"`
	// Launchers lists process names that wrap a Steam game launch.
	Launchers []string `toml:"launchers"`
	// PathFragment must appear in the launched executable's path.
	PathFragment string `toml:"path_fragment"`
	// AppIDEnv names the environment variable carrying the app id.
	AppIDEnv string `toml:"app_id_env"`
}

// StoreConfig controls the Steam store client.
type StoreConfig struct {
	// BaseURL is the store origin, without a trailing slash.
	BaseURL string `toml:"base_url"`
	// Language is sent as the l= query parameter.
	Language string `toml:"language"`
	// TimeoutSeconds bounds one resolve, age gate round trip included.
	TimeoutSeconds int `toml:"timeout_seconds"`
	// RequestsPerMinute caps outbound store requests.
	RequestsPerMinute int `toml:"requests_per_minute"`
	// UserAgent is sent on every store request.
	UserAgent string `toml:"user_agent"`
}

// CacheConfig controls the on-disk page archive.
type CacheConfig struct {
	// Dir overrides the archive directory. Empty uses the runtime cache dir.
	Dir string `toml:"dir"`
	// ReusePages serves archived pages instead of fetching them again.
	ReusePages bool `toml:"reuse_pages"`
}

// PresenceConfig controls the published activity.
type PresenceConfig struct {
	// State is the second line of the activity card.
	State string `toml:"state"`
	// ShowPoster uses the library poster as the large image.
	ShowPoster bool `toml:"show_poster"`
	// ShowIcon uses the app icon as the small image.
	ShowIcon bool `toml:"show_icon"`
	// ReconnectAttempts bounds reconnect tries after a lost connection.
	ReconnectAttempts int `toml:"reconnect_attempts"`
	// ReconnectInitialSeconds is the first reconnect delay.
	ReconnectInitialSeconds int `toml:"reconnect_initial_seconds"`
	// ReconnectMaxSeconds caps the reconnect delay.
	ReconnectMaxSeconds int `toml:"reconnect_max_seconds"`
}

// PrivacyConfig holds rules for suppressing presence.
type PrivacyConfig struct {
	// Ignore is a list of glob patterns matched against game executable paths.
	Ignore []string `toml:"ignore"`
	// IgnoreAppIDs lists store app ids that are never published.
	IgnoreAppIDs []string `toml:"ignore_app_ids"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the minimum log level (trace, debug, info, warn, error).
	Level string `toml:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation.
	MaxSizeMB int `toml:"max_size_mb"`
}

// ///////////////////////////////////////////////
// Default Configuration
// ///////////////////////////////////////////////

// DefaultUserAgent is sent to the store when no override is configured.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) protoncord"

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version: Migrations.Current(),
		Scanner: ScannerConfig{
			PollIntervalSeconds: 10,
			Launchers:           []string{"reaper"},
			PathFragment:        "steamapps/common",
			AppIDEnv:            "SteamAppId",
		},
		Store: StoreConfig{
			BaseURL:           "https://store.steampowered.com",
			Language:          "english",
			TimeoutSeconds:    20,
			RequestsPerMinute: 30,
			UserAgent:         DefaultUserAgent,
		},
		Cache: CacheConfig{
			ReusePages: true,
		},
		Presence: PresenceConfig{
			State:                   "Playing on Linux using Proton",
			ShowPoster:              true,
			ShowIcon:                true,
			ReconnectAttempts:       5,
			ReconnectInitialSeconds: 2,
			ReconnectMaxSeconds:     60,
		},
		Privacy: PrivacyConfig{
			Ignore:       []string{},
			IgnoreAppIDs: []string{},
		},
		Log: LogConfig{
			Level:     "info",
			MaxSizeMB: 10,
		},
	}
}

// ExampleConfig returns a Config suitable for generating config.default.toml.
func ExampleConfig() *Config {
	return DefaultConfig()
}

// ///////////////////////////////////////////////
// Migrations
// ///////////////////////////////////////////////

// Migrations upgrades older config files to the current schema.
var Migrations = migrate.NewRegistry(2,
	migrate.Step{
		Version:     2,
		Description: "move [discord] app_id to top-level discord_client_id",
		Apply: func(doc migrate.Doc) error {
			migrate.Move(doc, "discord", "app_id", "discord_client_id")
			return nil
		},
	},
)

// peekVersion reads the version field from a decoded document.
// Returns 1 if the field is missing or zero.
func peekVersion(doc migrate.Doc) int {
	v, _ := doc["version"].(int64)
	if v <= 0 {
		return 1
	}
	return int(v)
}

// ///////////////////////////////////////////////
// Loading and Saving
// ///////////////////////////////////////////////

// Load reads and parses dir/config.toml. A missing file yields DefaultConfig.
// Older schema versions are migrated, backed up to config.toml.bak, and
// re-saved in the current format.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, paths.ConfigFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	doc := migrate.Doc{}
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	version := peekVersion(doc)
	migrated := Migrations.Pending(version)
	if migrated {
		if backupErr := os.WriteFile(path+".bak", data, 0o644); backupErr != nil {
			slog.Warn("failed to write config backup", "error", backupErr)
		}
		if _, err := Migrations.Upgrade(doc, version); err != nil {
			return nil, fmt.Errorf("migrate config: %w", err)
		}
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(doc); err != nil {
			return nil, fmt.Errorf("re-encode migrated config: %w", err)
		}
		data = buf.Bytes()
	} else if version > Migrations.Current() {
		return nil, fmt.Errorf("config version %d is newer than supported version %d", version, Migrations.Current())
	}

	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Version = Migrations.Current()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if migrated {
		if err := cfg.Save(path); err != nil {
			slog.Warn("failed to save migrated config", "error", err)
		}
	}

	return cfg, nil
}

// legacyConfig is the JSON shape used before the TOML config existed.
type legacyConfig struct {
	DiscordClientID *string `json:"discord_client_id"`
}

// ImportLegacy converts dir/config.json into dir/config.toml when only the
// legacy file exists. It reports whether an import happened.
func ImportLegacy(dir string) (bool, error) {
	tomlPath := filepath.Join(dir, paths.ConfigFile)
	if _, err := os.Stat(tomlPath); err == nil {
		return false, nil
	}

	data, err := os.ReadFile(filepath.Join(dir, paths.LegacyConfigFile))
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read legacy config: %w", err)
	}

	var legacy legacyConfig
	if err := json.Unmarshal(data, &legacy); err != nil {
		return false, fmt.Errorf("parse legacy config: %w", err)
	}
	if legacy.DiscordClientID == nil {
		return false, errors.New("parse legacy config: missing discord_client_id")
	}

	cfg := DefaultConfig()
	cfg.DiscordClientID = strings.TrimSpace(*legacy.DiscordClientID)
	if err := cfg.Save(tomlPath); err != nil {
		return false, fmt.Errorf("save imported config: %w", err)
	}
	slog.Info("imported legacy config", "from", paths.LegacyConfigFile, "to", paths.ConfigFile)
	return true, nil
}

// Save writes the config to disk as TOML using atomic file write.
func (c *Config) Save(path string) error {
	var buf bytes.Buffer
	enc := toml.NewEncoder(&buf)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return atomicfile.Write(path, buf.Bytes(), 0o644)
}

// ///////////////////////////////////////////////
// Validation
// ///////////////////////////////////////////////

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks that all configuration values are within acceptable ranges.
// The client id is checked separately by [Config.RequireClientID] so one-shot
// commands work before Discord is configured.
func (c *Config) Validate() error {
	if c.Scanner.PollIntervalSeconds <= 0 {
		return fmt.Errorf("scanner.poll_interval_seconds must be > 0, got %d", c.Scanner.PollIntervalSeconds)
	}
	if len(c.Scanner.Launchers) == 0 {
		return errors.New("scanner.launchers must name at least one process")
	}

	u, err := url.Parse(c.Store.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid store.base_url %q: must be an absolute http(s) URL", c.Store.BaseURL)
	}
	if c.Store.TimeoutSeconds <= 0 {
		return fmt.Errorf("store.timeout_seconds must be > 0, got %d", c.Store.TimeoutSeconds)
	}
	if c.Store.RequestsPerMinute <= 0 {
		return fmt.Errorf("store.requests_per_minute must be > 0, got %d", c.Store.RequestsPerMinute)
	}

	if c.Presence.ReconnectAttempts <= 0 {
		return fmt.Errorf("presence.reconnect_attempts must be > 0, got %d", c.Presence.ReconnectAttempts)
	}
	if c.Presence.ReconnectInitialSeconds <= 0 {
		return fmt.Errorf("presence.reconnect_initial_seconds must be > 0, got %d", c.Presence.ReconnectInitialSeconds)
	}
	if c.Presence.ReconnectMaxSeconds < c.Presence.ReconnectInitialSeconds {
		return fmt.Errorf("presence.reconnect_max_seconds (%d) must be >= reconnect_initial_seconds (%d)",
			c.Presence.ReconnectMaxSeconds, c.Presence.ReconnectInitialSeconds)
	}

	for _, pattern := range c.Privacy.Ignore {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid privacy.ignore pattern %q", pattern)
		}
	}

	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		return fmt.Errorf("invalid log.level %q: must be trace, debug, info, warn, or error", c.Log.Level)
	}
	if c.Log.MaxSizeMB <= 0 {
		return fmt.Errorf("log.max_size_mb must be > 0, got %d", c.Log.MaxSizeMB)
	}

	return nil
}

// RequireClientID returns [ErrNoClientID] when the daemon has nothing to
// publish presence under.
func (c *Config) RequireClientID() error {
	if strings.TrimSpace(c.DiscordClientID) == "" {
		return ErrNoClientID
	}
	return nil
}

// ///////////////////////////////////////////////
// Derived Values
// ///////////////////////////////////////////////

// PollInterval returns the scan interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Scanner.PollIntervalSeconds) * time.Second
}

// StoreTimeout returns the per-resolve deadline as a duration.
func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.Store.TimeoutSeconds) * time.Second
}

// CacheDir returns the page archive directory, falling back to rt's cache dir.
func (c *Config) CacheDir(rt paths.RuntimeDir) string {
	if c.Cache.Dir != "" {
		return c.Cache.Dir
	}
	return rt.Cache()
}

// ///////////////////////////////////////////////
// Privacy Helpers
// ///////////////////////////////////////////////

// IsIgnored reports whether a game should be treated as not running, either
// because its app id is listed or its executable path matches a pattern.
func (c *Config) IsIgnored(appID, executable string) bool {
	if slices.Contains(c.Privacy.IgnoreAppIDs, appID) {
		return true
	}
	if executable == "" {
		return false
	}
	for _, pattern := range c.Privacy.Ignore {
		matched, err := doublestar.Match(pattern, executable)
		if err != nil {
			slog.Warn("invalid glob pattern", "pattern", pattern, "error", err)
			continue
		}
		if matched {
			return true
		}
	}
	return false
}
