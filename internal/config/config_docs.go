package config

// ///////////////////////////////////////////////
// Documentation Types
// ///////////////////////////////////////////////

// FieldDoc holds documentation and alternative examples for a single config field.
// The genconfig tool uses [FieldDoc] values to annotate the generated config.default.toml.
type FieldDoc struct {
	// Comment is shown as a header comment above the field in the example config.
	Comment string

	// Alternatives are shown as commented-out lines below the active value.
	Alternatives []string
}

// ///////////////////////////////////////////////
// Field Documentation Map
// ///////////////////////////////////////////////

// ConfigDocs maps TOML field paths (dot-separated, e.g. "store.timeout_seconds")
// to their [FieldDoc] entries.
var ConfigDocs = map[string]FieldDoc{
	// ── Root ──────────────────────────────────────────────────────
	"version": {
		Comment: "Config schema version. Do not edit.",
	},
	"discord_client_id": {
		Comment: "Application ID of your Discord app (Developer Portal > General Information).\nRequired: the daemon refuses to start while this is empty.",
		Alternatives: []string{
			`discord_client_id = "123456789012345678"`,
		},
	},

	// ── Scanner ──────────────────────────────────────────────────
	"scanner.poll_interval_seconds": {
		Comment: "Seconds between process table scans.",
	},
	"scanner.launchers": {
		Comment: "Process names of the Steam launch wrapper that parents every game.",
	},
	"scanner.path_fragment": {
		Comment: "A launched .exe must live under a path containing this fragment.",
		Alternatives: []string{
			`path_fragment = "SteamLibrary/steamapps/common"`,
		},
	},
	"scanner.app_id_env": {
		Comment: "Environment variable read when the launch arguments carry no AppId=.",
	},

	// ── Store ────────────────────────────────────────────────────
	"store.base_url": {
		Comment: "Steam store origin. App pages are fetched from <base_url>/app/<id>/.",
	},
	"store.language": {
		Comment: "Store language for titles (sent as ?l=).",
		Alternatives: []string{
			`language = "german"`,
		},
	},
	"store.timeout_seconds": {
		Comment: "Upper bound for one lookup, age check round trip included.",
	},
	"store.requests_per_minute": {
		Comment: "Cap on outbound store requests.",
	},
	"store.user_agent": {},

	// ── Cache ────────────────────────────────────────────────────
	"cache.dir": {
		Comment: "Where fetched store pages are archived. Empty uses $XDG_RUNTIME_DIR/protoncord/cache.",
		Alternatives: []string{
			`dir = "/home/me/.cache/protoncord"`,
		},
	},
	"cache.reuse_pages": {
		Comment: "Read archived pages instead of fetching them again.",
	},

	// ── Presence ─────────────────────────────────────────────────
	"presence.state": {
		Comment: "Second line of the activity card. The first line is always the game title.",
		Alternatives: []string{
			`state = "Playing via Proton"`,
		},
	},
	"presence.show_poster": {
		Comment: "Use the library poster as the large image (falls back to the header image).",
	},
	"presence.show_icon": {
		Comment: "Show the game icon as the small image.",
	},
	"presence.reconnect_attempts": {
		Comment: "How many times to retry Discord after the connection drops.\nDelays double from reconnect_initial_seconds up to reconnect_max_seconds.",
	},
	"presence.reconnect_initial_seconds": {},
	"presence.reconnect_max_seconds":     {},

	// ── Privacy ──────────────────────────────────────────────────
	"privacy.ignore": {
		Comment: "Glob patterns matched against the game executable path.\nMatching games are never shown.",
		Alternatives: []string{
			`ignore = ["**/steamapps/common/Secret Game/**"]`,
		},
	},
	"privacy.ignore_app_ids": {
		Comment: "Store app ids that are never shown.",
		Alternatives: []string{
			`ignore_app_ids = ["440"]`,
		},
	},

	// ── Log ──────────────────────────────────────────────────────
	"log.level": {
		Comment: "Log level: trace, debug, info, warn, error",
	},
	"log.max_size_mb": {
		Comment: "Rotate the log file after this many megabytes.",
	},
}
