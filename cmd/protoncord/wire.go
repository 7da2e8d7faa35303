package main

import (
	"time"

	"tools.zach/dev/protoncord/internal/config"
	"tools.zach/dev/protoncord/internal/paths"
	"tools.zach/dev/protoncord/internal/reconcile"
	"tools.zach/dev/protoncord/internal/scanner"
	"tools.zach/dev/protoncord/internal/store"
)

// ///////////////////////////////////////////////
// Config Builders
// ///////////////////////////////////////////////

// scannerRules maps the [scanner] section onto Proton extraction rules.
func scannerRules(cfg *config.Config) scanner.Rules {
	return scanner.Rules{
		Launchers:    cfg.Scanner.Launchers,
		PathFragment: cfg.Scanner.PathFragment,
		AppIDEnv:     cfg.Scanner.AppIDEnv,
	}
}

func newScanner(cfg *config.Config, procRoot string) *scanner.Scanner {
	return scanner.New(
		scanner.WithRoot(procRoot),
		scanner.WithExtractor(scanner.ProtonExtractor(scannerRules(cfg))),
	)
}

// storeOptions maps the [store] and [cache] sections onto client options.
// The poster probe only runs when the poster is shown.
func storeOptions(cfg *config.Config, rt paths.RuntimeDir) store.Options {
	return store.Options{
		BaseURL:           cfg.Store.BaseURL,
		Language:          cfg.Store.Language,
		UserAgent:         cfg.Store.UserAgent,
		Timeout:           cfg.StoreTimeout(),
		RequestsPerMinute: cfg.Store.RequestsPerMinute,
		ArchiveDir:        cfg.CacheDir(rt),
		ReusePages:        cfg.Cache.ReusePages,
		ProbePoster:       cfg.Presence.ShowPoster,
	}
}

// reconnectPolicy maps the reconnect settings of the [presence] section.
func reconnectPolicy(cfg *config.Config) reconcile.ReconnectPolicy {
	p := reconcile.DefaultPolicy()
	p.MaxAttempts = cfg.Presence.ReconnectAttempts
	p.Initial = time.Duration(cfg.Presence.ReconnectInitialSeconds) * time.Second
	p.Max = time.Duration(cfg.Presence.ReconnectMaxSeconds) * time.Second
	return p
}

// loopSettings extracts the live-reloadable settings. Ignore rules read
// cfg, so each reload hands the loop a fresh snapshot.
func loopSettings(cfg *config.Config) reconcile.Settings {
	return reconcile.Settings{
		State:      cfg.Presence.State,
		ShowPoster: cfg.Presence.ShowPoster,
		ShowIcon:   cfg.Presence.ShowIcon,
		Ignore:     cfg.IsIgnored,
	}
}
