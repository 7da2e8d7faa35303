package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"sync"

	rootpkg "tools.zach/dev/protoncord"
	"tools.zach/dev/protoncord/internal/appcache"
	"tools.zach/dev/protoncord/internal/atomicfile"
	"tools.zach/dev/protoncord/internal/config"
	"tools.zach/dev/protoncord/internal/discord"
	"tools.zach/dev/protoncord/internal/logger"
	"tools.zach/dev/protoncord/internal/paths"
	"tools.zach/dev/protoncord/internal/reconcile"
	"tools.zach/dev/protoncord/internal/store"
)

// ///////////////////////////////////////////////
// First Run
// ///////////////////////////////////////////////

// prepareConfig makes sure dir holds a config.toml: a legacy config.json is
// imported, otherwise the annotated defaults are written. It then loads it.
func prepareConfig(dir paths.ConfigDir) (*config.Config, error) {
	if err := os.MkdirAll(dir.Root, 0o755); err != nil {
		return nil, fmt.Errorf("create config dir: %w", err)
	}
	if _, err := os.Stat(dir.Config()); errors.Is(err, os.ErrNotExist) {
		imported, err := config.ImportLegacy(dir.Root)
		if err != nil {
			return nil, err
		}
		if !imported {
			if err := atomicfile.Write(dir.Config(), rootpkg.DefaultConfigTOML, 0o644); err != nil {
				return nil, fmt.Errorf("write default config: %w", err)
			}
			slog.Info("wrote default config", "path", dir.Config())
		}
	}
	return config.Load(dir.Root)
}

// ///////////////////////////////////////////////
// Daemon
// ///////////////////////////////////////////////

// runDaemon runs the reconcile loop until ctx ends. Errors returned here
// are startup failures; everything after startup is logged and survived.
func runDaemon(ctx context.Context, g *globalFlags, foreground bool) error {
	cfgDir, rt := g.configPaths(), g.runtimePaths()

	cfg, err := prepareConfig(cfgDir)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.RequireClientID(); err != nil {
		return fmt.Errorf("%w: set it in %s", err, cfgDir.Config())
	}

	if err := os.MkdirAll(rt.Root, 0o700); err != nil {
		return fmt.Errorf("create runtime dir: %w", err)
	}
	pid, err := acquirePID(rt)
	if err != nil {
		return err
	}
	defer pid.release()

	level := new(slog.LevelVar)
	level.Set(logger.ParseLevel(cfg.Log.Level))
	log, logCloser, err := logger.NewLogger(logger.Options{
		Path:      rt.Log(),
		Level:     level,
		MaxSizeMB: cfg.Log.MaxSizeMB,
		Stderr:    foreground,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logCloser.Close()
	prev := slog.Default()
	slog.SetDefault(log)
	defer slog.SetDefault(prev)

	slog.Info("protoncord starting",
		"version", resolveVersion(),
		"config", cfgDir.Config(),
		"runtime_dir", rt.Root,
	)

	storeClient, err := store.NewClient(storeOptions(cfg, rt))
	if err != nil {
		logger.Fail(log, "cannot create store client", "error", err)
		return fmt.Errorf("create store client: %w", err)
	}
	cache := appcache.New(storeClient.Resolve)
	presence := discord.NewClient(cfg.DiscordClientID)

	loop := reconcile.New(reconcile.Options{
		Scanner:  newScanner(cfg, g.procRoot),
		Resolver: cache,
		Presence: presence,
		Interval: cfg.PollInterval(),
		Policy:   reconnectPolicy(cfg),
		Settings: loopSettings(cfg),
	})

	var wg sync.WaitGroup
	if w, err := config.NewWatcher(cfgDir.Root); err != nil {
		slog.Warn("config live reload disabled", "error", err)
	} else {
		defer w.Close()
		if w.Polling() {
			slog.Info("watching config by polling")
		}
		wg.Go(func() { watchConfig(ctx, w, cfgDir, cfg, loop, level) })
	}

	err = loop.Run(ctx)
	wg.Wait()
	slog.Info("protoncord stopped", "cache", cache.Stats())
	return err
}

// ///////////////////////////////////////////////
// Live Reload
// ///////////////////////////////////////////////

// watchConfig reloads the config on every change and hands the live parts
// to the loop and the logger. A broken file keeps the previous settings.
func watchConfig(ctx context.Context, w *config.Watcher, dir paths.ConfigDir, running *config.Config, loop *reconcile.Loop, level *slog.LevelVar) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.Events():
			cfg, err := config.Load(dir.Root)
			if err != nil {
				slog.Warn("config reload failed, keeping previous settings", "error", err)
				continue
			}
			applyReload(running, cfg, loop, level)
			running = cfg
		}
	}
}

// applyReload pushes reloadable settings and warns about the rest.
func applyReload(old, cfg *config.Config, loop *reconcile.Loop, level *slog.LevelVar) {
	level.Set(logger.ParseLevel(cfg.Log.Level))
	loop.Update(loopSettings(cfg))
	slog.Info("config reloaded")

	if restartNeeded(old, cfg) {
		slog.Warn("some config changes take effect after a restart")
	}
}

// restartNeeded reports changes outside the live-reloadable sections.
func restartNeeded(old, cfg *config.Config) bool {
	if old.DiscordClientID != cfg.DiscordClientID ||
		old.Store != cfg.Store ||
		old.Cache != cfg.Cache ||
		old.Log.MaxSizeMB != cfg.Log.MaxSizeMB {
		return true
	}
	if old.Scanner.PollIntervalSeconds != cfg.Scanner.PollIntervalSeconds ||
		old.Scanner.PathFragment != cfg.Scanner.PathFragment ||
		old.Scanner.AppIDEnv != cfg.Scanner.AppIDEnv ||
		!slices.Equal(old.Scanner.Launchers, cfg.Scanner.Launchers) {
		return true
	}
	p, q := old.Presence, cfg.Presence
	// Poster lookups are wired only when show_poster was on at startup.
	return (!p.ShowPoster && q.ShowPoster) ||
		p.ReconnectAttempts != q.ReconnectAttempts ||
		p.ReconnectInitialSeconds != q.ReconnectInitialSeconds ||
		p.ReconnectMaxSeconds != q.ReconnectMaxSeconds
}
