// Package reconcile drives Discord presence from the set of running games.
//
// The [Loop] owns the only copy of the activity state. Each tick scans the
// process table, picks the earliest-started game that is not ignored,
// resolves it through the catalog and publishes or clears the activity.
// A lost presence connection is re-established in the background with a
// [ReconnectPolicy] while ticks continue; only the latest desired activity
// is applied once the connection returns.
package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"tools.zach/dev/protoncord/internal/discord"
	"tools.zach/dev/protoncord/internal/logger"
	"tools.zach/dev/protoncord/internal/scanner"
	"tools.zach/dev/protoncord/internal/store"
)

// ///////////////////////////////////////////////
// Collaborators
// ///////////////////////////////////////////////

// Scanner lists running games.
type Scanner interface {
	Scan() ([]scanner.Handle, error)
}

// Resolver turns an app id into catalog metadata.
type Resolver interface {
	Resolve(ctx context.Context, id string) (store.Entry, error)
}

// Presence publishes activities. *discord.Client satisfies it.
type Presence interface {
	Connect(ctx context.Context) error
	SetActivity(ctx context.Context, a *discord.Activity) error
	ClearActivity(ctx context.Context) error
	Close() error
	Connected() bool
}

// ///////////////////////////////////////////////
// State
// ///////////////////////////////////////////////

// State is Idle (zero value) or Active for one identifier.
type State struct {
	Identifier string
}

// Active reports whether an activity is wanted.
func (s State) Active() bool { return s.Identifier != "" }

func (s State) String() string {
	if !s.Active() {
		return "idle"
	}
	return "active(" + s.Identifier + ")"
}

// ///////////////////////////////////////////////
// Loop
// ///////////////////////////////////////////////

// Options configures a [Loop]. Scanner, Resolver and Presence are required.
type Options struct {
	Scanner  Scanner
	Resolver Resolver
	Presence Presence
	// Interval is the time between ticks. Defaults to 10s.
	Interval time.Duration
	Policy   ReconnectPolicy
	Settings Settings
	// ShutdownTimeout bounds the final clear. Defaults to 2s.
	ShutdownTimeout time.Duration
}

// Loop reconciles running games with the published presence.
type Loop struct {
	scanner  Scanner
	resolver Resolver
	presence Presence
	interval time.Duration
	policy   ReconnectPolicy
	shutdown time.Duration

	mu       sync.Mutex
	settings Settings
	changed  chan struct{}

	// Owned by the goroutine running the loop.
	state  State
	handle scanner.Handle
	entry  store.Entry
	// published is what Discord shows when known is true. A nil activity
	// means nothing is shown.
	published *discord.Activity
	known     bool
	// online is false from a failed publish until a reconnect completes.
	online bool
	// notFound remembers ids already reported as missing from the store.
	notFound map[string]bool
}

// New returns a loop in the Idle state. Nothing is published until Run.
func New(opts Options) *Loop {
	l := &Loop{
		scanner:  opts.Scanner,
		resolver: opts.Resolver,
		presence: opts.Presence,
		interval: opts.Interval,
		policy:   opts.Policy,
		shutdown: opts.ShutdownTimeout,
		settings: opts.Settings,
		changed:  make(chan struct{}, 1),
		known:    true,
		notFound: make(map[string]bool),
	}
	l.online = l.presence.Connected()
	if l.interval <= 0 {
		l.interval = 10 * time.Second
	}
	if l.shutdown <= 0 {
		l.shutdown = 2 * time.Second
	}
	return l
}

// Update replaces the live settings. The loop re-evaluates immediately.
func (l *Loop) Update(s Settings) {
	l.mu.Lock()
	l.settings = s
	l.mu.Unlock()
	select {
	case l.changed <- struct{}{}:
	default:
	}
}

func (l *Loop) currentSettings() Settings {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.settings
}

// Run ticks until ctx ends, then clears the activity and closes the
// presence connection. It returns nil on a clean shutdown.
func (l *Loop) Run(ctx context.Context) error {
	var (
		wg           sync.WaitGroup
		reconnecting bool
		reconnected  = make(chan error, 1)
	)
	defer l.stop(ctx)
	defer wg.Wait()

	startReconnect := func() {
		if reconnecting || (l.online && l.presence.Connected()) {
			return
		}
		reconnecting = true
		l.online = false
		wg.Go(func() {
			reconnected <- l.policy.Run(ctx, l.presence.Connect)
		})
	}

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	slog.Info("reconcile loop started", "interval", l.interval)
	l.tick(ctx)
	startReconnect()

	for {
		select {
		case <-ctx.Done():
			slog.Info("reconcile loop stopping", "state", l.state)
			return nil

		case err := <-reconnected:
			reconnecting = false
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				slog.Warn("Discord unavailable, will retry next tick", "error", err)
				continue
			}
			l.onConnected(ctx)

		case <-l.changed:
			slog.Debug("settings changed, re-evaluating")
			l.tick(ctx)
			startReconnect()

		case <-ticker.C:
			l.tick(ctx)
			startReconnect()
		}
	}
}

// onConnected applies the latest desired state to a new connection.
func (l *Loop) onConnected(ctx context.Context) {
	slog.Info("connected to Discord", "state", l.state)
	// A fresh connection shows nothing for this process.
	l.published, l.known = nil, true
	l.online = true
	l.publish(ctx)
}

// stop abandons ctx, clears what is shown and closes the connection.
func (l *Loop) stop(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.shutdown)
	defer cancel()

	if l.presence.Connected() && !(l.known && l.published == nil) {
		if err := l.presence.ClearActivity(ctx); err != nil {
			slog.Warn("failed to clear activity on shutdown", "error", err)
		} else {
			slog.Debug("activity cleared on shutdown")
		}
	}
	if err := l.presence.Close(); err != nil {
		slog.Debug("closing presence connection", "error", err)
	}
}

// ///////////////////////////////////////////////
// Tick
// ///////////////////////////////////////////////

// tick runs one scan-reconcile-publish pass.
func (l *Loop) tick(ctx context.Context) {
	settings := l.currentSettings()

	handles, err := l.scanner.Scan()
	if err != nil {
		slog.Warn("process scan failed", "error", err)
		handles = nil
	}

	var target *scanner.Handle
	for i := range handles {
		if settings.ignored(handles[i]) {
			slog.Log(ctx, logger.LevelTrace, "ignoring game", "app_id", handles[i].Identifier)
			continue
		}
		target = &handles[i]
		break
	}

	switch {
	case target == nil:
		if l.state.Active() {
			slog.Info("game stopped", "app_id", l.state.Identifier)
		}
		l.setIdle()

	case target.Identifier == l.state.Identifier:
		// Same game: only a settings change can alter the activity.

	default:
		if l.state.Active() {
			slog.Info("game switched", "from", l.state.Identifier, "to", target.Identifier)
			l.setIdle()
			l.publish(ctx)
		}
		l.activate(ctx, *target)
	}

	l.publish(ctx)
}

func (l *Loop) setIdle() {
	l.state = State{}
	l.handle = scanner.Handle{}
	l.entry = store.Entry{}
}

// activate resolves h and makes it the desired state. Failure leaves the
// loop Idle.
func (l *Loop) activate(ctx context.Context, h scanner.Handle) {
	entry, err := l.resolver.Resolve(ctx, h.Identifier)
	if err != nil {
		switch {
		case ctx.Err() != nil:
		case errors.Is(err, store.ErrNotFound):
			if !l.notFound[h.Identifier] {
				l.notFound[h.Identifier] = true
				slog.Info("game not in store, staying idle", "app_id", h.Identifier, "pid", h.PID)
			}
		default:
			slog.Warn("failed to resolve game", "app_id", h.Identifier, "pid", h.PID, "error", err)
		}
		return
	}

	slog.Info("game detected", "app_id", h.Identifier, "title", entry.Title, "pid", h.PID)
	l.state = State{Identifier: h.Identifier}
	l.handle = h
	l.entry = entry
}

// desired renders the activity for the current state.
func (l *Loop) desired() *discord.Activity {
	if !l.state.Active() {
		return nil
	}
	return BuildActivity(l.handle, l.entry, l.currentSettings())
}

// publish makes Discord show the desired activity. While disconnected it
// does nothing; the desired state is applied after reconnecting.
func (l *Loop) publish(ctx context.Context) {
	want := l.desired()
	if l.known && sameActivity(l.published, want) {
		return
	}
	if ctx.Err() != nil || !l.online {
		return
	}
	if !l.presence.Connected() {
		l.online = false
		return
	}

	var err error
	if want == nil {
		err = l.presence.ClearActivity(ctx)
	} else {
		err = l.presence.SetActivity(ctx, want)
	}

	switch {
	case err == nil:
		l.published, l.known = want, true
		if want == nil {
			slog.Debug("activity cleared")
		} else {
			slog.Debug("activity set", "details", want.Details, "state", want.State)
		}
	case errors.Is(err, discord.ErrCommandRejected):
		// Resending the same payload would be rejected again.
		slog.Warn("Discord rejected activity", "error", err)
		l.published, l.known = want, true
	default:
		if ctx.Err() == nil {
			slog.Warn("failed to publish activity", "error", err)
		}
		l.known = false
		if !l.presence.Connected() {
			l.online = false
		}
	}
}
