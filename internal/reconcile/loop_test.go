package reconcile

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
	"tools.zach/dev/protoncord/internal/discord"
	"tools.zach/dev/protoncord/internal/scanner"
	"tools.zach/dev/protoncord/internal/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ///////////////////////////////////////////////
// Fakes
// ///////////////////////////////////////////////

type fakeScanner struct {
	mu      sync.Mutex
	handles []scanner.Handle
	err     error
}

func (s *fakeScanner) set(handles ...scanner.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles, s.err = handles, nil
}

func (s *fakeScanner) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles, s.err = nil, err
}

func (s *fakeScanner) Scan() ([]scanner.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.handles), s.err
}

type fakeResolver struct {
	mu      sync.Mutex
	entries map[string]store.Entry
	errs    map[string]error
	calls   []string
}

func (r *fakeResolver) Resolve(_ context.Context, id string) (store.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, id)
	if err, ok := r.errs[id]; ok {
		return store.Entry{}, err
	}
	if e, ok := r.entries[id]; ok {
		return e, nil
	}
	return store.Entry{}, fmt.Errorf("%w: app %s", store.ErrNotFound, id)
}

// fakePresence records calls as "connect", "set:<details>", "clear" and
// "close". A failing set or clear drops the connection, as the real client
// does on transport errors.
type fakePresence struct {
	mu         sync.Mutex
	connected  bool
	connectErr error
	publishErr error
	calls      []string
	activities []*discord.Activity
}

func (p *fakePresence) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "connect")
	if p.connectErr != nil {
		return p.connectErr
	}
	p.connected = true
	return nil
}

func (p *fakePresence) SetActivity(_ context.Context, a *discord.Activity) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "set:"+a.Details)
	p.activities = append(p.activities, a)
	return p.publishLocked()
}

func (p *fakePresence) ClearActivity(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "clear")
	return p.publishLocked()
}

func (p *fakePresence) publishLocked() error {
	if !p.connected {
		return discord.ErrNotConnected
	}
	if p.publishErr != nil {
		if !errors.Is(p.publishErr, discord.ErrCommandRejected) {
			p.connected = false
		}
		return p.publishErr
	}
	return nil
}

func (p *fakePresence) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, "close")
	p.connected = false
	return nil
}

func (p *fakePresence) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *fakePresence) snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.calls)
}

func (p *fakePresence) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls, p.activities = nil, nil
}

// ///////////////////////////////////////////////
// Fixtures
// ///////////////////////////////////////////////

var (
	tf2    = scanner.Handle{PID: 300, Identifier: "440", StartTime: time.Unix(1_700_000_050, 0), Executable: "/g/steamapps/common/Team Fortress 2/hl2.exe"}
	portal = scanner.Handle{PID: 400, Identifier: "620", StartTime: time.Unix(1_700_000_090, 0), Executable: "/g/steamapps/common/Portal 2/portal2.exe"}
)

func newResolver() *fakeResolver {
	return &fakeResolver{
		entries: map[string]store.Entry{
			"440": {Identifier: "440", Title: "Team Fortress 2", IconURL: "https://cdn/440/icon.jpg", PosterURL: "https://cdn/440/poster.jpg"},
			"620": {Identifier: "620", Title: "Portal 2", HeaderURL: "https://cdn/620/header.jpg"},
		},
		errs: map[string]error{},
	}
}

func defaultSettings() Settings {
	return Settings{State: "Playing on Linux using Proton", ShowPoster: true, ShowIcon: true}
}

type harness struct {
	scan     *fakeScanner
	resolver *fakeResolver
	presence *fakePresence
	loop     *Loop
}

func newHarness(t *testing.T, connected bool) *harness {
	t.Helper()
	h := &harness{
		scan:     &fakeScanner{},
		resolver: newResolver(),
		presence: &fakePresence{connected: connected},
	}
	h.loop = New(Options{
		Scanner:  h.scan,
		Resolver: h.resolver,
		Presence: h.presence,
		Interval: 10 * time.Millisecond,
		Policy:   ReconnectPolicy{MaxAttempts: 3, Initial: time.Millisecond, Max: 4 * time.Millisecond, Multiplier: 2},
		Settings: defaultSettings(),
	})
	return h
}

func assertCalls(t *testing.T, p *fakePresence, want ...string) {
	t.Helper()
	if diff := cmp.Diff(want, p.snapshot()); diff != "" {
		t.Errorf("presence calls (-want +got):\n%s", diff)
	}
}

// ///////////////////////////////////////////////
// Transitions
// ///////////////////////////////////////////////

func TestTick_SetOnceThenClearOnce(t *testing.T) {
	h := newHarness(t, true)
	ctx := t.Context()

	h.scan.set(tf2)
	for range 3 {
		h.loop.tick(ctx)
	}
	if got := h.loop.state.String(); got != "active(440)" {
		t.Errorf("state = %s, want active(440)", got)
	}

	h.scan.set()
	for range 3 {
		h.loop.tick(ctx)
	}
	if h.loop.state.Active() {
		t.Errorf("state = %s, want idle", h.loop.state)
	}

	assertCalls(t, h.presence, "set:Team Fortress 2", "clear")
	if n := len(h.resolver.calls); n != 1 {
		t.Errorf("resolver calls = %d, want 1", n)
	}
}

func TestTick_PublishedActivity(t *testing.T) {
	h := newHarness(t, true)
	h.scan.set(tf2)
	h.loop.tick(t.Context())

	want := &discord.Activity{
		Details:    "Team Fortress 2",
		State:      "Playing on Linux using Proton",
		Timestamps: &discord.Timestamps{Start: 1_700_000_050},
		Assets: &discord.Assets{
			LargeImage: "https://cdn/440/poster.jpg",
			LargeText:  "Team Fortress 2",
			SmallImage: "https://cdn/440/icon.jpg",
			SmallText:  "Team Fortress 2",
		},
	}
	if len(h.presence.activities) != 1 {
		t.Fatalf("activities = %d, want 1", len(h.presence.activities))
	}
	if diff := cmp.Diff(want, h.presence.activities[0]); diff != "" {
		t.Errorf("activity (-want +got):\n%s", diff)
	}
}

func TestTick_Switch(t *testing.T) {
	h := newHarness(t, true)
	ctx := t.Context()

	h.scan.set(tf2)
	h.loop.tick(ctx)
	h.scan.set(portal)
	h.loop.tick(ctx)
	h.loop.tick(ctx)

	assertCalls(t, h.presence, "set:Team Fortress 2", "clear", "set:Portal 2")
	if h.loop.state.Identifier != "620" {
		t.Errorf("state = %s, want active(620)", h.loop.state)
	}
}

func TestTick_EarliestGameWins(t *testing.T) {
	h := newHarness(t, true)
	// The scanner orders handles by start time.
	h.scan.set(tf2, portal)
	h.loop.tick(t.Context())

	assertCalls(t, h.presence, "set:Team Fortress 2")
}

func TestTick_ResolveFailureStaysIdle(t *testing.T) {
	for _, sentinel := range []error{store.ErrNotFound, store.ErrNetwork, store.ErrParse} {
		t.Run(sentinel.Error(), func(t *testing.T) {
			h := newHarness(t, true)
			h.resolver.errs["440"] = fmt.Errorf("resolve: %w", sentinel)

			h.scan.set(tf2)
			h.loop.tick(t.Context())
			h.loop.tick(t.Context())

			if h.loop.state.Active() {
				t.Errorf("state = %s, want idle", h.loop.state)
			}
			assertCalls(t, h.presence)
			// The loop retries each tick; the cache decides what is fetched.
			if n := len(h.resolver.calls); n != 2 {
				t.Errorf("resolver calls = %d, want 2", n)
			}
		})
	}
}

func TestTick_SwitchToUnresolvable(t *testing.T) {
	h := newHarness(t, true)
	h.resolver.errs["620"] = store.ErrNetwork

	h.scan.set(tf2)
	h.loop.tick(t.Context())
	h.scan.set(portal)
	h.loop.tick(t.Context())

	assertCalls(t, h.presence, "set:Team Fortress 2", "clear")
	if h.loop.state.Active() {
		t.Errorf("state = %s, want idle", h.loop.state)
	}
}

func TestTick_ScanErrorCountsAsEmpty(t *testing.T) {
	h := newHarness(t, true)
	h.scan.set(tf2)
	h.loop.tick(t.Context())

	h.scan.fail(scanner.ErrScan)
	h.loop.tick(t.Context())

	assertCalls(t, h.presence, "set:Team Fortress 2", "clear")
}

func TestTick_IgnoredGames(t *testing.T) {
	h := newHarness(t, true)
	s := defaultSettings()
	s.Ignore = func(appID, executable string) bool { return appID == "440" }
	h.loop.Update(s)

	h.scan.set(tf2)
	h.loop.tick(t.Context())
	assertCalls(t, h.presence)
	if len(h.resolver.calls) != 0 {
		t.Errorf("ignored game was resolved: %v", h.resolver.calls)
	}

	h.scan.set(tf2, portal)
	h.loop.tick(t.Context())
	assertCalls(t, h.presence, "set:Portal 2")
}

func TestTick_SettingsChangeRepublishes(t *testing.T) {
	h := newHarness(t, true)
	h.scan.set(tf2)
	h.loop.tick(t.Context())

	s := defaultSettings()
	s.State = "Gaming"
	s.ShowIcon = false
	h.loop.Update(s)
	h.loop.tick(t.Context())
	h.loop.tick(t.Context())

	assertCalls(t, h.presence, "set:Team Fortress 2", "set:Team Fortress 2")
	last := h.presence.activities[1]
	if last.State != "Gaming" || last.Assets.SmallImage != "" {
		t.Errorf("republished activity = %+v, assets %+v", last, last.Assets)
	}
	if n := len(h.resolver.calls); n != 1 {
		t.Errorf("resolver calls = %d, want 1", n)
	}
}

func TestTick_IgnoringActiveGameClears(t *testing.T) {
	h := newHarness(t, true)
	h.scan.set(tf2)
	h.loop.tick(t.Context())

	s := defaultSettings()
	s.Ignore = func(string, string) bool { return true }
	h.loop.Update(s)
	h.loop.tick(t.Context())

	assertCalls(t, h.presence, "set:Team Fortress 2", "clear")
}

func TestTick_RejectedActivityNotResent(t *testing.T) {
	h := newHarness(t, true)
	h.presence.publishErr = fmt.Errorf("%w: bad payload", discord.ErrCommandRejected)

	h.scan.set(tf2)
	h.loop.tick(t.Context())
	h.loop.tick(t.Context())

	assertCalls(t, h.presence, "set:Team Fortress 2")
	if !h.presence.Connected() {
		t.Error("rejected command dropped the connection")
	}
}

// ///////////////////////////////////////////////
// Disconnects
// ///////////////////////////////////////////////

func TestTick_DisconnectKeepsLatestDesiredState(t *testing.T) {
	h := newHarness(t, true)
	ctx := t.Context()

	h.presence.publishErr = errors.New("broken pipe")
	h.scan.set(tf2)
	h.loop.tick(ctx)
	if h.presence.Connected() {
		t.Fatal("publish failure should drop the connection")
	}

	// While disconnected, scanning continues but nothing is sent.
	h.presence.reset()
	h.scan.set(portal)
	h.loop.tick(ctx)
	h.scan.set(tf2)
	h.loop.tick(ctx)
	h.scan.set(portal)
	h.loop.tick(ctx)
	assertCalls(t, h.presence)

	// Reconnect applies only the final state.
	h.presence.publishErr = nil
	if err := h.loop.policy.Run(ctx, h.presence.Connect); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	h.loop.onConnected(ctx)
	h.loop.tick(ctx)

	assertCalls(t, h.presence, "connect", "set:Portal 2")
}

func TestTick_DisconnectWhileIdleAfterGameEnds(t *testing.T) {
	h := newHarness(t, true)
	ctx := t.Context()

	h.scan.set(tf2)
	h.loop.tick(ctx)

	h.presence.mu.Lock()
	h.presence.connected = false
	h.presence.mu.Unlock()
	h.scan.set()
	h.loop.tick(ctx)

	h.presence.reset()
	if err := h.presence.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	h.loop.onConnected(ctx)

	// A new connection shows nothing, so there is nothing to clear.
	assertCalls(t, h.presence, "connect")
}

// ///////////////////////////////////////////////
// Run
// ///////////////////////////////////////////////

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func runLoop(t *testing.T, h *harness) (cancel func()) {
	t.Helper()
	ctx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.loop.Run(ctx) }()
	return func() {
		stop()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("Run returned %v", err)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("Run did not return after cancel")
		}
	}
}

func TestRun_WaitsForDiscordThenPublishes(t *testing.T) {
	h := newHarness(t, false)
	h.scan.set(tf2)

	stop := runLoop(t, h)
	waitFor(t, "activity", func() bool {
		return slices.Contains(h.presence.snapshot(), "set:Team Fortress 2")
	})
	stop()

	assertCalls(t, h.presence, "connect", "set:Team Fortress 2", "clear", "close")
}

func TestRun_GameEndsBeforeShutdown(t *testing.T) {
	h := newHarness(t, true)
	h.scan.set(tf2)

	stop := runLoop(t, h)
	waitFor(t, "activity", func() bool {
		return slices.Contains(h.presence.snapshot(), "set:Team Fortress 2")
	})
	h.scan.set()
	waitFor(t, "clear", func() bool {
		return slices.Contains(h.presence.snapshot(), "clear")
	})
	stop()

	// Nothing is shown at shutdown, so no second clear.
	assertCalls(t, h.presence, "set:Team Fortress 2", "clear", "close")
}

func TestRun_ReconnectsAfterDrop(t *testing.T) {
	h := newHarness(t, true)
	h.presence.mu.Lock()
	h.presence.publishErr = errors.New("broken pipe")
	h.presence.mu.Unlock()
	h.scan.set(tf2)

	stop := runLoop(t, h)
	waitFor(t, "reconnect", func() bool {
		return slices.Contains(h.presence.snapshot(), "connect")
	})
	h.presence.mu.Lock()
	h.presence.publishErr = nil
	h.presence.mu.Unlock()

	waitFor(t, "republish", func() bool {
		h.presence.mu.Lock()
		defer h.presence.mu.Unlock()
		return h.presence.connected && len(h.presence.activities) >= 2
	})
	stop()

	calls := h.presence.snapshot()
	if calls[len(calls)-2] != "clear" || calls[len(calls)-1] != "close" {
		t.Errorf("shutdown calls = %v, want clear then close", calls)
	}
}

func TestRun_DiscordNeverAvailable(t *testing.T) {
	h := newHarness(t, false)
	h.presence.connectErr = discord.ErrIPCNotAvailable
	h.scan.set(tf2)

	stop := runLoop(t, h)
	waitFor(t, "several connect attempts", func() bool {
		n := 0
		for _, c := range h.presence.snapshot() {
			if c == "connect" {
				n++
			}
		}
		return n >= 4
	})
	stop()

	for _, c := range h.presence.snapshot() {
		if c != "connect" && c != "close" {
			t.Errorf("unexpected presence call %q while Discord is down", c)
		}
	}
	if !h.loop.state.Active() {
		t.Error("loop should still track the running game")
	}
}

func TestRun_UpdateTriggersTick(t *testing.T) {
	h := newHarness(t, true)
	h.loop.interval = time.Hour
	h.scan.set(tf2)

	stop := runLoop(t, h)
	waitFor(t, "first activity", func() bool {
		return len(h.presence.snapshot()) == 1
	})

	s := defaultSettings()
	s.State = "Gaming"
	h.loop.Update(s)
	waitFor(t, "republish", func() bool {
		return len(h.presence.snapshot()) == 2
	})
	stop()
}
