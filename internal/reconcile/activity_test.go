package reconcile

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"tools.zach/dev/protoncord/internal/discord"
	"tools.zach/dev/protoncord/internal/scanner"
	"tools.zach/dev/protoncord/internal/store"
)

func TestBuildActivity(t *testing.T) {
	h := scanner.Handle{Identifier: "440", StartTime: time.Unix(1_700_000_000, 0)}
	full := store.Entry{
		Title:     "Team Fortress 2",
		IconURL:   "icon",
		HeaderURL: "header",
		PosterURL: "poster",
	}

	tests := []struct {
		name     string
		handle   scanner.Handle
		entry    store.Entry
		settings Settings
		want     *discord.Activity
	}{
		{
			name:     "everything",
			handle:   h,
			entry:    full,
			settings: Settings{State: "On Proton", ShowPoster: true, ShowIcon: true},
			want: &discord.Activity{
				Details:    "Team Fortress 2",
				State:      "On Proton",
				Timestamps: &discord.Timestamps{Start: 1_700_000_000},
				Assets:     &discord.Assets{LargeImage: "poster", LargeText: "Team Fortress 2", SmallImage: "icon", SmallText: "Team Fortress 2"},
			},
		},
		{
			name:     "header fallback",
			handle:   h,
			entry:    store.Entry{Title: "Portal 2", HeaderURL: "header"},
			settings: Settings{ShowPoster: true, ShowIcon: true},
			want: &discord.Activity{
				Details:    "Portal 2",
				Timestamps: &discord.Timestamps{Start: 1_700_000_000},
				Assets:     &discord.Assets{LargeImage: "header", LargeText: "Portal 2"},
			},
		},
		{
			name:     "artwork disabled",
			handle:   h,
			entry:    full,
			settings: Settings{State: "s"},
			want: &discord.Activity{
				Details:    "Team Fortress 2",
				State:      "s",
				Timestamps: &discord.Timestamps{Start: 1_700_000_000},
			},
		},
		{
			name:     "no start time",
			handle:   scanner.Handle{Identifier: "440"},
			entry:    store.Entry{Title: "Team Fortress 2"},
			settings: Settings{ShowPoster: true},
			want:     &discord.Activity{Details: "Team Fortress 2"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildActivity(tt.handle, tt.entry, tt.settings)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("BuildActivity mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSameActivity(t *testing.T) {
	base := func() *discord.Activity {
		return &discord.Activity{
			Details:    "d",
			State:      "s",
			Timestamps: &discord.Timestamps{Start: 1},
			Assets:     &discord.Assets{LargeImage: "l"},
		}
	}
	changed := func(mut func(a *discord.Activity)) *discord.Activity {
		a := base()
		mut(a)
		return a
	}

	tests := []struct {
		name string
		a, b *discord.Activity
		want bool
	}{
		{"both nil", nil, nil, true},
		{"one nil", base(), nil, false},
		{"equal copies", base(), base(), true},
		{"details", base(), changed(func(a *discord.Activity) { a.Details = "x" }), false},
		{"state", base(), changed(func(a *discord.Activity) { a.State = "x" }), false},
		{"timestamp value", base(), changed(func(a *discord.Activity) { a.Timestamps.Start = 2 }), false},
		{"timestamp missing", base(), changed(func(a *discord.Activity) { a.Timestamps = nil }), false},
		{"asset value", base(), changed(func(a *discord.Activity) { a.Assets.SmallImage = "x" }), false},
		{"assets missing", base(), changed(func(a *discord.Activity) { a.Assets = nil }), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sameActivity(tt.a, tt.b); got != tt.want {
				t.Errorf("sameActivity = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSettings_Ignored(t *testing.T) {
	h := scanner.Handle{Identifier: "440", Executable: "/x/hl2.exe"}
	if (Settings{}).ignored(h) {
		t.Error("nil Ignore should ignore nothing")
	}
	s := Settings{Ignore: func(id, exe string) bool { return id == "440" && exe == "/x/hl2.exe" }}
	if !s.ignored(h) {
		t.Error("Ignore not consulted with id and executable")
	}
}
