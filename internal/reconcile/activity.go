package reconcile

import (
	"tools.zach/dev/protoncord/internal/discord"
	"tools.zach/dev/protoncord/internal/scanner"
	"tools.zach/dev/protoncord/internal/store"
)

// ///////////////////////////////////////////////
// Settings
// ///////////////////////////////////////////////

// Settings are the live-reloadable parts of the loop's behavior.
type Settings struct {
	// State is the second line of the activity.
	State string
	// ShowPoster uses the library poster (or header image) as large image.
	ShowPoster bool
	// ShowIcon uses the app icon as small image.
	ShowIcon bool
	// Ignore reports games that must be treated as not running.
	Ignore func(appID, executable string) bool
}

func (s Settings) ignored(h scanner.Handle) bool {
	return s.Ignore != nil && s.Ignore(h.Identifier, h.Executable)
}

// ///////////////////////////////////////////////
// Activity Mapping
// ///////////////////////////////////////////////

// BuildActivity renders the presence for a running game.
func BuildActivity(h scanner.Handle, e store.Entry, s Settings) *discord.Activity {
	a := &discord.Activity{
		Details: e.Title,
		State:   s.State,
	}
	if !h.StartTime.IsZero() {
		a.Timestamps = &discord.Timestamps{Start: h.StartTime.Unix()}
	}

	var assets discord.Assets
	if s.ShowPoster {
		if img := e.LargeImage(); img != "" {
			assets.LargeImage = img
			assets.LargeText = e.Title
		}
	}
	if s.ShowIcon && e.IconURL != "" {
		assets.SmallImage = e.IconURL
		assets.SmallText = e.Title
	}
	if assets != (discord.Assets{}) {
		a.Assets = &assets
	}
	return a
}

// sameActivity compares two activities by value. nil means cleared.
func sameActivity(a, b *discord.Activity) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Details != b.Details || a.State != b.State {
		return false
	}
	if (a.Timestamps == nil) != (b.Timestamps == nil) ||
		(a.Timestamps != nil && *a.Timestamps != *b.Timestamps) {
		return false
	}
	if (a.Assets == nil) != (b.Assets == nil) ||
		(a.Assets != nil && *a.Assets != *b.Assets) {
		return false
	}
	return true
}
