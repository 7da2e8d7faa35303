package store

import (
	"fmt"
	"strings"
	"time"
)

// Entry is the presentable metadata of one store catalog entry.
type Entry struct {
	// Identifier is the store app id.
	Identifier string
	// Title is the display name. Never empty on a positive entry.
	Title string
	// IconURL is the small square app icon, when the page has one.
	IconURL string
	// HeaderURL is the og:image header capsule, when the page has one.
	HeaderURL string
	// PosterURL is the vertical library poster, set only after the CDN
	// confirmed it exists.
	PosterURL string
	// ResolvedAt is when the entry was produced.
	ResolvedAt time.Time
	// Negative marks a cached "does not exist" result.
	Negative bool
}

// LargeImage returns the best large artwork: poster, then header image.
func (e Entry) LargeImage() string {
	if e.PosterURL != "" {
		return e.PosterURL
	}
	return e.HeaderURL
}

// AppPath returns the store page path for id.
func AppPath(id string) string {
	return "/app/" + id + "/"
}

// PosterURL returns the library poster location for id under cdnBase.
func PosterURL(cdnBase, id string) string {
	return fmt.Sprintf("%s/steam/apps/%s/library_600x900_x2.jpg", strings.TrimRight(cdnBase, "/"), id)
}

// validID reports whether id looks like a store app id.
func validID(id string) bool {
	if id == "" || id == "0" || len(id) > 10 {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
