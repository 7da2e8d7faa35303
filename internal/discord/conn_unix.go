// conn_unix.go implements Discord IPC socket discovery for Unix-like systems.
// It probes XDG_RUNTIME_DIR, TMPDIR, /tmp, Snap, and Flatpak socket paths.

//go:build !windows

package discord

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
)

// ///////////////////////////////////////////////
// Socket Discovery
// ///////////////////////////////////////////////

// variants are socket name prefixes for Discord builds (stable, Canary, PTB).
var variants = []string{"discord-ipc", "discordcanary-ipc", "discordptb-ipc"}

// socketPaths lists every candidate socket in probe order.
func socketPaths() []string {
	var dirs []string
	for _, env := range []string{"XDG_RUNTIME_DIR", "TMPDIR", "TMP", "TEMP"} {
		if dir := os.Getenv(env); dir != "" {
			dirs = append(dirs, dir)
		}
	}
	dirs = append(dirs, "/tmp")

	uid := strconv.Itoa(os.Getuid())
	runUser := filepath.Join("/run/user", uid)
	for _, sd := range []string{"snap.discord", "snap.discord-canary", "snap.discord-ptb"} {
		dirs = append(dirs, filepath.Join(runUser, sd))
	}
	for _, app := range []string{"com.discordapp.Discord", "com.discordapp.DiscordCanary", "com.discordapp.DiscordPTB"} {
		dirs = append(dirs, filepath.Join(runUser, "app", app))
	}

	seen := map[string]bool{}
	var paths []string
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			paths = append(paths, p)
		}
	}
	for _, dir := range dirs {
		for _, v := range variants {
			for i := range maxIPCSlots {
				add(filepath.Join(dir, fmt.Sprintf("%s-%d", v, i)))
			}
		}
	}
	return paths
}

// connectToDiscord dials each candidate socket and returns the first that
// accepts. Missing paths fail fast, so probing all of them is cheap.
func connectToDiscord(ctx context.Context) (net.Conn, error) {
	var d net.Dialer
	for _, path := range socketPaths() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if _, err := os.Stat(path); err != nil {
			continue
		}
		conn, err := d.DialContext(ctx, "unix", path)
		if err == nil {
			return conn, nil
		}
	}
	return nil, ErrIPCNotAvailable
}
