package scanner

import (
	"strconv"
	"strings"
)

// ///////////////////////////////////////////////
// Proton Extraction
// ///////////////////////////////////////////////

// Rules describe how Steam launches a game through Proton.
type Rules struct {
	// Launchers are process names of the Steam launch wrapper.
	Launchers []string
	// PathFragment must appear in the path of the game's .exe argument.
	PathFragment string
	// AppIDEnv is the environment variable carrying the app id.
	AppIDEnv string
}

// DefaultRules matches Steam's "reaper" wrapper around Proton games.
func DefaultRules() Rules {
	return Rules{
		Launchers:    []string{"reaper"},
		PathFragment: "steamapps/common",
		AppIDEnv:     "SteamAppId",
	}
}

// appIDArg is the launch argument Steam passes to reaper.
const appIDArg = "AppId="

// ProtonExtractor returns an [ExtractFunc] for r. A process matches when its
// name is one of r.Launchers and its command line names exactly one Windows
// executable under r.PathFragment. The id comes from an AppId=<n> argument,
// falling back to r.AppIDEnv. Zero and non-numeric ids never match.
func ProtonExtractor(r Rules) ExtractFunc {
	launchers := make(map[string]bool, len(r.Launchers))
	for _, l := range r.Launchers {
		launchers[strings.ToLower(l)] = true
	}
	return func(p Process) (string, bool) {
		if !launchers[strings.ToLower(p.Name)] {
			return "", false
		}
		if !singleGameExe(p.Cmdline, r.PathFragment) {
			return "", false
		}
		for _, arg := range p.Cmdline {
			if v, ok := strings.CutPrefix(arg, appIDArg); ok {
				return normalizeID(v)
			}
		}
		if r.AppIDEnv != "" {
			if v, ok := p.Getenv(r.AppIDEnv); ok {
				return normalizeID(v)
			}
		}
		return "", false
	}
}

// singleGameExe reports whether args reference exactly one distinct .exe
// path containing fragment. Several candidates are ambiguous and rejected.
func singleGameExe(args []string, fragment string) bool {
	var found string
	for _, arg := range args {
		if !hasExeSuffix(arg) || !strings.Contains(arg, fragment) {
			continue
		}
		if found != "" && found != arg {
			return false
		}
		found = arg
	}
	return found != ""
}

// normalizeID accepts positive decimal ids and returns their canonical form.
func normalizeID(v string) (string, bool) {
	n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 32)
	if err != nil || n == 0 {
		return "", false
	}
	return strconv.FormatUint(n, 10), true
}
