// Package version reports the running build of the server. The commit is
// taken from an -ldflags override when one was baked in, otherwise from the
// VCS stamp the Go toolchain embeds, and falls back to "dev" for builds with
// neither (go test, source tarballs).
package version

import "runtime/debug"

// AppName prefixes version strings in logs and the startup banner.
const AppName = "cognition"

// commitOverride is injected with -ldflags for builds that happen outside a
// git checkout, such as container image builds.
var commitOverride string

// GitCommit holds the short commit hash identifying this build, or "dev".
var GitCommit = resolveCommit()

// Full renders the "<app>/<commit>" form used in log lines and user agents.
func Full() string {
	return AppName + "/" + GitCommit
}

func resolveCommit() string {
	if commitOverride != "" {
		return shorten(commitOverride)
	}
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, s := range info.Settings {
			if s.Key == "vcs.revision" && s.Value != "" {
				return shorten(s.Value)
			}
		}
	}
	return "dev"
}

func shorten(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}
