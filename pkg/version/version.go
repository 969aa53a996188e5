// Package version stamps binaries with their build identity. The commit
// comes from an -ldflags override when one is provided, otherwise from the
// VCS metadata the Go toolchain embeds, otherwise "dev".
package version

import "runtime/debug"

// AppName prefixes version strings in logs and handshakes.
const AppName = "spectra"

// gitCommitOverride can be injected with -ldflags for builds that happen
// outside a git checkout, such as container image builds.
var gitCommitOverride string

// GitCommit is the short commit hash, or "dev" when nothing is known.
var GitCommit = initGitCommit()

func initGitCommit() string {
	if gitCommitOverride != "" {
		return shorten(gitCommitOverride)
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			return shorten(s.Value)
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

// Full renders the combined identity, e.g. "spectra/a3f8c2d1".
func Full() string {
	return AppName + "/" + GitCommit
}
