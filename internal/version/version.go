// Package version reports the build of the running binary.
package version

import (
	"runtime/debug"
	"strings"
)

// Version is set with -ldflags "-X .../internal/version.Version=v1.2.3".
// Builds without it fall back to the module version from go install.
var Version = "dev"

// Commit is the short VCS revision, when the toolchain recorded one.
var Commit = ""

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	if Version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
		Version = info.Main.Version
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && Commit == "" {
			Commit = shortRevision(s.Value)
		}
	}
}

// String returns "v1.2.3" or "v1.2.3 (abc1234)".
func String() string {
	if Commit == "" {
		return Version
	}
	return Version + " (" + Commit + ")"
}

func shortRevision(rev string) string {
	rev = strings.TrimSpace(rev)
	if len(rev) > 7 {
		return rev[:7]
	}
	return rev
}
