// Package buildinfo holds version information set at link time:
//
//	go build -ldflags "-X github.com/modoterra/logsource/internal/buildinfo.Version=v0.3.0"
package buildinfo

import (
	"fmt"
	"runtime/debug"
)

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func init() {
	if Version != "dev" {
		return
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	if v := info.Main.Version; v != "" && v != "(devel)" {
		Version = v
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if len(s.Value) > 12 {
				Commit = s.Value[:12]
			} else {
				Commit = s.Value
			}
		case "vcs.time":
			Date = s.Value
		}
	}
}

// String formats the version line printed by both binaries.
func String(program string) string {
	return fmt.Sprintf("%s %s (%s) built %s", program, Version, Commit, Date)
}
