// Package version reports the build version of stressor binaries.
package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"time"
)

const defaultModule = "pkt.systems/stressor"

// buildVersion is set via -ldflags "-X pkt.systems/stressor/internal/version.buildVersion=...".
var buildVersion = ""

// Current returns the ldflags version, the module version, a pseudo-version
// derived from VCS stamps, or v0.0.0-unknown, in that order of preference.
func Current() string {
	if v := strings.TrimSpace(buildVersion); v != "" {
		return v
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "v0.0.0-unknown"
	}
	if v := strings.TrimSpace(info.Main.Version); v != "" && v != "(devel)" {
		return v
	}
	if v := pseudoVersion(info.Settings); v != "" {
		return v
	}
	return "v0.0.0-unknown"
}

// Module returns the main module path.
func Module() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		if path := strings.TrimSpace(info.Main.Path); path != "" {
			return path
		}
	}
	return defaultModule
}

// String renders module, version and toolchain on one line.
func String() string {
	return Module() + " " + Current() + " (" + runtime.Version() + " " + runtime.GOOS + "/" + runtime.GOARCH + ")"
}

func pseudoVersion(settings []debug.BuildSetting) string {
	var revision, stamp string
	var modified bool
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			revision = s.Value
		case "vcs.time":
			stamp = s.Value
		case "vcs.modified":
			modified = s.Value == "true"
		}
	}
	if revision == "" || stamp == "" {
		return ""
	}
	at, err := time.Parse(time.RFC3339, stamp)
	if err != nil {
		return ""
	}
	v := "v0.0.0-" + at.UTC().Format("20060102150405") + "-" + revision[:min(len(revision), 12)]
	if modified {
		v += "+dirty"
	}
	return v
}
