// Package version derives the factoryimg version from the build info embedded
// by the Go toolchain.
package version

import (
	"runtime/debug"
	"strings"
)

const repoURL = "https://github.com/openwrt-tools/factoryimg"

type revision struct {
	id       string
	modified bool
}

func readRevision() (revision, bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return revision{}, false
	}
	var rev revision
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev.id = s.Value
		case "vcs.modified":
			rev.modified = s.Value == "true"
		}
	}
	if rev.id != "" {
		return rev, true
	}
	// Installed with go install, the main module version looks like
	// v0.0.0-20240107144322-7a5757f46310.
	if idx := strings.LastIndexByte(info.Main.Version, '-'); idx > -1 {
		return revision{id: info.Main.Version[idx+1:]}, true
	}
	return revision{}, false
}

// Read returns a link to the commit the binary was built from.
func Read() string {
	rev, ok := readRevision()
	if !ok {
		return "<unknown>"
	}
	s := repoURL + "/commit/" + rev.id
	if rev.modified {
		s += " (modified)"
	}
	return s
}

// ReadBrief returns a short "g<revision>" identifier, suffixed with + for
// builds from a modified working tree.
func ReadBrief() string {
	rev, ok := readRevision()
	if !ok {
		return "<unknown>"
	}
	id := rev.id
	if len(id) > 6 {
		id = id[:6]
	}
	if rev.modified {
		id += "+"
	}
	return "g" + id
}
