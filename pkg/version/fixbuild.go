//go:build go1.18
// +build go1.18

package version

import (
	"runtime/debug"
	"strings"
)

func init() {
	fixBuild = buildInfoFixBuild
}

// buildInfoFixBuild replaces an unexpanded ident with the vcs revision
// recorded by the toolchain.
func buildInfoFixBuild(v *Version) {
	if !strings.HasPrefix(v.Build, "$Id") {
		return
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for i := range info.Settings {
		if info.Settings[i].Key == "vcs.revision" {
			v.Build = info.Settings[i].Value
			break
		}
	}
}
