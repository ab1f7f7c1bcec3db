package version

import (
	"runtime/debug"
	"strings"
)

func init() {
	buildInfo = moduleBuildInfo
}

// moduleBuildInfo lists the main module and its dependencies, one per line.
func moduleBuildInfo() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "not built in module mode"
	}
	var b strings.Builder
	b.WriteString(" mod\t" + info.Main.Path + "\t" + info.Main.Version + "\n")
	for _, dep := range info.Deps {
		b.WriteString(" dep\t" + dep.Path + "\t" + dep.Version)
		if dep.Replace != nil {
			b.WriteString("\t=> " + dep.Replace.Path + "\t" + dep.Replace.Version)
		}
		b.WriteString("\n")
	}
	return b.String()
}
