// Package version reports the build version embedded by the Go toolchain.
package version

import (
	"runtime/debug"
	"sync"
)

var (
	version     string
	versionOnce sync.Once
)

// Get returns the module version this binary was built from, or "(devel)"
// for local builds.
func Get() string {
	versionOnce.Do(func() {
		version = "(devel)"

		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}

		if info.Main.Version != "" {
			version = info.Main.Version
		}

		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && version == "(devel)" {
				revision := setting.Value
				if len(revision) > 12 {
					revision = revision[:12]
				}
				version = "(devel+" + revision + ")"
			}
		}
	})

	return version
}
