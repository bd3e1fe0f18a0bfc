package version

import (
	"fmt"
	"runtime/debug"
)

// ImageSchemaVersion increments when Dockerfile rendering changes in a way
// that must invalidate images built by older releases.
//
// Bump for:
//   - rendered instruction changes (order, layering, quoting)
//   - label format changes
//   - runtime identity or PATH conventions
//
// Don't bump for:
//   - CLI-only changes
//   - verification changes
const ImageSchemaVersion = 1

const ImageSchemaVersionLabel = "appimg.image_schema_version"

// Version is set with -ldflags "-X github.com/0xa1bed0/appimg/internal/version.Version=...".
var Version = ""

// Get returns the release version, falling back to the module build info.
func Get() string {
	if Version != "" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

func String() string {
	return fmt.Sprintf("appimg %s (image schema %d)", Get(), ImageSchemaVersion)
}
