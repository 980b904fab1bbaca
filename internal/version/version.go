// Package version holds build metadata, set via ldflags.
package version

// Overridden at build time with
// -ldflags "-X github.com/egorin/apkhub/internal/version.Version=...".
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)
