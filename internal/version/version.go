// Package version carries build identification, set at link time via
// -ldflags "-X github.com/fernwatch/camtrap/internal/version.Version=...".
package version

var (
	// Version is the release tag or "dev" for local builds.
	Version = "dev"
	// GitSHA is the git commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)
