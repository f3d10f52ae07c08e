// Package version carries build metadata set at link time, for example
// -ldflags "-X github.com/banshee-data/atomfit/internal/version.Version=v1.2.0".
package version

import "fmt"

var (
	Version   = "dev"
	GitSHA    = "unknown"
	BuildTime = "unknown"
)

// String formats the build metadata for -version output.
func String() string {
	return fmt.Sprintf("atomfit %s (%s, built %s)", Version, GitSHA, BuildTime)
}
