// Package version carries build metadata set with -ldflags -X.
package version

import "fmt"

var (
	// Version is the release version of platetrack.
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// Info is the build metadata as served by the status endpoint.
type Info struct {
	Version   string `json:"version"`
	GitSHA    string `json:"git_sha"`
	BuildTime string `json:"build_time"`
}

// Get returns the current build metadata.
func Get() Info {
	return Info{Version: Version, GitSHA: GitSHA, BuildTime: BuildTime}
}

// String formats the metadata for -version output.
func String() string {
	return fmt.Sprintf("platetrack %s (%s, built %s)", Version, GitSHA, BuildTime)
}
