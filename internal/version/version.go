// Package version carries the build metadata stamped into the lodestone
// binary at link time:
//
//	go build -ldflags "-X github.com/lodestone-search/lodestone/internal/version.Version=v1.0.0"
package version

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)
