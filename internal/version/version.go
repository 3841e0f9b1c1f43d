// Package version holds build metadata, set via -ldflags at release
// time.
package version

// Version is the semantic version of this build. "dev" for local
// builds.
var Version = "dev"
