// Package version holds the build version information for omnidex.
package version

// Version is the current omnidex version.
// Overridden at build time via -ldflags "-X github.com/omnidex-search/omnidex/pkg/version.Version=...".
var Version = "0.3.0-dev"
