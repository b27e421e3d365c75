// Rescale Gallery - headless viewport and bulk actions over a media server
package main

import (
	"os"
	"slices"

	"github.com/rescale/rescale-gallery/internal/cli"
	"github.com/rescale/rescale-gallery/internal/timing"
	"github.com/rescale/rescale-gallery/internal/version"
)

// Version information
var (
	Version   = "v0.1.0"
	BuildTime = "2026-10-19"
)

func main() {
	version.Version = Version
	version.BuildTime = BuildTime

	// Enable timing output
	if slices.Contains(os.Args, "--timing") {
		os.Setenv(timing.EnvVar, "1")
		os.Args = slices.DeleteFunc(os.Args, func(a string) bool { return a == "--timing" })
	}

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
