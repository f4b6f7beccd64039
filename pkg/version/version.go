// Package version contains the build's version metadata.
package version

import "fmt"

var (
	// PraxisVersion is overridden at build time via -ldflags.
	PraxisVersion = "0.0.0-dev"

	// GitCommit is the source revision the binary was built from.
	GitCommit = "unknown"
)

// String returns a human-readable version line.
func String() string {
	return fmt.Sprintf("praxis %s (%s)", PraxisVersion, GitCommit)
}
