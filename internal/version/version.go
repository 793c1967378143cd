package version

// Populated at build time via -ldflags.
var (
	Version = "0.1.0-dev"
	Commit  = "unknown"
)
