// Package version carries the build identity of the sauai binary.
package version

import (
	"fmt"
	"runtime"
)

// Set via ldflags at build time:
//
//	go build -ldflags "-X github.com/apversus/sauai/internal/version.Version=1.0.0
//	  -X github.com/apversus/sauai/internal/version.Commit=abc123
//	  -X github.com/apversus/sauai/internal/version.Date=2026-01-01" ./cmd/sauai
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Name is the program name used in version strings and outbound requests.
const Name = "sauai"

// Info returns the one-line build description printed by "sauai version".
func Info() string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s, %s, %s/%s)",
		Name, Version, short(Commit), Date, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// UserAgent identifies the assistant to the model providers and to its own
// web API.
func UserAgent() string {
	return Name + "/" + Version
}

func short(s string) string {
	if len(s) > 7 {
		return s[:7]
	}
	return s
}
