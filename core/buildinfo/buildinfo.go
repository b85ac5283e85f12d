// Package buildinfo carries version metadata stamped at link time:
//
//	go build -ldflags "-X 'github.com/m3rciful/studybot/core/buildinfo.Version=v0.3.0' \
//	  -X 'github.com/m3rciful/studybot/core/buildinfo.Commit=$(git rev-parse --short HEAD)' \
//	  -X 'github.com/m3rciful/studybot/core/buildinfo.Date=$(date -u +%FT%TZ)'"
package buildinfo

import "fmt"

var (
	// Version is the release tag.
	Version = "dev"
	// Commit is the short VCS revision.
	Commit = "local"
	// Date is the RFC3339 build time.
	Date = ""
)

// String renders a one-line summary for `studybot version`.
func String() string {
	date := Date
	if date == "" {
		date = "unknown"
	}
	return fmt.Sprintf("studybot %s (commit %s, built %s)", Version, Commit, date)
}
