package main

import (
	"fmt"
	"runtime/debug"
	"time"
)

// Version is set at link time (-ldflags "-X main.Version=...").
var Version = ""

// readBuildInfo is swapped in tests.
var readBuildInfo = debug.ReadBuildInfo

// ResolveVersion returns Version when set, otherwise a CalVer derived from
// the VCS commit time embedded by the Go toolchain, otherwise "dev".
func ResolveVersion() string {
	if Version != "" {
		return Version
	}
	info, ok := readBuildInfo()
	if !ok {
		return "dev"
	}
	for _, s := range info.Settings {
		if s.Key != "vcs.time" {
			continue
		}
		t, err := time.Parse(time.RFC3339, s.Value)
		if err != nil {
			break
		}
		return ComputeCalVerAt(t.UTC())
	}
	return "dev"
}

// ComputeCalVerAt computes a CalVer version in the format YYYY.DDD.HHMM
// where:
//   - YYYY = year (e.g., 2026)
//   - DDD  = day of year (1-366)
//   - HHMM = hour and minute in UTC (0000-2359)
func ComputeCalVerAt(t time.Time) string {
	hhmm := t.Hour()*100 + t.Minute()
	return fmt.Sprintf("%d.%d.%d", t.Year(), t.YearDay(), hhmm)
}
