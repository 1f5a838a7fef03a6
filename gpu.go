package main

import (
	"fmt"
	"os"
)

// Mode is one of the three mutually exclusive graphics configurations.
type Mode string

const (
	ModeIntegrated Mode = "integrated"
	ModeHybrid     Mode = "hybrid"
	ModeNvidia     Mode = "nvidia"
)

// Modes lists the supported modes in the order they are shown to users.
var Modes = []Mode{ModeIntegrated, ModeHybrid, ModeNvidia}

// ParseMode converts a command-line argument into a Mode.
func ParseMode(s string) (Mode, error) {
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown graphics mode %q (valid: integrated, hybrid, nvidia)", s)
}

// ModeDetector reports which mode is currently active.
type ModeDetector interface {
	Detect() Mode
}

// MarkerDetector infers the active mode from the generated files on disk.
// Nothing else records the mode, so a fresh process sees the same answer.
type MarkerDetector struct {
	Paths Paths
}

// Detect checks the integrated markers before the nvidia markers and
// falls back to hybrid when neither pair is complete.
func (d MarkerDetector) Detect() Mode {
	switch {
	case fileExists(d.Paths.Blacklist) && fileExists(d.Paths.UdevIntegrated):
		return ModeIntegrated
	case fileExists(d.Paths.Xorg) && fileExists(d.Paths.Modeset):
		return ModeNvidia
	default:
		return ModeHybrid
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
