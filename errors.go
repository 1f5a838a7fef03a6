package main

import "errors"

var (
	// ErrHardwareNotFound means lspci reported no NVIDIA VGA or 3D controller.
	ErrHardwareNotFound = errors.New("could not find Nvidia GPU")

	// ErrNotHybrid is returned when the cache is created outside hybrid mode.
	ErrNotHybrid = errors.New("cache creation requires that the system be in the hybrid Optimus mode")

	// ErrNoCacheNoHybrid is returned when the discrete GPU bus id is needed
	// but there is neither a cache file nor a live hybrid system to probe.
	ErrNoCacheNoHybrid = errors.New("no cache present; operation requires that the system be in the hybrid Optimus mode")

	// ErrCacheCorrupt wraps read and parse failures of an existing cache file.
	ErrCacheCorrupt = errors.New("cache file is corrupt")

	// ErrPermissionDenied is returned by requireRoot for non-root callers.
	ErrPermissionDenied = errors.New("this operation requires root privileges")
)
