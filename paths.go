package main

import "path/filepath"

// Paths holds the location of every file optimode reads or writes.
// All paths are absolute and already joined with the configured root.
type Paths struct {
	Root string

	Blacklist      string
	UdevIntegrated string
	UdevPM         string
	Xorg           string
	ExtraXorg      string
	ExtraXorg90    string
	Modeset        string
	LightDMScript  string
	LightDMConfig  string
	SDDMXsetup     string
	DisplayManager string
	Cache          string
	XrandrBinary   string
	DebianVersion  string
	RedHatRelease  string
	ZypperBinary   string
	EndeavourOS    string
	DracutBinary   string
}

// NewPaths returns the standard file layout below root. An empty root means "/".
func NewPaths(root string) Paths {
	if root == "" {
		root = "/"
	}
	at := func(p string) string { return filepath.Join(root, p) }
	return Paths{
		Root:           root,
		Blacklist:      at("/etc/modprobe.d/blacklist-nvidia.conf"),
		UdevIntegrated: at("/lib/udev/rules.d/50-remove-nvidia.rules"),
		UdevPM:         at("/lib/udev/rules.d/80-nvidia-pm.rules"),
		Xorg:           at("/etc/X11/xorg.conf"),
		ExtraXorg:      at("/etc/X11/xorg.conf.d/10-nvidia.conf"),
		ExtraXorg90:    at("/usr/share/X11/xorg.conf.d/90-nvidia.conf"),
		Modeset:        at("/etc/modprobe.d/nvidia.conf"),
		LightDMScript:  at("/etc/lightdm/nvidia.sh"),
		LightDMConfig:  at("/etc/lightdm/lightdm.conf.d/20-nvidia.conf"),
		SDDMXsetup:     at("/usr/share/sddm/scripts/Xsetup"),
		DisplayManager: at("/etc/systemd/system/display-manager.service"),
		Cache:          at("/var/cache/optimode/cache.json"),
		XrandrBinary:   at("/usr/bin/xrandr"),
		DebianVersion:  at("/etc/debian_version"),
		RedHatRelease:  at("/etc/redhat-release"),
		ZypperBinary:   at("/usr/bin/zypper"),
		EndeavourOS:    at("/usr/lib/endeavouros-release"),
		DracutBinary:   at("/usr/bin/dracut"),
	}
}

// SDDMBackup is where the original Xsetup is kept while nvidia mode owns it.
func (p Paths) SDDMBackup() string {
	return p.SDDMXsetup + ".bak"
}

// Generated returns every artifact any mode may create, in removal order.
// The SDDM Xsetup is not listed; Cleanup restores it from its backup.
func (p Paths) Generated() []string {
	return []string{
		p.Blacklist,
		p.UdevIntegrated,
		p.UdevPM,
		p.Xorg,
		p.ExtraXorg,
		p.ExtraXorg90,
		p.Modeset,
		p.LightDMScript,
		p.LightDMConfig,
	}
}
