package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"

	"github.com/godbus/dbus/v5"
	"golang.org/x/sys/unix"
)

const (
	systemdDest      = "org.freedesktop.systemd1"
	systemdPath      = dbus.ObjectPath("/org/freedesktop/systemd1")
	systemdInterface = "org.freedesktop.systemd1.Manager"
)

// unitFileChange mirrors the a(sss) change list systemd returns.
type unitFileChange struct {
	Type        string
	Filename    string
	Destination string
}

// SystemdServices enables and disables unit files through the systemd
// D-Bus API and falls back to systemctl when the system bus is unreachable.
type SystemdServices struct {
	Log       *slog.Logger
	connect   func() (*dbus.Conn, error)
	systemctl func(args ...string) error
}

// NewSystemdServices returns a ServiceManager for the host's systemd.
func NewSystemdServices(log *slog.Logger, verbose bool) *SystemdServices {
	return &SystemdServices{
		Log:     log,
		connect: func() (*dbus.Conn, error) { return dbus.ConnectSystemBus() },
		systemctl: func(args ...string) error {
			return runCommand(verbose, "systemctl", args...)
		},
	}
}

func (s *SystemdServices) Enable(unit string) error  { return s.apply(true, unit) }
func (s *SystemdServices) Disable(unit string) error { return s.apply(false, unit) }

func (s *SystemdServices) apply(enable bool, unit string) error {
	verb := "disable"
	if enable {
		verb = "enable"
	}

	conn, err := s.connect()
	if err != nil {
		s.Log.Debug("System bus unavailable, using systemctl", "error", err)
		return s.systemctl(verb, unit)
	}
	defer conn.Close()

	obj := conn.Object(systemdDest, systemdPath)
	var changes []unitFileChange
	if enable {
		var carriesInstallInfo bool
		err = obj.Call(systemdInterface+".EnableUnitFiles", 0, []string{unit}, false, true).
			Store(&carriesInstallInfo, &changes)
	} else {
		err = obj.Call(systemdInterface+".DisableUnitFiles", 0, []string{unit}, false).
			Store(&changes)
	}
	if err != nil {
		return fmt.Errorf("%s %s: %w", verb, unit, err)
	}
	for _, c := range changes {
		s.Log.Debug("Unit file changed", "type", c.Type, "file", c.Filename, "destination", c.Destination)
	}

	if err := obj.Call(systemdInterface+".Reload", 0).Err; err != nil {
		return fmt.Errorf("reloading systemd: %w", err)
	}
	return nil
}

// runCommand runs a program to completion. Its output is only shown in
// verbose mode.
func runCommand(verbose bool, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if verbose {
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
	}
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed: %w", name, err)
	}
	return nil
}

// rebuildCommand picks the initramfs tool for the host distribution, or
// nil when none is known.
func rebuildCommand(paths Paths) []string {
	switch {
	case fileExists(paths.DebianVersion):
		return []string{"update-initramfs", "-u", "-k", "all"}
	case fileExists(paths.RedHatRelease), fileExists(paths.ZypperBinary):
		return []string{"dracut", "--force", "--regenerate-all"}
	case fileExists(paths.EndeavourOS) && fileExists(paths.DracutBinary):
		return []string{"dracut-rebuild"}
	default:
		return nil
	}
}

// RebuildInitramfs regenerates the boot image so blacklist and modeset
// changes apply early in boot. Failures are logged, not returned.
func RebuildInitramfs(paths Paths, w io.Writer, log *slog.Logger, run func(name string, args ...string) error) {
	command := rebuildCommand(paths)
	if command == nil {
		log.Debug("No known initramfs tool on this system")
		return
	}
	fmt.Fprintln(w, "Rebuilding the initramfs...")
	if err := run(command[0], command[1:]...); err != nil {
		log.Error("An error occurred while rebuilding the initramfs", "error", err)
		return
	}
	fmt.Fprintln(w, "Successfully rebuilt the initramfs!")
}

var geteuid = unix.Geteuid

// requireRoot fails with ErrPermissionDenied unless running as root.
func requireRoot() error {
	if geteuid() != 0 {
		return ErrPermissionDenied
	}
	return nil
}
