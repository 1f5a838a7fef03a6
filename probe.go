package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
)

// Vendor identifies the integrated GPU maker.
type Vendor string

const (
	VendorIntel Vendor = "intel"
	VendorAMD   Vendor = "amd"
	VendorNone  Vendor = "none"
)

// HardwareProbe queries the live system for GPU and display facts.
type HardwareProbe interface {
	DiscreteGPUBusID() (string, error)
	IntegratedGPUVendor() Vendor
	IntegratedGPUBusID() string
	IntegratedOutputName(vendor Vendor) string
	DisplayManager() string
}

// commandRunner runs a program and returns its standard output.
type commandRunner func(name string, args ...string) ([]byte, error)

// execOutput is the commandRunner used outside tests.
var execOutput commandRunner = func(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).Output()
}

var (
	xrandrNameRe = regexp.MustCompile(`name:(.*)`)
	execStartRe  = regexp.MustCompile(`ExecStart=(.+)`)
)

// LspciProbe implements HardwareProbe on top of lspci, xrandr and the
// systemd display-manager unit.
type LspciProbe struct {
	Paths Paths
	Run   commandRunner
	Log   *slog.Logger
}

// NewLspciProbe returns a probe that runs real commands.
func NewLspciProbe(paths Paths, log *slog.Logger) *LspciProbe {
	return &LspciProbe{Paths: paths, Run: execOutput, Log: log}
}

func (p *LspciProbe) logger() *slog.Logger {
	if p.Log == nil {
		return slog.Default()
	}
	return p.Log
}

func (p *LspciProbe) lspci() ([]string, error) {
	out, err := p.Run("lspci")
	if err != nil {
		return nil, fmt.Errorf("running lspci: %w", err)
	}
	return strings.Split(strings.TrimRight(string(out), "\n"), "\n"), nil
}

func isDisplayController(line string) bool {
	return strings.Contains(line, "VGA compatible controller") || strings.Contains(line, "Display controller")
}

// DiscreteGPUBusID returns the X.org BusID of the first NVIDIA VGA or 3D
// controller in lspci order.
func (p *LspciProbe) DiscreteGPUBusID() (string, error) {
	lines, err := p.lspci()
	if err != nil {
		return "", err
	}
	for _, line := range lines {
		if !strings.Contains(line, "NVIDIA") {
			continue
		}
		if !strings.Contains(line, "VGA compatible controller") && !strings.Contains(line, "3D controller") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		p.logger().Info("Found Nvidia GPU", "address", fields[0])
		return PCIBusID(fields[0])
	}
	return "", ErrHardwareNotFound
}

// IntegratedGPUVendor classifies the first Intel or AMD display controller.
func (p *LspciProbe) IntegratedGPUVendor() Vendor {
	lines, err := p.lspci()
	if err != nil {
		p.logger().Warn("Could not list PCI devices", "error", err)
		return VendorNone
	}
	for _, line := range lines {
		if !isDisplayController(line) {
			continue
		}
		switch {
		case strings.Contains(line, "Intel"):
			p.logger().Info("Found Intel iGPU")
			return VendorIntel
		case strings.Contains(line, "ATI"), strings.Contains(line, "AMD"):
			p.logger().Info("Found AMD iGPU")
			return VendorAMD
		}
	}
	p.logger().Warn("Could not find Intel or AMD iGPU")
	return VendorNone
}

// IntegratedGPUBusID returns the BusID of the first Intel display
// controller, or "" when there is none.
func (p *LspciProbe) IntegratedGPUBusID() string {
	lines, err := p.lspci()
	if err != nil {
		p.logger().Warn("Could not list PCI devices", "error", err)
		return ""
	}
	for _, line := range lines {
		if !isDisplayController(line) || !strings.Contains(line, "Intel") {
			continue
		}
		busID, err := PCIBusID(strings.Fields(line)[0])
		if err != nil {
			p.logger().Warn("Unparseable iGPU address", "line", line, "error", err)
			return ""
		}
		return busID
	}
	return ""
}

// IntegratedOutputName returns the xrandr provider name of an AMD iGPU.
// It never fails: a missing xrandr, a failed run or no match all yield "".
func (p *LspciProbe) IntegratedOutputName(vendor Vendor) string {
	if vendor != VendorAMD {
		return ""
	}
	if !fileExists(p.Paths.XrandrBinary) {
		p.logger().Warn("The 'xrandr' command is not available. Make sure the package is installed!")
		return ""
	}
	out, err := p.Run("xrandr", "--listproviders")
	if err != nil {
		p.logger().Warn("Failed to run the 'xrandr' command", "error", err)
		return ""
	}
	m := xrandrNameRe.FindStringSubmatch(string(out))
	if m == nil {
		p.logger().Warn("Could not find AMD iGPU in 'xrandr' output")
		return ""
	}
	return strings.TrimSpace(m[1])
}

// DisplayManager returns the executable name from the display-manager
// unit's ExecStart= line, or "" when the unit is missing.
func (p *LspciProbe) DisplayManager() string {
	data, err := os.ReadFile(p.Paths.DisplayManager)
	if err != nil {
		p.logger().Warn("Display Manager detection is not available")
		return ""
	}
	m := execStartRe.FindStringSubmatch(string(data))
	if m == nil {
		return ""
	}
	fields := strings.Fields(m[1])
	if len(fields) == 0 {
		return ""
	}
	dm := filepath.Base(fields[0])
	p.logger().Info("Found Display Manager", "name", dm)
	return dm
}

// PCIBusID converts an lspci address such as "01:00.0" or "0000:2f:00.0"
// into the decimal "PCI:bus:device:function" form X.org expects.
func PCIBusID(addr string) (string, error) {
	parts := strings.Split(addr, ":")
	switch len(parts) {
	case 2:
	case 3:
		// drop the PCI domain
		parts = parts[1:]
	default:
		return "", fmt.Errorf("invalid PCI address %q", addr)
	}
	devFn := strings.SplitN(parts[1], ".", 2)
	if len(devFn) != 2 {
		return "", fmt.Errorf("invalid PCI address %q", addr)
	}
	var nums [3]uint64
	for i, s := range []string{parts[0], devFn[0], devFn[1]} {
		n, err := strconv.ParseUint(s, 16, 16)
		if err != nil {
			return "", fmt.Errorf("invalid PCI address %q: %w", addr, err)
		}
		nums[i] = n
	}
	return fmt.Sprintf("PCI:%d:%d:%d", nums[0], nums[1], nums[2]), nil
}
