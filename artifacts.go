package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

const generatedHeader = "# Automatically generated by optimode\n"

const blacklistContent = generatedHeader + `
blacklist nouveau
blacklist nvidia
blacklist nvidia_drm
blacklist nvidia_uvm
blacklist nvidia_modeset
blacklist nvidia_current
blacklist nvidia_current_drm
blacklist nvidia_current_uvm
blacklist nvidia_current_modeset
blacklist i2c_nvidia_gpu
alias nouveau off
alias nvidia off
alias nvidia_drm off
alias nvidia_uvm off
alias nvidia_modeset off
alias nvidia_current off
alias nvidia_current_drm off
alias nvidia_current_uvm off
alias nvidia_current_modeset off
alias i2c_nvidia_gpu off
`

const udevIntegratedContent = generatedHeader + `
# Remove NVIDIA USB xHCI Host Controller devices, if present
ACTION=="add", SUBSYSTEM=="pci", ATTR{vendor}=="0x10de", ATTR{class}=="0x0c0330", ATTR{power/control}="auto", ATTR{remove}="1"

# Remove NVIDIA USB Type-C UCSI devices, if present
ACTION=="add", SUBSYSTEM=="pci", ATTR{vendor}=="0x10de", ATTR{class}=="0x0c8000", ATTR{power/control}="auto", ATTR{remove}="1"

# Remove NVIDIA Audio devices, if present
ACTION=="add", SUBSYSTEM=="pci", ATTR{vendor}=="0x10de", ATTR{class}=="0x040300", ATTR{power/control}="auto", ATTR{remove}="1"

# Remove NVIDIA VGA/3D controller devices
ACTION=="add", SUBSYSTEM=="pci", ATTR{vendor}=="0x10de", ATTR{class}=="0x03[0-9]*", ATTR{power/control}="auto", ATTR{remove}="1"
`

const udevPMContent = generatedHeader + `
# Remove NVIDIA USB xHCI Host Controller devices, if present
ACTION=="add", SUBSYSTEM=="pci", ATTR{vendor}=="0x10de", ATTR{class}=="0x0c0330", ATTR{remove}="1"

# Remove NVIDIA USB Type-C UCSI devices, if present
ACTION=="add", SUBSYSTEM=="pci", ATTR{vendor}=="0x10de", ATTR{class}=="0x0c8000", ATTR{remove}="1"

# Enable runtime PM for NVIDIA VGA/3D controller devices on driver bind
ACTION=="bind", SUBSYSTEM=="pci", ATTR{vendor}=="0x10de", ATTR{class}=="0x030000", TEST=="power/control", ATTR{power/control}="auto"
ACTION=="bind", SUBSYSTEM=="pci", ATTR{vendor}=="0x10de", ATTR{class}=="0x030200", TEST=="power/control", ATTR{power/control}="auto"

# Disable runtime PM for NVIDIA VGA/3D controller devices on driver unbind
ACTION=="unbind", SUBSYSTEM=="pci", ATTR{vendor}=="0x10de", ATTR{class}=="0x030000", TEST=="power/control", ATTR{power/control}="on"
ACTION=="unbind", SUBSYSTEM=="pci", ATTR{vendor}=="0x10de", ATTR{class}=="0x030200", TEST=="power/control", ATTR{power/control}="on"
`

// xorgTemplate is filled with the iGPU identifier, the iGPU driver and the
// NVIDIA BusID.
const xorgTemplate = generatedHeader + `
Section "ServerLayout"
    Identifier "layout"
    Screen 0 "nvidia"
    Inactive "%[1]s"
EndSection

Section "Device"
    Identifier "nvidia"
    Driver "nvidia"
    BusID "%[3]s"
EndSection

Section "Screen"
    Identifier "nvidia"
    Device "nvidia"
    Option "AllowEmptyInitialConfiguration"
EndSection

Section "Device"
    Identifier "%[1]s"
    Driver "%[2]s"
EndSection

Section "Screen"
    Identifier "%[1]s"
    Device "%[1]s"
EndSection
`

const extraXorgHeader = generatedHeader + `
Section "Screen"
    Identifier "nvidia"
    Device "nvidia"
`

const lightdmScriptTarget = "/etc/lightdm/nvidia.sh"

const lightdmConfigContent = generatedHeader + `
[Seat:*]
display-setup-script=` + lightdmScriptTarget + "\n"

const sddmXsetupDefault = `#!/bin/sh
# Xsetup - run as root before the login dialog appears

`

const xrandrScriptTemplate = `#!/bin/sh
` + generatedHeader + `
current_mode=$(/usr/bin/optimode query)

if [ "$current_mode" = "nvidia" ]; then
    xrandr --setprovideroutputsource "%s" NVIDIA-0
    xrandr --auto
fi
`

// modesetContent enables nvidia-drm KMS, optionally with RTD3 dynamic
// power management at the given level.
func modesetContent(nvidiaCurrent bool, rtd3 *int) string {
	drm, mod := "nvidia-drm", "nvidia"
	if nvidiaCurrent {
		drm, mod = "nvidia-current-drm", "nvidia-current"
	}
	var b strings.Builder
	b.WriteString(generatedHeader)
	b.WriteString("\n")
	b.WriteString(fmt.Sprintf("options %s modeset=1\n", drm))
	if rtd3 != nil {
		b.WriteString(fmt.Sprintf("options %s \"NVreg_DynamicPowerManagement=0x0%d\"\n", mod, *rtd3))
	}
	return b.String()
}

// xorgContent renders xorg.conf for nvidia mode. Unknown iGPUs get the
// Intel layout, which uses the generic modesetting driver.
func xorgContent(vendor Vendor, busID string) string {
	if vendor == VendorAMD {
		return fmt.Sprintf(xorgTemplate, "amdgpu", "amdgpu", busID)
	}
	return fmt.Sprintf(xorgTemplate, "intel", "modesetting", busID)
}

// extraXorgContent renders the optional Screen options. The second
// result is false when neither option is requested.
func extraXorgContent(forceComp bool, coolbits *int) (string, bool) {
	if !forceComp && coolbits == nil {
		return "", false
	}
	var b strings.Builder
	b.WriteString(extraXorgHeader)
	if forceComp {
		b.WriteString("    Option \"ForceCompositionPipeline\" \"true\"\n")
	}
	if coolbits != nil {
		b.WriteString(fmt.Sprintf("    Option \"Coolbits\" \"%d\"\n", *coolbits))
	}
	b.WriteString("EndSection\n")
	return b.String(), true
}

// providerName picks the xrandr provider the NVIDIA outputs are routed to.
func providerName(vendor Vendor, outputName string) string {
	if vendor == VendorAMD && outputName != "" {
		return outputName
	}
	return "modesetting"
}

func xrandrScript(provider string) string {
	return fmt.Sprintf(xrandrScriptTemplate, provider)
}

// Artifact is one generated file.
type Artifact struct {
	Path       string
	Content    string
	Executable bool
}

// Backup is the original content of a file nvidia mode overwrites.
type Backup struct {
	OriginalPath string
	SavedContent string
}

// ArtifactOutcome is the result of writing one artifact.
type ArtifactOutcome struct {
	Path string
	Err  error
}

// createArtifact writes a, creating parent directories. Failures are
// logged and returned in the outcome; the caller decides whether to go on.
func createArtifact(log *slog.Logger, a Artifact) ArtifactOutcome {
	out := ArtifactOutcome{Path: a.Path}
	if err := writeArtifact(a); err != nil {
		log.Error("Failed to create file", "path", a.Path, "error", err)
		out.Err = err
		return out
	}
	log.Info("Created file", "path", a.Path)
	log.Debug(a.Content)
	if a.Executable {
		log.Info("Added execution privilege to file", "path", a.Path)
	}
	return out
}

func writeArtifact(a Artifact) error {
	if err := os.MkdirAll(filepath.Dir(a.Path), 0755); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}
	if err := os.WriteFile(a.Path, []byte(a.Content), 0644); err != nil {
		return err
	}
	if a.Executable {
		if err := os.Chmod(a.Path, 0755); err != nil {
			return fmt.Errorf("adding execution privilege: %w", err)
		}
	}
	return nil
}
