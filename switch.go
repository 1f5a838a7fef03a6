package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
)

// SupportedDisplayManagers are the values accepted for --dm.
var SupportedDisplayManagers = []string{"gdm", "gdm3", "sddm", "lightdm"}

// SwitchOptions tunes the generated files. Pointer fields are unset when nil.
type SwitchOptions struct {
	DisplayManager   string `json:"dm,omitempty"`
	ForceComp        bool   `json:"force_comp"`
	Coolbits         *int   `json:"coolbits"`
	RTD3             *int   `json:"rtd3"`
	UseNvidiaCurrent bool   `json:"use_nvidia_current"`
}

// Validate checks option values before any file is touched.
func (o SwitchOptions) Validate() error {
	if o.RTD3 != nil && (*o.RTD3 < 0 || *o.RTD3 > 3) {
		return fmt.Errorf("rtd3 must be 0, 1, 2 or 3, got %d", *o.RTD3)
	}
	if o.Coolbits != nil && *o.Coolbits < 0 {
		return fmt.Errorf("coolbits must not be negative, got %d", *o.Coolbits)
	}
	if o.DisplayManager != "" && !containsString(SupportedDisplayManagers, o.DisplayManager) {
		return fmt.Errorf("unsupported display manager %q (valid: gdm, gdm3, sddm, lightdm)", o.DisplayManager)
	}
	return nil
}

// ServiceManager toggles the auxiliary systemd unit.
type ServiceManager interface {
	Enable(unit string) error
	Disable(unit string) error
}

// SwitchResult lists what a switch wrote. Partial failure is possible;
// Failed returns the artifacts that could not be written.
type SwitchResult struct {
	Mode     Mode
	Backup   *Backup
	Outcomes []ArtifactOutcome
}

// Failed returns the outcomes that carry an error.
func (r *SwitchResult) Failed() []ArtifactOutcome {
	var failed []ArtifactOutcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			failed = append(failed, o)
		}
	}
	return failed
}

// Switcher moves the system to a target mode.
type Switcher struct {
	Paths    Paths
	Probe    HardwareProbe
	Services ServiceManager
	Service  string
	Out      io.Writer
	Log      *slog.Logger
}

// hardwareFacts are resolved before cleanup so a failed lookup leaves the
// previous mode untouched.
type hardwareFacts struct {
	BusID          string
	Vendor         Vendor
	DisplayManager string
	Provider       string
}

func (s *Switcher) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

func (s *Switcher) out() io.Writer {
	if s.Out == nil {
		return os.Stdout
	}
	return s.Out
}

// Switch cleans up every previous artifact and writes the set for target.
// Only a missing BusID for nvidia mode aborts; write failures are
// collected in the result.
func (s *Switcher) Switch(target Mode, opts SwitchOptions, busID BusIDResolver) (*SwitchResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	w := s.out()
	fmt.Fprintf(w, "Switching to %s mode\n", target)

	var facts hardwareFacts
	switch target {
	case ModeIntegrated:
		s.toggleService(false)
	case ModeHybrid:
		if opts.RTD3 != nil {
			fmt.Fprintf(w, "Enable PCI-Express Runtime D3 (RTD3) Power Management: %d\n", *opts.RTD3)
		} else {
			fmt.Fprintln(w, "Enable PCI-Express Runtime D3 (RTD3) Power Management: false")
		}
		s.toggleService(true)
	case ModeNvidia:
		fmt.Fprintf(w, "Enable ForceCompositionPipeline: %t\n", opts.ForceComp)
		if opts.Coolbits != nil {
			fmt.Fprintf(w, "Enable Coolbits: %d\n", *opts.Coolbits)
		} else {
			fmt.Fprintln(w, "Enable Coolbits: false")
		}
		var err error
		facts, err = s.resolveFacts(opts, busID)
		if err != nil {
			return nil, err
		}
		s.toggleService(true)
	default:
		return nil, fmt.Errorf("unknown graphics mode %q", target)
	}

	Cleanup(s.Paths, s.logger())

	result := &SwitchResult{Mode: target}
	if target == ModeNvidia && facts.DisplayManager == "sddm" {
		backup, out, ok := s.backupXsetup()
		if out != nil {
			result.Outcomes = append(result.Outcomes, *out)
		}
		if !ok {
			// Never overwrite Xsetup without a saved copy.
			facts.DisplayManager = ""
		}
		result.Backup = backup
	}

	for _, a := range planArtifacts(s.Paths, target, opts, facts) {
		result.Outcomes = append(result.Outcomes, createArtifact(s.logger(), a))
	}
	return result, nil
}

func (s *Switcher) resolveFacts(opts SwitchOptions, busID BusIDResolver) (hardwareFacts, error) {
	bus, err := busID.DiscreteGPUBusID()
	if err != nil {
		return hardwareFacts{}, err
	}
	facts := hardwareFacts{
		BusID:          bus,
		Vendor:         s.Probe.IntegratedGPUVendor(),
		DisplayManager: opts.DisplayManager,
	}
	if facts.DisplayManager == "" {
		facts.DisplayManager = s.Probe.DisplayManager()
	}
	if facts.DisplayManager == "sddm" || facts.DisplayManager == "lightdm" {
		facts.Provider = providerName(facts.Vendor, s.Probe.IntegratedOutputName(facts.Vendor))
	}
	return facts, nil
}

// backupXsetup saves the current Xsetup next to it. ok is false when an
// existing Xsetup could not be saved. A backup left behind by a failed
// restore still holds the distribution file and is kept as is.
func (s *Switcher) backupXsetup() (*Backup, *ArtifactOutcome, bool) {
	if saved, err := os.ReadFile(s.Paths.SDDMBackup()); err == nil {
		s.logger().Warn("Keeping existing Xsetup backup", "path", s.Paths.SDDMBackup())
		return &Backup{OriginalPath: s.Paths.SDDMXsetup, SavedContent: string(saved)}, nil, true
	} else if !os.IsNotExist(err) {
		s.logger().Error("Failed to read Xsetup backup", "path", s.Paths.SDDMBackup(), "error", err)
		return nil, &ArtifactOutcome{Path: s.Paths.SDDMBackup(), Err: err}, false
	}

	data, err := os.ReadFile(s.Paths.SDDMXsetup)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, true
		}
		s.logger().Error("Failed to read Xsetup", "path", s.Paths.SDDMXsetup, "error", err)
		return nil, &ArtifactOutcome{Path: s.Paths.SDDMBackup(), Err: err}, false
	}
	s.logger().Info("Creating Xsetup backup")
	out := createArtifact(s.logger(), Artifact{Path: s.Paths.SDDMBackup(), Content: string(data)})
	if out.Err != nil {
		return nil, &out, false
	}
	return &Backup{OriginalPath: s.Paths.SDDMXsetup, SavedContent: string(data)}, &out, true
}

func (s *Switcher) toggleService(enable bool) {
	if s.Services == nil || s.Service == "" {
		return
	}
	w := s.out()
	if enable {
		if err := s.Services.Enable(s.Service); err != nil {
			s.logger().Error("An error occurred while enabling service", "unit", s.Service, "error", err)
			return
		}
		fmt.Fprintf(w, "Successfully enabled %s\n", s.Service)
		return
	}
	if err := s.Services.Disable(s.Service); err != nil {
		s.logger().Error("An error occurred while disabling service", "unit", s.Service, "error", err)
		return
	}
	fmt.Fprintf(w, "Successfully disabled %s\n", s.Service)
}

// planArtifacts returns the files target needs, in write order. It does
// not touch the filesystem.
func planArtifacts(paths Paths, target Mode, opts SwitchOptions, facts hardwareFacts) []Artifact {
	switch target {
	case ModeIntegrated:
		return []Artifact{
			{Path: paths.Blacklist, Content: blacklistContent},
			{Path: paths.UdevIntegrated, Content: udevIntegratedContent},
		}
	case ModeHybrid:
		set := []Artifact{{Path: paths.Modeset, Content: modesetContent(opts.UseNvidiaCurrent, opts.RTD3)}}
		if opts.RTD3 != nil {
			set = append(set, Artifact{Path: paths.UdevPM, Content: udevPMContent})
		}
		return set
	case ModeNvidia:
		set := []Artifact{
			{Path: paths.Xorg, Content: xorgContent(facts.Vendor, facts.BusID)},
			{Path: paths.Modeset, Content: modesetContent(opts.UseNvidiaCurrent, nil)},
		}
		if extra, ok := extraXorgContent(opts.ForceComp, opts.Coolbits); ok {
			set = append(set, Artifact{Path: paths.ExtraXorg, Content: extra})
		}
		switch facts.DisplayManager {
		case "sddm":
			set = append(set, Artifact{Path: paths.SDDMXsetup, Content: xrandrScript(facts.Provider), Executable: true})
		case "lightdm":
			set = append(set,
				Artifact{Path: paths.LightDMScript, Content: xrandrScript(facts.Provider), Executable: true},
				Artifact{Path: paths.LightDMConfig, Content: lightdmConfigContent},
			)
		}
		return set
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
