package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/alecthomas/kong"
	"github.com/tidwall/gjson"
)

// OptionalInt is an integer flag that remembers whether it was given.
type OptionalInt struct {
	Value int
	Set   bool
}

// Decode implements kong.MapperValue.
func (o *OptionalInt) Decode(ctx *kong.DecodeContext) error {
	var raw string
	if err := ctx.Scan.PopValueInto("value", &raw); err != nil {
		return err
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("expected an integer but got %q", raw)
	}
	o.Value, o.Set = v, true
	return nil
}

// Ptr returns nil when the flag was not given.
func (o OptionalInt) Ptr() *int {
	if !o.Set {
		return nil
	}
	v := o.Value
	return &v
}

// invocation is stored in the cache metadata.
type invocation struct {
	Command string         `json:"command"`
	Switch  Mode           `json:"switch,omitempty"`
	Options *SwitchOptions `json:"options,omitempty"`
}

// QueryCmd prints the current mode
type QueryCmd struct{}

func (c *QueryCmd) Run(app *App) error {
	host, err := app.Host()
	if err != nil {
		return err
	}
	fmt.Fprintln(app.Out, host.Detector.Detect())
	return nil
}

// SwitchCmd switches to another graphics mode
type SwitchCmd struct {
	Mode             string      `arg:"" help:"Target mode: integrated, hybrid or nvidia"`
	DM               string      `name:"dm" placeholder:"DISPLAY_MANAGER" help:"Display manager for nvidia mode: gdm, gdm3, sddm or lightdm (default: auto-detect)"`
	ForceComp        bool        `name:"force-comp" help:"Enable ForceCompositionPipeline in nvidia mode"`
	Coolbits         OptionalInt `placeholder:"VALUE" help:"Enable Coolbits in nvidia mode (commonly 28)"`
	RTD3             OptionalInt `name:"rtd3" placeholder:"VALUE" help:"Enable PCI-Express Runtime D3 power management in hybrid mode: 0, 1, 2 or 3 (commonly 2)"`
	UseNvidiaCurrent bool        `name:"use-nvidia-current" help:"Use nvidia-current instead of nvidia for kernel modules"`
	RebuildInitramfs bool        `name:"rebuild-initramfs" help:"Rebuild the initramfs after switching"`
}

func (c *SwitchCmd) options(rt *ResolvedRuntime) SwitchOptions {
	opts := SwitchOptions{
		DisplayManager:   c.DM,
		ForceComp:        c.ForceComp,
		Coolbits:         c.Coolbits.Ptr(),
		RTD3:             c.RTD3.Ptr(),
		UseNvidiaCurrent: c.UseNvidiaCurrent || rt.UseNvidiaCurrent,
	}
	if opts.DisplayManager == "" {
		opts.DisplayManager = rt.DisplayManager
	}
	return opts
}

func (c *SwitchCmd) Run(app *App) error {
	mode, err := ParseMode(c.Mode)
	if err != nil {
		return err
	}
	if err := requireRoot(); err != nil {
		return err
	}
	host, err := app.Host()
	if err != nil {
		return err
	}
	opts := c.options(host.Runtime)
	if err := opts.Validate(); err != nil {
		return err
	}

	busID := host.Cache.Resolver(invocation{Command: "switch", Switch: mode, Options: &opts})
	result, err := host.switcher(app).Switch(mode, opts, busID)
	if err != nil {
		if errors.Is(err, ErrHardwareNotFound) {
			fmt.Fprintln(app.Out, "Try switching to hybrid mode first!")
		}
		return err
	}

	if c.RebuildInitramfs || host.Runtime.RebuildInitramfs {
		RebuildInitramfs(host.Paths, app.Out, app.Log, host.Run)
	}

	if failed := result.Failed(); len(failed) > 0 {
		return fmt.Errorf("%d of %d files could not be written, re-run with --verbose for details", len(failed), len(result.Outcomes))
	}
	fmt.Fprintln(app.Out, "Operation completed successfully")
	fmt.Fprintln(app.Out, "Please reboot your computer for changes to take effect!")
	return nil
}

// ResetCmd reverts every change made by optimode
type ResetCmd struct{}

func (c *ResetCmd) Run(app *App) error {
	if err := requireRoot(); err != nil {
		return err
	}
	host, err := app.Host()
	if err != nil {
		return err
	}
	Cleanup(host.Paths, app.Log)
	if _, err := host.Cache.Delete(); err != nil {
		app.Log.Error("Failed to delete cache", "error", err)
	}
	RebuildInitramfs(host.Paths, app.Out, app.Log, host.Run)
	fmt.Fprintln(app.Out, "Operation completed successfully")
	return nil
}

// ResetSDDMCmd restores the stock SDDM Xsetup script
type ResetSDDMCmd struct{}

func (c *ResetSDDMCmd) Run(app *App) error {
	if err := requireRoot(); err != nil {
		return err
	}
	host, err := app.Host()
	if err != nil {
		return err
	}
	out := createArtifact(app.Log, Artifact{Path: host.Paths.SDDMXsetup, Content: sddmXsetupDefault, Executable: true})
	if out.Err != nil {
		return fmt.Errorf("writing %s: %w", out.Path, out.Err)
	}
	fmt.Fprintln(app.Out, "Operation completed successfully")
	return nil
}

// CacheCmd groups cache subcommands
type CacheCmd struct {
	Create CacheCreateCmd `cmd:"" help:"Capture hardware facts; only works in hybrid mode"`
	Delete CacheDeleteCmd `cmd:"" help:"Delete the cache"`
	Query  CacheQueryCmd  `cmd:"" help:"Show the cache"`
}

// CacheCreateCmd writes a fresh cache
type CacheCreateCmd struct{}

func (c *CacheCreateCmd) Run(app *App) error {
	if err := requireRoot(); err != nil {
		return err
	}
	host, err := app.Host()
	if err != nil {
		return err
	}
	rec, err := host.Cache.Create(invocation{Command: "cache create"})
	if err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "Cache created at %s (Nvidia GPU at %s)\n", host.Cache.Path, rec.Switch.NvidiaGPUPCIBus)
	return nil
}

// CacheDeleteCmd removes the cache
type CacheDeleteCmd struct{}

func (c *CacheDeleteCmd) Run(app *App) error {
	if err := requireRoot(); err != nil {
		return err
	}
	host, err := app.Host()
	if err != nil {
		return err
	}
	removed, err := host.Cache.Delete()
	if err != nil {
		return err
	}
	if !removed {
		fmt.Fprintf(app.Out, "No cache file at %s\n", host.Cache.Path)
		return nil
	}
	fmt.Fprintf(app.Out, "Removed %s\n", host.Cache.Path)
	return nil
}

// CacheQueryCmd prints the cache or a single field of it
type CacheQueryCmd struct {
	Field string `name:"field" placeholder:"PATH" help:"Print one value, e.g. switch.nvidia_gpu_pci_bus"`
}

func (c *CacheQueryCmd) Run(app *App) error {
	host, err := app.Host()
	if err != nil {
		return err
	}
	if c.Field == "" {
		return host.Cache.Show(app.Out)
	}

	data, err := os.ReadFile(host.Cache.Path)
	if err != nil {
		if IsCacheMissing(err) {
			return host.Cache.Show(app.Out)
		}
		return err
	}
	value := gjson.GetBytes(data, c.Field)
	if !value.Exists() {
		return fmt.Errorf("field %q not found in %s", c.Field, host.Cache.Path)
	}
	fmt.Fprintln(app.Out, value.String())
	return nil
}

// ConfigCmd groups configuration subcommands
type ConfigCmd struct {
	Get   ConfigGetCmd   `cmd:"" help:"Print a value from the config file"`
	Set   ConfigSetCmd   `cmd:"" help:"Write a value to the config file"`
	Reset ConfigResetCmd `cmd:"" help:"Remove a key (or everything) from the config file"`
	List  ConfigListCmd  `cmd:"" help:"List resolved values and where they come from"`
}

// ConfigGetCmd prints one config value
type ConfigGetCmd struct {
	Key string `arg:"" help:"Config key"`
}

func (c *ConfigGetCmd) Run(app *App) error {
	value, err := GetConfigValue(c.Key)
	if err != nil {
		return err
	}
	fmt.Fprintln(app.Out, value)
	return nil
}

// ConfigSetCmd writes one config value
type ConfigSetCmd struct {
	Key   string `arg:"" help:"Config key"`
	Value string `arg:"" help:"New value"`
}

func (c *ConfigSetCmd) Run(app *App) error {
	if err := requireRoot(); err != nil {
		return err
	}
	return SetConfigValue(c.Key, c.Value)
}

// ConfigResetCmd removes one key or the whole file's contents
type ConfigResetCmd struct {
	Key string `arg:"" optional:"" help:"Config key (omit to reset everything)"`
}

func (c *ConfigResetCmd) Run(app *App) error {
	if err := requireRoot(); err != nil {
		return err
	}
	return ResetConfigValue(c.Key)
}

// ConfigListCmd lists every key with its source
type ConfigListCmd struct{}

func (c *ConfigListCmd) Run(app *App) error {
	values, err := ListConfigValues()
	if err != nil {
		return err
	}
	for _, v := range values {
		fmt.Fprintf(app.Out, "%s=%s\t(%s)\n", v.Key, v.Value, v.Source)
	}
	return nil
}

// VersionCmd prints the version
type VersionCmd struct{}

func (c *VersionCmd) Run(app *App) error {
	fmt.Fprintln(app.Out, ResolveVersion())
	return nil
}
