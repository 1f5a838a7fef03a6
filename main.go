package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
)

// CLI defines the command-line interface structure
type CLI struct {
	Verbose bool `short:"v" help:"Enable verbose mode"`

	Query     QueryCmd     `cmd:"" help:"Print the current graphics mode"`
	Switch    SwitchCmd    `cmd:"" help:"Switch the graphics mode"`
	Reset     ResetCmd     `cmd:"" help:"Revert every change made by optimode"`
	ResetSDDM ResetSDDMCmd `cmd:"" name:"reset-sddm" help:"Restore the default SDDM Xsetup file"`
	Cache     CacheCmd     `cmd:"" help:"Manage the hardware cache (needed outside hybrid mode)"`
	Config    ConfigCmd    `cmd:"" help:"Get, set or list optimode configuration"`
	Version   VersionCmd   `cmd:"" help:"Print the optimode version"`
}

// App carries process-wide state into every command's Run method.
type App struct {
	Verbose bool
	Log     *slog.Logger
	Out     io.Writer

	// newHost builds the host collaborators; replaced in tests.
	newHost func(app *App) (*Host, error)
}

// Host bundles everything that touches the machine.
type Host struct {
	Runtime  *ResolvedRuntime
	Paths    Paths
	Detector ModeDetector
	Probe    HardwareProbe
	Services ServiceManager
	Cache    *Cache
	Run      func(name string, args ...string) error
}

// Host resolves configuration and wires the real collaborators.
func (a *App) Host() (*Host, error) {
	if a.newHost != nil {
		return a.newHost(a)
	}
	rt, err := ResolveRuntime()
	if err != nil {
		return nil, err
	}
	paths := NewPaths(rt.Root)
	detector := MarkerDetector{Paths: paths}
	probe := NewLspciProbe(paths, a.Log)
	return &Host{
		Runtime:  rt,
		Paths:    paths,
		Detector: detector,
		Probe:    probe,
		Services: NewSystemdServices(a.Log, a.Verbose),
		Cache:    &Cache{Path: paths.Cache, Detector: detector, Probe: probe, Log: a.Log},
		Run: func(name string, args ...string) error {
			return runCommand(a.Verbose, name, args...)
		},
	}, nil
}

func (h *Host) switcher(app *App) *Switcher {
	return &Switcher{
		Paths:    h.Paths,
		Probe:    h.Probe,
		Services: h.Services,
		Service:  h.Runtime.Service,
		Out:      app.Out,
		Log:      app.Log,
	}
}

func main() {
	var cli CLI
	// With no command kong prints usage and exits non-zero.
	ctx := kong.Parse(&cli,
		kong.Name("optimode"),
		kong.Description("Switch between integrated, hybrid and nvidia graphics on Optimus laptops"),
		kong.UsageOnError(),
	)

	log := newLogger(os.Stderr, cli.Verbose)
	slog.SetDefault(log)

	app := &App{Verbose: cli.Verbose, Log: log, Out: os.Stdout}
	err := ctx.Run(app)
	ctx.FatalIfErrorf(err)
}
