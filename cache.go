package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// CacheRecord is the on-disk cache. Only Switch feeds later operations;
// Metadata documents the system as it was seen at creation time.
type CacheRecord struct {
	Switch   CacheSwitch   `json:"switch"`
	Metadata CacheMetadata `json:"metadata"`
}

// CacheSwitch holds the hardware facts a switch may need outside hybrid mode.
type CacheSwitch struct {
	NvidiaGPUPCIBus string `json:"nvidia_gpu_pci_bus"`
}

// CacheMetadata records the invocation and the probed system at creation.
// It is informational; CreatedAt is kept verbatim so caches written by
// other tools still load.
type CacheMetadata struct {
	CreatedAt      string    `json:"audit_iso_tmstmp"`
	Args           any       `json:"args"`
	AMDIGPUName    string    `json:"amd_igpu_name,omitempty"`
	CurrentMode    Mode      `json:"current_mode"`
	DisplayManager string    `json:"display_manager,omitempty"`
	IGPUPCIBus     string    `json:"igpu_pci_bus,omitempty"`
	IGPUVendor     Vendor    `json:"igpu_vendor"`
}

// Cache persists the discrete GPU BusID captured while in hybrid mode,
// when it is still visible on the PCI bus.
type Cache struct {
	Path     string
	Detector ModeDetector
	Probe    HardwareProbe
	Log      *slog.Logger
	Now      func() time.Time
}

func (c *Cache) logger() *slog.Logger {
	if c.Log == nil {
		return slog.Default()
	}
	return c.Log
}

func (c *Cache) now() time.Time {
	if c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// Exists reports whether a cache file is present.
func (c *Cache) Exists() bool {
	return fileExists(c.Path)
}

// Load reads and parses the cache file. A present but unreadable or
// unparseable file yields an error wrapping ErrCacheCorrupt.
func (c *Cache) Load() (*CacheRecord, error) {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: reading %s: %v", ErrCacheCorrupt, c.Path, err)
	}
	var rec CacheRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", ErrCacheCorrupt, c.Path, err)
	}
	if rec.Switch.NvidiaGPUPCIBus == "" {
		return nil, fmt.Errorf("%w: %s has no switch.nvidia_gpu_pci_bus", ErrCacheCorrupt, c.Path)
	}
	return &rec, nil
}

// Create probes the live system and overwrites the cache. It refuses to
// run outside hybrid mode because the discrete GPU may be invisible there.
func (c *Cache) Create(args any) (*CacheRecord, error) {
	mode := c.Detector.Detect()
	if mode != ModeHybrid {
		return nil, ErrNotHybrid
	}
	return c.create(mode, LiveProbe{Probe: c.Probe, Hybrid: true}, args)
}

func (c *Cache) create(mode Mode, busID BusIDResolver, args any) (*CacheRecord, error) {
	bus, err := busID.DiscreteGPUBusID()
	if err != nil {
		return nil, err
	}
	vendor := c.Probe.IntegratedGPUVendor()
	rec := &CacheRecord{
		Switch: CacheSwitch{NvidiaGPUPCIBus: bus},
		Metadata: CacheMetadata{
			CreatedAt:      c.now().Format(time.RFC3339),
			Args:           args,
			AMDIGPUName:    c.Probe.IntegratedOutputName(vendor),
			CurrentMode:    mode,
			DisplayManager: c.Probe.DisplayManager(),
			IGPUPCIBus:     c.Probe.IntegratedGPUBusID(),
			IGPUVendor:     vendor,
		},
	}
	if err := c.write(rec); err != nil {
		return nil, err
	}
	c.logger().Info("Created cache file", "path", c.Path, "nvidia_gpu_pci_bus", bus)
	return rec, nil
}

// write replaces the cache file via rename so readers never see a partial record.
func (c *Cache) write(rec *CacheRecord) error {
	dir := filepath.Dir(c.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	data, err := json.MarshalIndent(rec, "", "    ")
	if err != nil {
		return fmt.Errorf("marshaling cache: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".cache-*.json")
	if err != nil {
		return fmt.Errorf("writing cache: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("writing cache: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing cache: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("writing cache: %w", err)
	}
	if err := os.Rename(tmp.Name(), c.Path); err != nil {
		return fmt.Errorf("writing cache: %w", err)
	}
	return nil
}

// Delete removes the cache file and its directory if that is now empty.
// It reports whether a file was removed; a missing file is not an error.
func (c *Cache) Delete() (bool, error) {
	if err := os.Remove(c.Path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("removing cache: %w", err)
	}
	// Fails harmlessly when something else lives in the directory.
	_ = os.Remove(filepath.Dir(c.Path))
	c.logger().Info("Removed cache file", "path", c.Path)
	return true, nil
}

// Show copies the raw cache file to w, or a diagnostic when it is missing.
func (c *Cache) Show(w io.Writer) error {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		_, werr := fmt.Fprintf(w, "ERROR: Could not read %s\n", c.Path)
		return werr
	}
	_, err = w.Write(data)
	return err
}

// Resolver picks the BusID source for a whole operation. A cached value
// takes precedence over live probing. In hybrid mode the cache is then
// rewritten from that source so a later switch back from integrated or
// nvidia mode still has a BusID.
func (c *Cache) Resolver(args any) BusIDResolver {
	mode := c.Detector.Detect()
	var r BusIDResolver = LiveProbe{Probe: c.Probe, Hybrid: mode == ModeHybrid}

	if c.Exists() {
		rec, err := c.Load()
		switch {
		case err == nil:
			r = CachedValue(rec.Switch.NvidiaGPUPCIBus)
		case mode == ModeHybrid:
			c.logger().Warn("Ignoring unreadable cache", "error", err)
		default:
			r = failedResolver{err: err}
		}
	}

	if mode == ModeHybrid {
		if _, err := c.create(mode, r, args); err != nil {
			c.logger().Warn("Could not refresh cache", "error", err)
		}
	}
	return r
}

// failedResolver defers a cache error until a BusID is actually needed.
type failedResolver struct {
	err error
}

func (f failedResolver) DiscreteGPUBusID() (string, error) {
	return "", f.err
}

// IsCacheMissing reports whether err comes from loading an absent cache.
func IsCacheMissing(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
