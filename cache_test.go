package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// fixedDetector always reports the same mode.
type fixedDetector Mode

func (d fixedDetector) Detect() Mode { return Mode(d) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCache(t *testing.T, mode Mode, probe *fakeProbe) *Cache {
	t.Helper()
	return &Cache{
		Path:     filepath.Join(t.TempDir(), "var", "cache", "optimode", "cache.json"),
		Detector: fixedDetector(mode),
		Probe:    probe,
		Log:      discardLogger(),
		Now:      func() time.Time { return time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC) },
	}
}

func TestCacheCreateAndLoad(t *testing.T) {
	probe := &fakeProbe{busID: "PCI:1:0:0", vendor: VendorAMD, output: "Unknown AMD Radeon GPU", dm: "sddm"}
	c := newTestCache(t, ModeHybrid, probe)

	rec, err := c.Create(invocation{Command: "cache create"})
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if !c.Exists() {
		t.Fatal("cache file was not written")
	}

	loaded, err := c.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if loaded.Switch.NvidiaGPUPCIBus != rec.Switch.NvidiaGPUPCIBus {
		t.Errorf("bus = %q, want %q", loaded.Switch.NvidiaGPUPCIBus, rec.Switch.NvidiaGPUPCIBus)
	}

	want := CacheMetadata{
		CreatedAt:      "2026-10-16T09:00:00Z",
		Args:           map[string]any{"command": "cache create"},
		AMDIGPUName:    "Unknown AMD Radeon GPU",
		CurrentMode:    ModeHybrid,
		DisplayManager: "sddm",
		IGPUVendor:     VendorAMD,
	}
	if diff := cmp.Diff(want, loaded.Metadata); diff != "" {
		t.Errorf("metadata mismatch (-want +got):\n%s", diff)
	}
}

func TestCacheFileFormat(t *testing.T) {
	c := newTestCache(t, ModeHybrid, &fakeProbe{busID: "PCI:1:0:0", vendor: VendorIntel, igpuBus: "PCI:0:2:0"})
	if _, err := c.Create(nil); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(c.Path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "\n    \"switch\": {\n        \"nvidia_gpu_pci_bus\": \"PCI:1:0:0\"") {
		t.Errorf("unexpected layout:\n%s", data)
	}
	var raw map[string]map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	if raw["metadata"]["igpu_pci_bus"] != "PCI:0:2:0" {
		t.Errorf("igpu_pci_bus = %v", raw["metadata"]["igpu_pci_bus"])
	}

	// no temp files left behind
	entries, _ := os.ReadDir(filepath.Dir(c.Path))
	if len(entries) != 1 {
		t.Errorf("cache directory has %d entries, want 1", len(entries))
	}
}

func TestCacheCreateRequiresHybrid(t *testing.T) {
	for _, mode := range []Mode{ModeIntegrated, ModeNvidia} {
		t.Run(string(mode), func(t *testing.T) {
			probe := &fakeProbe{busID: "PCI:1:0:0"}
			c := newTestCache(t, mode, probe)
			_, err := c.Create(nil)
			if !errors.Is(err, ErrNotHybrid) {
				t.Errorf("Create() error = %v, want ErrNotHybrid", err)
			}
			if c.Exists() {
				t.Error("cache written outside hybrid mode")
			}
			if probe.busCalls != 0 {
				t.Error("probe should not run outside hybrid mode")
			}
		})
	}
}

func TestCacheCreateOverwrites(t *testing.T) {
	probe := &fakeProbe{busID: "PCI:1:0:0"}
	c := newTestCache(t, ModeHybrid, probe)
	if _, err := c.Create(nil); err != nil {
		t.Fatal(err)
	}
	probe.busID = "PCI:47:0:0"
	if _, err := c.Create(nil); err != nil {
		t.Fatal(err)
	}
	rec, err := c.Load()
	if err != nil {
		t.Fatal(err)
	}
	if rec.Switch.NvidiaGPUPCIBus != "PCI:47:0:0" {
		t.Errorf("bus = %q, want PCI:47:0:0", rec.Switch.NvidiaGPUPCIBus)
	}
}

func TestCacheLoadCorrupt(t *testing.T) {
	c := newTestCache(t, ModeHybrid, &fakeProbe{})
	touch(t, c.Path)
	if _, err := c.Load(); !errors.Is(err, ErrCacheCorrupt) {
		t.Errorf("Load() error = %v, want ErrCacheCorrupt", err)
	}

	if err := os.WriteFile(c.Path, []byte(`{"switch": {}}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Load(); !errors.Is(err, ErrCacheCorrupt) {
		t.Errorf("Load() without bus id error = %v, want ErrCacheCorrupt", err)
	}
}

func TestCacheDelete(t *testing.T) {
	c := newTestCache(t, ModeHybrid, &fakeProbe{busID: "PCI:1:0:0"})

	removed, err := c.Delete()
	if err != nil || removed {
		t.Fatalf("Delete() on missing cache = %v, %v; want false, nil", removed, err)
	}

	if _, err := c.Create(nil); err != nil {
		t.Fatal(err)
	}
	removed, err = c.Delete()
	if err != nil || !removed {
		t.Fatalf("Delete() = %v, %v; want true, nil", removed, err)
	}
	if _, err := os.Stat(filepath.Dir(c.Path)); !os.IsNotExist(err) {
		t.Error("empty cache directory should be removed")
	}
}

func TestCacheShow(t *testing.T) {
	c := newTestCache(t, ModeHybrid, &fakeProbe{busID: "PCI:1:0:0"})

	var buf bytes.Buffer
	if err := c.Show(&buf); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "ERROR: Could not read ") {
		t.Errorf("Show() on missing cache = %q", buf.String())
	}

	if _, err := c.Create(nil); err != nil {
		t.Fatal(err)
	}
	buf.Reset()
	if err := c.Show(&buf); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(c.Path)
	if buf.String() != string(data) {
		t.Errorf("Show() = %q, want raw file content", buf.String())
	}
}

func TestResolverBusID(t *testing.T) {
	t.Run("cached value survives lost hardware", func(t *testing.T) {
		probe := &fakeProbe{busID: "PCI:1:0:0"}
		c := newTestCache(t, ModeHybrid, probe)
		if _, err := c.Create(nil); err != nil {
			t.Fatal(err)
		}
		probe.busErr = ErrHardwareNotFound
		c.Detector = fixedDetector(ModeIntegrated)

		got, err := c.Resolver(nil).DiscreteGPUBusID()
		if err != nil {
			t.Fatalf("DiscreteGPUBusID() error: %v", err)
		}
		if got != "PCI:1:0:0" {
			t.Errorf("DiscreteGPUBusID() = %q, want PCI:1:0:0", got)
		}
		if probe.busCalls != 1 {
			t.Errorf("probe called %d times, want only the create call", probe.busCalls)
		}
	})

	t.Run("live probe in hybrid", func(t *testing.T) {
		c := newTestCache(t, ModeHybrid, &fakeProbe{busID: "PCI:47:0:0"})
		got, err := c.Resolver(nil).DiscreteGPUBusID()
		if err != nil || got != "PCI:47:0:0" {
			t.Errorf("DiscreteGPUBusID() = %q, %v", got, err)
		}
	})
}

func TestCacheLoadForeignTimestamp(t *testing.T) {
	c := newTestCache(t, ModeIntegrated, &fakeProbe{})
	if err := os.MkdirAll(filepath.Dir(c.Path), 0755); err != nil {
		t.Fatal(err)
	}
	data := `{
    "switch": {"nvidia_gpu_pci_bus": "PCI:1:0:0"},
    "metadata": {"audit_iso_tmstmp": "2024-05-01T10:11:12.123456", "current_mode": "hybrid"}
}`
	if err := os.WriteFile(c.Path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}
	rec, err := c.Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if rec.Metadata.CreatedAt != "2024-05-01T10:11:12.123456" {
		t.Errorf("CreatedAt = %q", rec.Metadata.CreatedAt)
	}
	got, err := c.Resolver(nil).DiscreteGPUBusID()
	if err != nil || got != "PCI:1:0:0" {
		t.Errorf("DiscreteGPUBusID() = %q, %v", got, err)
	}
}

func TestCacheResolver(t *testing.T) {
	t.Run("hybrid without cache creates one", func(t *testing.T) {
		c := newTestCache(t, ModeHybrid, &fakeProbe{busID: "PCI:1:0:0"})
		r := c.Resolver(nil)
		if _, ok := r.(LiveProbe); !ok {
			t.Errorf("Resolver() = %T, want LiveProbe", r)
		}
		if !c.Exists() {
			t.Error("cache should be created in hybrid mode")
		}
	})

	t.Run("existing cache is substituted", func(t *testing.T) {
		probe := &fakeProbe{busID: "PCI:1:0:0"}
		c := newTestCache(t, ModeHybrid, probe)
		if _, err := c.Create(nil); err != nil {
			t.Fatal(err)
		}
		probe.busID = "PCI:9:0:0"
		c.Detector = fixedDetector(ModeIntegrated)

		r := c.Resolver(nil)
		got, err := r.DiscreteGPUBusID()
		if err != nil || got != "PCI:1:0:0" {
			t.Errorf("DiscreteGPUBusID() = %q, %v; want cached PCI:1:0:0", got, err)
		}
	})

	t.Run("hybrid refresh keeps cached bus id", func(t *testing.T) {
		probe := &fakeProbe{busID: "PCI:1:0:0"}
		c := newTestCache(t, ModeHybrid, probe)
		if _, err := c.Create(nil); err != nil {
			t.Fatal(err)
		}
		calls := probe.busCalls
		probe.dm = "lightdm"

		c.Resolver(invocation{Command: "switch", Switch: ModeNvidia})
		if probe.busCalls != calls {
			t.Error("refresh should reuse the cached bus id")
		}
		rec, err := c.Load()
		if err != nil {
			t.Fatal(err)
		}
		if rec.Metadata.DisplayManager != "lightdm" {
			t.Errorf("metadata not refreshed: %+v", rec.Metadata)
		}
	})

	t.Run("hybrid without nvidia gpu", func(t *testing.T) {
		c := newTestCache(t, ModeHybrid, &fakeProbe{busErr: ErrHardwareNotFound})
		r := c.Resolver(nil)
		if c.Exists() {
			t.Error("cache should not be written without a bus id")
		}
		if _, err := r.DiscreteGPUBusID(); !errors.Is(err, ErrHardwareNotFound) {
			t.Errorf("error = %v, want ErrHardwareNotFound", err)
		}
	})

	t.Run("corrupt cache outside hybrid", func(t *testing.T) {
		c := newTestCache(t, ModeIntegrated, &fakeProbe{busID: "PCI:1:0:0"})
		touch(t, c.Path)
		r := c.Resolver(nil)
		if _, err := r.DiscreteGPUBusID(); !errors.Is(err, ErrCacheCorrupt) {
			t.Errorf("error = %v, want ErrCacheCorrupt", err)
		}
	})

	t.Run("corrupt cache in hybrid is replaced", func(t *testing.T) {
		c := newTestCache(t, ModeHybrid, &fakeProbe{busID: "PCI:1:0:0"})
		touch(t, c.Path)
		c.Resolver(nil)
		if _, err := c.Load(); err != nil {
			t.Errorf("Load() after refresh error: %v", err)
		}
	})

	t.Run("no cache outside hybrid", func(t *testing.T) {
		c := newTestCache(t, ModeNvidia, &fakeProbe{busID: "PCI:1:0:0"})
		r := c.Resolver(nil)
		if _, err := r.DiscreteGPUBusID(); !errors.Is(err, ErrNoCacheNoHybrid) {
			t.Errorf("error = %v, want ErrNoCacheNoHybrid", err)
		}
	})
}
