package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

const lspciIntelNvidia = `00:00.0 Host bridge: Intel Corporation 8th Gen Core Processor Host Bridge/DRAM Registers (rev 07)
00:02.0 VGA compatible controller: Intel Corporation UHD Graphics 630 (Mobile)
00:14.0 USB controller: Intel Corporation Cannon Lake PCH USB 3.1 xHCI Host Controller (rev 10)
01:00.0 3D controller: NVIDIA Corporation TU117M [GeForce GTX 1650 Mobile / Max-Q] (rev a1)
`

const lspciAMDNvidia = `0000:01:00.0 VGA compatible controller: NVIDIA Corporation GA107M [GeForce RTX 3050 Mobile] (rev a1)
0000:01:00.1 Audio device: NVIDIA Corporation Device 2291 (rev a1)
0000:2f:00.0 VGA compatible controller: NVIDIA Corporation GA106M [GeForce RTX 3060 Mobile] (rev a1)
0000:05:00.0 VGA compatible controller: Advanced Micro Devices, Inc. [AMD/ATI] Cezanne (rev c6)
`

// fakeRunner returns canned output per program name.
type fakeRunner struct {
	out   map[string]string
	err   map[string]error
	calls []string
}

func (f *fakeRunner) run(name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, name)
	if err := f.err[name]; err != nil {
		return nil, err
	}
	return []byte(f.out[name]), nil
}

func newTestProbe(t *testing.T, lspci string) (*LspciProbe, *fakeRunner) {
	t.Helper()
	fr := &fakeRunner{out: map[string]string{"lspci": lspci}}
	return &LspciProbe{Paths: NewPaths(t.TempDir()), Run: fr.run}, fr
}

func TestPCIBusID(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"01:00.0", "PCI:1:0:0", false},
		{"0000:2f:00.0", "PCI:47:0:0", false},
		{"0a:1f.7", "PCI:10:31:7", false},
		{"0001:01:00.0", "PCI:1:0:0", false},
		{"garbage", "", true},
		{"01:00", "", true},
		{"zz:00.0", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := PCIBusID(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("PCIBusID(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("PCIBusID(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDiscreteGPUBusID(t *testing.T) {
	t.Run("3D controller", func(t *testing.T) {
		p, _ := newTestProbe(t, lspciIntelNvidia)
		got, err := p.DiscreteGPUBusID()
		if err != nil {
			t.Fatalf("DiscreteGPUBusID() error: %v", err)
		}
		if got != "PCI:1:0:0" {
			t.Errorf("DiscreteGPUBusID() = %q, want PCI:1:0:0", got)
		}
	})

	t.Run("first match wins", func(t *testing.T) {
		p, _ := newTestProbe(t, lspciAMDNvidia)
		got, err := p.DiscreteGPUBusID()
		if err != nil {
			t.Fatalf("DiscreteGPUBusID() error: %v", err)
		}
		if got != "PCI:1:0:0" {
			t.Errorf("DiscreteGPUBusID() = %q, want PCI:1:0:0", got)
		}
	})

	t.Run("not found", func(t *testing.T) {
		p, _ := newTestProbe(t, "00:02.0 VGA compatible controller: Intel Corporation UHD Graphics 620\n")
		_, err := p.DiscreteGPUBusID()
		if !errors.Is(err, ErrHardwareNotFound) {
			t.Errorf("DiscreteGPUBusID() error = %v, want ErrHardwareNotFound", err)
		}
	})

	t.Run("lspci fails", func(t *testing.T) {
		p, fr := newTestProbe(t, "")
		fr.err = map[string]error{"lspci": errors.New("exit status 127")}
		_, err := p.DiscreteGPUBusID()
		if err == nil || errors.Is(err, ErrHardwareNotFound) {
			t.Errorf("DiscreteGPUBusID() error = %v, want wrapped lspci failure", err)
		}
	})
}

func TestIntegratedGPUVendor(t *testing.T) {
	tests := []struct {
		name  string
		lspci string
		want  Vendor
	}{
		{"intel", lspciIntelNvidia, VendorIntel},
		{"amd after nvidia", lspciAMDNvidia, VendorAMD},
		{"display controller", "00:02.0 Display controller: Intel Corporation Device 9a49\n", VendorIntel},
		{"none", "01:00.0 3D controller: NVIDIA Corporation TU117M\n", VendorNone},
		{"empty", "", VendorNone},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _ := newTestProbe(t, tt.lspci)
			if got := p.IntegratedGPUVendor(); got != tt.want {
				t.Errorf("IntegratedGPUVendor() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIntegratedGPUBusID(t *testing.T) {
	p, _ := newTestProbe(t, lspciIntelNvidia)
	if got := p.IntegratedGPUBusID(); got != "PCI:0:2:0" {
		t.Errorf("IntegratedGPUBusID() = %q, want PCI:0:2:0", got)
	}

	p, _ = newTestProbe(t, lspciAMDNvidia)
	if got := p.IntegratedGPUBusID(); got != "" {
		t.Errorf("IntegratedGPUBusID() = %q, want empty for AMD system", got)
	}
}

func TestIntegratedOutputName(t *testing.T) {
	const providers = "Providers: number : 2\n" +
		"Provider 0: id: 0x54 cap: 0xf, Source Output, Sink Output crtcs: 4 outputs: 1 associated providers: 1 name:Unknown AMD Radeon GPU @ pci:0000:05:00.0\n" +
		"Provider 1: id: 0x1f8 cap: 0x2, Sink Output crtcs: 4 outputs: 4 associated providers: 1 name:NVIDIA-G0\n"

	t.Run("amd", func(t *testing.T) {
		p, fr := newTestProbe(t, "")
		fr.out["xrandr"] = providers
		touch(t, p.Paths.XrandrBinary)
		got := p.IntegratedOutputName(VendorAMD)
		if got != "Unknown AMD Radeon GPU @ pci:0000:05:00.0" {
			t.Errorf("IntegratedOutputName() = %q", got)
		}
	})

	t.Run("intel skips xrandr", func(t *testing.T) {
		p, fr := newTestProbe(t, "")
		touch(t, p.Paths.XrandrBinary)
		if got := p.IntegratedOutputName(VendorIntel); got != "" {
			t.Errorf("IntegratedOutputName(intel) = %q, want empty", got)
		}
		if len(fr.calls) != 0 {
			t.Errorf("unexpected commands: %v", fr.calls)
		}
	})

	t.Run("xrandr missing", func(t *testing.T) {
		p, fr := newTestProbe(t, "")
		fr.out["xrandr"] = providers
		if got := p.IntegratedOutputName(VendorAMD); got != "" {
			t.Errorf("IntegratedOutputName() = %q, want empty", got)
		}
	})

	t.Run("xrandr fails", func(t *testing.T) {
		p, fr := newTestProbe(t, "")
		fr.err = map[string]error{"xrandr": errors.New("Can't open display")}
		touch(t, p.Paths.XrandrBinary)
		if got := p.IntegratedOutputName(VendorAMD); got != "" {
			t.Errorf("IntegratedOutputName() = %q, want empty", got)
		}
	})

	t.Run("no name field", func(t *testing.T) {
		p, fr := newTestProbe(t, "")
		fr.out["xrandr"] = "Providers: number : 0\n"
		touch(t, p.Paths.XrandrBinary)
		if got := p.IntegratedOutputName(VendorAMD); got != "" {
			t.Errorf("IntegratedOutputName() = %q, want empty", got)
		}
	})
}

func TestDisplayManager(t *testing.T) {
	p, _ := newTestProbe(t, "")
	if got := p.DisplayManager(); got != "" {
		t.Errorf("DisplayManager() without unit = %q, want empty", got)
	}

	unit := "[Unit]\nDescription=Simple Desktop Display Manager\n\n[Service]\nExecStart=/usr/bin/sddm\nRestart=always\n"
	if err := os.MkdirAll(filepath.Dir(p.Paths.DisplayManager), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p.Paths.DisplayManager, []byte(unit), 0644); err != nil {
		t.Fatal(err)
	}
	if got := p.DisplayManager(); got != "sddm" {
		t.Errorf("DisplayManager() = %q, want sddm", got)
	}

	unit = "[Service]\nExecStart=/usr/sbin/lightdm --debug\n"
	if err := os.WriteFile(p.Paths.DisplayManager, []byte(unit), 0644); err != nil {
		t.Fatal(err)
	}
	if got := p.DisplayManager(); got != "lightdm" {
		t.Errorf("DisplayManager() = %q, want lightdm", got)
	}
}
