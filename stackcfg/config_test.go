package stackcfg_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/soypat/nettap/stackcfg"
)

func TestDefaultConfig(t *testing.T) {
	cfg := stackcfg.Default()
	if cfg.MTU != 1500 {
		t.Errorf("MTU = %d, want 1500", cfg.MTU)
	}
	if !cfg.Policy.ARPUpdateFromGratuitous {
		t.Error("gratuitous ARP updates must be enabled by default")
	}
	if cfg.Policy.ARPUpdateFromDirectRequest {
		t.Error("direct-request ARP updates must be disabled by default")
	}
	if cfg.MetricsAddr != ":9090" {
		t.Errorf("MetricsAddr = %q, want %q", cfg.MetricsAddr, ":9090")
	}
}

func TestLoadFromYAML(t *testing.T) {
	yamlContent := `
interface: tap0
mac: "02:00:00:00:00:01"
candidates:
  - address: 192.168.9.1
    mask: 255.255.255.0
mtu: 1400
policy:
  arp_update_from_direct_request: true
`
	path := writeTemp(t, yamlContent)

	cfg, err := stackcfg.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}
	if cfg.Interface != "tap0" {
		t.Errorf("Interface = %q, want %q", cfg.Interface, "tap0")
	}
	if cfg.MTU != 1400 {
		t.Errorf("MTU = %d, want 1400", cfg.MTU)
	}
	if len(cfg.Candidates) != 1 || cfg.Candidates[0].Address != "192.168.9.1" {
		t.Fatalf("got candidates %+v, want one candidate 192.168.9.1", cfg.Candidates)
	}
	if !cfg.Policy.ARPUpdateFromDirectRequest {
		t.Error("expected arp_update_from_direct_request to be overridden to true")
	}
	// Untouched by the YAML file: still the default.
	if !cfg.Policy.ARPUpdateFromGratuitous {
		t.Error("gratuitous ARP updates default must survive a partial override file")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	yamlContent := `
interface: tap0
mac: "02:00:00:00:00:01"
candidates:
  - address: 192.168.9.1
    mask: 255.255.255.0
`
	path := writeTemp(t, yamlContent)

	t.Setenv("NETTAP_MTU", "9000")
	t.Setenv("NETTAP_INTERFACE", "tap1")

	cfg, err := stackcfg.Load(path)
	if err != nil {
		t.Fatalf("Load(%q) error: %v", path, err)
	}
	if cfg.MTU != 9000 {
		t.Errorf("MTU = %d, want 9000 (env override)", cfg.MTU)
	}
	if cfg.Interface != "tap1" {
		t.Errorf("Interface = %q, want %q (env override)", cfg.Interface, "tap1")
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	yamlContent := `
interface: tap0
mac: "not-a-mac"
candidates:
  - address: 192.168.9.1
    mask: 255.255.255.0
`
	path := writeTemp(t, yamlContent)
	if _, err := stackcfg.Load(path); err == nil {
		t.Fatal("expected an error for an invalid MAC address")
	}
}

func TestLoadRejectsMissingCandidates(t *testing.T) {
	yamlContent := `
interface: tap0
mac: "02:00:00:00:00:01"
`
	path := writeTemp(t, yamlContent)
	if _, err := stackcfg.Load(path); err == nil {
		t.Fatal("expected an error when no candidate addresses are configured")
	}
}

func TestValidateRejectsDuplicateCandidates(t *testing.T) {
	cfg := stackcfg.Default()
	cfg.Interface = "tap0"
	cfg.MAC = "02:00:00:00:00:01"
	cfg.Candidates = []stackcfg.CandidateConfig{
		{Address: "192.168.9.1", Mask: "255.255.255.0"},
		{Address: "192.168.9.1", Mask: "255.255.255.0"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for a duplicate candidate address")
	}
}

func TestParseMAC(t *testing.T) {
	cfg := stackcfg.Default()
	cfg.MAC = "02:00:00:00:00:01"
	got, err := cfg.ParseMAC()
	if err != nil {
		t.Fatal(err)
	}
	want := [6]byte{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	if got != want {
		t.Fatalf("got %v, want %v", got, want)
	}
}

// writeTemp creates a temporary YAML file and returns its path. The file
// is automatically cleaned up when the test finishes.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "nettap.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
