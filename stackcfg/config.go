// Package stackcfg loads the stack's startup configuration from a YAML
// file layered under NETTAP_-prefixed environment overrides, via the
// knadh/koanf file provider, yaml parser and env provider.
package stackcfg

import (
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix environment variables must carry to override
// configuration keys, e.g. NETTAP_INTERFACE, NETTAP_MTU.
const EnvPrefix = "NETTAP_"

// CandidateConfig is one (address, mask) pair to run through duplicate-address detection.
type CandidateConfig struct {
	Address string `koanf:"address"`
	Mask    string `koanf:"mask"`
}

// PolicyConfig mirrors stack.Policy in a YAML/env-friendly shape.
type PolicyConfig struct {
	ARPUpdateFromDirectRequest bool `koanf:"arp_update_from_direct_request"`
	ARPUpdateFromGratuitous    bool `koanf:"arp_update_from_gratuitous"`
	ARPBypassOnResponse        bool `koanf:"arp_bypass_on_response"`
}

// Config is the stack's complete startup configuration.
type Config struct {
	Interface   string            `koanf:"interface"`
	MAC         string            `koanf:"mac"`
	Candidates  []CandidateConfig `koanf:"candidates"`
	MTU         int               `koanf:"mtu"`
	Policy      PolicyConfig      `koanf:"policy"`
	MetricsAddr string            `koanf:"metrics_addr"`
}

// Default returns a Config with the stock defaults (MTU 1500,
// gratuitous-reply ARP updates on, ARP bypass on response on).
func Default() Config {
	return Config{
		MTU: 1500,
		Policy: PolicyConfig{
			ARPUpdateFromGratuitous: true,
			ARPBypassOnResponse:     true,
		},
		MetricsAddr: ":9090",
	}
}

// Load reads path as YAML, then applies NETTAP_-prefixed environment
// overrides (e.g. NETTAP_MTU=9000), on top of [Default].
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if err := loadDefaults(k, Default()); err != nil {
		return Config{}, fmt.Errorf("stackcfg: load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("stackcfg: load file %q: %w", path, err)
		}
	}
	envProvider := env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return Config{}, fmt.Errorf("stackcfg: load env: %w", err)
	}
	var out Config
	if err := k.Unmarshal("", &out); err != nil {
		return Config{}, fmt.Errorf("stackcfg: unmarshal: %w", err)
	}
	if err := out.Validate(); err != nil {
		return Config{}, err
	}
	return out, nil
}

// loadDefaults seeds k with defaults's fields as the base layer, so a
// partial YAML file or env override only needs to name what it changes.
func loadDefaults(k *koanf.Koanf, defaults Config) error {
	values := map[string]any{
		"mtu":                                   defaults.MTU,
		"metrics_addr":                          defaults.MetricsAddr,
		"policy.arp_update_from_direct_request": defaults.Policy.ARPUpdateFromDirectRequest,
		"policy.arp_update_from_gratuitous":     defaults.Policy.ARPUpdateFromGratuitous,
		"policy.arp_bypass_on_response":         defaults.Policy.ARPBypassOnResponse,
	}
	for key, val := range values {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}
	return nil
}

// Validate rejects configurations the stack cannot start with: invalid
// MAC/IP/mask, no candidates, a non-positive MTU, or duplicate candidate
// addresses.
func (c Config) Validate() error {
	if c.Interface == "" {
		return fmt.Errorf("stackcfg: interface name must not be empty")
	}
	if _, err := c.ParseMAC(); err != nil {
		return err
	}
	if len(c.Candidates) == 0 {
		return fmt.Errorf("stackcfg: at least one candidate address is required")
	}
	if c.MTU <= 0 {
		return fmt.Errorf("stackcfg: mtu must be positive, got %d", c.MTU)
	}
	seen := make(map[string]bool, len(c.Candidates))
	for _, cand := range c.Candidates {
		addr, err := netip.ParseAddr(cand.Address)
		if err != nil || !addr.Is4() {
			return fmt.Errorf("stackcfg: invalid candidate address %q", cand.Address)
		}
		mask, err := netip.ParseAddr(cand.Mask)
		if err != nil || !mask.Is4() {
			return fmt.Errorf("stackcfg: invalid candidate mask %q", cand.Mask)
		}
		if seen[cand.Address] {
			return fmt.Errorf("stackcfg: duplicate candidate address %q", cand.Address)
		}
		seen[cand.Address] = true
	}
	return nil
}

// ParseMAC parses c.MAC into a fixed-size array for use by the stack.
func (c Config) ParseMAC() ([6]byte, error) {
	var out [6]byte
	hw, err := net.ParseMAC(c.MAC)
	if err != nil || len(hw) != 6 {
		return out, fmt.Errorf("stackcfg: invalid mac %q", c.MAC)
	}
	copy(out[:], hw)
	return out, nil
}
