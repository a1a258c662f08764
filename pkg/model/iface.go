package model

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"sort"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// DefaultMTU applies when an interface config leaves MTU unset.
const DefaultMTU = 1420

// InterfaceConfig is the desired state of one tunnel interface.
// It is replaced wholesale on every sync and never patched field by field.
type InterfaceConfig struct {
	Name             string                `json:"name" yaml:"name"`
	PrivateKey       string                `json:"private_key" yaml:"private_key"`
	Addrs            []netip.Prefix        `json:"addrs" yaml:"addrs"`
	ListenPort       *uint16               `json:"listen_port,omitempty" yaml:"listen_port,omitempty"`
	MTU              *uint32               `json:"mtu,omitempty" yaml:"mtu,omitempty"`
	InternalEndpoint *netip.AddrPort       `json:"internal_endpoint,omitempty" yaml:"internal_endpoint,omitempty"`
	ExternalEndpoint *netip.AddrPort       `json:"external_endpoint,omitempty" yaml:"external_endpoint,omitempty"`
	Peers            map[string]PeerConfig `json:"peers" yaml:"peers"`
}

// Validate checks the name, keys and address text that cannot be caught by parsing.
func (c InterfaceConfig) Validate() error {
	if c.Name == "" {
		return errors.New("interface name is required")
	}
	if _, err := wgtypes.ParseKey(c.PrivateKey); err != nil {
		return fmt.Errorf("interface %s private key: %w", c.Name, err)
	}
	for _, a := range c.Addrs {
		if !a.IsValid() {
			return fmt.Errorf("interface %s: invalid address %q", c.Name, a)
		}
	}
	for name, p := range c.Peers {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("interface %s peer %s: %w", c.Name, name, err)
		}
	}
	return nil
}

// MTUValue returns the configured MTU or DefaultMTU.
func (c InterfaceConfig) MTUValue() int {
	if c.MTU == nil || *c.MTU == 0 {
		return DefaultMTU
	}
	return int(*c.MTU)
}

// Routes returns the distinct network prefixes covered by the interface addresses.
func (c InterfaceConfig) Routes() []netip.Prefix {
	out := make([]netip.Prefix, 0, len(c.Addrs))
	seen := make(map[netip.Prefix]bool, len(c.Addrs))
	for _, a := range c.Addrs {
		r := a.Masked()
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out
}

// PeerNames lists peer names in sorted order.
func (c InterfaceConfig) PeerNames() []string {
	names := make([]string, 0, len(c.Peers))
	for n := range c.Peers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Identity derives the node identity from the private key.
func (c InterfaceConfig) Identity() (Identity, error) {
	return IdentityFromKey(c.PrivateKey)
}

// Clone returns a deep copy.
func (c InterfaceConfig) Clone() InterfaceConfig {
	out := InterfaceConfig{Name: c.Name, PrivateKey: c.PrivateKey}
	if c.Addrs != nil {
		out.Addrs = append([]netip.Prefix{}, c.Addrs...)
	}
	if c.ListenPort != nil {
		v := *c.ListenPort
		out.ListenPort = &v
	}
	if c.MTU != nil {
		v := *c.MTU
		out.MTU = &v
	}
	if c.InternalEndpoint != nil {
		v := *c.InternalEndpoint
		out.InternalEndpoint = &v
	}
	if c.ExternalEndpoint != nil {
		v := *c.ExternalEndpoint
		out.ExternalEndpoint = &v
	}
	out.Peers = make(map[string]PeerConfig, len(c.Peers))
	for k, p := range c.Peers {
		out.Peers[k] = p.Clone()
	}
	return out
}

// Equal compares two configs by their canonical JSON form.
func (c InterfaceConfig) Equal(o InterfaceConfig) bool {
	a, errA := json.Marshal(c)
	b, errB := json.Marshal(o)
	return errA == nil && errB == nil && bytes.Equal(a, b)
}

// WithPeers returns a copy of c whose peer set is exactly peers.
func (c InterfaceConfig) WithPeers(peers map[string]PeerConfig) InterfaceConfig {
	out := c.Clone()
	out.Peers = make(map[string]PeerConfig, len(peers))
	for k, p := range peers {
		out.Peers[k] = p.Clone()
	}
	return out
}
