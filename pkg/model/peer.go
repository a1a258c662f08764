package model

import (
	"fmt"
	"net/netip"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// DefaultKeepalive is the keepalive the coordinator hands out to mesh peers.
const DefaultKeepalive uint16 = 25

// PeerConfig describes one remote tunnel endpoint.
// A peer without Endpoint and PersistentKeepalive is dial-in only.
type PeerConfig struct {
	PublicKey           string          `json:"public_key" yaml:"public_key"`
	Endpoint            *netip.AddrPort `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	AllowedIPs          []netip.Prefix  `json:"allowed_ips" yaml:"allowed_ips"`
	PresharedKey        *string         `json:"preshared_key,omitempty" yaml:"preshared_key,omitempty"`
	PersistentKeepalive *uint16         `json:"persistent_keepalive,omitempty" yaml:"persistent_keepalive,omitempty"`
}

// Validate checks that the keys parse.
func (p PeerConfig) Validate() error {
	if _, err := wgtypes.ParseKey(p.PublicKey); err != nil {
		return fmt.Errorf("public key: %w", err)
	}
	if p.PresharedKey != nil {
		if _, err := wgtypes.ParseKey(*p.PresharedKey); err != nil {
			return fmt.Errorf("preshared key: %w", err)
		}
	}
	for _, ip := range p.AllowedIPs {
		if !ip.IsValid() {
			return fmt.Errorf("allowed ip %q is not a valid prefix", ip)
		}
	}
	return nil
}

// Clone returns a deep copy.
func (p PeerConfig) Clone() PeerConfig {
	out := PeerConfig{PublicKey: p.PublicKey}
	if p.Endpoint != nil {
		ep := *p.Endpoint
		out.Endpoint = &ep
	}
	if p.AllowedIPs != nil {
		out.AllowedIPs = append([]netip.Prefix{}, p.AllowedIPs...)
	}
	if p.PresharedKey != nil {
		psk := *p.PresharedKey
		out.PresharedKey = &psk
	}
	if p.PersistentKeepalive != nil {
		ka := *p.PersistentKeepalive
		out.PersistentKeepalive = &ka
	}
	return out
}

// HostPrefixes turns addresses into single-host prefixes, used as a peer's allowed IPs.
func HostPrefixes(addrs []netip.Prefix) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(addrs))
	seen := make(map[netip.Prefix]bool, len(addrs))
	for _, a := range addrs {
		h := netip.PrefixFrom(a.Addr(), a.Addr().BitLen())
		if !seen[h] {
			seen[h] = true
			out = append(out, h)
		}
	}
	return out
}
