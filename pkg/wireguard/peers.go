package wireguard

import (
	"fmt"
	"net"
	"time"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"wgnet/pkg/model"
)

// DeviceConfig builds the replace-all device update for cfg.
func DeviceConfig(cfg model.InterfaceConfig) (wgtypes.Config, error) {
	key, err := wgtypes.ParseKey(cfg.PrivateKey)
	if err != nil {
		return wgtypes.Config{}, fmt.Errorf("private key: %w", err)
	}
	out := wgtypes.Config{
		PrivateKey:   &key,
		ReplacePeers: true,
		Peers:        make([]wgtypes.PeerConfig, 0, len(cfg.Peers)),
	}
	if cfg.ListenPort != nil {
		port := int(*cfg.ListenPort)
		out.ListenPort = &port
	}
	for _, name := range cfg.PeerNames() {
		pc, err := PeerDescriptor(cfg.Peers[name])
		if err != nil {
			return wgtypes.Config{}, fmt.Errorf("peer %s: %w", name, err)
		}
		out.Peers = append(out.Peers, pc)
	}
	return out, nil
}

// PeerDescriptor converts one peer. Endpoint and keepalive are optional.
func PeerDescriptor(p model.PeerConfig) (wgtypes.PeerConfig, error) {
	pub, err := wgtypes.ParseKey(p.PublicKey)
	if err != nil {
		return wgtypes.PeerConfig{}, fmt.Errorf("public key: %w", err)
	}
	out := wgtypes.PeerConfig{
		PublicKey:         pub,
		ReplaceAllowedIPs: true,
		AllowedIPs:        make([]net.IPNet, 0, len(p.AllowedIPs)),
	}
	if p.Endpoint != nil {
		out.Endpoint = net.UDPAddrFromAddrPort(*p.Endpoint)
	}
	if p.PresharedKey != nil {
		psk, err := wgtypes.ParseKey(*p.PresharedKey)
		if err != nil {
			return wgtypes.PeerConfig{}, fmt.Errorf("preshared key: %w", err)
		}
		out.PresharedKey = &psk
	}
	if p.PersistentKeepalive != nil {
		ka := time.Duration(*p.PersistentKeepalive) * time.Second
		out.PersistentKeepaliveInterval = &ka
	}
	for _, ip := range p.AllowedIPs {
		m := ip.Masked()
		out.AllowedIPs = append(out.AllowedIPs, net.IPNet{
			IP:   m.Addr().AsSlice(),
			Mask: net.CIDRMask(m.Bits(), m.Addr().BitLen()),
		})
	}
	return out, nil
}

// ClearConfig wipes the private key, listen port and every peer.
func ClearConfig() wgtypes.Config {
	var zero wgtypes.Key
	port := 0
	return wgtypes.Config{PrivateKey: &zero, ListenPort: &port, ReplacePeers: true, Peers: []wgtypes.PeerConfig{}}
}
