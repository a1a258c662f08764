package topology

import (
	"net/netip"

	"wgnet/pkg/model"
)

// Node is one participant of a network as seen by the coordinator.
type Node struct {
	PublicKey string
	Addrs     []netip.Prefix
	Endpoint  *netip.AddrPort
}

// FromMember converts an allocated interface into a mesh participant.
func FromMember(m model.Member) Node {
	return Node{PublicKey: m.PublicKey, Addrs: m.Config.Addrs, Endpoint: m.Endpoint()}
}

// BuildPeers derives a full-mesh peer set for self, keyed by public key.
// Each peer only routes its own host addresses; wider prefixes would
// overlap between peers and break allowed-ip routing.
func BuildPeers(self string, nodes []Node) map[string]model.PeerConfig {
	out := make(map[string]model.PeerConfig, len(nodes))
	for _, n := range nodes {
		if n.PublicKey == "" || n.PublicKey == self {
			continue
		}
		if _, dup := out[n.PublicKey]; dup {
			continue
		}
		ka := model.DefaultKeepalive
		p := model.PeerConfig{
			PublicKey:           n.PublicKey,
			AllowedIPs:          model.HostPrefixes(n.Addrs),
			PersistentKeepalive: &ka,
		}
		if n.Endpoint != nil {
			ep := *n.Endpoint
			p.Endpoint = &ep
		}
		out[n.PublicKey] = p
	}
	return out
}

// Network returns the active members of network.
func Network(network string, members []model.Member) []model.Member {
	var out []model.Member
	for _, m := range members {
		if m.Active && m.Network == network {
			out = append(out, m)
		}
	}
	return out
}
