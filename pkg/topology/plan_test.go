package topology

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wgnet/pkg/model"
)

func member(key, network string, active bool, addr, ext, internal string) model.Member {
	m := model.Member{PublicKey: key, Network: network, Active: active}
	m.Config.Name = network
	m.Config.Addrs = []netip.Prefix{netip.MustParsePrefix(addr)}
	if ext != "" {
		ep := netip.MustParseAddrPort(ext)
		m.Config.ExternalEndpoint = &ep
	}
	if internal != "" {
		ep := netip.MustParseAddrPort(internal)
		m.Config.InternalEndpoint = &ep
	}
	return m
}

func TestBuildPeersFullMesh(t *testing.T) {
	members := []model.Member{
		member("A", "wg0", true, "10.0.0.1/24", "203.0.113.1:51820", "192.168.1.1:51820"),
		member("B", "wg0", true, "10.0.0.2/24", "", "192.168.1.2:51820"),
		member("C", "wg0", false, "10.0.0.3/24", "", ""),
		member("D", "wg1", true, "10.9.0.1/24", "", ""),
	}
	var nodes []Node
	for _, m := range Network("wg0", members) {
		nodes = append(nodes, FromMember(m))
	}
	require.Len(t, nodes, 2)

	peers := BuildPeers("B", nodes)
	require.Len(t, peers, 1)
	a := peers["A"]
	assert.Equal(t, "203.0.113.1:51820", a.Endpoint.String())
	assert.Equal(t, []netip.Prefix{netip.MustParsePrefix("10.0.0.1/32")}, a.AllowedIPs)
	require.NotNil(t, a.PersistentKeepalive)
	assert.Equal(t, uint16(25), *a.PersistentKeepalive)

	peers = BuildPeers("A", nodes)
	assert.Equal(t, "192.168.1.2:51820", peers["B"].Endpoint.String())
}

func TestBuildPeersSkipsSelfAndDuplicates(t *testing.T) {
	nodes := []Node{
		{PublicKey: "A", Addrs: []netip.Prefix{netip.MustParsePrefix("10.0.0.1/24")}},
		{PublicKey: "A", Addrs: []netip.Prefix{netip.MustParsePrefix("10.0.0.9/24")}},
		{PublicKey: ""},
		{PublicKey: "S"},
	}
	peers := BuildPeers("S", nodes)
	require.Len(t, peers, 1)
	assert.Nil(t, peers["A"].Endpoint)
	assert.Equal(t, "10.0.0.1/32", peers["A"].AllowedIPs[0].String())
}
