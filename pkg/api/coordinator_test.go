package api

import (
	"context"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wgnet/pkg/config"
	"wgnet/pkg/errs"
	"wgnet/pkg/logging"
	"wgnet/pkg/model"
	"wgnet/pkg/store"
)

type fakeSelf struct {
	cfg model.InterfaceConfig
	ups int
}

func (f *fakeSelf) Desired() model.InterfaceConfig { return f.cfg.Clone() }

func (f *fakeSelf) Replace(cfg model.InterfaceConfig) bool {
	if f.cfg.Equal(cfg) {
		return false
	}
	f.cfg = cfg.Clone()
	return true
}

func (f *fakeSelf) Up() error {
	f.ups++
	return nil
}

func newSelf(t *testing.T) (*fakeSelf, model.Identity) {
	t.Helper()
	id, err := model.NewIdentity()
	require.NoError(t, err)
	ep := netip.MustParseAddrPort("203.0.113.1:51820")
	return &fakeSelf{cfg: model.InterfaceConfig{
		Name:             "wg0",
		PrivateKey:       id.PrivateKey.String(),
		Addrs:            []netip.Prefix{netip.MustParsePrefix("10.0.0.1/24")},
		ExternalEndpoint: &ep,
		Peers:            map[string]model.PeerConfig{},
	}}, id
}

func newCoordinator(t *testing.T, self SelfInterface) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(store.NewMemoryStore(), Options{Self: self, ServerSocket: "127.0.0.1:8888", Log: logging.Discard()})
	require.NoError(t, err)
	return c
}

func inviteFor(node string, addrs ...string) InviteRequest {
	return InviteRequest{Node: node, Interfaces: []InviteInterface{{Name: "wg0", Addrs: addrs}}}
}

func TestCreateAndRedeemInvite(t *testing.T) {
	c := newCoordinator(t, nil)
	ctx := context.Background()

	resp, err := c.CreateInvite(ctx, "admin", inviteFor("n1", "10.0.0.2/24"))
	require.NoError(t, err)
	inv, err := config.DecodeInvite(resp.Invite)
	require.NoError(t, err)
	assert.Equal(t, resp.Key, inv.Key)
	assert.Equal(t, "127.0.0.1:8888", inv.ServerSocket)
	assert.Equal(t, BootstrapIface, inv.IfaceConfig.Name)
	assert.Empty(t, inv.IfaceConfig.Peers)

	// members stay inactive until redeemed
	_, err = c.GetPeers(ctx, inv.IfaceConfig.PrivateKey)
	assert.ErrorIs(t, err, errs.ErrUnknownMember)

	cfgs, err := c.RedeemInvite(ctx, resp.Key)
	require.NoError(t, err)
	require.Len(t, cfgs, 1)
	assert.Equal(t, "wg0", cfgs[0].Name)
	assert.Equal(t, []netip.Prefix{netip.MustParsePrefix("10.0.0.2/24")}, cfgs[0].Addrs)
	assert.Empty(t, cfgs[0].Peers)

	_, err = c.RedeemInvite(ctx, resp.Key)
	assert.ErrorIs(t, err, errs.ErrInviteRedeemed)
	_, err = c.RedeemInvite(ctx, "missing")
	assert.ErrorIs(t, err, errs.ErrInviteNotFound)

	audit, err := c.Audit(10)
	require.NoError(t, err)
	assert.Len(t, audit, 2)
}

func TestMeshPeers(t *testing.T) {
	c := newCoordinator(t, nil)
	ctx := context.Background()

	var keys []string
	var pubs []string
	for i, addr := range []string{"10.0.0.2/24", "10.0.0.3/24"} {
		resp, err := c.CreateInvite(ctx, "admin", inviteFor([]string{"a", "b"}[i], addr))
		require.NoError(t, err)
		cfgs, err := c.RedeemInvite(ctx, resp.Key)
		require.NoError(t, err)
		id, err := cfgs[0].Identity()
		require.NoError(t, err)
		keys = append(keys, cfgs[0].PrivateKey)
		pubs = append(pubs, id.PublicKey.String())
	}

	ep := netip.MustParseAddrPort("198.51.100.7:51820")
	ok, err := c.PostEndpoint(ctx, keys[1], nil, &ep)
	require.NoError(t, err)
	assert.True(t, ok)

	peers, err := c.GetPeers(ctx, keys[0])
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, pubs[1], peers[0].PublicKey)
	assert.Equal(t, []netip.Prefix{netip.MustParsePrefix("10.0.0.3/32")}, peers[0].AllowedIPs)
	require.NotNil(t, peers[0].Endpoint)
	assert.Equal(t, ep, *peers[0].Endpoint)
	require.NotNil(t, peers[0].PersistentKeepalive)
	assert.Equal(t, model.DefaultKeepalive, *peers[0].PersistentKeepalive)

	peers, err = c.GetPeers(ctx, keys[1])
	require.NoError(t, err)
	require.Len(t, peers, 1)
	assert.Equal(t, pubs[0], peers[0].PublicKey)
	assert.Nil(t, peers[0].Endpoint)

	members, err := c.Members()
	require.NoError(t, err)
	for _, m := range members {
		assert.Empty(t, m.Config.PrivateKey)
	}
}

func TestPostEndpointUnknownKey(t *testing.T) {
	c := newCoordinator(t, nil)
	id, err := model.NewIdentity()
	require.NoError(t, err)
	ok, err := c.PostEndpoint(context.Background(), id.PrivateKey.String(), nil, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.PostEndpoint(context.Background(), "not-a-key", nil, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreateInviteRejects(t *testing.T) {
	c := newCoordinator(t, nil)
	ctx := context.Background()
	_, err := c.CreateInvite(ctx, "admin", inviteFor("n1", "10.0.0.2/24"))
	require.NoError(t, err)

	cases := map[string]InviteRequest{
		"no interfaces": {Node: "x"},
		"bad addr":      inviteFor("x", "10.0.0.300/24"),
		"address taken": inviteFor("x", "10.0.0.2/16"),
		"repeated name": {Node: "x", Interfaces: []InviteInterface{{Name: "wg0"}, {Name: "wg0"}}},
		"boot no self":  {Node: "x", BootstrapAddr: "10.255.0.2/32", Interfaces: []InviteInterface{{Name: "wg1"}}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := c.CreateInvite(ctx, "admin", req)
			var cfgErr *errs.ConfigError
			assert.ErrorAs(t, err, &cfgErr)
		})
	}
}

func TestCoordinatorInterface(t *testing.T) {
	self, selfID := newSelf(t)
	c := newCoordinator(t, self)
	c.Start()
	assert.Equal(t, 1, self.ups)
	ctx := context.Background()

	req := inviteFor("n1", "10.0.0.2/24")
	req.BootstrapAddr = "10.0.0.250/32"
	resp, err := c.CreateInvite(ctx, "admin", req)
	require.NoError(t, err)
	inv, err := config.DecodeInvite(resp.Invite)
	require.NoError(t, err)
	bootID, err := inv.IfaceConfig.Identity()
	require.NoError(t, err)

	// the bootstrap interface reaches the coordinator, which accepts it
	selfPub := selfID.PublicKey.String()
	require.Contains(t, inv.IfaceConfig.Peers, selfPub)
	boot := inv.IfaceConfig.Peers[selfPub]
	assert.Equal(t, []netip.Prefix{netip.MustParsePrefix("10.0.0.1/32")}, boot.AllowedIPs)
	assert.Equal(t, "203.0.113.1:51820", boot.Endpoint.String())
	assert.Contains(t, self.cfg.Peers, bootID.PublicKey.String())
	assert.Equal(t, 2, self.ups)

	cfgs, err := c.RedeemInvite(ctx, resp.Key)
	require.NoError(t, err)
	require.Len(t, cfgs, 1)
	assert.Contains(t, cfgs[0].Peers, selfPub)
	memberID, err := cfgs[0].Identity()
	require.NoError(t, err)
	assert.NotContains(t, self.cfg.Peers, bootID.PublicKey.String())
	assert.Contains(t, self.cfg.Peers, memberID.PublicKey.String())
	assert.Equal(t, 3, self.ups)

	// a resync with nothing changed leaves the interface alone
	c.Resync()
	assert.Equal(t, 3, self.ups)
}
