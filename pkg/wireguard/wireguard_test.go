package wireguard

import (
	"errors"
	"net/netip"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"wgnet/pkg/logging"
	"wgnet/pkg/model"
)

type fakeWG struct {
	configured map[string]wgtypes.Config
	key        wgtypes.Key
	err        error
}

func (f *fakeWG) ConfigureDevice(name string, cfg wgtypes.Config) error {
	if f.err != nil {
		return f.err
	}
	if f.configured == nil {
		f.configured = map[string]wgtypes.Config{}
	}
	f.configured[name] = cfg
	return nil
}

func (f *fakeWG) Device(name string) (*wgtypes.Device, error) {
	return &wgtypes.Device{Name: name, PublicKey: f.key}, nil
}

func (f *fakeWG) Close() error { return nil }

type fakeLinks struct {
	created   []string
	destroyed []string
}

func (f *fakeLinks) create(name string, _ int) error { f.created = append(f.created, name); return nil }
func (f *fakeLinks) destroy(name string) error      { f.destroyed = append(f.destroyed, name); return nil }

func mustKey(t *testing.T) wgtypes.Key {
	t.Helper()
	k, err := wgtypes.GeneratePrivateKey()
	require.NoError(t, err)
	return k
}

func sampleConfig(t *testing.T) model.InterfaceConfig {
	t.Helper()
	port := uint16(51820)
	ka := model.DefaultKeepalive
	ep := netip.MustParseAddrPort("198.51.100.7:51820")
	return model.InterfaceConfig{
		Name:       "wg0",
		PrivateKey: mustKey(t).String(),
		Addrs:      []netip.Prefix{netip.MustParsePrefix("10.0.0.1/24")},
		ListenPort: &port,
		Peers: map[string]model.PeerConfig{
			"b": {PublicKey: mustKey(t).PublicKey().String(), AllowedIPs: []netip.Prefix{netip.MustParsePrefix("10.0.0.3/32")}},
			"a": {
				PublicKey:           mustKey(t).PublicKey().String(),
				Endpoint:            &ep,
				AllowedIPs:          []netip.Prefix{netip.MustParsePrefix("10.0.0.2/32"), netip.MustParsePrefix("fd00::2/128")},
				PersistentKeepalive: &ka,
			},
		},
	}
}

func TestDeviceConfig(t *testing.T) {
	cfg := sampleConfig(t)
	out, err := DeviceConfig(cfg)
	require.NoError(t, err)

	assert.True(t, out.ReplacePeers)
	require.NotNil(t, out.ListenPort)
	assert.Equal(t, 51820, *out.ListenPort)
	require.Len(t, out.Peers, 2)

	a := out.Peers[0]
	assert.Equal(t, cfg.Peers["a"].PublicKey, a.PublicKey.String())
	require.NotNil(t, a.Endpoint)
	assert.Equal(t, "198.51.100.7:51820", a.Endpoint.String())
	require.NotNil(t, a.PersistentKeepaliveInterval)
	assert.Equal(t, 25*time.Second, *a.PersistentKeepaliveInterval)
	require.Len(t, a.AllowedIPs, 2)
	assert.Equal(t, "10.0.0.2/32", a.AllowedIPs[0].String())
	assert.Equal(t, "fd00::2/128", a.AllowedIPs[1].String())

	b := out.Peers[1]
	assert.Nil(t, b.Endpoint)
	assert.Nil(t, b.PersistentKeepaliveInterval)
}

func TestDeviceConfigBadKeys(t *testing.T) {
	cfg := sampleConfig(t)
	cfg.PrivateKey = "nope"
	_, err := DeviceConfig(cfg)
	assert.ErrorContains(t, err, "private key")

	cfg = sampleConfig(t)
	p := cfg.Peers["a"]
	p.PublicKey = "short"
	cfg.Peers["a"] = p
	_, err = DeviceConfig(cfg)
	assert.ErrorContains(t, err, "peer a")
}

func TestClearConfig(t *testing.T) {
	c := ClearConfig()
	require.NotNil(t, c.PrivateKey)
	assert.Equal(t, wgtypes.Key{}, *c.PrivateKey)
	assert.Equal(t, 0, *c.ListenPort)
	assert.True(t, c.ReplacePeers)
	assert.Empty(t, c.Peers)
}

func TestDriver(t *testing.T) {
	key := mustKey(t)
	wg := &fakeWG{key: key.PublicKey()}
	links := &fakeLinks{}
	d := &driver{wg: wg, links: links, log: logging.Discard()}

	require.NoError(t, d.Ensure("wg0", 1420))
	require.NoError(t, d.Configure("wg0", ClearConfig()))
	pub, err := d.PublicKey("wg0")
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey(), pub)
	require.NoError(t, d.Destroy("wg0"))

	assert.Equal(t, []string{"wg0"}, links.created)
	assert.Equal(t, []string{"wg0"}, links.destroyed)
	assert.Contains(t, wg.configured, "wg0")

	wg.err = errors.New("boom")
	assert.ErrorContains(t, d.Configure("wg0", ClearConfig()), "configure wg0: boom")
}

func TestRender(t *testing.T) {
	cfg := sampleConfig(t)
	out := Render(cfg, true)
	assert.Contains(t, out, "[Interface]\nAddress = 10.0.0.1/24\nListenPort = 51820\nMTU = 1420\nPrivateKey = (hidden)\n")
	assert.NotContains(t, out, cfg.PrivateKey)
	assert.Contains(t, out, "Endpoint = 198.51.100.7:51820\nAllowedIPs = 10.0.0.2/32, fd00::2/128\nPersistentKeepalive = 25\n")
	assert.Less(t, strings.Index(out, "# a\n"), strings.Index(out, "# b\n"))

	assert.Contains(t, Render(cfg, false), cfg.PrivateKey)
}
