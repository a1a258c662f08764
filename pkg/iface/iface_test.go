package iface

import (
	"errors"
	"fmt"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
	"pgregory.net/rapid"

	"wgnet/pkg/errs"
	"wgnet/pkg/logging"
	"wgnet/pkg/model"
)

// recorder collects every device and applier call; fail makes the named
// call return an error.
type recorder struct {
	calls []string
	fail  map[string]error
	key   *wgtypes.Key
}

func (r *recorder) hit(op string, args ...any) error {
	r.calls = append(r.calls, fmt.Sprint(append([]any{op}, args...)...))
	if err, ok := r.fail[op]; ok {
		return err
	}
	return nil
}

func (r *recorder) Ensure(name string, mtu int) error { return r.hit("Ensure ", name, " ", mtu) }
func (r *recorder) Configure(name string, cfg wgtypes.Config) error {
	if cfg.PrivateKey != nil && *cfg.PrivateKey != (wgtypes.Key{}) {
		k := cfg.PrivateKey.PublicKey()
		r.key = &k
	}
	return r.hit("Configure ", name, " ", len(cfg.Peers))
}
func (r *recorder) PublicKey(name string) (wgtypes.Key, error) {
	if err := r.hit("PublicKey ", name); err != nil {
		return wgtypes.Key{}, err
	}
	if r.key == nil {
		return wgtypes.Key{}, nil
	}
	return *r.key, nil
}
func (r *recorder) Destroy(name string) error { return r.hit("Destroy ", name) }
func (r *recorder) Close() error              { return nil }

func (r *recorder) AssignAddress(name string, addrs []netip.Prefix) error {
	return r.hit("AssignAddress ", name, " ", addrs)
}
func (r *recorder) RemoveAddress(name string, addrs []netip.Prefix) error {
	return r.hit("RemoveAddress ", name, " ", addrs)
}
func (r *recorder) SetMTU(name string, mtu int) error  { return r.hit("SetMTU ", name, " ", mtu) }
func (r *recorder) BringLinkUp(name string) error      { return r.hit("BringLinkUp ", name) }
func (r *recorder) AddRoute(name string, routes []netip.Prefix) error {
	return r.hit("AddRoute ", name, " ", routes)
}
func (r *recorder) DelRoute(name string, routes []netip.Prefix) error {
	return r.hit("DelRoute ", name, " ", routes)
}

func testConfig(t interface{ Fatalf(string, ...any) }, addrs ...string) model.InterfaceConfig {
	k, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	peer, _ := wgtypes.GeneratePrivateKey()
	cfg := model.InterfaceConfig{
		Name:       "wg0",
		PrivateKey: k.String(),
		Peers: map[string]model.PeerConfig{
			"p1": {PublicKey: peer.PublicKey().String(), AllowedIPs: []netip.Prefix{netip.MustParsePrefix("10.1.0.2/32")}},
		},
	}
	for _, a := range addrs {
		cfg.Addrs = append(cfg.Addrs, netip.MustParsePrefix(a))
	}
	return cfg
}

func newTestIface(t *testing.T, cfg model.InterfaceConfig) (*Interface, *recorder) {
	t.Helper()
	r := &recorder{fail: map[string]error{}}
	return New(cfg, r, r, logging.Discard()), r
}

func TestUpFullSequence(t *testing.T) {
	i, r := newTestIface(t, testConfig(t, "10.1.0.1/24", "fd00::1/64"))
	require.NoError(t, i.Up())
	assert.Equal(t, Up, i.State())
	assert.Equal(t, []string{
		"Ensure wg0 1420",
		"Configure wg0 1",
		"PublicKey wg0",
		"AssignAddress wg0 [10.1.0.1/24]",
		"AssignAddress wg0 [fd00::1/64]",
		"BringLinkUp wg0",
		"SetMTU wg0 1420",
		"AddRoute wg0 [10.1.0.0/24]",
		"AddRoute wg0 [fd00::/64]",
	}, r.calls)
	assert.Equal(t, Status{Name: "wg0", State: "up"}, i.Status())
}

func TestRepeatedUpDeduplicates(t *testing.T) {
	i, r := newTestIface(t, testConfig(t, "10.1.0.1/24", "10.1.0.1/24"))
	require.NoError(t, i.Up())
	first := len(r.calls)
	require.NoError(t, i.Up())
	second := r.calls[first:]
	assert.Equal(t, []string{"Ensure wg0 1420", "Configure wg0 1", "PublicKey wg0", "BringLinkUp wg0", "SetMTU wg0 1420"}, second)
	assert.Equal(t, 1, countPrefix(r.calls, "AssignAddress"))
	assert.Equal(t, 1, countPrefix(r.calls, "AddRoute"))
}

func TestReplaceRemovesStaleEntries(t *testing.T) {
	cfg := testConfig(t, "10.1.0.1/24")
	i, r := newTestIface(t, cfg)
	require.NoError(t, i.Up())

	next := cfg.Clone()
	next.Addrs = []netip.Prefix{netip.MustParsePrefix("10.2.0.1/24")}
	assert.True(t, i.Replace(next))
	assert.False(t, i.Replace(next))

	r.calls = nil
	require.NoError(t, i.Up())
	assert.Contains(t, r.calls, "AssignAddress wg0 [10.2.0.1/24]")
	assert.Contains(t, r.calls, "RemoveAddress wg0 [10.1.0.1/24]")
	assert.Contains(t, r.calls, "AddRoute wg0 [10.2.0.0/24]")
	assert.Contains(t, r.calls, "DelRoute wg0 [10.1.0.0/24]")
}

func TestReplaceIgnoresOtherName(t *testing.T) {
	cfg := testConfig(t)
	i, _ := newTestIface(t, cfg)
	other := cfg.Clone()
	other.Name = "wg1"
	assert.False(t, i.Replace(other))
	assert.Equal(t, "wg0", i.Desired().Name)
}

func TestUpFailureFreezesState(t *testing.T) {
	cases := []struct {
		op    string
		stage string
		state State
	}{
		{"Ensure ", StageDevice, Down},
		{"Configure ", StageDevice, Down},
		{"AssignAddress ", StageAddress, DeviceConfigured},
		{"BringLinkUp ", StageLink, AddressAssigned},
		{"SetMTU ", StageMTU, AddressAssigned},
		{"AddRoute ", StageRoute, AddressAssigned},
	}
	for _, tc := range cases {
		t.Run(tc.op, func(t *testing.T) {
			i, r := newTestIface(t, testConfig(t, "10.1.0.1/24"))
			r.fail[tc.op] = errors.New("boom")
			err := i.Up()
			var ae *errs.ApplyError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, "wg0", ae.Iface)
			assert.Equal(t, tc.stage, ae.Stage)
			assert.Equal(t, tc.state, i.State())
			assert.Equal(t, tc.stage, i.Status().Stage)

			delete(r.fail, tc.op)
			require.NoError(t, i.Up())
			assert.Equal(t, Up, i.State())
			assert.Empty(t, i.Status().Error)
		})
	}
}

func TestUpKeyMismatch(t *testing.T) {
	i, r := newTestIface(t, testConfig(t))
	other, err := wgtypes.GeneratePrivateKey()
	require.NoError(t, err)
	i.dev = &mismatch{recorder: r, key: other.PublicKey()}
	err = i.Up()
	assert.Equal(t, StageDevice, errs.Stage(err))
	assert.ErrorContains(t, err, "device holds key")
	assert.Equal(t, Down, i.State())
}

type mismatch struct {
	*recorder
	key wgtypes.Key
}

func (m *mismatch) PublicKey(string) (wgtypes.Key, error) { return m.key, nil }

func TestNotImplementedIsLoud(t *testing.T) {
	i, r := newTestIface(t, testConfig(t, "10.1.0.1/24"))
	r.fail["BringLinkUp "] = errs.NotImplemented("bring link up", "plan9")
	err := i.Up()
	assert.ErrorIs(t, err, errs.ErrNotImplemented)
	assert.Equal(t, StageLink, errs.Stage(err))
	assert.NotEqual(t, Up, i.State())
}

func TestDownOnIdleMakesNoCalls(t *testing.T) {
	i, r := newTestIface(t, testConfig(t, "10.1.0.1/24"))
	require.NoError(t, i.Down())
	require.NoError(t, i.Down())
	assert.Empty(t, r.calls)
	assert.Equal(t, Down, i.State())
}

func TestDownReverseOrder(t *testing.T) {
	i, r := newTestIface(t, testConfig(t, "10.1.0.1/24"))
	require.NoError(t, i.Up())
	r.calls = nil
	require.NoError(t, i.Down())
	assert.Equal(t, []string{
		"DelRoute wg0 [10.1.0.0/24]",
		"RemoveAddress wg0 [10.1.0.1/24]",
		"Configure wg0 0",
		"Destroy wg0",
	}, r.calls)
	assert.Equal(t, Down, i.State())

	r.calls = nil
	require.NoError(t, i.Down())
	assert.Empty(t, r.calls)
}

func TestDownBestEffort(t *testing.T) {
	i, r := newTestIface(t, testConfig(t, "10.1.0.1/24"))
	require.NoError(t, i.Up())
	r.fail["DelRoute "] = errors.New("route busy")
	r.calls = nil

	err := i.Down()
	require.Error(t, err)
	assert.Equal(t, StageRoute, errs.Stage(err))
	assert.Contains(t, r.calls, "RemoveAddress wg0 [10.1.0.1/24]")
	assert.Contains(t, r.calls, "Destroy wg0")
	assert.Equal(t, Up, i.State())

	delete(r.fail, "DelRoute ")
	r.calls = nil
	require.NoError(t, i.Down())
	assert.Equal(t, []string{"DelRoute wg0 [10.1.0.0/24]"}, r.calls)
	assert.Equal(t, Down, i.State())
}

func TestDownAfterPartialUp(t *testing.T) {
	i, r := newTestIface(t, testConfig(t, "10.1.0.1/24"))
	r.fail["Configure "] = errors.New("no such device")
	require.Error(t, i.Up())
	assert.Equal(t, Down, i.State())

	delete(r.fail, "Configure ")
	r.calls = nil
	require.NoError(t, i.Down())
	assert.Equal(t, []string{"Configure wg0 0", "Destroy wg0"}, r.calls)
}

var failPoints = []string{
	"",
	"Ensure ", "Configure ", "PublicKey ",
	// removals are only reached when a replace left something stale
	"AssignAddress ", "RemoveAddress ",
	"BringLinkUp ", "SetMTU ", "AddRoute ", "DelRoute ",
}

// ceiling is the highest state an Up call can reach when op fails.
func ceiling(op string) State {
	switch op {
	case "Ensure ", "Configure ", "PublicKey ":
		return Down
	case "AssignAddress ", "RemoveAddress ":
		return DeviceConfigured
	default:
		return AddressAssigned
	}
}

func TestStateMonotonic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		cfg := testConfig(rt, "10.1.0.1/24", "fd00::1/64")
		r := &recorder{fail: map[string]error{}}
		i := New(cfg, r, r, logging.Discard())
		addrSets := [][]netip.Prefix{
			{netip.MustParsePrefix("10.1.0.1/24")},
			{netip.MustParsePrefix("10.2.0.1/16"), netip.MustParsePrefix("fd00::1/64")},
			nil,
		}

		prev := Down
		steps := rapid.IntRange(1, 12).Draw(rt, "steps")
		for n := 0; n < steps; n++ {
			if rapid.Bool().Draw(rt, "replace") {
				next := cfg.Clone()
				next.Addrs = rapid.SampledFrom(addrSets).Draw(rt, "addrs")
				i.Replace(next)
			}
			op := rapid.SampledFrom(failPoints).Draw(rt, "fail")
			r.fail = map[string]error{}
			if op != "" {
				r.fail[op] = errors.New("injected")
			}
			err := i.Up()
			got := i.State()
			if got < prev {
				rt.Fatalf("state went back from %s to %s", prev, got)
			}
			if err == nil {
				if got != Up {
					rt.Fatalf("successful up left state %s", got)
				}
			} else {
				limit := ceiling(op)
				if prev > limit {
					limit = prev
				}
				if got > limit {
					rt.Fatalf("state %s passed %s after failure at %q", got, limit, op)
				}
				if op == "" {
					rt.Fatalf("unexpected error %v", err)
				}
			}
			prev = got
		}
	})
}

func countPrefix(calls []string, prefix string) int {
	n := 0
	for _, c := range calls {
		if len(c) >= len(prefix) && c[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}
