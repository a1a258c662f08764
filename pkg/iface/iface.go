// Package iface converges a single tunnel interface onto its desired
// configuration: device keys and peers first, then addresses, link state
// and routes.
package iface

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sort"
	"sync"

	"github.com/hashicorp/go-multierror"

	"wgnet/pkg/errs"
	"wgnet/pkg/model"
	"wgnet/pkg/platform"
	"wgnet/pkg/wireguard"
)

// State is the convergence progress of an interface.
type State int

const (
	Down State = iota
	DeviceConfigured
	AddressAssigned
	Routed
	Up
)

func (s State) String() string {
	switch s {
	case Down:
		return "down"
	case DeviceConfigured:
		return "device_configured"
	case AddressAssigned:
		return "address_assigned"
	case Routed:
		return "routed"
	case Up:
		return "up"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Stage names used in ApplyError and logs.
const (
	StageDevice  = "device"
	StageAddress = "address"
	StageLink    = "link"
	StageMTU     = "mtu"
	StageRoute   = "route"
)

// Status is a point-in-time view of an interface.
type Status struct {
	Name  string `json:"name"`
	State string `json:"state"`
	Stage string `json:"stage,omitempty"`
	Error string `json:"error,omitempty"`
}

// Interface owns one tunnel interface. All mutation goes through its lock,
// so two passes never touch the same interface at once.
type Interface struct {
	mu      sync.Mutex
	desired model.InterfaceConfig
	state   State
	lastErr error
	device  bool
	addrs   map[netip.Prefix]bool
	routes  map[netip.Prefix]bool

	dev wireguard.Device
	net platform.Applier
	log *slog.Logger
}

// New tracks cfg in state Down. Nothing is applied until Up.
func New(cfg model.InterfaceConfig, dev wireguard.Device, net platform.Applier, log *slog.Logger) *Interface {
	return &Interface{
		desired: cfg.Clone(),
		addrs:   map[netip.Prefix]bool{},
		routes:  map[netip.Prefix]bool{},
		dev:     dev,
		net:     net,
		log:     log.With("iface", cfg.Name),
	}
}

func (i *Interface) Name() string { return i.desired.Name }

// Desired returns a copy of the current desired configuration.
func (i *Interface) Desired() model.InterfaceConfig {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.desired.Clone()
}

// Replace swaps in a new desired configuration wholesale and reports
// whether it differs from the previous one.
func (i *Interface) Replace(cfg model.InterfaceConfig) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if cfg.Name != i.desired.Name {
		i.log.Warn("ignoring config for another interface", "got", cfg.Name)
		return false
	}
	changed := !i.desired.Equal(cfg)
	i.desired = cfg.Clone()
	return changed
}

func (i *Interface) State() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Err is the error of the last Up or Down, or nil.
func (i *Interface) Err() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.lastErr
}

func (i *Interface) Status() Status {
	i.mu.Lock()
	defer i.mu.Unlock()
	st := Status{Name: i.desired.Name, State: i.state.String()}
	if i.lastErr != nil {
		st.Error = i.lastErr.Error()
		st.Stage = errs.Stage(i.lastErr)
	}
	return st
}

// Up reapplies the full desired configuration. State only moves forward;
// on failure it stays at the last completed stage and the error is
// returned as an ApplyError.
func (i *Interface) Up() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	err := i.up()
	i.lastErr = err
	if err != nil {
		return err
	}
	i.log.Info("interface up", "peers", len(i.desired.Peers), "addrs", len(i.desired.Addrs))
	return nil
}

func (i *Interface) up() error {
	cfg := i.desired
	name := cfg.Name

	dc, err := wireguard.DeviceConfig(cfg)
	if err != nil {
		return i.fail(StageDevice, err)
	}
	if err := i.dev.Ensure(name, cfg.MTUValue()); err != nil {
		return i.fail(StageDevice, err)
	}
	i.device = true
	if err := i.dev.Configure(name, dc); err != nil {
		return i.fail(StageDevice, err)
	}
	want := dc.PrivateKey.PublicKey()
	got, err := i.dev.PublicKey(name)
	if err != nil {
		return i.fail(StageDevice, err)
	}
	if got != want {
		return i.fail(StageDevice, fmt.Errorf("device holds key %s, want %s", got, want))
	}
	i.advance(DeviceConfigured)

	desiredAddrs := set(cfg.Addrs)
	for _, p := range cfg.Addrs {
		if i.addrs[p] {
			continue
		}
		if err := i.net.AssignAddress(name, []netip.Prefix{p}); err != nil {
			return i.fail(StageAddress, err)
		}
		i.addrs[p] = true
	}
	for _, p := range stale(i.addrs, desiredAddrs) {
		if err := i.net.RemoveAddress(name, []netip.Prefix{p}); err != nil {
			return i.fail(StageAddress, err)
		}
		delete(i.addrs, p)
	}
	i.advance(AddressAssigned)

	if err := i.net.BringLinkUp(name); err != nil {
		return i.fail(StageLink, err)
	}
	if err := i.net.SetMTU(name, cfg.MTUValue()); err != nil {
		return i.fail(StageMTU, err)
	}

	routes := cfg.Routes()
	desiredRoutes := set(routes)
	for _, r := range routes {
		if i.routes[r] {
			continue
		}
		if err := i.net.AddRoute(name, []netip.Prefix{r}); err != nil {
			return i.fail(StageRoute, err)
		}
		i.routes[r] = true
	}
	for _, r := range stale(i.routes, desiredRoutes) {
		if err := i.net.DelRoute(name, []netip.Prefix{r}); err != nil {
			return i.fail(StageRoute, err)
		}
		delete(i.routes, r)
	}
	i.advance(Routed)
	i.advance(Up)
	return nil
}

// Down releases routes, then addresses, then device keys, then the device
// itself. Every step is attempted; the state returns to Down only when all
// of them succeed. Down on an idle interface makes no calls.
func (i *Interface) Down() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.state == Down && !i.device && len(i.addrs) == 0 && len(i.routes) == 0 {
		i.lastErr = nil
		return nil
	}
	name := i.desired.Name
	var result *multierror.Error

	for _, r := range sorted(i.routes) {
		if err := i.net.DelRoute(name, []netip.Prefix{r}); err != nil {
			result = multierror.Append(result, &errs.ApplyError{Iface: name, Stage: StageRoute, Err: err})
			continue
		}
		delete(i.routes, r)
	}
	for _, p := range sorted(i.addrs) {
		if err := i.net.RemoveAddress(name, []netip.Prefix{p}); err != nil {
			result = multierror.Append(result, &errs.ApplyError{Iface: name, Stage: StageAddress, Err: err})
			continue
		}
		delete(i.addrs, p)
	}
	if i.device {
		if err := i.dev.Configure(name, wireguard.ClearConfig()); err != nil {
			result = multierror.Append(result, &errs.ApplyError{Iface: name, Stage: StageDevice, Err: err})
		}
		if err := i.dev.Destroy(name); err != nil {
			result = multierror.Append(result, &errs.ApplyError{Iface: name, Stage: StageDevice, Err: err})
		} else {
			i.device = false
		}
	}

	err := result.ErrorOrNil()
	i.lastErr = err
	if err != nil {
		return err
	}
	i.state = Down
	i.log.Info("interface down")
	return nil
}

func (i *Interface) advance(s State) {
	if s > i.state {
		i.log.Debug("state advanced", "from", i.state.String(), "to", s.String())
		i.state = s
	}
}

func (i *Interface) fail(stage string, err error) error {
	var nie *errs.NotImplementedError
	if errors.As(err, &nie) {
		i.log.Error("capability not implemented on this os", "stage", stage, "capability", nie.Capability, "os", nie.OS)
	}
	return &errs.ApplyError{Iface: i.desired.Name, Stage: stage, Err: err}
}

func set(ps []netip.Prefix) map[netip.Prefix]bool {
	m := make(map[netip.Prefix]bool, len(ps))
	for _, p := range ps {
		m[p] = true
	}
	return m
}

func stale(applied, desired map[netip.Prefix]bool) []netip.Prefix {
	var out []netip.Prefix
	for p := range applied {
		if !desired[p] {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].String() < out[b].String() })
	return out
}

func sorted(m map[netip.Prefix]bool) []netip.Prefix {
	return stale(m, nil)
}
