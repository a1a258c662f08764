// Package agent runs the node side of the mesh: it redeems an invite once,
// then keeps every tracked interface converged on what the coordinator says.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"wgnet/pkg/errs"
	"wgnet/pkg/iface"
	"wgnet/pkg/model"
)

// ProcessState is the lifecycle of the agent process.
type ProcessState int

const (
	Starting ProcessState = iota
	Running
	Exiting
	Stopped
)

func (s ProcessState) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Exiting:
		return "exiting"
	case Stopped:
		return "stopped"
	}
	return fmt.Sprintf("process(%d)", int(s))
}

// Coordinator is the remote side the loop syncs with.
type Coordinator interface {
	Ping(ctx context.Context, msg string) (string, error)
	RedeemInvite(ctx context.Context, key string) ([]model.InterfaceConfig, error)
	PostEndpoint(ctx context.Context, key string, internal, external *netip.AddrPort) (bool, error)
	GetPeers(ctx context.Context, key string) ([]model.PeerConfig, error)
}

// Interface is one converging tunnel interface, normally *iface.Interface.
type Interface interface {
	Name() string
	Desired() model.InterfaceConfig
	Replace(model.InterfaceConfig) bool
	State() iface.State
	Err() error
	Status() iface.Status
	Up() error
	Down() error
}

// Factory builds the state machine for a config, tracked in state Down.
type Factory func(model.InterfaceConfig) Interface

// Reporter receives an interface status after every up, down or sync.
type Reporter interface {
	Report(op string, st iface.Status)
}

type Options struct {
	Coord       Coordinator
	Factory     Factory
	Interval    time.Duration
	Concurrency int
	Reporters   []Reporter
	Log         *slog.Logger
}

// Agent owns the tracked interface set.
type Agent struct {
	opts Options
	log  *slog.Logger

	mu        sync.Mutex
	state     ProcessState
	ifaces    map[string]Interface
	published map[string]bool
}

func New(opts Options) *Agent {
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	return &Agent{
		opts:      opts,
		log:       opts.Log.With("component", "agent"),
		ifaces:    map[string]Interface{},
		published: map[string]bool{},
	}
}

// Track replaces the tracked set with cfgs. Names must be unique.
func (a *Agent) Track(cfgs []model.InterfaceConfig) error {
	next := make(map[string]Interface, len(cfgs))
	for _, c := range cfgs {
		if _, dup := next[c.Name]; dup {
			return &errs.ConfigError{Source: "interfaces", Err: fmt.Errorf("interface %s listed twice", c.Name)}
		}
		next[c.Name] = a.opts.Factory(c)
	}
	a.mu.Lock()
	a.ifaces = next
	a.published = map[string]bool{}
	a.mu.Unlock()
	return nil
}

// Interfaces returns the tracked interfaces in name order.
func (a *Agent) Interfaces() []Interface {
	a.mu.Lock()
	defer a.mu.Unlock()
	names := make([]string, 0, len(a.ifaces))
	for n := range a.ifaces {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]Interface, 0, len(names))
	for _, n := range names {
		out = append(out, a.ifaces[n])
	}
	return out
}

func (a *Agent) State() ProcessState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Agent) setState(s ProcessState) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
	a.log.Debug("process state", "state", s.String())
}

// Run brings every interface up, syncs them once per interval and tears
// them down once ctx is done. Cancellation is only observed between passes;
// a pass in progress always runs to completion.
func (a *Agent) Run(ctx context.Context) error {
	work := context.WithoutCancel(ctx)

	a.setState(Starting)
	a.Startup()
	a.setState(Running)

	for {
		failed := a.Pass(work)
		if len(failed) > 0 {
			a.log.Warn("sync pass finished with failures", "failed", len(failed))
		}
		select {
		case <-ctx.Done():
			a.setState(Exiting)
			a.Shutdown()
			a.setState(Stopped)
			return nil
		case <-time.After(a.opts.Interval):
		}
	}
}

// Startup calls Up on every tracked interface; failures are logged only.
func (a *Agent) Startup() {
	for _, ifc := range a.Interfaces() {
		err := ifc.Up()
		a.report("up", ifc)
		if err != nil {
			a.log.Error("interface up failed", "iface", ifc.Name(), "stage", errs.Stage(err), "err", err)
			continue
		}
		a.log.Info("interface up", "iface", ifc.Name())
	}
}

// Shutdown calls Down on every tracked interface; failures are logged only.
func (a *Agent) Shutdown() {
	for _, ifc := range a.Interfaces() {
		err := ifc.Down()
		a.report("down", ifc)
		if err != nil {
			a.log.Error("interface down failed", "iface", ifc.Name(), "stage", errs.Stage(err), "err", err)
			continue
		}
		a.log.Info("interface down", "iface", ifc.Name())
	}
}

// Pass syncs every tracked interface once and returns the failures by
// interface name. One interface failing never stops the others.
func (a *Agent) Pass(ctx context.Context) map[string]error {
	var (
		mu     sync.Mutex
		failed = map[string]error{}
	)
	g := errgroup.Group{}
	g.SetLimit(a.opts.Concurrency)
	for _, ifc := range a.Interfaces() {
		ifc := ifc
		g.Go(func() error {
			err := a.sync(ctx, ifc)
			a.report("sync", ifc)
			if err != nil {
				a.log.Error("interface sync failed", "iface", ifc.Name(), "stage", errs.Stage(err), "err", err)
				mu.Lock()
				failed[ifc.Name()] = err
				mu.Unlock()
				return nil
			}
			a.log.Debug("interface synced", "iface", ifc.Name(), "state", ifc.State().String())
			return nil
		})
	}
	_ = g.Wait()
	return failed
}

// sync publishes the interface endpoints until acknowledged, replaces the
// peer set with the coordinator's and reapplies when anything changed or
// the interface is not fully up.
func (a *Agent) sync(ctx context.Context, ifc Interface) error {
	name := ifc.Name()
	cfg := ifc.Desired()
	if err := a.publish(ctx, name, cfg); err != nil {
		return err
	}
	list, err := a.opts.Coord.GetPeers(ctx, cfg.PrivateKey)
	if err != nil {
		return fmt.Errorf("get peers: %w", err)
	}
	peers := make(map[string]model.PeerConfig, len(list))
	for _, p := range list {
		peers[p.PublicKey] = p
	}
	changed := ifc.Replace(cfg.WithPeers(peers))
	if changed {
		a.mu.Lock()
		a.published[name] = false
		a.mu.Unlock()
		a.log.Info("peer set changed", "iface", name, "peers", len(peers))
	}
	if !changed && ifc.Err() == nil && ifc.State() == iface.Up {
		return nil
	}
	return ifc.Up()
}

func (a *Agent) publish(ctx context.Context, name string, cfg model.InterfaceConfig) error {
	if cfg.InternalEndpoint == nil && cfg.ExternalEndpoint == nil {
		return nil
	}
	a.mu.Lock()
	done := a.published[name]
	a.mu.Unlock()
	if done {
		return nil
	}
	ok, err := a.opts.Coord.PostEndpoint(ctx, cfg.PrivateKey, cfg.InternalEndpoint, cfg.ExternalEndpoint)
	if err != nil {
		return fmt.Errorf("post endpoint: %w", err)
	}
	if !ok {
		a.log.Warn("coordinator rejected endpoint", "iface", name)
		return nil
	}
	a.mu.Lock()
	a.published[name] = true
	a.mu.Unlock()
	a.log.Debug("endpoint published", "iface", name)
	return nil
}

func (a *Agent) report(op string, ifc Interface) {
	if len(a.opts.Reporters) == 0 {
		return
	}
	st := ifc.Status()
	for _, r := range a.opts.Reporters {
		r.Report(op, st)
	}
}
