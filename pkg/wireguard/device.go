// Package wireguard drives the tunnel device: it creates and destroys the
// interface for the chosen backend and pushes key and peer configuration
// through wgctrl.
package wireguard

import (
	"fmt"
	"log/slog"

	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"

	"wgnet/pkg/config"
)

// Device is the device driver capability used by the interface state machine.
type Device interface {
	// Ensure creates the interface if it does not exist yet.
	Ensure(name string, mtu int) error
	// Configure applies cfg; with ReplacePeers set absent peers are removed.
	Configure(name string, cfg wgtypes.Config) error
	// PublicKey reports the key the device currently holds.
	PublicKey(name string) (wgtypes.Key, error)
	// Destroy removes the interface.
	Destroy(name string) error
	Close() error
}

// configurer is the subset of *wgctrl.Client the driver needs.
type configurer interface {
	ConfigureDevice(name string, cfg wgtypes.Config) error
	Device(name string) (*wgtypes.Device, error)
	Close() error
}

// linker owns interface creation for one backend.
type linker interface {
	create(name string, mtu int) error
	destroy(name string) error
}

// keyInspector is implemented by linkers that can read the key directly.
type keyInspector interface {
	publicKey(name string) (wgtypes.Key, error)
}

type driver struct {
	wg    configurer
	links linker
	log   *slog.Logger
}

// New opens a wgctrl client and the linker for backend.
func New(backend config.Backend, log *slog.Logger) (Device, error) {
	log = log.With("component", "wireguard", "backend", string(backend))
	var (
		l   linker
		err error
	)
	switch backend {
	case config.BackendKernel:
		l, err = newKernelLinker()
	case config.BackendUserspace:
		l, err = newUserspaceLinker(log)
	default:
		return nil, fmt.Errorf("unknown backend %q", backend)
	}
	if err != nil {
		return nil, err
	}
	wg, err := wgctrl.New()
	if err != nil {
		return nil, fmt.Errorf("open wgctrl: %w", err)
	}
	return &driver{wg: wg, links: l, log: log}, nil
}

func (d *driver) Ensure(name string, mtu int) error {
	if err := d.links.create(name, mtu); err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	return nil
}

func (d *driver) Configure(name string, cfg wgtypes.Config) error {
	d.log.Debug("configure device", "iface", name, "peers", len(cfg.Peers), "replace", cfg.ReplacePeers)
	if err := d.wg.ConfigureDevice(name, cfg); err != nil {
		return fmt.Errorf("configure %s: %w", name, err)
	}
	return nil
}

func (d *driver) PublicKey(name string) (wgtypes.Key, error) {
	if ki, ok := d.links.(keyInspector); ok {
		return ki.publicKey(name)
	}
	dev, err := d.wg.Device(name)
	if err != nil {
		return wgtypes.Key{}, fmt.Errorf("read %s: %w", name, err)
	}
	return dev.PublicKey, nil
}

func (d *driver) Destroy(name string) error {
	if err := d.links.destroy(name); err != nil {
		return fmt.Errorf("destroy %s: %w", name, err)
	}
	return nil
}

func (d *driver) Close() error {
	return d.wg.Close()
}
