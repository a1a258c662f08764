package platform

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"syscall"

	"wgnet/pkg/kernel"
)

// netlinkApplier programs Linux through rtnetlink.
type netlinkApplier struct {
	nl    *kernel.Transport
	index func(name string) (int, error)
	log   *slog.Logger
}

// NewNetlink returns an Applier talking rtnetlink over nl.
func NewNetlink(nl *kernel.Transport, log *slog.Logger) Applier {
	return &netlinkApplier{nl: nl, index: interfaceIndex, log: log}
}

func interfaceIndex(name string) (int, error) {
	ifi, err := net.InterfaceByName(name)
	if err != nil {
		return 0, err
	}
	return ifi.Index, nil
}

func (a *netlinkApplier) AssignAddress(name string, addrs []netip.Prefix) error {
	idx, err := a.index(name)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", name, err)
	}
	for _, p := range addrs {
		m, err := kernel.AddressMessage(true, idx, p)
		if err != nil {
			return fmt.Errorf("assign %s to %s: %w", p, name, err)
		}
		a.log.Debug("netlink add address", "iface", name, "addr", p)
		if _, err := a.nl.Request(kernel.ProtoRoute, m, 0); err != nil && !errors.Is(err, syscall.EEXIST) {
			return fmt.Errorf("assign %s to %s: %w", p, name, err)
		}
	}
	return nil
}

func (a *netlinkApplier) RemoveAddress(name string, addrs []netip.Prefix) error {
	idx, err := a.index(name)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", name, err)
	}
	for _, p := range addrs {
		m, err := kernel.AddressMessage(false, idx, p)
		if err != nil {
			return fmt.Errorf("remove %s from %s: %w", p, name, err)
		}
		a.log.Debug("netlink delete address", "iface", name, "addr", p)
		if _, err := a.nl.Request(kernel.ProtoRoute, m, kernel.FlagsModify); err != nil && !gone(err) {
			return fmt.Errorf("remove %s from %s: %w", p, name, err)
		}
	}
	return nil
}

func (a *netlinkApplier) SetMTU(name string, mtu int) error {
	idx, err := a.index(name)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", name, err)
	}
	m, err := kernel.LinkMTUMessage(idx, mtu)
	if err != nil {
		return err
	}
	if _, err := a.nl.Request(kernel.ProtoRoute, m, kernel.FlagsModify); err != nil {
		return fmt.Errorf("set mtu %d on %s: %w", mtu, name, err)
	}
	return nil
}

func (a *netlinkApplier) BringLinkUp(name string) error {
	idx, err := a.index(name)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", name, err)
	}
	if _, err := a.nl.Request(kernel.ProtoRoute, kernel.LinkUpMessage(idx), kernel.FlagsModify); err != nil {
		return fmt.Errorf("link up %s: %w", name, err)
	}
	return nil
}

func (a *netlinkApplier) AddRoute(name string, routes []netip.Prefix) error {
	idx, err := a.index(name)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", name, err)
	}
	for _, p := range routes {
		m, err := kernel.RouteMessage(true, idx, p)
		if err != nil {
			return fmt.Errorf("add route %s via %s: %w", p, name, err)
		}
		a.log.Debug("netlink replace route", "iface", name, "route", p.Masked())
		if _, err := a.nl.Request(kernel.ProtoRoute, m, kernel.FlagsReplace); err != nil {
			return fmt.Errorf("add route %s via %s: %w", p, name, err)
		}
	}
	return nil
}

func (a *netlinkApplier) DelRoute(name string, routes []netip.Prefix) error {
	idx, err := a.index(name)
	if err != nil {
		return fmt.Errorf("lookup %s: %w", name, err)
	}
	for _, p := range routes {
		m, err := kernel.RouteMessage(false, idx, p)
		if err != nil {
			return fmt.Errorf("delete route %s via %s: %w", p, name, err)
		}
		if _, err := a.nl.Request(kernel.ProtoRoute, m, kernel.FlagsModify); err != nil && !gone(err) {
			return fmt.Errorf("delete route %s via %s: %w", p, name, err)
		}
	}
	return nil
}

// gone reports kernel errors meaning the object is already absent.
func gone(err error) bool {
	return errors.Is(err, syscall.EADDRNOTAVAIL) || errors.Is(err, syscall.ESRCH) || errors.Is(err, syscall.ENODEV)
}
