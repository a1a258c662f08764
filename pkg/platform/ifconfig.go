package platform

import (
	"log/slog"
	"net/netip"
	"runtime"
	"strconv"

	"wgnet/pkg/errs"
)

// ifconfigApplier drives BSD-style ifconfig and route. Addresses are added as
// aliases so existing ones stay in place.
type ifconfigApplier struct {
	cmd     Commander
	resolve func(string) string
	log     *slog.Logger
}

// NewIfconfig returns the macOS Applier.
func NewIfconfig(cmd Commander, log *slog.Logger) Applier {
	return &ifconfigApplier{cmd: cmd, resolve: ResolveTunName, log: log}
}

func (a *ifconfigApplier) AssignAddress(name string, addrs []netip.Prefix) error {
	tun := a.resolve(name)
	for _, p := range addrs {
		var err error
		if p.Addr().Unmap().Is4() {
			err = run(a.cmd, a.log, "ifconfig", tun, "inet", p.String(), p.Addr().Unmap().String(), "alias")
		} else {
			err = run(a.cmd, a.log, "ifconfig", tun, "inet6", p.String(), "alias")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *ifconfigApplier) RemoveAddress(name string, addrs []netip.Prefix) error {
	tun := a.resolve(name)
	for _, p := range addrs {
		fam := "inet6"
		if p.Addr().Unmap().Is4() {
			fam = "inet"
		}
		if err := run(a.cmd, a.log, "ifconfig", tun, fam, p.Addr().Unmap().String(), "-alias"); err != nil {
			return err
		}
	}
	return nil
}

func (a *ifconfigApplier) SetMTU(name string, mtu int) error {
	return run(a.cmd, a.log, "ifconfig", a.resolve(name), "mtu", strconv.Itoa(mtu))
}

func (a *ifconfigApplier) BringLinkUp(name string) error {
	return run(a.cmd, a.log, "ifconfig", a.resolve(name), "up")
}

func (a *ifconfigApplier) AddRoute(name string, routes []netip.Prefix) error {
	return a.route("add", name, routes)
}

func (a *ifconfigApplier) DelRoute(name string, routes []netip.Prefix) error {
	return a.route("delete", name, routes)
}

func (a *ifconfigApplier) route(op, name string, routes []netip.Prefix) error {
	tun := a.resolve(name)
	for _, p := range routes {
		fam := "-inet6"
		if p.Addr().Unmap().Is4() {
			fam = "-inet"
		}
		if err := run(a.cmd, a.log, "route", "-n", op, fam, p.Masked().String(), "-interface", tun); err != nil {
			return err
		}
	}
	return nil
}

// unsupportedApplier fails every capability loudly.
type unsupportedApplier struct{}

func (unsupportedApplier) AssignAddress(string, []netip.Prefix) error {
	return errs.NotImplemented("assign_address", runtime.GOOS)
}

func (unsupportedApplier) RemoveAddress(string, []netip.Prefix) error {
	return errs.NotImplemented("remove_address", runtime.GOOS)
}

func (unsupportedApplier) SetMTU(string, int) error {
	return errs.NotImplemented("set_mtu", runtime.GOOS)
}

func (unsupportedApplier) BringLinkUp(string) error {
	return errs.NotImplemented("bring_link_up", runtime.GOOS)
}

func (unsupportedApplier) AddRoute(string, []netip.Prefix) error {
	return errs.NotImplemented("add_route", runtime.GOOS)
}

func (unsupportedApplier) DelRoute(string, []netip.Prefix) error {
	return errs.NotImplemented("del_route", runtime.GOOS)
}
