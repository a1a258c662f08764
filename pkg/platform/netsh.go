package platform

import (
	"log/slog"
	"net"
	"net/netip"
	"strconv"

	"wgnet/pkg/errs"
)

// netshApplier drives Windows netsh. Bringing the adapter up is left to the
// device driver and reported as not implemented.
type netshApplier struct {
	cmd Commander
	log *slog.Logger
}

// NewNetsh returns the Windows Applier.
func NewNetsh(cmd Commander, log *slog.Logger) Applier {
	return &netshApplier{cmd: cmd, log: log}
}

func quote(s string) string { return `"` + s + `"` }

func (a *netshApplier) AssignAddress(name string, addrs []netip.Prefix) error {
	for _, p := range addrs {
		addr := p.Addr().Unmap()
		var err error
		if addr.Is4() {
			mask := net.IP(net.CIDRMask(p.Bits(), 32)).String()
			err = run(a.cmd, a.log, "netsh", "interface", "ipv4", "add", "address",
				"name="+quote(name), "address="+addr.String(), "mask="+mask, "store=active")
		} else {
			err = run(a.cmd, a.log, "netsh", "interface", "ipv6", "add", "address",
				"interface="+quote(name), "address="+p.String(), "store=active")
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *netshApplier) RemoveAddress(name string, addrs []netip.Prefix) error {
	for _, p := range addrs {
		addr := p.Addr().Unmap()
		var err error
		if addr.Is4() {
			err = run(a.cmd, a.log, "netsh", "interface", "ipv4", "delete", "address",
				"name="+quote(name), "address="+addr.String())
		} else {
			err = run(a.cmd, a.log, "netsh", "interface", "ipv6", "delete", "address",
				"interface="+quote(name), "address="+addr.String())
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *netshApplier) SetMTU(name string, mtu int) error {
	for _, fam := range []string{"ipv4", "ipv6"} {
		if err := run(a.cmd, a.log, "netsh", "interface", fam, "set", "subinterface",
			quote(name), "mtu="+strconv.Itoa(mtu), "store=active"); err != nil {
			return err
		}
	}
	return nil
}

func (a *netshApplier) BringLinkUp(string) error {
	return errs.NotImplemented("bring_link_up", "windows")
}

func (a *netshApplier) AddRoute(name string, routes []netip.Prefix) error {
	return a.route("add", name, routes)
}

func (a *netshApplier) DelRoute(name string, routes []netip.Prefix) error {
	return a.route("delete", name, routes)
}

func (a *netshApplier) route(op, name string, routes []netip.Prefix) error {
	for _, p := range routes {
		fam := "ipv6"
		if p.Addr().Unmap().Is4() {
			fam = "ipv4"
		}
		args := []string{"interface", fam, op, "route", p.Masked().String(), "interface=" + quote(name)}
		if op == "add" {
			args = append(args, "store=active")
		}
		if err := run(a.cmd, a.log, "netsh", args...); err != nil {
			return err
		}
	}
	return nil
}
