// Package platform applies addresses, MTU, link state and routes to a tunnel
// interface using whatever the running OS offers.
package platform

import (
	"fmt"
	"log/slog"
	"net/netip"
	"os/exec"
	"strings"
)

// Applier is the per-OS network capability set. A capability the OS lacks
// returns an error matching errs.ErrNotImplemented.
type Applier interface {
	AssignAddress(iface string, addrs []netip.Prefix) error
	RemoveAddress(iface string, addrs []netip.Prefix) error
	SetMTU(iface string, mtu int) error
	BringLinkUp(iface string) error
	AddRoute(iface string, routes []netip.Prefix) error
	DelRoute(iface string, routes []netip.Prefix) error
}

// Commander runs external programs.
type Commander interface {
	CombinedOutput(name string, args ...string) ([]byte, error)
}

// ExecCommander runs programs with os/exec.
type ExecCommander struct{}

func (ExecCommander) CombinedOutput(name string, args ...string) ([]byte, error) {
	return exec.Command(name, args...).CombinedOutput()
}

// New returns the Applier for the running OS.
func New(log *slog.Logger) Applier {
	return newPlatform(log.With("component", "platform"))
}

func run(cmd Commander, log *slog.Logger, name string, args ...string) error {
	line := strings.Join(args, " ")
	log.Debug("exec", "cmd", name, "args", line)
	out, err := cmd.CombinedOutput(name, args...)
	if err != nil {
		return fmt.Errorf("%s %s: %w, output: %s", name, line, err, strings.TrimSpace(string(out)))
	}
	return nil
}
