package wireguard

import (
	"fmt"
	"strings"

	"wgnet/pkg/model"
)

// Render produces a wg-quick style view of cfg. Keys are replaced by a
// placeholder when redact is set.
func Render(cfg model.InterfaceConfig, redact bool) string {
	secret := func(s string) string {
		if redact {
			return "(hidden)"
		}
		return s
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n[Interface]\n", cfg.Name)
	if len(cfg.Addrs) > 0 {
		addrs := make([]string, 0, len(cfg.Addrs))
		for _, a := range cfg.Addrs {
			addrs = append(addrs, a.String())
		}
		fmt.Fprintf(&b, "Address = %s\n", strings.Join(addrs, ", "))
	}
	if cfg.ListenPort != nil {
		fmt.Fprintf(&b, "ListenPort = %d\n", *cfg.ListenPort)
	}
	fmt.Fprintf(&b, "MTU = %d\n", cfg.MTUValue())
	fmt.Fprintf(&b, "PrivateKey = %s\n", secret(cfg.PrivateKey))

	for _, name := range cfg.PeerNames() {
		p := cfg.Peers[name]
		fmt.Fprintf(&b, "\n# %s\n[Peer]\nPublicKey = %s\n", name, p.PublicKey)
		if p.PresharedKey != nil {
			fmt.Fprintf(&b, "PresharedKey = %s\n", secret(*p.PresharedKey))
		}
		if p.Endpoint != nil {
			fmt.Fprintf(&b, "Endpoint = %s\n", p.Endpoint)
		}
		if len(p.AllowedIPs) > 0 {
			ips := make([]string, 0, len(p.AllowedIPs))
			for _, ip := range p.AllowedIPs {
				ips = append(ips, ip.String())
			}
			fmt.Fprintf(&b, "AllowedIPs = %s\n", strings.Join(ips, ", "))
		}
		if p.PersistentKeepalive != nil {
			fmt.Fprintf(&b, "PersistentKeepalive = %d\n", *p.PersistentKeepalive)
		}
	}
	return b.String()
}
