package kernel

import (
	"fmt"

	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"

	"wgnet/pkg/errs"
)

// WireGuard generic netlink family, from linux/wireguard.h.
const (
	WireGuardFamily = "wireguard"

	wgGenlVersion       = 1
	wgCmdGetDevice      = 0
	wgdeviceAIfname     = 2
	wgdeviceAPublicKey  = 4
	wgdeviceAListenPort = 6
	wgdeviceAPeers      = 8
)

// WireGuardDevice summarizes what the kernel reports for one device.
type WireGuardDevice struct {
	Name       string
	PublicKey  [32]byte
	ListenPort uint16
	Peers      int
}

// InspectWireGuard dumps the kernel WireGuard device called name.
func (t *Transport) InspectWireGuard(name string) (WireGuardDevice, error) {
	ae := netlink.NewAttributeEncoder()
	ae.String(wgdeviceAIfname, name)
	attrs, err := ae.Encode()
	if err != nil {
		return WireGuardDevice{}, &errs.TransportError{Op: "encode", Err: err}
	}
	msgs, err := t.Generic(&GenericRequest{
		Family:  WireGuardFamily,
		Message: genetlink.Message{Header: genetlink.Header{Command: wgCmdGetDevice, Version: wgGenlVersion}, Data: attrs},
	}, netlink.Request|netlink.Acknowledge|netlink.Dump)
	if err != nil {
		return WireGuardDevice{}, err
	}
	if len(msgs) == 0 {
		return WireGuardDevice{}, &errs.TransportError{Op: "decode", Err: fmt.Errorf("no reply for device %s", name)}
	}

	// Large peer lists are split across messages; scalar attributes repeat.
	dev := WireGuardDevice{Name: name}
	for _, m := range msgs {
		ad, err := netlink.NewAttributeDecoder(m.Data)
		if err != nil {
			return WireGuardDevice{}, &errs.TransportError{Op: "decode", Err: err}
		}
		for ad.Next() {
			switch ad.Type() {
			case wgdeviceAIfname:
				dev.Name = ad.String()
			case wgdeviceAPublicKey:
				copy(dev.PublicKey[:], ad.Bytes())
			case wgdeviceAListenPort:
				dev.ListenPort = ad.Uint16()
			case wgdeviceAPeers:
				ad.Nested(func(nad *netlink.AttributeDecoder) error {
					for nad.Next() {
						dev.Peers++
					}
					return nil
				})
			}
		}
		if err := ad.Err(); err != nil {
			return WireGuardDevice{}, &errs.TransportError{Op: "decode", Err: err}
		}
	}
	return dev, nil
}
