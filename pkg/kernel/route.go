package kernel

import (
	"fmt"
	"net/netip"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
)

// Flag sets for rtnetlink calls that must not use DefaultFlags.
const (
	// FlagsReplace creates or replaces, matching `ip route replace`.
	FlagsReplace = netlink.Request | netlink.Acknowledge | netlink.Create | netlink.Replace
	// FlagsModify changes or deletes an existing object.
	FlagsModify = netlink.Request | netlink.Acknowledge
)

func family(a netip.Addr) uint8 {
	if a.Unmap().Is4() {
		return afInet
	}
	return afInet6
}

// AddressMessage builds RTM_NEWADDR (add) or RTM_DELADDR for p on index.
// IPv4 carries IFA_LOCAL and IFA_ADDRESS, IPv6 only IFA_ADDRESS.
func AddressMessage(add bool, index int, p netip.Prefix) (netlink.Message, error) {
	if !p.IsValid() {
		return netlink.Message{}, fmt.Errorf("invalid prefix %q", p)
	}
	addr := p.Addr().Unmap()
	hdr := make([]byte, ifaddrmsgLen)
	hdr[0] = family(addr)
	hdr[1] = uint8(p.Bits())
	nlenc.PutUint32(hdr[4:8], uint32(index))

	ae := netlink.NewAttributeEncoder()
	if addr.Is4() {
		ae.Bytes(ifaLocal, addr.AsSlice())
	}
	ae.Bytes(ifaAddress, addr.AsSlice())
	attrs, err := ae.Encode()
	if err != nil {
		return netlink.Message{}, err
	}
	typ := rtmNewAddr
	if !add {
		typ = rtmDelAddr
	}
	return netlink.Message{Header: netlink.Header{Type: netlink.HeaderType(typ)}, Data: append(hdr, attrs...)}, nil
}

// RouteMessage builds RTM_NEWROUTE (add) or RTM_DELROUTE for the masked p via index.
func RouteMessage(add bool, index int, p netip.Prefix) (netlink.Message, error) {
	if !p.IsValid() {
		return netlink.Message{}, fmt.Errorf("invalid prefix %q", p)
	}
	dst := p.Masked()
	hdr := make([]byte, rtmsgLen)
	hdr[0] = family(dst.Addr())
	hdr[1] = uint8(dst.Bits())
	hdr[4] = rtTableMain
	hdr[5] = rtprotBoot
	hdr[6] = rtScopeLink
	hdr[7] = rtnUnicast

	ae := netlink.NewAttributeEncoder()
	ae.Bytes(rtaDst, dst.Addr().Unmap().AsSlice())
	ae.Uint32(rtaOif, uint32(index))
	attrs, err := ae.Encode()
	if err != nil {
		return netlink.Message{}, err
	}
	typ := rtmNewRoute
	if !add {
		typ = rtmDelRoute
	}
	return netlink.Message{Header: netlink.Header{Type: netlink.HeaderType(typ)}, Data: append(hdr, attrs...)}, nil
}

func ifinfo(index int, flags, change uint32) []byte {
	hdr := make([]byte, ifinfomsgLen)
	hdr[0] = afUnspec
	nlenc.PutInt32(hdr[4:8], int32(index))
	nlenc.PutUint32(hdr[8:12], flags)
	nlenc.PutUint32(hdr[12:16], change)
	return hdr
}

// LinkUpMessage sets IFF_UP on index.
func LinkUpMessage(index int) netlink.Message {
	return netlink.Message{Header: netlink.Header{Type: rtmNewLink}, Data: ifinfo(index, iffUp, iffUp)}
}

// LinkMTUMessage sets the MTU of index.
func LinkMTUMessage(index, mtu int) (netlink.Message, error) {
	ae := netlink.NewAttributeEncoder()
	ae.Uint32(iflaMTU, uint32(mtu))
	attrs, err := ae.Encode()
	if err != nil {
		return netlink.Message{}, err
	}
	return netlink.Message{Header: netlink.Header{Type: rtmNewLink}, Data: append(ifinfo(index, 0, 0), attrs...)}, nil
}

// NewLinkMessage creates a link called name of the given kind.
func NewLinkMessage(name, kind string) (netlink.Message, error) {
	ae := netlink.NewAttributeEncoder()
	ae.String(iflaIfname, name)
	ae.Nested(iflaLinkinfo, func(nae *netlink.AttributeEncoder) error {
		nae.String(iflaInfoKind, kind)
		return nil
	})
	attrs, err := ae.Encode()
	if err != nil {
		return netlink.Message{}, err
	}
	return netlink.Message{Header: netlink.Header{Type: rtmNewLink}, Data: append(ifinfo(0, 0, 0), attrs...)}, nil
}

// DelLinkMessage deletes the link at index.
func DelLinkMessage(index int) netlink.Message {
	return netlink.Message{Header: netlink.Header{Type: rtmDelLink}, Data: ifinfo(index, 0, 0)}
}
