package kernel

import (
	"fmt"

	"github.com/mdlayher/genetlink"
	"github.com/mdlayher/netlink"

	"wgnet/pkg/errs"
)

// GenericRequest is a generic netlink message addressed by family.
// A zero FamilyID is resolved by name before sending and stored back.
type GenericRequest struct {
	Family   string
	FamilyID uint16
	Message  genetlink.Message
}

// Generic sends req on the generic netlink protocol and decodes the replies.
func (t *Transport) Generic(req *GenericRequest, flags netlink.HeaderFlags) ([]genetlink.Message, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if req.FamilyID == 0 {
		id, err := t.resolveFamily(req.Family)
		if err != nil {
			return nil, err
		}
		req.FamilyID = id
	}
	body, err := req.Message.MarshalBinary()
	if err != nil {
		return nil, &errs.TransportError{Op: "encode", Err: err}
	}
	msgs, err := t.request(ProtoGeneric, netlink.Message{
		Header: netlink.Header{Type: netlink.HeaderType(req.FamilyID)},
		Data:   body,
	}, flags)
	if err != nil {
		return nil, err
	}
	out := make([]genetlink.Message, 0, len(msgs))
	for _, m := range msgs {
		var gm genetlink.Message
		if err := gm.UnmarshalBinary(m.Data); err != nil {
			return nil, &errs.TransportError{Op: "decode", Err: err}
		}
		out = append(out, gm)
	}
	return out, nil
}

// resolveFamily asks the controller family for the id of name. It issues a
// plain request and never resolves recursively.
func (t *Transport) resolveFamily(name string) (uint16, error) {
	ae := netlink.NewAttributeEncoder()
	ae.String(ctrlAttrFamilyName, name)
	attrs, err := ae.Encode()
	if err != nil {
		return 0, &errs.TransportError{Op: "encode", Err: err}
	}
	body, err := genetlink.Message{
		Header: genetlink.Header{Command: ctrlCmdGetFamily, Version: ctrlVersion},
		Data:   attrs,
	}.MarshalBinary()
	if err != nil {
		return 0, &errs.TransportError{Op: "encode", Err: err}
	}
	msgs, err := t.request(ProtoGeneric, netlink.Message{
		Header: netlink.Header{Type: genlIDCtrl},
		Data:   body,
	}, netlink.Request|netlink.Acknowledge)
	if err != nil {
		return 0, err
	}
	for _, m := range msgs {
		var gm genetlink.Message
		if err := gm.UnmarshalBinary(m.Data); err != nil {
			return 0, &errs.TransportError{Op: "decode", Err: err}
		}
		ad, err := netlink.NewAttributeDecoder(gm.Data)
		if err != nil {
			return 0, &errs.TransportError{Op: "decode", Err: err}
		}
		var id uint16
		for ad.Next() {
			if ad.Type() == ctrlAttrFamilyID {
				id = ad.Uint16()
			}
		}
		if err := ad.Err(); err != nil {
			return 0, &errs.TransportError{Op: "decode", Err: err}
		}
		if id != 0 {
			return id, nil
		}
	}
	return 0, &errs.TransportError{Op: "resolve family", Err: fmt.Errorf("%w: %s", errs.ErrFamilyNotFound, name)}
}
