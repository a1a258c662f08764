package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/netip"
	"strings"

	"wgnet/pkg/errs"
	"wgnet/pkg/model"
)

// Invite is the one-time credential handed to a new node out of band.
type Invite struct {
	IfaceConfig  model.InterfaceConfig `json:"iface_config"`
	ServerSocket string                `json:"server_socket"`
	Key          string                `json:"key"`
}

// Validate checks the fields a node needs before it can redeem.
func (inv Invite) Validate() error {
	if inv.Key == "" {
		return errors.New("invite key is empty")
	}
	if _, err := netip.ParseAddrPort(inv.ServerSocket); err != nil {
		return err
	}
	return inv.IfaceConfig.Validate()
}

// Encode renders inv as base64 of its JSON form.
func (inv Invite) Encode() (string, error) {
	b, err := json.Marshal(inv)
	if err != nil {
		return "", &errs.ConfigError{Source: "invite", Err: err}
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

// DecodeInvite parses an encoded credential. Surrounding whitespace is ignored.
func DecodeInvite(s string) (Invite, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return Invite{}, &errs.ConfigError{Source: "invite", Err: err}
	}
	var inv Invite
	if err := json.Unmarshal(raw, &inv); err != nil {
		return Invite{}, &errs.ConfigError{Source: "invite", Err: err}
	}
	if err := inv.Validate(); err != nil {
		return Invite{}, &errs.ConfigError{Source: "invite", Err: err}
	}
	return inv, nil
}
