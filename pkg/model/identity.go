package model

import (
	"fmt"

	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// Identity is a private key and the public key derived from it.
type Identity struct {
	PrivateKey wgtypes.Key
	PublicKey  wgtypes.Key
}

// NewIdentity generates a fresh identity.
func NewIdentity() (Identity, error) {
	k, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return Identity{}, fmt.Errorf("generate private key: %w", err)
	}
	return Identity{PrivateKey: k, PublicKey: k.PublicKey()}, nil
}

// IdentityFromKey parses a base64 private key.
func IdentityFromKey(s string) (Identity, error) {
	k, err := wgtypes.ParseKey(s)
	if err != nil {
		return Identity{}, fmt.Errorf("parse private key: %w", err)
	}
	return Identity{PrivateKey: k, PublicKey: k.PublicKey()}, nil
}
