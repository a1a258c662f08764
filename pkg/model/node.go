package model

import (
	"net/netip"
	"time"
)

// Member is one interface allocated to a node by the coordinator.
// Network is the interface name shared by every member of the same mesh.
type Member struct {
	PublicKey string          `json:"public_key"`
	Node      string          `json:"node,omitempty"`
	Network   string          `json:"network"`
	InviteKey string          `json:"invite_key"`
	Active    bool            `json:"active"`
	Config    InterfaceConfig `json:"config"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Endpoint returns the address peers should dial, preferring the external one.
func (m Member) Endpoint() *netip.AddrPort {
	if m.Config.ExternalEndpoint != nil {
		ep := *m.Config.ExternalEndpoint
		return &ep
	}
	if m.Config.InternalEndpoint != nil {
		ep := *m.Config.InternalEndpoint
		return &ep
	}
	return nil
}

// InviteRecord is the coordinator-side record behind an invite credential.
type InviteRecord struct {
	Key                string       `json:"key"`
	BootstrapPublicKey string       `json:"bootstrap_public_key"`
	BootstrapAddr      netip.Prefix `json:"bootstrap_addr"`
	Members            []string     `json:"members"`
	Redeemed           bool         `json:"redeemed"`
	CreatedAt          time.Time    `json:"created_at"`
	RedeemedAt         time.Time    `json:"redeemed_at,omitempty"`
}

// AuditEntry records an operation against the coordinator.
type AuditEntry struct {
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Target    string    `json:"target"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
