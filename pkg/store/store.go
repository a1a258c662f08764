package store

import (
	"time"

	"wgnet/pkg/model"
)

// Store is the coordinator's persistence layer for members, invites and audit.
type Store interface {
	PutMember(model.Member) error
	GetMember(publicKey string) (model.Member, bool, error)
	ListMembers() ([]model.Member, error)
	PutInvite(model.InviteRecord) error
	GetInvite(key string) (model.InviteRecord, bool, error)
	ListInvites() ([]model.InviteRecord, error)
	// RedeemInvite marks the invite redeemed exactly once. It returns
	// errs.ErrInviteNotFound or errs.ErrInviteRedeemed otherwise.
	RedeemInvite(key string, at time.Time) (model.InviteRecord, error)
	AppendAudit(model.AuditEntry) error
	ListAudit(limit int) ([]model.AuditEntry, error)
	Ping() error
}

// NewMemory is a helper to construct the in-memory implementation without importing it directly.
func NewMemory() Store {
	return NewMemoryStore()
}
