package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"wgnet/pkg/errs"
	"wgnet/pkg/model"
)

// MemoryStore is a simple in-memory implementation, intended for dev and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	members map[string]model.Member
	invites map[string]model.InviteRecord
	audit   []model.AuditEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		members: make(map[string]model.Member),
		invites: make(map[string]model.InviteRecord),
	}
}

func (m *MemoryStore) PutMember(mem model.Member) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	mem.Config = mem.Config.Clone()
	m.members[mem.PublicKey] = mem
	return nil
}

func (m *MemoryStore) GetMember(publicKey string) (model.Member, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mem, ok := m.members[publicKey]
	if ok {
		mem.Config = mem.Config.Clone()
	}
	return mem, ok, nil
}

func (m *MemoryStore) ListMembers() ([]model.Member, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Member, 0, len(m.members))
	for _, mem := range m.members {
		mem.Config = mem.Config.Clone()
		out = append(out, mem)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublicKey < out[j].PublicKey })
	return out, nil
}

func (m *MemoryStore) PutInvite(inv model.InviteRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv.Members = append([]string(nil), inv.Members...)
	m.invites[inv.Key] = inv
	return nil
}

func (m *MemoryStore) GetInvite(key string) (model.InviteRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inv, ok := m.invites[key]
	return inv, ok, nil
}

func (m *MemoryStore) ListInvites() ([]model.InviteRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.InviteRecord, 0, len(m.invites))
	for _, inv := range m.invites {
		out = append(out, inv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) RedeemInvite(key string, at time.Time) (model.InviteRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invites[key]
	if !ok {
		return model.InviteRecord{}, errs.ErrInviteNotFound
	}
	if inv.Redeemed {
		return model.InviteRecord{}, errs.ErrInviteRedeemed
	}
	inv.Redeemed = true
	inv.RedeemedAt = at
	m.invites[key] = inv
	return inv, nil
}

func (m *MemoryStore) AppendAudit(entry model.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

func (m *MemoryStore) ListAudit(limit int) ([]model.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.audit) {
		limit = len(m.audit)
	}
	out := make([]model.AuditEntry, 0, limit)
	start := len(m.audit) - limit
	for i := start; i < len(m.audit); i++ {
		out = append(out, m.audit[i])
	}
	return out, nil
}

// Ping reports readiness for health endpoints.
func (m *MemoryStore) Ping() error { return nil }

// StartWatch is a no-op for the memory store; every write goes through
// this process so there is nothing external to watch.
func (m *MemoryStore) StartWatch(context.Context, func()) {}
