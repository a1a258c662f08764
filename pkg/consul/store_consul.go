//go:build consul

package consul

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	consulapi "github.com/hashicorp/consul/api"

	"wgnet/pkg/errs"
	"wgnet/pkg/model"
)

// Store keeps coordinator state in Consul KV so several controllers can
// share it.
type Store struct {
	cli *consulapi.Client
}

const (
	memberPrefix = "wgnet/members/"
	invitePrefix = "wgnet/invites/"
	auditPrefix  = "wgnet/audit/"
)

func NewStore(addr string) (*Store, error) {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	cli, err := consulapi.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("consul client: %w", err)
	}
	return &Store{cli: cli}, nil
}

func (s *Store) put(key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.cli.KV().Put(&consulapi.KVPair{Key: key, Value: b}, nil)
	return err
}

func (s *Store) get(key string, v any) (uint64, bool, error) {
	kv, _, err := s.cli.KV().Get(key, nil)
	if err != nil || kv == nil {
		return 0, false, err
	}
	if err := json.Unmarshal(kv.Value, v); err != nil {
		return 0, false, fmt.Errorf("decode %s: %w", key, err)
	}
	return kv.ModifyIndex, true, nil
}

func (s *Store) PutMember(m model.Member) error {
	return s.put(memberPrefix+keyPath(m.PublicKey), m)
}

func (s *Store) GetMember(publicKey string) (model.Member, bool, error) {
	var m model.Member
	_, ok, err := s.get(memberPrefix+keyPath(publicKey), &m)
	return m, ok, err
}

func (s *Store) ListMembers() ([]model.Member, error) {
	pairs, _, err := s.cli.KV().List(memberPrefix, nil)
	if err != nil {
		return nil, err
	}
	out := make([]model.Member, 0, len(pairs))
	for _, p := range pairs {
		var m model.Member
		if err := json.Unmarshal(p.Value, &m); err == nil {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PublicKey < out[j].PublicKey })
	return out, nil
}

func (s *Store) PutInvite(inv model.InviteRecord) error {
	return s.put(invitePrefix+inv.Key, inv)
}

func (s *Store) GetInvite(key string) (model.InviteRecord, bool, error) {
	var inv model.InviteRecord
	_, ok, err := s.get(invitePrefix+key, &inv)
	return inv, ok, err
}

func (s *Store) ListInvites() ([]model.InviteRecord, error) {
	pairs, _, err := s.cli.KV().List(invitePrefix, nil)
	if err != nil {
		return nil, err
	}
	out := make([]model.InviteRecord, 0, len(pairs))
	for _, p := range pairs {
		var inv model.InviteRecord
		if err := json.Unmarshal(p.Value, &inv); err == nil {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// RedeemInvite flips the redeemed flag with a check-and-set on the
// record's modify index, so two controllers cannot both redeem it.
func (s *Store) RedeemInvite(key string, at time.Time) (model.InviteRecord, error) {
	var inv model.InviteRecord
	idx, ok, err := s.get(invitePrefix+key, &inv)
	if err != nil {
		return model.InviteRecord{}, err
	}
	if !ok {
		return model.InviteRecord{}, errs.ErrInviteNotFound
	}
	if inv.Redeemed {
		return model.InviteRecord{}, errs.ErrInviteRedeemed
	}
	inv.Redeemed = true
	inv.RedeemedAt = at
	b, err := json.Marshal(inv)
	if err != nil {
		return model.InviteRecord{}, err
	}
	done, _, err := s.cli.KV().CAS(&consulapi.KVPair{Key: invitePrefix + key, Value: b, ModifyIndex: idx}, nil)
	if err != nil {
		return model.InviteRecord{}, err
	}
	if !done {
		return model.InviteRecord{}, errs.ErrInviteRedeemed
	}
	return inv, nil
}

func (s *Store) AppendAudit(e model.AuditEntry) error {
	return s.put(fmt.Sprintf("%s%020d", auditPrefix, e.Timestamp.UnixNano()), e)
}

func (s *Store) ListAudit(limit int) ([]model.AuditEntry, error) {
	pairs, _, err := s.cli.KV().List(auditPrefix, nil)
	if err != nil {
		return nil, err
	}
	var out []model.AuditEntry
	for _, p := range pairs {
		var e model.AuditEntry
		if err := json.Unmarshal(p.Value, &e); err == nil {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Store) Ping() error {
	_, err := s.cli.Status().Leader()
	return err
}

// StartWatch calls onChange whenever the member or invite prefix changes,
// including writes made by other controllers.
func (s *Store) StartWatch(ctx context.Context, onChange func()) {
	for _, prefix := range []string{memberPrefix, invitePrefix} {
		ch := make(chan []*consulapi.KVPair)
		if err := WatchPrefix(ctx, s.cli, prefix, ch); err != nil {
			slog.Warn("consul watch not started", "prefix", prefix, "err", err)
			continue
		}
		go func(prefix string) {
			first := true
			for range ch {
				if first {
					first = false
					continue
				}
				slog.Debug("consul prefix changed", "prefix", prefix)
				onChange()
			}
		}(prefix)
	}
}

// WatchPrefix streams the prefix contents on every change using blocking queries.
func WatchPrefix(ctx context.Context, cli *consulapi.Client, prefix string, out chan<- []*consulapi.KVPair) error {
	if cli == nil {
		return fmt.Errorf("consul client not configured")
	}
	q := (&consulapi.QueryOptions{WaitTime: time.Minute}).WithContext(ctx)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			kv, meta, err := cli.KV().List(prefix, q)
			if err != nil {
				select {
				case <-ctx.Done():
					return
				case <-time.After(time.Second):
				}
				continue
			}
			if meta.LastIndex == q.WaitIndex {
				continue
			}
			q.WaitIndex = meta.LastIndex
			select {
			case out <- kv:
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// keyPath makes a base64 key safe as a KV path segment.
func keyPath(k string) string {
	return strings.NewReplacer("/", "_", "+", "-").Replace(k)
}
