package store

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wgnet/pkg/errs"
	"wgnet/pkg/model"
)

func TestMemoryMembers(t *testing.T) {
	s := NewMemoryStore()
	m := model.Member{PublicKey: "b", Network: "wg0"}
	m.Config.Addrs = []netip.Prefix{netip.MustParsePrefix("10.0.0.2/24")}
	require.NoError(t, s.PutMember(m))
	require.NoError(t, s.PutMember(model.Member{PublicKey: "a", Network: "wg0"}))

	// callers cannot mutate stored state through the returned copy
	got, ok, err := s.GetMember("b")
	require.NoError(t, err)
	require.True(t, ok)
	got.Config.Addrs[0] = netip.MustParsePrefix("10.9.9.9/24")
	again, _, _ := s.GetMember("b")
	assert.Equal(t, "10.0.0.2/24", again.Config.Addrs[0].String())

	list, err := s.ListMembers()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].PublicKey)

	_, ok, err = s.GetMember("zz")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryRedeemOnce(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.PutInvite(model.InviteRecord{Key: "k1", Members: []string{"a"}, CreatedAt: time.Now()}))

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	inv, err := s.RedeemInvite("k1", at)
	require.NoError(t, err)
	assert.True(t, inv.Redeemed)
	assert.Equal(t, at, inv.RedeemedAt)

	_, err = s.RedeemInvite("k1", at)
	assert.ErrorIs(t, err, errs.ErrInviteRedeemed)
	_, err = s.RedeemInvite("nope", at)
	assert.ErrorIs(t, err, errs.ErrInviteNotFound)

	stored, ok, err := s.GetInvite("k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, stored.Redeemed)
}

func TestMemoryAuditLimit(t *testing.T) {
	s := NewMemoryStore()
	for _, a := range []string{"one", "two", "three"} {
		require.NoError(t, s.AppendAudit(model.AuditEntry{Action: a}))
	}
	out, err := s.ListAudit(2)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "two", out[0].Action)
	assert.Equal(t, "three", out[1].Action)

	all, err := s.ListAudit(0)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
