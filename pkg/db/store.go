package db

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"gorm.io/gorm"

	"wgnet/pkg/errs"
	"wgnet/pkg/model"
)

type memberRow struct {
	PublicKey string `gorm:"primaryKey;size:64"`
	Node      string `gorm:"size:128"`
	Network   string `gorm:"index;size:32"`
	InviteKey string `gorm:"index;size:64"`
	Active    bool
	Config    string `gorm:"type:text"`
	UpdatedAt time.Time
}

func (memberRow) TableName() string { return "members" }

type inviteRow struct {
	InviteKey          string `gorm:"primaryKey;size:64"`
	BootstrapPublicKey string `gorm:"size:64"`
	BootstrapAddr      string `gorm:"size:64"`
	Members            string `gorm:"type:text"`
	Redeemed           bool
	CreatedAt          time.Time
	RedeemedAt         *time.Time
}

func (inviteRow) TableName() string { return "invites" }

type auditRow struct {
	ID        uint   `gorm:"primaryKey"`
	Actor     string `gorm:"size:128"`
	Action    string `gorm:"size:64"`
	Target    string `gorm:"size:128"`
	Detail    string `gorm:"type:text"`
	Timestamp time.Time
}

func (auditRow) TableName() string { return "audit" }

// Store is the MySQL-backed coordinator store.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store { return &Store{db: db} }

func toMemberRow(m model.Member) (memberRow, error) {
	b, err := json.Marshal(m.Config)
	if err != nil {
		return memberRow{}, err
	}
	return memberRow{
		PublicKey: m.PublicKey,
		Node:      m.Node,
		Network:   m.Network,
		InviteKey: m.InviteKey,
		Active:    m.Active,
		Config:    string(b),
		UpdatedAt: m.UpdatedAt,
	}, nil
}

func (r memberRow) member() (model.Member, error) {
	m := model.Member{
		PublicKey: r.PublicKey,
		Node:      r.Node,
		Network:   r.Network,
		InviteKey: r.InviteKey,
		Active:    r.Active,
		UpdatedAt: r.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(r.Config), &m.Config); err != nil {
		return model.Member{}, fmt.Errorf("member %s config: %w", r.PublicKey, err)
	}
	return m, nil
}

func toInviteRow(inv model.InviteRecord) (inviteRow, error) {
	b, err := json.Marshal(inv.Members)
	if err != nil {
		return inviteRow{}, err
	}
	row := inviteRow{
		InviteKey:          inv.Key,
		BootstrapPublicKey: inv.BootstrapPublicKey,
		Members:            string(b),
		Redeemed:           inv.Redeemed,
		CreatedAt:          inv.CreatedAt,
	}
	if inv.BootstrapAddr.IsValid() {
		row.BootstrapAddr = inv.BootstrapAddr.String()
	}
	if !inv.RedeemedAt.IsZero() {
		at := inv.RedeemedAt
		row.RedeemedAt = &at
	}
	return row, nil
}

func (r inviteRow) invite() (model.InviteRecord, error) {
	inv := model.InviteRecord{
		Key:                r.InviteKey,
		BootstrapPublicKey: r.BootstrapPublicKey,
		Redeemed:           r.Redeemed,
		CreatedAt:          r.CreatedAt,
	}
	if r.BootstrapAddr != "" {
		p, err := netip.ParsePrefix(r.BootstrapAddr)
		if err != nil {
			return model.InviteRecord{}, fmt.Errorf("invite %s bootstrap addr: %w", r.InviteKey, err)
		}
		inv.BootstrapAddr = p
	}
	if r.RedeemedAt != nil {
		inv.RedeemedAt = *r.RedeemedAt
	}
	if err := json.Unmarshal([]byte(r.Members), &inv.Members); err != nil {
		return model.InviteRecord{}, fmt.Errorf("invite %s members: %w", r.InviteKey, err)
	}
	return inv, nil
}

func (s *Store) PutMember(m model.Member) error {
	row, err := toMemberRow(m)
	if err != nil {
		return err
	}
	return s.db.Save(&row).Error
}

func (s *Store) GetMember(publicKey string) (model.Member, bool, error) {
	var row memberRow
	err := s.db.Where("public_key = ?", publicKey).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.Member{}, false, nil
	}
	if err != nil {
		return model.Member{}, false, err
	}
	m, err := row.member()
	return m, err == nil, err
}

func (s *Store) ListMembers() ([]model.Member, error) {
	var rows []memberRow
	if err := s.db.Order("public_key").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.Member, 0, len(rows))
	for _, r := range rows {
		m, err := r.member()
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (s *Store) PutInvite(inv model.InviteRecord) error {
	row, err := toInviteRow(inv)
	if err != nil {
		return err
	}
	return s.db.Save(&row).Error
}

func (s *Store) GetInvite(key string) (model.InviteRecord, bool, error) {
	var row inviteRow
	err := s.db.Where("invite_key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.InviteRecord{}, false, nil
	}
	if err != nil {
		return model.InviteRecord{}, false, err
	}
	inv, err := row.invite()
	return inv, err == nil, err
}

func (s *Store) ListInvites() ([]model.InviteRecord, error) {
	var rows []inviteRow
	if err := s.db.Order("created_at").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.InviteRecord, 0, len(rows))
	for _, r := range rows {
		inv, err := r.invite()
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, nil
}

// RedeemInvite uses a conditional update so only one caller can flip the flag.
func (s *Store) RedeemInvite(key string, at time.Time) (model.InviteRecord, error) {
	res := s.db.Model(&inviteRow{}).
		Where("invite_key = ? AND redeemed = ?", key, false).
		Updates(map[string]any{"redeemed": true, "redeemed_at": at})
	if res.Error != nil {
		return model.InviteRecord{}, res.Error
	}
	if res.RowsAffected == 0 {
		_, ok, err := s.GetInvite(key)
		if err != nil {
			return model.InviteRecord{}, err
		}
		if !ok {
			return model.InviteRecord{}, errs.ErrInviteNotFound
		}
		return model.InviteRecord{}, errs.ErrInviteRedeemed
	}
	inv, _, err := s.GetInvite(key)
	return inv, err
}

func (s *Store) AppendAudit(e model.AuditEntry) error {
	return s.db.Create(&auditRow{
		Actor:     e.Actor,
		Action:    e.Action,
		Target:    e.Target,
		Detail:    e.Detail,
		Timestamp: e.Timestamp,
	}).Error
}

func (s *Store) ListAudit(limit int) ([]model.AuditEntry, error) {
	q := s.db.Order("id desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []auditRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]model.AuditEntry, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		r := rows[i]
		out = append(out, model.AuditEntry{Actor: r.Actor, Action: r.Action, Target: r.Target, Detail: r.Detail, Timestamp: r.Timestamp})
	}
	return out, nil
}

func (s *Store) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}

// Users is the admin account table.
type Users struct {
	db *gorm.DB
}

func NewUsers(db *gorm.DB) *Users { return &Users{db: db} }

func (u *Users) Count() (int64, error) {
	var n int64
	err := u.db.Model(&model.User{}).Count(&n).Error
	return n, err
}

func (u *Users) Create(user *model.User) error {
	return u.db.Create(user).Error
}

func (u *Users) Find(username string) (model.User, bool, error) {
	var user model.User
	err := u.db.Where("username = ?", username).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.User{}, false, nil
	}
	return user, err == nil, err
}
