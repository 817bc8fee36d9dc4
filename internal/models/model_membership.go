package models

import (
	"errors"
	"time"

	"gorm.io/datatypes"

	"github.com/sparklehome/membership/pkg/types"
)

// AdminGrant records who granted a membership without payment.
type AdminGrant struct {
	AdminID   string    `json:"admin_id"`
	Notes     string    `json:"notes,omitempty"`
	GrantedAt time.Time `json:"granted_at"`
}

// Membership is a user's membership record. Records are never deleted; a user
// has at most one record whose status is not terminal.
type Membership struct {
	ID     string                 `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID string                 `gorm:"column:user_id;type:varchar(64);not null;index:idx_membership_user_start,priority:1;uniqueIndex:idx_membership_open_user,where:status <> 'cancelled' AND status <> 'expired'" json:"user_id"`
	Tier   types.Tier             `gorm:"column:tier;type:varchar(64);not null" json:"tier"`
	Status types.MembershipStatus `gorm:"column:status;type:varchar(32);not null;index" json:"status"`
	// StartDate is set at creation and never changes.
	StartDate         time.Time `gorm:"column:start_date;not null;index:idx_membership_user_start,priority:2" json:"start_date"`
	CurrentPeriodEnd  time.Time `gorm:"column:current_period_end;not null;index" json:"current_period_end"`
	CancelAtPeriodEnd bool      `gorm:"column:cancel_at_period_end;not null;default:false" json:"cancel_at_period_end"`
	AutoRenewal       bool      `gorm:"column:auto_renewal;not null;default:false" json:"auto_renewal"`
	// CancellationReason is free text supplied by the customer.
	CancellationReason *string    `gorm:"column:cancellation_reason;type:text" json:"cancellation_reason,omitempty"`
	CancelledAt        *time.Time `gorm:"column:cancelled_at" json:"cancelled_at,omitempty"`
	CancelledBy        *string    `gorm:"column:cancelled_by;type:varchar(64)" json:"cancelled_by,omitempty"`
	ExpiredAt          *time.Time `gorm:"column:expired_at" json:"expired_at,omitempty"`
	// GrantedByAdmin is set when an admin granted access without payment.
	GrantedByAdmin   *datatypes.JSONType[AdminGrant] `gorm:"column:granted_by_admin;type:jsonb" json:"granted_by_admin,omitempty"`
	PaymentReference *string                         `gorm:"column:payment_reference;type:varchar(128)" json:"payment_reference,omitempty"`
	// PlanSnapshot is the catalog entry at creation time.
	PlanSnapshot datatypes.JSONType[*types.Plan] `gorm:"column:plan_snapshot;type:jsonb;default:'null'" json:"plan_snapshot"`
	// Version is bumped on every update and checked to detect lost updates.
	Version   int64     `gorm:"column:version;not null;default:1" json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Membership) TableName() string {
	return "membership"
}

var (
	ErrPeriodEndBeforeStart   = errors.New("current_period_end must be after start_date")
	ErrCancelWithAutoRenewal  = errors.New("cancel_at_period_end requires auto_renewal to be off")
	ErrMissingMembershipOwner = errors.New("membership must have a user_id")
)

// Validate checks the record-level invariants.
func (m *Membership) Validate() error {
	if m.UserID == "" {
		return ErrMissingMembershipOwner
	}
	if !m.CurrentPeriodEnd.After(m.StartDate) {
		return ErrPeriodEndBeforeStart
	}
	if m.CancelAtPeriodEnd && m.AutoRenewal {
		return ErrCancelWithAutoRenewal
	}
	return nil
}

// Open reports whether the stored status is non-terminal.
func (m *Membership) Open() bool {
	return m != nil && !m.Status.Terminal()
}

func (m *Membership) IsAdminGrant() bool {
	return m != nil && m.GrantedByAdmin != nil
}

func (m *Membership) AdminGrant() *AdminGrant {
	if m == nil || m.GrantedByAdmin == nil {
		return nil
	}
	g := m.GrantedByAdmin.Data()
	return &g
}

func (m *Membership) GetPlanSnapshot() *types.Plan {
	if m == nil {
		return nil
	}
	return m.PlanSnapshot.Data()
}

// Clone returns a copy that shares no pointers with m.
func (m *Membership) Clone() *Membership {
	if m == nil {
		return nil
	}
	cp := *m
	if m.CancellationReason != nil {
		v := *m.CancellationReason
		cp.CancellationReason = &v
	}
	if m.CancelledAt != nil {
		v := *m.CancelledAt
		cp.CancelledAt = &v
	}
	if m.CancelledBy != nil {
		v := *m.CancelledBy
		cp.CancelledBy = &v
	}
	if m.ExpiredAt != nil {
		v := *m.ExpiredAt
		cp.ExpiredAt = &v
	}
	if m.PaymentReference != nil {
		v := *m.PaymentReference
		cp.PaymentReference = &v
	}
	if m.GrantedByAdmin != nil {
		g := datatypes.NewJSONType(m.GrantedByAdmin.Data())
		cp.GrantedByAdmin = &g
	}
	return &cp
}

// AsOf returns the record as it looked at t, as far as the stored timestamps
// allow, or nil if it did not exist yet. Cancellation and expiry after t are
// undone; renewals after t cannot be, so the period end stays as stored.
func (m *Membership) AsOf(t time.Time) *Membership {
	if m == nil || t.Before(m.StartDate) {
		return nil
	}
	cp := m.Clone()
	if cp.Status == types.MembershipStatusCancelled && cp.CancelledAt != nil && cp.CancelledAt.After(t) {
		cp.Status = types.MembershipStatusActive
		cp.CancelledAt = nil
		cp.CancelledBy = nil
	}
	if cp.Status == types.MembershipStatusExpired && cp.ExpiredAt != nil && cp.ExpiredAt.After(t) {
		cp.Status = types.MembershipStatusActive
		cp.ExpiredAt = nil
	}
	return cp
}
