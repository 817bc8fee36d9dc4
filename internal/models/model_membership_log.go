package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/sparklehome/membership/pkg/types"
)

// MembershipLog records changes to membership records.
// Use case: troubleshooting and audit of admin actions.
type MembershipLog struct {
	ID           string                       `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	MembershipID string                       `gorm:"column:membership_id;type:uuid;not null;index" json:"membership_id"`
	UserID       string                       `gorm:"column:user_id;type:varchar(64);not null;index:idx_membership_log_user_id,priority:1" json:"user_id"`
	Reason       types.MembershipChangeReason `gorm:"column:reason;type:varchar(64);not null" json:"reason"`
	// OperatorID is the admin or system actor; empty for customer actions.
	OperatorID string                          `gorm:"column:operator_id;type:varchar(64)" json:"operator_id,omitempty"`
	TraceID    string                          `gorm:"column:trace_id;type:varchar(128)" json:"trace_id,omitempty"`
	Before     datatypes.JSONType[*Membership] `gorm:"column:before;type:jsonb;default:'null'" json:"before"`
	After      datatypes.JSONType[*Membership] `gorm:"column:after;type:jsonb;default:'null'" json:"after"`
	CreatedAt  time.Time                       `gorm:"index:idx_membership_log_user_id,priority:2" json:"created_at"`
}

func (MembershipLog) TableName() string {
	return "membership_log"
}
