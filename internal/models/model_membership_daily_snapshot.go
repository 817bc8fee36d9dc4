package models

import (
	"time"

	"github.com/sparklehome/membership/pkg/types"
)

// MembershipDailySnapshot is a daily per-user membership snapshot for analytics.
type MembershipDailySnapshot struct {
	ID                 string                `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID             string                `gorm:"column:user_id;type:varchar(64);not null;uniqueIndex:idx_user_id_snapshot_date,priority:1" json:"user_id"`
	SnapshotDate       string                `gorm:"column:snapshot_date;type:varchar(10);not null;uniqueIndex:idx_user_id_snapshot_date,priority:2" json:"snapshot_date"`
	MembershipID       string                `gorm:"column:membership_id;type:uuid;not null" json:"membership_id"`
	Tier               types.Tier            `gorm:"column:tier;type:varchar(64);not null" json:"tier"`
	EffectiveStatus    types.EffectiveStatus `gorm:"column:effective_status;type:varchar(32);not null" json:"effective_status"`
	DiscountPercentage int                   `gorm:"column:discount_percentage;not null" json:"discount_percentage"`
	CurrentPeriodEnd   time.Time             `gorm:"column:current_period_end" json:"current_period_end"`
	SnapshotCreatedAt  time.Time             `gorm:"column:snapshot_created_at" json:"snapshot_created_at"`
}

func (MembershipDailySnapshot) TableName() string {
	return "membership_daily_snapshot"
}
