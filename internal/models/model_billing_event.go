package models

import (
	"time"

	"gorm.io/datatypes"

	"github.com/sparklehome/membership/pkg/types"
)

type BillingEventStatus string

const (
	BillingEventStatusReceived     BillingEventStatus = "received"
	BillingEventStatusHandled      BillingEventStatus = "handled"
	BillingEventStatusHandleFailed BillingEventStatus = "handle_failed"
)

// BillingEvent is both the webhook audit trail and the idempotency ledger:
// a handled row for an idempotency key means the event was applied.
type BillingEvent struct {
	ID             string                 `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	IdempotencyKey string                 `gorm:"column:idempotency_key;type:varchar(128);not null;uniqueIndex" json:"idempotency_key"`
	Type           types.BillingEventType `gorm:"column:type;type:varchar(64);not null" json:"type"`
	MembershipID   string                 `gorm:"column:membership_id;type:varchar(64);not null;index" json:"membership_id"`
	TraceID        string                 `gorm:"column:trace_id;type:varchar(128)" json:"trace_id"`
	Data           datatypes.JSON         `gorm:"column:data;type:jsonb" json:"data"`
	Result         *datatypes.JSON        `gorm:"column:result;type:jsonb" json:"result"`
	Status         BillingEventStatus     `gorm:"column:status;type:varchar(64);not null" json:"status"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

func (BillingEvent) TableName() string { return "billing_event" }
