package billing

import (
	"context"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sparklehome/membership/internal/models"
	"github.com/sparklehome/membership/pkg/tool"
)

// Ledger records every webhook delivery in billing_event.
type Ledger interface {
	// Received stores ev unless a row with the same idempotency key exists.
	Received(ctx context.Context, ev *models.BillingEvent) error
	Finish(ctx context.Context, idempotencyKey string, status models.BillingEventStatus, result datatypes.JSON) error
}

type gormLedger struct {
	db *gorm.DB
}

func NewLedger(db *gorm.DB) Ledger {
	return &gormLedger{db: db}
}

func (l *gormLedger) Received(ctx context.Context, ev *models.BillingEvent) error {
	if ev.ID == "" {
		ev.ID = tool.NewID()
	}
	if err := l.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(ev).Error; err != nil {
		return fmt.Errorf("failed to save billing event: %w", err)
	}
	return nil
}

// Finish stores the outcome. A failed redelivery never downgrades an event
// that was already handled.
func (l *gormLedger) Finish(ctx context.Context, idempotencyKey string, status models.BillingEventStatus, result datatypes.JSON) error {
	q := l.db.WithContext(ctx).Model(&models.BillingEvent{}).Where("idempotency_key = ?", idempotencyKey)
	if status != models.BillingEventStatusHandled {
		q = q.Where("status <> ?", models.BillingEventStatusHandled)
	}
	if err := q.Updates(map[string]any{"status": status, "result": result}).Error; err != nil {
		return fmt.Errorf("failed to update billing event: %w", err)
	}
	return nil
}
