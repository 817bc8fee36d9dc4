package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/sparklehome/membership/internal/app/service/membership"
	"github.com/sparklehome/membership/internal/models"
	"github.com/sparklehome/membership/pkg/config"
	"github.com/sparklehome/membership/pkg/logctx"
	"github.com/sparklehome/membership/pkg/types"
)

// Lifecycle is the part of the membership service billing drives.
type Lifecycle interface {
	Renew(ctx context.Context, recordID string, newPeriodEnd time.Time, idempotencyKey string) (*models.Membership, error)
	MarkPaymentFailed(ctx context.Context, recordID, idempotencyKey string) (*models.Membership, error)
}

type Handler struct {
	secret    []byte
	ledger    Ledger
	lifecycle Lifecycle
	log       *zap.SugaredLogger
}

func NewHandler(secret []byte, ledger Ledger, lifecycle Lifecycle, log *zap.SugaredLogger) *Handler {
	return &Handler{secret: secret, ledger: ledger, lifecycle: lifecycle, log: log}
}

func NewHandlerFromConfig(cfg *config.Config, ledger Ledger, svc *membership.Service, log *zap.SugaredLogger) *Handler {
	return NewHandler([]byte(cfg.Billing.WebhookSecret), ledger, svc, log)
}

// HandleEvent verifies a signed webhook, records it, and applies it to the
// membership. Redelivering an applied event returns the record unchanged.
func (h *Handler) HandleEvent(ctx context.Context, signedPayload string) (m *models.Membership, resErr error) {
	log := logctx.FromCtx(ctx, h.log)
	claims, err := ParseSignedPayload(signedPayload, h.secret)
	if err != nil {
		log.Warnw("rejected billing webhook", "error", err)
		return nil, err
	}

	data, _ := json.Marshal(claims)
	if err := h.ledger.Received(ctx, &models.BillingEvent{
		IdempotencyKey: claims.IdempotencyKey,
		Type:           claims.Type,
		MembershipID:   claims.RecordID,
		TraceID:        logctx.TraceID(ctx),
		Data:           datatypes.JSON(data),
		Status:         models.BillingEventStatusReceived,
	}); err != nil {
		return nil, err
	}

	defer func() {
		res := map[string]any{"membership": m}
		status := models.BillingEventStatusHandled
		if resErr != nil {
			res["error"] = resErr.Error()
			status = models.BillingEventStatusHandleFailed
		}
		resBytes, _ := json.Marshal(res)
		if err := h.ledger.Finish(ctx, claims.IdempotencyKey, status, datatypes.JSON(resBytes)); err != nil {
			log.Errorw("failed to finish billing event", "idempotency_key", claims.IdempotencyKey, "error", err)
		}
	}()

	log.Infow("handling billing webhook", "type", claims.Type, "record_id", claims.RecordID, "idempotency_key", claims.IdempotencyKey)
	switch claims.Type {
	case types.BillingEventTypePaymentSucceeded:
		m, resErr = h.lifecycle.Renew(ctx, claims.RecordID, *claims.NewPeriodEnd, claims.IdempotencyKey)
	case types.BillingEventTypePaymentFailed:
		m, resErr = h.lifecycle.MarkPaymentFailed(ctx, claims.RecordID, claims.IdempotencyKey)
	default:
		resErr = fmt.Errorf("%w: unsupported type %q", ErrInvalidPayload, claims.Type)
	}
	return m, resErr
}

var Module = fx.Options(
	fx.Provide(NewLedger, NewHandlerFromConfig),
)
