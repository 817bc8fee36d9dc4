package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sparklehome/membership/internal/models"
	"github.com/sparklehome/membership/pkg/logctx"
	"github.com/sparklehome/membership/pkg/response"
)

type BillingEventHandler interface {
	HandleEvent(ctx context.Context, signedPayload string) (*models.Membership, error)
}

type BillingWebhookRequest struct {
	SignedPayload string `json:"signed_payload" binding:"required"`
}

// @Summary      Billing webhook
// @Description  Payment processor callback. The body carries an HS256-signed event; duplicate deliveries are acknowledged without side effects.
// @Tags         Webhook
// @Accept       json
// @Produce      json
// @Param        request body BillingWebhookRequest true "Signed billing event"
// @Success      200  {object}  handlers.RespMembership
// @Router       /api/v1/billing/webhook [post]
func ApiBillingWebhook(h BillingEventHandler, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req BillingWebhookRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		logctx.FromGin(c, log).Infow("billing_webhook_received")
		m, err := h.HandleEvent(c.Request.Context(), req.SignedPayload)
		if err != nil {
			logctx.FromGin(c, log).Warnw("billing_webhook_rejected", "error", err.Error())
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(m))
	}
}

func RegisterBillingRoutes(r gin.IRouter, h BillingEventHandler, log *zap.SugaredLogger) {
	r.POST("/webhook", ApiBillingWebhook(h, log))
}
