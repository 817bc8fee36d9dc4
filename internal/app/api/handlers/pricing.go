package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sparklehome/membership/internal/app/service/pricing"
	"github.com/sparklehome/membership/pkg/response"
)

type PricingService interface {
	GetDiscountForUser(ctx context.Context, userID string, now time.Time) (int, error)
	Quote(ctx context.Context, userID string, regularPrice int64, now time.Time) (*pricing.Quote, error)
}

type DiscountResponse struct {
	UserID             string `json:"user_id"`
	DiscountPercentage int    `json:"discount_percentage"`
}

type QuoteRequest struct {
	UserID       string `json:"user_id" binding:"required"`
	RegularPrice *int64 `json:"regular_price" binding:"required"`
}

// @Summary      Member discount (Internal)
// @Description  Discount percentage the user is entitled to right now. Used by the booking service at checkout.
// @Tags         Internal
// @Produce      json
// @Param        user_id query string true "User ID"
// @Success      200  {object}  handlers.RespDiscount
// @Router       /api/v1/internal/pricing/discount [get]
func ApiGetDiscount(svc PricingService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.Query("user_id")
		if userID == "" {
			badRequest(c, "missing user_id")
			return
		}
		pct, err := svc.GetDiscountForUser(c.Request.Context(), userID, time.Now())
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(&DiscountResponse{UserID: userID, DiscountPercentage: pct}))
	}
}

// @Summary      Price quote (Internal)
// @Description  Applies the user's current member discount to a regular price in minor units.
// @Tags         Internal
// @Accept       json
// @Produce      json
// @Param        request body QuoteRequest true "Quote request"
// @Success      200  {object}  handlers.RespQuote
// @Router       /api/v1/internal/pricing/quote [post]
func ApiQuote(svc PricingService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req QuoteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		q, err := svc.Quote(c.Request.Context(), req.UserID, *req.RegularPrice, time.Now())
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(q))
	}
}

func RegisterPricingRoutes(r gin.IRouter, svc PricingService, log *zap.SugaredLogger) {
	r.GET("/discount", ApiGetDiscount(svc, log))
	r.POST("/quote", ApiQuote(svc, log))
}
