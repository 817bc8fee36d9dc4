package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	mw "github.com/sparklehome/membership/internal/app/api/middleware"
	"github.com/sparklehome/membership/internal/app/service/entitlement"
	"github.com/sparklehome/membership/internal/app/service/savings"
	"github.com/sparklehome/membership/internal/models"
	"github.com/sparklehome/membership/pkg/logctx"
	"github.com/sparklehome/membership/pkg/response"
	"github.com/sparklehome/membership/pkg/types"
)

// MembershipService is the customer-facing subset of membership.Service.
type MembershipService interface {
	CurrentEntitlement(ctx context.Context, userID string, now time.Time) (*models.Membership, entitlement.Entitlement, error)
	Subscribe(ctx context.Context, userID, tier, paymentConfirmation string) (*models.Membership, error)
	CancelAtPeriodEnd(ctx context.Context, userID, reason string) (*models.Membership, error)
	Resume(ctx context.Context, userID string) (*models.Membership, error)
}

type SavingsCalculator interface {
	ComputeSavings(ctx context.Context, userID string, sinceRecordStart bool) (*savings.Savings, error)
}

type PlanLister interface {
	List() []*types.Plan
}

type CurrentMembershipResponse struct {
	Membership  *models.Membership      `json:"membership"`
	Entitlement entitlement.Entitlement `json:"entitlement"`
	UsageStats  *savings.Savings        `json:"usage_stats"`
}

type SubscribeRequest struct {
	Tier                string `json:"tier" binding:"required"`
	PaymentConfirmation string `json:"payment_confirmation"`
}

type CancelRequest struct {
	CancelAtPeriodEnd *bool  `json:"cancel_at_period_end" binding:"required"`
	Reason            string `json:"reason"`
}

// @Summary      Current membership
// @Description  Returns the caller's membership record, its evaluated entitlement and the savings of the current record.
// @Tags         Membership
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  handlers.RespCurrentMembership
// @Router       /api/v1/membership/current [get]
func ApiGetCurrentMembership(svc MembershipService, sav SavingsCalculator, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := mw.UserID(c)
		m, ent, err := svc.CurrentEntitlement(c.Request.Context(), userID, time.Now())
		if err != nil {
			respondError(c, log, err)
			return
		}
		out := &CurrentMembershipResponse{Membership: m, Entitlement: ent}
		if m != nil && sav != nil {
			stats, err := sav.ComputeSavings(c.Request.Context(), userID, true)
			if err != nil {
				// usage stats are informational; the membership itself is still returned
				logctx.FromGin(c, log).Warnw("usage_stats_failed", "error", err)
			} else {
				out.UsageStats = stats
			}
		}
		c.JSON(http.StatusOK, response.OKT(out))
	}
}

// @Summary      List plans
// @Description  Returns the plan catalog.
// @Tags         Membership
// @Produce      json
// @Success      200  {object}  handlers.RespPlans
// @Router       /api/v1/membership/plans [get]
func ApiListPlans(plans PlanLister) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, response.OKT(plans.List()))
	}
}

// @Summary      Subscribe
// @Description  Starts a membership for the caller. Without a payment confirmation the record starts in trial.
// @Tags         Membership
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body SubscribeRequest true "Subscribe request"
// @Success      200  {object}  handlers.RespMembership
// @Router       /api/v1/membership/subscribe [post]
func ApiSubscribe(svc MembershipService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req SubscribeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		m, err := svc.Subscribe(c.Request.Context(), mw.UserID(c), req.Tier, req.PaymentConfirmation)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(m))
	}
}

// @Summary      Cancel at period end
// @Description  Turns off auto-renewal. Benefits last until the current period ends.
// @Tags         Membership
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body CancelRequest true "Cancel request"
// @Success      200  {object}  handlers.RespMembership
// @Router       /api/v1/membership/cancel [post]
func ApiCancelMembership(svc MembershipService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CancelRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		if !*req.CancelAtPeriodEnd {
			badRequest(c, "only cancel_at_period_end=true is supported")
			return
		}
		m, err := svc.CancelAtPeriodEnd(c.Request.Context(), mw.UserID(c), req.Reason)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(m))
	}
}

// @Summary      Resume
// @Description  Undoes a pending cancellation while the period is still running.
// @Tags         Membership
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  handlers.RespMembership
// @Router       /api/v1/membership/resume [post]
func ApiResumeMembership(svc MembershipService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, err := svc.Resume(c.Request.Context(), mw.UserID(c))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(m))
	}
}

// @Summary      Savings
// @Description  Discount totals on completed bookings made while a member.
// @Tags         Membership
// @Produce      json
// @Security     BearerAuth
// @Param        since_record_start query bool false "Only count the current membership record"
// @Success      200  {object}  handlers.RespSavings
// @Router       /api/v1/membership/savings [get]
func ApiGetSavings(sav SavingsCalculator, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		since := false
		if v := c.Query("since_record_start"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				badRequest(c, "invalid since_record_start")
				return
			}
			since = b
		}
		res, err := sav.ComputeSavings(c.Request.Context(), mw.UserID(c), since)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// RegisterMembershipRoutes mounts the customer routes. auth runs on every
// route except the plan catalog.
func RegisterMembershipRoutes(r gin.IRouter, auth gin.HandlerFunc, svc MembershipService, sav SavingsCalculator, plans PlanLister, log *zap.SugaredLogger) {
	r.GET("/plans", ApiListPlans(plans))

	authed := r.Group("", auth)
	authed.GET("/current", ApiGetCurrentMembership(svc, sav, log))
	authed.POST("/subscribe", ApiSubscribe(svc, log))
	authed.POST("/cancel", ApiCancelMembership(svc, log))
	authed.POST("/resume", ApiResumeMembership(svc, log))
	authed.GET("/savings", ApiGetSavings(sav, log))
}
