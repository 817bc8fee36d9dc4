package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	mw "github.com/sparklehome/membership/internal/app/api/middleware"
	"github.com/sparklehome/membership/internal/app/service/membership"
	"github.com/sparklehome/membership/internal/app/service/statistics"
	"github.com/sparklehome/membership/internal/models"
	"github.com/sparklehome/membership/pkg/response"
	"github.com/sparklehome/membership/pkg/types"
)

// AdminService is the operator subset of membership.Service.
type AdminService interface {
	AdminImmediateCancel(ctx context.Context, userID, adminID string) (*models.Membership, error)
	AdminGrant(ctx context.Context, userID, tier string, durationDays int, adminID, notes string) (*models.Membership, error)
	List(ctx context.Context, req *membership.ScanRequest) (*membership.ScanResponse, error)
	Sweep(ctx context.Context, now time.Time) (*membership.SweepResult, error)
}

type AnalyticsService interface {
	ComputeAnalytics(ctx context.Context, asOf time.Time, periodDays int) (*statistics.Analytics, error)
}

type GrantRequest struct {
	Tier         string `json:"tier" binding:"required"`
	DurationDays int    `json:"duration_days" binding:"required"`
	Notes        string `json:"notes"`
}

type ListMembershipsRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

// @Summary      Cancel immediately (Admin)
// @Description  Ends the user's open membership now. Benefits stop immediately.
// @Tags         Admin
// @Produce      json
// @Security     BearerAuth
// @Param        user_id path string true "User ID"
// @Success      200  {object}  handlers.RespMembership
// @Router       /api/v1/admin/memberships/{user_id}/cancel [post]
func ApiAdminCancel(svc AdminService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		m, err := svc.AdminImmediateCancel(c.Request.Context(), c.Param("user_id"), mw.UserID(c))
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(m))
	}
}

// @Summary      Grant membership (Admin)
// @Description  Gives the user a non-renewing membership without payment.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        user_id path string true "User ID"
// @Param        request body GrantRequest true "Grant request"
// @Success      200  {object}  handlers.RespMembership
// @Router       /api/v1/admin/memberships/{user_id}/grant [post]
func ApiAdminGrant(svc AdminService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req GrantRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		m, err := svc.AdminGrant(c.Request.Context(), c.Param("user_id"), req.Tier, req.DurationDays, mw.UserID(c), req.Notes)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(m))
	}
}

// @Summary      Membership analytics (Admin)
// @Description  Member counts, monthly revenue, churn and growth over the trailing period.
// @Tags         Admin
// @Produce      json
// @Security     BearerAuth
// @Param        as_of query string false "RFC3339 timestamp, defaults to now"
// @Param        period_days query int false "Trailing period in days, defaults to 30"
// @Success      200  {object}  handlers.RespAnalytics
// @Router       /api/v1/admin/memberships/analytics [get]
func ApiAdminAnalytics(svc AnalyticsService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		asOf := time.Now()
		if v := c.Query("as_of"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				badRequest(c, "as_of must be RFC3339")
				return
			}
			asOf = t
		}
		periodDays := 0
		if v := c.Query("period_days"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				badRequest(c, "invalid period_days")
				return
			}
			periodDays = n
		}
		res, err := svc.ComputeAnalytics(c.Request.Context(), asOf, periodDays)
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      List memberships (Admin)
// @Description  Paginated, filterable list of membership records.
// @Tags         Admin
// @Accept       json
// @Produce      json
// @Security     BearerAuth
// @Param        request body ListMembershipsRequest true "Filters, pagination and sorting"
// @Success      200  {object}  handlers.RespListMemberships
// @Router       /api/v1/admin/memberships/list [post]
func ApiAdminListMemberships(svc AdminService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ListMembershipsRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		res, err := svc.List(c.Request.Context(), &membership.ScanRequest{
			Filters:   req.Filters,
			From:      req.From,
			Size:      req.Size,
			SortBy:    req.SortBy,
			SortOrder: req.SortOrder,
		})
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

// @Summary      Run expiry sweep (Admin)
// @Description  Expires memberships whose cancellation took effect. The same job runs on a schedule.
// @Tags         Admin
// @Produce      json
// @Security     BearerAuth
// @Success      200  {object}  handlers.RespSweep
// @Router       /api/v1/admin/memberships/sweep [post]
func ApiAdminSweep(svc AdminService, log *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := svc.Sweep(c.Request.Context(), time.Now())
		if err != nil {
			respondError(c, log, err)
			return
		}
		c.JSON(http.StatusOK, response.OKT(res))
	}
}

func RegisterAdminMembershipRoutes(r gin.IRouter, svc AdminService, stats AnalyticsService, log *zap.SugaredLogger) {
	r.GET("/analytics", ApiAdminAnalytics(stats, log))
	r.POST("/list", ApiAdminListMemberships(svc, log))
	r.POST("/sweep", ApiAdminSweep(svc, log))
	r.POST("/:user_id/cancel", ApiAdminCancel(svc, log))
	r.POST("/:user_id/grant", ApiAdminGrant(svc, log))
}
