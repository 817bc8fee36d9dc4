package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sparklehome/membership/internal/app/service/billing"
	"github.com/sparklehome/membership/internal/app/service/entitlement"
	"github.com/sparklehome/membership/internal/app/service/membership"
	"github.com/sparklehome/membership/internal/app/service/pricing"
	"github.com/sparklehome/membership/internal/app/service/savings"
	"github.com/sparklehome/membership/internal/app/service/statistics"
	"github.com/sparklehome/membership/internal/models"
	"github.com/sparklehome/membership/pkg/logctx"
	"github.com/sparklehome/membership/pkg/response"
	"github.com/sparklehome/membership/pkg/types"
)

type stubMembership struct {
	record  *models.Membership
	ent     entitlement.Entitlement
	err     error
	gotUser string
	gotArgs []string
}

func (s *stubMembership) CurrentEntitlement(_ context.Context, userID string, _ time.Time) (*models.Membership, entitlement.Entitlement, error) {
	s.gotUser = userID
	return s.record, s.ent, s.err
}

func (s *stubMembership) Subscribe(_ context.Context, userID, tier, confirmation string) (*models.Membership, error) {
	s.gotUser = userID
	s.gotArgs = []string{tier, confirmation}
	return s.record, s.err
}

func (s *stubMembership) CancelAtPeriodEnd(_ context.Context, userID, reason string) (*models.Membership, error) {
	s.gotUser = userID
	s.gotArgs = []string{reason}
	return s.record, s.err
}

func (s *stubMembership) Resume(_ context.Context, userID string) (*models.Membership, error) {
	s.gotUser = userID
	return s.record, s.err
}

type stubSavings struct {
	res   *savings.Savings
	err   error
	since bool
}

func (s *stubSavings) ComputeSavings(_ context.Context, _ string, since bool) (*savings.Savings, error) {
	s.since = since
	return s.res, s.err
}

type stubPlans []*types.Plan

func (p stubPlans) List() []*types.Plan { return p }

type stubAdmin struct {
	record   *models.Membership
	err      error
	gotUser  string
	gotAdmin string
	gotDays  int
	scan     *membership.ScanRequest
}

func (s *stubAdmin) AdminImmediateCancel(_ context.Context, userID, adminID string) (*models.Membership, error) {
	s.gotUser, s.gotAdmin = userID, adminID
	return s.record, s.err
}

func (s *stubAdmin) AdminGrant(_ context.Context, userID, _ string, days int, adminID, _ string) (*models.Membership, error) {
	s.gotUser, s.gotAdmin, s.gotDays = userID, adminID, days
	return s.record, s.err
}

func (s *stubAdmin) List(_ context.Context, req *membership.ScanRequest) (*membership.ScanResponse, error) {
	s.scan = req
	return &membership.ScanResponse{Items: []*models.Membership{}, Total: 0}, s.err
}

func (s *stubAdmin) Sweep(context.Context, time.Time) (*membership.SweepResult, error) {
	return &membership.SweepResult{Scanned: 3, Expired: 2, Skipped: 1}, s.err
}

type stubAnalytics struct {
	asOf       time.Time
	periodDays int
}

func (s *stubAnalytics) ComputeAnalytics(_ context.Context, asOf time.Time, periodDays int) (*statistics.Analytics, error) {
	s.asOf, s.periodDays = asOf, periodDays
	return &statistics.Analytics{AsOf: asOf, TotalMembers: 4}, nil
}

type stubPricing struct{ pct int }

func (s stubPricing) GetDiscountForUser(context.Context, string, time.Time) (int, error) {
	return s.pct, nil
}

func (s stubPricing) Quote(_ context.Context, _ string, price int64, _ time.Time) (*pricing.Quote, error) {
	if price < 0 {
		return nil, fmt.Errorf("%w: negative price", membership.ErrInvalidArgument)
	}
	return &pricing.Quote{RegularPrice: price, MemberPrice: entitlement.ApplyDiscount(price, s.pct), DiscountPercentage: s.pct}, nil
}

type stubBilling struct{ err error }

func (s stubBilling) HandleEvent(context.Context, string) (*models.Membership, error) {
	return &models.Membership{ID: "m1"}, s.err
}

// asUser fakes AuthMiddleware.
func asUser(userID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(logctx.KeyUserID, userID)
		c.Next()
	}
}

func newTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func call(t *testing.T, r http.Handler, method, path string, body any) (*httptest.ResponseRecorder, response.APIResponse[json.RawMessage]) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	var env response.APIResponse[json.RawMessage]
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w, env
}

func TestErrorCode(t *testing.T) {
	cases := []struct {
		err    error
		code   response.APIResponseCode
		status int
	}{
		{fmt.Errorf("x: %w", membership.ErrNotFound), response.APIResponseCodeNotFound, http.StatusNotFound},
		{membership.ErrConflict, response.APIResponseCodeConflict, http.StatusConflict},
		{membership.ErrInvalidTier, response.APIResponseCodeInvalidTier, http.StatusBadRequest},
		{membership.ErrInvalidArgument, response.APIResponseCodeBadRequest, http.StatusBadRequest},
		{membership.ErrState, response.APIResponseCodeStateConflict, http.StatusConflict},
		{membership.ErrConcurrency, response.APIResponseCodeConcurrencyConflict, http.StatusConflict},
		{billing.ErrInvalidSignature, response.APIResponseCodeUnauthorized, http.StatusUnauthorized},
		{billing.ErrInvalidPayload, response.APIResponseCodeBadRequest, http.StatusBadRequest},
		{errors.New("boom"), response.APIResponseCodeError, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		got := errorCode(tc.err)
		require.Equal(t, tc.code, got, tc.err.Error())
		require.Equal(t, tc.status, got.HTTPStatus())
	}
}

func TestMembershipRoutes(t *testing.T) {
	end := time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	svc := &stubMembership{
		record: &models.Membership{ID: "m1", UserID: "u1", Tier: "supersaver_month", Status: types.MembershipStatusActive},
		ent:    entitlement.Entitlement{MembershipID: "m1", Tier: "supersaver_month", EffectiveStatus: types.EffectiveStatusActive, DiscountPercentage: 15, PeriodEnd: &end},
	}
	sav := &stubSavings{res: &savings.Savings{TotalBookings: 2, TotalDiscountAmount: 1500, AvgDiscount: 750, Currency: "USD"}}
	plans := stubPlans{{ID: "supersaver_month", Name: "Premium", DiscountPercentage: 15}}

	r := newTestRouter()
	RegisterMembershipRoutes(r.Group("/api/v1/membership"), asUser("u1"), svc, sav, plans, zap.NewNop().Sugar())

	t.Run("current", func(t *testing.T) {
		w, env := call(t, r, http.MethodGet, "/api/v1/membership/current", nil)
		require.Equal(t, http.StatusOK, w.Code)
		var data CurrentMembershipResponse
		require.NoError(t, json.Unmarshal(env.Data, &data))
		require.Equal(t, "u1", svc.gotUser)
		require.Equal(t, 15, data.Entitlement.DiscountPercentage)
		require.Equal(t, int64(1500), data.UsageStats.TotalDiscountAmount)
		require.True(t, sav.since)
	})

	t.Run("current survives usage stats failure", func(t *testing.T) {
		sav.err = errors.New("bookings down")
		defer func() { sav.err = nil }()
		w, env := call(t, r, http.MethodGet, "/api/v1/membership/current", nil)
		require.Equal(t, http.StatusOK, w.Code)
		require.Contains(t, string(env.Data), `"usage_stats":null`)
	})

	t.Run("plans", func(t *testing.T) {
		w, env := call(t, r, http.MethodGet, "/api/v1/membership/plans", nil)
		require.Equal(t, http.StatusOK, w.Code)
		require.Contains(t, string(env.Data), `"discount_percentage":15`)
	})

	t.Run("subscribe", func(t *testing.T) {
		w, _ := call(t, r, http.MethodPost, "/api/v1/membership/subscribe", map[string]string{"tier": "supersaver_month", "payment_confirmation": "pay_1"})
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, []string{"supersaver_month", "pay_1"}, svc.gotArgs)

		w, env := call(t, r, http.MethodPost, "/api/v1/membership/subscribe", map[string]string{})
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Equal(t, response.APIResponseCodeBadRequest, env.Code)
	})

	t.Run("subscribe conflict", func(t *testing.T) {
		svc.err = fmt.Errorf("user already has an open membership: %w", membership.ErrConflict)
		defer func() { svc.err = nil }()
		w, env := call(t, r, http.MethodPost, "/api/v1/membership/subscribe", map[string]string{"tier": "supersaver_month"})
		require.Equal(t, http.StatusConflict, w.Code)
		require.Equal(t, response.APIResponseCodeConflict, env.Code)
	})

	t.Run("cancel", func(t *testing.T) {
		w, _ := call(t, r, http.MethodPost, "/api/v1/membership/cancel", map[string]any{"cancel_at_period_end": true, "reason": "moving"})
		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, []string{"moving"}, svc.gotArgs)

		w, _ = call(t, r, http.MethodPost, "/api/v1/membership/cancel", map[string]any{"cancel_at_period_end": false})
		require.Equal(t, http.StatusBadRequest, w.Code)
		w, _ = call(t, r, http.MethodPost, "/api/v1/membership/cancel", map[string]any{})
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("resume state error", func(t *testing.T) {
		svc.err = membership.ErrState
		defer func() { svc.err = nil }()
		w, env := call(t, r, http.MethodPost, "/api/v1/membership/resume", nil)
		require.Equal(t, http.StatusConflict, w.Code)
		require.Equal(t, response.APIResponseCodeStateConflict, env.Code)
	})

	t.Run("savings", func(t *testing.T) {
		w, _ := call(t, r, http.MethodGet, "/api/v1/membership/savings", nil)
		require.Equal(t, http.StatusOK, w.Code)
		require.False(t, sav.since)

		w, _ = call(t, r, http.MethodGet, "/api/v1/membership/savings?since_record_start=true", nil)
		require.Equal(t, http.StatusOK, w.Code)
		require.True(t, sav.since)

		w, _ = call(t, r, http.MethodGet, "/api/v1/membership/savings?since_record_start=maybe", nil)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestAdminRoutes(t *testing.T) {
	svc := &stubAdmin{record: &models.Membership{ID: "m1", UserID: "u1"}}
	stats := &stubAnalytics{}
	r := newTestRouter()
	RegisterAdminMembershipRoutes(r.Group("/api/v1/admin/memberships", asUser("ops-1")), svc, stats, zap.NewNop().Sugar())

	w, _ := call(t, r, http.MethodPost, "/api/v1/admin/memberships/u1/cancel", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "u1", svc.gotUser)
	require.Equal(t, "ops-1", svc.gotAdmin)

	w, _ = call(t, r, http.MethodPost, "/api/v1/admin/memberships/u2/grant", map[string]any{"tier": "supersaver_month", "duration_days": 30, "notes": "apology"})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "u2", svc.gotUser)
	require.Equal(t, 30, svc.gotDays)

	w, _ = call(t, r, http.MethodPost, "/api/v1/admin/memberships/u2/grant", map[string]any{"tier": "supersaver_month"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = call(t, r, http.MethodGet, "/api/v1/admin/memberships/analytics?as_of=2026-06-01T00:00:00Z&period_days=7", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 7, stats.periodDays)
	require.True(t, stats.asOf.Equal(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)))

	w, _ = call(t, r, http.MethodGet, "/api/v1/admin/memberships/analytics?as_of=yesterday", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	w, _ = call(t, r, http.MethodGet, "/api/v1/admin/memberships/analytics?period_days=-1", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = call(t, r, http.MethodPost, "/api/v1/admin/memberships/list", map[string]any{
		"filters": []map[string]any{{"field": "status", "operator": "eq", "values": []string{"active"}}},
		"size":    20,
		"sort_by": "current_period_end",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, 20, svc.scan.Size)
	require.Equal(t, "status", svc.scan.Filters[0].Field)

	w, env := call(t, r, http.MethodPost, "/api/v1/admin/memberships/sweep", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, string(env.Data), `"expired":2`)
}

func TestPricingRoutes(t *testing.T) {
	r := newTestRouter()
	RegisterPricingRoutes(r.Group("/api/v1/internal/pricing"), stubPricing{pct: 15}, zap.NewNop().Sugar())

	w, env := call(t, r, http.MethodGet, "/api/v1/internal/pricing/discount?user_id=u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, string(env.Data), `"discount_percentage":15`)

	w, _ = call(t, r, http.MethodGet, "/api/v1/internal/pricing/discount", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w, env = call(t, r, http.MethodPost, "/api/v1/internal/pricing/quote", map[string]any{"user_id": "u1", "regular_price": 10000})
	require.Equal(t, http.StatusOK, w.Code)
	var q pricing.Quote
	require.NoError(t, json.Unmarshal(env.Data, &q))
	require.Equal(t, int64(8500), q.MemberPrice)

	w, _ = call(t, r, http.MethodPost, "/api/v1/internal/pricing/quote", map[string]any{"user_id": "u1", "regular_price": -1})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBillingWebhook(t *testing.T) {
	r := newTestRouter()
	RegisterBillingRoutes(r.Group("/api/v1/billing"), stubBilling{}, zap.NewNop().Sugar())
	w, _ := call(t, r, http.MethodPost, "/api/v1/billing/webhook", map[string]string{"signed_payload": "x.y.z"})
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = call(t, r, http.MethodPost, "/api/v1/billing/webhook", map[string]string{})
	require.Equal(t, http.StatusBadRequest, w.Code)

	bad := newTestRouter()
	RegisterBillingRoutes(bad.Group("/api/v1/billing"), stubBilling{err: billing.ErrInvalidSignature}, zap.NewNop().Sugar())
	w, env := call(t, bad, http.MethodPost, "/api/v1/billing/webhook", map[string]string{"signed_payload": "x.y.z"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, response.APIResponseCodeUnauthorized, env.Code)
}

type stubPinger struct{ err error }

func (p stubPinger) PingContext(context.Context) error { return p.err }

func TestHealthz(t *testing.T) {
	r := newTestRouter()
	RegisterHealthRoutes(r, stubPinger{})
	w, _ := call(t, r, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, w.Code)

	down := newTestRouter()
	RegisterHealthRoutes(down, stubPinger{err: errors.New("refused")})
	w, _ = call(t, down, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestInternalErrorsHideDetails(t *testing.T) {
	svc := &stubMembership{err: errors.New("pq: connection reset")}
	r := newTestRouter()
	RegisterMembershipRoutes(r.Group("/m"), asUser("u1"), svc, nil, stubPlans{}, zap.NewNop().Sugar())
	w, env := call(t, r, http.MethodPost, "/m/resume", nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, string(env.Data), "pq:")
}
