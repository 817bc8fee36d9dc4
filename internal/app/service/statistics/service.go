package statistics

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sparklehome/membership/internal/app/service/catalog"
	"github.com/sparklehome/membership/internal/app/service/entitlement"
	"github.com/sparklehome/membership/internal/app/service/membership"
	"github.com/sparklehome/membership/internal/models"
	"github.com/sparklehome/membership/pkg/logctx"
	"github.com/sparklehome/membership/pkg/tool"
	"github.com/sparklehome/membership/pkg/types"
)

const (
	DefaultPeriodDays = 30
	maxPeriodDays     = 366
)

// RecordLister reads every membership record.
type RecordLister interface {
	ListAll(ctx context.Context) ([]*models.Membership, error)
}

type DailyHistoryItem struct {
	Date  string `json:"date"`
	Label string `json:"label,omitempty"`
	Value int64  `json:"value"`
}

type GrowthDeltas struct {
	TotalMembers   int              `json:"total_members"`
	ActiveMembers  int              `json:"active_members"`
	MonthlyRevenue map[string]int64 `json:"monthly_revenue"`
}

type Analytics struct {
	AsOf            time.Time          `json:"as_of"`
	PeriodStart     time.Time          `json:"period_start"`
	TotalMembers    int                `json:"total_members"`
	ActiveMembers   int                `json:"active_members"`
	TrialingMembers int                `json:"trialing_members"`
	PastDueMembers  int                `json:"past_due_members"`
	MonthlyRevenue  map[string]int64   `json:"monthly_revenue"`
	ChurnRate       float64            `json:"churn_rate"`
	NewMembers      int                `json:"new_members"`
	GrowthDeltas    GrowthDeltas       `json:"growth_deltas"`
	ByTier          map[types.Tier]int `json:"by_tier"`
	DailyHistory    []DailyHistoryItem `json:"daily_history"`
}

// Service computes admin analytics. Every status it reports comes from the
// entitlement evaluator, so lapsed records that the sweep has not reached yet
// are not counted as active.
type Service struct {
	records   RecordLister
	snapshots SnapshotStore
	catalog   *catalog.Catalog
	evaluator *entitlement.Evaluator
	log       *zap.SugaredLogger
}

func New(store membership.Store, snapshots SnapshotStore, cat *catalog.Catalog, evaluator *entitlement.Evaluator, log *zap.SugaredLogger) *Service {
	return &Service{records: store, snapshots: snapshots, catalog: cat, evaluator: evaluator, log: log}
}

// memberState is one user's entitlement at an instant.
type memberState struct {
	record *models.Membership
	ent    entitlement.Entitlement
}

// statesAt evaluates, for each user, the latest record that existed at t as
// it looked at t.
func (s *Service) statesAt(records []*models.Membership, t time.Time) map[string]memberState {
	latest := make(map[string]*models.Membership)
	for _, m := range records {
		view := m.AsOf(t)
		if view == nil {
			continue
		}
		if cur, ok := latest[m.UserID]; !ok || view.StartDate.After(cur.StartDate) {
			latest[m.UserID] = view
		}
	}
	out := make(map[string]memberState, len(latest))
	for userID, m := range latest {
		out[userID] = memberState{record: m, ent: s.evaluator.Evaluate(m, t)}
	}
	return out
}

type totals struct {
	total, active, trialing, pastDue int
	revenue                          map[string]int64
	byTier                           map[types.Tier]int
}

func (s *Service) summarize(states map[string]memberState) totals {
	t := totals{revenue: map[string]int64{}, byTier: map[types.Tier]int{}}
	for _, st := range states {
		if st.ent.EffectiveStatus.Terminal() {
			continue
		}
		t.total++
		t.byTier[st.record.Tier]++
		switch st.ent.EffectiveStatus {
		case types.EffectiveStatusActive:
			t.active++
			if !st.record.IsAdminGrant() {
				if plan := s.planFor(st.record); plan != nil {
					t.revenue[plan.Currency] += plan.MonthlyPrice()
				}
			}
		case types.EffectiveStatusTrialing:
			t.trialing++
		case types.EffectiveStatusPastDue:
			t.pastDue++
		}
	}
	return t
}

func (s *Service) planFor(m *models.Membership) *types.Plan {
	if s.catalog != nil {
		if p, ok := s.catalog.Get(m.Tier); ok {
			return p
		}
	}
	return m.GetPlanSnapshot()
}

// ComputeAnalytics rolls up all memberships at asOf and compares them with
// the state periodDays earlier.
func (s *Service) ComputeAnalytics(ctx context.Context, asOf time.Time, periodDays int) (*Analytics, error) {
	if periodDays <= 0 {
		periodDays = DefaultPeriodDays
	}
	if periodDays > maxPeriodDays {
		return nil, fmt.Errorf("%w: period_days must be at most %d", membership.ErrInvalidArgument, maxPeriodDays)
	}
	periodStart := asOf.AddDate(0, 0, -periodDays)

	var records []*models.Membership
	var history []DailyHistoryItem
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		records, err = s.records.ListAll(gctx)
		if err != nil {
			return fmt.Errorf("failed to list memberships: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if s.snapshots == nil {
			return nil
		}
		var err error
		history, err = s.snapshots.DailyCounts(gctx, periodStart.Format(time.DateOnly), asOf.Format(time.DateOnly))
		if err != nil {
			return fmt.Errorf("failed to load daily history: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	now := s.statesAt(records, asOf)
	before := s.statesAt(records, periodStart)
	cur := s.summarize(now)
	prev := s.summarize(before)

	res := &Analytics{
		AsOf:            asOf,
		PeriodStart:     periodStart,
		TotalMembers:    cur.total,
		ActiveMembers:   cur.active,
		TrialingMembers: cur.trialing,
		PastDueMembers:  cur.pastDue,
		MonthlyRevenue:  cur.revenue,
		ByTier:          cur.byTier,
		DailyHistory:    lo.Ternary(history == nil, []DailyHistoryItem{}, history),
		GrowthDeltas: GrowthDeltas{
			TotalMembers:   cur.total - prev.total,
			ActiveMembers:  cur.active - prev.active,
			MonthlyRevenue: revenueDelta(cur.revenue, prev.revenue),
		},
	}

	entitledAtStart, churned := 0, 0
	for userID, st := range before {
		if !st.ent.EffectiveStatus.Entitled() {
			continue
		}
		entitledAtStart++
		if after, ok := now[userID]; ok {
			switch after.ent.EffectiveStatus {
			case types.EffectiveStatusCancelled, types.EffectiveStatusExpired:
				churned++
			}
		}
	}
	res.ChurnRate = churnRate(churned, entitledAtStart)

	newUsers := make(map[string]struct{})
	for _, m := range records {
		if m.StartDate.After(periodStart) && !m.StartDate.After(asOf) {
			newUsers[m.UserID] = struct{}{}
		}
	}
	res.NewMembers = len(newUsers)

	logctx.FromCtx(ctx, s.log).Infow("computed membership analytics",
		"as_of", asOf, "period_days", periodDays, "records", len(records), "total_members", res.TotalMembers)
	return res, nil
}

func revenueDelta(cur, prev map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(cur))
	for c, v := range cur {
		out[c] = v - prev[c]
	}
	for c, v := range prev {
		if _, ok := cur[c]; !ok {
			out[c] = -v
		}
	}
	return out
}

// churnRate returns churned/base rounded to four decimals, 0 for an empty base.
func churnRate(churned, base int) float64 {
	if base == 0 {
		return 0
	}
	return math.Round(float64(churned)/float64(base)*10000) / 10000
}

// SaveDailySnapshot writes each user's entitlement at day into
// membership_daily_snapshot, replacing rows already written for that date.
func (s *Service) SaveDailySnapshot(ctx context.Context, day time.Time) (int, error) {
	records, err := s.records.ListAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list memberships: %w", err)
	}
	date := day.Format(time.DateOnly)
	created := time.Now()

	states := s.statesAt(records, day)
	userIDs := lo.Keys(states)
	sort.Strings(userIDs)

	rows := make([]*models.MembershipDailySnapshot, 0, len(states))
	for _, userID := range userIDs {
		st := states[userID]
		rows = append(rows, &models.MembershipDailySnapshot{
			ID:                 tool.NewID(),
			UserID:             userID,
			SnapshotDate:       date,
			MembershipID:       st.record.ID,
			Tier:               st.record.Tier,
			EffectiveStatus:    st.ent.EffectiveStatus,
			DiscountPercentage: st.ent.DiscountPercentage,
			CurrentPeriodEnd:   st.record.CurrentPeriodEnd,
			SnapshotCreatedAt:  created,
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}
	if err := s.snapshots.Upsert(ctx, rows); err != nil {
		return 0, fmt.Errorf("failed to save daily snapshot %s: %w", date, err)
	}
	logctx.FromCtx(ctx, s.log).Infow("saved daily membership snapshot", "date", date, "rows", len(rows))
	return len(rows), nil
}
