// Package entitlement derives a membership's effective status and discount at
// a point in time. It is the only place that interprets period boundaries;
// handlers, pricing and analytics all go through Evaluate.
package entitlement

import (
	"time"

	"go.uber.org/fx"

	"github.com/sparklehome/membership/internal/app/service/catalog"
	"github.com/sparklehome/membership/internal/models"
	"github.com/sparklehome/membership/pkg/config"
	"github.com/sparklehome/membership/pkg/types"
)

const DefaultEndingSoonWindow = 7 * 24 * time.Hour

type Options struct {
	// PastDueGrace keeps the plan discount after the period end of an
	// auto-renewing membership while billing catches up.
	PastDueGrace     time.Duration
	EndingSoonWindow time.Duration
}

// Entitlement is the evaluation result for one record at one instant.
type Entitlement struct {
	MembershipID       string                `json:"membership_id,omitempty"`
	Tier               types.Tier            `json:"tier,omitempty"`
	EffectiveStatus    types.EffectiveStatus `json:"effective_status"`
	DiscountPercentage int                   `json:"discount_percentage"`
	IsEndingSoon       bool                  `json:"is_ending_soon"`
	PeriodEnd          *time.Time            `json:"period_end,omitempty"`
}

// Entitled reports whether the holder gets a discount right now.
func (e Entitlement) Entitled() bool {
	return e.DiscountPercentage > 0
}

// Evaluator is immutable and safe for concurrent use.
type Evaluator struct {
	catalog *catalog.Catalog
	opts    Options
}

func New(cat *catalog.Catalog, opts Options) *Evaluator {
	if opts.EndingSoonWindow <= 0 {
		opts.EndingSoonWindow = DefaultEndingSoonWindow
	}
	if opts.PastDueGrace < 0 {
		opts.PastDueGrace = 0
	}
	return &Evaluator{catalog: cat, opts: opts}
}

func NewFromConfig(cat *catalog.Catalog, cfg *config.Config) *Evaluator {
	return New(cat, Options{
		PastDueGrace:     cfg.Entitlement.PastDueGrace,
		EndingSoonWindow: cfg.Entitlement.EndingSoonWindow,
	})
}

// Evaluate applies the entitlement rules in order; the first match wins.
// A nil record means the user never had a membership.
func (e *Evaluator) Evaluate(m *models.Membership, now time.Time) Entitlement {
	if m == nil {
		return Entitlement{EffectiveStatus: types.EffectiveStatusNone}
	}
	periodEnd := m.CurrentPeriodEnd
	res := Entitlement{MembershipID: m.ID, Tier: m.Tier, PeriodEnd: &periodEnd}
	lapsed := !now.Before(periodEnd)

	switch {
	case m.Status == types.MembershipStatusCancelled:
		res.EffectiveStatus = types.EffectiveStatusCancelled
		return res
	case m.Status == types.MembershipStatusExpired:
		res.EffectiveStatus = types.EffectiveStatusExpired
		return res
	case lapsed && m.CancelAtPeriodEnd:
		res.EffectiveStatus = types.EffectiveStatusExpired
	case lapsed:
		res.EffectiveStatus = types.EffectiveStatusPastDue
		if e.opts.PastDueGrace > 0 && now.Before(periodEnd.Add(e.opts.PastDueGrace)) {
			res.DiscountPercentage = e.planDiscount(m)
		}
	default:
		res.EffectiveStatus = types.EffectiveStatus(m.Status)
		switch m.Status {
		case types.MembershipStatusActive, types.MembershipStatusTrialing, types.MembershipStatusPastDue:
			res.DiscountPercentage = e.planDiscount(m)
		}
	}

	if m.CancelAtPeriodEnd {
		remaining := periodEnd.Sub(now)
		res.IsEndingSoon = remaining >= 0 && remaining <= e.opts.EndingSoonWindow
	}
	return res
}

// planDiscount prefers the live catalog and falls back to the snapshot taken
// when the record was created.
func (e *Evaluator) planDiscount(m *models.Membership) int {
	if e.catalog != nil {
		if pct, ok := e.catalog.DiscountFor(m.Tier); ok {
			return pct
		}
	}
	if snap := m.GetPlanSnapshot(); snap != nil {
		return clampPercentage(snap.DiscountPercentage)
	}
	return 0
}

// ApplyDiscount returns price reduced by pct percent, rounded half up to the
// minor unit.
func ApplyDiscount(price int64, pct int) int64 {
	if price <= 0 {
		return price
	}
	pct = clampPercentage(pct)
	return (price*int64(100-pct) + 50) / 100
}

func clampPercentage(pct int) int {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

var Module = fx.Options(
	fx.Provide(NewFromConfig),
)
