package catalog

import (
	"fmt"
	"slices"

	"go.uber.org/fx"

	"github.com/sparklehome/membership/pkg/config"
	"github.com/sparklehome/membership/pkg/types"
)

// DefaultPlans is used when the config does not list any plans.
var DefaultPlans = []*types.Plan{
	{
		ID:                 types.TierSupersaverMonth,
		Name:               "SuperSaver Monthly",
		Price:              5900,
		Currency:           "USD",
		DiscountPercentage: 50,
		BillingInterval:    types.BillingIntervalMonth,
		IntervalDays:       30,
		Features: []string{
			"50% off every cleaning",
			"Priority booking",
			"Cancel anytime",
		},
	},
	{
		ID:                 types.TierSupersaverYear,
		Name:               "SuperSaver Yearly",
		Price:              49900,
		Currency:           "USD",
		DiscountPercentage: 50,
		BillingInterval:    types.BillingIntervalYear,
		IntervalDays:       365,
		Features: []string{
			"50% off every cleaning",
			"Priority booking",
			"Two months free",
		},
	},
}

// Catalog is the immutable set of membership plans keyed by tier.
type Catalog struct {
	plans map[types.Tier]*types.Plan
	order []types.Tier
}

// New validates plans and builds a catalog from them.
func New(plans []*types.Plan) (*Catalog, error) {
	c := &Catalog{plans: make(map[types.Tier]*types.Plan, len(plans))}
	for _, p := range plans {
		if p == nil {
			continue
		}
		if !p.ID.Valid() {
			return nil, fmt.Errorf("plan %q: unknown tier", p.ID)
		}
		if _, dup := c.plans[p.ID]; dup {
			return nil, fmt.Errorf("plan %q: duplicate tier", p.ID)
		}
		if p.DiscountPercentage < 0 || p.DiscountPercentage > 100 {
			return nil, fmt.Errorf("plan %q: discount_percentage %d out of range", p.ID, p.DiscountPercentage)
		}
		if p.Price <= 0 {
			return nil, fmt.Errorf("plan %q: price must be positive", p.ID)
		}
		if p.IntervalDays <= 0 {
			return nil, fmt.Errorf("plan %q: interval_days must be positive", p.ID)
		}
		if p.Currency == "" {
			return nil, fmt.Errorf("plan %q: currency required", p.ID)
		}
		cp := *p
		cp.Features = slices.Clone(p.Features)
		c.plans[p.ID] = &cp
		c.order = append(c.order, p.ID)
	}
	if len(c.plans) == 0 {
		return nil, fmt.Errorf("catalog has no plans")
	}
	return c, nil
}

// NewFromConfig builds the catalog from cfg.Plans, falling back to DefaultPlans.
func NewFromConfig(cfg *config.Config) (*Catalog, error) {
	if cfg == nil || len(cfg.Plans) == 0 {
		return New(DefaultPlans)
	}
	return New(cfg.Plans)
}

// Get returns a copy of the plan for tier.
func (c *Catalog) Get(tier types.Tier) (*types.Plan, bool) {
	p, ok := c.plans[tier]
	if !ok {
		return nil, false
	}
	cp := *p
	cp.Features = slices.Clone(p.Features)
	return &cp, true
}

// DiscountFor returns the plan discount for tier and whether the tier exists.
func (c *Catalog) DiscountFor(tier types.Tier) (int, bool) {
	p, ok := c.plans[tier]
	if !ok {
		return 0, false
	}
	return p.DiscountPercentage, true
}

// List returns the plans in configuration order.
func (c *Catalog) List() []*types.Plan {
	out := make([]*types.Plan, 0, len(c.order))
	for _, t := range c.order {
		p, _ := c.Get(t)
		out = append(out, p)
	}
	return out
}

var Module = fx.Options(
	fx.Provide(NewFromConfig),
)
