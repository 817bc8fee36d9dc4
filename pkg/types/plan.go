package types

import "fmt"

// Tier is a membership plan identifier. The set of tiers is closed; use
// ParseTier to turn untrusted input into a Tier.
type Tier string

const (
	TierSupersaverMonth Tier = "supersaver_month"
	TierSupersaverYear  Tier = "supersaver_year"
)

var knownTiers = []Tier{TierSupersaverMonth, TierSupersaverYear}

// KnownTiers returns every tier the service understands.
func KnownTiers() []Tier {
	out := make([]Tier, len(knownTiers))
	copy(out, knownTiers)
	return out
}

func (t Tier) Valid() bool {
	for _, k := range knownTiers {
		if k == t {
			return true
		}
	}
	return false
}

func ParseTier(s string) (Tier, error) {
	t := Tier(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown tier: %q", s)
	}
	return t, nil
}

type BillingInterval string

const (
	BillingIntervalMonth BillingInterval = "month"
	BillingIntervalYear  BillingInterval = "year"
)

// Plan is the canonical catalog entry for a tier. Price is in minor currency
// units and is the only price the service knows about.
type Plan struct {
	ID                 Tier            `json:"id" mapstructure:"id"`
	Name               string          `json:"name" mapstructure:"name"`
	Price              int64           `json:"price" mapstructure:"price"`
	Currency           string          `json:"currency" mapstructure:"currency"`
	DiscountPercentage int             `json:"discount_percentage" mapstructure:"discount_percentage"`
	BillingInterval    BillingInterval `json:"billing_interval" mapstructure:"billing_interval"`
	IntervalDays       int             `json:"interval_days" mapstructure:"interval_days"`
	Features           []string        `json:"features" mapstructure:"features"`
}

// MonthlyPrice normalises the plan price to a 30 day month, rounding half up.
func (p *Plan) MonthlyPrice() int64 {
	if p == nil || p.IntervalDays <= 0 {
		return 0
	}
	if p.IntervalDays == 30 {
		return p.Price
	}
	return (p.Price*30*2 + int64(p.IntervalDays)) / (int64(p.IntervalDays) * 2)
}
