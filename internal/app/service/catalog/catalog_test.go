package catalog

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sparklehome/membership/pkg/config"
	"github.com/sparklehome/membership/pkg/types"
)

func validPlan(tier types.Tier) *types.Plan {
	return &types.Plan{ID: tier, Name: string(tier), Price: 100, Currency: "USD", DiscountPercentage: 10, IntervalDays: 30}
}

func TestNewFromConfig_FallsBackToDefaults(t *testing.T) {
	c, err := NewFromConfig(&config.Config{})
	require.NoError(t, err)

	month, ok := c.Get(types.TierSupersaverMonth)
	require.True(t, ok)
	require.Equal(t, int64(5900), month.Price)
	require.Equal(t, 50, month.DiscountPercentage)
	require.Equal(t, 30, month.IntervalDays)

	pct, ok := c.DiscountFor(types.TierSupersaverYear)
	require.True(t, ok)
	require.Equal(t, 50, pct)

	list := c.List()
	require.Len(t, list, 2)
	require.Equal(t, types.TierSupersaverMonth, list[0].ID)
}

func TestNew_RejectsInvalidPlans(t *testing.T) {
	cases := map[string][]*types.Plan{
		"unknown tier": {validPlan("gold")},
		"duplicate":    {validPlan(types.TierSupersaverMonth), validPlan(types.TierSupersaverMonth)},
		"discount": {func() *types.Plan {
			p := validPlan(types.TierSupersaverMonth)
			p.DiscountPercentage = 101
			return p
		}()},
		"price": {func() *types.Plan {
			p := validPlan(types.TierSupersaverMonth)
			p.Price = 0
			return p
		}()},
		"interval": {func() *types.Plan {
			p := validPlan(types.TierSupersaverMonth)
			p.IntervalDays = 0
			return p
		}()},
		"currency": {func() *types.Plan {
			p := validPlan(types.TierSupersaverMonth)
			p.Currency = ""
			return p
		}()},
		"empty": nil,
	}
	for name, plans := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := New(plans)
			require.Error(t, err)
		})
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	c, err := New([]*types.Plan{validPlan(types.TierSupersaverMonth)})
	require.NoError(t, err)

	p, _ := c.Get(types.TierSupersaverMonth)
	p.DiscountPercentage = 99

	again, _ := c.Get(types.TierSupersaverMonth)
	require.Equal(t, 10, again.DiscountPercentage)

	_, ok := c.Get(types.TierSupersaverYear)
	require.False(t, ok)
}
