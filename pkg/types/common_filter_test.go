package types

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommonFilter_Validate(t *testing.T) {
	allowed := []string{"status", "tier", "current_period_end"}

	cases := []struct {
		name    string
		filter  *CommonFilter
		wantErr bool
	}{
		{"eq", &CommonFilter{Field: "status", Operator: CommonFilterOperatorEq, Values: []any{"active"}}, false},
		{"in", &CommonFilter{Field: "tier", Operator: CommonFilterOperatorIn, Values: []any{"a", "b"}}, false},
		{"range", &CommonFilter{Field: "current_period_end", Operator: CommonFilterOperatorRange, Values: []any{1, 2}}, false},
		{"field not allowed", &CommonFilter{Field: "user_id; drop table", Operator: CommonFilterOperatorEq, Values: []any{1}}, true},
		{"eq without value", &CommonFilter{Field: "status", Operator: CommonFilterOperatorEq}, true},
		{"range with one value", &CommonFilter{Field: "current_period_end", Operator: CommonFilterOperatorRange, Values: []any{1}}, true},
		{"empty in", &CommonFilter{Field: "tier", Operator: CommonFilterOperatorIn, Values: []any{}}, true},
		{"unknown operator", &CommonFilter{Field: "status", Operator: "like", Values: []any{"x"}}, true},
		{"nil", nil, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.filter.Validate(allowed)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}
