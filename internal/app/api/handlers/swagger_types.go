package handlers

import (
	"github.com/sparklehome/membership/internal/app/service/membership"
	"github.com/sparklehome/membership/internal/app/service/pricing"
	"github.com/sparklehome/membership/internal/app/service/savings"
	"github.com/sparklehome/membership/internal/app/service/statistics"
	"github.com/sparklehome/membership/internal/models"
	"github.com/sparklehome/membership/pkg/response"
	"github.com/sparklehome/membership/pkg/types"
)

// The Resp* types exist only so swag can render concrete envelopes.

type RespOK struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    interface{}              `json:"data"`
}

type RespMembership struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    models.Membership        `json:"data"`
}

type RespCurrentMembership struct {
	Code    response.APIResponseCode  `json:"code"`
	Message string                    `json:"message"`
	Data    CurrentMembershipResponse `json:"data"`
}

type RespPlans struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    []types.Plan             `json:"data"`
}

type RespSavings struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    savings.Savings          `json:"data"`
}

type RespAnalytics struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    statistics.Analytics     `json:"data"`
}

type RespListMemberships struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    membership.ScanResponse  `json:"data"`
}

type RespSweep struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    membership.SweepResult   `json:"data"`
}

type RespDiscount struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    DiscountResponse         `json:"data"`
}

type RespQuote struct {
	Code    response.APIResponseCode `json:"code"`
	Message string                   `json:"message"`
	Data    pricing.Quote            `json:"data"`
}
