package pricing

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/fx"

	"github.com/sparklehome/membership/internal/app/service/entitlement"
	"github.com/sparklehome/membership/internal/app/service/membership"
	"github.com/sparklehome/membership/internal/models"
)

// CurrentRecord loads the record the user's entitlement is evaluated from.
type CurrentRecord interface {
	GetCurrent(ctx context.Context, userID string) (*models.Membership, error)
}

type Quote struct {
	RegularPrice       int64 `json:"regular_price"`
	MemberPrice        int64 `json:"member_price"`
	DiscountPercentage int   `json:"discount_percentage"`
}

// Service answers checkout-time discount questions for the booking service.
// It never looks at the stored status; the evaluator decides.
type Service struct {
	records   CurrentRecord
	evaluator *entitlement.Evaluator
}

func New(records CurrentRecord, evaluator *entitlement.Evaluator) *Service {
	return &Service{records: records, evaluator: evaluator}
}

func NewFromMembership(svc *membership.Service) *Service {
	return New(svc, svc.Evaluator())
}

func (s *Service) GetDiscountForUser(ctx context.Context, userID string, now time.Time) (int, error) {
	m, err := s.records.GetCurrent(ctx, userID)
	if err != nil {
		return 0, err
	}
	return s.evaluator.Evaluate(m, now).DiscountPercentage, nil
}

func (s *Service) Quote(ctx context.Context, userID string, regularPrice int64, now time.Time) (*Quote, error) {
	if regularPrice < 0 {
		return nil, fmt.Errorf("%w: regular_price must not be negative", membership.ErrInvalidArgument)
	}
	pct, err := s.GetDiscountForUser(ctx, userID, now)
	if err != nil {
		return nil, err
	}
	return &Quote{
		RegularPrice:       regularPrice,
		MemberPrice:        entitlement.ApplyDiscount(regularPrice, pct),
		DiscountPercentage: pct,
	}, nil
}

var Module = fx.Options(
	fx.Provide(NewFromMembership),
)
