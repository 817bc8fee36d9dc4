package savings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sparklehome/membership/internal/app/service/membership"
	"github.com/sparklehome/membership/internal/models"
	"github.com/sparklehome/membership/pkg/types"
)

const day = 24 * time.Hour

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

type stubRecords struct {
	items []*models.Membership
	err   error
}

func (s stubRecords) ListByUser(ctx context.Context, userID string) ([]*models.Membership, error) {
	return s.items, s.err
}

type stubBookings struct {
	items    []*models.Booking
	from, to time.Time
	calls    int
}

func (s *stubBookings) ListCompletedBookings(ctx context.Context, userID string, from, to time.Time) ([]*models.Booking, error) {
	s.calls++
	s.from, s.to = from, to
	return s.items, nil
}

func booking(id string, at time.Time, regular, member int64) *models.Booking {
	return &models.Booking{
		ID: id, UserID: "user-1", BookedAt: at, RegularPrice: regular, MemberPrice: member,
		Currency: "USD", Status: models.BookingStatusCompleted,
	}
}

func newService(records []*models.Membership, bookings *stubBookings, now time.Time) *Service {
	s := New(stubRecords{items: records}, bookings, 0, zap.NewNop().Sugar())
	s.now = func() time.Time { return now }
	return s
}

// Scenario D
func TestComputeSavings_NoBookingsReturnsZeros(t *testing.T) {
	records := []*models.Membership{{
		ID: "m-1", UserID: "user-1", Status: types.MembershipStatusActive,
		StartDate: t0, CurrentPeriodEnd: t0.Add(30 * day),
	}}
	s := newService(records, &stubBookings{}, t0.Add(10*day))

	res, err := s.ComputeSavings(context.Background(), "user-1", false)
	require.NoError(t, err)
	require.Equal(t, &Savings{}, res)
}

func TestComputeSavings_NoMembershipSkipsBookingLookup(t *testing.T) {
	bookings := &stubBookings{}
	s := newService(nil, bookings, t0)

	res, err := s.ComputeSavings(context.Background(), "user-1", false)
	require.NoError(t, err)
	require.Equal(t, &Savings{}, res)
	require.Zero(t, bookings.calls)
}

func TestComputeSavings_CountsOnlyMemberWindows(t *testing.T) {
	cancelledAt := t0.Add(10 * day)
	records := []*models.Membership{
		{
			ID: "current", Status: types.MembershipStatusActive,
			StartDate: t0.Add(60 * day), CurrentPeriodEnd: t0.Add(90 * day),
		},
		{
			ID: "old", Status: types.MembershipStatusCancelled, CancelledAt: &cancelledAt,
			StartDate: t0, CurrentPeriodEnd: t0.Add(30 * day),
		},
	}
	bookings := &stubBookings{items: []*models.Booking{
		booking("b1", t0.Add(2*day), 10000, 5000),   // old window
		booking("b2", t0.Add(20*day), 10000, 10000), // after admin cancel
		booking("b3", t0.Add(61*day), 8001, 4000),   // current window
		booking("b3", t0.Add(61*day), 8001, 4000),   // duplicate row
		{ID: "b4", BookedAt: t0.Add(62 * day), RegularPrice: 5000, MemberPrice: 2500, Currency: "USD", Status: models.BookingStatusCancelled},
	}}
	s := newService(records, bookings, t0.Add(70*day))

	res, err := s.ComputeSavings(context.Background(), "user-1", false)
	require.NoError(t, err)
	require.Equal(t, 2, res.TotalBookings)
	require.Equal(t, int64(5000+4001), res.TotalDiscountAmount)
	require.Equal(t, int64(4501), res.AvgDiscount) // 4500.5 rounds up
	require.Equal(t, "USD", res.Currency)
	require.Equal(t, t0, bookings.from)
	require.Equal(t, t0.Add(70*day), bookings.to)

	res, err = s.ComputeSavings(context.Background(), "user-1", true)
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalBookings)
	require.Equal(t, int64(4001), res.TotalDiscountAmount)
	require.Equal(t, t0.Add(60*day), bookings.from)
}

func TestComputeSavings_PastDueGraceExtendsWindow(t *testing.T) {
	records := []*models.Membership{{
		ID: "m-1", Status: types.MembershipStatusActive, AutoRenewal: true,
		StartDate: t0, CurrentPeriodEnd: t0.Add(30 * day),
	}}
	bookings := &stubBookings{items: []*models.Booking{booking("b1", t0.Add(31*day), 1000, 500)}}

	s := newService(records, bookings, t0.Add(40*day))
	res, err := s.ComputeSavings(context.Background(), "user-1", false)
	require.NoError(t, err)
	require.Zero(t, res.TotalBookings)

	s.grace = 3 * day
	res, err = s.ComputeSavings(context.Background(), "user-1", false)
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalBookings)
}

func TestComputeSavings_Errors(t *testing.T) {
	s := New(stubRecords{err: errors.New("db down")}, &stubBookings{}, 0, zap.NewNop().Sugar())
	_, err := s.ComputeSavings(context.Background(), "user-1", false)
	require.ErrorContains(t, err, "db down")

	_, err = s.ComputeSavings(context.Background(), "", false)
	require.ErrorIs(t, err, membership.ErrInvalidArgument)
}

func TestAverage(t *testing.T) {
	require.Zero(t, average(100, 0))
	require.Equal(t, int64(3), average(5, 2))
	require.Equal(t, int64(3), average(9, 3))
	require.Equal(t, int64(1), average(4, 3))
}
