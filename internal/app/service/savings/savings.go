package savings

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/sparklehome/membership/internal/app/service/membership"
	"github.com/sparklehome/membership/internal/models"
	"github.com/sparklehome/membership/pkg/config"
	"github.com/sparklehome/membership/pkg/logctx"
	"github.com/sparklehome/membership/pkg/types"
)

// BookingHistory is the booking service's view of a user's bookings.
type BookingHistory interface {
	// ListCompletedBookings returns completed bookings booked in [from, to).
	ListCompletedBookings(ctx context.Context, userID string, from, to time.Time) ([]*models.Booking, error)
}

// RecordSource lists a user's membership records, newest first.
type RecordSource interface {
	ListByUser(ctx context.Context, userID string) ([]*models.Membership, error)
}

type Savings struct {
	TotalBookings       int    `json:"total_bookings"`
	TotalDiscountAmount int64  `json:"total_discount_amount"`
	AvgDiscount         int64  `json:"avg_discount"`
	Currency            string `json:"currency,omitempty"`
}

type window struct {
	start, end time.Time
}

func (w window) contains(t time.Time) bool {
	return !t.Before(w.start) && t.Before(w.end)
}

type Service struct {
	records  RecordSource
	bookings BookingHistory
	grace    time.Duration
	log      *zap.SugaredLogger
	now      func() time.Time
}

func New(records RecordSource, bookings BookingHistory, grace time.Duration, log *zap.SugaredLogger) *Service {
	return &Service{records: records, bookings: bookings, grace: grace, log: log, now: time.Now}
}

func NewFromConfig(cfg *config.Config, store membership.Store, bookings BookingHistory, log *zap.SugaredLogger) *Service {
	return New(store, bookings, cfg.Entitlement.PastDueGrace, log)
}

// ComputeSavings totals the discount on completed bookings made while the
// user was a member. With sinceRecordStart only the current record counts.
func (s *Service) ComputeSavings(ctx context.Context, userID string, sinceRecordStart bool) (*Savings, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id required", membership.ErrInvalidArgument)
	}
	records, err := s.records.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load memberships: %w", err)
	}
	if sinceRecordStart && len(records) > 1 {
		records = records[:1]
	}

	windows := s.windows(records, s.now())
	if len(windows) == 0 {
		return &Savings{}, nil
	}

	to := windows[0].end
	for _, w := range windows[1:] {
		if w.end.After(to) {
			to = w.end
		}
	}
	bookings, err := s.bookings.ListCompletedBookings(ctx, userID, windows[0].start, to)
	if err != nil {
		return nil, fmt.Errorf("failed to load bookings: %w", err)
	}
	return s.aggregate(ctx, bookings, windows), nil
}

// windows returns the periods in which each record granted benefits, sorted
// by start and clipped to now.
func (s *Service) windows(records []*models.Membership, now time.Time) []window {
	out := make([]window, 0, len(records))
	for _, m := range records {
		end := m.CurrentPeriodEnd
		switch m.Status {
		case types.MembershipStatusCancelled:
			if m.CancelledAt != nil && m.CancelledAt.Before(end) {
				end = *m.CancelledAt
			}
		case types.MembershipStatusExpired:
			if m.ExpiredAt != nil && m.ExpiredAt.Before(end) {
				end = *m.ExpiredAt
			}
		case types.MembershipStatusUnpaid:
			continue
		default:
			if !m.CancelAtPeriodEnd && !now.Before(end) {
				end = end.Add(s.grace)
			}
		}
		if end.After(now) {
			end = now
		}
		if !end.After(m.StartDate) {
			continue
		}
		out = append(out, window{start: m.StartDate, end: end})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].start.Before(out[j].start) })
	return out
}

func (s *Service) aggregate(ctx context.Context, bookings []*models.Booking, windows []window) *Savings {
	res := &Savings{}
	seen := make(map[string]struct{}, len(bookings))
	for _, b := range bookings {
		if b.Status != models.BookingStatusCompleted {
			continue
		}
		if _, dup := seen[b.ID]; dup {
			continue
		}
		inWindow := false
		for _, w := range windows {
			if w.contains(b.BookedAt) {
				inWindow = true
				break
			}
		}
		if !inWindow {
			continue
		}
		if res.Currency == "" {
			res.Currency = b.Currency
		} else if b.Currency != res.Currency {
			logctx.FromCtx(ctx, s.log).Warnw("skipping booking in a different currency", "booking_id", b.ID, "currency", b.Currency, "expected", res.Currency)
			continue
		}
		seen[b.ID] = struct{}{}
		res.TotalBookings++
		res.TotalDiscountAmount += b.Discount()
	}
	res.AvgDiscount = average(res.TotalDiscountAmount, res.TotalBookings)
	return res
}

// average rounds half up and returns 0 for no bookings.
func average(total int64, n int) int64 {
	if n == 0 {
		return 0
	}
	return (total*2 + int64(n)) / (int64(n) * 2)
}

type gormBookingHistory struct {
	db *gorm.DB
}

func NewBookingHistory(db *gorm.DB) BookingHistory {
	return &gormBookingHistory{db: db}
}

func (h *gormBookingHistory) ListCompletedBookings(ctx context.Context, userID string, from, to time.Time) ([]*models.Booking, error) {
	var rows []*models.Booking
	err := h.db.WithContext(ctx).
		Where("user_id = ? AND status = ? AND booked_at >= ? AND booked_at < ?", userID, models.BookingStatusCompleted, from, to).
		Order("booked_at asc").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

var Module = fx.Options(
	fx.Provide(NewBookingHistory, NewFromConfig),
)
