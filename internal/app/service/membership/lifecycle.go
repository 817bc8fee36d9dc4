package membership

import (
	"context"
	"fmt"
	"time"

	"gorm.io/datatypes"

	"github.com/sparklehome/membership/internal/models"
	"github.com/sparklehome/membership/pkg/logctx"
	"github.com/sparklehome/membership/pkg/tool"
	"github.com/sparklehome/membership/pkg/types"
)

// expireIfLapsed moves an open record that no longer grants anything to
// stored expired: either its cancellation took effect, or billing never
// recovered and the period (plus any grace) is over. It reports whether the
// record was expired.
func (s *Service) expireIfLapsed(ctx context.Context, u *scope, open *models.Membership, now time.Time) (bool, error) {
	ent := s.evaluator.Evaluate(open, now)
	reason := types.MembershipChangeReasonExpire
	switch {
	case ent.EffectiveStatus == types.EffectiveStatusExpired:
	case ent.DiscountPercentage == 0 && !now.Before(open.CurrentPeriodEnd) &&
		(ent.EffectiveStatus == types.EffectiveStatusPastDue || ent.EffectiveStatus == types.EffectiveStatusUnpaid):
		reason = types.MembershipChangeReasonPaymentLapsed
	default:
		return false, nil
	}
	after := open.Clone()
	after.Status = types.MembershipStatusExpired
	after.AutoRenewal = false
	end := open.CurrentPeriodEnd
	after.ExpiredAt = &end
	if err := u.update(ctx, open, after, reason, SystemOperator); err != nil {
		return false, err
	}
	return true, nil
}

// Subscribe starts a new membership on tier. With a payment confirmation the
// record starts active, otherwise trialing until billing confirms.
func (s *Service) Subscribe(ctx context.Context, userID, tier, paymentConfirmation string) (*models.Membership, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id required", ErrInvalidArgument)
	}
	plan, err := s.resolvePlan(tier)
	if err != nil {
		return nil, err
	}

	var created *models.Membership
	err = s.inUserScope(ctx, "subscribe", userID, func(ctx context.Context, u *scope) error {
		now := s.now()
		open, err := u.FindOpenByUser(ctx, userID)
		if err != nil {
			return err
		}
		if open != nil {
			expired, err := s.expireIfLapsed(ctx, u, open, now)
			if err != nil {
				return err
			}
			if !expired {
				return fmt.Errorf("%w: user %s has membership %s (%s)", ErrConflict, userID, open.ID, open.Status)
			}
		}

		m := &models.Membership{
			ID:               tool.NewID(),
			UserID:           userID,
			Tier:             plan.ID,
			Status:           types.MembershipStatusTrialing,
			StartDate:        now,
			CurrentPeriodEnd: now.AddDate(0, 0, plan.IntervalDays),
			AutoRenewal:      true,
			PlanSnapshot:     datatypes.NewJSONType(plan),
			Version:          1,
		}
		if paymentConfirmation != "" {
			m.Status = types.MembershipStatusActive
			ref := paymentConfirmation
			m.PaymentReference = &ref
		}
		if err := u.create(ctx, m, types.MembershipChangeReasonSubscribe, ""); err != nil {
			return err
		}
		created = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// CancelAtPeriodEnd stops renewal while keeping benefits until the period
// ends. Calling it again returns the record unchanged.
func (s *Service) CancelAtPeriodEnd(ctx context.Context, userID, reason string) (*models.Membership, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id required", ErrInvalidArgument)
	}
	var result *models.Membership
	err := s.inUserScope(ctx, "cancel_at_period_end", userID, func(ctx context.Context, u *scope) error {
		open, err := u.FindOpenByUser(ctx, userID)
		if err != nil {
			return err
		}
		if open == nil || s.evaluator.Evaluate(open, s.now()).EffectiveStatus.Terminal() {
			return fmt.Errorf("%w: no active membership for user %s", ErrNotFound, userID)
		}
		if open.CancelAtPeriodEnd {
			result = open
			return nil
		}
		after := open.Clone()
		after.CancelAtPeriodEnd = true
		after.AutoRenewal = false
		if reason != "" {
			r := reason
			after.CancellationReason = &r
		}
		if err := u.update(ctx, open, after, types.MembershipChangeReasonCancelAtPeriodEnd, ""); err != nil {
			return err
		}
		result = after
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Resume withdraws a pending cancel-at-period-end before the period ends.
func (s *Service) Resume(ctx context.Context, userID string) (*models.Membership, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id required", ErrInvalidArgument)
	}
	var result *models.Membership
	err := s.inUserScope(ctx, "resume", userID, func(ctx context.Context, u *scope) error {
		open, err := u.FindOpenByUser(ctx, userID)
		if err != nil {
			return err
		}
		if open == nil {
			return fmt.Errorf("%w: no active membership for user %s", ErrNotFound, userID)
		}
		if !open.CancelAtPeriodEnd {
			result = open
			return nil
		}
		if !s.now().Before(open.CurrentPeriodEnd) {
			return fmt.Errorf("%w: period of %s already ended", ErrState, open.ID)
		}
		after := open.Clone()
		after.CancelAtPeriodEnd = false
		after.CancellationReason = nil
		after.AutoRenewal = !open.IsAdminGrant()
		if err := u.update(ctx, open, after, types.MembershipChangeReasonResume, ""); err != nil {
			return err
		}
		result = after
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// AdminImmediateCancel ends the user's open membership now, with no grace.
func (s *Service) AdminImmediateCancel(ctx context.Context, userID, adminID string) (*models.Membership, error) {
	if userID == "" || adminID == "" {
		return nil, fmt.Errorf("%w: user_id and admin_id required", ErrInvalidArgument)
	}
	var result *models.Membership
	var lapsed string
	err := s.inUserScope(ctx, "admin_cancel", userID, func(ctx context.Context, u *scope) error {
		open, err := u.FindOpenByUser(ctx, userID)
		if err != nil {
			return err
		}
		if open == nil {
			return fmt.Errorf("%w: no open membership for user %s", ErrNotFound, userID)
		}
		now := s.now()
		expired, err := s.expireIfLapsed(ctx, u, open, now)
		if err != nil {
			return err
		}
		if expired {
			lapsed = open.ID
			return nil
		}
		admin := adminID
		after := open.Clone()
		after.Status = types.MembershipStatusCancelled
		after.AutoRenewal = false
		after.CancelledAt = &now
		after.CancelledBy = &admin
		if err := u.update(ctx, open, after, types.MembershipChangeReasonAdminCancel, adminID); err != nil {
			return err
		}
		result = after
		return nil
	})
	if err != nil {
		return nil, err
	}
	if lapsed != "" {
		return nil, fmt.Errorf("%w: membership %s of user %s already lapsed", ErrNotFound, lapsed, userID)
	}
	return result, nil
}

// AdminGrant gives the user a complimentary membership for durationDays. It
// is rejected while the user still has a membership that has not expired.
func (s *Service) AdminGrant(ctx context.Context, userID, tier string, durationDays int, adminID, notes string) (*models.Membership, error) {
	if userID == "" || adminID == "" {
		return nil, fmt.Errorf("%w: user_id and admin_id required", ErrInvalidArgument)
	}
	if durationDays <= 0 {
		return nil, fmt.Errorf("%w: duration_days must be positive", ErrInvalidArgument)
	}
	plan, err := s.resolvePlan(tier)
	if err != nil {
		return nil, err
	}

	var created *models.Membership
	err = s.inUserScope(ctx, "admin_grant", userID, func(ctx context.Context, u *scope) error {
		now := s.now()
		open, err := u.FindOpenByUser(ctx, userID)
		if err != nil {
			return err
		}
		if open != nil {
			expired, err := s.expireIfLapsed(ctx, u, open, now)
			if err != nil {
				return err
			}
			if !expired {
				return fmt.Errorf("%w: user %s has membership %s (%s), cancel it first", ErrConflict, userID, open.ID, open.Status)
			}
		}
		grant := datatypes.NewJSONType(models.AdminGrant{AdminID: adminID, Notes: notes, GrantedAt: now})
		m := &models.Membership{
			ID:               tool.NewID(),
			UserID:           userID,
			Tier:             plan.ID,
			Status:           types.MembershipStatusActive,
			StartDate:        now,
			CurrentPeriodEnd: now.AddDate(0, 0, durationDays),
			GrantedByAdmin:   &grant,
			PlanSnapshot:     datatypes.NewJSONType(plan),
			Version:          1,
		}
		if err := u.create(ctx, m, types.MembershipChangeReasonAdminGrant, adminID); err != nil {
			return err
		}
		created = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// loadForBilling resolves the owner of recordID so the billing operations can
// take the user's lock.
func (s *Service) loadForBilling(ctx context.Context, recordID string) (*models.Membership, error) {
	if recordID == "" {
		return nil, fmt.Errorf("%w: record_id required", ErrInvalidArgument)
	}
	m, err := s.store.FindByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, recordID)
	}
	return m, nil
}

// alreadyHandled reports whether the billing event with key was applied, and
// if so loads the record as it is now.
func alreadyHandled(ctx context.Context, u *scope, key, recordID string) (*models.Membership, bool, error) {
	if key == "" {
		return nil, false, nil
	}
	ev, err := u.FindBillingEvent(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if ev == nil || ev.Status != models.BillingEventStatusHandled {
		return nil, false, nil
	}
	cur, err := u.FindByID(ctx, recordID)
	if err != nil {
		return nil, false, err
	}
	return cur, true, nil
}

func markHandled(ctx context.Context, u *scope, key, recordID string, typ types.BillingEventType) error {
	if key == "" {
		return nil
	}
	return u.SaveBillingEvent(ctx, &models.BillingEvent{
		IdempotencyKey: key,
		Type:           typ,
		MembershipID:   recordID,
		TraceID:        logctx.TraceID(ctx),
		Status:         models.BillingEventStatusHandled,
	})
}

// Renew extends the record's period to newPeriodEnd after a successful
// charge. The period is never shortened and cancel_at_period_end is kept.
// Replaying an idempotency key returns the record without changes.
func (s *Service) Renew(ctx context.Context, recordID string, newPeriodEnd time.Time, idempotencyKey string) (*models.Membership, error) {
	rec, err := s.loadForBilling(ctx, recordID)
	if err != nil {
		return nil, err
	}

	var result *models.Membership
	err = s.inUserScope(ctx, "renew", rec.UserID, func(ctx context.Context, u *scope) error {
		cur, done, err := alreadyHandled(ctx, u, idempotencyKey, recordID)
		if err != nil {
			return err
		}
		if done {
			result = cur
			return nil
		}
		if cur, err = u.FindByID(ctx, recordID); err != nil {
			return err
		}
		if cur == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, recordID)
		}
		if eff := s.evaluator.Evaluate(cur, s.now()).EffectiveStatus; eff.Terminal() {
			return fmt.Errorf("%w: cannot renew %s membership %s", ErrState, eff, recordID)
		}
		if !newPeriodEnd.After(cur.StartDate) {
			return fmt.Errorf("%w: new period end %s is not after start %s", ErrState, newPeriodEnd.Format(time.RFC3339), cur.StartDate.Format(time.RFC3339))
		}

		result = cur
		if newPeriodEnd.After(cur.CurrentPeriodEnd) || cur.Status != types.MembershipStatusActive {
			after := cur.Clone()
			after.Status = types.MembershipStatusActive
			if newPeriodEnd.After(cur.CurrentPeriodEnd) {
				after.CurrentPeriodEnd = newPeriodEnd
			}
			if err := u.update(ctx, cur, after, types.MembershipChangeReasonRenew, SystemOperator); err != nil {
				return err
			}
			result = after
		}
		return markHandled(ctx, u, idempotencyKey, recordID, types.BillingEventTypePaymentSucceeded)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// MarkPaymentFailed moves the record to past_due after a failed charge.
func (s *Service) MarkPaymentFailed(ctx context.Context, recordID, idempotencyKey string) (*models.Membership, error) {
	rec, err := s.loadForBilling(ctx, recordID)
	if err != nil {
		return nil, err
	}

	var result *models.Membership
	err = s.inUserScope(ctx, "payment_failed", rec.UserID, func(ctx context.Context, u *scope) error {
		cur, done, err := alreadyHandled(ctx, u, idempotencyKey, recordID)
		if err != nil {
			return err
		}
		if done {
			result = cur
			return nil
		}
		if cur, err = u.FindByID(ctx, recordID); err != nil {
			return err
		}
		if cur == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, recordID)
		}
		if cur.Status.Terminal() {
			return fmt.Errorf("%w: membership %s is %s", ErrState, recordID, cur.Status)
		}

		result = cur
		if cur.Status != types.MembershipStatusPastDue {
			after := cur.Clone()
			after.Status = types.MembershipStatusPastDue
			if err := u.update(ctx, cur, after, types.MembershipChangeReasonPaymentFailed, SystemOperator); err != nil {
				return err
			}
			result = after
		}
		return markHandled(ctx, u, idempotencyKey, recordID, types.BillingEventTypePaymentFailed)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
