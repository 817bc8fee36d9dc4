package membership

import (
	"context"
	"time"

	"github.com/sparklehome/membership/pkg/logctx"
	"github.com/sparklehome/membership/pkg/types"
)

type SweepResult struct {
	Scanned int `json:"scanned"`
	Expired int `json:"expired"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// Sweep moves records that were cancelled at period end and whose period has
// ended to stored expired. Each record is re-read under its user's lock, so
// running Sweep concurrently with user actions or with itself is safe. A
// failing record is logged and skipped.
func (s *Service) Sweep(ctx context.Context, now time.Time) (*SweepResult, error) {
	start := time.Now()
	log := logctx.FromCtx(ctx, s.log)
	res := &SweepResult{}
	seen := make(map[string]struct{})

	for {
		if err := ctx.Err(); err != nil {
			s.metrics.ObserveOp("sweep", start, err)
			return res, err
		}
		batch, err := s.store.ListSweepCandidates(ctx, now, s.sweepBatchSize)
		if err != nil {
			s.metrics.ObserveOp("sweep", start, err)
			return res, err
		}
		progressed := 0
		for _, c := range batch {
			if _, ok := seen[c.ID]; ok {
				continue
			}
			seen[c.ID] = struct{}{}
			res.Scanned++
			expired, err := s.expireOne(ctx, c.UserID, c.ID, now)
			switch {
			case err != nil:
				res.Failed++
				log.Errorw("sweep failed to expire membership", "membership_id", c.ID, "user_id", c.UserID, "error", err)
			case expired:
				res.Expired++
				progressed++
			default:
				res.Skipped++
			}
		}
		if len(batch) < s.sweepBatchSize || progressed == 0 {
			break
		}
	}

	s.metrics.ObserveSweep(res.Expired, res.Skipped, res.Failed)
	s.metrics.ObserveOp("sweep", start, nil)
	log.Infow("sweep finished", "scanned", res.Scanned, "expired", res.Expired, "skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

func (s *Service) expireOne(ctx context.Context, userID, recordID string, now time.Time) (bool, error) {
	expired := false
	var u *scope
	err := s.store.RunInUserScope(ctx, userID, func(ctx context.Context, tx Store) error {
		u = &scope{Store: tx}
		cur, err := u.FindByID(ctx, recordID)
		if err != nil || cur == nil {
			return err
		}
		if !cur.Open() || !cur.CancelAtPeriodEnd || now.Before(cur.CurrentPeriodEnd) {
			return nil
		}
		after := cur.Clone()
		after.Status = types.MembershipStatusExpired
		end := cur.CurrentPeriodEnd
		after.ExpiredAt = &end
		if err := u.update(ctx, cur, after, types.MembershipChangeReasonExpire, SystemOperator); err != nil {
			return err
		}
		expired = true
		return nil
	})
	if err != nil {
		return false, err
	}
	s.publish(ctx, u.changes)
	return expired, nil
}
