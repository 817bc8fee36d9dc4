package membership

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sparklehome/membership/internal/app/service/catalog"
	"github.com/sparklehome/membership/internal/app/service/entitlement"
	"github.com/sparklehome/membership/internal/app/service/events"
	"github.com/sparklehome/membership/internal/models"
	"github.com/sparklehome/membership/pkg/config"
	"github.com/sparklehome/membership/pkg/logctx"
	"github.com/sparklehome/membership/pkg/metrics"
	"github.com/sparklehome/membership/pkg/tool"
	"github.com/sparklehome/membership/pkg/types"
)

// SystemOperator is recorded as the operator of changes made by the service
// itself, such as sweep expiries.
const SystemOperator = "system"

const defaultSweepBatchSize = 500

// Service implements the membership lifecycle operations. All mutations of a
// user's records are serialised through Store.RunInUserScope.
type Service struct {
	store     Store
	catalog   *catalog.Catalog
	evaluator *entitlement.Evaluator
	publisher events.Publisher
	metrics   *metrics.Business
	log       *zap.SugaredLogger

	sweepBatchSize int
	now            func() time.Time
}

func NewService(
	cfg *config.Config,
	store Store,
	cat *catalog.Catalog,
	evaluator *entitlement.Evaluator,
	publisher events.Publisher,
	m *metrics.Business,
	log *zap.SugaredLogger,
) *Service {
	batch := defaultSweepBatchSize
	if cfg != nil && cfg.Jobs.SweepBatchSize > 0 {
		batch = cfg.Jobs.SweepBatchSize
	}
	return &Service{
		store:          store,
		catalog:        cat,
		evaluator:      evaluator,
		publisher:      publisher,
		metrics:        m,
		log:            log,
		sweepBatchSize: batch,
		now:            time.Now,
	}
}

func (s *Service) Catalog() *catalog.Catalog { return s.catalog }

func (s *Service) Evaluator() *entitlement.Evaluator { return s.evaluator }

// change is one committed mutation waiting to be published.
type change struct {
	entry LogEntry
	after *models.Membership
}

// scope wraps the transactional Store handed out by RunInUserScope and
// collects the changes made through it.
type scope struct {
	Store
	changes []change
}

func (u *scope) create(ctx context.Context, m *models.Membership, reason types.MembershipChangeReason, operatorID string) error {
	if err := m.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	entry := LogEntry{Reason: reason, OperatorID: operatorID, TraceID: logctx.TraceID(ctx)}
	if err := u.Create(ctx, m, entry); err != nil {
		return err
	}
	u.changes = append(u.changes, change{entry: entry, after: m.Clone()})
	return nil
}

func (u *scope) update(ctx context.Context, before, after *models.Membership, reason types.MembershipChangeReason, operatorID string) error {
	if err := after.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	entry := LogEntry{Reason: reason, OperatorID: operatorID, TraceID: logctx.TraceID(ctx)}
	if err := u.Update(ctx, before, after, entry); err != nil {
		return err
	}
	u.changes = append(u.changes, change{entry: entry, after: after.Clone()})
	return nil
}

// inUserScope runs fn under the user's lock, records the operation metric and
// publishes the collected changes once the scope has committed.
func (s *Service) inUserScope(ctx context.Context, op, userID string, fn func(ctx context.Context, u *scope) error) error {
	start := time.Now()
	var u *scope
	err := s.store.RunInUserScope(ctx, userID, func(ctx context.Context, tx Store) error {
		u = &scope{Store: tx}
		return fn(ctx, u)
	})
	s.metrics.ObserveOp(op, start, err)
	if err != nil {
		logctx.FromCtx(ctx, s.log).Warnw("membership operation failed", "op", op, "user_id", userID, "error", err)
		return err
	}
	s.publish(ctx, u.changes)
	return nil
}

func (s *Service) publish(ctx context.Context, changes []change) {
	log := logctx.FromCtx(ctx, s.log)
	for _, c := range changes {
		log.Infow("membership changed",
			"membership_id", c.after.ID,
			"user_id", c.after.UserID,
			"reason", c.entry.Reason,
			"status", c.after.Status,
			"operator_id", c.entry.OperatorID,
		)
		if s.publisher == nil {
			continue
		}
		ev := &events.MembershipEvent{
			ID:                tool.NewID(),
			Reason:            c.entry.Reason,
			MembershipID:      c.after.ID,
			UserID:            c.after.UserID,
			Tier:              c.after.Tier,
			Status:            c.after.Status,
			CurrentPeriodEnd:  c.after.CurrentPeriodEnd,
			CancelAtPeriodEnd: c.after.CancelAtPeriodEnd,
			OperatorID:        c.entry.OperatorID,
			TraceID:           c.entry.TraceID,
			OccurredAt:        s.now(),
		}
		if err := s.publisher.Publish(ctx, ev); err != nil {
			log.Errorw("failed to publish membership event", "routing_key", ev.RoutingKey(), "membership_id", ev.MembershipID, "error", err)
		}
	}
}

func (s *Service) resolvePlan(tier string) (*types.Plan, error) {
	t, err := types.ParseTier(tier)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTier, err)
	}
	plan, ok := s.catalog.Get(t)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not offered", ErrInvalidTier, t)
	}
	return plan, nil
}

// GetCurrent returns the user's open record, else the most recent one, else nil.
func (s *Service) GetCurrent(ctx context.Context, userID string) (*models.Membership, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id required", ErrInvalidArgument)
	}
	m, err := s.store.FindOpenByUser(ctx, userID)
	if err != nil || m != nil {
		return m, err
	}
	return s.store.FindLatestByUser(ctx, userID)
}

// CurrentEntitlement evaluates the user's current record at now.
func (s *Service) CurrentEntitlement(ctx context.Context, userID string, now time.Time) (*models.Membership, entitlement.Entitlement, error) {
	m, err := s.GetCurrent(ctx, userID)
	if err != nil {
		return nil, entitlement.Entitlement{}, err
	}
	return m, s.evaluator.Evaluate(m, now), nil
}

func (s *Service) History(ctx context.Context, userID string) ([]*models.Membership, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id required", ErrInvalidArgument)
	}
	return s.store.ListByUser(ctx, userID)
}

func (s *Service) List(ctx context.Context, req *ScanRequest) (*ScanResponse, error) {
	return s.store.Scan(ctx, req)
}
