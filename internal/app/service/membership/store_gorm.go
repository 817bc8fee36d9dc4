package membership

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sparklehome/membership/internal/models"
	"github.com/sparklehome/membership/pkg/tool"
	"github.com/sparklehome/membership/pkg/types"
)

const pgUniqueViolation = "23505"

type gormStore struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

// RunInUserScope serialises writers per user with a transaction-scoped
// advisory lock, released on commit or rollback.
func (s *gormStore) RunInUserScope(ctx context.Context, userID string, fn func(ctx context.Context, tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", userID).Error; err != nil {
			return fmt.Errorf("failed to lock user %s: %w", userID, err)
		}
		return fn(ctx, &gormStore{db: tx})
	})
}

func (s *gormStore) first(ctx context.Context, q func(*gorm.DB) *gorm.DB) (*models.Membership, error) {
	var m models.Membership
	err := q(s.db.WithContext(ctx)).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *gormStore) FindByID(ctx context.Context, id string) (*models.Membership, error) {
	m, err := s.first(ctx, func(db *gorm.DB) *gorm.DB { return db.Where("id = ?", id) })
	if err != nil {
		return nil, fmt.Errorf("failed to load membership %s: %w", id, err)
	}
	return m, nil
}

func (s *gormStore) FindOpenByUser(ctx context.Context, userID string) (*models.Membership, error) {
	m, err := s.first(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Where("user_id = ? AND status NOT IN ?", userID, terminalStatuses).Order("start_date desc")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load open membership: %w", err)
	}
	return m, nil
}

func (s *gormStore) FindLatestByUser(ctx context.Context, userID string) (*models.Membership, error) {
	m, err := s.first(ctx, func(db *gorm.DB) *gorm.DB {
		return db.Where("user_id = ?", userID).Order("start_date desc")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load latest membership: %w", err)
	}
	return m, nil
}

func (s *gormStore) ListByUser(ctx context.Context, userID string) ([]*models.Membership, error) {
	var items []*models.Membership
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("start_date desc").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	return items, nil
}

func (s *gormStore) ListSweepCandidates(ctx context.Context, now time.Time, limit int) ([]*models.Membership, error) {
	var items []*models.Membership
	err := s.db.WithContext(ctx).
		Where("cancel_at_period_end = ? AND current_period_end <= ? AND status NOT IN ?", true, now, terminalStatuses).
		Order("current_period_end asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list sweep candidates: %w", err)
	}
	return items, nil
}

func (s *gormStore) ListAll(ctx context.Context) ([]*models.Membership, error) {
	var items []*models.Membership
	if err := s.db.WithContext(ctx).Order("start_date asc").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	return items, nil
}

// filtersAnd combines CommonFilters into a single clause.Expression.
type filtersAnd struct{ filters []*types.CommonFilter }

func (w filtersAnd) Build(builder clause.Builder) {
	if len(w.filters) == 0 {
		builder.WriteString("1=1")
		return
	}
	exprs := make([]clause.Expression, 0, len(w.filters))
	for _, f := range w.filters {
		exprs = append(exprs, f)
	}
	clause.And(exprs...).Build(builder)
}

func (s *gormStore) Scan(ctx context.Context, req *ScanRequest) (*ScanResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", ErrInvalidArgument)
	}
	if err := req.Normalize(); err != nil {
		return nil, err
	}

	tx := s.db.WithContext(ctx).Model(&models.Membership{})
	if len(req.Filters) > 0 {
		tx = tx.Where(clause.Where{Exprs: []clause.Expression{filtersAnd{filters: req.Filters}}})
	}

	var total int64
	if err := tx.Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count memberships: %w", err)
	}

	var rows []*models.Membership
	q := tx.Limit(req.Size).Offset(req.From).
		Order(clause.OrderBy{Columns: []clause.OrderByColumn{{Column: clause.Column{Name: req.SortBy}, Desc: req.SortOrder != "asc"}}})
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	return &ScanResponse{Items: rows, Total: total}, nil
}

func (s *gormStore) Create(ctx context.Context, m *models.Membership, entry LogEntry) error {
	if m.ID == "" {
		m.ID = tool.NewID()
	}
	if m.Version == 0 {
		m.Version = 1
	}
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: user %s", ErrConflict, m.UserID)
		}
		return fmt.Errorf("failed to create membership: %w", err)
	}
	return s.writeLog(ctx, nil, m, entry)
}

func (s *gormStore) Update(ctx context.Context, before, after *models.Membership, entry LogEntry) error {
	after.Version = before.Version + 1
	res := s.db.WithContext(ctx).Model(&models.Membership{}).
		Where("id = ? AND version = ?", before.ID, before.Version).
		Select("*").
		Omit("id", "user_id", "start_date", "created_at").
		Updates(after)
	if res.Error != nil {
		after.Version = before.Version
		if isUniqueViolation(res.Error) {
			return fmt.Errorf("%w: user %s", ErrConflict, before.UserID)
		}
		return fmt.Errorf("failed to update membership %s: %w", before.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		after.Version = before.Version
		return fmt.Errorf("%w: %s at version %d", ErrConcurrency, before.ID, before.Version)
	}
	return s.writeLog(ctx, before, after, entry)
}

func (s *gormStore) writeLog(ctx context.Context, before, after *models.Membership, entry LogEntry) error {
	log := &models.MembershipLog{
		ID:           tool.NewID(),
		MembershipID: after.ID,
		UserID:       after.UserID,
		Reason:       entry.Reason,
		OperatorID:   entry.OperatorID,
		TraceID:      entry.TraceID,
		Before:       datatypes.NewJSONType(before),
		After:        datatypes.NewJSONType(after),
	}
	if err := s.db.WithContext(ctx).Create(log).Error; err != nil {
		return fmt.Errorf("failed to save membership log: %w", err)
	}
	return nil
}

func (s *gormStore) FindBillingEvent(ctx context.Context, idempotencyKey string) (*models.BillingEvent, error) {
	var ev models.BillingEvent
	err := s.db.WithContext(ctx).Where("idempotency_key = ?", idempotencyKey).First(&ev).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load billing event: %w", err)
	}
	return &ev, nil
}

// SaveBillingEvent upserts on idempotency_key, keeping the stored payload.
func (s *gormStore) SaveBillingEvent(ctx context.Context, ev *models.BillingEvent) error {
	if ev.ID == "" {
		ev.ID = tool.NewID()
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idempotency_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "membership_id", "updated_at"}),
	}).Create(ev).Error
	if err != nil {
		return fmt.Errorf("failed to save billing event: %w", err)
	}
	return nil
}

var terminalStatuses = []types.MembershipStatus{types.MembershipStatusCancelled, types.MembershipStatusExpired}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}
