package statistics

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/sparklehome/membership/internal/models"
)

const snapshotBatchSize = 500

// SnapshotStore persists and aggregates daily membership snapshots.
type SnapshotStore interface {
	// DailyCounts groups snapshots in [from, to] by date and effective status.
	DailyCounts(ctx context.Context, from, to string) ([]DailyHistoryItem, error)
	Upsert(ctx context.Context, rows []*models.MembershipDailySnapshot) error
}

type gormSnapshotStore struct {
	db *gorm.DB
}

func NewSnapshotStore(db *gorm.DB) SnapshotStore {
	return &gormSnapshotStore{db: db}
}

func (s *gormSnapshotStore) DailyCounts(ctx context.Context, from, to string) ([]DailyHistoryItem, error) {
	var results []DailyHistoryItem
	q := s.db.WithContext(ctx).Table((models.MembershipDailySnapshot{}).TableName()).
		Select("snapshot_date as date, effective_status as label, count(*) as value").
		Where("snapshot_date >= ? AND snapshot_date <= ?", from, to).
		Group("snapshot_date").
		Group("effective_status").
		Order("snapshot_date").
		Order("effective_status")
	if err := q.Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (s *gormSnapshotStore) Upsert(ctx context.Context, rows []*models.MembershipDailySnapshot) error {
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "user_id"}, {Name: "snapshot_date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"membership_id", "tier", "effective_status", "discount_percentage",
			"current_period_end", "snapshot_created_at",
		}),
	}).CreateInBatches(rows, snapshotBatchSize).Error
}
