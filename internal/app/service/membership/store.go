package membership

import (
	"context"
	"fmt"
	"time"

	"github.com/sparklehome/membership/internal/models"
	"github.com/sparklehome/membership/pkg/types"
)

// LogEntry describes why a record changed. It is written to membership_log
// alongside every mutation.
type LogEntry struct {
	Reason     types.MembershipChangeReason
	OperatorID string
	TraceID    string
}

// Store persists membership records. Find methods return (nil, nil) when
// nothing matches.
type Store interface {
	// RunInUserScope runs fn with exclusive access to userID's records. Every
	// write made through the Store handed to fn commits or rolls back together.
	RunInUserScope(ctx context.Context, userID string, fn func(ctx context.Context, tx Store) error) error

	FindByID(ctx context.Context, id string) (*models.Membership, error)
	// FindOpenByUser returns the record whose stored status is not terminal.
	FindOpenByUser(ctx context.Context, userID string) (*models.Membership, error)
	FindLatestByUser(ctx context.Context, userID string) (*models.Membership, error)
	// ListByUser returns all records of userID, newest first.
	ListByUser(ctx context.Context, userID string) ([]*models.Membership, error)
	// ListSweepCandidates returns open records flagged cancel_at_period_end
	// whose period ended at or before now, oldest period end first.
	ListSweepCandidates(ctx context.Context, now time.Time, limit int) ([]*models.Membership, error)
	ListAll(ctx context.Context) ([]*models.Membership, error)
	Scan(ctx context.Context, req *ScanRequest) (*ScanResponse, error)

	// Create inserts m. It returns ErrConflict when the user already has an
	// open record.
	Create(ctx context.Context, m *models.Membership, entry LogEntry) error
	// Update writes after over before, bumping the version. It returns
	// ErrConcurrency when before is stale.
	Update(ctx context.Context, before, after *models.Membership, entry LogEntry) error

	FindBillingEvent(ctx context.Context, idempotencyKey string) (*models.BillingEvent, error)
	SaveBillingEvent(ctx context.Context, ev *models.BillingEvent) error
}

// ScanRequest is the admin list query.
type ScanRequest struct {
	Filters   []*types.CommonFilter `json:"filters"`
	From      int                   `json:"from"`
	Size      int                   `json:"size"`
	SortBy    string                `json:"sort_by"`
	SortOrder string                `json:"sort_order"`
}

type ScanResponse struct {
	Items []*models.Membership `json:"items"`
	Total int64                `json:"total"`
}

const (
	defaultScanSize = 10
	maxScanSize     = 200
)

var scanColumns = []string{
	"id", "user_id", "tier", "status", "start_date", "current_period_end",
	"cancel_at_period_end", "auto_renewal", "created_at", "updated_at",
}

// Normalize applies paging defaults and rejects filters or sort columns
// outside the membership table.
func (r *ScanRequest) Normalize() error {
	if r.Size <= 0 {
		r.Size = defaultScanSize
	}
	if r.Size > maxScanSize {
		r.Size = maxScanSize
	}
	if r.From < 0 {
		r.From = 0
	}
	for _, f := range r.Filters {
		if err := f.Validate(scanColumns); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
	}
	if r.SortBy == "" {
		r.SortBy = "created_at"
	}
	valid := false
	for _, c := range scanColumns {
		if c == r.SortBy {
			valid = true
			break
		}
	}
	if !valid {
		return fmt.Errorf("%w: cannot sort by %q", ErrInvalidArgument, r.SortBy)
	}
	if r.SortOrder != "asc" {
		r.SortOrder = "desc"
	}
	return nil
}
