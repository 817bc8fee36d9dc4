package membership

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sparklehome/membership/internal/models"
	"github.com/sparklehome/membership/pkg/tool"
)

// memStore is an in-memory Store with the same locking, versioning and
// open-record uniqueness rules as the Postgres store.
type memStore struct {
	mu      sync.Mutex
	records map[string]*models.Membership
	billing map[string]*models.BillingEvent
	logs    []LogEntry

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	// failUpdate, when set, is consulted before every update.
	failUpdate func(before *models.Membership) error
}

func newMemStore() *memStore {
	return &memStore{
		records: make(map[string]*models.Membership),
		billing: make(map[string]*models.BillingEvent),
		locks:   make(map[string]*sync.Mutex),
	}
}

func (s *memStore) userLock(userID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	return l
}

func (s *memStore) RunInUserScope(ctx context.Context, userID string, fn func(ctx context.Context, tx Store) error) error {
	l := s.userLock(userID)
	l.Lock()
	defer l.Unlock()
	tx := &memTx{memStore: s}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// put stores m directly, bypassing the rules. Used to seed fixtures.
func (s *memStore) put(m *models.Membership) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.Version == 0 {
		m.Version = 1
	}
	s.records[m.ID] = m.Clone()
}

func (s *memStore) get(id string) *models.Membership {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id].Clone()
}

func (s *memStore) logCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.logs)
}

func (s *memStore) FindByID(ctx context.Context, id string) (*models.Membership, error) {
	return s.get(id), nil
}

func (s *memStore) userRecords(userID string) []*models.Membership {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Membership
	for _, m := range s.records {
		if m.UserID == userID {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.After(out[j].StartDate) })
	return out
}

func (s *memStore) FindOpenByUser(ctx context.Context, userID string) (*models.Membership, error) {
	for _, m := range s.userRecords(userID) {
		if m.Open() {
			return m, nil
		}
	}
	return nil, nil
}

func (s *memStore) FindLatestByUser(ctx context.Context, userID string) (*models.Membership, error) {
	recs := s.userRecords(userID)
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

func (s *memStore) ListByUser(ctx context.Context, userID string) ([]*models.Membership, error) {
	return s.userRecords(userID), nil
}

func (s *memStore) ListSweepCandidates(ctx context.Context, now time.Time, limit int) ([]*models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Membership
	for _, m := range s.records {
		if m.Open() && m.CancelAtPeriodEnd && !m.CurrentPeriodEnd.After(now) {
			out = append(out, m.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CurrentPeriodEnd.Before(out[j].CurrentPeriodEnd) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) ListAll(ctx context.Context) ([]*models.Membership, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.Membership, 0, len(s.records))
	for _, m := range s.records {
		out = append(out, m.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartDate.Before(out[j].StartDate) })
	return out, nil
}

func (s *memStore) Scan(ctx context.Context, req *ScanRequest) (*ScanResponse, error) {
	if err := req.Normalize(); err != nil {
		return nil, err
	}
	all, _ := s.ListAll(ctx)
	return &ScanResponse{Items: all, Total: int64(len(all))}, nil
}

func (s *memStore) Create(ctx context.Context, m *models.Membership, entry LogEntry) error {
	return fmt.Errorf("writes must go through RunInUserScope")
}

func (s *memStore) Update(ctx context.Context, before, after *models.Membership, entry LogEntry) error {
	return fmt.Errorf("writes must go through RunInUserScope")
}

func (s *memStore) FindBillingEvent(ctx context.Context, key string) (*models.BillingEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.billing[key]
	if !ok {
		return nil, nil
	}
	cp := *ev
	return &cp, nil
}

func (s *memStore) SaveBillingEvent(ctx context.Context, ev *models.BillingEvent) error {
	return fmt.Errorf("writes must go through RunInUserScope")
}

// memTx journals undo steps so a failed scope leaves no trace.
type memTx struct {
	*memStore
	undo []func()
}

func (t *memTx) RunInUserScope(ctx context.Context, userID string, fn func(ctx context.Context, tx Store) error) error {
	return fn(ctx, t)
}

func (t *memTx) rollback() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
}

func (t *memTx) hasOtherOpen(userID, exceptID string) bool {
	for id, m := range t.records {
		if id != exceptID && m.UserID == userID && m.Open() {
			return true
		}
	}
	return false
}

func (t *memTx) Create(ctx context.Context, m *models.Membership, entry LogEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m.ID == "" {
		m.ID = tool.NewID()
	}
	if m.Version == 0 {
		m.Version = 1
	}
	if m.Open() && t.hasOtherOpen(m.UserID, m.ID) {
		return fmt.Errorf("%w: user %s", ErrConflict, m.UserID)
	}
	id := m.ID
	t.records[id] = m.Clone()
	t.logs = append(t.logs, entry)
	n := len(t.logs)
	t.undo = append(t.undo, func() {
		delete(t.records, id)
		t.logs = t.logs[:n-1]
	})
	return nil
}

func (t *memTx) Update(ctx context.Context, before, after *models.Membership, entry LogEntry) error {
	if t.failUpdate != nil {
		if err := t.failUpdate(before); err != nil {
			return err
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	cur, ok := t.records[before.ID]
	if !ok || cur.Version != before.Version {
		return fmt.Errorf("%w: %s at version %d", ErrConcurrency, before.ID, before.Version)
	}
	if after.Open() && t.hasOtherOpen(after.UserID, after.ID) {
		return fmt.Errorf("%w: user %s", ErrConflict, after.UserID)
	}
	after.Version = before.Version + 1
	prev := cur
	t.records[after.ID] = after.Clone()
	t.logs = append(t.logs, entry)
	n := len(t.logs)
	t.undo = append(t.undo, func() {
		t.records[prev.ID] = prev
		t.logs = t.logs[:n-1]
	})
	return nil
}

func (t *memTx) SaveBillingEvent(ctx context.Context, ev *models.BillingEvent) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	key := ev.IdempotencyKey
	prev, existed := t.billing[key]
	cp := *ev
	t.billing[key] = &cp
	t.undo = append(t.undo, func() {
		if existed {
			t.billing[key] = prev
		} else {
			delete(t.billing, key)
		}
	})
	return nil
}
