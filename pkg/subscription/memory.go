package subscription

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemorySubscriptionStore is an in-memory SubscriptionStore for tests
// and single-process deployments.
type MemorySubscriptionStore struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]*Subscription
}

// NewMemorySubscriptionStore creates an empty in-memory store.
func NewMemorySubscriptionStore() *MemorySubscriptionStore {
	return &MemorySubscriptionStore{subs: make(map[uuid.UUID]*Subscription)}
}

func (s *MemorySubscriptionStore) Get(_ context.Context, id uuid.UUID) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subs[id]
	if !ok {
		return nil, ErrSubscriptionNotFound
	}
	return copySubscription(sub), nil
}

func (s *MemorySubscriptionStore) GetByCustomerID(_ context.Context, customerID uuid.UUID) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subs {
		if sub.CustomerID == customerID {
			return copySubscription(sub), nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (s *MemorySubscriptionStore) GetByVendorSubscriptionID(_ context.Context, vendorSubID string) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subs {
		if sub.VendorSubscriptionID == vendorSubID {
			return copySubscription(sub), nil
		}
	}
	return nil, ErrSubscriptionNotFound
}

func (s *MemorySubscriptionStore) Save(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := copySubscription(sub)
	// The lock flag is owned by the CAS methods; Save never flips it.
	if existing, ok := s.subs[sub.ID]; ok {
		stored.SeatChangeInProgress = existing.SeatChangeInProgress
	}
	s.subs[sub.ID] = stored
	return nil
}

func (s *MemorySubscriptionStore) TrySetSeatChangeInProgress(_ context.Context, id uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[id]
	if !ok {
		return false, ErrSubscriptionNotFound
	}
	if sub.SeatChangeInProgress {
		return false, nil
	}
	sub.SeatChangeInProgress = true
	return true, nil
}

func (s *MemorySubscriptionStore) ClearSeatChangeInProgress(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[id]
	if !ok {
		return ErrSubscriptionNotFound
	}
	sub.SeatChangeInProgress = false
	return nil
}

func copySubscription(sub *Subscription) *Subscription {
	dup := *sub
	if sub.Limits != nil {
		dup.Limits = make(map[Resource]int64, len(sub.Limits))
		for k, v := range sub.Limits {
			dup.Limits[k] = v
		}
	}
	return &dup
}

// MemoryHistoryStore is an in-memory HistoryStore.
type MemoryHistoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*SeatChangeHistory
}

// NewMemoryHistoryStore creates an empty in-memory ledger.
func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{records: make(map[uuid.UUID]*SeatChangeHistory)}
}

func (s *MemoryHistoryStore) Create(_ context.Context, record *SeatChangeHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dup := *record
	s.records[record.ID] = &dup
	return nil
}

func (s *MemoryHistoryStore) Update(_ context.Context, record *SeatChangeHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[record.ID]; !ok {
		return ErrHistoryNotFound
	}
	dup := *record
	s.records[record.ID] = &dup
	return nil
}

func (s *MemoryHistoryStore) Get(_ context.Context, id uuid.UUID) (*SeatChangeHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return nil, ErrHistoryNotFound
	}
	dup := *record
	return &dup, nil
}

func (s *MemoryHistoryStore) FindByInvoiceID(_ context.Context, vendorInvoiceID string) (*SeatChangeHistory, error) {
	if vendorInvoiceID == "" {
		return nil, ErrHistoryNotFound
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, record := range s.records {
		if record.VendorInvoiceID == vendorInvoiceID {
			dup := *record
			return &dup, nil
		}
	}
	return nil, ErrHistoryNotFound
}

func (s *MemoryHistoryStore) FindRecentIncrease(_ context.Context, subscriptionID uuid.UUID, since time.Time) (*SeatChangeHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var newest *SeatChangeHistory
	for _, record := range s.records {
		if record.SubscriptionID != subscriptionID || !record.IsIncrease() {
			continue
		}
		if record.Status != HistoryPending && record.Status != HistoryCompleted {
			continue
		}
		if record.CreatedAt.Before(since) {
			continue
		}
		if newest == nil || record.CreatedAt.After(newest.CreatedAt) {
			newest = record
		}
	}
	if newest == nil {
		return nil, ErrHistoryNotFound
	}
	dup := *newest
	return &dup, nil
}

func (s *MemoryHistoryStore) ListBySubscription(_ context.Context, subscriptionID uuid.UUID) ([]*SeatChangeHistory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*SeatChangeHistory
	for _, record := range s.records {
		if record.SubscriptionID == subscriptionID {
			dup := *record
			out = append(out, &dup)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// MemoryPendingChangeStore is an in-memory PendingChangeStore.
type MemoryPendingChangeStore struct {
	mu      sync.RWMutex
	pending map[uuid.UUID]*PendingSeatChange
}

// NewMemoryPendingChangeStore creates an empty in-memory store.
func NewMemoryPendingChangeStore() *MemoryPendingChangeStore {
	return &MemoryPendingChangeStore{pending: make(map[uuid.UUID]*PendingSeatChange)}
}

func (s *MemoryPendingChangeStore) Create(_ context.Context, pending *PendingSeatChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dup := *pending
	s.pending[pending.ID] = &dup
	return nil
}

func (s *MemoryPendingChangeStore) Get(_ context.Context, id uuid.UUID) (*PendingSeatChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending, ok := s.pending[id]
	if !ok {
		return nil, ErrPendingChangeNotFound
	}
	dup := *pending
	return &dup, nil
}

func (s *MemoryPendingChangeStore) Delete(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.pending, id)
	return nil
}

var (
	_ SubscriptionStore  = (*MemorySubscriptionStore)(nil)
	_ HistoryStore       = (*MemoryHistoryStore)(nil)
	_ PendingChangeStore = (*MemoryPendingChangeStore)(nil)
)
