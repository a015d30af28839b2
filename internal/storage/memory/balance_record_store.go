package memory

import (
	"context"
	"sort"
	"sync"

	"stake-snapshot/internal/domain"
	"stake-snapshot/internal/storage"
)

// BalanceRecordStore is an in-memory implementation of storage.BalanceRecordStore.
type BalanceRecordStore struct {
	mu   sync.RWMutex
	data map[string]*domain.BalanceRecord // keyed by record_id
}

// NewBalanceRecordStore creates a new in-memory balance record store.
func NewBalanceRecordStore() *BalanceRecordStore {
	return &BalanceRecordStore{
		data: make(map[string]*domain.BalanceRecord),
	}
}

// InsertBulk adds multiple records atomically. Fails entire batch on any duplicate.
func (s *BalanceRecordStore) InsertBulk(_ context.Context, records []*domain.BalanceRecord) error {
	if len(records) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	batchKeys := make(map[string]struct{}, len(records))

	// First pass: check for duplicates (existing + intra-batch)
	for _, r := range records {
		if r == nil || r.RecordID == "" || r.SnapshotID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := s.data[r.RecordID]; exists {
			return storage.ErrDuplicateKey
		}
		if _, exists := batchKeys[r.RecordID]; exists {
			return storage.ErrDuplicateKey
		}
		batchKeys[r.RecordID] = struct{}{}
	}

	// Second pass: insert all
	for _, r := range records {
		copy := *r
		s.data[r.RecordID] = &copy
	}

	return nil
}

// GetBySnapshotID retrieves all records of a snapshot, ordered by address ASC.
func (s *BalanceRecordStore) GetBySnapshotID(_ context.Context, snapshotID string) ([]*domain.BalanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.BalanceRecord
	for _, r := range s.data {
		if r.SnapshotID == snapshotID {
			copy := *r
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Address < result[j].Address
	})

	return result, nil
}

var _ storage.BalanceRecordStore = (*BalanceRecordStore)(nil)
