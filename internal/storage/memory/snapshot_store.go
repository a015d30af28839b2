package memory

import (
	"context"
	"sort"
	"sync"

	"stake-snapshot/internal/domain"
	"stake-snapshot/internal/storage"
)

// SnapshotStore is an in-memory implementation of storage.SnapshotStore.
type SnapshotStore struct {
	mu   sync.RWMutex
	data map[string]*domain.SnapshotRecord // keyed by id
}

// NewSnapshotStore creates a new in-memory snapshot store.
func NewSnapshotStore() *SnapshotStore {
	return &SnapshotStore{
		data: make(map[string]*domain.SnapshotRecord),
	}
}

// Insert adds a new snapshot. Returns ErrDuplicateKey if id exists.
func (s *SnapshotStore) Insert(_ context.Context, r *domain.SnapshotRecord) error {
	if r == nil || r.ID == "" || len(r.Body) == 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[r.ID]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[r.ID] = cloneSnapshot(r)
	return nil
}

// GetByID retrieves a snapshot by its ID. Returns ErrNotFound if not exists.
func (s *SnapshotStore) GetByID(_ context.Context, id string) (*domain.SnapshotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return cloneSnapshot(r), nil
}

// GetLatest returns the most recent snapshot for namespace.
func (s *SnapshotStore) GetLatest(ctx context.Context, namespace string) (*domain.SnapshotRecord, error) {
	list, err := s.List(ctx, namespace, 1)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, storage.ErrNotFound
	}
	return list[0], nil
}

// List returns up to limit snapshots for namespace, newest first.
// Ties on created_at are broken by id DESC.
func (s *SnapshotStore) List(_ context.Context, namespace string, limit int) ([]*domain.SnapshotRecord, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.SnapshotRecord
	for _, r := range s.data {
		if r.Namespace == namespace {
			result = append(result, cloneSnapshot(r))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt != result[j].CreatedAt {
			return result[i].CreatedAt > result[j].CreatedAt
		}
		return result[i].ID > result[j].ID
	})

	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func cloneSnapshot(r *domain.SnapshotRecord) *domain.SnapshotRecord {
	c := *r
	c.Body = append([]byte(nil), r.Body...)
	return &c
}

var _ storage.SnapshotStore = (*SnapshotStore)(nil)
