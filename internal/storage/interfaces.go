// Package storage defines persistence for snapshot artifacts and the
// balance audit trail. Both stores are append-only.
package storage

import (
	"context"

	"stake-snapshot/internal/domain"
)

// SnapshotStore provides access to snapshots storage.
type SnapshotStore interface {
	// Insert adds a new snapshot. Returns ErrDuplicateKey if id exists.
	Insert(ctx context.Context, s *domain.SnapshotRecord) error

	// GetByID retrieves a snapshot by its ID. Returns ErrNotFound if not exists.
	GetByID(ctx context.Context, id string) (*domain.SnapshotRecord, error)

	// GetLatest returns the most recent snapshot for namespace.
	// Returns ErrNotFound if the namespace has none.
	GetLatest(ctx context.Context, namespace string) (*domain.SnapshotRecord, error)

	// List returns up to limit snapshots for namespace, newest first.
	List(ctx context.Context, namespace string, limit int) ([]*domain.SnapshotRecord, error)
}

// BalanceRecordStore provides access to balance_records storage.
type BalanceRecordStore interface {
	// InsertBulk adds multiple records atomically. Fails entire batch on any duplicate record_id.
	InsertBulk(ctx context.Context, records []*domain.BalanceRecord) error

	// GetBySnapshotID retrieves all records of a snapshot, ordered by address ASC.
	GetBySnapshotID(ctx context.Context, snapshotID string) ([]*domain.BalanceRecord, error)
}
