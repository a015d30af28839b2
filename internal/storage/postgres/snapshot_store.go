package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"stake-snapshot/internal/domain"
	"stake-snapshot/internal/observability"
	"stake-snapshot/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using PostgreSQL.
type SnapshotStore struct {
	pool *Pool
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(pool *Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

const snapshotColumns = `id, name, namespace, registry_address, chain_id, snapshot_block, digest, body, created_at`

// Insert adds a new snapshot. Returns ErrDuplicateKey if id exists.
func (s *SnapshotStore) Insert(ctx context.Context, r *domain.SnapshotRecord) (err error) {
	if r == nil || r.ID == "" || len(r.Body) == 0 {
		return storage.ErrInvalidInput
	}

	start := time.Now()
	defer func() {
		observability.RecordDBQuery("postgres", "insert_snapshot", time.Since(start).Seconds(), err)
	}()

	query := `
		INSERT INTO snapshots (` + snapshotColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = s.pool.Exec(ctx, query,
		r.ID,
		r.Name,
		r.Namespace,
		r.RegistryAddress,
		int64(r.ChainID),
		int64(r.SnapshotBlock),
		r.Digest,
		r.Body,
		r.CreatedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

// GetByID retrieves a snapshot by its ID. Returns ErrNotFound if not exists.
func (s *SnapshotStore) GetByID(ctx context.Context, id string) (*domain.SnapshotRecord, error) {
	query := `SELECT ` + snapshotColumns + ` FROM snapshots WHERE id = $1`

	start := time.Now()
	r, err := scanSnapshot(s.pool.QueryRow(ctx, query, id))
	observability.RecordDBQuery("postgres", "get_snapshot", time.Since(start).Seconds(), ignoreNotFound(err))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get snapshot by id: %w", err)
	}
	return r, nil
}

// GetLatest returns the most recent snapshot for namespace.
func (s *SnapshotStore) GetLatest(ctx context.Context, namespace string) (*domain.SnapshotRecord, error) {
	query := `
		SELECT ` + snapshotColumns + `
		FROM snapshots
		WHERE namespace = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`

	r, err := scanSnapshot(s.pool.QueryRow(ctx, query, namespace))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get latest snapshot: %w", err)
	}
	return r, nil
}

// List returns up to limit snapshots for namespace, newest first.
func (s *SnapshotStore) List(ctx context.Context, namespace string, limit int) ([]*domain.SnapshotRecord, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidInput
	}

	query := `
		SELECT ` + snapshotColumns + `
		FROM snapshots
		WHERE namespace = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`

	rows, err := s.pool.Query(ctx, query, namespace, limit)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var records []*domain.SnapshotRecord
	for rows.Next() {
		r, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}
	return records, nil
}

// scanSnapshot scans a single row into a SnapshotRecord.
func scanSnapshot(row pgx.Row) (*domain.SnapshotRecord, error) {
	var r domain.SnapshotRecord
	var chainID, block int64

	err := row.Scan(
		&r.ID,
		&r.Name,
		&r.Namespace,
		&r.RegistryAddress,
		&chainID,
		&block,
		&r.Digest,
		&r.Body,
		&r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.ChainID = uint64(chainID)
	r.SnapshotBlock = uint64(block)
	return &r, nil
}

func ignoreNotFound(err error) error {
	if isNotFoundError(err) {
		return nil
	}
	return err
}
