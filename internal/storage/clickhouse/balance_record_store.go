package clickhouse

import (
	"context"
	"fmt"
	"time"

	"stake-snapshot/internal/domain"
	"stake-snapshot/internal/observability"
	"stake-snapshot/internal/storage"
)

// BalanceRecordStore implements storage.BalanceRecordStore using ClickHouse.
type BalanceRecordStore struct {
	conn *Conn
}

// NewBalanceRecordStore creates a new BalanceRecordStore.
func NewBalanceRecordStore(conn *Conn) *BalanceRecordStore {
	return &BalanceRecordStore{conn: conn}
}

// Compile-time interface check.
var _ storage.BalanceRecordStore = (*BalanceRecordStore)(nil)

// InsertBulk adds multiple records. Fails entire batch on duplicate record_id.
// MergeTree does not enforce uniqueness, so duplicates are checked before insert.
func (s *BalanceRecordStore) InsertBulk(ctx context.Context, records []*domain.BalanceRecord) (err error) {
	if len(records) == 0 {
		return nil
	}

	start := time.Now()
	defer func() {
		observability.RecordDBQuery("clickhouse", "insert_balance_records", time.Since(start).Seconds(), err)
	}()

	// Check for intra-batch duplicates
	seen := make(map[string]struct{}, len(records))
	snapshots := make(map[string]struct{})
	for _, r := range records {
		if r == nil || r.RecordID == "" || r.SnapshotID == "" {
			return storage.ErrInvalidInput
		}
		if _, exists := seen[r.RecordID]; exists {
			return storage.ErrDuplicateKey
		}
		seen[r.RecordID] = struct{}{}
		snapshots[r.SnapshotID] = struct{}{}
	}

	// Check for duplicates against existing rows
	for snapshotID := range snapshots {
		existing, err := s.recordIDs(ctx, snapshotID)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		for _, id := range existing {
			if _, dup := seen[id]; dup {
				return storage.ErrDuplicateKey
			}
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO balance_records (
			record_id, snapshot_id, address, raw_balance, amount,
			qualified, snapshot_block, attempts, created_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range records {
		err = batch.Append(
			r.RecordID, r.SnapshotID, r.Address, r.RawBalance, r.Amount,
			r.Qualified, r.SnapshotBlock, uint32(r.Attempts), r.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetBySnapshotID retrieves all records of a snapshot, ordered by address ASC.
func (s *BalanceRecordStore) GetBySnapshotID(ctx context.Context, snapshotID string) ([]*domain.BalanceRecord, error) {
	query := `
		SELECT record_id, snapshot_id, address, raw_balance, amount,
		       qualified, snapshot_block, attempts, created_at
		FROM balance_records FINAL
		WHERE snapshot_id = ?
		ORDER BY address ASC
	`

	rows, err := s.conn.Query(ctx, query, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("query by snapshot id: %w", err)
	}
	defer rows.Close()

	return scanBalanceRecords(rows)
}

// recordIDs lists the record ids stored for a snapshot.
func (s *BalanceRecordStore) recordIDs(ctx context.Context, snapshotID string) ([]string, error) {
	rows, err := s.conn.Query(ctx, `SELECT record_id FROM balance_records WHERE snapshot_id = ?`, snapshotID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// scanBalanceRecords scans multiple rows.
func scanBalanceRecords(rows chRows) ([]*domain.BalanceRecord, error) {
	var records []*domain.BalanceRecord

	for rows.Next() {
		var r domain.BalanceRecord
		var attempts uint32

		err := rows.Scan(
			&r.RecordID, &r.SnapshotID, &r.Address, &r.RawBalance, &r.Amount,
			&r.Qualified, &r.SnapshotBlock, &attempts, &r.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan balance record row: %w", err)
		}

		r.Attempts = int(attempts)
		records = append(records, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate balance record rows: %w", err)
	}

	return records, nil
}
