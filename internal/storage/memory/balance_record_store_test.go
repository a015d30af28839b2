package memory

import (
	"context"
	"errors"
	"testing"

	"stake-snapshot/internal/domain"
	"stake-snapshot/internal/storage"
)

func balanceRecord(id, snapshotID, address string) *domain.BalanceRecord {
	return &domain.BalanceRecord{
		RecordID:      id,
		SnapshotID:    snapshotID,
		Address:       address,
		RawBalance:    "700000000000000000000",
		Amount:        "700",
		Qualified:     true,
		SnapshotBlock: 1000,
		Attempts:      1,
	}
}

func TestBalanceRecordStore_InsertBulkAndGet(t *testing.T) {
	store := NewBalanceRecordStore()
	ctx := context.Background()

	records := []*domain.BalanceRecord{
		balanceRecord("r2", "snap1", "0xBB"),
		balanceRecord("r1", "snap1", "0xAA"),
		balanceRecord("r3", "snap2", "0xCC"),
	}
	if err := store.InsertBulk(ctx, records); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	got, err := store.GetBySnapshotID(ctx, "snap1")
	if err != nil {
		t.Fatalf("GetBySnapshotID failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 records, got %d", len(got))
	}
	if got[0].Address != "0xAA" || got[1].Address != "0xBB" {
		t.Errorf("Records not ordered by address: %s, %s", got[0].Address, got[1].Address)
	}
}

func TestBalanceRecordStore_BatchAtomicity(t *testing.T) {
	store := NewBalanceRecordStore()
	ctx := context.Background()

	if err := store.InsertBulk(ctx, []*domain.BalanceRecord{balanceRecord("r1", "snap1", "0xAA")}); err != nil {
		t.Fatalf("InsertBulk failed: %v", err)
	}

	// Second batch collides with an existing row; nothing from it is kept
	err := store.InsertBulk(ctx, []*domain.BalanceRecord{
		balanceRecord("r2", "snap1", "0xBB"),
		balanceRecord("r1", "snap1", "0xAA"),
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("Expected ErrDuplicateKey, got %v", err)
	}

	got, _ := store.GetBySnapshotID(ctx, "snap1")
	if len(got) != 1 {
		t.Errorf("Expected 1 record after failed batch, got %d", len(got))
	}
}

func TestBalanceRecordStore_IntraBatchDuplicate(t *testing.T) {
	store := NewBalanceRecordStore()

	err := store.InsertBulk(context.Background(), []*domain.BalanceRecord{
		balanceRecord("r1", "snap1", "0xAA"),
		balanceRecord("r1", "snap1", "0xAA"),
	})
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got %v", err)
	}
}

func TestBalanceRecordStore_InvalidInput(t *testing.T) {
	store := NewBalanceRecordStore()

	err := store.InsertBulk(context.Background(), []*domain.BalanceRecord{{RecordID: "r1"}})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got %v", err)
	}
}
