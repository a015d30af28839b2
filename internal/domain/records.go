package domain

// SnapshotRecord is a persisted snapshot artifact.
// Corresponds to the snapshots table in PostgreSQL.
type SnapshotRecord struct {
	ID              string // PRIMARY KEY, ULID derived from generation time
	Name            string // file-style name, stakingSnapshot_<time>.json
	Namespace       string // credential namespace
	RegistryAddress string // checksummed registry address
	ChainID         uint64
	SnapshotBlock   uint64
	Digest          string // hex SHA-256 of Body
	Body            []byte // serialized SnapshotDocument
	CreatedAt       int64  // generation time, Unix ms
}

// BalanceRecord is one resolved candidate balance kept for audit.
// Corresponds to the balance_records table in ClickHouse.
type BalanceRecord struct {
	RecordID      string // deterministic hash of (snapshot_id, address)
	SnapshotID    string
	Address       string // checksummed participant address
	RawBalance    string // base-10 storage word
	Amount        string // human-scale decimal
	Qualified     bool   // Amount >= threshold
	SnapshotBlock uint64
	Attempts      int // probe attempts until resolution
	CreatedAt     int64
}
