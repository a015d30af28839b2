// Package ledger provides EVM JSON-RPC clients for historical log queries
// and raw storage reads.
package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// Client defines the remote ledger operations the snapshot engine consumes.
type Client interface {
	LogFilterer
	StorageReader

	// BlockNumber returns the number of the most recent block.
	BlockNumber(ctx context.Context) (uint64, error)

	// ChainID returns the chain identifier served by the endpoint.
	ChainID(ctx context.Context) (uint64, error)
}

// LogFilterer queries historical event logs.
type LogFilterer interface {
	// GetLogs returns logs matching q, ordered as the node returns them.
	GetLogs(ctx context.Context, q LogQuery) ([]Log, error)
}

// StorageReader reads raw contract storage.
type StorageReader interface {
	// GetStorageAt returns the 32-byte word at key in account's storage as of block.
	GetStorageAt(ctx context.Context, account common.Address, key common.Hash, block uint64) (common.Hash, error)
}

// LogQuery filters logs by emitting contract, topics and an inclusive block range.
type LogQuery struct {
	Address   common.Address
	Topics    []common.Hash // positional, topics[0] is the event selector
	FromBlock uint64
	ToBlock   uint64
}

// Log is one event record returned by eth_getLogs.
type Log struct {
	Address     common.Address
	Topics      []common.Hash
	Data        []byte
	BlockNumber uint64
	TxHash      common.Hash
	Index       uint
	Removed     bool // true if the log was reverted by a reorg
}
