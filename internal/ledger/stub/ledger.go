// Package stub provides an in-memory ledger for tests.
package stub

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"stake-snapshot/internal/ledger"
)

// ErrUnavailable is returned for reads the stub is told to fail, and for
// blocks beyond the current head.
var ErrUnavailable = errors.New("historical state unavailable")

// write is one storage mutation at a block.
type write struct {
	block uint64
	value common.Hash
}

// Ledger implements ledger.Client over in-memory logs and storage history.
// Safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	chainID uint64
	head    uint64
	logs    []ledger.Log
	storage map[common.Address]map[common.Hash][]write

	// failure injection
	keyFailures map[common.Hash]int
	storageErr  error
	logsErr     error

	// LeakFutureLogs makes GetLogs ignore the upper bound of the range,
	// as a node with an off-by-one range check would.
	LeakFutureLogs bool

	readDelay   time.Duration
	reads       map[common.Hash]int
	inFlight    int
	maxInFlight int
}

// Compile-time interface check.
var _ ledger.Client = (*Ledger)(nil)

// New creates an empty ledger for chainID.
func New(chainID uint64) *Ledger {
	return &Ledger{
		chainID:     chainID,
		storage:     make(map[common.Address]map[common.Hash][]write),
		keyFailures: make(map[common.Hash]int),
		reads:       make(map[common.Hash]int),
	}
}

// SetHead sets the most recent block.
func (l *Ledger) SetHead(block uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.head = block
}

// Head returns the most recent block.
func (l *Ledger) Head() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head
}

// AddLog appends a log and advances the head to its block if needed.
func (l *Ledger) AddLog(log ledger.Log) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logs = append(l.logs, log)
	if log.BlockNumber > l.head {
		l.head = log.BlockNumber
	}
}

// SetStorage records that key in account holds value from block onwards.
func (l *Ledger) SetStorage(account common.Address, key common.Hash, block uint64, value common.Hash) {
	l.mu.Lock()
	defer l.mu.Unlock()

	slots, ok := l.storage[account]
	if !ok {
		slots = make(map[common.Hash][]write)
		l.storage[account] = slots
	}
	history := append(slots[key], write{block: block, value: value})
	sort.SliceStable(history, func(i, j int) bool { return history[i].block < history[j].block })
	slots[key] = history

	if block > l.head {
		l.head = block
	}
}

// FailStorageReads makes the next n reads of key fail.
func (l *Ledger) FailStorageReads(key common.Hash, n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.keyFailures[key] = n
}

// FailAllStorageReads makes every storage read fail with err until cleared with nil.
func (l *Ledger) FailAllStorageReads(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.storageErr = err
}

// FailLogs makes GetLogs fail with err until cleared with nil.
func (l *Ledger) FailLogs(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.logsErr = err
}

// SetReadDelay makes every storage read take at least d.
func (l *Ledger) SetReadDelay(d time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.readDelay = d
}

// StorageReads returns how many times key has been read.
func (l *Ledger) StorageReads(key common.Hash) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reads[key]
}

// MaxConcurrentReads returns the highest number of overlapping storage reads seen.
func (l *Ledger) MaxConcurrentReads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.maxInFlight
}

// GetLogs returns logs emitted by q.Address whose topics match q.Topics
// positionally, within [q.FromBlock, q.ToBlock].
func (l *Ledger) GetLogs(_ context.Context, q ledger.LogQuery) ([]ledger.Log, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.logsErr != nil {
		return nil, l.logsErr
	}

	var out []ledger.Log
	for _, log := range l.logs {
		if log.Address != q.Address {
			continue
		}
		if log.BlockNumber < q.FromBlock {
			continue
		}
		if log.BlockNumber > q.ToBlock && !l.LeakFutureLogs {
			continue
		}
		if !topicsMatch(log.Topics, q.Topics) {
			continue
		}
		out = append(out, log)
	}
	return out, nil
}

func topicsMatch(have, want []common.Hash) bool {
	if len(want) > len(have) {
		return false
	}
	for i, t := range want {
		if have[i] != t {
			return false
		}
	}
	return true
}

// GetStorageAt returns the latest value written to key at or before block.
func (l *Ledger) GetStorageAt(ctx context.Context, account common.Address, key common.Hash, block uint64) (common.Hash, error) {
	l.mu.Lock()
	l.reads[key]++
	l.inFlight++
	if l.inFlight > l.maxInFlight {
		l.maxInFlight = l.inFlight
	}
	delay := l.readDelay
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.inFlight--
		l.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return common.Hash{}, ctx.Err()
		case <-time.After(delay):
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.storageErr != nil {
		return common.Hash{}, l.storageErr
	}
	if n := l.keyFailures[key]; n > 0 {
		l.keyFailures[key] = n - 1
		return common.Hash{}, ErrUnavailable
	}
	if block > l.head {
		return common.Hash{}, ErrUnavailable
	}

	var value common.Hash
	for _, w := range l.storage[account][key] {
		if w.block > block {
			break
		}
		value = w.value
	}
	return value, nil
}

// BlockNumber returns the head block.
func (l *Ledger) BlockNumber(_ context.Context) (uint64, error) {
	return l.Head(), nil
}

// ChainID returns the configured chain identifier.
func (l *Ledger) ChainID(_ context.Context) (uint64, error) {
	return l.chainID, nil
}
