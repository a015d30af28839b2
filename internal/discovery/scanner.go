// Package discovery derives the candidate participant set from registry
// event history.
package discovery

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"stake-snapshot/internal/domain"
	"stake-snapshot/internal/ledger"
	"stake-snapshot/internal/observability"
)

// Options configures a Scanner.
type Options struct {
	Client    ledger.LogFilterer
	FromBlock uint64 // lower bound of the scan, 0 = genesis
	Logger    zerolog.Logger
}

// ScanResult is the outcome of one scan.
type ScanResult struct {
	Candidates []common.Address     // deduplicated, sorted by address
	Records    []domain.EventRecord // evidence with BlockNumber <= target
}

// Scanner discovers candidates from a single historical log query.
type Scanner struct {
	client    ledger.LogFilterer
	fromBlock uint64
	logger    zerolog.Logger
}

// NewScanner creates a scanner.
func NewScanner(opts Options) *Scanner {
	return &Scanner{
		client:    opts.Client,
		fromBlock: opts.FromBlock,
		logger:    opts.Logger.With().Str("component", "discovery").Logger(),
	}
}

// Scan queries selector events emitted by registry up to targetBlock and
// returns every distinct participant named in topics[1].
// Query errors are returned as is; no retry happens at this layer.
func (s *Scanner) Scan(ctx context.Context, registry common.Address, selector common.Hash, targetBlock uint64) (*ScanResult, error) {
	if s.fromBlock > targetBlock {
		return nil, fmt.Errorf("from block %d is after target block %d", s.fromBlock, targetBlock)
	}

	logs, err := s.client.GetLogs(ctx, ledger.LogQuery{
		Address:   registry,
		Topics:    []common.Hash{selector},
		FromBlock: s.fromBlock,
		ToBlock:   targetBlock,
	})
	if err != nil {
		return nil, fmt.Errorf("get logs: %w", err)
	}

	candidates := domain.NewCandidateSet()
	records := make([]domain.EventRecord, 0, len(logs))
	var skipped int

	for _, l := range logs {
		if l.Removed || len(l.Topics) < 2 {
			skipped++
			continue
		}
		// Nodes are trusted only up to the requested range
		if l.BlockNumber > targetBlock {
			skipped++
			continue
		}

		addr := common.BytesToAddress(l.Topics[1].Bytes())
		records = append(records, domain.EventRecord{
			Address:     addr,
			BlockNumber: l.BlockNumber,
			TxHash:      l.TxHash,
		})
		candidates.Add(addr)
	}

	SortEventRecords(records)

	result := &ScanResult{
		Candidates: candidates.Sorted(),
		Records:    records,
	}

	observability.RecordEventsScanned(len(records))
	observability.RecordCandidates(len(result.Candidates))

	s.logger.Info().
		Int("logs", len(logs)).
		Int("skipped", skipped).
		Int("candidates", len(result.Candidates)).
		Uint64("from_block", s.fromBlock).
		Uint64("target_block", targetBlock).
		Msg("event history scanned")

	return result, nil
}
