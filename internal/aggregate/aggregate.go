// Package aggregate turns resolved balances into credential entries.
package aggregate

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stake-snapshot/internal/chain"
	"stake-snapshot/internal/domain"
)

// Aggregator filters balances by threshold and derives participant DIDs.
type Aggregator struct {
	networks *chain.Table
	logger   zerolog.Logger
}

// New creates an aggregator over the given network table.
func New(networks *chain.Table, logger zerolog.Logger) *Aggregator {
	return &Aggregator{
		networks: networks,
		logger:   logger.With().Str("component", "aggregate").Logger(),
	}
}

// Aggregate keeps every balance >= minimum and returns one entry per DID,
// sorted by DID. The network for chainID must be registered.
func (a *Aggregator) Aggregate(
	resolved map[common.Address]domain.Balance,
	minimum decimal.Decimal,
	chainID uint64,
	registry common.Address,
	snapshotBlock uint64,
) ([]domain.CredentialEntry, error) {
	network, err := a.networks.Lookup(chainID)
	if err != nil {
		return nil, err
	}

	entries := make([]domain.CredentialEntry, 0, len(resolved))
	for addr, bal := range resolved {
		if !bal.Meets(minimum) {
			continue
		}
		entries = append(entries, domain.CredentialEntry{
			DID:             chain.FormatDID(network.Name, addr),
			ChainID:         chainID,
			StakeAmount:     bal.Amount(),
			MinimumBalance:  minimum,
			SnapshotBlock:   snapshotBlock,
			RegistryAddress: registry,
		})
	}

	entries = domain.UniqueByDID(entries)

	a.logger.Info().
		Int("resolved", len(resolved)).
		Int("qualified", len(entries)).
		Str("minimum", minimum.String()).
		Str("network", network.Name).
		Msg("balances aggregated")

	return entries, nil
}

// ValidateMinimum rejects negative thresholds.
func ValidateMinimum(minimum decimal.Decimal) error {
	if minimum.IsNegative() {
		return fmt.Errorf("minimum balance %s is negative", minimum)
	}
	return nil
}
