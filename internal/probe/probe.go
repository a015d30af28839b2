// Package probe reads participant balances straight from registry storage.
package probe

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"stake-snapshot/internal/domain"
	"stake-snapshot/internal/ledger"
)

// ErrTransient marks a failed read that may succeed when repeated.
var ErrTransient = errors.New("transient storage read failure")

// StorageKey returns the storage key of candidate's entry in the mapping
// declared at slot: keccak256(pad32(candidate) ++ pad32(slot)).
func StorageKey(candidate common.Address, slot uint64) common.Hash {
	var buf [64]byte
	copy(buf[12:32], candidate.Bytes())
	binary.BigEndian.PutUint64(buf[56:64], slot)
	return crypto.Keccak256Hash(buf[:])
}

// Probe performs single balance reads against a storage reader.
type Probe struct {
	reader ledger.StorageReader
}

// New creates a probe over reader.
func New(reader ledger.StorageReader) *Probe {
	return &Probe{reader: reader}
}

// ReadBalance reads candidate's balance in registry as of targetBlock.
// Failures are wrapped in ErrTransient except context cancellation.
func (p *Probe) ReadBalance(ctx context.Context, candidate common.Address, slot uint64, registry common.Address, targetBlock uint64) (domain.Balance, error) {
	key := StorageKey(candidate, slot)

	word, err := p.reader.GetStorageAt(ctx, registry, key, targetBlock)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.Balance{}, ctxErr
		}
		return domain.Balance{}, fmt.Errorf("%w: read %s at block %d: %v", ErrTransient, candidate.Hex(), targetBlock, err)
	}

	return domain.BalanceFromWord(word), nil
}
