package discovery

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"stake-snapshot/internal/domain"
)

// DefaultEventSelector is topics[0] of the registry's StakeAdded event.
const DefaultEventSelector = "0x270d6dd254edd1d985c81cf7861b8f28fb06b6d719df04d90464034d43412440"

// EventSelector returns topics[0] for a canonical event signature,
// e.g. "Transfer(address,address,uint256)".
func EventSelector(signature string) common.Hash {
	return crypto.Keccak256Hash([]byte(signature))
}

// ErrInvalidSelector is returned for topics that are neither a 32-byte hex
// word nor an event signature.
var ErrInvalidSelector = errors.New("invalid event selector")

// ParseEventSelector accepts either a 0x-prefixed 32-byte hex topic or a
// canonical event signature such as "StakeAdded(address,uint256)".
func ParseEventSelector(s string) (common.Hash, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		b, err := hexutil.Decode("0x" + s[2:])
		if err != nil {
			return common.Hash{}, fmt.Errorf("%w: %q: %v", ErrInvalidSelector, s, err)
		}
		if len(b) != common.HashLength {
			return common.Hash{}, fmt.Errorf("%w: %q is %d bytes, want %d", ErrInvalidSelector, s, len(b), common.HashLength)
		}
		return common.BytesToHash(b), nil
	}
	open := strings.IndexByte(s, '(')
	if open <= 0 || !strings.HasSuffix(s, ")") {
		return common.Hash{}, fmt.Errorf("%w: %q", ErrInvalidSelector, s)
	}
	return EventSelector(s), nil
}

// SortEventRecords sorts records by (block_number, tx_hash, address) for
// deterministic ordering.
func SortEventRecords(records []domain.EventRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].BlockNumber != records[j].BlockNumber {
			return records[i].BlockNumber < records[j].BlockNumber
		}
		if c := bytes.Compare(records[i].TxHash.Bytes(), records[j].TxHash.Bytes()); c != 0 {
			return c < 0
		}
		return bytes.Compare(records[i].Address.Bytes(), records[j].Address.Bytes()) < 0
	})
}
