package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// callFunc performs one JSON-RPC call and decodes the result into result.
type callFunc func(ctx context.Context, method string, params []interface{}, result interface{}) error

// rpcLog is the raw eth_getLogs entry. Pending logs carry null numbers.
type rpcLog struct {
	Address     common.Address  `json:"address"`
	Topics      []common.Hash   `json:"topics"`
	Data        hexutil.Bytes   `json:"data"`
	BlockNumber *hexutil.Uint64 `json:"blockNumber"`
	TxHash      common.Hash     `json:"transactionHash"`
	LogIndex    *hexutil.Uint   `json:"logIndex"`
	Removed     bool            `json:"removed"`
}

func getLogs(ctx context.Context, call callFunc, q LogQuery) ([]Log, error) {
	topics := make([]interface{}, len(q.Topics))
	for i, t := range q.Topics {
		topics[i] = t
	}

	filter := map[string]interface{}{
		"address":   q.Address,
		"fromBlock": hexutil.Uint64(q.FromBlock),
		"toBlock":   hexutil.Uint64(q.ToBlock),
		"topics":    topics,
	}

	var result []rpcLog
	if err := call(ctx, "eth_getLogs", []interface{}{filter}, &result); err != nil {
		return nil, err
	}

	logs := make([]Log, 0, len(result))
	for _, r := range result {
		if r.BlockNumber == nil {
			// Pending log, not part of any block yet
			continue
		}
		l := Log{
			Address:     r.Address,
			Topics:      r.Topics,
			Data:        r.Data,
			BlockNumber: uint64(*r.BlockNumber),
			TxHash:      r.TxHash,
			Removed:     r.Removed,
		}
		if r.LogIndex != nil {
			l.Index = uint(*r.LogIndex)
		}
		logs = append(logs, l)
	}
	return logs, nil
}

func getStorageAt(ctx context.Context, call callFunc, account common.Address, key common.Hash, block uint64) (common.Hash, error) {
	params := []interface{}{account, key, hexutil.Uint64(block)}

	var result string
	if err := call(ctx, "eth_getStorageAt", params, &result); err != nil {
		return common.Hash{}, err
	}
	return decodeWord(result)
}

func blockNumber(ctx context.Context, call callFunc) (uint64, error) {
	var result hexutil.Uint64
	if err := call(ctx, "eth_blockNumber", nil, &result); err != nil {
		return 0, err
	}
	return uint64(result), nil
}

func chainID(ctx context.Context, call callFunc) (uint64, error) {
	var result hexutil.Uint64
	if err := call(ctx, "eth_chainId", nil, &result); err != nil {
		return 0, err
	}
	return uint64(result), nil
}

// decodeWord decodes a hex storage word. Some nodes trim leading zeros
// ("0x0", "0x14"), so odd lengths and short words are accepted.
func decodeWord(s string) (common.Hash, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return common.Hash{}, fmt.Errorf("decode storage word %q: missing 0x prefix", s)
	}
	digits := s[2:]
	if len(digits)%2 == 1 {
		digits = "0" + digits
	}
	b, err := hexutil.Decode("0x" + digits)
	if err != nil {
		return common.Hash{}, fmt.Errorf("decode storage word %q: %w", s, err)
	}
	if len(b) > common.HashLength {
		return common.Hash{}, fmt.Errorf("decode storage word %q: %d bytes exceeds word size", s, len(b))
	}
	return common.BytesToHash(b), nil
}
