// Package chain holds the table of supported networks and derives
// decentralized identifiers for participants on them.
package chain

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// Well-known chain identifiers.
const (
	EnergyWebChainID uint64 = 246
	VoltaChainID     uint64 = 73799
)

// ErrUnknownChain is returned when a chain identifier is not in the table.
var ErrUnknownChain = errors.New("unknown chain")

// Network describes one chain the snapshot can run against.
type Network struct {
	ChainID     uint64
	Name        string // DID method network segment, e.g. "ewc"
	RPCEndpoint string // default endpoint, may be empty
}

// Table maps chain identifiers to networks. Safe for concurrent use.
type Table struct {
	mu       sync.RWMutex
	networks map[uint64]Network
}

// NewTable creates a table with the given networks.
func NewTable(networks ...Network) (*Table, error) {
	t := &Table{networks: make(map[uint64]Network, len(networks))}
	for _, n := range networks {
		if err := t.Register(n); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// DefaultTable returns the Energy Web networks.
func DefaultTable() *Table {
	t, _ := NewTable(
		Network{ChainID: EnergyWebChainID, Name: "ewc", RPCEndpoint: "https://archive-rpc.energyweb.org"},
		Network{ChainID: VoltaChainID, Name: "volta", RPCEndpoint: "https://volta-rpc.energyweb.org"},
	)
	return t
}

// Register adds or replaces a network.
func (t *Table) Register(n Network) error {
	name := strings.TrimSpace(n.Name)
	if name == "" {
		return fmt.Errorf("register chain %d: empty network name", n.ChainID)
	}
	if strings.ContainsAny(name, ": ") {
		return fmt.Errorf("register chain %d: invalid network name %q", n.ChainID, name)
	}
	n.Name = name

	t.mu.Lock()
	defer t.mu.Unlock()
	t.networks[n.ChainID] = n
	return nil
}

// Lookup returns the network for chainID or ErrUnknownChain.
func (t *Table) Lookup(chainID uint64) (Network, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n, ok := t.networks[chainID]
	if !ok {
		return Network{}, fmt.Errorf("%w: %d", ErrUnknownChain, chainID)
	}
	return n, nil
}

// ChainIDs returns the registered identifiers in ascending order.
func (t *Table) ChainIDs() []uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]uint64, 0, len(t.networks))
	for id := range t.networks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// DID derives the decentralized identifier of addr on chainID.
// Format: did:ethr:<network>:<lowercase hex address>.
func (t *Table) DID(addr common.Address, chainID uint64) (string, error) {
	n, err := t.Lookup(chainID)
	if err != nil {
		return "", err
	}
	return FormatDID(n.Name, addr), nil
}

// FormatDID builds an ethr DID for addr on the named network.
func FormatDID(network string, addr common.Address) string {
	return "did:ethr:" + network + ":" + strings.ToLower(addr.Hex())
}

// ParseNetwork parses "id=name" or "id=name=rpc".
func ParseNetwork(spec string) (Network, error) {
	parts := strings.SplitN(strings.TrimSpace(spec), "=", 3)
	if len(parts) < 2 {
		return Network{}, fmt.Errorf("parse network %q: want id=name[=rpc]", spec)
	}
	id, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
	if err != nil {
		return Network{}, fmt.Errorf("parse network %q: chain id: %w", spec, err)
	}
	n := Network{ChainID: id, Name: strings.TrimSpace(parts[1])}
	if len(parts) == 3 {
		n.RPCEndpoint = strings.TrimSpace(parts[2])
	}
	if n.Name == "" {
		return Network{}, fmt.Errorf("parse network %q: empty name", spec)
	}
	return n, nil
}
