// Package layout resolves named contract fields to storage slot indices.
package layout

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ErrFieldNotFound is returned when a contract field has no known slot.
var ErrFieldNotFound = errors.New("storage field not found")

// Provider maps a contract field to the base storage slot it occupies.
type Provider interface {
	SlotIndex(entity, field string) (uint64, error)
}

// Static is a fixed table of slots keyed by "Entity.field".
type Static map[string]uint64

// Compile-time interface check.
var _ Provider = Static(nil)

// StaticSlot returns a provider that knows a single field.
func StaticSlot(entity, field string, slot uint64) Static {
	return Static{key(entity, field): slot}
}

// SlotIndex returns the slot of entity.field.
func (s Static) SlotIndex(entity, field string) (uint64, error) {
	slot, ok := s[key(entity, field)]
	if !ok {
		return 0, fmt.Errorf("%w: %s.%s", ErrFieldNotFound, entity, field)
	}
	return slot, nil
}

func key(entity, field string) string {
	return entity + "." + field
}

// SolcLayout is the storageLayout output of the Solidity compiler.
type SolcLayout struct {
	Storage []SolcStorageEntry `json:"storage"`
}

// SolcStorageEntry is one state variable in a solc storage layout.
type SolcStorageEntry struct {
	Contract string `json:"contract"` // "path/File.sol:Contract"
	Label    string `json:"label"`
	Offset   int    `json:"offset"`
	Slot     string `json:"slot"` // decimal string
	Type     string `json:"type"`
}

// Compile-time interface check.
var _ Provider = (*SolcLayout)(nil)

// ParseSolcLayout decodes a storage layout. It accepts either the bare
// {"storage": [...]} object or a compiler artifact that nests it under
// "storageLayout".
func ParseSolcLayout(r io.Reader) (*SolcLayout, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read storage layout: %w", err)
	}

	var wrapped struct {
		StorageLayout *SolcLayout        `json:"storageLayout"`
		Storage       []SolcStorageEntry `json:"storage"`
	}
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, fmt.Errorf("decode storage layout: %w", err)
	}

	if wrapped.StorageLayout != nil {
		return wrapped.StorageLayout, nil
	}
	if wrapped.Storage == nil {
		return nil, fmt.Errorf("decode storage layout: no storage entries")
	}
	return &SolcLayout{Storage: wrapped.Storage}, nil
}

// LoadSolcLayout reads a storage layout file.
func LoadSolcLayout(path string) (*SolcLayout, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open storage layout: %w", err)
	}
	defer f.Close()
	return ParseSolcLayout(f)
}

// SlotIndex finds the slot of field in the contract named entity.
// entity matches either the bare contract name or the full "file:Contract" id.
func (l *SolcLayout) SlotIndex(entity, field string) (uint64, error) {
	for _, e := range l.Storage {
		if e.Label != field || !matchesContract(e.Contract, entity) {
			continue
		}
		slot, err := strconv.ParseUint(e.Slot, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse slot %q of %s.%s: %w", e.Slot, entity, field, err)
		}
		return slot, nil
	}
	return 0, fmt.Errorf("%w: %s.%s", ErrFieldNotFound, entity, field)
}

func matchesContract(contract, entity string) bool {
	if contract == entity {
		return true
	}
	if i := strings.LastIndex(contract, ":"); i >= 0 {
		return contract[i+1:] == entity
	}
	return false
}
