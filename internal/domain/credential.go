package domain

import (
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// CredentialEntry is one qualifying participant in a snapshot.
type CredentialEntry struct {
	DID             string          // decentralized identifier, unique per snapshot
	ChainID         uint64          // chain the registry lives on
	StakeAmount     decimal.Decimal // balance at SnapshotBlock, human scale
	MinimumBalance  decimal.Decimal // threshold the balance was compared against
	SnapshotBlock   uint64          // block the balance was read at
	RegistryAddress common.Address  // staking pool contract
}

// SnapshotDocument is the credential set for one registry at one block.
// Build it with NewSnapshotDocument; it is not mutated afterwards.
type SnapshotDocument struct {
	CredentialNamespace string
	SnapshotBlock       uint64
	Credentials         []CredentialEntry // sorted by DID, unique
}

// NewSnapshotDocument copies entries, keeps the first entry per DID and
// orders the result by DID so equal sets produce equal documents.
func NewSnapshotDocument(namespace string, snapshotBlock uint64, entries []CredentialEntry) *SnapshotDocument {
	return &SnapshotDocument{
		CredentialNamespace: namespace,
		SnapshotBlock:       snapshotBlock,
		Credentials:         UniqueByDID(entries),
	}
}

// IsEmpty reports whether the document has no credentials.
func (d *SnapshotDocument) IsEmpty() bool {
	return d == nil || len(d.Credentials) == 0
}

// DIDs returns the credential identifiers in document order.
func (d *SnapshotDocument) DIDs() []string {
	if d == nil {
		return nil
	}
	out := make([]string, len(d.Credentials))
	for i, c := range d.Credentials {
		out[i] = c.DID
	}
	return out
}

// UniqueByDID returns a DID-sorted copy of entries with duplicates removed.
// The first occurrence of a DID wins.
func UniqueByDID(entries []CredentialEntry) []CredentialEntry {
	seen := make(map[string]struct{}, len(entries))
	out := make([]CredentialEntry, 0, len(entries))
	for _, e := range entries {
		if _, dup := seen[e.DID]; dup {
			continue
		}
		seen[e.DID] = struct{}{}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DID < out[j].DID
	})
	return out
}
