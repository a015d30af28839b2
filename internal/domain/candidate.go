package domain

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/common"
)

// EventRecord is one registry event attributed to a participant.
// Only records with BlockNumber <= target block are valid evidence.
type EventRecord struct {
	Address     common.Address // participant recovered from topics[1]
	BlockNumber uint64         // block that included the event
	TxHash      common.Hash    // emitting transaction
}

// CandidateSet is a set of participant addresses discovered from event history.
type CandidateSet map[common.Address]struct{}

// NewCandidateSet builds a set from addresses, dropping duplicates.
func NewCandidateSet(addrs ...common.Address) CandidateSet {
	s := make(CandidateSet, len(addrs))
	for _, a := range addrs {
		s[a] = struct{}{}
	}
	return s
}

// Add inserts an address. Returns false if it was already present.
func (s CandidateSet) Add(addr common.Address) bool {
	if _, ok := s[addr]; ok {
		return false
	}
	s[addr] = struct{}{}
	return true
}

// Contains reports whether addr is in the set.
func (s CandidateSet) Contains(addr common.Address) bool {
	_, ok := s[addr]
	return ok
}

// Sorted returns the members ordered by address bytes.
func (s CandidateSet) Sorted() []common.Address {
	out := make([]common.Address, 0, len(s))
	for a := range s {
		out = append(out, a)
	}
	SortAddresses(out)
	return out
}

// SortAddresses sorts addresses in place by their byte representation.
func SortAddresses(addrs []common.Address) {
	sort.Slice(addrs, func(i, j int) bool {
		return bytes.Compare(addrs[i].Bytes(), addrs[j].Bytes()) < 0
	})
}
