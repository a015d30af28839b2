// Package snapshot serializes snapshot documents and persists them.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"stake-snapshot/internal/domain"
)

// Wire types. Field order is lexical so the encoding is stable.
type wireDocument struct {
	CredentialNamespace string           `json:"credentialNamespace"`
	Credentials         []wireCredential `json:"credentials"`
	SnapshotBlock       uint64           `json:"snapshotBlock"`
}

type wireCredential struct {
	DID          string             `json:"did"`
	IssuerFields []wireIssuerFields `json:"issuerFields"`
}

type wireIssuerFields struct {
	ChainID            uint64      `json:"chainId"`
	MinimumBalance     json.Number `json:"minimumBalance"`
	SnapshotBlock      uint64      `json:"snapshotBlock"`
	StakeAmount        json.Number `json:"stakeAmount"`
	StakingPoolAddress string      `json:"stakingPoolAddress"`
}

// Marshal encodes doc as indented JSON with credentials sorted by DID and
// a trailing newline. Equal documents encode to equal bytes.
func Marshal(doc *domain.SnapshotDocument) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("marshal snapshot: nil document")
	}

	entries := domain.UniqueByDID(doc.Credentials)
	w := wireDocument{
		CredentialNamespace: doc.CredentialNamespace,
		Credentials:         make([]wireCredential, 0, len(entries)),
		SnapshotBlock:       doc.SnapshotBlock,
	}
	for _, e := range entries {
		w.Credentials = append(w.Credentials, wireCredential{
			DID: e.DID,
			IssuerFields: []wireIssuerFields{{
				ChainID:            e.ChainID,
				MinimumBalance:     json.Number(e.MinimumBalance.String()),
				SnapshotBlock:      e.SnapshotBlock,
				StakeAmount:        json.Number(e.StakeAmount.String()),
				StakingPoolAddress: e.RegistryAddress.Hex(),
			}},
		})
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(w); err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a document produced by Marshal.
func Unmarshal(data []byte) (*domain.SnapshotDocument, error) {
	var w wireDocument
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	entries := make([]domain.CredentialEntry, 0, len(w.Credentials))
	for _, c := range w.Credentials {
		if len(c.IssuerFields) != 1 {
			return nil, fmt.Errorf("unmarshal snapshot: %s has %d issuer field sets", c.DID, len(c.IssuerFields))
		}
		f := c.IssuerFields[0]

		stake, err := decimal.NewFromString(f.StakeAmount.String())
		if err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %s stake amount: %w", c.DID, err)
		}
		minimum, err := decimal.NewFromString(f.MinimumBalance.String())
		if err != nil {
			return nil, fmt.Errorf("unmarshal snapshot: %s minimum balance: %w", c.DID, err)
		}
		if !common.IsHexAddress(f.StakingPoolAddress) {
			return nil, fmt.Errorf("unmarshal snapshot: %s staking pool address %q", c.DID, f.StakingPoolAddress)
		}

		entries = append(entries, domain.CredentialEntry{
			DID:             c.DID,
			ChainID:         f.ChainID,
			StakeAmount:     stake,
			MinimumBalance:  minimum,
			SnapshotBlock:   f.SnapshotBlock,
			RegistryAddress: common.HexToAddress(f.StakingPoolAddress),
		})
	}

	return domain.NewSnapshotDocument(w.CredentialNamespace, w.SnapshotBlock, entries), nil
}
