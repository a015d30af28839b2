// Package reporting renders snapshot documents for spreadsheets and review.
package reporting

import (
	"fmt"
	"strings"

	"stake-snapshot/internal/domain"
)

// RenderCSV renders the credentials of doc as CSV, one row per DID in
// document order.
func RenderCSV(doc *domain.SnapshotDocument) string {
	var sb strings.Builder

	// Header
	sb.WriteString("did,stake_amount,minimum_balance,snapshot_block,chain_id,staking_pool_address\n")

	// Rows
	for _, c := range doc.Credentials {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%d,%d,%s\n",
			c.DID,
			c.StakeAmount.String(),
			c.MinimumBalance.String(),
			c.SnapshotBlock,
			c.ChainID,
			c.RegistryAddress.Hex(),
		))
	}

	return sb.String()
}

// RenderBalancesCSV renders audit rows as CSV sorted as given.
func RenderBalancesCSV(records []*domain.BalanceRecord) string {
	var sb strings.Builder

	sb.WriteString("address,amount,raw_balance,qualified,snapshot_block,attempts\n")
	for _, r := range records {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%t,%d,%d\n",
			r.Address,
			r.Amount,
			r.RawBalance,
			r.Qualified,
			r.SnapshotBlock,
			r.Attempts,
		))
	}

	return sb.String()
}
