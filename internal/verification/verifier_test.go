package verification

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stake-snapshot/internal/chain"
	"stake-snapshot/internal/coordinator"
	"stake-snapshot/internal/discovery"
	"stake-snapshot/internal/domain"
	"stake-snapshot/internal/engine"
	"stake-snapshot/internal/layout"
	"stake-snapshot/internal/ledger"
	"stake-snapshot/internal/ledger/stub"
	"stake-snapshot/internal/probe"
	"stake-snapshot/internal/snapshot"
	"stake-snapshot/internal/storage"
	"stake-snapshot/internal/storage/memory"
)

const slot = 3

var (
	registry = common.HexToAddress("0x181A8b2a5AEb25941F6A79b4aE43dBb1968c417A")
	selector = common.HexToHash(discovery.DefaultEventSelector)
	alice    = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob      = common.HexToAddress("0x00000000000000000000000000000000000000b0")
)

type testEnv struct {
	ledger *stub.Ledger
	writer *snapshot.StoreWriter
	opts   engine.Options
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	l := stub.New(chain.EnergyWebChainID)
	return &testEnv{
		ledger: l,
		writer: snapshot.NewStoreWriter(memory.NewSnapshotStore()),
		opts: engine.Options{
			Client: l,
			Layout: layout.StaticSlot(engine.DefaultLayoutEntity, engine.DefaultLayoutField, slot),
			Coordinator: coordinator.Config{
				MaxPasses:      2,
				InitialBackoff: time.Millisecond,
				MaxBackoff:     time.Millisecond,
			},
			Logger: zerolog.Nop(),
		},
	}
}

func (e *testEnv) stake(addr common.Address, amount int64, block uint64) {
	e.ledger.AddLog(ledger.Log{
		Address:     registry,
		Topics:      []common.Hash{selector, common.BytesToHash(addr.Bytes())},
		BlockNumber: block,
	})
	e.setBalance(addr, amount, block)
}

func (e *testEnv) setBalance(addr common.Address, amount int64, block uint64) {
	word := domain.BalanceFromAmount(decimal.NewFromInt(amount)).Word()
	e.ledger.SetStorage(registry, probe.StorageKey(addr, slot), block, word)
}

// take stores a snapshot at block and returns its artifact id.
func (e *testEnv) take(t *testing.T, block uint64) string {
	t.Helper()
	opts := e.opts
	opts.Writer = e.writer
	eng, err := engine.New(opts)
	require.NoError(t, err)

	res, err := eng.Run(context.Background(), engine.Request{
		Registry:       registry,
		ChainID:        chain.EnergyWebChainID,
		TargetBlock:    block,
		MinimumBalance: decimal.NewFromInt(5),
		Namespace:      "ns.test",
		EventSelector:  selector,
	})
	require.NoError(t, err)
	require.NotNil(t, res.Artifact)
	return res.Artifact.ID
}

func (e *testEnv) verifier() *Verifier {
	return New(Options{Engine: e.opts, Reader: e.writer, Logger: zerolog.Nop()})
}

func TestVerify_Match(t *testing.T) {
	env := newTestEnv(t)
	env.stake(alice, 10, 10)
	env.stake(bob, 6, 20)
	id := env.take(t, 50)

	// later activity does not affect block 50
	env.stake(bob, 1, 60)

	res, err := env.verifier().Verify(context.Background(), id, engine.Request{EventSelector: selector})
	require.NoError(t, err)

	assert.True(t, res.Match)
	assert.Equal(t, res.StoredDigest, res.ReplayedDigest)
	assert.Equal(t, uint64(50), res.SnapshotBlock)
	assert.Contains(t, RenderMarkdown(res), "**MATCH.**")
}

func TestVerify_Diverged(t *testing.T) {
	env := newTestEnv(t)
	env.stake(alice, 10, 10)
	env.stake(bob, 6, 20)
	id := env.take(t, 50)

	// a node serving different history at block 50
	env.setBalance(alice, 12, 30)
	env.setBalance(bob, 2, 40)

	res, err := env.verifier().Verify(context.Background(), id, engine.Request{EventSelector: selector})
	require.NoError(t, err)

	assert.False(t, res.Match)
	assert.Equal(t, []string{chain.FormatDID("ewc", bob)}, res.Missing)
	assert.Empty(t, res.Unexpected)
	require.Len(t, res.Divergences, 1)
	assert.Equal(t, "StakeAmount", res.Divergences[0].Field)
	assert.Equal(t, "10", res.Divergences[0].Expected)
	assert.Equal(t, "12", res.Divergences[0].Actual)

	md := RenderMarkdown(res)
	assert.Contains(t, md, "**DIVERGED.**")
	assert.Contains(t, md, "## Missing From Replay")
	assert.Contains(t, md, "| StakeAmount | 10 | 12 |")
}

func TestVerify_UnknownArtifact(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.verifier().Verify(context.Background(), "01HQZX3Y4K5M6N7P8Q9R0S1T2V", engine.Request{EventSelector: selector})
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCompareDocuments(t *testing.T) {
	entry := func(addr common.Address, amount int64) domain.CredentialEntry {
		return domain.CredentialEntry{
			DID:             chain.FormatDID("ewc", addr),
			ChainID:         chain.EnergyWebChainID,
			StakeAmount:     decimal.NewFromInt(amount),
			MinimumBalance:  decimal.NewFromInt(5),
			SnapshotBlock:   100,
			RegistryAddress: registry,
		}
	}
	carol := common.HexToAddress("0x00000000000000000000000000000000000000c0")

	stored := domain.NewSnapshotDocument("ns", 100, []domain.CredentialEntry{entry(alice, 10), entry(bob, 7)})
	replayed := domain.NewSnapshotDocument("ns", 100, []domain.CredentialEntry{entry(alice, 10), entry(carol, 9)})

	missing, unexpected, divergences := CompareDocuments(stored, replayed)
	assert.Equal(t, []string{chain.FormatDID("ewc", bob)}, missing)
	assert.Equal(t, []string{chain.FormatDID("ewc", carol)}, unexpected)
	assert.Empty(t, divergences)

	missing, unexpected, divergences = CompareDocuments(stored, stored)
	assert.Empty(t, missing)
	assert.Empty(t, unexpected)
	assert.Empty(t, divergences)
}
