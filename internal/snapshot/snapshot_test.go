package snapshot

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/oklog/ulid/v2"
	"github.com/sebdah/goldie/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stake-snapshot/internal/domain"
	"stake-snapshot/internal/idhash"
	"stake-snapshot/internal/storage"
	"stake-snapshot/internal/storage/memory"
)

const namespace = "snapshot1.roles.consortiapool.apps.energyweb.iam.ewc"

var (
	registry  = common.HexToAddress("0x181A8b2a5AEb25941F6A79b4aE43dBb1968c417A")
	fixedTime = time.Date(2024, 3, 1, 12, 30, 45, 123_000_000, time.UTC)
)

func entry(did string, stake string) domain.CredentialEntry {
	return domain.CredentialEntry{
		DID:             did,
		ChainID:         246,
		StakeAmount:     decimal.RequireFromString(stake),
		MinimumBalance:  decimal.NewFromInt(5),
		SnapshotBlock:   1000,
		RegistryAddress: registry,
	}
}

func twoCredentials() *domain.SnapshotDocument {
	// Deliberately unsorted with a duplicate DID
	return domain.NewSnapshotDocument(namespace, 1000, []domain.CredentialEntry{
		entry("did:ethr:ewc:0x000000000000000000000000000000000000000b", "5.5"),
		entry("did:ethr:ewc:0x000000000000000000000000000000000000000a", "20"),
		entry("did:ethr:ewc:0x000000000000000000000000000000000000000b", "5.5"),
	})
}

func TestMarshal_Golden(t *testing.T) {
	body, err := Marshal(twoCredentials())
	require.NoError(t, err)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "two_credentials", body)
}

func TestMarshal_BalanceScaling(t *testing.T) {
	bal := domain.BalanceFromWord(common.HexToHash("0x25f273933db5700000")) // 700 * 10^18
	doc := domain.NewSnapshotDocument(namespace, 1, []domain.CredentialEntry{{
		DID:             "did:ethr:ewc:0x01",
		ChainID:         246,
		StakeAmount:     bal.Amount(),
		MinimumBalance:  decimal.NewFromInt(700),
		SnapshotBlock:   1,
		RegistryAddress: registry,
	}})

	body, err := Marshal(doc)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"stakeAmount": 700,`)
}

func TestMarshal_Deterministic(t *testing.T) {
	a, err := Marshal(twoCredentials())
	require.NoError(t, err)
	b, err := Marshal(twoCredentials())
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestUnmarshal_RoundTrip(t *testing.T) {
	doc := twoCredentials()
	body, err := Marshal(doc)
	require.NoError(t, err)

	got, err := Unmarshal(body)
	require.NoError(t, err)

	assert.Equal(t, doc.CredentialNamespace, got.CredentialNamespace)
	assert.Equal(t, doc.SnapshotBlock, got.SnapshotBlock)
	assert.Equal(t, doc.DIDs(), got.DIDs())
	assert.True(t, got.Credentials[1].StakeAmount.Equal(decimal.RequireFromString("5.5")))
	assert.Equal(t, registry, got.Credentials[0].RegistryAddress)
}

func TestFileWriter_Write(t *testing.T) {
	dir := t.TempDir()
	w := NewFileWriter(dir).WithClock(func() time.Time { return fixedTime })

	art, err := w.Write(context.Background(), twoCredentials())
	require.NoError(t, err)
	require.NotNil(t, art)

	assert.Equal(t, "stakingSnapshot_2024-03-01T12:30:45.123Z.json", art.ID)
	assert.Equal(t, art.ID, art.Name)
	assert.Equal(t, fixedTime, art.CreatedAt)

	onDisk, err := os.ReadFile(filepath.Join(dir, art.ID))
	require.NoError(t, err)
	assert.Equal(t, idhash.ComputeDocumentDigest(onDisk), art.Digest)

	read, err := w.Read(context.Background(), art.ID)
	require.NoError(t, err)
	assert.Equal(t, onDisk, read)

	// Only the artifact remains in the directory
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileWriter_EmptyDocument(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	w := NewFileWriter(dir)

	art, err := w.Write(context.Background(), domain.NewSnapshotDocument(namespace, 1, nil))
	require.NoError(t, err)
	assert.Nil(t, art)

	_, err = os.Stat(dir)
	assert.True(t, os.IsNotExist(err), "no directory should be created for an empty snapshot")
}

func TestFileWriter_NeverOverwrites(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	w := NewFileWriter(dir).WithClock(func() time.Time { return fixedTime })

	first, err := w.Write(ctx, twoCredentials())
	require.NoError(t, err)
	firstBody, err := os.ReadFile(filepath.Join(dir, first.ID))
	require.NoError(t, err)

	other := domain.NewSnapshotDocument(namespace, 2000, []domain.CredentialEntry{entry("did:ethr:ewc:0xcc", "9")})
	second, err := w.Write(ctx, other)
	require.NoError(t, err)

	assert.Equal(t, "stakingSnapshot_2024-03-01T12:30:45.124Z.json", second.ID)
	assert.Equal(t, fixedTime.Add(time.Millisecond), second.CreatedAt)

	body, err := os.ReadFile(filepath.Join(dir, first.ID))
	require.NoError(t, err)
	assert.Equal(t, firstBody, body)

	id, err := w.Latest(ctx, namespace)
	require.NoError(t, err)
	assert.Equal(t, second.ID, id)
}

func TestFileWriter_NameSpaceExhausted(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < maxNameAttempts; i++ {
		name := ArtifactName(fixedTime.Add(time.Duration(i) * time.Millisecond))
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0644))
	}

	w := NewFileWriter(dir).WithClock(func() time.Time { return fixedTime })
	_, err := w.Write(context.Background(), twoCredentials())
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestFileWriter_ReadRejectsPaths(t *testing.T) {
	w := NewFileWriter(t.TempDir())

	_, err := w.Read(context.Background(), "../stakingSnapshot_x.json")
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = w.Read(context.Background(), "stakingSnapshot_missing.json")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStoreWriter_Write(t *testing.T) {
	store := memory.NewSnapshotStore()
	w := NewStoreWriter(store).WithClock(func() time.Time { return fixedTime })
	ctx := context.Background()

	art, err := w.Write(ctx, twoCredentials())
	require.NoError(t, err)
	require.NotNil(t, art)

	id, err := ulid.Parse(art.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(fixedTime.UnixMilli()), id.Time())

	rec, err := store.GetByID(ctx, art.ID)
	require.NoError(t, err)
	assert.Equal(t, namespace, rec.Namespace)
	assert.Equal(t, registry.Hex(), rec.RegistryAddress)
	assert.Equal(t, uint64(246), rec.ChainID)
	assert.Equal(t, uint64(1000), rec.SnapshotBlock)
	assert.Equal(t, art.Digest, rec.Digest)

	body, err := w.Read(ctx, art.ID)
	require.NoError(t, err)
	want, _ := Marshal(twoCredentials())
	assert.Equal(t, want, body)

	// Same clock, distinct ids
	art2, err := w.Write(ctx, twoCredentials())
	require.NoError(t, err)
	assert.NotEqual(t, art.ID, art2.ID)
}

func TestStoreWriter_EmptyDocument(t *testing.T) {
	store := memory.NewSnapshotStore()
	w := NewStoreWriter(store)

	art, err := w.Write(context.Background(), domain.NewSnapshotDocument(namespace, 1, nil))
	require.NoError(t, err)
	assert.Nil(t, art)

	_, err = store.GetLatest(context.Background(), namespace)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFileWriter_Latest(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	_, err := NewFileWriter(filepath.Join(dir, "missing")).Latest(ctx, namespace)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	first, err := NewFileWriter(dir).WithClock(func() time.Time { return fixedTime }).Write(ctx, twoCredentials())
	require.NoError(t, err)

	other := domain.NewSnapshotDocument("other.ns", 1000, []domain.CredentialEntry{entry("did:ethr:ewc:0xcc", "9")})
	_, err = NewFileWriter(dir).WithClock(func() time.Time { return fixedTime.Add(time.Hour) }).Write(ctx, other)
	require.NoError(t, err)

	id, err := NewFileWriter(dir).Latest(ctx, namespace)
	require.NoError(t, err)
	assert.Equal(t, first.ID, id)

	second, err := NewFileWriter(dir).WithClock(func() time.Time { return fixedTime.Add(2 * time.Hour) }).Write(ctx, twoCredentials())
	require.NoError(t, err)

	id, err = NewFileWriter(dir).Latest(ctx, namespace)
	require.NoError(t, err)
	assert.Equal(t, second.ID, id)

	_, err = NewFileWriter(dir).Latest(ctx, "unknown.ns")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestStoreWriter_Latest(t *testing.T) {
	ctx := context.Background()
	w := NewStoreWriter(memory.NewSnapshotStore())

	_, err := w.Latest(ctx, namespace)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	w.WithClock(func() time.Time { return fixedTime })
	first, err := w.Write(ctx, twoCredentials())
	require.NoError(t, err)

	w.WithClock(func() time.Time { return fixedTime.Add(time.Minute) })
	second, err := w.Write(ctx, twoCredentials())
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	id, err := w.Latest(ctx, namespace)
	require.NoError(t, err)
	assert.Equal(t, second.ID, id)
}
