package snapshot

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"stake-snapshot/internal/domain"
	"stake-snapshot/internal/idhash"
	"stake-snapshot/internal/storage"
)

// StoreWriter persists snapshots as records of a storage.SnapshotStore.
type StoreWriter struct {
	store storage.SnapshotStore
	now   func() time.Time

	mu      sync.Mutex
	entropy io.Reader // monotonic, not safe for concurrent use
}

// Compile-time interface check.
var _ ReadWriter = (*StoreWriter)(nil)

// NewStoreWriter creates a writer over store.
func NewStoreWriter(store storage.SnapshotStore) *StoreWriter {
	return &StoreWriter{
		store:   store,
		now:     defaultClock,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

// WithClock sets a custom clock function for deterministic output.
func (w *StoreWriter) WithClock(now func() time.Time) *StoreWriter {
	w.now = now
	return w
}

// Write inserts doc keyed by a ULID of the generation time.
func (w *StoreWriter) Write(ctx context.Context, doc *domain.SnapshotDocument) (*Artifact, error) {
	if doc.IsEmpty() {
		return nil, nil
	}

	body, err := Marshal(doc)
	if err != nil {
		return nil, err
	}

	createdAt := w.now().UTC()
	id, err := w.newID(createdAt)
	if err != nil {
		return nil, err
	}

	first := doc.Credentials[0]
	rec := &domain.SnapshotRecord{
		ID:              id,
		Name:            ArtifactName(createdAt),
		Namespace:       doc.CredentialNamespace,
		RegistryAddress: first.RegistryAddress.Hex(),
		ChainID:         first.ChainID,
		SnapshotBlock:   doc.SnapshotBlock,
		Digest:          idhash.ComputeDocumentDigest(body),
		Body:            body,
		CreatedAt:       createdAt.UnixMilli(),
	}

	if err := w.store.Insert(ctx, rec); err != nil {
		return nil, fmt.Errorf("insert snapshot: %w", err)
	}

	return &Artifact{
		ID:        rec.ID,
		Name:      rec.Name,
		Digest:    rec.Digest,
		CreatedAt: createdAt,
	}, nil
}

// Read returns the serialized snapshot stored under id.
func (w *StoreWriter) Read(ctx context.Context, id string) ([]byte, error) {
	if _, err := ulid.Parse(id); err != nil {
		return nil, fmt.Errorf("%w: artifact id %q: %v", storage.ErrInvalidInput, id, err)
	}
	rec, err := w.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.Body, nil
}

// Latest returns the ID of the newest stored snapshot for namespace.
func (w *StoreWriter) Latest(ctx context.Context, namespace string) (string, error) {
	rec, err := w.store.GetLatest(ctx, namespace)
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

func (w *StoreWriter) newID(t time.Time) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(t), w.entropy)
	if err != nil {
		return "", fmt.Errorf("generate snapshot id: %w", err)
	}
	return id.String(), nil
}
