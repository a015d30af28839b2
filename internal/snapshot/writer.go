package snapshot

import (
	"context"
	"time"

	"stake-snapshot/internal/domain"
)

// Artifact identifies a persisted snapshot.
type Artifact struct {
	ID        string    // file name or store key
	Name      string    // stakingSnapshot_<time>.json
	Digest    string    // hex SHA256 of the serialized body
	CreatedAt time.Time // generation time, UTC
}

// Writer persists snapshot documents.
type Writer interface {
	// Write persists doc and returns its artifact.
	// Returns nil, nil without any I/O when doc has no credentials.
	Write(ctx context.Context, doc *domain.SnapshotDocument) (*Artifact, error)
}

// Reader retrieves serialized snapshots by artifact ID.
type Reader interface {
	Read(ctx context.Context, id string) ([]byte, error)

	// Latest returns the ID of the newest artifact for namespace.
	// Returns storage.ErrNotFound if there is none.
	Latest(ctx context.Context, namespace string) (string, error)
}

// ReadWriter persists and retrieves snapshots.
type ReadWriter interface {
	Writer
	Reader
}

// namePrefix and nameSuffix frame the generation time in artifact names.
const (
	namePrefix = "stakingSnapshot_"
	nameSuffix = ".json"
	nameLayout = "2006-01-02T15:04:05.000Z07:00"
)

// ArtifactName returns the artifact name for a generation time.
func ArtifactName(t time.Time) string {
	return namePrefix + t.UTC().Format(nameLayout) + nameSuffix
}

func defaultClock() time.Time {
	return time.Now().UTC()
}
