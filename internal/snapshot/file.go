package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"stake-snapshot/internal/domain"
	"stake-snapshot/internal/idhash"
	"stake-snapshot/internal/storage"
)

// maxNameAttempts bounds the search for a free artifact name when runs
// collide within one millisecond.
const maxNameAttempts = 16

// FileWriter writes each snapshot to its own file in a directory.
type FileWriter struct {
	dir string
	now func() time.Time // Injectable clock for deterministic output
}

// Compile-time interface check.
var _ ReadWriter = (*FileWriter)(nil)

// NewFileWriter creates a writer for dir. The directory is created on first write.
func NewFileWriter(dir string) *FileWriter {
	return &FileWriter{
		dir: dir,
		now: defaultClock,
	}
}

// WithClock sets a custom clock function for deterministic output.
func (w *FileWriter) WithClock(now func() time.Time) *FileWriter {
	w.now = now
	return w
}

// Write serializes doc to <dir>/stakingSnapshot_<time>.json.
// An existing file is never overwritten: a taken name is retried one
// millisecond later, up to maxNameAttempts times.
func (w *FileWriter) Write(ctx context.Context, doc *domain.SnapshotDocument) (*Artifact, error) {
	if doc.IsEmpty() {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	body, err := Marshal(doc)
	if err != nil {
		return nil, err
	}

	createdAt := w.now().UTC()

	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	tmp, err := os.CreateTemp(w.dir, ".snapshot-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close snapshot: %w", err)
	}

	// Link fails if the target exists, unlike Rename. A taken name moves
	// the generation time forward by one millisecond.
	var name string
	for attempt := 0; ; attempt++ {
		name = ArtifactName(createdAt)
		err := os.Link(tmp.Name(), filepath.Join(w.dir, name))
		if err == nil {
			break
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("publish snapshot: %w", err)
		}
		if attempt+1 == maxNameAttempts {
			return nil, fmt.Errorf("%w: %s", storage.ErrDuplicateKey, name)
		}
		createdAt = createdAt.Add(time.Millisecond)
	}

	return &Artifact{
		ID:        name,
		Name:      name,
		Digest:    idhash.ComputeDocumentDigest(body),
		CreatedAt: createdAt,
	}, nil
}

// Read returns the serialized snapshot with the given artifact ID.
func (w *FileWriter) Read(_ context.Context, id string) ([]byte, error) {
	if id == "" || filepath.Base(id) != id || !strings.HasPrefix(id, namePrefix) || !strings.HasSuffix(id, nameSuffix) {
		return nil, fmt.Errorf("%w: artifact id %q", storage.ErrInvalidInput, id)
	}

	body, err := os.ReadFile(filepath.Join(w.dir, id))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	return body, nil
}

// Latest scans dir for the newest artifact of namespace. Artifact names
// embed the generation time, so lexical order is generation order.
func (w *FileWriter) Latest(ctx context.Context, namespace string) (string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", storage.ErrNotFound
		}
		return "", fmt.Errorf("list snapshots: %w", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.Type().IsRegular() && strings.HasPrefix(name, namePrefix) && strings.HasSuffix(name, nameSuffix) {
			names = append(names, name)
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(names)))

	for _, name := range names {
		body, err := w.Read(ctx, name)
		if err != nil {
			return "", err
		}
		doc, err := Unmarshal(body)
		if err != nil {
			continue
		}
		if doc.CredentialNamespace == namespace {
			return name, nil
		}
	}
	return "", storage.ErrNotFound
}
