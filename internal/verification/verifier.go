// Package verification recomputes stored snapshots and reports where the
// recomputation diverges from the stored artifact.
package verification

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"stake-snapshot/internal/domain"
	"stake-snapshot/internal/engine"
	"stake-snapshot/internal/idhash"
	"stake-snapshot/internal/snapshot"
)

// ErrNotVerifiable is returned for stored documents that carry no
// credentials, since their registry and threshold are unknown.
var ErrNotVerifiable = errors.New("snapshot not verifiable")

// FieldDivergence represents a mismatch between stored and replayed values.
type FieldDivergence struct {
	DID      string
	Field    string
	Expected interface{} // stored value
	Actual   interface{} // replayed value
}

// VerificationResult contains the result of verifying one artifact.
type VerificationResult struct {
	ArtifactID     string
	SnapshotBlock  uint64
	Match          bool     // true if the replayed body is byte-identical
	StoredDigest   string   // digest of the stored body
	ReplayedDigest string   // digest of the replayed body, empty if nothing qualified
	Missing        []string // DIDs stored but not replayed
	Unexpected     []string // DIDs replayed but not stored
	Divergences    []FieldDivergence
}

// Options for creating a Verifier.
type Options struct {
	// Engine configures the replay. Writer and BalanceStore are ignored.
	Engine engine.Options
	Reader snapshot.Reader
	Logger zerolog.Logger
}

// Verifier replays stored snapshots at their recorded block.
type Verifier struct {
	engineOpts engine.Options
	reader     snapshot.Reader
	logger     zerolog.Logger
}

// New creates a Verifier.
func New(opts Options) *Verifier {
	engineOpts := opts.Engine
	engineOpts.BalanceStore = nil
	return &Verifier{
		engineOpts: engineOpts,
		reader:     opts.Reader,
		logger:     opts.Logger.With().Str("component", "verifier").Logger(),
	}
}

// Verify loads artifact id, recomputes it and compares the two documents.
// base supplies the scan parameters the document does not record
// (EventSelector, FromBlock); everything else comes from the stored document.
func (v *Verifier) Verify(ctx context.Context, id string, base engine.Request) (*VerificationResult, error) {
	body, err := v.reader.Read(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("read artifact %s: %w", id, err)
	}
	stored, err := snapshot.Unmarshal(body)
	if err != nil {
		return nil, fmt.Errorf("decode artifact %s: %w", id, err)
	}
	if stored.IsEmpty() {
		return nil, fmt.Errorf("%w: %s has no credentials", ErrNotVerifiable, id)
	}

	first := stored.Credentials[0]
	req := base
	req.Registry = first.RegistryAddress
	req.ChainID = first.ChainID
	req.MinimumBalance = first.MinimumBalance
	req.TargetBlock = stored.SnapshotBlock
	req.Namespace = stored.CredentialNamespace

	capture := &captureWriter{}
	opts := v.engineOpts
	opts.Writer = capture
	eng, err := engine.New(opts)
	if err != nil {
		return nil, err
	}

	res, err := eng.Run(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("replay %s: %w", id, err)
	}

	result := &VerificationResult{
		ArtifactID:    id,
		SnapshotBlock: stored.SnapshotBlock,
		StoredDigest:  idhash.ComputeDocumentDigest(body),
	}
	if res.Artifact != nil {
		result.ReplayedDigest = res.Artifact.Digest
	}
	result.Missing, result.Unexpected, result.Divergences = CompareDocuments(stored, res.Document)
	result.Match = result.StoredDigest == result.ReplayedDigest &&
		len(result.Missing) == 0 && len(result.Unexpected) == 0 && len(result.Divergences) == 0

	v.logger.Info().
		Str("artifact", id).
		Uint64("snapshot_block", stored.SnapshotBlock).
		Bool("match", result.Match).
		Int("divergences", len(result.Divergences)).
		Msg("snapshot verified")

	return result, nil
}

// CompareDocuments matches credentials by DID and reports DIDs present on
// one side only and field mismatches on the rest.
func CompareDocuments(stored, replayed *domain.SnapshotDocument) (missing, unexpected []string, divergences []FieldDivergence) {
	replayedByDID := make(map[string]domain.CredentialEntry, len(replayed.Credentials))
	for _, c := range replayed.Credentials {
		replayedByDID[c.DID] = c
	}
	storedDIDs := make(map[string]struct{}, len(stored.Credentials))

	for _, s := range stored.Credentials {
		storedDIDs[s.DID] = struct{}{}
		r, ok := replayedByDID[s.DID]
		if !ok {
			missing = append(missing, s.DID)
			continue
		}
		divergences = append(divergences, compareEntries(s, r)...)
	}
	for _, r := range replayed.Credentials {
		if _, ok := storedDIDs[r.DID]; !ok {
			unexpected = append(unexpected, r.DID)
		}
	}

	sort.Strings(missing)
	sort.Strings(unexpected)
	return missing, unexpected, divergences
}

func compareEntries(stored, replayed domain.CredentialEntry) []FieldDivergence {
	var divergences []FieldDivergence
	add := func(field string, expected, actual interface{}) {
		divergences = append(divergences, FieldDivergence{
			DID:      stored.DID,
			Field:    field,
			Expected: expected,
			Actual:   actual,
		})
	}

	if stored.ChainID != replayed.ChainID {
		add("ChainID", stored.ChainID, replayed.ChainID)
	}
	if !stored.StakeAmount.Equal(replayed.StakeAmount) {
		add("StakeAmount", stored.StakeAmount.String(), replayed.StakeAmount.String())
	}
	if !stored.MinimumBalance.Equal(replayed.MinimumBalance) {
		add("MinimumBalance", stored.MinimumBalance.String(), replayed.MinimumBalance.String())
	}
	if stored.SnapshotBlock != replayed.SnapshotBlock {
		add("SnapshotBlock", stored.SnapshotBlock, replayed.SnapshotBlock)
	}
	if stored.RegistryAddress != replayed.RegistryAddress {
		add("RegistryAddress", stored.RegistryAddress.Hex(), replayed.RegistryAddress.Hex())
	}
	return divergences
}

// captureWriter serializes the replayed document without persisting it.
type captureWriter struct{}

func (w *captureWriter) Write(_ context.Context, doc *domain.SnapshotDocument) (*snapshot.Artifact, error) {
	if doc.IsEmpty() {
		return nil, nil
	}
	body, err := snapshot.Marshal(doc)
	if err != nil {
		return nil, err
	}
	return &snapshot.Artifact{
		ID:     "replay",
		Digest: idhash.ComputeDocumentDigest(body),
	}, nil
}
