// Package engine computes one staking snapshot per invocation.
// Flow: discovery → coordinated storage probes → aggregation → persistence
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"stake-snapshot/internal/aggregate"
	"stake-snapshot/internal/chain"
	"stake-snapshot/internal/coordinator"
	"stake-snapshot/internal/discovery"
	"stake-snapshot/internal/domain"
	"stake-snapshot/internal/idhash"
	"stake-snapshot/internal/layout"
	"stake-snapshot/internal/ledger"
	"stake-snapshot/internal/observability"
	"stake-snapshot/internal/probe"
	"stake-snapshot/internal/snapshot"
	"stake-snapshot/internal/storage"
)

// Default layout coordinates of the balance mapping.
const (
	DefaultLayoutEntity = "StakingPool"
	DefaultLayoutField  = "stakes"
)

// Run statuses reported to metrics.
const (
	statusSuccess = "success"
	statusEmpty   = "empty"
	statusError   = "error"
)

var (
	// ErrConfiguration is returned for invalid options or requests. It is
	// raised before any discovery traffic.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrDiscovery is returned when the event history scan fails.
	ErrDiscovery = errors.New("discovery failed")
)

// Options for creating an Engine.
type Options struct {
	// Required
	Client ledger.Client
	Layout layout.Provider
	Writer snapshot.Writer

	// Networks defaults to chain.DefaultTable()
	Networks *chain.Table

	// Balance mapping location, defaults DefaultLayoutEntity.DefaultLayoutField
	LayoutEntity string
	LayoutField  string

	// Optional audit sink for resolved balances
	BalanceStore storage.BalanceRecordStore

	Coordinator coordinator.Config
	Logger      zerolog.Logger
	Now         func() time.Time // Injectable clock for audit rows
}

// Request describes one snapshot.
type Request struct {
	Registry       common.Address
	ChainID        uint64
	TargetBlock    uint64 // 0 = chain head
	FromBlock      uint64 // scan lower bound, 0 = genesis
	MinimumBalance decimal.Decimal
	Namespace      string
	EventSelector  common.Hash
}

// Result contains results from one run.
type Result struct {
	SnapshotBlock uint64
	Scan          *discovery.ScanResult
	Resolution    *coordinator.Resolution
	Document      *domain.SnapshotDocument
	Artifact      *snapshot.Artifact // nil when no participant qualified

	// AuditErr is set when balance records could not be stored. The
	// artifact is persisted regardless.
	AuditErr error
}

// Engine wires the snapshot components.
type Engine struct {
	client       ledger.Client
	networks     *chain.Table
	writer       snapshot.Writer
	balanceStore storage.BalanceRecordStore
	slot         uint64
	coordConfig  coordinator.Config
	aggregator   *aggregate.Aggregator
	logger       zerolog.Logger
	now          func() time.Time
}

// New validates opts and creates an Engine.
// Returns an error wrapping ErrConfiguration on invalid options.
func New(opts Options) (*Engine, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("%w: ledger client is required", ErrConfiguration)
	}
	if opts.Layout == nil {
		return nil, fmt.Errorf("%w: storage layout is required", ErrConfiguration)
	}
	if opts.Writer == nil {
		return nil, fmt.Errorf("%w: snapshot writer is required", ErrConfiguration)
	}

	networks := opts.Networks
	if networks == nil {
		networks = chain.DefaultTable()
	}
	if len(networks.ChainIDs()) == 0 {
		return nil, fmt.Errorf("%w: network table is empty", ErrConfiguration)
	}

	entity, field := opts.LayoutEntity, opts.LayoutField
	if entity == "" {
		entity = DefaultLayoutEntity
	}
	if field == "" {
		field = DefaultLayoutField
	}
	slot, err := opts.Layout.SlotIndex(entity, field)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	logger := opts.Logger.With().Str("component", "engine").Logger()

	return &Engine{
		client:       opts.Client,
		networks:     networks,
		writer:       opts.Writer,
		balanceStore: opts.BalanceStore,
		slot:         slot,
		coordConfig:  opts.Coordinator,
		aggregator:   aggregate.New(networks, opts.Logger),
		logger:       logger,
		now:          now,
	}, nil
}

// Slot returns the resolved base slot of the balance mapping.
func (e *Engine) Slot() uint64 {
	return e.slot
}

// Run executes one snapshot.
// Phases:
//  1. Validate the request and the endpoint's chain
//  2. Resolve the target block
//  3. Scan event history for candidates
//  4. Resolve every candidate balance at the target block
//  5. Aggregate, persist and audit
func (e *Engine) Run(ctx context.Context, req Request) (result *Result, err error) {
	start := time.Now()
	defer func() {
		status, credentials, block := statusError, 0, uint64(0)
		if err == nil {
			status, block = statusSuccess, result.SnapshotBlock
			credentials = len(result.Document.Credentials)
			if result.Artifact == nil {
				status = statusEmpty
			}
		}
		observability.RecordSnapshotRun(status, time.Since(start).Seconds(), credentials, block)
	}()

	// Phase 1: validation
	if err := e.validate(req); err != nil {
		return nil, err
	}
	if err := e.checkChain(ctx, req.ChainID); err != nil {
		return nil, err
	}

	// Phase 2: target block
	target := req.TargetBlock
	if target == 0 {
		head, err := e.client.BlockNumber(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve head block: %w", err)
		}
		target = head
	}
	if req.FromBlock > target {
		return nil, fmt.Errorf("%w: from block %d is after target block %d", ErrConfiguration, req.FromBlock, target)
	}

	log := e.logger.With().
		Str("registry", req.Registry.Hex()).
		Uint64("chain_id", req.ChainID).
		Uint64("snapshot_block", target).
		Logger()
	log.Info().Msg("snapshot started")

	// Phase 3: discovery
	scanner := discovery.NewScanner(discovery.Options{
		Client:    e.client,
		FromBlock: req.FromBlock,
		Logger:    e.logger,
	})
	scan, err := scanner.Scan(ctx, req.Registry, req.EventSelector, target)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: %w", ErrDiscovery, err)
	}

	// Phase 4: balance resolution
	coord := coordinator.New(coordinator.Options{
		Prober:      probe.New(e.client),
		Registry:    req.Registry,
		Slot:        e.slot,
		TargetBlock: target,
		Config:      e.coordConfig,
		Logger:      e.logger,
	})
	resolution, err := coord.Resolve(ctx, scan.Candidates)
	if err != nil {
		return nil, fmt.Errorf("resolve balances: %w", err)
	}

	// Phase 5: aggregation and persistence
	entries, err := e.aggregator.Aggregate(resolution.Balances, req.MinimumBalance, req.ChainID, req.Registry, target)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	doc := domain.NewSnapshotDocument(req.Namespace, target, entries)

	artifact, err := e.writer.Write(ctx, doc)
	if err != nil {
		return nil, fmt.Errorf("write snapshot: %w", err)
	}

	var auditErr error
	if artifact == nil {
		log.Info().Int("candidates", len(scan.Candidates)).Msg("no qualifying participants, nothing written")
	} else {
		if auditErr = e.audit(ctx, artifact.ID, target, req.MinimumBalance, resolution); auditErr != nil {
			log.Warn().Err(auditErr).Str("artifact", artifact.ID).Msg("balance audit not stored")
		}
		log.Info().
			Str("artifact", artifact.ID).
			Str("digest", artifact.Digest).
			Int("credentials", len(doc.Credentials)).
			Int("candidates", len(scan.Candidates)).
			Int("passes", resolution.Passes).
			Msg("snapshot written")
	}

	return &Result{
		SnapshotBlock: target,
		Scan:          scan,
		Resolution:    resolution,
		Document:      doc,
		Artifact:      artifact,
		AuditErr:      auditErr,
	}, nil
}

// validate checks a request without touching the network.
func (e *Engine) validate(req Request) error {
	if req.Registry == (common.Address{}) {
		return fmt.Errorf("%w: registry address is required", ErrConfiguration)
	}
	if req.Namespace == "" {
		return fmt.Errorf("%w: credential namespace is required", ErrConfiguration)
	}
	if req.EventSelector == (common.Hash{}) {
		return fmt.Errorf("%w: event selector is required", ErrConfiguration)
	}
	if err := aggregate.ValidateMinimum(req.MinimumBalance); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if _, err := e.networks.Lookup(req.ChainID); err != nil {
		return fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return nil
}

// checkChain verifies the endpoint serves chainID.
func (e *Engine) checkChain(ctx context.Context, chainID uint64) error {
	served, err := e.client.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("query chain id: %w", err)
	}
	if served != chainID {
		return fmt.Errorf("%w: endpoint serves chain %d, configured %d", ErrConfiguration, served, chainID)
	}
	return nil
}

// audit stores one row per resolved candidate when a balance store is set.
func (e *Engine) audit(ctx context.Context, snapshotID string, block uint64, minimum decimal.Decimal, res *coordinator.Resolution) error {
	if e.balanceStore == nil {
		return nil
	}

	createdAt := e.now().UnixMilli()
	records := make([]*domain.BalanceRecord, 0, len(res.Balances))
	for addr, bal := range res.Balances {
		records = append(records, &domain.BalanceRecord{
			RecordID:      idhash.ComputeBalanceRecordID(snapshotID, addr.Hex(), block),
			SnapshotID:    snapshotID,
			Address:       addr.Hex(),
			RawBalance:    bal.Raw().ToBig().String(),
			Amount:        bal.Amount().String(),
			Qualified:     bal.Meets(minimum),
			SnapshotBlock: block,
			Attempts:      res.Attempts[addr],
			CreatedAt:     createdAt,
		})
	}

	if err := e.balanceStore.InsertBulk(ctx, records); err != nil {
		return fmt.Errorf("store balance records: %w", err)
	}
	return nil
}
