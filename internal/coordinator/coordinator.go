// Package coordinator drives storage probes to completion across passes.
//
// Each pass probes every pending candidate through a bounded worker pool.
// Candidates whose read failed transiently form the retry set, which becomes
// the next pass's pending set after an exponential backoff. Resolution stops
// when the retry set is empty or the pass limit is reached.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"stake-snapshot/internal/domain"
	"stake-snapshot/internal/observability"
	"stake-snapshot/internal/probe"
)

// Default configuration values.
const (
	DefaultWorkers        = 16
	DefaultMaxPasses      = 10
	DefaultInitialBackoff = 500 * time.Millisecond
	DefaultMaxBackoff     = 30 * time.Second
	DefaultJitterPercent  = 10
)

// ErrExhaustedRetries is returned when candidates remain unresolved after
// the last permitted pass.
var ErrExhaustedRetries = errors.New("retries exhausted")

// errPassIncomplete marks a pass that left a non-empty retry set.
var errPassIncomplete = errors.New("pass incomplete")

// ExhaustedError lists the candidates left unresolved.
type ExhaustedError struct {
	Unresolved []common.Address
	Passes     int
}

func (e *ExhaustedError) Error() string {
	addrs := make([]string, len(e.Unresolved))
	for i, a := range e.Unresolved {
		addrs[i] = a.Hex()
	}
	return fmt.Sprintf("%v after %d passes: %d unresolved [%s]",
		ErrExhaustedRetries, e.Passes, len(e.Unresolved), strings.Join(addrs, ", "))
}

func (e *ExhaustedError) Unwrap() error {
	return ErrExhaustedRetries
}

// Prober reads one candidate's balance.
type Prober interface {
	ReadBalance(ctx context.Context, candidate common.Address, slot uint64, registry common.Address, targetBlock uint64) (domain.Balance, error)
}

// Config holds pass scheduling parameters.
type Config struct {
	Workers        int           // max in-flight reads per pass
	MaxPasses      int           // passes before giving up
	InitialBackoff time.Duration // delay before the second pass
	MaxBackoff     time.Duration // cap on the delay between passes
	JitterPercent  uint64        // random +/- percentage applied to each delay
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Workers:        DefaultWorkers,
		MaxPasses:      DefaultMaxPasses,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		JitterPercent:  DefaultJitterPercent,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.MaxPasses <= 0 {
		c.MaxPasses = d.MaxPasses
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = d.InitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = d.MaxBackoff
	}
	if c.MaxBackoff < c.InitialBackoff {
		c.MaxBackoff = c.InitialBackoff
	}
	return c
}

// Options configures a Coordinator.
type Options struct {
	Prober      Prober
	Registry    common.Address
	Slot        uint64
	TargetBlock uint64
	Config      Config
	Logger      zerolog.Logger
}

// Resolution is the outcome of a completed resolve.
type Resolution struct {
	Balances map[common.Address]domain.Balance
	Attempts map[common.Address]int
	Passes   int
}

// Coordinator resolves candidate balances at one target block.
type Coordinator struct {
	prober      Prober
	registry    common.Address
	slot        uint64
	targetBlock uint64
	config      Config
	logger      zerolog.Logger
}

// New creates a coordinator.
func New(opts Options) *Coordinator {
	return &Coordinator{
		prober:      opts.Prober,
		registry:    opts.Registry,
		slot:        opts.Slot,
		targetBlock: opts.TargetBlock,
		config:      opts.Config.withDefaults(),
		logger:      opts.Logger.With().Str("component", "coordinator").Logger(),
	}
}

// Resolve probes candidates until every balance is known.
// Returns an *ExhaustedError wrapping ErrExhaustedRetries when the pass
// limit is reached, or the context error on cancellation.
func (c *Coordinator) Resolve(ctx context.Context, candidates []common.Address) (*Resolution, error) {
	res := &Resolution{
		Balances: make(map[common.Address]domain.Balance, len(candidates)),
		Attempts: make(map[common.Address]int, len(candidates)),
	}

	pending := domain.NewCandidateSet(candidates...).Sorted()
	if len(pending) == 0 {
		return res, nil
	}

	backoff := retry.NewExponential(c.config.InitialBackoff)
	backoff = retry.WithCappedDuration(c.config.MaxBackoff, backoff)
	if c.config.JitterPercent > 0 {
		backoff = retry.WithJitterPercent(c.config.JitterPercent, backoff)
	}
	backoff = retry.WithMaxRetries(uint64(c.config.MaxPasses-1), backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		res.Passes++
		retrySet, err := c.pass(ctx, pending, res)
		if err != nil {
			return err
		}
		if len(retrySet) == 0 {
			return nil
		}

		c.logger.Warn().
			Int("pass", res.Passes).
			Int("unresolved", len(retrySet)).
			Msg("pass left candidates unresolved")

		pending = retrySet
		return retry.RetryableError(fmt.Errorf("%w: %d unresolved", errPassIncomplete, len(retrySet)))
	})
	if err != nil {
		if errors.Is(err, errPassIncomplete) {
			return nil, &ExhaustedError{Unresolved: pending, Passes: res.Passes}
		}
		return nil, err
	}

	c.logger.Info().
		Int("resolved", len(res.Balances)).
		Int("passes", res.Passes).
		Msg("all candidates resolved")

	return res, nil
}

// pass probes pending once and returns the candidates to retry, sorted.
func (c *Coordinator) pass(ctx context.Context, pending []common.Address, res *Resolution) ([]common.Address, error) {
	start := time.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.Workers)

	var mu sync.Mutex
	var retrySet []common.Address

	for _, candidate := range pending {
		candidate := candidate
		g.Go(func() error {
			bal, err := c.prober.ReadBalance(gctx, candidate, c.slot, c.registry, c.targetBlock)

			mu.Lock()
			defer mu.Unlock()

			res.Attempts[candidate]++
			if err != nil {
				if !errors.Is(err, probe.ErrTransient) {
					return err
				}
				retrySet = append(retrySet, candidate)
				observability.RecordProbe(observability.OutcomeTransient)
				c.logger.Warn().Err(err).Str("candidate", candidate.Hex()).Msg("probe failed, will retry")
				return nil
			}

			res.Balances[candidate] = bal
			observability.RecordProbe(observability.OutcomeResolved)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	domain.SortAddresses(retrySet)
	observability.RecordPass(time.Since(start).Seconds(), len(retrySet))
	return retrySet, nil
}
