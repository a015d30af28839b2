// Package config loads snapshot settings from the environment and
// command-line flags. Flags override environment values.
package config

import (
	"errors"
	"flag"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"stake-snapshot/internal/chain"
	"stake-snapshot/internal/coordinator"
	"stake-snapshot/internal/discovery"
	"stake-snapshot/internal/layout"
)

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid config")

// Log formats.
const (
	LogFormatConsole = "console"
	LogFormatJSON    = "json"
)

// Config holds all settings of one snapshot invocation.
type Config struct {
	// Ledger endpoint; empty falls back to the network table default
	RPCURL       string  `env:"SNAPSHOT_RPC_URL"`
	RPCRateLimit float64 `env:"SNAPSHOT_RPC_RATE_LIMIT" envDefault:"0"` // requests/s, 0 = unlimited
	RPCBurst     int     `env:"SNAPSHOT_RPC_BURST"      envDefault:"10"`

	// Snapshot parameters
	ChainID    uint64 `env:"SNAPSHOT_CHAIN_ID"    envDefault:"246"`
	Registry   string `env:"STAKINGPOOL"          envDefault:"0x181A8b2a5AEb25941F6A79b4aE43dBb1968c417A"`
	StartBlock uint64 `env:"SNAPSHOT_START_BLOCK"`
	EndBlock   uint64 `env:"SNAPSHOT_END_BLOCK"` // 0 = chain head
	MinBalance string `env:"SNAPSHOT_MIN_BALANCE" envDefault:"700"`
	Namespace  string `env:"SNAPSHOT_NAMESPACE"   envDefault:"snapshot1.roles.consortiapool.apps.energyweb.iam.ewc"`
	EventTopic string `env:"SNAPSHOT_EVENT_TOPIC" envDefault:"0x270d6dd254edd1d985c81cf7861b8f28fb06b6d719df04d90464034d43412440"`

	// Storage layout: either a fixed slot index or a solc layout file
	SlotIndex      int64  `env:"SNAPSHOT_SLOT_INDEX"      envDefault:"-1"` // -1 = unset
	StorageLayout  string `env:"SNAPSHOT_STORAGE_LAYOUT"`
	LayoutContract string `env:"SNAPSHOT_LAYOUT_CONTRACT" envDefault:"StakingPool"`
	LayoutField    string `env:"SNAPSHOT_LAYOUT_FIELD"    envDefault:"stakes"`

	// Extra networks as id=name[=rpc]
	Networks []string `env:"SNAPSHOT_NETWORKS" envSeparator:","`

	// Retry coordination
	Workers        int           `env:"SNAPSHOT_WORKERS"         envDefault:"16"`
	MaxPasses      int           `env:"SNAPSHOT_MAX_PASSES"      envDefault:"10"`
	InitialBackoff time.Duration `env:"SNAPSHOT_INITIAL_BACKOFF" envDefault:"500ms"`
	MaxBackoff     time.Duration `env:"SNAPSHOT_MAX_BACKOFF"     envDefault:"30s"`

	// Outputs
	OutputDir      string `env:"SNAPSHOT_OUTPUT_DIR" envDefault:"."`
	PostgresDSN    string `env:"SNAPSHOT_POSTGRES_DSN"`
	ClickhouseDSN  string `env:"SNAPSHOT_CLICKHOUSE_DSN"`
	PushgatewayURL string `env:"SNAPSHOT_PUSHGATEWAY_URL"`
	MetricsAddr    string `env:"SNAPSHOT_METRICS_ADDR"` // empty disables the /metrics listener

	LogLevel  string `env:"SNAPSHOT_LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"SNAPSHOT_LOG_FORMAT" envDefault:"console"`
}

// Load parses the environment into a Config with defaults applied.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

// RegisterFlags binds every setting to a flag on fs, using the loaded
// values as defaults. Call fs.Parse afterwards.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.StringVar(&c.RPCURL, "rpc-url", c.RPCURL, "Ledger JSON-RPC endpoint (http, https, ws or wss)")
	fs.Float64Var(&c.RPCRateLimit, "rpc-rate-limit", c.RPCRateLimit, "Max RPC requests per second, 0 for unlimited")
	fs.IntVar(&c.RPCBurst, "rpc-burst", c.RPCBurst, "RPC rate limiter burst")

	fs.Uint64Var(&c.ChainID, "chain-id", c.ChainID, "Chain the registry lives on")
	fs.StringVar(&c.Registry, "registry", c.Registry, "Staking pool contract address")
	fs.Uint64Var(&c.StartBlock, "start-block", c.StartBlock, "First block of the event scan")
	fs.Uint64Var(&c.EndBlock, "end-block", c.EndBlock, "Snapshot block, 0 for the chain head")
	fs.StringVar(&c.MinBalance, "min-balance", c.MinBalance, "Minimum stake to qualify")
	fs.StringVar(&c.Namespace, "namespace", c.Namespace, "Credential namespace")
	fs.StringVar(&c.EventTopic, "event-topic", c.EventTopic, "Stake event topic or signature")

	fs.Int64Var(&c.SlotIndex, "slot-index", c.SlotIndex, "Base slot of the balance mapping, -1 to use -storage-layout")
	fs.StringVar(&c.StorageLayout, "storage-layout", c.StorageLayout, "Path to a solc storage layout JSON file")
	fs.StringVar(&c.LayoutContract, "layout-contract", c.LayoutContract, "Contract name in the storage layout")
	fs.StringVar(&c.LayoutField, "layout-field", c.LayoutField, "Balance mapping field in the storage layout")

	fs.Func("network", "Extra network as id=name[=rpc], repeatable", func(s string) error {
		c.Networks = append(c.Networks, s)
		return nil
	})

	fs.IntVar(&c.Workers, "workers", c.Workers, "Concurrent storage reads per pass")
	fs.IntVar(&c.MaxPasses, "max-passes", c.MaxPasses, "Probe passes before giving up")
	fs.DurationVar(&c.InitialBackoff, "initial-backoff", c.InitialBackoff, "Delay before the second pass")
	fs.DurationVar(&c.MaxBackoff, "max-backoff", c.MaxBackoff, "Upper bound on the delay between passes")

	fs.StringVar(&c.OutputDir, "output-dir", c.OutputDir, "Directory for snapshot files")
	fs.StringVar(&c.PostgresDSN, "postgres-dsn", c.PostgresDSN, "Store snapshots in PostgreSQL instead of files")
	fs.StringVar(&c.ClickhouseDSN, "clickhouse-dsn", c.ClickhouseDSN, "Archive resolved balances in ClickHouse")
	fs.StringVar(&c.PushgatewayURL, "pushgateway-url", c.PushgatewayURL, "Prometheus Pushgateway URL")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "Prometheus metrics HTTP address (empty to disable)")

	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "Log format: console or json")
}

// Validate checks every setting that can be checked offline.
func (c *Config) Validate() error {
	if !common.IsHexAddress(c.Registry) {
		return fmt.Errorf("%w: registry %q is not an address", ErrInvalid, c.Registry)
	}
	if _, err := c.MinimumBalance(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Namespace) == "" {
		return fmt.Errorf("%w: namespace is required", ErrInvalid)
	}
	if strings.TrimSpace(c.EventTopic) == "" {
		return fmt.Errorf("%w: event topic is required", ErrInvalid)
	}
	if _, err := c.EventSelector(); err != nil {
		return err
	}
	if c.EndBlock != 0 && c.StartBlock > c.EndBlock {
		return fmt.Errorf("%w: start block %d is after end block %d", ErrInvalid, c.StartBlock, c.EndBlock)
	}
	if c.SlotIndex < -1 {
		return fmt.Errorf("%w: slot index %d", ErrInvalid, c.SlotIndex)
	}
	if c.SlotIndex == -1 && c.StorageLayout == "" {
		return fmt.Errorf("%w: one of slot index or storage layout is required", ErrInvalid)
	}
	if c.LayoutContract == "" || c.LayoutField == "" {
		return fmt.Errorf("%w: layout contract and field are required", ErrInvalid)
	}
	if c.Workers < 1 {
		return fmt.Errorf("%w: workers must be positive, got %d", ErrInvalid, c.Workers)
	}
	if c.MaxPasses < 1 {
		return fmt.Errorf("%w: max passes must be positive, got %d", ErrInvalid, c.MaxPasses)
	}
	if c.InitialBackoff <= 0 || c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("%w: backoff %s..%s", ErrInvalid, c.InitialBackoff, c.MaxBackoff)
	}
	if c.RPCRateLimit < 0 {
		return fmt.Errorf("%w: negative rpc rate limit", ErrInvalid)
	}
	if c.LogFormat != LogFormatConsole && c.LogFormat != LogFormatJSON {
		return fmt.Errorf("%w: log format %q", ErrInvalid, c.LogFormat)
	}

	networks, err := c.NetworkTable()
	if err != nil {
		return err
	}
	if _, err := c.Endpoint(networks); err != nil {
		return err
	}
	return nil
}

// RegistryAddress returns the parsed registry address.
func (c *Config) RegistryAddress() common.Address {
	return common.HexToAddress(c.Registry)
}

// MinimumBalance returns the parsed, non-negative threshold.
func (c *Config) MinimumBalance() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(c.MinBalance))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: min balance %q: %w", ErrInvalid, c.MinBalance, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: min balance %s is negative", ErrInvalid, d)
	}
	return d, nil
}

// EventSelector returns topics[0] of the stake event.
func (c *Config) EventSelector() (common.Hash, error) {
	sel, err := discovery.ParseEventSelector(c.EventTopic)
	if err != nil {
		return common.Hash{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return sel, nil
}

// NetworkTable returns the default networks extended with c.Networks.
func (c *Config) NetworkTable() (*chain.Table, error) {
	table := chain.DefaultTable()
	for _, spec := range c.Networks {
		if strings.TrimSpace(spec) == "" {
			continue
		}
		n, err := chain.ParseNetwork(spec)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		if err := table.Register(n); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
	}
	return table, nil
}

// Endpoint returns RPCURL, or the table's default endpoint for ChainID.
func (c *Config) Endpoint(networks *chain.Table) (string, error) {
	if c.RPCURL != "" {
		return c.RPCURL, nil
	}
	n, err := networks.Lookup(c.ChainID)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if n.RPCEndpoint == "" {
		return "", fmt.Errorf("%w: no rpc url for chain %d", ErrInvalid, c.ChainID)
	}
	return n.RPCEndpoint, nil
}

// Layout returns the storage layout provider the settings describe.
// A layout file takes precedence over a slot index.
func (c *Config) Layout() (layout.Provider, error) {
	if c.StorageLayout != "" {
		l, err := layout.LoadSolcLayout(c.StorageLayout)
		if err != nil {
			return nil, fmt.Errorf("load storage layout: %w", err)
		}
		return l, nil
	}
	if c.SlotIndex < 0 {
		return nil, fmt.Errorf("%w: slot index is not set", ErrInvalid)
	}
	return layout.StaticSlot(c.LayoutContract, c.LayoutField, uint64(c.SlotIndex)), nil
}

// CoordinatorConfig returns the retry settings.
func (c *Config) CoordinatorConfig() coordinator.Config {
	return coordinator.Config{
		Workers:        c.Workers,
		MaxPasses:      c.MaxPasses,
		InitialBackoff: c.InitialBackoff,
		MaxBackoff:     c.MaxBackoff,
		JitterPercent:  coordinator.DefaultJitterPercent,
	}
}
