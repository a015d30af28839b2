package config

import (
	"flag"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stake-snapshot/internal/chain"
	"stake-snapshot/internal/coordinator"
	"stake-snapshot/internal/discovery"
	"stake-snapshot/internal/engine"
	"stake-snapshot/internal/layout"
)

func validConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load()
	require.NoError(t, err)
	cfg.SlotIndex = 3
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, chain.EnergyWebChainID, cfg.ChainID)
	assert.Equal(t, "700", cfg.MinBalance)
	sel, err := cfg.EventSelector()
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash(discovery.DefaultEventSelector), sel)
	assert.Equal(t, common.HexToAddress("0x181A8b2a5AEb25941F6A79b4aE43dBb1968c417A"), cfg.RegistryAddress())
	assert.Equal(t, engine.DefaultLayoutEntity, cfg.LayoutContract)
	assert.Equal(t, engine.DefaultLayoutField, cfg.LayoutField)
	assert.Equal(t, int64(-1), cfg.SlotIndex)
	assert.Equal(t, coordinator.DefaultWorkers, cfg.Workers)
	assert.Equal(t, coordinator.DefaultMaxPasses, cfg.MaxPasses)
	assert.Equal(t, coordinator.DefaultInitialBackoff, cfg.InitialBackoff)
	assert.Equal(t, coordinator.DefaultMaxBackoff, cfg.MaxBackoff)
	assert.Equal(t, LogFormatConsole, cfg.LogFormat)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("SNAPSHOT_CHAIN_ID", "73799")
	t.Setenv("STAKINGPOOL", "0x00000000000000000000000000000000000000aa")
	t.Setenv("SNAPSHOT_END_BLOCK", "12345")
	t.Setenv("SNAPSHOT_MIN_BALANCE", "0.5")
	t.Setenv("SNAPSHOT_SLOT_INDEX", "7")
	t.Setenv("SNAPSHOT_NETWORKS", "1337=devnet=http://localhost:8545,99=test")
	t.Setenv("SNAPSHOT_MAX_BACKOFF", "2m")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, chain.VoltaChainID, cfg.ChainID)
	assert.Equal(t, uint64(12345), cfg.EndBlock)
	assert.Equal(t, int64(7), cfg.SlotIndex)
	assert.Equal(t, []string{"1337=devnet=http://localhost:8545", "99=test"}, cfg.Networks)
	assert.Equal(t, 2*time.Minute, cfg.MaxBackoff)

	minimum, err := cfg.MinimumBalance()
	require.NoError(t, err)
	assert.True(t, minimum.Equal(decimal.RequireFromString("0.5")))
	require.NoError(t, cfg.Validate())
}

func TestLoad_BadEnv(t *testing.T) {
	t.Setenv("SNAPSHOT_WORKERS", "many")

	_, err := Load()
	assert.Error(t, err)
}

func TestRegisterFlags_OverrideEnv(t *testing.T) {
	t.Setenv("SNAPSHOT_MIN_BALANCE", "100")
	t.Setenv("SNAPSHOT_WORKERS", "4")

	cfg, err := Load()
	require.NoError(t, err)

	fs := flag.NewFlagSet("snapshot", flag.ContinueOnError)
	cfg.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{
		"-min-balance", "5",
		"-end-block", "900",
		"-network", "1337=devnet",
		"-network", "5=goerli=http://goerli",
	}))

	assert.Equal(t, "5", cfg.MinBalance)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, uint64(900), cfg.EndBlock)
	assert.Equal(t, []string{"1337=devnet", "5=goerli=http://goerli"}, cfg.Networks)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad registry", func(c *Config) { c.Registry = "0x1234" }},
		{"bad min balance", func(c *Config) { c.MinBalance = "lots" }},
		{"negative min balance", func(c *Config) { c.MinBalance = "-1" }},
		{"empty namespace", func(c *Config) { c.Namespace = " " }},
		{"empty topic", func(c *Config) { c.EventTopic = "" }},
		{"truncated topic", func(c *Config) { c.EventTopic = discovery.DefaultEventSelector[:65] }},
		{"unprefixed topic", func(c *Config) { c.EventTopic = discovery.DefaultEventSelector[2:] }},
		{"bare event name", func(c *Config) { c.EventTopic = "StakeAdded" }},
		{"start after end", func(c *Config) { c.StartBlock, c.EndBlock = 10, 5 }},
		{"no slot source", func(c *Config) { c.SlotIndex = -1 }},
		{"bad slot index", func(c *Config) { c.SlotIndex = -2 }},
		{"zero workers", func(c *Config) { c.Workers = 0 }},
		{"zero passes", func(c *Config) { c.MaxPasses = 0 }},
		{"inverted backoff", func(c *Config) { c.MaxBackoff = time.Millisecond }},
		{"negative rate", func(c *Config) { c.RPCRateLimit = -1 }},
		{"bad log format", func(c *Config) { c.LogFormat = "xml" }},
		{"bad network", func(c *Config) { c.Networks = []string{"abc"} }},
		{"unknown chain without url", func(c *Config) { c.ChainID = 1337 }},
		{"network without url", func(c *Config) { c.ChainID = 1337; c.Networks = []string{"1337=devnet"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}

	require.NoError(t, validConfig(t).Validate())
}

func TestEventSelector_Signature(t *testing.T) {
	cfg := validConfig(t)
	cfg.EventTopic = " Transfer(address,address,uint256) "

	require.NoError(t, cfg.Validate())
	sel, err := cfg.EventSelector()
	require.NoError(t, err)
	assert.Equal(t, "0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef", sel.Hex())

	cfg.EventTopic = "0x1234"
	_, err = cfg.EventSelector()
	assert.ErrorIs(t, err, ErrInvalid)
	assert.ErrorIs(t, err, discovery.ErrInvalidSelector)
}

func TestEndpoint(t *testing.T) {
	cfg := validConfig(t)
	cfg.Networks = []string{"1337=devnet=http://localhost:8545"}

	networks, err := cfg.NetworkTable()
	require.NoError(t, err)

	url, err := cfg.Endpoint(networks)
	require.NoError(t, err)
	assert.Equal(t, "https://archive-rpc.energyweb.org", url)

	cfg.ChainID = 1337
	url, err = cfg.Endpoint(networks)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8545", url)

	cfg.RPCURL = "wss://node.example"
	url, err = cfg.Endpoint(networks)
	require.NoError(t, err)
	assert.Equal(t, "wss://node.example", url)
}

func TestLayout_SlotIndex(t *testing.T) {
	cfg := validConfig(t)

	provider, err := cfg.Layout()
	require.NoError(t, err)

	slot, err := provider.SlotIndex(engine.DefaultLayoutEntity, engine.DefaultLayoutField)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), slot)
}

func TestLayout_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "layout.json")
	body := `{"storage":[{"contract":"contracts/StakingPool.sol:StakingPool","label":"stakes","offset":0,"slot":"9","type":"t_mapping"}]}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg := validConfig(t)
	cfg.SlotIndex = -1
	cfg.StorageLayout = path
	require.NoError(t, cfg.Validate())

	provider, err := cfg.Layout()
	require.NoError(t, err)

	slot, err := provider.SlotIndex("StakingPool", "stakes")
	require.NoError(t, err)
	assert.Equal(t, uint64(9), slot)

	_, err = provider.SlotIndex("StakingPool", "balances")
	assert.ErrorIs(t, err, layout.ErrFieldNotFound)
}

func TestCoordinatorConfig(t *testing.T) {
	cfg := validConfig(t)
	cfg.Workers = 3

	cc := cfg.CoordinatorConfig()
	assert.Equal(t, 3, cc.Workers)
	assert.Equal(t, cfg.MaxPasses, cc.MaxPasses)
	assert.Equal(t, uint64(coordinator.DefaultJitterPercent), cc.JitterPercent)
}
