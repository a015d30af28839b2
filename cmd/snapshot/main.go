// Package main provides the staking snapshot entry point.
// Modes: take (compute and persist a snapshot), show (print a stored one),
// verify (recompute a stored one and report divergences).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"stake-snapshot/internal/config"
	"stake-snapshot/internal/engine"
	"stake-snapshot/internal/ledger"
	"stake-snapshot/internal/observability"
	"stake-snapshot/internal/reporting"
	"stake-snapshot/internal/snapshot"
	"stake-snapshot/internal/storage"
	chstore "stake-snapshot/internal/storage/clickhouse"
	pgstore "stake-snapshot/internal/storage/postgres"
	"stake-snapshot/internal/verification"
)

const pushJob = "stake_snapshot"

// Show formats.
const (
	formatJSON     = "json"
	formatCSV      = "csv"
	formatBalances = "balances"
)

// latestID selects the newest artifact of the configured namespace.
const latestID = "latest"

var errDiverged = errors.New("recomputed snapshot diverges from the stored artifact")

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(2)
	}

	mode := flag.String("mode", "take", "Mode: take, show or verify")
	id := flag.String("id", "", "Artifact id for -mode show and -mode verify, or \"latest\"")
	format := flag.String("format", formatJSON, "Output of -mode show: json, csv or balances")
	cfg.RegisterFlags(flag.CommandLine)
	flag.Parse()

	logger := newLogger(os.Stderr, cfg.LogFormat, cfg.LogLevel)

	if cfg.MetricsAddr != "" {
		go serveMetrics(logger, cfg.MetricsAddr)
	}

	// Create context with cancellation for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch *mode {
	case "take":
		err = runTake(ctx, logger, cfg)
	case "show":
		err = runShow(ctx, cfg, *id, *format, os.Stdout)
	case "verify":
		err = runVerify(ctx, logger, cfg, *id, os.Stdout)
	default:
		logger.Fatal().Str("mode", *mode).Msg("unknown mode")
	}

	if cfg.PushgatewayURL != "" && *mode != "show" {
		if perr := observability.DefaultMetrics.Push(cfg.PushgatewayURL, pushJob); perr != nil {
			logger.Warn().Err(perr).Msg("metrics push failed")
		}
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn().Msg("snapshot canceled")
			os.Exit(130)
		}
		logger.Fatal().Err(err).Msg("snapshot failed")
	}
}

// serveMetrics exposes /metrics and /health while a long snapshot runs.
func serveMetrics(logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	logger.Info().Str("addr", addr).Msg("starting metrics server")
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}

// newLogger builds a console or JSON logger at level; unknown levels fall back to info.
func newLogger(w io.Writer, format, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	if format == config.LogFormatConsole {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger()
}

// runTake computes one snapshot and prints the artifact id.
func runTake(ctx context.Context, logger zerolog.Logger, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	networks, err := cfg.NetworkTable()
	if err != nil {
		return err
	}
	endpoint, err := cfg.Endpoint(networks)
	if err != nil {
		return err
	}
	provider, err := cfg.Layout()
	if err != nil {
		return err
	}
	minimum, err := cfg.MinimumBalance()
	if err != nil {
		return err
	}
	selector, err := cfg.EventSelector()
	if err != nil {
		return err
	}

	client, closeClient, err := newLedgerClient(ctx, endpoint, cfg)
	if err != nil {
		return err
	}
	defer closeClient()

	writer, closeWriter, err := newWriter(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeWriter()

	var balances storage.BalanceRecordStore
	if cfg.ClickhouseDSN != "" {
		conn, err := chstore.Open(ctx, cfg.ClickhouseDSN)
		if err != nil {
			return err
		}
		defer conn.Close()
		if err := conn.Migrate(ctx); err != nil {
			return err
		}
		balances = chstore.NewBalanceRecordStore(conn)
		logger.Info().Msg("archiving balances to clickhouse")
	}

	eng, err := engine.New(engine.Options{
		Client:       client,
		Layout:       provider,
		Writer:       writer,
		Networks:     networks,
		LayoutEntity: cfg.LayoutContract,
		LayoutField:  cfg.LayoutField,
		BalanceStore: balances,
		Coordinator:  cfg.CoordinatorConfig(),
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	logger.Info().
		Str("endpoint", endpoint).
		Uint64("slot", eng.Slot()).
		Str("minimum_balance", minimum.String()).
		Msg("taking snapshot")

	res, err := eng.Run(ctx, engine.Request{
		Registry:       cfg.RegistryAddress(),
		ChainID:        cfg.ChainID,
		TargetBlock:    cfg.EndBlock,
		FromBlock:      cfg.StartBlock,
		MinimumBalance: minimum,
		Namespace:      cfg.Namespace,
		EventSelector:  selector,
	})
	if err != nil {
		return err
	}

	if res.Artifact == nil {
		fmt.Println("no qualifying participants")
		return nil
	}
	fmt.Println(res.Artifact.ID)
	return nil
}

// runVerify recomputes a stored artifact and prints a Markdown report.
// A divergence is an error.
func runVerify(ctx context.Context, logger zerolog.Logger, cfg *config.Config, id string, out io.Writer) error {
	if id == "" {
		return fmt.Errorf("-id is required with -mode verify")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	networks, err := cfg.NetworkTable()
	if err != nil {
		return err
	}
	endpoint, err := cfg.Endpoint(networks)
	if err != nil {
		return err
	}
	provider, err := cfg.Layout()
	if err != nil {
		return err
	}
	selector, err := cfg.EventSelector()
	if err != nil {
		return err
	}

	client, closeClient, err := newLedgerClient(ctx, endpoint, cfg)
	if err != nil {
		return err
	}
	defer closeClient()

	reader, closeReader, err := newWriter(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeReader()

	id, err = resolveID(ctx, reader, cfg, id)
	if err != nil {
		return err
	}

	verifier := verification.New(verification.Options{
		Engine: engine.Options{
			Client:       client,
			Layout:       provider,
			Networks:     networks,
			LayoutEntity: cfg.LayoutContract,
			LayoutField:  cfg.LayoutField,
			Coordinator:  cfg.CoordinatorConfig(),
			Logger:       logger,
		},
		Reader: reader,
		Logger: logger,
	})

	res, err := verifier.Verify(ctx, id, engine.Request{
		FromBlock:     cfg.StartBlock,
		EventSelector: selector,
	})
	if err != nil {
		return err
	}

	fmt.Fprint(out, verification.RenderMarkdown(res))
	if !res.Match {
		return errDiverged
	}
	return nil
}

// runShow prints a stored artifact, its credentials as CSV, or the
// archived balances behind it.
func runShow(ctx context.Context, cfg *config.Config, id, format string, out io.Writer) error {
	if id == "" {
		return fmt.Errorf("-id is required with -mode show")
	}
	if format == formatBalances && cfg.ClickhouseDSN == "" {
		return fmt.Errorf("%w: -format balances needs a clickhouse dsn", config.ErrInvalid)
	}

	reader, closeReader, err := newWriter(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeReader()

	id, err = resolveID(ctx, reader, cfg, id)
	if err != nil {
		return err
	}

	if format == formatBalances {
		conn, err := chstore.Open(ctx, cfg.ClickhouseDSN)
		if err != nil {
			return err
		}
		defer conn.Close()

		records, err := chstore.NewBalanceRecordStore(conn).GetBySnapshotID(ctx, id)
		if err != nil {
			return err
		}
		_, err = io.WriteString(out, reporting.RenderBalancesCSV(records))
		return err
	}

	body, err := reader.Read(ctx, id)
	if err != nil {
		return err
	}

	switch format {
	case formatJSON:
		_, err = out.Write(body)
	case formatCSV:
		doc, derr := snapshot.Unmarshal(body)
		if derr != nil {
			return derr
		}
		_, err = io.WriteString(out, reporting.RenderCSV(doc))
	default:
		err = fmt.Errorf("%w: unknown format %q", config.ErrInvalid, format)
	}
	return err
}

// resolveID maps the "latest" alias to the newest artifact of the namespace.
func resolveID(ctx context.Context, reader snapshot.Reader, cfg *config.Config, id string) (string, error) {
	if id != latestID {
		return id, nil
	}
	latest, err := reader.Latest(ctx, cfg.Namespace)
	if err != nil {
		return "", fmt.Errorf("latest snapshot of %s: %w", cfg.Namespace, err)
	}
	return latest, nil
}

// Circuit breaker settings shared by both transports.
const (
	breakerFailures = 5
	breakerCooldown = 30 * time.Second
)

// newLedgerClient picks the transport from the URL scheme. Rate limit and
// circuit breaker apply to both.
func newLedgerClient(ctx context.Context, endpoint string, cfg *config.Config) (ledger.Client, func(), error) {
	switch {
	case strings.HasPrefix(endpoint, "ws://"), strings.HasPrefix(endpoint, "wss://"):
		wsConfig := ledger.DefaultWSConfig()
		wsConfig.RateLimit = cfg.RPCRateLimit
		wsConfig.RateBurst = cfg.RPCBurst
		wsConfig.BreakerFailures = breakerFailures
		wsConfig.BreakerCooldown = breakerCooldown
		client, err := ledger.NewWSClient(ctx, endpoint, &wsConfig)
		if err != nil {
			return nil, nil, err
		}
		return client, func() { client.Close() }, nil

	case strings.HasPrefix(endpoint, "http://"), strings.HasPrefix(endpoint, "https://"):
		opts := []ledger.ClientOption{ledger.WithCircuitBreaker(breakerFailures, breakerCooldown)}
		if cfg.RPCRateLimit > 0 {
			opts = append(opts, ledger.WithRateLimit(cfg.RPCRateLimit, cfg.RPCBurst))
		}
		return ledger.NewHTTPClient(endpoint, opts...), func() {}, nil

	default:
		return nil, nil, fmt.Errorf("%w: unsupported rpc url scheme %q", config.ErrInvalid, endpoint)
	}
}

// newWriter returns a PostgreSQL-backed writer when a DSN is set, a file writer otherwise.
func newWriter(ctx context.Context, cfg *config.Config) (snapshot.ReadWriter, func(), error) {
	if cfg.PostgresDSN == "" {
		return snapshot.NewFileWriter(cfg.OutputDir), func() {}, nil
	}

	pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return snapshot.NewStoreWriter(pgstore.NewSnapshotStore(pool)), pool.Close, nil
}
