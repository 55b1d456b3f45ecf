package main

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"RainLens/internal/cache"
	"RainLens/internal/codec"
	"RainLens/internal/identity"
	"RainLens/internal/observability"
	"RainLens/internal/persistence"
	"RainLens/internal/query"
	"RainLens/internal/rpc"
	"RainLens/internal/server"
	"RainLens/internal/stream"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "rainlens",
		Short:        "Per-user supply and borrow analytics for the Rain lending program",
		SilenceUsage: true,
	}
	AddFlags(root.PersistentFlags())

	root.AddCommand(
		viewCommand("suppliers", query.ViewSupply, "Print every user's supply (deposits plus accrued interest) for a currency"),
		viewCommand("borrowers", query.ViewBorrow, "Print every user's outstanding borrow for a currency"),
		decodeCommand(),
		serveCommand(),
	)
	return root
}

// ============================================================================
// suppliers / borrowers
// ============================================================================

func viewCommand(use string, view query.View, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <currency>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := ParseFlags(c.Flags())
			if err != nil {
				return err
			}
			currency, err := identity.Parse(args[0])
			if err != nil {
				return fmt.Errorf("currency: %w", err)
			}

			logger := observability.NewLoggerTo(os.Stderr, "rainlens", observability.ParseLogLevel(os.Getenv("RAIN_LOG_LEVEL")))
			svc := newQueryService(cfg, logger, nil)

			var out any
			switch view {
			case query.ViewSupply:
				out, err = svc.FetchRainPools(c.Context(), currency)
			case query.ViewBorrow:
				out, err = svc.FetchRainBorrowers(c.Context(), currency)
			}
			if err != nil {
				return err
			}
			return printJSON(c.OutOrStdout(), out)
		},
	}
}

// ============================================================================
// decode
// ============================================================================

func decodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "decode [base64]",
		Short: "Decode one base64 Pool or Loan account, read from the argument or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			var encoded string
			if len(args) == 1 {
				encoded = args[0]
			} else {
				b, err := io.ReadAll(c.InOrStdin())
				if err != nil {
					return err
				}
				encoded = string(b)
			}

			data, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
			if err != nil {
				return fmt.Errorf("base64: %w", err)
			}
			record, err := codec.Decode(data)
			if err != nil {
				return err
			}
			return printJSON(c.OutOrStdout(), record)
		},
	}
}

// ============================================================================
// serve
// ============================================================================

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve aggregates over HTTP/JSON with gRPC health and Prometheus metrics",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := ParseFlags(c.Flags())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(c.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *Config) error {
	logger := observability.NewLogger("rainlens")
	logger.Info().
		Str("rpc", cfg.RPCURL).
		Str("program", cfg.Program.String()).
		Str("borrow_policy", cfg.BorrowPolicy.String()).
		Msg("RainLens starting")

	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
	checker := observability.NewHealthChecker()
	svc := newQueryService(cfg, observability.NewLogger("query"), metrics)

	snaps, err := cache.NewSnapshots(cfg.CacheSize, cfg.CacheTTL, metrics)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)

	deps := server.APIDeps{
		Service:  svc,
		Cache:    snaps,
		Decimals: cfg.Decimals,
		Timeout:  cfg.QueryTimeout,
		Logger:   observability.NewLogger("api"),
		Metrics:  metrics,
	}

	// --- Postgres snapshot history ---
	if cfg.PostgresDSN != "" {
		db, err := openPostgres(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		store := persistence.NewSnapshotStore(db, cfg.Program)
		ch := make(chan *query.Snapshot, 64)
		worker := persistence.NewSnapshotWorker(store, ch, cfg.RetryAttempts, observability.NewLogger("persistence"), metrics)

		deps.Store = store
		deps.Sinks = append(deps.Sinks, ch)
		checker.AddCheck("postgres", store.Ping)
		g.Go(func() error { return worker.Run(ctx) })
		logger.Info().Msg("snapshot persistence enabled")
	}

	// --- NATS snapshot publication ---
	if cfg.NATSURL != "" {
		natsLogger := observability.NewLogger("stream")
		nc, js, err := stream.Connect(cfg.NATSURL, natsLogger)
		if err != nil {
			return err
		}
		defer nc.Drain()

		if err := stream.EnsureStream(ctx, js, natsLogger); err != nil {
			return err
		}

		ch := make(chan *query.Snapshot, 64)
		publisher := stream.NewSnapshotPublisher(js, ch, natsLogger, metrics)

		deps.Sinks = append(deps.Sinks, ch)
		checker.AddCheck("nats", func(context.Context) error {
			if !nc.IsConnected() {
				return errors.New("not connected")
			}
			return nil
		})
		g.Go(func() error { return publisher.Run(ctx) })
		logger.Info().Str("stream", stream.StreamName).Msg("snapshot publication enabled")
	}

	srv, err := server.NewServer(cfg.GRPCAddr, cfg.HTTPAddr, server.NewAPI(deps), checker, logger)
	if err != nil {
		return err
	}

	// --- Metrics endpoint ---
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error { return srv.StartGRPC(ctx) })
	g.Go(func() error { return srv.StartHTTP(ctx) })
	g.Go(func() error {
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metricsServer.Shutdown(shutdownCtx)
		}()
		logger.Info().Str("addr", cfg.MetricsAddr).Msg("metrics server listening")
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})

	srv.SetServing(true)
	logger.Info().Msg("RainLens ready")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("RainLens stopped with error")
		return err
	}
	logger.Info().Msg("RainLens stopped")
	return nil
}

func newQueryService(cfg *Config, logger zerolog.Logger, metrics *observability.Metrics) *query.Service {
	client := rpc.NewClient(cfg.RPCURL, &http.Client{Timeout: cfg.RPCTimeout}, rpc.Options{
		Commitment:    cfg.Commitment,
		RatePerSecond: cfg.RPCRate,
	})
	return query.NewService(client, query.Config{
		Program:       cfg.Program,
		BorrowPolicy:  cfg.BorrowPolicy,
		RetryAttempts: cfg.RetryAttempts,
	}, logger, metrics)
}

func openPostgres(ctx context.Context, cfg *Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	migrator := persistence.NewMigrator(db, cfg.MigrationsDir).WithLogger(observability.NewLogger("migrate"))
	if err := migrator.Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
