package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"

	"RainLens/internal/aggregate"
	"RainLens/internal/identity"
	"RainLens/internal/schema"
)

const (
	RPCURLKey             = "rpc-url"
	RPCTimeoutKey         = "rpc-timeout"
	RPCRateKey            = "rpc-rate"
	CommitmentKey         = "commitment"
	ProgramIDKey          = "program-id"
	IncludeClosedLoansKey = "include-closed-loans"
	DecimalsKey           = "decimals"
	HTTPAddrKey           = "http-addr"
	GRPCAddrKey           = "grpc-addr"
	MetricsAddrKey        = "metrics-addr"
	CacheTTLKey           = "cache-ttl"
	CacheSizeKey          = "cache-size"
	PostgresDSNKey        = "postgres-dsn"
	MigrationsDirKey      = "migrations-dir"
	NATSURLKey            = "nats-url"
	RetryAttemptsKey      = "retry-attempts"
	QueryTimeoutKey       = "query-timeout"
)

// Config holds all application configuration. Defaults come from RAIN_*
// environment variables; flags override them.
type Config struct {
	// RPC
	RPCURL     string
	RPCTimeout time.Duration
	RPCRate    float64
	Commitment string
	Program    identity.Pubkey

	// Queries
	BorrowPolicy  aggregate.BorrowPolicy
	RetryAttempts int
	QueryTimeout  time.Duration
	Decimals      int32

	// gRPC/HTTP/Metrics
	HTTPAddr    string
	GRPCAddr    string
	MetricsAddr string

	// Cache
	CacheTTL  time.Duration
	CacheSize int

	// Postgres, empty disables persistence
	PostgresDSN   string
	MigrationsDir string

	// NATS, empty disables publication
	NATSURL string
}

// AddFlags registers every config flag with its environment default.
func AddFlags(flags *pflag.FlagSet) {
	flags.String(RPCURLKey, envOrDefault("RAIN_RPC_URL", "https://api.mainnet-beta.solana.com"), "Solana JSON-RPC endpoint")
	flags.Duration(RPCTimeoutKey, envDurationOrDefault("RAIN_RPC_TIMEOUT", 30*time.Second), "Timeout per RPC request")
	flags.Float64(RPCRateKey, envFloatOrDefault("RAIN_RPC_RATE", 5), "Max RPC requests per second, 0 for unlimited")
	flags.String(CommitmentKey, envOrDefault("RAIN_COMMITMENT", "confirmed"), "Commitment level: processed, confirmed or finalized")
	flags.String(ProgramIDKey, envOrDefault("RAIN_PROGRAM_ID", schema.ProgramID), "Rain lending program ID")
	flags.Bool(IncludeClosedLoansKey, envBoolOrDefault("RAIN_INCLUDE_CLOSED_LOANS", false), "Count repaid, liquidated and sold loans in borrow totals")
	flags.Int32(DecimalsKey, int32(envIntOrDefault("RAIN_DECIMALS", 9)), "Currency decimals used for display amounts")
	flags.String(HTTPAddrKey, envOrDefault("RAIN_HTTP_ADDR", ":8080"), "HTTP API listen address")
	flags.String(GRPCAddrKey, envOrDefault("RAIN_GRPC_ADDR", ":9090"), "gRPC health listen address")
	flags.String(MetricsAddrKey, envOrDefault("RAIN_METRICS_ADDR", ":9091"), "Prometheus metrics listen address")
	flags.Duration(CacheTTLKey, envDurationOrDefault("RAIN_CACHE_TTL", 60*time.Second), "How long a computed aggregate is served from cache")
	flags.Int(CacheSizeKey, envIntOrDefault("RAIN_CACHE_SIZE", 256), "Max cached aggregates")
	flags.String(PostgresDSNKey, envOrDefault("RAIN_POSTGRES_DSN", ""), "Postgres DSN for snapshot history, empty to disable")
	flags.String(MigrationsDirKey, envOrDefault("RAIN_MIGRATIONS_DIR", "migrations"), "SQL migrations directory")
	flags.String(NATSURLKey, envOrDefault("RAIN_NATS_URL", ""), "NATS URL for snapshot publication, empty to disable")
	flags.Int(RetryAttemptsKey, envIntOrDefault("RAIN_RETRY_ATTEMPTS", 3), "Attempts per account retrieval")
	flags.Duration(QueryTimeoutKey, envDurationOrDefault("RAIN_QUERY_TIMEOUT", 2*time.Minute), "Upper bound on one shared aggregate computation in serve mode")
}

// ParseFlags reads and validates the flags registered by AddFlags.
func ParseFlags(flags *pflag.FlagSet) (*Config, error) {
	var (
		cfg Config
		err error
	)

	if cfg.RPCURL, err = flags.GetString(RPCURLKey); err != nil {
		return nil, err
	}
	if cfg.RPCTimeout, err = flags.GetDuration(RPCTimeoutKey); err != nil {
		return nil, err
	}
	if cfg.RPCRate, err = flags.GetFloat64(RPCRateKey); err != nil {
		return nil, err
	}
	if cfg.Commitment, err = flags.GetString(CommitmentKey); err != nil {
		return nil, err
	}
	switch cfg.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return nil, fmt.Errorf("invalid %s %q", CommitmentKey, cfg.Commitment)
	}

	programID, err := flags.GetString(ProgramIDKey)
	if err != nil {
		return nil, err
	}
	if cfg.Program, err = identity.Parse(programID); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", ProgramIDKey, err)
	}

	includeClosed, err := flags.GetBool(IncludeClosedLoansKey)
	if err != nil {
		return nil, err
	}
	cfg.BorrowPolicy = aggregate.OngoingOnly
	if includeClosed {
		cfg.BorrowPolicy = aggregate.AllStatuses
	}

	if cfg.QueryTimeout, err = flags.GetDuration(QueryTimeoutKey); err != nil {
		return nil, err
	}
	if cfg.QueryTimeout <= 0 {
		return nil, fmt.Errorf("invalid %s %s", QueryTimeoutKey, cfg.QueryTimeout)
	}

	if cfg.Decimals, err = flags.GetInt32(DecimalsKey); err != nil {
		return nil, err
	}
	if cfg.Decimals < 0 || cfg.Decimals > 19 {
		return nil, fmt.Errorf("invalid %s %d", DecimalsKey, cfg.Decimals)
	}
	if cfg.HTTPAddr, err = flags.GetString(HTTPAddrKey); err != nil {
		return nil, err
	}
	if cfg.GRPCAddr, err = flags.GetString(GRPCAddrKey); err != nil {
		return nil, err
	}
	if cfg.MetricsAddr, err = flags.GetString(MetricsAddrKey); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = flags.GetDuration(CacheTTLKey); err != nil {
		return nil, err
	}
	if cfg.CacheSize, err = flags.GetInt(CacheSizeKey); err != nil {
		return nil, err
	}
	if cfg.PostgresDSN, err = flags.GetString(PostgresDSNKey); err != nil {
		return nil, err
	}
	if cfg.MigrationsDir, err = flags.GetString(MigrationsDirKey); err != nil {
		return nil, err
	}
	if cfg.NATSURL, err = flags.GetString(NATSURLKey); err != nil {
		return nil, err
	}
	if cfg.RetryAttempts, err = flags.GetInt(RetryAttemptsKey); err != nil {
		return nil, err
	}
	if cfg.RetryAttempts < 1 {
		return nil, fmt.Errorf("invalid %s %d", RetryAttemptsKey, cfg.RetryAttempts)
	}

	return &cfg, nil
}

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloatOrDefault(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envBoolOrDefault(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
