package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"RainLens/internal/aggregate"
	"RainLens/internal/codec"
	"RainLens/internal/identity"
	"RainLens/internal/math"
	"RainLens/internal/observability"
	"RainLens/internal/rpc"
	"RainLens/internal/schema"
	"RainLens/internal/state"
)

const (
	kindPool = "pool"
	kindLoan = "loan"
)

// Config tunes a Service. Zero values fall back to defaults.
type Config struct {
	Program        identity.Pubkey
	BorrowPolicy   aggregate.BorrowPolicy
	RetryAttempts  int           // total attempts per retrieval, minimum 1
	InitialBackoff time.Duration // default 100ms, doubled per retry
	MaxBackoff     time.Duration // default 5s
	Now            func() time.Time
}

// Service answers supply and borrow queries for one Rain program by
// fetching raw accounts, decoding them and folding them per user.
type Service struct {
	source  rpc.AccountSource
	cfg     Config
	logger  zerolog.Logger
	metrics *observability.Metrics
}

func NewService(source rpc.AccountSource, cfg Config, logger zerolog.Logger, metrics *observability.Metrics) *Service {
	if cfg.Program.IsZero() {
		cfg.Program = schema.DefaultProgram()
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Service{
		source:  source,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// BorrowPolicy returns the policy applied to the borrow view.
func (s *Service) BorrowPolicy() aggregate.BorrowPolicy {
	return s.cfg.BorrowPolicy
}

// FetchRainPools returns every user's supply for currency: their pool
// deposits plus the interest accrued so far on ongoing loans they funded.
func (s *Service) FetchRainPools(ctx context.Context, currency identity.Pubkey) ([]Supplier, error) {
	snap, err := s.Snapshot(ctx, ViewSupply, currency)
	if err != nil {
		return nil, err
	}
	return snap.Suppliers(), nil
}

// FetchRainBorrowers returns every user's summed loan principal for
// currency under the configured borrow policy.
func (s *Service) FetchRainBorrowers(ctx context.Context, currency identity.Pubkey) ([]Borrower, error) {
	snap, err := s.Snapshot(ctx, ViewBorrow, currency)
	if err != nil {
		return nil, err
	}
	return snap.Borrowers(), nil
}

// Snapshot computes view for currency. Any retrieval, decode or arithmetic
// failure aborts the query; no partial aggregate is returned.
func (s *Service) Snapshot(ctx context.Context, view View, currency identity.Pubkey) (*Snapshot, error) {
	start := time.Now()
	logger := s.logger.With().
		Str("view", string(view)).
		Str("currency", currency.String()).
		Logger()

	var (
		snap *Snapshot
		err  error
	)
	switch view {
	case ViewSupply:
		snap, err = s.supply(ctx, currency)
	case ViewBorrow:
		snap, err = s.borrow(ctx, currency)
	default:
		err = fmt.Errorf("unknown view %q", view)
	}

	elapsed := time.Since(start)
	if err != nil {
		s.metrics.ObserveQuery(string(view), ErrorClass(err), elapsed, 0)
		logger.Error().Err(err).Dur("elapsed", elapsed).Msg("query failed")
		return nil, err
	}

	s.metrics.ObserveQuery(string(view), "ok", elapsed, len(snap.Entries))
	logger.Debug().
		Int("users", len(snap.Entries)).
		Dur("elapsed", elapsed).
		Msg("query complete")
	return snap, nil
}

func (s *Service) supply(ctx context.Context, currency identity.Pubkey) (*Snapshot, error) {
	var pools []state.Pool
	var loans []state.Loan

	// Closed loans accrue nothing, so the supply view always narrows the
	// loan scan to ongoing ones.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		bufs, err := s.fetch(gctx, kindPool, PoolFilters(currency))
		if err != nil {
			return err
		}
		pools, err = codec.DecodePools(bufs)
		s.metrics.ObserveDecode(kindPool, len(pools), err)
		return err
	})
	g.Go(func() error {
		bufs, err := s.fetch(gctx, kindLoan, LoanFilters(currency, true))
		if err != nil {
			return err
		}
		loans, err = codec.DecodeLoans(bufs)
		s.metrics.ObserveDecode(kindLoan, len(loans), err)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	now, err := math.UnixSeconds(s.cfg.Now())
	if err != nil {
		return nil, fmt.Errorf("supply clock: %w", err)
	}

	totals, err := aggregate.Supply(pools, loans, now)
	if err != nil {
		return nil, fmt.Errorf("supply aggregate: %w", err)
	}
	return NewSnapshot(ViewSupply, currency, time.Unix(int64(now), 0).UTC(), totals), nil
}

func (s *Service) borrow(ctx context.Context, currency identity.Pubkey) (*Snapshot, error) {
	ongoingOnly := s.cfg.BorrowPolicy == aggregate.OngoingOnly

	bufs, err := s.fetch(ctx, kindLoan, LoanFilters(currency, ongoingOnly))
	if err != nil {
		return nil, err
	}
	loans, err := codec.DecodeLoans(bufs)
	s.metrics.ObserveDecode(kindLoan, len(loans), err)
	if err != nil {
		return nil, err
	}

	totals, err := aggregate.Borrow(loans, s.cfg.BorrowPolicy)
	if err != nil {
		return nil, fmt.Errorf("borrow aggregate: %w", err)
	}
	return NewSnapshot(ViewBorrow, currency, s.cfg.Now().UTC().Truncate(time.Second), totals), nil
}

// fetch retrieves raw account data, retrying retryable failures with
// exponential backoff.
func (s *Service) fetch(ctx context.Context, kind string, filters []rpc.Memcmp) ([][]byte, error) {
	backoff := s.cfg.InitialBackoff

	for attempt := 1; ; attempt++ {
		accounts, err := s.source.ProgramAccounts(ctx, s.cfg.Program, filters)
		if err == nil {
			s.metrics.ObserveFetch(kind, len(accounts))
			bufs := make([][]byte, len(accounts))
			for i := range accounts {
				bufs[i] = accounts[i].Data
			}
			return bufs, nil
		}

		if attempt >= s.cfg.RetryAttempts || !rpc.IsRetryable(err) {
			s.metrics.ObserveRetrievalError(kind)
			return nil, fmt.Errorf("fetch %s accounts: %w", kind, err)
		}

		s.metrics.ObserveRetry(kind)
		s.logger.Warn().
			Err(err).
			Str("kind", kind).
			Int("attempt", attempt).
			Dur("backoff", backoff).
			Msg("retrieval retry")

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("fetch %s accounts: %w", kind, errors.Join(ctx.Err(), err))
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.cfg.MaxBackoff {
			backoff = s.cfg.MaxBackoff
		}
	}
}

// ErrorClass buckets a query error for metrics and status mapping.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, codec.ErrDecode):
		return "decode"
	case errors.Is(err, math.ErrArithmeticOverflow):
		return "overflow"
	case errors.Is(err, math.ErrInvalidClock):
		return "clock"
	case errors.Is(err, rpc.ErrRetrieval):
		return "retrieval"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
