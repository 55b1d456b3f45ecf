package query_test

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"RainLens/internal/aggregate"
	"RainLens/internal/codec"
	"RainLens/internal/identity"
	"RainLens/internal/math"
	"RainLens/internal/observability"
	"RainLens/internal/query"
	"RainLens/internal/rpc"
	"RainLens/internal/schema"
	"RainLens/internal/state"
	"RainLens/internal/testutil"
)

const created = uint64(1_700_000_000)

var (
	u1 = testutil.Key(1)
	u2 = testutil.Key(2)
	u3 = testutil.Key(3)
)

// fakeSource serves encoded records and applies memcmp filters the way an
// RPC node does. failures makes the first N calls return err.
type fakeSource struct {
	mu       sync.Mutex
	accounts [][]byte
	calls    [][]rpc.Memcmp
	failures int
	err      error
}

func (f *fakeSource) ProgramAccounts(ctx context.Context, program identity.Pubkey, filters []rpc.Memcmp) ([]rpc.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, filters)
	if f.failures > 0 {
		f.failures--
		return nil, f.err
	}

	var out []rpc.Account
	for i, data := range f.accounts {
		if matches(data, filters) {
			out = append(out, rpc.Account{Pubkey: testutil.Key(byte(0x80 + i)), Owner: program, Data: data})
		}
	}
	return out, nil
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func matches(data []byte, filters []rpc.Memcmp) bool {
	for _, m := range filters {
		end := m.Offset + len(m.Bytes)
		if end > len(data) || !bytes.Equal(data[m.Offset:end], m.Bytes) {
			return false
		}
	}
	return true
}

func newService(src rpc.AccountSource, cfg query.Config) *query.Service {
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Unix(int64(created+500_000), 0) }
	}
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 2 * time.Millisecond
	return query.NewService(src, cfg, zerolog.Nop(), nil)
}

func fixture() *fakeSource {
	otherCurrency := testutil.Key(0xEE)

	foreignPool := testutil.Pool(u3, 999)
	foreignPool.Currency = otherCurrency
	foreignLoan := testutil.OngoingLoan(u3, u3, 999, 0, 10, created)
	foreignLoan.Currency = otherCurrency

	return &fakeSource{accounts: [][]byte{
		codec.EncodePool(testutil.Pool(u1, 1_000_000)),
		codec.EncodeLoan(testutil.OngoingLoan(u2, u1, 500_000, 50_000, 1_000_000, created)),
		codec.EncodeLoan(testutil.OngoingLoan(u2, u3, 300, 0, 10, created)),
		codec.EncodeLoan(testutil.RepaidLoan(u3, u1, 70, 10, 10, created, created+5)),
		codec.EncodePool(foreignPool),
		codec.EncodeLoan(foreignLoan),
	}}
}

// ============================================================================
// Filters
// ============================================================================

func TestPoolFilters(t *testing.T) {
	filters := query.PoolFilters(testutil.Currency)
	require.Equal(t, []rpc.Memcmp{
		{Offset: 0, Bytes: schema.PoolTag[:]},
		{Offset: 41, Bytes: testutil.Currency.Bytes()},
	}, filters)
}

func TestLoanFilters(t *testing.T) {
	all := query.LoanFilters(testutil.Currency, false)
	require.Equal(t, []rpc.Memcmp{
		{Offset: 0, Bytes: schema.LoanTag[:]},
		{Offset: 138, Bytes: testutil.Currency.Bytes()},
	}, all)

	ongoing := query.LoanFilters(testutil.Currency, true)
	require.Len(t, ongoing, 3)
	require.Equal(t, rpc.Memcmp{Offset: 9, Bytes: []byte{byte(state.LoanStatusOngoing)}}, ongoing[2])
}

func TestLoanFilters_StatusByteMatchesEncodedOngoingLoan(t *testing.T) {
	status := query.LoanFilters(testutil.Currency, true)[2]
	require.Equal(t, []byte{0}, status.Bytes)

	ongoing := codec.EncodeLoan(testutil.OngoingLoan(u2, u1, 100, 10, 1000, created))
	require.Equal(t, status.Bytes, ongoing[status.Offset:status.Offset+1])

	repaid := codec.EncodeLoan(testutil.RepaidLoan(u2, u1, 100, 10, 1000, created, created+10))
	require.NotEqual(t, status.Bytes, repaid[status.Offset:status.Offset+1])
}

// ============================================================================
// Supply view
// ============================================================================

func TestFetchRainPools(t *testing.T) {
	src := fixture()
	svc := newService(src, query.Config{})

	suppliers, err := svc.FetchRainPools(context.Background(), testutil.Currency)
	require.NoError(t, err)

	// u1: 1_000_000 deposit + half of 50_000 interest.
	// u3: lent 300 interest-free, so present with nothing accrued.
	require.Equal(t, []query.Supplier{
		{User: u1, Supply: 1_025_000},
		{User: u3, Supply: 0},
	}, suppliers)
	require.Equal(t, 2, src.callCount())
}

func TestSnapshot_SupplyAsOf(t *testing.T) {
	svc := newService(fixture(), query.Config{})

	snap, err := svc.Snapshot(context.Background(), query.ViewSupply, testutil.Currency)
	require.NoError(t, err)
	require.Equal(t, query.ViewSupply, snap.View)
	require.Equal(t, testutil.Currency, snap.Currency)
	require.Equal(t, int64(created+500_000), snap.AsOf.Unix())
	require.NotEqual(t, [16]byte{}, [16]byte(snap.ID))
}

func TestFetchRainPools_InvalidClock(t *testing.T) {
	svc := newService(fixture(), query.Config{
		Now: func() time.Time { return time.Unix(-10, 0) },
	})

	_, err := svc.FetchRainPools(context.Background(), testutil.Currency)
	require.ErrorIs(t, err, math.ErrInvalidClock)
}

// ============================================================================
// Borrow view
// ============================================================================

func TestFetchRainBorrowers_OngoingOnly(t *testing.T) {
	src := fixture()
	svc := newService(src, query.Config{})

	borrowers, err := svc.FetchRainBorrowers(context.Background(), testutil.Currency)
	require.NoError(t, err)
	require.Equal(t, []query.Borrower{{User: u2, Borrow: 500_300}}, borrowers)

	require.Len(t, src.calls, 1)
	require.Len(t, src.calls[0], 3)
}

func TestFetchRainBorrowers_AllStatuses(t *testing.T) {
	src := fixture()
	svc := newService(src, query.Config{BorrowPolicy: aggregate.AllStatuses})

	borrowers, err := svc.FetchRainBorrowers(context.Background(), testutil.Currency)
	require.NoError(t, err)
	require.Equal(t, []query.Borrower{
		{User: u2, Borrow: 500_300},
		{User: u3, Borrow: 70},
	}, borrowers)

	require.Len(t, src.calls[0], 2)
}

func TestFetchRainBorrowers_Scenario(t *testing.T) {
	src := &fakeSource{accounts: [][]byte{
		codec.EncodeLoan(testutil.OngoingLoan(u2, u1, 100, 0, 10, created)),
		codec.EncodeLoan(testutil.OngoingLoan(u2, u3, 200, 0, 10, created)),
	}}
	svc := newService(src, query.Config{})

	borrowers, err := svc.FetchRainBorrowers(context.Background(), testutil.Currency)
	require.NoError(t, err)
	require.Equal(t, []query.Borrower{{User: u2, Borrow: 300}}, borrowers)
}

func TestFetchRainBorrowers_Empty(t *testing.T) {
	svc := newService(&fakeSource{}, query.Config{})

	borrowers, err := svc.FetchRainBorrowers(context.Background(), testutil.Currency)
	require.NoError(t, err)
	require.Empty(t, borrowers)
}

// ============================================================================
// Failure propagation
// ============================================================================

func TestRetry_RecoversFromRetryableFailure(t *testing.T) {
	src := fixture()
	src.failures = 2
	src.err = &rpc.RetrievalError{Op: "getProgramAccounts", Retryable: true, Err: errors.New("http 503")}

	reg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(reg)
	svc := query.NewService(src, query.Config{
		RetryAttempts:  3,
		InitialBackoff: time.Millisecond,
		Now:            func() time.Time { return time.Unix(int64(created), 0) },
	}, zerolog.Nop(), metrics)

	borrowers, err := svc.FetchRainBorrowers(context.Background(), testutil.Currency)
	require.NoError(t, err)
	require.Len(t, borrowers, 1)
	require.Equal(t, 3, src.callCount())
	require.Equal(t, 2.0, promtest.ToFloat64(metrics.RetrievalRetries.WithLabelValues("loan")))
	require.Equal(t, 1.0, promtest.ToFloat64(metrics.QueryRequests.WithLabelValues("borrow", "ok")))
}

func TestRetry_GivesUpAfterAttempts(t *testing.T) {
	src := fixture()
	src.failures = 10
	src.err = &rpc.RetrievalError{Op: "getProgramAccounts", Retryable: true, Err: errors.New("http 429")}
	svc := newService(src, query.Config{RetryAttempts: 3})

	_, err := svc.FetchRainBorrowers(context.Background(), testutil.Currency)
	require.ErrorIs(t, err, rpc.ErrRetrieval)
	require.Equal(t, "retrieval", query.ErrorClass(err))
	require.Equal(t, 3, src.callCount())
}

func TestRetry_NonRetryableFailsFast(t *testing.T) {
	src := fixture()
	src.failures = 1
	src.err = &rpc.RetrievalError{Op: "getProgramAccounts", Err: &jsonrpc.RPCError{Code: -32602, Message: "bad filter"}}
	svc := newService(src, query.Config{RetryAttempts: 5})

	_, err := svc.FetchRainPools(context.Background(), testutil.Currency)
	require.ErrorIs(t, err, rpc.ErrRetrieval)

	var rpcErr *jsonrpc.RPCError
	require.ErrorAs(t, err, &rpcErr)
}

func TestDecodeFailureAbortsQuery(t *testing.T) {
	good := codec.EncodeLoan(testutil.OngoingLoan(u2, u1, 100, 0, 10, created))
	truncated := good[:len(good)-1]

	src := &fakeSource{accounts: [][]byte{good, truncated}}
	svc := newService(src, query.Config{BorrowPolicy: aggregate.AllStatuses})

	borrowers, err := svc.FetchRainBorrowers(context.Background(), testutil.Currency)
	require.ErrorIs(t, err, codec.ErrDecode)
	require.Nil(t, borrowers)
	require.Equal(t, "decode", query.ErrorClass(err))
}

func TestOverflowAbortsQuery(t *testing.T) {
	src := &fakeSource{accounts: [][]byte{
		codec.EncodeLoan(testutil.OngoingLoan(u2, u1, ^uint64(0), 0, 10, created)),
		codec.EncodeLoan(testutil.OngoingLoan(u2, u1, 1, 0, 10, created)),
	}}
	svc := newService(src, query.Config{})

	_, err := svc.FetchRainBorrowers(context.Background(), testutil.Currency)
	require.ErrorIs(t, err, math.ErrArithmeticOverflow)
	require.Equal(t, "overflow", query.ErrorClass(err))
}

func TestUnknownView(t *testing.T) {
	svc := newService(&fakeSource{}, query.Config{})
	_, err := svc.Snapshot(context.Background(), query.View("lend"), testutil.Currency)
	require.Error(t, err)
}

func TestParseView(t *testing.T) {
	v, err := query.ParseView("suppliers")
	require.NoError(t, err)
	require.Equal(t, query.ViewSupply, v)

	v, err = query.ParseView("borrow")
	require.NoError(t, err)
	require.Equal(t, query.ViewBorrow, v)

	_, err = query.ParseView("x")
	require.Error(t, err)
}
