package aggregate_test

import (
	stdmath "math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"RainLens/internal/aggregate"
	"RainLens/internal/math"
	"RainLens/internal/state"
	"RainLens/internal/testutil"
)

const created = uint64(1_700_000_000)

var (
	u1 = testutil.Key(1)
	u2 = testutil.Key(2)
	u3 = testutil.Key(3)
)

// ============================================================================
// Supply
// ============================================================================

func TestSupply_PoolPlusHalfwayInterest(t *testing.T) {
	pools := []state.Pool{testutil.Pool(u1, 1_000_000)}
	loans := []state.Loan{testutil.OngoingLoan(u2, u1, 500_000, 50_000, 1_000_000, created)}

	totals, err := aggregate.Supply(pools, loans, created+500_000)
	require.NoError(t, err)
	require.Equal(t, aggregate.Totals{u1: 1_025_000}, totals)
}

func TestSupply_LenderWithoutPool(t *testing.T) {
	loans := []state.Loan{testutil.OngoingLoan(u2, u3, 100, 1_000, 100, created)}

	totals, err := aggregate.Supply(nil, loans, created+50)
	require.NoError(t, err)
	require.Equal(t, aggregate.Totals{u3: 500}, totals)
}

func TestSupply_ClosedLoansIgnored(t *testing.T) {
	pools := []state.Pool{testutil.Pool(u1, 10)}
	loans := []state.Loan{testutil.RepaidLoan(u2, u1, 100, 1_000, 100, created, created+10)}

	totals, err := aggregate.Supply(pools, loans, created+50)
	require.NoError(t, err)
	require.Equal(t, aggregate.Totals{u1: 10}, totals)
}

func TestSupply_MultiplePoolsSameOwner(t *testing.T) {
	pools := []state.Pool{testutil.Pool(u1, 10), testutil.Pool(u1, 20), testutil.Pool(u2, 5)}

	totals, err := aggregate.Supply(pools, nil, created)
	require.NoError(t, err)
	require.Equal(t, aggregate.Totals{u1: 30, u2: 5}, totals)
}

func TestSupply_Empty(t *testing.T) {
	totals, err := aggregate.Supply(nil, nil, created)
	require.NoError(t, err)
	require.Empty(t, totals)
}

func TestSupply_Overflow(t *testing.T) {
	pools := []state.Pool{testutil.Pool(u1, stdmath.MaxUint64)}
	loans := []state.Loan{testutil.OngoingLoan(u2, u1, 1, 10, 10, created)}

	totals, err := aggregate.Supply(pools, loans, created+5)
	require.ErrorIs(t, err, math.ErrArithmeticOverflow)
	require.Nil(t, totals)
}

// ============================================================================
// Borrow
// ============================================================================

func TestBorrow_SumsPerBorrower(t *testing.T) {
	loans := []state.Loan{
		testutil.OngoingLoan(u2, u1, 100, 0, 10, created),
		testutil.OngoingLoan(u2, u3, 200, 0, 10, created),
	}

	totals, err := aggregate.Borrow(loans, aggregate.OngoingOnly)
	require.NoError(t, err)
	require.Equal(t, aggregate.Totals{u2: 300}, totals)
}

func TestBorrow_Policy(t *testing.T) {
	loans := []state.Loan{
		testutil.OngoingLoan(u2, u1, 100, 0, 10, created),
		testutil.RepaidLoan(u2, u1, 200, 0, 10, created, created+5),
		testutil.RepaidLoan(u3, u1, 7, 0, 10, created, created+5),
	}

	ongoing, err := aggregate.Borrow(loans, aggregate.OngoingOnly)
	require.NoError(t, err)
	require.Equal(t, aggregate.Totals{u2: 100}, ongoing)

	all, err := aggregate.Borrow(loans, aggregate.AllStatuses)
	require.NoError(t, err)
	require.Equal(t, aggregate.Totals{u2: 300, u3: 7}, all)
}

func TestBorrow_Overflow(t *testing.T) {
	loans := []state.Loan{
		testutil.OngoingLoan(u2, u1, stdmath.MaxUint64, 0, 10, created),
		testutil.OngoingLoan(u2, u1, 1, 0, 10, created),
	}

	_, err := aggregate.Borrow(loans, aggregate.OngoingOnly)
	require.ErrorIs(t, err, math.ErrArithmeticOverflow)
}

// ============================================================================
// Order independence
// ============================================================================

func TestAggregation_OrderIndependent(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	var pools []state.Pool
	var loans []state.Loan
	for i := 0; i < 40; i++ {
		owner := testutil.Key(byte(rng.Intn(6) + 1))
		pools = append(pools, testutil.Pool(owner, uint64(rng.Intn(1_000_000))))

		borrower := testutil.Key(byte(rng.Intn(6) + 1))
		lender := testutil.Key(byte(rng.Intn(6) + 1))
		l := testutil.OngoingLoan(borrower, lender,
			uint64(rng.Intn(1_000_000)), uint64(rng.Intn(100_000)), uint64(rng.Intn(1_000_000)+1), created)
		if i%3 == 0 {
			l.Status = state.LoanStatusLiquidated
			l.LiquidatedAt = created + 1
		}
		loans = append(loans, l)
	}

	now := created + 400_000
	wantSupply, err := aggregate.Supply(pools, loans, now)
	require.NoError(t, err)
	wantBorrow, err := aggregate.Borrow(loans, aggregate.AllStatuses)
	require.NoError(t, err)

	for round := 0; round < 20; round++ {
		rng.Shuffle(len(pools), func(i, j int) { pools[i], pools[j] = pools[j], pools[i] })
		rng.Shuffle(len(loans), func(i, j int) { loans[i], loans[j] = loans[j], loans[i] })

		gotSupply, err := aggregate.Supply(pools, loans, now)
		require.NoError(t, err)
		require.Equal(t, wantSupply, gotSupply)

		gotBorrow, err := aggregate.Borrow(loans, aggregate.AllStatuses)
		require.NoError(t, err)
		require.Equal(t, wantBorrow, gotBorrow)
	}
}

func TestTotals_Sorted(t *testing.T) {
	totals := aggregate.Totals{u3: 3, u1: 1, u2: 2}
	entries := totals.Sorted()
	require.Equal(t, []aggregate.Entry{
		{User: u1, Amount: 1},
		{User: u2, Amount: 2},
		{User: u3, Amount: 3},
	}, entries)
}
