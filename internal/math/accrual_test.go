package math_test

import (
	stdmath "math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"RainLens/internal/math"
	"RainLens/internal/state"
	"RainLens/internal/testutil"
)

const created = uint64(1_700_000_000)

func loan(interest, duration uint64) state.Loan {
	return testutil.OngoingLoan(testutil.Key(1), testutil.Key(2), 500_000, interest, duration, created)
}

func TestAccruedInterest_Halfway(t *testing.T) {
	l := loan(50_000, 1_000_000)
	got, err := math.AccruedInterest(&l, created+500_000)
	require.NoError(t, err)
	require.Equal(t, uint64(25_000), got)
}

func TestAccruedInterest_ZeroElapsed(t *testing.T) {
	l := loan(50_000, 1_000_000)
	got, err := math.AccruedInterest(&l, created)
	require.NoError(t, err)
	require.Zero(t, got)
}

func TestAccruedInterest_ClockBeforeCreation(t *testing.T) {
	l := loan(50_000, 1_000_000)
	got, err := math.AccruedInterest(&l, created-10)
	require.NoError(t, err)
	require.Zero(t, got)
}

func TestAccruedInterest_ClampedAtDuration(t *testing.T) {
	l := loan(50_000, 1_000_000)

	atEnd, err := math.AccruedInterest(&l, created+1_000_000)
	require.NoError(t, err)
	require.Equal(t, uint64(50_000), atEnd)

	later, err := math.AccruedInterest(&l, created+50_000_000)
	require.NoError(t, err)
	require.Equal(t, atEnd, later)
}

func TestAccruedInterest_Monotonic(t *testing.T) {
	l := loan(777_777, 86_400*30)

	var prev uint64
	for now := created; now <= created+l.Duration*2; now += 3_601 {
		got, err := math.AccruedInterest(&l, now)
		require.NoError(t, err)
		require.GreaterOrEqual(t, got, prev, "now=%d", now)
		require.LessOrEqual(t, got, l.Interest)
		prev = got
	}
	require.Equal(t, l.Interest, prev)
}

func TestAccruedInterest_RoundsDown(t *testing.T) {
	l := loan(10, 3)
	got, err := math.AccruedInterest(&l, created+1)
	require.NoError(t, err)
	require.Equal(t, uint64(3), got)
}

func TestAccruedInterest_LargeValuesNoWrap(t *testing.T) {
	// interest * elapsed overflows 64 bits, the quotient does not
	l := loan(stdmath.MaxUint64, stdmath.MaxUint64-1)
	got, err := math.AccruedInterest(&l, created+(stdmath.MaxUint64-1)/2)
	require.NoError(t, err)
	require.Greater(t, got, uint64(0))
	require.Less(t, got, uint64(stdmath.MaxUint64))
}

func TestAccruedInterest_ZeroDuration(t *testing.T) {
	l := loan(1_000, 0)

	got, err := math.AccruedInterest(&l, created)
	require.NoError(t, err)
	require.Zero(t, got)

	got, err = math.AccruedInterest(&l, created+1)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000), got)
}

func TestAccruedInterest_ClosedLoanIsZero(t *testing.T) {
	for _, status := range []state.LoanStatus{
		state.LoanStatusRepaid,
		state.LoanStatusLiquidated,
		state.LoanStatusSold,
	} {
		l := loan(50_000, 1_000_000)
		l.Status = status
		got, err := math.AccruedInterest(&l, created+500_000)
		require.NoError(t, err)
		require.Zero(t, got, status.String())
	}
}

// ============================================================================
// Checked helpers
// ============================================================================

func TestCheckedAdd(t *testing.T) {
	sum, err := math.CheckedAdd(1, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(3), sum)

	_, err = math.CheckedAdd(stdmath.MaxUint64, 1)
	require.ErrorIs(t, err, math.ErrArithmeticOverflow)
}

func TestUnixSeconds(t *testing.T) {
	secs, err := math.UnixSeconds(time.Unix(1_700_000_000, 999))
	require.NoError(t, err)
	require.Equal(t, uint64(1_700_000_000), secs)

	_, err = math.UnixSeconds(time.Date(1960, 1, 1, 0, 0, 0, 0, time.UTC))
	require.ErrorIs(t, err, math.ErrInvalidClock)
}

func TestElapsedSince(t *testing.T) {
	require.Equal(t, uint64(5), math.ElapsedSince(10, 15))
	require.Zero(t, math.ElapsedSince(15, 10))
}
