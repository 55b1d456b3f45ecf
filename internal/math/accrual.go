// internal/math/accrual.go
package math

import (
	"github.com/holiman/uint256"

	"RainLens/internal/state"
)

// AccruedInterest returns the interest earned on an ongoing loan as of now
// (unix seconds). Interest accrues linearly over the loan's duration and
// stops growing once the duration has elapsed:
//
//	accrued = interest * min(now - created_at, duration) / duration
//
// The product is taken in 256 bits and the quotient rounds down. A loan
// that is not Ongoing accrues nothing here; its settled interest depends on
// the terminal timestamp, not the query time. A clock behind created_at
// counts as zero elapsed time.
func AccruedInterest(loan *state.Loan, now uint64) (uint64, error) {
	if !loan.IsOngoing() {
		return 0, nil
	}

	elapsed := ElapsedSince(loan.CreatedAt, now)
	if elapsed == 0 || loan.Interest == 0 {
		return 0, nil
	}

	// Zero-duration loans fall due at creation.
	if loan.Duration == 0 {
		return loan.Interest, nil
	}

	effective := min(elapsed, loan.Duration)
	if effective == loan.Duration {
		return loan.Interest, nil
	}

	x := uint256.NewInt(loan.Interest)
	y := uint256.NewInt(effective)
	d := uint256.NewInt(loan.Duration)

	result, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow || !result.IsUint64() {
		return 0, ErrArithmeticOverflow
	}
	return result.Uint64(), nil
}

// ElapsedSince returns now - start, clamped at zero.
func ElapsedSince(start, now uint64) uint64 {
	if now <= start {
		return 0
	}
	return now - start
}
