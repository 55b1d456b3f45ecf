package testutil

import (
	"RainLens/internal/identity"
	"RainLens/internal/state"
)

// Key returns a deterministic pubkey whose first byte is b.
func Key(b byte) identity.Pubkey {
	var pk identity.Pubkey
	pk[0] = b
	pk[31] = 0xAA
	return pk
}

// Currency is the currency used by fixtures unless a test overrides it.
var Currency = Key(0xC0)

// Pool builds a pool record for owner with the given deposit.
func Pool(owner identity.Pubkey, total uint64) state.Pool {
	return state.Pool{
		Bump:            254,
		Owner:           owner,
		Currency:        Currency,
		TotalAmount:     total,
		BorrowedAmount:  0,
		AvailableAmount: total,
		UsableAmount:    total,
	}
}

// OngoingLoan builds an ongoing loan funded by lender.
func OngoingLoan(borrower, lender identity.Pubkey, amount, interest, duration, createdAt uint64) state.Loan {
	return state.Loan{
		Kind:      state.LoanKindLoan,
		Status:    state.LoanStatusOngoing,
		Borrower:  borrower,
		Lender:    lender,
		Pool:      Key(0x50),
		Mint:      Key(0x4D),
		Currency:  Currency,
		Price:     amount,
		Interest:  interest,
		Amount:    amount,
		Duration:  duration,
		CreatedAt: createdAt,
		ExpiredAt: createdAt + duration,
	}
}

// RepaidLoan builds a loan closed by repayment at repaidAt.
func RepaidLoan(borrower, lender identity.Pubkey, amount, interest, duration, createdAt, repaidAt uint64) state.Loan {
	l := OngoingLoan(borrower, lender, amount, interest, duration, createdAt)
	l.Status = state.LoanStatusRepaid
	l.RepaidAt = repaidAt
	return l
}
