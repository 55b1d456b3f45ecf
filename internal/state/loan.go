package state

import (
	"RainLens/internal/identity"
	"RainLens/internal/schema"
)

// LoanKind distinguishes plain loans from mortgages.
type LoanKind uint8

const (
	LoanKindLoan     = LoanKind(schema.LoanKindLoan)
	LoanKindMortgage = LoanKind(schema.LoanKindMortgage)
)

func (k LoanKind) String() string {
	switch k {
	case LoanKindLoan:
		return "Loan"
	case LoanKindMortgage:
		return "Mortgage"
	default:
		return "Unknown"
	}
}

// LoanStatus is the lifecycle stage of a loan.
type LoanStatus uint8

const (
	LoanStatusOngoing    = LoanStatus(schema.StatusOngoing)
	LoanStatusRepaid     = LoanStatus(schema.StatusRepaid)
	LoanStatusLiquidated = LoanStatus(schema.StatusLiquidated)
	LoanStatusSold       = LoanStatus(schema.StatusSold)
)

func (s LoanStatus) String() string {
	switch s {
	case LoanStatusOngoing:
		return "Ongoing"
	case LoanStatusRepaid:
		return "Repaid"
	case LoanStatusLiquidated:
		return "Liquidated"
	case LoanStatusSold:
		return "Sold"
	default:
		return "Unknown"
	}
}

// Loan is a decoded Loan account. When Status is Ongoing only CreatedAt and
// ExpiredAt carry meaning; otherwise exactly one of RepaidAt, SoldAt and
// LiquidatedAt does.
type Loan struct {
	Kind   LoanKind
	Status LoanStatus

	Borrower identity.Pubkey
	Lender   identity.Pubkey
	Pool     identity.Pubkey
	Mint     identity.Pubkey // collateral
	Currency identity.Pubkey

	IsCustom bool
	IsFrozen bool

	Price       uint64
	Interest    uint64 // owed over the full Duration
	Amount      uint64 // principal
	Duration    uint64 // seconds
	Collection  uint32
	Liquidation uint16

	CreatedAt    uint64 // unix seconds
	ExpiredAt    uint64
	RepaidAt     uint64
	SoldAt       uint64
	LiquidatedAt uint64
}

// IsOngoing reports whether interest is still accruing on the loan.
func (l *Loan) IsOngoing() bool {
	return l.Status == LoanStatusOngoing
}
