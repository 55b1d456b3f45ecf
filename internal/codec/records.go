package codec

import (
	"bytes"
	"fmt"

	"RainLens/internal/schema"
	"RainLens/internal/state"
)

var poolFields = binding[state.Pool]{
	schema.FieldBump:            func(p *state.Pool) any { return &p.Bump },
	schema.FieldOwner:           func(p *state.Pool) any { return &p.Owner },
	schema.FieldCurrency:        func(p *state.Pool) any { return &p.Currency },
	schema.FieldTotalAmount:     func(p *state.Pool) any { return &p.TotalAmount },
	schema.FieldBorrowedAmount:  func(p *state.Pool) any { return &p.BorrowedAmount },
	schema.FieldAvailableAmount: func(p *state.Pool) any { return &p.AvailableAmount },
	schema.FieldUsableAmount:    func(p *state.Pool) any { return &p.UsableAmount },
}

var loanFields = binding[state.Loan]{
	schema.FieldKind:         func(l *state.Loan) any { return &l.Kind },
	schema.FieldStatus:       func(l *state.Loan) any { return &l.Status },
	schema.FieldBorrower:     func(l *state.Loan) any { return &l.Borrower },
	schema.FieldLender:       func(l *state.Loan) any { return &l.Lender },
	schema.FieldPool:         func(l *state.Loan) any { return &l.Pool },
	schema.FieldMint:         func(l *state.Loan) any { return &l.Mint },
	schema.FieldCurrency:     func(l *state.Loan) any { return &l.Currency },
	schema.FieldIsCustom:     func(l *state.Loan) any { return &l.IsCustom },
	schema.FieldIsFrozen:     func(l *state.Loan) any { return &l.IsFrozen },
	schema.FieldPrice:        func(l *state.Loan) any { return &l.Price },
	schema.FieldInterest:     func(l *state.Loan) any { return &l.Interest },
	schema.FieldAmount:       func(l *state.Loan) any { return &l.Amount },
	schema.FieldDuration:     func(l *state.Loan) any { return &l.Duration },
	schema.FieldCollection:   func(l *state.Loan) any { return &l.Collection },
	schema.FieldLiquidation:  func(l *state.Loan) any { return &l.Liquidation },
	schema.FieldCreatedAt:    func(l *state.Loan) any { return &l.CreatedAt },
	schema.FieldExpiredAt:    func(l *state.Loan) any { return &l.ExpiredAt },
	schema.FieldRepaidAt:     func(l *state.Loan) any { return &l.RepaidAt },
	schema.FieldSoldAt:       func(l *state.Loan) any { return &l.SoldAt },
	schema.FieldLiquidatedAt: func(l *state.Loan) any { return &l.LiquidatedAt },
}

// DecodePool parses a full Pool account buffer, tag included.
func DecodePool(buf []byte) (state.Pool, error) {
	return decode(schema.PoolLayout, poolFields, buf)
}

// DecodeLoan parses a full Loan account buffer, tag included.
func DecodeLoan(buf []byte) (state.Loan, error) {
	return decode(schema.LoanLayout, loanFields, buf)
}

// EncodePool serializes p into a tagged account buffer.
func EncodePool(p state.Pool) []byte {
	return encode(schema.PoolLayout, poolFields, &p)
}

// EncodeLoan serializes l into a tagged account buffer.
func EncodeLoan(l state.Loan) []byte {
	return encode(schema.LoanLayout, loanFields, &l)
}

// Decode dispatches on the buffer's tag and returns a state.Pool or a
// state.Loan.
func Decode(buf []byte) (any, error) {
	if len(buf) < schema.TagLength {
		return nil, &DecodeError{
			Record: "account",
			Kind:   ErrKindLength,
			Reason: fmt.Sprintf("got %d bytes, shorter than the %d-byte tag", len(buf), schema.TagLength),
		}
	}
	tag := buf[:schema.TagLength]
	switch {
	case bytes.Equal(tag, schema.PoolTag[:]):
		return DecodePool(buf)
	case bytes.Equal(tag, schema.LoanTag[:]):
		return DecodeLoan(buf)
	default:
		return nil, &DecodeError{
			Record: "account",
			Kind:   ErrKindTag,
			Reason: fmt.Sprintf("unknown tag %v", tag),
		}
	}
}

// DecodePools decodes a batch fail-fast: the first malformed buffer aborts
// the batch and no records are returned.
func DecodePools(bufs [][]byte) ([]state.Pool, error) {
	pools := make([]state.Pool, 0, len(bufs))
	for i, buf := range bufs {
		p, err := DecodePool(buf)
		if err != nil {
			return nil, fmt.Errorf("pool %d: %w", i, err)
		}
		pools = append(pools, p)
	}
	return pools, nil
}

// DecodeLoans is DecodePools for Loan buffers.
func DecodeLoans(bufs [][]byte) ([]state.Loan, error) {
	loans := make([]state.Loan, 0, len(bufs))
	for i, buf := range bufs {
		l, err := DecodeLoan(buf)
		if err != nil {
			return nil, fmt.Errorf("loan %d: %w", i, err)
		}
		loans = append(loans, l)
	}
	return loans, nil
}
