package schema

import "RainLens/internal/identity"

// TagLength is the width of the record-type discriminator that prefixes
// every program account.
const TagLength = 8

// Tag is a record-type discriminator.
type Tag [TagLength]byte

// ProgramID is the Rain lending program that owns Pool and Loan accounts.
const ProgramID = "RainEraPU5yDoJmTrHdYynK9739GkEfDsE4ffqce2BR"

var (
	PoolTag = Tag{241, 154, 109, 4, 17, 177, 109, 188}
	LoanTag = Tag{20, 195, 70, 117, 165, 227, 182, 1}
)

// DefaultProgram returns ProgramID as a key.
func DefaultProgram() identity.Pubkey {
	return identity.MustParse(ProgramID)
}

// Field names shared between the layouts, the codec and the query filters.
const (
	FieldBump            = "bump"
	FieldOwner           = "owner"
	FieldCurrency        = "currency"
	FieldTotalAmount     = "total_amount"
	FieldBorrowedAmount  = "borrowed_amount"
	FieldAvailableAmount = "available_amount"
	FieldUsableAmount    = "usable_amount"

	FieldKind         = "kind"
	FieldStatus       = "status"
	FieldBorrower     = "borrower"
	FieldLender       = "lender"
	FieldPool         = "pool"
	FieldMint         = "mint"
	FieldIsCustom     = "is_custom"
	FieldIsFrozen     = "is_frozen"
	FieldPrice        = "price"
	FieldInterest     = "interest"
	FieldAmount       = "amount"
	FieldDuration     = "duration"
	FieldCollection   = "collection"
	FieldLiquidation  = "liquidation"
	FieldCreatedAt    = "created_at"
	FieldExpiredAt    = "expired_at"
	FieldRepaidAt     = "repaid_at"
	FieldSoldAt       = "sold_at"
	FieldLiquidatedAt = "liquidated_at"
)

// Enum wire values, in declaration order of the on-chain program.
const (
	LoanKindLoan     uint8 = 0
	LoanKindMortgage uint8 = 1
	loanKindVariants       = 2

	StatusOngoing    uint8 = 0
	StatusRepaid     uint8 = 1
	StatusLiquidated uint8 = 2
	StatusSold       uint8 = 3
	statusVariants         = 4
)

// PoolLayout is one user's deposit into a lending pool for one currency.
var PoolLayout = Layout{
	Name: "Pool",
	Tag:  PoolTag,
	Fields: []Field{
		U8(FieldBump),
		Pubkey(FieldOwner),
		Pubkey(FieldCurrency),
		Padding("padding", 64),
		Padding("padding1", 3),
		U64(FieldTotalAmount),
		U64(FieldBorrowedAmount),
		U64(FieldAvailableAmount),
		U64(FieldUsableAmount),
	},
}

// LoanLayout is a single borrowing position against a pool.
var LoanLayout = Layout{
	Name: "Loan",
	Tag:  LoanTag,
	Fields: []Field{
		Enum(FieldKind, loanKindVariants),
		Enum(FieldStatus, statusVariants),
		Pubkey(FieldBorrower),
		Pubkey(FieldLender),
		Pubkey(FieldPool),
		Pubkey(FieldMint),
		Pubkey(FieldCurrency),
		Bool(FieldIsCustom),
		Bool(FieldIsFrozen),
		U64(FieldPrice),
		U64(FieldInterest),
		U64(FieldAmount),
		U64(FieldDuration),
		U32(FieldCollection),
		U16(FieldLiquidation),
		Padding("padding", 20),
		Padding("padding1", 20),
		Padding("padding3", 2),
		U64(FieldCreatedAt),
		U64(FieldExpiredAt),
		U64(FieldRepaidAt),
		U64(FieldSoldAt),
		U64(FieldLiquidatedAt),
	},
}

// Offsets addressed by remote account filters.
var (
	PoolCurrencyOffset = PoolLayout.MustOffset(FieldCurrency)
	LoanCurrencyOffset = LoanLayout.MustOffset(FieldCurrency)
	LoanStatusOffset   = LoanLayout.MustOffset(FieldStatus)
)
