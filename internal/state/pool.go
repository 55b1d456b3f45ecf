package state

import "RainLens/internal/identity"

// Pool is a decoded Pool account: capital one owner deposited for one
// currency. AvailableAmount + BorrowedAmount <= TotalAmount is maintained
// on-chain and not re-checked here.
type Pool struct {
	Bump     uint8
	Owner    identity.Pubkey
	Currency identity.Pubkey

	TotalAmount     uint64
	BorrowedAmount  uint64
	AvailableAmount uint64
	UsableAmount    uint64
}
