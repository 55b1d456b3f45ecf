package query

import (
	"RainLens/internal/identity"
	"RainLens/internal/rpc"
	"RainLens/internal/schema"
)

// PoolFilters selects Pool accounts denominated in currency.
func PoolFilters(currency identity.Pubkey) []rpc.Memcmp {
	return []rpc.Memcmp{
		{Offset: 0, Bytes: schema.PoolTag[:]},
		{Offset: schema.PoolCurrencyOffset, Bytes: currency.Bytes()},
	}
}

// LoanFilters selects Loan accounts denominated in currency, narrowed to
// ongoing loans when ongoingOnly is set.
func LoanFilters(currency identity.Pubkey, ongoingOnly bool) []rpc.Memcmp {
	filters := []rpc.Memcmp{
		{Offset: 0, Bytes: schema.LoanTag[:]},
		{Offset: schema.LoanCurrencyOffset, Bytes: currency.Bytes()},
	}
	if ongoingOnly {
		// The status byte is the borsh variant index, and Ongoing is the
		// first variant, so the match is 0. Some docs describe Ongoing as 1;
		// that disagrees with the on-chain enum and with codec's decoding.
		filters = append(filters, rpc.Memcmp{
			Offset: schema.LoanStatusOffset,
			Bytes:  []byte{schema.StatusOngoing},
		})
	}
	return filters
}
