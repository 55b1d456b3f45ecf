package aggregate

import (
	"fmt"
	"sort"

	"RainLens/internal/identity"
	"RainLens/internal/math"
	"RainLens/internal/state"
)

// Totals maps a user to a summed quantity. Users that contributed no
// record are absent; zero entries are never injected.
type Totals map[identity.Pubkey]uint64

// credit adds amount to user's running total, failing on u64 overflow.
func (t Totals) credit(user identity.Pubkey, amount uint64) error {
	sum, err := math.CheckedAdd(t[user], amount)
	if err != nil {
		return fmt.Errorf("credit %s: %w", user, err)
	}
	t[user] = sum
	return nil
}

// BorrowPolicy selects which loans count toward a borrower's total.
type BorrowPolicy int

const (
	// OngoingOnly counts outstanding principal: closed loans are skipped.
	OngoingOnly BorrowPolicy = iota
	// AllStatuses counts every loan returned by the account source,
	// whatever its status.
	AllStatuses
)

func (p BorrowPolicy) String() string {
	switch p {
	case OngoingOnly:
		return "ongoing_only"
	case AllStatuses:
		return "all_statuses"
	default:
		return "unknown"
	}
}

// Supply credits pool owners with their deposits and lenders with the
// interest accrued at now on each ongoing loan they funded. Closed loans
// contribute nothing.
func Supply(pools []state.Pool, loans []state.Loan, now uint64) (Totals, error) {
	totals := make(Totals, len(pools))

	for i := range pools {
		p := &pools[i]
		if err := totals.credit(p.Owner, p.TotalAmount); err != nil {
			return nil, fmt.Errorf("pool %d: %w", i, err)
		}
	}

	for i := range loans {
		l := &loans[i]
		if !l.IsOngoing() {
			continue
		}
		interest, err := math.AccruedInterest(l, now)
		if err != nil {
			return nil, fmt.Errorf("loan %d accrual: %w", i, err)
		}
		if err := totals.credit(l.Lender, interest); err != nil {
			return nil, fmt.Errorf("loan %d: %w", i, err)
		}
	}

	return totals, nil
}

// Borrow sums loan principal per borrower under policy.
func Borrow(loans []state.Loan, policy BorrowPolicy) (Totals, error) {
	totals := make(Totals)

	for i := range loans {
		l := &loans[i]
		if policy == OngoingOnly && !l.IsOngoing() {
			continue
		}
		if err := totals.credit(l.Borrower, l.Amount); err != nil {
			return nil, fmt.Errorf("loan %d: %w", i, err)
		}
	}

	return totals, nil
}

// Entry is one row of a flattened Totals.
type Entry struct {
	User   identity.Pubkey `json:"user"`
	Amount uint64          `json:"amount"`
}

// Sorted flattens t ordered by user key bytes, for deterministic output.
func (t Totals) Sorted() []Entry {
	entries := make([]Entry, 0, len(t))
	for user, amount := range t {
		entries = append(entries, Entry{User: user, Amount: amount})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].User.Less(entries[j].User)
	})
	return entries
}
