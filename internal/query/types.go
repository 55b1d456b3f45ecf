package query

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"RainLens/internal/aggregate"
	"RainLens/internal/identity"
)

// View names one of the two aggregate views over a currency.
type View string

const (
	ViewSupply View = "supply"
	ViewBorrow View = "borrow"
)

// ParseView accepts "supply"/"suppliers" and "borrow"/"borrowers".
func ParseView(s string) (View, error) {
	switch s {
	case "supply", "suppliers":
		return ViewSupply, nil
	case "borrow", "borrowers":
		return ViewBorrow, nil
	default:
		return "", fmt.Errorf("unknown view %q", s)
	}
}

// Supplier is one user's supply position: pool deposits plus interest
// accrued on ongoing loans they funded.
type Supplier struct {
	User   identity.Pubkey `json:"user"`
	Supply uint64          `json:"supply"`
}

// Borrower is one user's summed loan principal.
type Borrower struct {
	User   identity.Pubkey `json:"user"`
	Borrow uint64          `json:"borrow"`
}

// Snapshot is one computed aggregate for a (view, currency) pair.
type Snapshot struct {
	ID       uuid.UUID         `json:"id"`
	View     View              `json:"view"`
	Currency identity.Pubkey   `json:"currency"`
	AsOf     time.Time         `json:"as_of"`
	Entries  []aggregate.Entry `json:"entries"`
}

// NewSnapshot flattens totals into a snapshot with a fresh ID.
func NewSnapshot(view View, currency identity.Pubkey, asOf time.Time, totals aggregate.Totals) *Snapshot {
	return &Snapshot{
		ID:       uuid.New(),
		View:     view,
		Currency: currency,
		AsOf:     asOf,
		Entries:  totals.Sorted(),
	}
}

// Suppliers converts the entries of a supply snapshot.
func (s *Snapshot) Suppliers() []Supplier {
	out := make([]Supplier, len(s.Entries))
	for i, e := range s.Entries {
		out[i] = Supplier{User: e.User, Supply: e.Amount}
	}
	return out
}

// Borrowers converts the entries of a borrow snapshot.
func (s *Snapshot) Borrowers() []Borrower {
	out := make([]Borrower, len(s.Entries))
	for i, e := range s.Entries {
		out[i] = Borrower{User: e.User, Borrow: e.Amount}
	}
	return out
}
