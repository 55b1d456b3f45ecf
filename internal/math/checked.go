package math

import (
	"errors"
	"math/bits"
	"time"
)

var (
	// ErrArithmeticOverflow is returned when an accrual or a running sum
	// does not fit in 64 bits.
	ErrArithmeticOverflow = errors.New("arithmetic overflow")

	// ErrInvalidClock is returned for clock readings that cannot be a unix
	// timestamp (before the epoch).
	ErrInvalidClock = errors.New("invalid clock value")
)

// CheckedAdd returns a + b or ErrArithmeticOverflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrArithmeticOverflow
	}
	return sum, nil
}

// UnixSeconds converts t to unix seconds without panicking on clocks set
// before 1970.
func UnixSeconds(t time.Time) (uint64, error) {
	secs := t.Unix()
	if secs < 0 {
		return 0, ErrInvalidClock
	}
	return uint64(secs), nil
}
