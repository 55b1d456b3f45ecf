package identity

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// PubkeyLength is the width of an on-chain identity in bytes.
const PubkeyLength = 32

var ErrInvalidPubkey = errors.New("invalid pubkey")

// Pubkey is a 32-byte on-chain identity (user, pool, mint or currency).
// No canonicalization is applied; two keys are equal iff their bytes are.
type Pubkey [PubkeyLength]byte

// Zero is the all-zero key.
var Zero Pubkey

// Parse decodes a base58 string into a Pubkey.
func Parse(s string) (Pubkey, error) {
	var pk Pubkey
	raw, err := base58.Decode(s)
	if err != nil {
		return pk, fmt.Errorf("%w: %q: %v", ErrInvalidPubkey, s, err)
	}
	if len(raw) != PubkeyLength {
		return pk, fmt.Errorf("%w: %q decodes to %d bytes, want %d", ErrInvalidPubkey, s, len(raw), PubkeyLength)
	}
	copy(pk[:], raw)
	return pk, nil
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Pubkey {
	pk, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return pk
}

func (pk Pubkey) String() string {
	return base58.Encode(pk[:])
}

func (pk Pubkey) Bytes() []byte {
	return pk[:]
}

func (pk Pubkey) IsZero() bool {
	return pk == Zero
}

// Less orders keys by raw bytes. Used to make result lists deterministic.
func (pk Pubkey) Less(other Pubkey) bool {
	return bytes.Compare(pk[:], other[:]) < 0
}

func (pk Pubkey) MarshalText() ([]byte, error) {
	return []byte(pk.String()), nil
}

func (pk *Pubkey) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*pk = parsed
	return nil
}
