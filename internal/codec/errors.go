package codec

import (
	"errors"
	"fmt"
)

// ErrDecode matches every *DecodeError under errors.Is.
var ErrDecode = errors.New("decode error")

// DecodeErrorKind classifies why a buffer was rejected.
type DecodeErrorKind int

const (
	ErrKindLength DecodeErrorKind = iota
	ErrKindTag
	ErrKindField
)

func (k DecodeErrorKind) String() string {
	switch k {
	case ErrKindLength:
		return "length"
	case ErrKindTag:
		return "tag"
	case ErrKindField:
		return "field"
	default:
		return "unknown"
	}
}

// DecodeError reports a malformed record buffer.
type DecodeError struct {
	Record string
	Kind   DecodeErrorKind
	Field  string // empty unless Kind is ErrKindField
	Reason string
}

func (e *DecodeError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("decode %s: %s %s: %s", e.Record, e.Kind, e.Field, e.Reason)
	}
	return fmt.Sprintf("decode %s: %s: %s", e.Record, e.Kind, e.Reason)
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}
