// internal/codec/codec.go
package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"RainLens/internal/identity"
	"RainLens/internal/schema"
	"RainLens/internal/state"
)

// binding maps a layout field name to the address of the struct field that
// holds it. Offsets come from the layout, so a binding never names one.
type binding[T any] map[string]func(*T) any

// decode parses a tagged buffer against layout. On any error the zero value
// is returned; callers never observe a half-filled record.
func decode[T any](layout schema.Layout, fields binding[T], buf []byte) (T, error) {
	var zero, rec T

	if len(buf) != layout.Size() {
		return zero, &DecodeError{
			Record: layout.Name,
			Kind:   ErrKindLength,
			Reason: fmt.Sprintf("got %d bytes, want %d", len(buf), layout.Size()),
		}
	}
	if !bytes.Equal(buf[:schema.TagLength], layout.Tag[:]) {
		return zero, &DecodeError{
			Record: layout.Name,
			Kind:   ErrKindTag,
			Reason: fmt.Sprintf("got %v, want %v", buf[:schema.TagLength], layout.Tag[:]),
		}
	}

	off := schema.TagLength
	for _, f := range layout.Fields {
		raw := buf[off : off+f.Width]
		off += f.Width
		if f.Kind == schema.KindPadding {
			continue
		}

		bind, ok := fields[f.Name]
		if !ok {
			return zero, fmt.Errorf("codec: %s field %q has no binding", layout.Name, f.Name)
		}
		if err := readField(f, raw, bind(&rec)); err != nil {
			return zero, &DecodeError{
				Record: layout.Name,
				Kind:   ErrKindField,
				Field:  f.Name,
				Reason: err.Error(),
			}
		}
	}

	return rec, nil
}

// encode is the inverse of decode. Padding is written as zeros.
func encode[T any](layout schema.Layout, fields binding[T], rec *T) []byte {
	buf := make([]byte, layout.Size())
	copy(buf, layout.Tag[:])

	off := schema.TagLength
	for _, f := range layout.Fields {
		raw := buf[off : off+f.Width]
		off += f.Width
		if f.Kind == schema.KindPadding {
			continue
		}
		bind, ok := fields[f.Name]
		if !ok {
			panic(fmt.Sprintf("codec: %s field %q has no binding", layout.Name, f.Name))
		}
		writeField(raw, bind(rec))
	}
	return buf
}

func readField(f schema.Field, raw []byte, dst any) error {
	if w := widthOf(dst); w != f.Width {
		return fmt.Errorf("layout width %d does not match %T width %d", f.Width, dst, w)
	}

	switch f.Kind {
	case schema.KindBool:
		if raw[0] > 1 {
			return fmt.Errorf("invalid bool byte %d", raw[0])
		}
	case schema.KindEnum:
		if int(raw[0]) >= f.Variants {
			return fmt.Errorf("discriminant %d out of range [0,%d)", raw[0], f.Variants)
		}
	}

	switch p := dst.(type) {
	case *uint8:
		*p = raw[0]
	case *bool:
		*p = raw[0] == 1
	case *state.LoanKind:
		*p = state.LoanKind(raw[0])
	case *state.LoanStatus:
		*p = state.LoanStatus(raw[0])
	case *uint16:
		*p = binary.LittleEndian.Uint16(raw)
	case *uint32:
		*p = binary.LittleEndian.Uint32(raw)
	case *uint64:
		*p = binary.LittleEndian.Uint64(raw)
	case *identity.Pubkey:
		copy(p[:], raw)
	default:
		return fmt.Errorf("unsupported destination %T", dst)
	}
	return nil
}

func writeField(raw []byte, src any) {
	switch p := src.(type) {
	case *uint8:
		raw[0] = *p
	case *bool:
		if *p {
			raw[0] = 1
		}
	case *state.LoanKind:
		raw[0] = uint8(*p)
	case *state.LoanStatus:
		raw[0] = uint8(*p)
	case *uint16:
		binary.LittleEndian.PutUint16(raw, *p)
	case *uint32:
		binary.LittleEndian.PutUint32(raw, *p)
	case *uint64:
		binary.LittleEndian.PutUint64(raw, *p)
	case *identity.Pubkey:
		copy(raw, p[:])
	default:
		panic(fmt.Sprintf("codec: unsupported source %T", src))
	}
}

func widthOf(p any) int {
	switch p.(type) {
	case *uint8, *bool, *state.LoanKind, *state.LoanStatus:
		return 1
	case *uint16:
		return 2
	case *uint32:
		return 4
	case *uint64:
		return 8
	case *identity.Pubkey:
		return identity.PubkeyLength
	default:
		return -1
	}
}
