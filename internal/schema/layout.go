// internal/schema/layout.go
package schema

import "fmt"

// Kind is the wire type of a single fixed-width field.
type Kind int

const (
	KindU8 Kind = iota
	KindBool
	KindEnum
	KindU16
	KindU32
	KindU64
	KindPubkey
	KindPadding
)

func (k Kind) String() string {
	switch k {
	case KindU8:
		return "u8"
	case KindBool:
		return "bool"
	case KindEnum:
		return "enum"
	case KindU16:
		return "u16"
	case KindU32:
		return "u32"
	case KindU64:
		return "u64"
	case KindPubkey:
		return "pubkey"
	case KindPadding:
		return "padding"
	default:
		return "unknown"
	}
}

// Field is one entry of a record layout. Offsets are never declared; they
// follow from the order and widths of the fields before it.
type Field struct {
	Name     string
	Kind     Kind
	Width    int
	Variants int // number of valid discriminants, KindEnum only
}

func U8(name string) Field     { return Field{Name: name, Kind: KindU8, Width: 1} }
func Bool(name string) Field   { return Field{Name: name, Kind: KindBool, Width: 1} }
func U16(name string) Field    { return Field{Name: name, Kind: KindU16, Width: 2} }
func U32(name string) Field    { return Field{Name: name, Kind: KindU32, Width: 4} }
func U64(name string) Field    { return Field{Name: name, Kind: KindU64, Width: 8} }
func Pubkey(name string) Field { return Field{Name: name, Kind: KindPubkey, Width: 32} }

func Enum(name string, variants int) Field {
	return Field{Name: name, Kind: KindEnum, Width: 1, Variants: variants}
}

func Padding(name string, width int) Field {
	return Field{Name: name, Kind: KindPadding, Width: width}
}

// Layout describes a tagged fixed-size record: an 8-byte tag followed by
// Fields packed without alignment.
type Layout struct {
	Name   string
	Tag    Tag
	Fields []Field
}

// BodySize is the record size without the tag.
func (l Layout) BodySize() int {
	n := 0
	for _, f := range l.Fields {
		n += f.Width
	}
	return n
}

// Size is the full on-chain account data size, tag included.
func (l Layout) Size() int {
	return TagLength + l.BodySize()
}

// Offset returns the offset of the named field from the start of the
// record (tag included), which is what remote memcmp filters address.
func (l Layout) Offset(name string) (int, error) {
	off := TagLength
	for _, f := range l.Fields {
		if f.Name == name {
			return off, nil
		}
		off += f.Width
	}
	return 0, fmt.Errorf("%s layout has no field %q", l.Name, name)
}

// MustOffset is Offset for names fixed at compile time.
func (l Layout) MustOffset(name string) int {
	off, err := l.Offset(name)
	if err != nil {
		panic(err)
	}
	return off
}

// Field looks a field up by name.
func (l Layout) Field(name string) (Field, bool) {
	for _, f := range l.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}
