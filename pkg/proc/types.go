package proc

import "fmt"

// TypeKind enumerates the types memory can be decoded as.
type TypeKind uint8

const (
	TypeFelt TypeKind = iota
	TypeWord
	TypeI1
	TypeI8
	TypeU8
	TypeI16
	TypeU16
	TypeI32
	TypeU32
	TypeI64
	TypeU64
	TypeI128
	TypeU128
	TypePtr
)

var typeNames = [...]string{
	TypeFelt: "felt",
	TypeWord: "word",
	TypeI1:   "i1",
	TypeI8:   "i8",
	TypeU8:   "u8",
	TypeI16:  "i16",
	TypeU16:  "u16",
	TypeI32:  "i32",
	TypeU32:  "u32",
	TypeI64:  "i64",
	TypeU64:  "u64",
	TypeI128: "i128",
	TypeU128: "u128",
	TypePtr:  "ptr",
}

// Type is the type of a value read from memory.
type Type struct {
	Kind TypeKind
}

func (t Type) String() string {
	if int(t.Kind) < len(typeNames) {
		return typeNames[t.Kind]
	}
	return fmt.Sprintf("TypeKind(%d)", t.Kind)
}

// SizeInBytes returns the size of a native value of the type.
func (t Type) SizeInBytes() int {
	switch t.Kind {
	case TypeFelt, TypeI64, TypeU64:
		return 8
	case TypeWord:
		return 32
	case TypeI1, TypeI8, TypeU8:
		return 1
	case TypeI16, TypeU16:
		return 2
	case TypeI32, TypeU32, TypePtr:
		return 4
	case TypeI128, TypeU128:
		return 16
	}
	return 0
}

// SizeInFelts returns the number of field elements a value of the type
// occupies in memory.
func (t Type) SizeInFelts() int {
	switch t.Kind {
	case TypeWord, TypeI128, TypeU128:
		return 4
	case TypeI64, TypeU64:
		return 2
	case TypeFelt:
		return 1
	}
	return (t.SizeInBytes() + 3) / 4
}

// IsSigned reports whether values of the type are signed integers.
func (t Type) IsSigned() bool {
	switch t.Kind {
	case TypeI8, TypeI16, TypeI32, TypeI64, TypeI128:
		return true
	}
	return false
}

// ParseType parses a type name such as "u32" or "felt".
func ParseType(s string) (Type, error) {
	for k, name := range typeNames {
		if name == s {
			return Type{Kind: TypeKind(k)}, nil
		}
	}
	return Type{}, fmt.Errorf("invalid type '%s': expected one of felt, word, ptr, i1, i8, u8, i16, u16, i32, u32, i64, u64, i128, u128", s)
}
