package proc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/holiman/uint256"

	"github.com/feltdbg/feltdbg/pkg/felt"
	"github.com/feltdbg/feltdbg/pkg/vm"
)

// FormatType selects how values read from memory are printed.
type FormatType uint8

const (
	FormatDecimal FormatType = iota
	FormatHex
	FormatBinary
)

func (f FormatType) String() string {
	switch f {
	case FormatHex:
		return "hex"
	case FormatBinary:
		return "binary"
	}
	return "decimal"
}

// ParseFormatType parses d, x or b, or their long names.
func ParseFormatType(s string) (FormatType, error) {
	switch s {
	case "d", "decimal":
		return FormatDecimal, nil
	case "x", "hex":
		return FormatHex, nil
	case "b", "binary":
		return FormatBinary, nil
	}
	return FormatDecimal, fmt.Errorf("invalid format '%s': expected one of d, x or b", s)
}

// ReadMemoryExpr describes a typed memory read requested by the user.
type ReadMemoryExpr struct {
	Addr   NativePtr
	Type   Type
	Format FormatType
	Count  uint
}

// ParseReadMemoryExpr parses the arguments of the mem command:
//
//	<addr> [type] [-fmt d|x|b] [-count N]
//
// The address is a byte address, decimal or 0x prefixed hexadecimal. The
// type defaults to felt.
func ParseReadMemoryExpr(args []string) (ReadMemoryExpr, error) {
	expr := ReadMemoryExpr{Type: Type{Kind: TypeFelt}, Format: FormatDecimal, Count: 1}
	if len(args) == 0 {
		return expr, errors.New("memory command requires an address")
	}
	addr, err := strconv.ParseUint(strings.ReplaceAll(args[0], "_", ""), 0, 32)
	if err != nil {
		return expr, fmt.Errorf("invalid address '%s': %v", args[0], err)
	}
	expr.Addr = NativePtrFromByteAddr(uint32(addr))

	typeSet := false
	for i := 1; i < len(args); i++ {
		arg := args[i]
		switch arg {
		case "-fmt", "--fmt", "-format", "--format":
			if i+1 >= len(args) {
				return expr, fmt.Errorf("%s requires a value", arg)
			}
			i++
			if expr.Format, err = ParseFormatType(args[i]); err != nil {
				return expr, err
			}
		case "-count", "--count":
			if i+1 >= len(args) {
				return expr, fmt.Errorf("%s requires a value", arg)
			}
			i++
			n, err := strconv.ParseUint(args[i], 10, 32)
			if err != nil || n == 0 {
				return expr, fmt.Errorf("invalid count '%s'", args[i])
			}
			expr.Count = uint(n)
		default:
			if typeSet || strings.HasPrefix(arg, "-") {
				return expr, fmt.Errorf("unexpected argument '%s'", arg)
			}
			if expr.Type, err = ParseType(arg); err != nil {
				return expr, err
			}
			typeSet = true
		}
	}
	return expr, nil
}

// FormatMemory reads the value described by expr from trace in ctx as of
// cycle and renders it.
func FormatMemory(trace *ExecutionTrace, expr ReadMemoryExpr, ctx vm.ContextID, cycle uint64) (string, error) {
	if expr.Count > 1 {
		return "", errors.New("-count with value > 1 is not yet implemented")
	}
	switch expr.Type.Kind {
	case TypeFelt:
		if !expr.Addr.IsElementAligned() {
			return "", errors.New("read failed: type 'felt' must be aligned to an element boundary")
		}
		v := trace.ReadMemoryElementInContext(expr.Addr.Addr, ctx, cycle)
		return formatUnsigned(expr.Format, v.Uint64()), nil
	case TypeWord:
		if !expr.Addr.IsWordAligned() {
			return "", errors.New("read failed: type 'word' must be aligned to a word boundary")
		}
		w := trace.ReadMemoryWordInContext(expr.Addr.Addr, ctx, cycle)
		var buf strings.Builder
		buf.WriteByte('[')
		for i, e := range w {
			if i > 0 {
				buf.WriteString(", ")
			}
			buf.WriteString(formatUnsigned(expr.Format, e.Uint64()))
		}
		buf.WriteByte(']')
		return buf.String(), nil
	}

	b, err := trace.ReadBytesForType(expr.Addr, expr.Type, ctx, cycle)
	if err != nil {
		return "", fmt.Errorf("invalid read: %v", err)
	}
	switch expr.Type.Kind {
	case TypeI1:
		set := b[0] != 0
		switch expr.Format {
		case FormatHex:
			return fmt.Sprintf("%#x", boolToUint(set)), nil
		case FormatBinary:
			return fmt.Sprintf("%#b", boolToUint(set)), nil
		}
		return strconv.FormatBool(set), nil
	case TypeI8:
		return formatSigned(expr.Format, int64(int8(b[0])), 8), nil
	case TypeU8:
		return formatUnsigned(expr.Format, uint64(b[0])), nil
	case TypeI16:
		return formatSigned(expr.Format, int64(int16(binary.BigEndian.Uint16(b))), 16), nil
	case TypeU16:
		return formatUnsigned(expr.Format, uint64(binary.BigEndian.Uint16(b))), nil
	case TypeI32:
		return formatSigned(expr.Format, int64(int32(binary.BigEndian.Uint32(b))), 32), nil
	case TypeU32, TypePtr:
		return formatUnsigned(expr.Format, uint64(binary.BigEndian.Uint32(b))), nil
	case TypeI64, TypeU64:
		hi := uint64(binary.BigEndian.Uint32(b[0:4]))
		lo := uint64(binary.BigEndian.Uint32(b[4:8]))
		v := hi<<32 + lo
		if expr.Type.Kind == TypeI64 {
			return formatSigned(expr.Format, int64(v), 64), nil
		}
		return formatUnsigned(expr.Format, v), nil
	case TypeI128, TypeU128:
		return format128(expr.Format, b, expr.Type.Kind == TypeI128), nil
	}
	return "", fmt.Errorf("support for reads of type '%s' are not implemented yet", expr.Type)
}

func boolToUint(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func formatUnsigned(f FormatType, v uint64) string {
	switch f {
	case FormatHex:
		return strconv.FormatUint(v, 16)
	case FormatBinary:
		return strconv.FormatUint(v, 2)
	}
	return strconv.FormatUint(v, 10)
}

// formatSigned prints v in decimal, or the two's complement bit pattern of
// its width in hex and binary.
func formatSigned(f FormatType, v int64, bits uint) string {
	if f == FormatDecimal {
		return strconv.FormatInt(v, 10)
	}
	u := uint64(v)
	if bits < 64 {
		u &= 1<<bits - 1
	}
	return formatUnsigned(f, u)
}

func format128(f FormatType, b []byte, signed bool) string {
	var u uint256.Int
	u.SetBytes(b)
	n := u.ToBig()
	if signed && f == FormatDecimal && b[0]&0x80 != 0 {
		n.Sub(n, new(big.Int).Lsh(big.NewInt(1), 128))
	}
	switch f {
	case FormatHex:
		return n.Text(16)
	case FormatBinary:
		return n.Text(2)
	}
	return n.Text(10)
}

// FormatFelt renders a single element in the given format.
func FormatFelt(f FormatType, v felt.Felt) string {
	return formatUnsigned(f, v.Uint64())
}
