package vm

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/feltdbg/feltdbg/pkg/felt"
)

// Location is a position in a source file. Line and Col are 1-based.
type Location struct {
	File string
	Line uint32
	Col  uint32
}

func (loc Location) String() string {
	return fmt.Sprintf("%s:%d:%d", loc.File, loc.Line, loc.Col)
}

// AssemblyOp ties an operation back to the source instruction it was
// assembled from. An instruction that expands to several operations
// produces one AssemblyOp per operation, numbered by CycleIdx.
type AssemblyOp struct {
	ContextName string
	Op          string
	Location    *Location
	NumCycles   uint8
	CycleIdx    uint8
}

// IsLastCycle reports whether the operation completes its instruction.
func (a *AssemblyOp) IsLastCycle() bool {
	return a.CycleIdx+1 >= a.NumCycles
}

// DebugVarLocationKind says where the value of a source variable lives.
type DebugVarLocationKind uint8

const (
	VarStack DebugVarLocationKind = iota
	VarMemory
	VarConst
	VarLocal
	VarExpression
)

func (k DebugVarLocationKind) String() string {
	switch k {
	case VarStack:
		return "stack"
	case VarMemory:
		return "mem"
	case VarConst:
		return "const"
	case VarLocal:
		return "local"
	case VarExpression:
		return "expr"
	}
	return "unknown"
}

// DebugVarLocation is a tagged union: only the field selected by Kind is
// meaningful.
type DebugVarLocation struct {
	Kind   DebugVarLocationKind
	Index  uint32    // VarStack
	Addr   uint32    // VarMemory
	Value  felt.Felt // VarConst
	Offset int16     // VarLocal, relative to the frame pointer
	Expr   []byte    // VarExpression
}

func (l DebugVarLocation) String() string {
	switch l.Kind {
	case VarStack:
		return fmt.Sprintf("stack[%d]", l.Index)
	case VarMemory:
		return fmt.Sprintf("mem[%#x]", l.Addr)
	case VarConst:
		return fmt.Sprintf("const(%d)", l.Value)
	case VarLocal:
		return fmt.Sprintf("local[fmp%+d]", l.Offset)
	case VarExpression:
		return fmt.Sprintf("expr(%x)", l.Expr)
	}
	return "?"
}

// DebugVarInfo names a source level variable and where to find it.
type DebugVarInfo struct {
	Name     string
	Location DebugVarLocation
}

// parseDebugVar parses the body of a var decorator, name=kind:value.
func parseDebugVar(s string) (DebugVarInfo, error) {
	eq := strings.IndexByte(s, '=')
	if eq <= 0 {
		return DebugVarInfo{}, fmt.Errorf("expected var.<name>=<kind>:<value>")
	}
	name, rest := s[:eq], s[eq+1:]
	colon := strings.IndexByte(rest, ':')
	if colon < 0 {
		return DebugVarInfo{}, fmt.Errorf("missing location kind in %q", rest)
	}
	kind, val := rest[:colon], rest[colon+1:]
	info := DebugVarInfo{Name: name}
	switch kind {
	case "stack":
		n, err := strconv.ParseUint(val, 0, 32)
		if err != nil {
			return info, fmt.Errorf("invalid stack index %q", val)
		}
		info.Location = DebugVarLocation{Kind: VarStack, Index: uint32(n)}
	case "mem":
		n, err := strconv.ParseUint(val, 0, 32)
		if err != nil {
			return info, fmt.Errorf("invalid memory address %q", val)
		}
		info.Location = DebugVarLocation{Kind: VarMemory, Addr: uint32(n)}
	case "const":
		f, err := felt.Parse(val)
		if err != nil {
			return info, err
		}
		info.Location = DebugVarLocation{Kind: VarConst, Value: f}
	case "local":
		n, err := strconv.ParseInt(val, 0, 16)
		if err != nil {
			return info, fmt.Errorf("invalid local offset %q", val)
		}
		info.Location = DebugVarLocation{Kind: VarLocal, Offset: int16(n)}
	case "expr":
		info.Location = DebugVarLocation{Kind: VarExpression, Expr: []byte(val)}
	default:
		return info, fmt.Errorf("unknown variable location kind %q", kind)
	}
	return info, nil
}
