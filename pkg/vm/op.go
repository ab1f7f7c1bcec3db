package vm

import (
	"fmt"

	"github.com/feltdbg/feltdbg/pkg/felt"
)

// Opcode identifies a single VM operation.
type Opcode uint8

const (
	OpNoop Opcode = iota
	OpPush
	OpDrop
	OpDup
	OpSwap
	OpMovUp
	OpMovDn
	OpAdd
	OpSub
	OpMul
	OpNeg
	OpInv
	OpIncr
	OpEq
	OpNot
	OpAnd
	OpOr
	OpAssert
	OpAssertz
	OpMLoad
	OpMStore
	OpMLoadW
	OpMStoreW
	OpLocLoad
	OpLocStore
	OpAdvPop
	OpEmit

	// Control flow operations. Only OpExec, OpCall, OpSplit and OpLoop are
	// produced by source instructions, the others are bookkeeping cycles.
	OpExec
	OpCall
	OpSpan
	OpSplit
	OpLoop
	OpRepeat
	OpEnd
)

var opNames = [...]string{
	OpNoop:     "noop",
	OpPush:     "push",
	OpDrop:     "drop",
	OpDup:      "dup",
	OpSwap:     "swap",
	OpMovUp:    "movup",
	OpMovDn:    "movdn",
	OpAdd:      "add",
	OpSub:      "sub",
	OpMul:      "mul",
	OpNeg:      "neg",
	OpInv:      "inv",
	OpIncr:     "incr",
	OpEq:       "eq",
	OpNot:      "not",
	OpAnd:      "and",
	OpOr:       "or",
	OpAssert:   "assert",
	OpAssertz:  "assertz",
	OpMLoad:    "mload",
	OpMStore:   "mstore",
	OpMLoadW:   "mloadw",
	OpMStoreW:  "mstorew",
	OpLocLoad:  "locload",
	OpLocStore: "locstore",
	OpAdvPop:   "advpop",
	OpEmit:     "emit",
	OpExec:     "exec",
	OpCall:     "call",
	OpSpan:     "span",
	OpSplit:    "split",
	OpLoop:     "loop",
	OpRepeat:   "repeat",
	OpEnd:      "end",
}

func (c Opcode) String() string {
	if int(c) < len(opNames) && opNames[c] != "" {
		return opNames[c]
	}
	return fmt.Sprintf("op(%d)", uint8(c))
}

// IsControl reports whether c is a control flow operation.
func (c Opcode) IsControl() bool {
	return c >= OpExec
}

// Operation is one VM instruction as retired by the processor. Imm holds the
// immediate value of push, the error code of assertions and the event id of
// emit. Arg holds stack indices and local offsets.
type Operation struct {
	Code Opcode
	Imm  felt.Felt
	Arg  uint32
}

func (op Operation) String() string {
	switch op.Code {
	case OpPush:
		return fmt.Sprintf("push(%d)", op.Imm)
	case OpDup, OpSwap, OpMovUp, OpMovDn, OpLocLoad, OpLocStore:
		return fmt.Sprintf("%s(%d)", op.Code, op.Arg)
	case OpAssert, OpAssertz:
		if op.Imm != 0 {
			return fmt.Sprintf("%s(err=%d)", op.Code, op.Imm)
		}
	case OpEmit:
		return fmt.Sprintf("emit(%d)", op.Imm)
	}
	return op.Code.String()
}
