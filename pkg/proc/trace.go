package proc

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/feltdbg/feltdbg/pkg/felt"
	"github.com/feltdbg/feltdbg/pkg/vm"
)

// ExecutionTrace is a read only view over a finished, or partially
// finished, run: its operand stack outputs and the history of its memory.
type ExecutionTrace struct {
	rootContext vm.ContextID
	lastCycle   uint64
	memory      *vm.Memory
	outputs     []felt.Felt
	err         error
}

// Outputs returns the operand stack at the end of the run, top first.
func (t *ExecutionTrace) Outputs() []felt.Felt {
	return t.outputs
}

// LastCycle returns the last cycle of the run.
func (t *ExecutionTrace) LastCycle() uint64 {
	return t.lastCycle
}

// RootContext returns the context the program started in.
func (t *ExecutionTrace) RootContext() vm.ContextID {
	return t.rootContext
}

// Failure returns the error the run stopped with, nil if the program
// terminated successfully.
func (t *ExecutionTrace) Failure() error {
	return t.err
}

// Contexts returns every memory context the run wrote to.
func (t *ExecutionTrace) Contexts() []vm.ContextID {
	return t.memory.Contexts()
}

// ParseResultU64 decodes the top two stack outputs as the high and low 32
// bit limbs of a u64.
func (t *ExecutionTrace) ParseResultU64() (uint64, bool) {
	if len(t.outputs) < 2 {
		return 0, false
	}
	hi, lo := t.outputs[0], t.outputs[1]
	if !hi.IsU32() || !lo.IsU32() {
		return 0, false
	}
	return hi.Uint64()<<32 | lo.Uint64(), true
}

// ReadMemoryWord reads the word at addr in the root context at the last
// cycle.
func (t *ExecutionTrace) ReadMemoryWord(addr uint32) felt.Word {
	return t.ReadMemoryWordInContext(addr, t.rootContext, t.lastCycle)
}

// ReadMemoryWordInContext reads the word at addr in ctx as of cycle.
// Misaligned addresses read as the zero word.
func (t *ExecutionTrace) ReadMemoryWordInContext(addr uint32, ctx vm.ContextID, cycle uint64) felt.Word {
	w, err := t.memory.ReadWord(ctx, addr, cycle)
	if err != nil {
		return felt.Word{}
	}
	return w
}

// ReadMemoryElement reads the element at addr in the root context at the
// last cycle.
func (t *ExecutionTrace) ReadMemoryElement(addr uint32) felt.Felt {
	return t.ReadMemoryElementInContext(addr, t.rootContext, t.lastCycle)
}

// ReadMemoryElementInContext reads the element at addr in ctx as of cycle.
func (t *ExecutionTrace) ReadMemoryElementInContext(addr uint32, ctx vm.ContextID, cycle uint64) felt.Felt {
	return t.memory.ReadElement(ctx, addr, cycle)
}

// ReadBytesForType reads enough memory at ptr to hold a value of type ty.
// Each element contributes its low 32 bits in big endian order. Types
// spanning whole words have the elements of each word reversed first,
// since the most significant element is pushed first. The result is cut to
// the size of the type, so types narrower than an element keep the leading
// bytes of the element.
func (t *ExecutionTrace) ReadBytesForType(ptr NativePtr, ty Type, ctx vm.ContextID, cycle uint64) ([]byte, error) {
	if !ptr.IsElementAligned() {
		return nil, ErrUnalignedRead
	}
	n := ty.SizeInFelts()
	if uint64(ptr.Addr)+uint64(n) > 1<<32 {
		return nil, ErrOutOfBounds
	}
	elems := make([]felt.Felt, n)
	for i := range elems {
		elems[i] = t.ReadMemoryElementInContext(ptr.Addr+uint32(i), ctx, cycle)
	}
	if n >= 4 {
		for start := 0; start+4 <= n; start += 4 {
			w := elems[start : start+4]
			w[0], w[1], w[2], w[3] = w[3], w[2], w[1], w[0]
		}
	}

	buf := make([]byte, 0, 4*n)
	for _, e := range elems {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], e.Lo32())
		buf = append(buf, b[:]...)
	}
	if size := ty.SizeInBytes(); size < len(buf) {
		buf = buf[:size]
	}
	return buf, nil
}

func sortContexts(ctxs []vm.ContextID) {
	sort.Slice(ctxs, func(i, j int) bool { return ctxs[i] < ctxs[j] })
}

func (t *ExecutionTrace) String() string {
	if t.err != nil {
		return fmt.Sprintf("execution trace (failed at cycle %d): %v", t.lastCycle, t.err)
	}
	return fmt.Sprintf("execution trace (%d cycles)", t.lastCycle)
}
