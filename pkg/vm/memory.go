package vm

import (
	"sort"

	"github.com/feltdbg/feltdbg/pkg/felt"
)

// ContextID identifies a memory address space. The root context is 0.
type ContextID uint32

// RootContext is the context the program body executes in.
const RootContext ContextID = 0

type memWrite struct {
	clk uint64
	val felt.Felt
}

// Memory is sparse, element addressed and zero initialised. Every write is
// kept with the cycle it happened at so that memory can be read as of any
// earlier cycle.
type Memory struct {
	ctxs map[ContextID]map[uint32][]memWrite
}

// NewMemory returns empty memory.
func NewMemory() *Memory {
	return &Memory{ctxs: map[ContextID]map[uint32][]memWrite{}}
}

// Write stores v at addr in ctx as of cycle clk. Writes must be issued in
// non-decreasing cycle order.
func (m *Memory) Write(ctx ContextID, addr uint32, clk uint64, v felt.Felt) {
	space := m.ctxs[ctx]
	if space == nil {
		space = map[uint32][]memWrite{}
		m.ctxs[ctx] = space
	}
	hist := space[addr]
	if n := len(hist); n > 0 && hist[n-1].clk == clk {
		hist[n-1].val = v
		return
	}
	space[addr] = append(hist, memWrite{clk: clk, val: v})
}

// WriteWord stores w at the four consecutive addresses starting at addr.
func (m *Memory) WriteWord(ctx ContextID, addr uint32, clk uint64, w felt.Word) error {
	if addr%4 != 0 {
		return &ErrUnalignedWord{Addr: addr}
	}
	for i := range w {
		m.Write(ctx, addr+uint32(i), clk, w[i])
	}
	return nil
}

// ReadElement returns the value at addr in ctx as of cycle clk.
func (m *Memory) ReadElement(ctx ContextID, addr uint32, clk uint64) felt.Felt {
	hist := m.ctxs[ctx][addr]
	i := sort.Search(len(hist), func(i int) bool { return hist[i].clk > clk })
	if i == 0 {
		return felt.Zero
	}
	return hist[i-1].val
}

// ReadWord returns the word starting at addr, which must be a multiple of 4.
func (m *Memory) ReadWord(ctx ContextID, addr uint32, clk uint64) (felt.Word, error) {
	var w felt.Word
	if addr%4 != 0 {
		return w, &ErrUnalignedWord{Addr: addr}
	}
	for i := range w {
		w[i] = m.ReadElement(ctx, addr+uint32(i), clk)
	}
	return w, nil
}

// Contexts returns every context that has been written to, sorted.
func (m *Memory) Contexts() []ContextID {
	r := make([]ContextID, 0, len(m.ctxs))
	for ctx := range m.ctxs {
		r = append(r, ctx)
	}
	sort.Slice(r, func(i, j int) bool { return r[i] < r[j] })
	return r
}
