package proc

import (
	"sort"

	"github.com/feltdbg/feltdbg/pkg/felt"
	"github.com/feltdbg/feltdbg/pkg/vm"
)

// DebugVarSnapshot is the location of a source variable as observed at a
// given cycle.
type DebugVarSnapshot struct {
	Cycle uint64
	Info  vm.DebugVarInfo
}

// DebugVarTracker keeps the most recent known location of each source
// level variable.
type DebugVarTracker struct {
	history []DebugVarSnapshot
	current map[string]DebugVarSnapshot
	// folded is the number of history entries applied to current.
	folded    int
	lastCycle uint64
}

// NewDebugVarTracker returns an empty tracker.
func NewDebugVarTracker() *DebugVarTracker {
	return &DebugVarTracker{current: map[string]DebugVarSnapshot{}}
}

// Record appends an observation of info at cycle.
func (t *DebugVarTracker) Record(cycle uint64, info vm.DebugVarInfo) {
	t.history = append(t.history, DebugVarSnapshot{Cycle: cycle, Info: info})
}

// UpdateToCycle folds every observation made at or before cycle into the
// current mapping. Moving backwards rebuilds the mapping from scratch.
func (t *DebugVarTracker) UpdateToCycle(cycle uint64) {
	if cycle < t.lastCycle {
		t.current = map[string]DebugVarSnapshot{}
		t.folded = 0
	}
	t.lastCycle = cycle
	for t.folded < len(t.history) {
		snap := t.history[t.folded]
		if snap.Cycle > cycle {
			break
		}
		t.current[snap.Info.Name] = snap
		t.folded++
	}
}

// Reset clears all state.
func (t *DebugVarTracker) Reset() {
	t.history = nil
	t.current = map[string]DebugVarSnapshot{}
	t.folded = 0
	t.lastCycle = 0
}

// Get returns the current snapshot of the variable called name.
func (t *DebugVarTracker) Get(name string) (DebugVarSnapshot, bool) {
	snap, ok := t.current[name]
	return snap, ok
}

// Current returns every tracked variable, sorted by name.
func (t *DebugVarTracker) Current() []DebugVarSnapshot {
	r := make([]DebugVarSnapshot, 0, len(t.current))
	for _, snap := range t.current {
		r = append(r, snap)
	}
	sort.Slice(r, func(i, j int) bool { return r[i].Info.Name < r[j].Info.Name })
	return r
}

// Count returns the number of tracked variables.
func (t *DebugVarTracker) Count() int {
	return len(t.current)
}

// HasVariables reports whether any variable was ever observed.
func (t *DebugVarTracker) HasVariables() bool {
	return len(t.history) > 0
}

// ResolveVariableValue computes the value of a variable at loc. The stack
// is top first. getMemory reads an element address and getLocal reads a
// frame pointer relative slot. The second result is false when the value
// can not be determined.
func ResolveVariableValue(loc vm.DebugVarLocation, stack []felt.Felt, getMemory func(addr uint32) (felt.Felt, bool), getLocal func(offset int16) (felt.Felt, bool)) (felt.Felt, bool) {
	switch loc.Kind {
	case vm.VarStack:
		if int(loc.Index) >= len(stack) {
			return 0, false
		}
		return stack[loc.Index], true
	case vm.VarMemory:
		if getMemory == nil {
			return 0, false
		}
		return getMemory(loc.Addr)
	case vm.VarConst:
		return loc.Value, true
	case vm.VarLocal:
		if getLocal == nil {
			return 0, false
		}
		return getLocal(loc.Offset)
	case vm.VarExpression:
		// Expression locations are not evaluated.
		return 0, false
	}
	return 0, false
}
