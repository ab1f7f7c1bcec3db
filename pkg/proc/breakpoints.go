package proc

import (
	"fmt"
	"strings"
)

// BreakpointKind determines when a breakpoint stops execution.
type BreakpointKind uint8

const (
	// AtCycleBreakpoint stops when the cycle counter reaches a value.
	AtCycleBreakpoint BreakpointKind = iota
	// AfterCyclesBreakpoint stops after a number of cycles has been
	// executed since execution last resumed.
	AfterCyclesBreakpoint
	// InProcedureBreakpoint stops on any instruction of a procedure.
	InProcedureBreakpoint
	// AtLocationBreakpoint stops on an instruction assembled from a source
	// line.
	AtLocationBreakpoint
	// NextBreakpoint is set by Next, it stops at the following
	// instruction boundary and is deleted.
	NextBreakpoint
	// FinishBreakpoint is set by StepOut, it stops when the frame current at
	// the time it was created returns and is deleted.
	FinishBreakpoint
)

// BreakpointType is the condition of a breakpoint. Only the fields
// relevant to Kind are set.
type BreakpointType struct {
	Kind      BreakpointKind
	Cycles    uint64
	Procedure string
	File      string
	// Line is 1-based, 0 matches every line of File.
	Line uint32
}

// AtCycle returns a breakpoint type stopping at cycle n.
func AtCycle(n uint64) BreakpointType {
	return BreakpointType{Kind: AtCycleBreakpoint, Cycles: n}
}

// AfterCycles returns a breakpoint type stopping n cycles after resuming.
func AfterCycles(n uint64) BreakpointType {
	return BreakpointType{Kind: AfterCyclesBreakpoint, Cycles: n}
}

// InProcedure returns a breakpoint type stopping inside the procedure name.
func InProcedure(name string) BreakpointType {
	return BreakpointType{Kind: InProcedureBreakpoint, Procedure: name}
}

// AtLocation returns a breakpoint type stopping at file:line.
func AtLocation(file string, line uint32) BreakpointType {
	return BreakpointType{Kind: AtLocationBreakpoint, File: file, Line: line}
}

func (ty BreakpointType) String() string {
	switch ty.Kind {
	case AtCycleBreakpoint:
		return fmt.Sprintf("at cycle %d", ty.Cycles)
	case AfterCyclesBreakpoint:
		return fmt.Sprintf("after %d cycles", ty.Cycles)
	case InProcedureBreakpoint:
		return fmt.Sprintf("in %s", ty.Procedure)
	case AtLocationBreakpoint:
		if ty.Line == 0 {
			return fmt.Sprintf("at %s", ty.File)
		}
		return fmt.Sprintf("at %s:%d", ty.File, ty.Line)
	case NextBreakpoint:
		return "next"
	case FinishBreakpoint:
		return "finish"
	}
	return fmt.Sprintf("BreakpointKind(%d)", ty.Kind)
}

// IsOneShot reports whether the breakpoint is deleted when it is hit.
func (ty BreakpointType) IsOneShot() bool {
	return ty.Kind == NextBreakpoint || ty.Kind == FinishBreakpoint
}

// IsInternal reports whether the breakpoint was created by a stepping
// command rather than by the user.
func (ty BreakpointType) IsInternal() bool {
	return ty.IsOneShot()
}

// Breakpoint is a condition evaluated after every step of the free-run
// loop.
type Breakpoint struct {
	ID            uint8
	CreationCycle uint64
	Type          BreakpointType

	// frame is the frame a FinishBreakpoint waits for.
	frame *CallFrame
}

func (bp *Breakpoint) String() string {
	return fmt.Sprintf("Breakpoint %d %s (created at cycle %d)", bp.ID, bp.Type, bp.CreationCycle)
}

// IsInternal reports whether bp was created by a stepping command.
func (bp *Breakpoint) IsInternal() bool {
	return bp.Type.IsInternal()
}

// cycleTarget reports whether bp is a cycle count breakpoint matching at
// cycle, given that the current run resumed at start.
func (bp *Breakpoint) cycleTarget(cycle, start uint64) (isCycle, hit bool) {
	switch bp.Type.Kind {
	case AtCycleBreakpoint:
		return true, cycle == bp.Type.Cycles
	case AfterCyclesBreakpoint:
		return true, cycle-start == bp.Type.Cycles
	}
	return false, false
}

// ShouldBreakAt reports whether an AtLocation breakpoint matches loc.
// Files match on a path suffix.
func (bp *Breakpoint) ShouldBreakAt(loc *ResolvedLocation) bool {
	if bp.Type.Kind != AtLocationBreakpoint || loc == nil {
		return false
	}
	if !fileMatches(loc.File, bp.Type.File) {
		return false
	}
	return bp.Type.Line == 0 || bp.Type.Line == loc.Line
}

// ShouldBreakIn reports whether an InProcedure breakpoint matches the
// procedure name, either fully qualified or by its last path component.
func (bp *Breakpoint) ShouldBreakIn(procedure string) bool {
	if bp.Type.Kind != InProcedureBreakpoint || procedure == "" {
		return false
	}
	return procedure == bp.Type.Procedure || strings.HasSuffix(procedure, "::"+bp.Type.Procedure)
}

func fileMatches(file, pattern string) bool {
	if file == pattern {
		return true
	}
	file = strings.ReplaceAll(file, "\\", "/")
	pattern = strings.ReplaceAll(pattern, "\\", "/")
	return strings.HasSuffix(file, "/"+strings.TrimPrefix(pattern, "./"))
}

// maxBreakpoints is the number of breakpoints that can hold an id at the
// same time.
const maxBreakpoints = 255

// BreakpointMap holds the live breakpoints and those hit by the last
// resumed run.
type BreakpointMap struct {
	Live []*Breakpoint
	Hit  []*Breakpoint

	nextID uint8
}

// NewBreakpointMap creates a new empty BreakpointMap.
func NewBreakpointMap() BreakpointMap {
	return BreakpointMap{}
}

// ResetBreakpointIDCounter resets the id cursor, so that allocation
// starts again from id 0.
func (bpmap *BreakpointMap) ResetBreakpointIDCounter() {
	bpmap.nextID = 0
}

// allocateID returns the first id at or after the cursor that no live or
// hit breakpoint holds, wrapping around.
func (bpmap *BreakpointMap) allocateID() (uint8, error) {
	used := make(map[uint8]bool, len(bpmap.Live)+len(bpmap.Hit))
	for _, bp := range bpmap.Live {
		used[bp.ID] = true
	}
	for _, bp := range bpmap.Hit {
		used[bp.ID] = true
	}
	if len(used) >= maxBreakpoints {
		return 0, ErrBreakpointIDsExhausted
	}
	initial := bpmap.nextID
	candidate := initial
	for next := candidate + 1; next != initial; next = candidate + 1 {
		if !used[candidate] {
			bpmap.nextID = next
			return candidate, nil
		}
		candidate = next
	}
	return 0, ErrBreakpointIDsExhausted
}

// Add creates a live breakpoint.
func (bpmap *BreakpointMap) Add(ty BreakpointType, cycle uint64) (*Breakpoint, error) {
	id, err := bpmap.allocateID()
	if err != nil {
		return nil, err
	}
	bp := &Breakpoint{ID: id, CreationCycle: cycle, Type: ty}
	bpmap.Live = append(bpmap.Live, bp)
	return bp, nil
}

// Get returns the live breakpoint with the given id.
func (bpmap *BreakpointMap) Get(id uint8) (*Breakpoint, bool) {
	for _, bp := range bpmap.Live {
		if bp.ID == id {
			return bp, true
		}
	}
	return nil, false
}

// Remove deletes the live breakpoint with the given id.
func (bpmap *BreakpointMap) Remove(id uint8) (*Breakpoint, error) {
	for i, bp := range bpmap.Live {
		if bp.ID == id {
			bpmap.Live = append(bpmap.Live[:i], bpmap.Live[i+1:]...)
			return bp, nil
		}
	}
	return nil, NoBreakpointError{ID: id}
}

// RemoveUser deletes every live breakpoint created by the user and returns
// them.
func (bpmap *BreakpointMap) RemoveUser() []*Breakpoint {
	var removed []*Breakpoint
	kept := bpmap.Live[:0]
	for _, bp := range bpmap.Live {
		if bp.IsInternal() {
			kept = append(kept, bp)
		} else {
			removed = append(removed, bp)
		}
	}
	bpmap.Live = kept
	return removed
}

// HasInternalBreakpoints returns true if there are any internal
// breakpoints set.
func (bpmap *BreakpointMap) HasInternalBreakpoints() bool {
	for _, bp := range bpmap.Live {
		if bp.IsInternal() {
			return true
		}
	}
	return false
}

// ClearInternalBreakpoints removes the Next and Finish breakpoints,
// clearing the break on exit flag of the frames Finish breakpoints were
// waiting for.
func (bpmap *BreakpointMap) ClearInternalBreakpoints() {
	kept := bpmap.Live[:0]
	for _, bp := range bpmap.Live {
		if !bp.IsInternal() {
			kept = append(kept, bp)
			continue
		}
		if bp.frame != nil {
			bp.frame.SetBreakOnExit(false)
		}
	}
	bpmap.Live = kept
}

func (bpmap *BreakpointMap) removeNext() {
	kept := bpmap.Live[:0]
	for _, bp := range bpmap.Live {
		if bp.Type.Kind != NextBreakpoint {
			kept = append(kept, bp)
		}
	}
	bpmap.Live = kept
}

// finishFor returns the live Finish breakpoint waiting for frame.
func (bpmap *BreakpointMap) finishFor(frame *CallFrame) *Breakpoint {
	for _, bp := range bpmap.Live {
		if bp.Type.Kind == FinishBreakpoint && bp.frame == frame {
			return bp
		}
	}
	return nil
}

// ClearHits empties the hit list.
func (bpmap *BreakpointMap) ClearHits() {
	bpmap.Hit = nil
}

// take moves the live list out of the map, the map keeps no reference to
// it until restore is called.
func (bpmap *BreakpointMap) take() []*Breakpoint {
	live := bpmap.Live
	bpmap.Live = nil
	return live
}

func (bpmap *BreakpointMap) restore(live []*Breakpoint) {
	bpmap.Live = append(live, bpmap.Live...)
}
