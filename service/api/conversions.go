package api

import (
	"strconv"

	"github.com/feltdbg/feltdbg/pkg/felt"
	"github.com/feltdbg/feltdbg/pkg/proc"
)

// ConvertBreakpoint converts an internal breakpoint to an API Breakpoint.
func ConvertBreakpoint(bp *proc.Breakpoint) *Breakpoint {
	r := &Breakpoint{
		ID:            int(bp.ID),
		CreationCycle: bp.CreationCycle,
		Spec:          BreakpointSpec(bp.Type),
	}
	switch bp.Type.Kind {
	case proc.AtCycleBreakpoint:
		r.Kind = "at"
		r.Cycles = bp.Type.Cycles
	case proc.AfterCyclesBreakpoint:
		r.Kind = "after"
		r.Cycles = bp.Type.Cycles
	case proc.InProcedureBreakpoint:
		r.Kind = "in"
		r.Procedure = bp.Type.Procedure
	case proc.AtLocationBreakpoint:
		r.Kind = "location"
		r.File = bp.Type.File
		r.Line = int(bp.Type.Line)
	case proc.NextBreakpoint:
		r.Kind = "next"
	case proc.FinishBreakpoint:
		r.Kind = "finish"
	}
	return r
}

// BreakpointSpec returns ty in the form accepted by locspec.Parse. Next and
// Finish breakpoints have no textual form and return their kind name.
func BreakpointSpec(ty proc.BreakpointType) string {
	switch ty.Kind {
	case proc.AtCycleBreakpoint:
		return "at " + strconv.FormatUint(ty.Cycles, 10)
	case proc.AfterCyclesBreakpoint:
		return "after " + strconv.FormatUint(ty.Cycles, 10)
	case proc.InProcedureBreakpoint:
		return "in " + ty.Procedure
	case proc.AtLocationBreakpoint:
		if ty.Line == 0 {
			return ty.File
		}
		return ty.File + ":" + strconv.Itoa(int(ty.Line))
	}
	return ty.String()
}

// ConvertLocation converts a resolved location to an API Location.
func ConvertLocation(loc *proc.ResolvedLocation) *Location {
	if loc == nil {
		return nil
	}
	return &Location{File: loc.File, Line: int(loc.Line), Col: int(loc.Col)}
}

// ConvertStackframe converts a frame of a stack trace to an API Stackframe.
func ConvertStackframe(sf proc.StackFrame) Stackframe {
	return Stackframe{
		Procedure:  sf.Procedure,
		Location:   ConvertLocation(sf.Location),
		Depth:      sf.Depth,
		StartCycle: sf.StartCycle,
	}
}

// ConvertStacktrace converts every frame of st, innermost first.
func ConvertStacktrace(st proc.StackTrace) []Stackframe {
	r := make([]Stackframe, len(st.Frames))
	for i := range st.Frames {
		r[i] = ConvertStackframe(st.Frames[i])
	}
	return r
}

// ConvertOperation converts a retired operation.
func ConvertOperation(d proc.OpDetail) Operation {
	r := Operation{Cycle: d.Cycle}
	if d.Op != nil {
		r.Op = d.Op.String()
	}
	if d.AsmOp != nil {
		r.Asm = d.AsmOp.Op
	}
	r.Location = ConvertLocation(d.Location())
	return r
}

// ConvertVariable converts a debug variable snapshot and its resolved value.
func ConvertVariable(snap proc.DebugVarSnapshot, value felt.Felt, ok bool) Variable {
	v := Variable{
		Name:     snap.Info.Name,
		Location: snap.Info.Location.String(),
		Cycle:    snap.Cycle,
	}
	if ok {
		v.Value = value.String()
	} else {
		v.Unreadable = "location can not be resolved"
	}
	return v
}

// ConvertFelts formats a list of field elements in decimal.
func ConvertFelts(fs []felt.Felt) []string {
	r := make([]string, len(fs))
	for i := range fs {
		r[i] = fs[i].String()
	}
	return r
}
