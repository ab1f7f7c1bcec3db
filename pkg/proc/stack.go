package proc

import (
	"fmt"
	"strings"

	"github.com/feltdbg/feltdbg/pkg/vm"
)

const recentOpsCapacity = 5

// ResolvedLocation is a source position an operation was assembled from.
type ResolvedLocation struct {
	File string
	Line uint32
	Col  uint32
}

func (loc ResolvedLocation) String() string {
	return fmt.Sprintf("%s:%d:%d", loc.File, loc.Line, loc.Col)
}

// OpDetail is one retired operation, with its assembly info if it has
// any.
type OpDetail struct {
	Cycle uint64
	Op    *vm.Operation
	AsmOp *vm.AssemblyOp
}

// Location returns the source location of the operation, or nil.
func (d OpDetail) Location() *ResolvedLocation {
	if d.AsmOp == nil || d.AsmOp.Location == nil {
		return nil
	}
	l := d.AsmOp.Location
	return &ResolvedLocation{File: l.File, Line: l.Line, Col: l.Col}
}

func (d OpDetail) String() string {
	var op string
	if d.Op != nil {
		op = d.Op.String()
	}
	if d.AsmOp == nil {
		return fmt.Sprintf("%-8d %s", d.Cycle, op)
	}
	s := fmt.Sprintf("%-8d %-20s %s", d.Cycle, d.AsmOp.Op, op)
	if d.AsmOp.NumCycles > 1 {
		s += fmt.Sprintf(" [%d/%d]", d.AsmOp.CycleIdx+1, d.AsmOp.NumCycles)
	}
	return s
}

// opWindow is a fixed size FIFO of the most recent operations.
type opWindow struct {
	ops   [recentOpsCapacity]OpDetail
	start int
	n     int
}

func (w *opWindow) push(d OpDetail) {
	if w.n < len(w.ops) {
		w.ops[(w.start+w.n)%len(w.ops)] = d
		w.n++
		return
	}
	w.ops[w.start] = d
	w.start = (w.start + 1) % len(w.ops)
}

// slice returns the window contents, oldest first.
func (w *opWindow) slice() []OpDetail {
	r := make([]OpDetail, w.n)
	for i := 0; i < w.n; i++ {
		r[i] = w.ops[(w.start+i)%len(w.ops)]
	}
	return r
}

func (w *opWindow) last() (OpDetail, bool) {
	if w.n == 0 {
		return OpDetail{}, false
	}
	return w.ops[(w.start+w.n-1)%len(w.ops)], true
}

// StepInfo is what the CallStack observes of a retired cycle.
type StepInfo struct {
	Op    *vm.Operation
	AsmOp *vm.AssemblyOp
	Cycle uint64
	Ctx   vm.ContextID
}

// CallFrame is the reconstruction of one active procedure invocation.
type CallFrame struct {
	procedure   string
	recent      opWindow
	breakOnExit bool
	location    *ResolvedLocation
	startCycle  uint64
	ctx         vm.ContextID
	depth       int
}

// Procedure returns the name of the procedure executing in the frame, or
// the empty string if the frame has not retired an instruction yet.
func (f *CallFrame) Procedure() string {
	return f.procedure
}

// Recent returns the last operations retired in the frame, oldest first.
func (f *CallFrame) Recent() []OpDetail {
	return f.recent.slice()
}

// LastLocation returns the most recently resolved source location.
func (f *CallFrame) LastLocation() *ResolvedLocation {
	return f.location
}

// LastOp returns the last operation retired in this frame.
func (f *CallFrame) LastOp() (OpDetail, bool) {
	return f.recent.last()
}

// BreakOnExit reports whether leaving the frame should stop execution.
func (f *CallFrame) BreakOnExit() bool {
	return f.breakOnExit
}

// SetBreakOnExit sets or clears the break on exit flag.
func (f *CallFrame) SetBreakOnExit(v bool) {
	f.breakOnExit = v
}

// StartCycle returns the cycle the frame was entered at.
func (f *CallFrame) StartCycle() uint64 {
	return f.startCycle
}

// Context returns the memory context active when the frame was entered.
func (f *CallFrame) Context() vm.ContextID {
	return f.ctx
}

// Depth returns the nesting depth of the frame, 0 for the root frame.
func (f *CallFrame) Depth() int {
	return f.depth
}

func (f *CallFrame) record(info StepInfo) {
	if info.Op == nil && info.AsmOp == nil {
		return
	}
	d := OpDetail{Cycle: info.Cycle, Op: info.Op, AsmOp: info.AsmOp}
	f.recent.push(d)
	if info.AsmOp != nil && f.procedure == "" {
		f.procedure = info.AsmOp.ContextName
	}
	if loc := d.Location(); loc != nil {
		f.location = loc
	}
}

// CallStack reconstructs nested call frames from the FrameStart and
// FrameEnd events on an EventBus.
type CallStack struct {
	bus    *EventBus
	frames []*CallFrame
}

// NewCallStack returns a call stack holding only the root frame.
func NewCallStack(bus *EventBus) *CallStack {
	return &CallStack{
		bus:    bus,
		frames: []*CallFrame{{ctx: vm.RootContext}},
	}
}

// Next updates the stack with the events and operation of one retired
// cycle. It returns the frame that exited this cycle if that frame was
// flagged to break on exit.
//
// FrameEnd events are applied before FrameStart events of the same cycle
// so that a frame ending and a sibling starting at once stay well nested.
func (cs *CallStack) Next(info StepInfo) (*CallFrame, error) {
	var exited *CallFrame
	events := cs.bus.At(info.Cycle)
	for _, ev := range events {
		if ev.Kind != FrameEnd {
			continue
		}
		if len(cs.frames) <= 1 {
			cur := cs.CurrentFrame()
			ie := &InternalError{
				Cycle:  info.Cycle,
				Frame:  cur.procedure,
				Reason: "frame end event with no matching frame start",
			}
			if cur.location != nil {
				ie.Location = cur.location.String()
			}
			return nil, ie
		}
		f := cs.frames[len(cs.frames)-1]
		cs.frames = cs.frames[:len(cs.frames)-1]
		if f.breakOnExit {
			exited = f
		}
	}
	for _, ev := range events {
		if ev.Kind != FrameStart {
			continue
		}
		cs.frames = append(cs.frames, &CallFrame{
			startCycle: info.Cycle,
			ctx:        info.Ctx,
			depth:      len(cs.frames),
		})
	}
	cs.CurrentFrame().record(info)
	return exited, nil
}

// CurrentFrame returns the innermost frame.
func (cs *CallStack) CurrentFrame() *CallFrame {
	return cs.frames[len(cs.frames)-1]
}

// Frames returns the open frames, outermost first.
func (cs *CallStack) Frames() []*CallFrame {
	return cs.frames
}

// Depth returns the number of open frames, including the root frame.
func (cs *CallStack) Depth() int {
	return len(cs.frames)
}

// AssertionFailures returns the assertion failures recorded so far.
func (cs *CallStack) AssertionFailures() []EventRecord {
	var r []EventRecord
	for _, rec := range cs.bus.All() {
		if rec.Event.Kind == AssertionFailed {
			r = append(r, rec)
		}
	}
	return r
}

// StackTrace captures the current frames, innermost first, together with
// recent, the last operations retired by the executor.
func (cs *CallStack) StackTrace(recent []OpDetail) StackTrace {
	st := StackTrace{Recent: recent}
	for i := len(cs.frames) - 1; i >= 0; i-- {
		f := cs.frames[i]
		sf := StackFrame{Procedure: f.procedure, Depth: f.depth, StartCycle: f.startCycle}
		if f.location != nil {
			loc := *f.location
			sf.Location = &loc
		}
		st.Frames = append(st.Frames, sf)
	}
	return st
}

// StackFrame is a frame of a StackTrace.
type StackFrame struct {
	Procedure  string
	Location   *ResolvedLocation
	Depth      int
	StartCycle uint64
}

func (sf StackFrame) String() string {
	name := sf.Procedure
	if name == "" {
		name = "<unknown>"
	}
	if sf.Location == nil {
		return name
	}
	return fmt.Sprintf("%s at %s", name, sf.Location)
}

// StackTrace is a snapshot of the call stack.
type StackTrace struct {
	Frames []StackFrame
	Recent []OpDetail
}

// CurrentFrame returns the innermost frame of the trace.
func (st StackTrace) CurrentFrame() *StackFrame {
	if len(st.Frames) == 0 {
		return nil
	}
	return &st.Frames[0]
}

func (st StackTrace) String() string {
	var buf strings.Builder
	buf.WriteString("Stack trace (most recent call first):\n")
	for i, f := range st.Frames {
		fmt.Fprintf(&buf, "  #%d %s\n", i, f)
	}
	if len(st.Recent) > 0 {
		buf.WriteString("Recently executed operations:\n")
		for i, d := range st.Recent {
			marker := " "
			if i == len(st.Recent)-1 {
				marker = ">"
			}
			fmt.Fprintf(&buf, "  %s %s\n", marker, d)
		}
	}
	return buf.String()
}
