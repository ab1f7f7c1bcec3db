package proc

import (
	"testing"

	"github.com/feltdbg/feltdbg/pkg/felt"
	"github.com/feltdbg/feltdbg/pkg/vm"
)

func assemble(t *testing.T, src string) *vm.Program {
	t.Helper()
	prog, err := vm.Assemble("test.masm", src)
	if err != nil {
		t.Fatalf("could not assemble: %v", err)
	}
	return prog
}

func debugExecutorFor(t *testing.T, src string, args ...felt.Felt) *DebugExecutor {
	t.Helper()
	return NewExecutor(args).IntoDebug(assemble(t, src))
}

func assertStack(t *testing.T, got []felt.Felt, want ...felt.Felt) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("stack mismatch: got %v, want %v", got, want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Fatalf("stack mismatch: got %v, want %v", got, want)
		}
	}
}

func TestCallStackDepth(t *testing.T) {
	bus := NewEventBus()
	cs := NewCallStack(bus)
	asm := func(ctx string, line uint32) *vm.AssemblyOp {
		return &vm.AssemblyOp{ContextName: ctx, Op: "nop", NumCycles: 1, Location: &vm.Location{File: "a.masm", Line: line}}
	}
	// cycle -> events, and the depth expected once the cycle is processed
	script := []struct {
		events []TraceEventKind
		asm    *vm.AssemblyOp
		depth  int
	}{
		{nil, asm("$main", 1), 1},
		{[]TraceEventKind{FrameStart}, nil, 2},
		{nil, asm("m::a", 2), 2},
		{[]TraceEventKind{FrameStart}, nil, 3},
		{nil, asm("m::b", 3), 3},
		// b returns and its sibling c is entered in the same cycle
		{[]TraceEventKind{FrameStart, FrameEnd}, nil, 3},
		{nil, asm("m::c", 4), 3},
		{[]TraceEventKind{FrameEnd}, nil, 2},
		{[]TraceEventKind{FrameEnd}, nil, 1},
		{nil, asm("$main", 5), 1},
	}
	for i, step := range script {
		cycle := uint64(i + 1)
		for _, k := range step.events {
			if err := bus.Append(cycle, TraceEvent{Kind: k}); err != nil {
				t.Fatal(err)
			}
		}
		op := vm.Operation{Code: vm.OpNoop}
		if _, err := cs.Next(StepInfo{Op: &op, AsmOp: step.asm, Cycle: cycle}); err != nil {
			t.Fatalf("cycle %d: %v", cycle, err)
		}
		if cs.Depth() != step.depth {
			t.Fatalf("cycle %d: depth %d, expected %d", cycle, cs.Depth(), step.depth)
		}
		if cs.Depth() != len(cs.Frames()) {
			t.Fatalf("cycle %d: depth does not match the number of frames", cycle)
		}
		if step.asm != nil && cs.CurrentFrame().Procedure() != step.asm.ContextName {
			t.Fatalf("cycle %d: current frame is %q, expected %q", cycle, cs.CurrentFrame().Procedure(), step.asm.ContextName)
		}
	}
	if loc := cs.CurrentFrame().LastLocation(); loc == nil || loc.Line != 5 {
		t.Fatalf("unexpected location of the root frame %v", loc)
	}
}

func TestCallStackUnmatchedFrameEnd(t *testing.T) {
	bus := NewEventBus()
	cs := NewCallStack(bus)
	if err := bus.Append(4, TraceEvent{Kind: FrameEnd}); err != nil {
		t.Fatal(err)
	}
	_, err := cs.Next(StepInfo{Cycle: 4})
	ie, ok := err.(*InternalError)
	if !ok {
		t.Fatalf("expected an internal error, got %v", err)
	}
	if ie.Cycle != 4 || !IsFatal(err) {
		t.Fatalf("unexpected error %#v", ie)
	}
	if cs.Depth() != 1 {
		t.Fatalf("the root frame must never be popped")
	}
}

func TestCallStackBreakOnExit(t *testing.T) {
	bus := NewEventBus()
	cs := NewCallStack(bus)
	bus.Append(1, TraceEvent{Kind: FrameStart})
	cs.Next(StepInfo{Cycle: 1})
	f := cs.CurrentFrame()
	f.SetBreakOnExit(true)
	bus.Append(2, TraceEvent{Kind: FrameStart})
	cs.Next(StepInfo{Cycle: 2})
	bus.Append(3, TraceEvent{Kind: FrameEnd})
	if exited, err := cs.Next(StepInfo{Cycle: 3}); err != nil || exited != nil {
		t.Fatalf("unflagged frame reported as exited: %v %v", exited, err)
	}
	bus.Append(4, TraceEvent{Kind: FrameEnd})
	exited, err := cs.Next(StepInfo{Cycle: 4})
	if err != nil || exited != f {
		t.Fatalf("expected the flagged frame to be reported, got %v %v", exited, err)
	}
}

func TestRecentOpsWindow(t *testing.T) {
	cs := NewCallStack(NewEventBus())
	for i := 1; i <= 8; i++ {
		op := vm.Operation{Code: vm.OpPush, Imm: felt.Felt(i)}
		cs.Next(StepInfo{Op: &op, Cycle: uint64(i)})
	}
	recent := cs.CurrentFrame().Recent()
	if len(recent) != recentOpsCapacity {
		t.Fatalf("expected %d recent ops, got %d", recentOpsCapacity, len(recent))
	}
	for i, d := range recent {
		if d.Cycle != uint64(4+i) {
			t.Fatalf("recent ops out of order: %v", recent)
		}
	}
	// cycles without an operation are not recorded
	cs.Next(StepInfo{Cycle: 9})
	if last, _ := cs.CurrentFrame().LastOp(); last.Cycle != 8 {
		t.Fatalf("empty step was recorded")
	}
}

func TestEventBusOrder(t *testing.T) {
	bus := NewEventBus()
	bus.Append(3, TraceEvent{Kind: FrameStart})
	bus.Append(3, TraceEvent{Kind: AssertionFailed, Code: 2})
	if err := bus.Append(2, TraceEvent{Kind: FrameEnd}); err == nil {
		t.Fatalf("out of order append accepted")
	}
	evs := bus.At(3)
	if len(evs) != 2 || evs[0].Kind != FrameStart || evs[1].Code != 2 {
		t.Fatalf("unexpected events %v", evs)
	}
	if bus.At(4) != nil || bus.Len() != 2 {
		t.Fatalf("unexpected bus contents %v", bus.All())
	}
	all := bus.All()
	all[0].Event.Kind = FrameEnd
	if evs := bus.At(3); evs[0].Kind != FrameStart {
		t.Fatalf("the log was modified through All")
	}
}
