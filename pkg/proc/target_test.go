package proc

import (
	"errors"
	"testing"

	"github.com/feltdbg/feltdbg/pkg/felt"
	"github.com/feltdbg/feltdbg/pkg/vm"
)

const addTwoSource = `
proc.add_two
    add
end

begin
    push.1.2.3
    exec.add_two
end
`

const countdownSource = `
proc.countdown
    dup.0 neq.0
    if.true
        sub.1
        exec.countdown
    end
end

begin
    push.2
    exec.countdown
end
`

func newTarget(t *testing.T, src string, args ...felt.Felt) *Target {
	t.Helper()
	prog := assemble(t, src)
	exec := NewExecutor(args).IntoDebug(prog)
	trace := NewExecutor(args).CaptureTrace(prog)
	return NewTarget(exec, trace)
}

func TestStepIdempotentAfterTermination(t *testing.T) {
	e := debugExecutorFor(t, addTwoSource)
	for i := 0; !e.Stopped(); i++ {
		if i > 100 {
			t.Fatalf("program did not terminate")
		}
		if _, err := e.Step(); err != nil {
			t.Fatal(err)
		}
	}
	cycle, op, stack := e.Cycle(), e.CurrentOp(), e.Stack()
	assertStack(t, e.StackOutputs(), 5, 1)
	for i := 0; i < 3; i++ {
		frame, err := e.Step()
		if frame != nil || err != nil {
			t.Fatalf("expected nil, nil after termination, got %v %v", frame, err)
		}
		if e.Cycle() != cycle || e.CurrentOp() != op {
			t.Fatalf("state changed after termination")
		}
		assertStack(t, e.Stack(), stack...)
	}
	if cycle != 7 {
		t.Fatalf("expected 7 cycles, got %d", cycle)
	}
}

func TestContinueAtCycle(t *testing.T) {
	tgt := newTarget(t, addTwoSource)
	if _, err := tgt.CreateBreakpoint(AtCycle(3)); err != nil {
		t.Fatal(err)
	}
	reason, err := tgt.Continue()
	if err != nil {
		t.Fatal(err)
	}
	if reason != StopBreakpoint || tgt.Executor().Cycle() != 3 {
		t.Fatalf("expected to stop at cycle 3 on a breakpoint, got %s at %d", reason, tgt.Executor().Cycle())
	}
	assertStack(t, tgt.Executor().Stack(), 3, 2, 1)
	if len(tgt.Breakpoints.Hit) != 1 || len(tgt.UserBreakpoints()) != 1 {
		t.Fatalf("persistent breakpoint should be hit and stay live")
	}

	reason, err = tgt.Continue()
	if err != nil || reason != StopExited {
		t.Fatalf("expected the program to exit, got %s %v", reason, err)
	}
	if len(tgt.Breakpoints.Hit) != 0 {
		t.Fatalf("hits must be cleared on resume")
	}
	assertStack(t, tgt.Executor().StackOutputs(), 5, 1)
	assertStack(t, tgt.Trace().Outputs(), 5, 1)

	_, err = tgt.Continue()
	if _, ok := err.(ErrProgramTerminated); !ok {
		t.Fatalf("expected ErrProgramTerminated, got %v", err)
	}
}

func TestContinueAfterCycles(t *testing.T) {
	tgt := newTarget(t, addTwoSource)
	if _, err := tgt.Step(2); err != nil {
		t.Fatal(err)
	}
	tgt.CreateBreakpoint(AfterCycles(3))
	if _, err := tgt.Continue(); err != nil {
		t.Fatal(err)
	}
	if c := tgt.Executor().Cycle(); c != 5 {
		t.Fatalf("expected to stop 3 cycles after cycle 2, stopped at %d", c)
	}
}

func TestStepOutRecursive(t *testing.T) {
	tgt := newTarget(t, countdownSource)
	e := tgt.Executor()
	for e.CallStack().Depth() < 3 {
		if _, err := tgt.Step(1); err != nil || e.Stopped() {
			t.Fatalf("could not reach depth 2: %v", err)
		}
	}
	target := e.CallStack().CurrentFrame()
	if target.Depth() != 2 || target.Procedure() != "" && target.Procedure() != "test::countdown" {
		t.Fatalf("unexpected frame %#v", target)
	}

	reason, err := tgt.StepOut()
	if err != nil {
		t.Fatal(err)
	}
	if reason != StopCallReturned {
		t.Fatalf("expected call returned, got %s", reason)
	}

	var ends []uint64
	for _, rec := range e.bus.All() {
		if rec.Event.Kind == FrameEnd {
			ends = append(ends, rec.Cycle)
		}
	}
	// the innermost recursive call returns first, it must not stop the loop
	if len(ends) != 2 || e.Cycle() != ends[1] {
		t.Fatalf("expected to stop at the second frame end, stopped at %d (frame ends %v)", e.Cycle(), ends)
	}
	if e.CallStack().Depth() != 2 {
		t.Fatalf("expected the depth 1 frame to be current, depth is %d", e.CallStack().Depth())
	}
	if tgt.Breakpoints.HasInternalBreakpoints() || target.BreakOnExit() {
		t.Fatalf("finish breakpoint was not consumed")
	}
	if len(tgt.Breakpoints.Hit) != 1 || tgt.Breakpoints.Hit[0].Type.Kind != FinishBreakpoint {
		t.Fatalf("expected the finish breakpoint in the hit list, got %v", tgt.Breakpoints.Hit)
	}

	if reason, err := tgt.Continue(); err != nil || reason != StopExited {
		t.Fatalf("unexpected %s %v", reason, err)
	}
	assertStack(t, e.StackOutputs(), 0)
}

func TestNextStopsAtInstructionBoundary(t *testing.T) {
	tgt := newTarget(t, addTwoSource)
	reason, err := tgt.Next()
	if err != nil {
		t.Fatal(err)
	}
	// push.1.2.3 takes three cycles
	if reason != StopNextFinished || tgt.Executor().Cycle() != 3 || !tgt.Executor().AtInstructionBoundary() {
		t.Fatalf("unexpected stop %s at %d", reason, tgt.Executor().Cycle())
	}
	if tgt.Breakpoints.HasInternalBreakpoints() {
		t.Fatalf("next breakpoint not consumed")
	}
	if _, err := tgt.Next(); err != nil {
		t.Fatal(err)
	}
	if a := tgt.Executor().CurrentAsmOp(); a == nil || a.Op != "exec.add_two" {
		t.Fatalf("expected to stop on exec, got %#v", a)
	}
}

const nestedSource = `
proc.inner
    add
end

proc.outer
    exec.inner
    push.1 add
end

begin
    push.1.2.3
    exec.outer
    push.0 add
end
`

func TestFinishSurvivesOtherStops(t *testing.T) {
	tgt := newTarget(t, nestedSource)
	e := tgt.Executor()
	bp, _ := tgt.CreateBreakpoint(InProcedure("outer"))
	if reason, err := tgt.Continue(); err != nil || reason != StopBreakpoint {
		t.Fatalf("unexpected %s %v", reason, err)
	}
	tgt.ClearBreakpoint(bp.ID)
	outer := e.CallStack().CurrentFrame()
	if e.CallStack().Depth() < 2 {
		t.Fatalf("expected to stop inside outer, depth is %d", e.CallStack().Depth())
	}

	tgt.CreateBreakpoint(InProcedure("inner"))
	reason, err := tgt.StepOut()
	if err != nil {
		t.Fatal(err)
	}
	if reason != StopBreakpoint || e.CallStack().CurrentFrame() == outer {
		t.Fatalf("expected to stop in inner, got %s at depth %d", reason, e.CallStack().Depth())
	}
	if !tgt.Breakpoints.HasInternalBreakpoints() || !outer.BreakOnExit() {
		t.Fatalf("finish breakpoint must stay live until outer returns")
	}

	tgt.ClearAllBreakpoints()
	if reason, err := tgt.Continue(); err != nil || reason != StopCallReturned {
		t.Fatalf("expected call returned, got %s %v", reason, err)
	}
	if tgt.Breakpoints.HasInternalBreakpoints() || outer.BreakOnExit() {
		t.Fatalf("finish breakpoint was not consumed")
	}
	if e.Stopped() {
		t.Fatalf("stopped at termination instead of the exit of outer")
	}
}

func TestNextReplacesPendingNext(t *testing.T) {
	tgt := newTarget(t, addTwoSource)
	tgt.CreateBreakpoint(AtCycle(2))
	// cycle 2 is inside push.1.2.3
	if reason, err := tgt.Next(); err != nil || reason != StopBreakpoint || tgt.Executor().Cycle() != 2 {
		t.Fatalf("unexpected %s %v at %d", reason, err, tgt.Executor().Cycle())
	}
	if !tgt.Breakpoints.HasInternalBreakpoints() {
		t.Fatalf("next breakpoint must stay live until it matches")
	}
	if reason, err := tgt.Next(); err != nil || reason != StopNextFinished || tgt.Executor().Cycle() != 3 {
		t.Fatalf("unexpected %s %v at %d", reason, err, tgt.Executor().Cycle())
	}
	if tgt.Breakpoints.HasInternalBreakpoints() || len(tgt.Breakpoints.Live) != 1 {
		t.Fatalf("expected only the user breakpoint to be live, got %v", tgt.Breakpoints.Live)
	}
}

func TestPendingFinishClearedAtTermination(t *testing.T) {
	tgt := newTarget(t, nestedSource)
	e := tgt.Executor()
	tgt.CreateBreakpoint(InProcedure("inner"))
	if _, err := tgt.Continue(); err != nil {
		t.Fatal(err)
	}
	tgt.ClearAllBreakpoints()
	depth := e.CallStack().Depth()
	if _, err := tgt.CreateBreakpoint(BreakpointType{Kind: FinishBreakpoint}); err != nil {
		t.Fatal(err)
	}
	// Step ignores breakpoints, the finish breakpoint outlives its frame
	for e.CallStack().Depth() >= depth {
		if _, err := tgt.Step(1); err != nil || e.Stopped() {
			t.Fatalf("inner did not return: %v", err)
		}
	}
	if !tgt.Breakpoints.HasInternalBreakpoints() {
		t.Fatalf("expected a pending finish breakpoint")
	}
	if reason, err := tgt.Continue(); err != nil || reason != StopExited {
		t.Fatalf("unexpected %s %v", reason, err)
	}
	if tgt.Breakpoints.HasInternalBreakpoints() {
		t.Fatalf("one-shot breakpoints must be cleared when the program terminates")
	}
}

func TestProcedureAndLocationBreakpoints(t *testing.T) {
	tgt := newTarget(t, addTwoSource)
	tgt.CreateBreakpoint(InProcedure("add_two"))
	if _, err := tgt.Continue(); err != nil {
		t.Fatal(err)
	}
	e := tgt.Executor()
	if e.CurrentAsmOp() == nil || e.CurrentAsmOp().Op != "add" {
		t.Fatalf("expected to stop on add, got %v", e.CurrentOp())
	}
	assertStack(t, e.Stack(), 5, 1)

	tgt = newTarget(t, addTwoSource)
	tgt.CreateBreakpoint(AtLocation("test.masm", 8))
	if _, err := tgt.Continue(); err != nil {
		t.Fatal(err)
	}
	if a := tgt.Executor().CurrentAsmOp(); a == nil || a.Op != "exec.add_two" || tgt.Executor().Cycle() != 4 {
		t.Fatalf("unexpected stop at cycle %d: %#v", tgt.Executor().Cycle(), a)
	}
}

func TestContinueExecutionFailure(t *testing.T) {
	tgt := newTarget(t, `
proc.check
    push.1 assertz.err=12
end

begin
    push.4
    exec.check
end
`)
	reason, err := tgt.Continue()
	if err != nil {
		t.Fatalf("execution errors must be stored, not returned: %v", err)
	}
	if reason != StopFailed {
		t.Fatalf("expected StopFailed, got %s", reason)
	}
	var ee *ExecutionError
	if !errors.As(tgt.ExecutionFailed(), &ee) {
		t.Fatalf("expected an execution error, got %v", tgt.ExecutionFailed())
	}
	var fa *vm.ErrFailedAssertion
	if !errors.As(ee, &fa) || fa.Code != 12 {
		t.Fatalf("unexpected cause %v", ee.Err)
	}
	e := tgt.Executor()
	// the last good state stays inspectable
	assertStack(t, e.Stack(), 1, 4)
	if e.CallStack().CurrentFrame().Procedure() != "test::check" {
		t.Fatalf("expected to fail inside check, got %q", e.CallStack().CurrentFrame().Procedure())
	}
	if fails := e.CallStack().AssertionFailures(); len(fails) != 1 || fails[0].Event.Code != 12 {
		t.Fatalf("unexpected assertion events %v", fails)
	}
	if trace := tgt.Trace(); trace.Failure() == nil {
		t.Fatalf("the captured trace should record the failure")
	}
	if _, err := tgt.Step(1); err == nil {
		t.Fatalf("a failed program must not be steppable")
	}
}

func TestBreakpointIDAllocation(t *testing.T) {
	bpmap := NewBreakpointMap()
	seen := map[uint8]bool{}
	for i := 0; i < 255; i++ {
		bp, err := bpmap.Add(AtCycle(uint64(i)), 0)
		if err != nil {
			t.Fatalf("breakpoint %d: %v", i, err)
		}
		if seen[bp.ID] {
			t.Fatalf("id %d reused while live", bp.ID)
		}
		seen[bp.ID] = true
	}
	if _, err := bpmap.Add(AtCycle(0), 0); !errors.Is(err, ErrBreakpointIDsExhausted) || !IsFatal(err) {
		t.Fatalf("expected id exhaustion, got %v", err)
	}

	// deleting frees an id for later allocations
	if _, err := bpmap.Remove(7); err != nil {
		t.Fatal(err)
	}
	delete(seen, 7)
	bp, err := bpmap.Add(AtCycle(0), 0)
	if err != nil {
		t.Fatal(err)
	}
	if seen[bp.ID] {
		t.Fatalf("id %d allocated while live", bp.ID)
	}
	if _, err := bpmap.Add(AtCycle(0), 0); !errors.Is(err, ErrBreakpointIDsExhausted) {
		t.Fatalf("expected id exhaustion, got %v", err)
	}
	if _, err := bpmap.Remove(bp.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := bpmap.Remove(bp.ID); err == nil {
		t.Fatalf("removing a deleted breakpoint should fail")
	}
}

func TestBreakpointIDsCreateDelete(t *testing.T) {
	bpmap := NewBreakpointMap()
	live := map[uint8]bool{}
	for i := 0; i < 255; i++ {
		bp, err := bpmap.Add(AtCycle(1), 0)
		if err != nil {
			t.Fatal(err)
		}
		if live[bp.ID] {
			t.Fatalf("id %d is already live", bp.ID)
		}
		live[bp.ID] = true
		if i%2 == 1 {
			if _, err := bpmap.Remove(bp.ID); err != nil {
				t.Fatal(err)
			}
			delete(live, bp.ID)
		}
	}
	// hit breakpoints keep their id
	bpmap.Hit = append(bpmap.Hit, &Breakpoint{ID: bpmap.nextID})
	bp, err := bpmap.Add(AtCycle(1), 0)
	if err != nil {
		t.Fatal(err)
	}
	if bp.ID == bpmap.Hit[0].ID || live[bp.ID] {
		t.Fatalf("allocated id %d is in use", bp.ID)
	}
}

func TestClearBreakpoints(t *testing.T) {
	tgt := newTarget(t, addTwoSource)
	a, _ := tgt.CreateBreakpoint(AtCycle(2))
	tgt.CreateBreakpoint(InProcedure("add_two"))
	tgt.CreateBreakpoint(BreakpointType{Kind: NextBreakpoint})
	if _, err := tgt.ClearBreakpoint(a.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := tgt.ClearBreakpoint(a.ID); err == nil {
		t.Fatalf("expected NoBreakpointError")
	}
	removed := tgt.ClearAllBreakpoints()
	if len(removed) != 1 || len(tgt.UserBreakpoints()) != 0 || !tgt.Breakpoints.HasInternalBreakpoints() {
		t.Fatalf("only user breakpoints should be cleared")
	}
}

func TestManualStop(t *testing.T) {
	tgt := newTarget(t, addTwoSource)
	tgt.RequestManualStop()
	// Continue drops stale requests made before it started.
	if reason, err := tgt.Continue(); err != nil || reason != StopExited {
		t.Fatalf("unexpected %s %v", reason, err)
	}
}

func TestPollImmediately(t *testing.T) {
	ch := make(chan vm.EventResult, 1)
	if _, err := pollImmediately(ch); !errors.Is(err, errCompletionNotReady) {
		t.Fatalf("expected not ready, got %v", err)
	}
	ch <- vm.EventResult{Advice: []felt.Felt{3}}
	res, err := pollImmediately(ch)
	if err != nil || len(res.Advice) != 1 {
		t.Fatalf("unexpected result %v %v", res, err)
	}
}

func TestCompletionNotReadyIsInternal(t *testing.T) {
	bus := NewEventBus()
	host := NewDebuggerHost(bus)
	process := vm.NewProcess(assemble(t, "begin push.1 emit.5 end"), nil, nil, vm.ExecutionOptions{
		Await: func(<-chan vm.EventResult) (vm.EventResult, error) {
			// a completion that is still pending
			return pollImmediately(make(chan vm.EventResult))
		},
	})
	e := newDebugExecutor(process, host, bus)
	if _, err := e.Step(); err != nil {
		t.Fatal(err)
	}
	_, err := e.Step()
	var ie *InternalError
	if !errors.As(err, &ie) || ie.Cycle != 2 || !IsFatal(err) {
		t.Fatalf("expected an internal error at cycle 2, got %v", err)
	}
	assertStack(t, ie.Stack, 1)
	if !e.Stopped() {
		t.Fatalf("executor should stop on internal errors")
	}
}

func TestEmitHandler(t *testing.T) {
	ex := NewExecutor(nil)
	ex.RegisterEventHandler(9, func(state vm.ProcessState) ([]felt.Felt, error) {
		return []felt.Felt{felt.Felt(state.Clk())}, nil
	})
	trace := ex.CaptureTrace(assemble(t, "begin push.0 emit.9 adv_push.1 end"))
	if trace.Failure() != nil {
		t.Fatal(trace.Failure())
	}
	assertStack(t, trace.Outputs(), 2, 0)
}
