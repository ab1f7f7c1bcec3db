package proc

import (
	"errors"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/feltdbg/feltdbg/pkg/logflags"
)

// StopReason describes why the target is stopped.
type StopReason uint8

const (
	StopUnknown      StopReason = iota
	StopLaunched                // The program was just loaded
	StopStepped                 // A step command completed
	StopBreakpoint              // One or more user breakpoints were hit
	StopNextFinished            // A next command completed
	StopCallReturned            // The frame a finish command waited for returned
	StopExited                  // The program terminated successfully
	StopFailed                  // The program terminated with an error
	StopManual                  // A manual stop was requested
)

// String maps StopReason to string representation.
func (sr StopReason) String() string {
	switch sr {
	case StopUnknown:
		return "unknown"
	case StopLaunched:
		return "launched"
	case StopStepped:
		return "stepped"
	case StopBreakpoint:
		return "breakpoint"
	case StopNextFinished:
		return "next finished"
	case StopCallReturned:
		return "call returned"
	case StopExited:
		return "exited"
	case StopFailed:
		return "failed"
	case StopManual:
		return "manual"
	default:
		return ""
	}
}

// Target is the program being debugged: the stepped executor, the trace
// of an independent run to completion used for memory reads, and the
// breakpoints of the session.
type Target struct {
	exec  *DebugExecutor
	trace *ExecutionTrace

	// Breakpoints holds the live and hit breakpoints.
	Breakpoints BreakpointMap

	// StopReason describes why the target stopped last.
	StopReason StopReason

	executionFailed error
	stopped         bool
	manualStop      int32

	log *logrus.Entry
}

// NewTarget returns a target stopped before its first cycle.
func NewTarget(exec *DebugExecutor, trace *ExecutionTrace) *Target {
	return &Target{
		exec:        exec,
		trace:       trace,
		Breakpoints: NewBreakpointMap(),
		StopReason:  StopLaunched,
		stopped:     true,
		log:         logflags.DebuggerLogger(),
	}
}

// Executor returns the stepped executor.
func (t *Target) Executor() *DebugExecutor { return t.exec }

// Trace returns the trace of the run to completion.
func (t *Target) Trace() *ExecutionTrace { return t.trace }

// ExecutionFailed returns the error the program failed with, if any.
func (t *Target) ExecutionFailed() error { return t.executionFailed }

// Stopped reports whether the last resumed run has stopped.
func (t *Target) Stopped() bool { return t.stopped }

// Exited reports whether the program has terminated.
func (t *Target) Exited() bool { return t.exec.Stopped() }

// Valid returns an error if the target can not be resumed.
func (t *Target) Valid() (bool, error) {
	if t.exec.Stopped() {
		return false, ErrProgramTerminated{Cycle: t.exec.Cycle(), Err: t.executionFailed}
	}
	return true, nil
}

// CreateBreakpoint creates a breakpoint at the current cycle. A Finish
// breakpoint flags the current frame to break on exit.
func (t *Target) CreateBreakpoint(ty BreakpointType) (*Breakpoint, error) {
	bp, err := t.Breakpoints.Add(ty, t.exec.Cycle())
	if err != nil {
		return nil, err
	}
	if ty.Kind == FinishBreakpoint {
		frame := t.exec.CallStack().CurrentFrame()
		frame.SetBreakOnExit(true)
		bp.frame = frame
	}
	t.log.Debugf("created breakpoint %d (%s) at cycle %d", bp.ID, ty, bp.CreationCycle)
	return bp, nil
}

// ClearBreakpoint deletes the breakpoint with the given id.
func (t *Target) ClearBreakpoint(id uint8) (*Breakpoint, error) {
	bp, err := t.Breakpoints.Remove(id)
	if err != nil {
		return nil, err
	}
	if bp.frame != nil {
		bp.frame.SetBreakOnExit(false)
	}
	return bp, nil
}

// ClearAllBreakpoints deletes every user breakpoint.
func (t *Target) ClearAllBreakpoints() []*Breakpoint {
	return t.Breakpoints.RemoveUser()
}

// UserBreakpoints returns the live breakpoints created by the user.
func (t *Target) UserBreakpoints() []*Breakpoint {
	var r []*Breakpoint
	for _, bp := range t.Breakpoints.Live {
		if !bp.IsInternal() {
			r = append(r, bp)
		}
	}
	return r
}

// RequestManualStop asks a running Continue to stop before the next
// cycle. It is safe to call from another goroutine.
func (t *Target) RequestManualStop() {
	atomic.StoreInt32(&t.manualStop, 1)
}

func (t *Target) checkAndClearManualStopRequest() bool {
	return atomic.SwapInt32(&t.manualStop, 0) == 1
}

// failed records a step error. Errors that make the session untrustworthy
// are returned, execution errors are stored and the target stops.
func (t *Target) failed(err error) error {
	t.stopped = true
	if IsFatal(err) {
		t.StopReason = StopFailed
		return err
	}
	if t.executionFailed == nil {
		t.executionFailed = err
	}
	t.StopReason = StopFailed
	t.log.Debugf("execution failed: %v", err)
	return nil
}

// Step executes n cycles, ignoring breakpoints.
func (t *Target) Step(n int) (StopReason, error) {
	if _, err := t.Valid(); err != nil {
		return t.StopReason, err
	}
	t.Breakpoints.ClearHits()
	t.stopped = false
	for i := 0; i < n; i++ {
		if t.checkAndClearManualStopRequest() {
			t.StopReason = StopManual
			t.stopped = true
			return t.StopReason, nil
		}
		if _, err := t.exec.Step(); err != nil {
			return t.StopReason, t.failed(err)
		}
		if t.exec.Stopped() {
			break
		}
	}
	t.stopped = true
	t.StopReason = StopStepped
	if t.exec.Stopped() {
		t.StopReason = StopExited
	}
	return t.StopReason, nil
}

// Next runs until the next instruction boundary. A Next breakpoint left
// pending by an interrupted run is replaced.
func (t *Target) Next() (StopReason, error) {
	if _, err := t.Valid(); err != nil {
		return t.StopReason, err
	}
	t.Breakpoints.removeNext()
	if _, err := t.CreateBreakpoint(BreakpointType{Kind: NextBreakpoint}); err != nil {
		return t.StopReason, err
	}
	return t.Continue()
}

// StepOut runs until the current frame returns.
func (t *Target) StepOut() (StopReason, error) {
	if _, err := t.Valid(); err != nil {
		return t.StopReason, err
	}
	if t.exec.CallStack().Depth() <= 1 {
		return t.StopReason, errors.New("can not finish the outermost frame")
	}
	if t.Breakpoints.finishFor(t.exec.CallStack().CurrentFrame()) == nil {
		if _, err := t.CreateBreakpoint(BreakpointType{Kind: FinishBreakpoint}); err != nil {
			return t.StopReason, err
		}
	}
	return t.Continue()
}

// Continue runs the program until a breakpoint is hit or the program
// terminates. Next and Finish breakpoints stay live until they match or
// the program terminates.
func (t *Target) Continue() (StopReason, error) {
	if _, err := t.Valid(); err != nil {
		return t.StopReason, err
	}
	t.Breakpoints.ClearHits()
	t.stopped = false
	t.checkAndClearManualStopRequest()

	start := t.exec.Cycle()
	live := t.Breakpoints.take()
	defer func() {
		t.Breakpoints.restore(live)
		if t.exec.Stopped() {
			t.Breakpoints.ClearInternalBreakpoints()
		}
	}()

	for {
		if t.checkAndClearManualStopRequest() {
			t.StopReason = StopManual
			break
		}
		exited, err := t.exec.Step()
		if err != nil {
			return t.StopReason, t.failed(err)
		}
		if t.exec.Stopped() {
			t.StopReason = StopExited
			break
		}

		if exited != nil {
			if i := finishBreakpointFor(live, exited); i >= 0 {
				exited.SetBreakOnExit(false)
				t.Breakpoints.Hit = append(t.Breakpoints.Hit, live[i])
				live = append(live[:i], live[i+1:]...)
				t.StopReason = StopCallReturned
				break
			}
		}

		if len(live) == 0 {
			continue
		}
		var reason StopReason
		live, reason = t.evalBreakpoints(live, start)
		if len(t.Breakpoints.Hit) > 0 {
			t.StopReason = reason
			break
		}
	}
	t.stopped = true
	return t.StopReason, nil
}

func finishBreakpointFor(live []*Breakpoint, exited *CallFrame) int {
	for i := len(live) - 1; i >= 0; i-- {
		if live[i].Type.Kind == FinishBreakpoint && live[i].frame == exited {
			return i
		}
	}
	return -1
}

// evalBreakpoints checks every breakpoint against the state of the last
// retired cycle. Hits are appended to the hit list and one-shot
// breakpoints are removed from the returned list.
func (t *Target) evalBreakpoints(live []*Breakpoint, start uint64) ([]*Breakpoint, StopReason) {
	cycle := t.exec.Cycle()
	boundary := t.exec.AtInstructionBoundary()
	frame := t.exec.CallStack().CurrentFrame()
	procedure := frame.Procedure()
	var loc *ResolvedLocation
	if d, ok := frame.LastOp(); ok {
		loc = d.Location()
	}

	reason := StopBreakpoint
	kept := live[:0]
	for _, bp := range live {
		hit := false
		if isCycle, ok := bp.cycleTarget(cycle, start); isCycle {
			hit = ok
		} else if bp.Type.Kind == NextBreakpoint {
			hit = boundary && cycle > bp.CreationCycle
		} else if boundary {
			hit = bp.ShouldBreakAt(loc) || bp.ShouldBreakIn(procedure)
		}
		if !hit {
			kept = append(kept, bp)
			continue
		}
		t.Breakpoints.Hit = append(t.Breakpoints.Hit, bp)
		if bp.Type.Kind == NextBreakpoint {
			reason = StopNextFinished
		}
		if !bp.Type.IsOneShot() {
			kept = append(kept, bp)
		}
	}
	return kept, reason
}
