package proc

import (
	"errors"

	"github.com/sirupsen/logrus"

	"github.com/feltdbg/feltdbg/pkg/felt"
	"github.com/feltdbg/feltdbg/pkg/logflags"
	"github.com/feltdbg/feltdbg/pkg/vm"
)

// DebugExecutor steps a VM process one cycle at a time, keeping the call
// stack and variable tracker in sync with every retired cycle.
type DebugExecutor struct {
	process   *vm.Process
	host      *DebuggerHost
	bus       *EventBus
	callstack *CallStack
	vars      *DebugVarTracker

	currentStack []felt.Felt
	currentOp    *vm.Operation
	currentAsmOp *vm.AssemblyOp
	stackOutputs []felt.Felt

	contexts    map[vm.ContextID]struct{}
	rootContext vm.ContextID
	currentCtx  vm.ContextID
	recent      opWindow

	cycle   uint64
	stopped bool
	err     error

	log *logrus.Entry
}

func newDebugExecutor(process *vm.Process, host *DebuggerHost, bus *EventBus) *DebugExecutor {
	ctx := process.Ctx()
	return &DebugExecutor{
		process:      process,
		host:         host,
		bus:          bus,
		callstack:    NewCallStack(bus),
		vars:         NewDebugVarTracker(),
		currentStack: process.StackState(),
		contexts:     map[vm.ContextID]struct{}{ctx: {}},
		rootContext:  ctx,
		currentCtx:   ctx,
		log:          logflags.ExecutorLogger(),
	}
}

// Step retires one cycle. It returns the frame that exited during the
// cycle if that frame was flagged to break on exit. Once the program has
// terminated, successfully or not, Step returns nil, nil.
func (e *DebugExecutor) Step() (*CallFrame, error) {
	if e.stopped {
		return nil, nil
	}
	step, err := e.process.Step(e.host)
	if err != nil {
		e.stopped = true
		if errors.Is(err, errCompletionNotReady) || errors.Is(err, errEventOutOfOrder) {
			e.err = e.internalError(e.cycle+1, err.Error())
		} else {
			e.err = &ExecutionError{Cycle: e.cycle + 1, Err: err}
		}
		e.log.Debugf("execution stopped: %v", e.err)
		return nil, e.err
	}
	if step == nil {
		e.stopped = true
		e.stackOutputs = e.process.StackState()
		e.log.Debugf("program terminated at cycle %d", e.cycle)
		return nil, nil
	}

	op := step.Op
	e.cycle = step.Clk
	e.currentStack = e.process.StackState()
	e.currentOp = &op
	e.currentAsmOp = step.AsmOp
	e.currentCtx = e.process.Ctx()
	e.contexts[e.currentCtx] = struct{}{}
	e.recent.push(OpDetail{Cycle: step.Clk, Op: &op, AsmOp: step.AsmOp})
	if logflags.Executor() {
		e.log.Debugf("cycle %d: %s stack=%v", e.cycle, op, e.currentStack)
	}

	for _, v := range step.Vars {
		e.vars.Record(e.cycle, v)
	}
	e.vars.UpdateToCycle(e.cycle)

	exited, err := e.callstack.Next(StepInfo{Op: &op, AsmOp: step.AsmOp, Cycle: e.cycle, Ctx: e.currentCtx})
	if err != nil {
		e.stopped = true
		if ie, ok := err.(*InternalError); ok && ie.Stack == nil {
			ie.Stack = e.currentStack
		}
		e.err = err
		return nil, err
	}
	return exited, nil
}

func (e *DebugExecutor) internalError(cycle uint64, reason string) *InternalError {
	ie := &InternalError{Cycle: cycle, Reason: reason, Stack: e.currentStack}
	f := e.callstack.CurrentFrame()
	ie.Frame = f.Procedure()
	if loc := f.LastLocation(); loc != nil {
		ie.Location = loc.String()
	}
	return ie
}

// Cycle returns the last retired cycle.
func (e *DebugExecutor) Cycle() uint64 { return e.cycle }

// Stopped reports whether the program has terminated.
func (e *DebugExecutor) Stopped() bool { return e.stopped }

// Err returns the error execution stopped with, if any.
func (e *DebugExecutor) Err() error { return e.err }

// Stack returns the operand stack as of the last retired cycle, top first.
func (e *DebugExecutor) Stack() []felt.Felt { return e.currentStack }

// StackOutputs returns the final operand stack of a program that
// terminated successfully.
func (e *DebugExecutor) StackOutputs() []felt.Felt { return e.stackOutputs }

// CurrentOp returns the operation retired by the last step, nil before the
// first step.
func (e *DebugExecutor) CurrentOp() *vm.Operation { return e.currentOp }

// CurrentAsmOp returns the assembly info of the last retired operation.
func (e *DebugExecutor) CurrentAsmOp() *vm.AssemblyOp { return e.currentAsmOp }

// CurrentContext returns the active memory context.
func (e *DebugExecutor) CurrentContext() vm.ContextID { return e.currentCtx }

// RootContext returns the context the program started in.
func (e *DebugExecutor) RootContext() vm.ContextID { return e.rootContext }

// FMP returns the current frame pointer.
func (e *DebugExecutor) FMP() uint64 { return e.process.FMP() }

// Contexts returns every context entered so far.
func (e *DebugExecutor) Contexts() []vm.ContextID {
	r := make([]vm.ContextID, 0, len(e.contexts))
	for ctx := range e.contexts {
		r = append(r, ctx)
	}
	sortContexts(r)
	return r
}

// CallStack returns the reconstructed call stack.
func (e *DebugExecutor) CallStack() *CallStack { return e.callstack }

// Variables returns the debug variable tracker.
func (e *DebugExecutor) Variables() *DebugVarTracker { return e.vars }

// Recent returns the last operations retired, oldest first.
func (e *DebugExecutor) Recent() []OpDetail { return e.recent.slice() }

// Host returns the host the process reports to.
func (e *DebugExecutor) Host() *DebuggerHost { return e.host }

// AtInstructionBoundary reports whether the last retired cycle completed a
// source instruction.
func (e *DebugExecutor) AtInstructionBoundary() bool {
	a := e.currentAsmOp
	return a != nil && a.CycleIdx+1 == a.NumCycles
}

// StackTrace renders the call stack together with the recent operations.
func (e *DebugExecutor) StackTrace() StackTrace {
	return e.callstack.StackTrace(e.recent.slice())
}

// ReadMemoryElement reads addr in the current context as of the current
// cycle.
func (e *DebugExecutor) ReadMemoryElement(addr uint32) felt.Felt {
	return e.process.Memory().ReadElement(e.currentCtx, addr, e.cycle)
}

// VariableValue resolves the value of a tracked variable against the
// current state.
func (e *DebugExecutor) VariableValue(snap DebugVarSnapshot) (felt.Felt, bool) {
	getMemory := func(addr uint32) (felt.Felt, bool) {
		return e.ReadMemoryElement(addr), true
	}
	getLocal := func(offset int16) (felt.Felt, bool) {
		addr := int64(e.process.FMP()) + int64(offset)
		if addr < 0 || addr > int64(^uint32(0)) {
			return 0, false
		}
		return e.ReadMemoryElement(uint32(addr)), true
	}
	return ResolveVariableValue(snap.Info.Location, e.currentStack, getMemory, getLocal)
}

// IntoExecutionTrace returns a read only view over the memory and outputs
// of the run so far.
func (e *DebugExecutor) IntoExecutionTrace() *ExecutionTrace {
	outputs := e.stackOutputs
	if outputs == nil {
		outputs = e.currentStack
	}
	return &ExecutionTrace{
		rootContext: e.rootContext,
		lastCycle:   e.cycle,
		memory:      e.process.Memory(),
		outputs:     outputs,
		err:         e.err,
	}
}
