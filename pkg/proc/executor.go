package proc

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/feltdbg/feltdbg/pkg/felt"
	"github.com/feltdbg/feltdbg/pkg/logflags"
	"github.com/feltdbg/feltdbg/pkg/vm"
)

// Executor holds everything needed to run a program: its inputs, options
// and the libraries it links against.
type Executor struct {
	stack     []felt.Felt
	advice    []felt.Felt
	options   vm.ExecutionOptions
	libraries []*vm.Library
	resolver  *vm.DependencyResolver
	handlers  map[uint32]EventHandler
	log       *logrus.Entry
}

// NewExecutor returns an executor pushing args onto the operand stack in
// order, so that the last one ends up on top.
func NewExecutor(args []felt.Felt) *Executor {
	return NewExecutorFromConfig(&ExecutionConfig{Inputs: ExecutionInputs{Stack: toFeltValues(args)}})
}

// NewExecutorFromConfig returns an executor for the inputs and options of
// cfg.
func NewExecutorFromConfig(cfg *ExecutionConfig) *Executor {
	return &Executor{
		stack:    cfg.StackInputs(),
		advice:   cfg.AdviceInputs(),
		options:  vm.ExecutionOptions{MaxCycles: cfg.Options.MaxCycles},
		resolver: vm.NewDependencyResolver(),
		handlers: map[uint32]EventHandler{},
		log:      logflags.ExecutorLogger(),
	}
}

func toFeltValues(fs []felt.Felt) []FeltValue {
	r := make([]FeltValue, len(fs))
	for i, f := range fs {
		r[i] = FeltValue(f)
	}
	return r
}

// WithDependencies links the library registered for each dependency. An
// unresolved dependency is an error.
func (e *Executor) WithDependencies(deps []vm.Dependency) error {
	for _, dep := range deps {
		lib, ok := e.resolver.Resolve(dep)
		if !ok {
			return fmt.Errorf("dependency %q not found: link it with -l %s", dep.Name, dep.Name)
		}
		e.log.Debugf("dependency %s resolved to library %s", dep.Name, lib.Name)
		e.WithLibrary(lib)
	}
	return nil
}

// WithAdviceInputs appends values to the advice inputs.
func (e *Executor) WithAdviceInputs(advice []felt.Felt) {
	e.advice = append(e.advice, advice...)
}

// WithLibrary makes the procedures of lib callable by the program.
func (e *Executor) WithLibrary(lib *vm.Library) {
	for _, l := range e.libraries {
		if l == lib {
			return
		}
	}
	e.libraries = append(e.libraries, lib)
}

// RegisterLibraryDependency makes lib resolvable as a package dependency.
func (e *Executor) RegisterLibraryDependency(lib *vm.Library) {
	e.resolver.Register(lib)
}

// RegisterEventHandler installs the handler for an emitted event id.
func (e *Executor) RegisterEventHandler(id uint32, fn EventHandler) {
	e.handlers[id] = fn
}

// link returns a copy of prog with every library linked in.
func (e *Executor) link(prog *vm.Program) *vm.Program {
	linked := &vm.Program{
		Module:     prog.Module,
		Entry:      prog.Entry,
		Procedures: make(map[string]*vm.Procedure, len(prog.Procedures)),
		Sources:    make(map[string]string, len(prog.Sources)),
	}
	for k, v := range prog.Procedures {
		linked.Procedures[k] = v
	}
	for k, v := range prog.Sources {
		linked.Sources[k] = v
	}
	for _, lib := range e.libraries {
		linked.Link(lib)
	}
	return linked
}

// IntoDebug prepares prog for stepping.
func (e *Executor) IntoDebug(prog *vm.Program) *DebugExecutor {
	e.log.Debugf("creating debug executor for %s", prog.Module)
	bus := NewEventBus()
	host := NewDebuggerHost(bus)
	for id, fn := range e.handlers {
		host.RegisterEventHandler(id, fn)
	}
	opts := e.options
	opts.Await = pollImmediately
	process := vm.NewProcess(e.link(prog), e.stack, e.advice, opts)
	return newDebugExecutor(process, host, bus)
}

// CaptureTrace runs prog to completion, or to the first error, and returns
// the resulting trace. The error, if any, is available from
// ExecutionTrace.Failure.
func (e *Executor) CaptureTrace(prog *vm.Program) *ExecutionTrace {
	exec := e.IntoDebug(prog)
	for !exec.Stopped() {
		if _, err := exec.Step(); err != nil {
			break
		}
	}
	return exec.IntoExecutionTrace()
}

// Execute runs prog to completion. On failure the returned error carries a
// report of the state the program failed in, see RenderExecutionError.
func (e *Executor) Execute(prog *vm.Program) (*ExecutionTrace, error) {
	exec := e.IntoDebug(prog)
	for !exec.Stopped() {
		if _, err := exec.Step(); err != nil {
			return exec.IntoExecutionTrace(), &ReportedError{Err: err, Report: RenderExecutionError(exec, err)}
		}
	}
	return exec.IntoExecutionTrace(), nil
}

// ReportedError is an execution error together with its rendered report.
type ReportedError struct {
	Err    error
	Report string
}

func (err *ReportedError) Error() string {
	return err.Err.Error()
}

func (err *ReportedError) Unwrap() error {
	return err.Err
}

// RenderExecutionError describes the state exec failed in: the error,
// assertion codes reported by the host, the stack trace and the last known
// frame pointer and operand stack.
func RenderExecutionError(exec *DebugExecutor, err error) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "error: %v\n", err)
	for _, rec := range exec.CallStack().AssertionFailures() {
		fmt.Fprintf(&buf, "  assertion failed at cycle %d", rec.Cycle)
		if rec.Event.Code != 0 {
			fmt.Fprintf(&buf, " with error code %d", rec.Event.Code)
		}
		buf.WriteString("\n")
	}
	buf.WriteString("\n")
	buf.WriteString(exec.StackTrace().String())
	buf.WriteString("\nLast known state:\n")
	writeLastKnownState(&buf, exec)
	return buf.String()
}

func writeLastKnownState(w io.Writer, exec *DebugExecutor) {
	fmt.Fprintf(w, "  cycle: %d\n", exec.Cycle())
	fmt.Fprintf(w, "  context: %d\n", exec.CurrentContext())
	fmt.Fprintf(w, "  fmp: %#x\n", exec.FMP())
	stack := exec.Stack()
	fmt.Fprintf(w, "  operand stack (%d elements, top first):", len(stack))
	for _, v := range stack {
		fmt.Fprintf(w, " %d", v)
	}
	fmt.Fprintln(w)
}
