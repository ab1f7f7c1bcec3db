package debugger

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/feltdbg/feltdbg/pkg/felt"
	"github.com/feltdbg/feltdbg/pkg/linker"
	"github.com/feltdbg/feltdbg/pkg/locspec"
	"github.com/feltdbg/feltdbg/pkg/logflags"
	"github.com/feltdbg/feltdbg/pkg/proc"
	"github.com/feltdbg/feltdbg/pkg/source"
	"github.com/feltdbg/feltdbg/pkg/vm"
	"github.com/feltdbg/feltdbg/service/api"
)

// Debugger service.
//
// Debugger provides a higher level of
// abstraction over proc.Target.
// It handles loading programs and their libraries,
// converting from internal types to the types expected
// by clients, and serialises access to the target.
type Debugger struct {
	config *Config

	processMutex sync.Mutex
	target       *proc.Target
	program      *vm.Program
	deps         []vm.Dependency
	libraries    []*vm.Library
	sources      *source.Manager

	sessionID uuid.UUID
	log       *logrus.Entry

	running      bool
	runningMutex sync.Mutex
}

// Config provides the configuration to start a Debugger.
type Config struct {
	// WorkingDir is the directory relative paths are resolved against.
	WorkingDir string

	// Input is the program to debug: a .masm source file, a package file,
	// or "-" to read a package from Stdin.
	Input string
	// Stdin is read when Input is "-".
	Stdin io.Reader

	// Entrypoint is the procedure called by the program when Input is a
	// library, as module::name or just name.
	Entrypoint string

	// InputsFile is a TOML file with the stack and advice inputs and the
	// execution options.
	InputsFile string
	// Args are the stack inputs, pushed in order. They replace the stack
	// inputs of InputsFile.
	Args []string

	// LinkLibraries are linked into the program.
	LinkLibraries []linker.LinkLibrary
	// SearchPath is the list of directories link libraries are looked up
	// in, before WorkingDir.
	SearchPath []string
}

// New creates a new Debugger and loads the program described by config.
func New(config *Config) (*Debugger, error) {
	d := &Debugger{
		config:    config,
		sources:   source.NewManager(0),
		sessionID: uuid.New(),
	}
	d.log = logflags.DebuggerLogger().WithField("session", d.sessionID.String())

	if err := d.load(); err != nil {
		return nil, err
	}
	if err := d.launch(); err != nil {
		return nil, err
	}
	return d, nil
}

// SessionID identifies this debugging session in logs.
func (d *Debugger) SessionID() string {
	return d.sessionID.String()
}

// load reads the program and its libraries from disk.
func (d *Debugger) load() error {
	d.log.Infof("loading %s", d.config.Input)
	prog, deps, err := loadProgram(d.config.Input, d.config.Stdin, d.config.WorkingDir, d.config.Entrypoint)
	if err != nil {
		return err
	}
	libs, err := linker.LoadAll(d.config.LinkLibraries, d.config.SearchPath, d.config.WorkingDir)
	if err != nil {
		return err
	}
	d.program, d.deps, d.libraries = prog, deps, libs
	return nil
}

// launch creates a new target for the loaded program, together with a
// second run to completion that serves memory reads.
func (d *Debugger) launch() error {
	executor, err := d.newExecutor()
	if err != nil {
		return err
	}
	exec := executor.IntoDebug(d.program)
	trace := executor.CaptureTrace(d.program)
	if failure := trace.Failure(); failure != nil {
		d.log.Debugf("program fails at cycle %d: %v", trace.LastCycle(), failure)
	}
	d.target = proc.NewTarget(exec, trace)

	sources := map[string]string{}
	for path, src := range d.program.Sources {
		sources[path] = src
	}
	for _, lib := range d.libraries {
		for path, src := range lib.Sources {
			sources[path] = src
		}
	}
	d.sources.SetSources(sources)
	return nil
}

func (d *Debugger) newExecutor() (*proc.Executor, error) {
	cfg := &proc.ExecutionConfig{}
	if d.config.InputsFile != "" {
		path := d.config.InputsFile
		if !filepath.IsAbs(path) {
			path = filepath.Join(d.config.WorkingDir, path)
		}
		var err error
		cfg, err = proc.LoadExecutionConfig(path)
		if err != nil {
			return nil, err
		}
	}
	if len(d.config.Args) > 0 {
		args, err := ParseArgs(d.config.Args)
		if err != nil {
			return nil, err
		}
		cfg.Inputs.Stack = make([]proc.FeltValue, len(args))
		for i := range args {
			cfg.Inputs.Stack[i] = proc.FeltValue(args[i])
		}
	}

	executor := proc.NewExecutorFromConfig(cfg)
	for _, lib := range d.libraries {
		executor.WithLibrary(lib)
		executor.RegisterLibraryDependency(lib)
	}
	if err := executor.WithDependencies(d.deps); err != nil {
		return nil, err
	}
	return executor, nil
}

// ParseArgs parses program arguments into field elements.
func ParseArgs(args []string) ([]felt.Felt, error) {
	r := make([]felt.Felt, 0, len(args))
	for _, arg := range args {
		f, err := felt.Parse(arg)
		if err != nil {
			return nil, fmt.Errorf("invalid program argument %q: %v", arg, err)
		}
		r = append(r, f)
	}
	return r, nil
}

// loadProgram loads the program to debug. With an entrypoint a source
// module is assembled as a library and the entrypoint is called from a
// synthesized program body.
func loadProgram(input string, stdin io.Reader, wd, entrypoint string) (*vm.Program, []vm.Dependency, error) {
	if input == "" {
		return nil, nil, errors.New("no program to debug")
	}
	if input != "-" && !filepath.IsAbs(input) && wd != "" {
		input = filepath.Join(wd, input)
	}

	if filepath.Ext(input) == ".masm" {
		buf, err := ioutil.ReadFile(input)
		if err != nil {
			return nil, nil, err
		}
		if entrypoint == "" {
			prog, err := vm.Assemble(input, string(buf))
			return prog, nil, err
		}
		lib, err := vm.AssembleLibrary(vm.ModuleName(input), []vm.SourceFile{{Path: input, Source: string(buf)}})
		if err != nil {
			return nil, nil, err
		}
		prog, err := lib.MakeExecutable(entrypoint)
		return prog, nil, err
	}

	var pkg *vm.Package
	var err error
	if input == "-" {
		if stdin == nil {
			stdin = os.Stdin
		}
		pkg, err = vm.ReadPackage(stdin)
	} else {
		pkg, err = vm.LoadPackage(input)
	}
	if err != nil {
		return nil, nil, err
	}

	if !pkg.IsLibrary() {
		if entrypoint != "" {
			return nil, nil, fmt.Errorf("package %s is executable, --entrypoint is only valid for libraries", pkg.Name)
		}
		prog, err := pkg.Program()
		return prog, pkg.Dependencies, err
	}
	if entrypoint == "" {
		return nil, nil, fmt.Errorf("package %s is a library, an --entrypoint is required", pkg.Name)
	}
	lib, err := pkg.Library()
	if err != nil {
		return nil, nil, err
	}
	prog, err := lib.MakeExecutable(entrypoint)
	return prog, pkg.Dependencies, err
}

// Program returns the program being debugged.
func (d *Debugger) Program() *vm.Program {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	return d.program
}

// Restart discards the current target and starts the program again. When
// reload is set the program and its libraries are read from disk again.
// Every user breakpoint is recreated on the new target, ids are reassigned
// from the beginning.
func (d *Debugger) Restart(reload bool) ([]*api.Breakpoint, error) {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()

	var types []proc.BreakpointType
	for _, bp := range d.target.UserBreakpoints() {
		types = append(types, bp.Type)
	}

	if reload && d.config.Input != "-" {
		if err := d.load(); err != nil {
			return nil, err
		}
	}
	if err := d.launch(); err != nil {
		return nil, err
	}
	d.target.Breakpoints.ResetBreakpointIDCounter()

	r := make([]*api.Breakpoint, 0, len(types))
	for _, ty := range types {
		bp, err := d.target.CreateBreakpoint(ty)
		if err != nil {
			return r, err
		}
		r = append(r, api.ConvertBreakpoint(bp))
	}
	d.log.Debugf("restarted with %d breakpoints", len(r))
	return r, nil
}

// State returns the current state of the debugger.
func (d *Debugger) State(nowait bool) (*api.DebuggerState, error) {
	if d.isRunning() && nowait {
		return &api.DebuggerState{StopReason: "running"}, nil
	}

	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	return d.state(), nil
}

func (d *Debugger) state() *api.DebuggerState {
	exec := d.target.Executor()
	state := &api.DebuggerState{
		Cycle:          exec.Cycle(),
		StopReason:     d.target.StopReason.String(),
		Context:        uint32(exec.CurrentContext()),
		Stack:          api.ConvertFelts(exec.Stack()),
		NextInProgress: d.target.Breakpoints.HasInternalBreakpoints(),
		Exited:         d.target.Exited(),
		Err:            d.target.ExecutionFailed(),
	}
	if op := exec.CurrentOp(); op != nil {
		state.Op = op.String()
	}
	if state.Exited && state.Err == nil {
		state.Outputs = api.ConvertFelts(exec.StackOutputs())
	}
	st := exec.StackTrace()
	if cur := st.CurrentFrame(); cur != nil {
		frame := api.ConvertStackframe(*cur)
		state.CurrentFrame = &frame
	}
	for _, bp := range d.target.Breakpoints.Hit {
		state.Breakpoints = append(state.Breakpoints, api.ConvertBreakpoint(bp))
	}
	return state
}

// CreateBreakpoint creates a breakpoint from a breakpoint specification,
// see package locspec.
func (d *Debugger) CreateBreakpoint(spec string) (*api.Breakpoint, error) {
	ty, err := locspec.Parse(spec)
	if err != nil {
		return nil, err
	}

	d.processMutex.Lock()
	defer d.processMutex.Unlock()

	bp, err := d.target.CreateBreakpoint(ty)
	if err != nil {
		return nil, err
	}
	d.log.Infof("created breakpoint %d: %s", bp.ID, spec)
	return api.ConvertBreakpoint(bp), nil
}

// ClearBreakpoint deletes the breakpoint with the given id.
func (d *Debugger) ClearBreakpoint(id int) (*api.Breakpoint, error) {
	if id < 0 || id > 255 {
		return nil, fmt.Errorf("no breakpoint with id %d", id)
	}
	d.processMutex.Lock()
	defer d.processMutex.Unlock()

	bp, err := d.target.ClearBreakpoint(uint8(id))
	if err != nil {
		return nil, err
	}
	return api.ConvertBreakpoint(bp), nil
}

// ClearAllBreakpoints deletes every user breakpoint.
func (d *Debugger) ClearAllBreakpoints() []*api.Breakpoint {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()

	var r []*api.Breakpoint
	for _, bp := range d.target.ClearAllBreakpoints() {
		r = append(r, api.ConvertBreakpoint(bp))
	}
	return r
}

// Breakpoints returns the user breakpoints, ordered by id.
func (d *Debugger) Breakpoints() []*api.Breakpoint {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()

	bps := d.target.UserBreakpoints()
	r := make([]*api.Breakpoint, 0, len(bps))
	for _, bp := range bps {
		r = append(r, api.ConvertBreakpoint(bp))
	}
	sort.Slice(r, func(i, j int) bool { return r[i].ID < r[j].ID })
	return r
}

func (d *Debugger) setRunning(running bool) {
	d.runningMutex.Lock()
	d.running = running
	d.runningMutex.Unlock()
}

func (d *Debugger) isRunning() bool {
	d.runningMutex.Lock()
	defer d.runningMutex.Unlock()
	return d.running
}

// Command handles commands which control the debugger lifecycle
func (d *Debugger) Command(command *api.DebuggerCommand) (*api.DebuggerState, error) {
	if command.Name == api.Halt {
		// RequestManualStop only sets a flag, it's safe to call while the
		// target is running.
		d.log.Debug("halting")
		d.target.RequestManualStop()
		if d.isRunning() {
			return &api.DebuggerState{StopReason: "running"}, nil
		}
	}

	d.processMutex.Lock()
	defer d.processMutex.Unlock()

	d.setRunning(true)
	defer d.setRunning(false)

	var err error
	switch command.Name {
	case api.Continue:
		d.log.Debug("continuing")
		_, err = d.target.Continue()
	case api.Next:
		d.log.Debug("nexting")
		_, err = d.target.Next()
	case api.Step:
		n := command.Count
		if n <= 0 {
			n = 1
		}
		d.log.Debugf("stepping %d cycles", n)
		_, err = d.target.Step(n)
	case api.StepOut:
		d.log.Debug("step out")
		_, err = d.target.StepOut()
	case api.Halt:
		// RequestManualStop already called
	default:
		return nil, fmt.Errorf("unknown command %q", command.Name)
	}

	if err != nil {
		var exitedErr proc.ErrProgramTerminated
		if errors.As(err, &exitedErr) {
			state := d.state()
			state.Err = exitedErr
			return state, nil
		}
		return nil, err
	}
	return d.state(), nil
}

// Stacktrace returns the reconstructed call stack, innermost frame first.
func (d *Debugger) Stacktrace() []api.Stackframe {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	return api.ConvertStacktrace(d.target.Executor().StackTrace())
}

// Recent returns the operations most recently retired by the program,
// oldest first.
func (d *Debugger) Recent() []api.Operation {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()

	recent := d.target.Executor().Recent()
	r := make([]api.Operation, len(recent))
	for i := range recent {
		r[i] = api.ConvertOperation(recent[i])
	}
	return r
}

// ReadMemory evaluates the arguments of a memory read, see
// proc.ParseReadMemoryExpr, in the current context at the current cycle.
func (d *Debugger) ReadMemory(args []string) (string, error) {
	expr, err := proc.ParseReadMemoryExpr(args)
	if err != nil {
		return "", err
	}

	d.processMutex.Lock()
	defer d.processMutex.Unlock()

	exec := d.target.Executor()
	return proc.FormatMemory(d.target.Trace(), expr, exec.CurrentContext(), exec.Cycle())
}

// ReadMemoryRange reads count consecutive elements starting at the element
// address addr.
func (d *Debugger) ReadMemoryRange(addr uint32, count int) ([]felt.Felt, error) {
	if uint64(addr)+uint64(count) > 1<<32 {
		return nil, proc.ErrOutOfBounds
	}
	d.processMutex.Lock()
	defer d.processMutex.Unlock()

	exec := d.target.Executor()
	trace := d.target.Trace()
	r := make([]felt.Felt, count)
	for i := range r {
		r[i] = trace.ReadMemoryElementInContext(addr+uint32(i), exec.CurrentContext(), exec.Cycle())
	}
	return r, nil
}

// Variables returns the source level variables visible at the current
// cycle, sorted by name. Names matching filter are returned, every
// variable when filter is empty.
func (d *Debugger) Variables(filter string) []api.Variable {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()

	exec := d.target.Executor()
	var r []api.Variable
	for _, snap := range exec.Variables().Current() {
		if filter != "" && !strings.Contains(snap.Info.Name, filter) {
			continue
		}
		value, ok := exec.VariableValue(snap)
		r = append(r, api.ConvertVariable(snap, value, ok))
	}
	return r
}

// HasVariables reports whether the program carries variable information.
func (d *Debugger) HasVariables() bool {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	return d.target.Executor().Variables().HasVariables()
}

// Locals returns the local slots of the current procedure, lowest
// address first.
func (d *Debugger) Locals() []api.Variable {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()

	exec := d.target.Executor()
	p := d.procedure(exec.CallStack().CurrentFrame().Procedure())
	if p == nil || p.NumLocals == 0 {
		return nil
	}
	n := uint64(p.NumLocals)
	fmp := exec.FMP()
	r := make([]api.Variable, 0, n)
	for i := uint64(0); i < n; i++ {
		addr := uint32(fmp - n + i)
		r = append(r, api.Variable{
			Name:     fmt.Sprintf("local[%d]", i),
			Location: fmt.Sprintf("mem[%#x]", addr),
			Value:    exec.ReadMemoryElement(addr).String(),
			Cycle:    exec.Cycle(),
		})
	}
	return r
}

func (d *Debugger) procedure(name string) *vm.Procedure {
	if p, ok := d.program.Procedures[name]; ok {
		return p
	}
	for _, lib := range d.libraries {
		if p, ok := lib.Procedures[name]; ok {
			return p
		}
	}
	return nil
}

// Where returns the current source location and the source lines around
// it. Location is nil when no instruction with location information was
// executed in the current frame yet.
func (d *Debugger) Where(count int) (*api.Location, []source.Line, error) {
	d.processMutex.Lock()
	frame := d.target.Executor().CallStack().CurrentFrame()
	loc := frame.LastLocation()
	d.processMutex.Unlock()

	if loc == nil {
		return nil, nil, nil
	}
	lines, err := d.sources.Around(loc.File, int(loc.Line), count)
	if err != nil {
		return api.ConvertLocation(loc), nil, err
	}
	return api.ConvertLocation(loc), lines, nil
}

// ListSource returns the lines of file within count lines of line.
func (d *Debugger) ListSource(file string, line, count int) ([]source.Line, error) {
	return d.sources.Around(file, line, count)
}

// Sources returns the paths of the source files of the program and its
// libraries.
func (d *Debugger) Sources() []string {
	return d.sources.Files()
}

// Procedures returns the names of every procedure the program can call,
// sorted.
func (d *Debugger) Procedures() []string {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()

	seen := map[string]bool{}
	var r []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			r = append(r, name)
		}
	}
	for name := range d.program.Procedures {
		add(name)
	}
	for _, lib := range d.libraries {
		for name := range lib.Procedures {
			add(name)
		}
	}
	sort.Strings(r)
	return r
}

// Report renders the failure of the program together with the stack
// trace and last known state, or the empty string if the program has not failed.
func (d *Debugger) Report() string {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()

	err := d.target.ExecutionFailed()
	if err == nil {
		return ""
	}
	return proc.RenderExecutionError(d.target.Executor(), err)
}

// Diagnose renders err together with the stack trace and the last known
// state of the program.
func (d *Debugger) Diagnose(err error) string {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	return proc.RenderExecutionError(d.target.Executor(), err)
}

// Trace returns the result of running the program to completion.
func (d *Debugger) Trace() *proc.ExecutionTrace {
	d.processMutex.Lock()
	defer d.processMutex.Unlock()
	return d.target.Trace()
}
