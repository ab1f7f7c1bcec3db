package starbind

import (
	"context"
	"fmt"
	"io"
	"runtime/debug"
	"sort"
	"strings"
	"sync"

	startime "go.starlark.net/lib/time"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"

	"github.com/feltdbg/feltdbg/service/debugger"
)

const (
	commandBuiltinName   = "feltdbg_command"
	readFileBuiltinName  = "read_file"
	writeFileBuiltinName = "write_file"
	helpBuiltinName      = "help"

	// Globals named command_<name> become terminal commands.
	commandPrefix = "command_"
	contextName   = "feltdbg_context"
)

func init() {
	resolve.AllowNestedDef = true
	resolve.AllowLambda = true
	resolve.AllowFloat = true
	resolve.AllowSet = true
	resolve.AllowBitwise = true
	resolve.AllowRecursion = true
	resolve.AllowGlobalReassign = true
}

// Context is the context in which starlark scripts are evaluated.
// It gives access to the debugger and to the commands of the terminal.
type Context interface {
	Debugger() *debugger.Debugger
	RegisterCommand(name, helpMsg string, cmdfn func(args string) error)
	CallCommand(cmdstr string) error
}

// EchoWriter is where scripts print. Echo repeats what the user typed at
// the starlark prompt, for transcripts.
type EchoWriter interface {
	io.Writer
	Echo(string)
	Flush()
}

// Env is the environment used to evaluate starlark scripts.
type Env struct {
	env starlark.StringDict
	doc map[string]string

	contextMu sync.Mutex
	thread    *starlark.Thread
	cancelfn  context.CancelFunc

	ctx Context
	out EchoWriter
}

// New creates a new starlark binding environment.
func New(ctx Context, out EchoWriter) *Env {
	env := &Env{ctx: ctx, out: out}

	starlark.Universe["time"] = startime.Module

	env.env, env.doc = env.starlarkPredeclare()
	env.env[helpBuiltinName] = starlark.NewBuiltin(helpBuiltinName, env.help)
	env.doc[helpBuiltinName] = "builtin help(Object)\n\nhelp prints help for Object, or lists the builtins."
	return env
}

func (env *Env) help(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) > 1 {
		return starlark.None, fmt.Errorf("wrong number of arguments %d", len(args))
	}
	if len(args) == 0 {
		var names []string
		for name, value := range env.env {
			if _, ok := value.(*starlark.Builtin); ok {
				names = append(names, name)
			}
		}
		sort.Strings(names)
		fmt.Fprintln(env.out, "Available builtins:")
		for _, name := range names {
			fmt.Fprintf(env.out, "\t%s\n", name)
		}
		return starlark.None, nil
	}

	switch x := args[0].(type) {
	case *starlark.Builtin:
		if d := env.doc[x.Name()]; d != "" {
			fmt.Fprintln(env.out, d)
		} else {
			fmt.Fprintf(env.out, "no help for builtin %s\n", x.Name())
		}
	case *starlark.Function:
		fmt.Fprintf(env.out, "user defined function %s\n", x.Name())
		if d := x.Doc(); d != "" {
			fmt.Fprintln(env.out, d)
		}
	default:
		fmt.Fprintf(env.out, "no help for object of type %s\n", args[0].Type())
	}
	return starlark.None, nil
}

// Redirect redirects starlark output to out.
func (env *Env) Redirect(out EchoWriter) {
	env.out = out
	if env.thread != nil {
		env.thread.Print = env.printFunc()
	}
}

func (env *Env) printFunc() func(_ *starlark.Thread, msg string) {
	return func(_ *starlark.Thread, msg string) { fmt.Fprintln(env.out, msg) }
}

// Execute runs the script at path. Source can be a []byte, a string or an
// io.Reader, when it is nil the file at path is read. Once the script has
// run, the function called mainFnName is called with args, if the script
// defines it.
func (env *Env) Execute(path string, source interface{}, mainFnName string, args []interface{}) (v starlark.Value, err error) {
	defer env.recoverPanic(&err)

	thread := env.newThread()
	globals, err := starlark.ExecFile(thread, path, source, env.env)
	if err != nil {
		return starlark.None, err
	}
	if err := env.exportGlobals(globals); err != nil {
		return starlark.None, err
	}
	return env.callMain(thread, globals, mainFnName, args)
}

// recoverPanic turns a panic raised by a builtin into an error, printing
// the Go stack so the bug can be reported.
func (env *Env) recoverPanic(err *error) {
	r := recover()
	if r == nil {
		return
	}
	*err = fmt.Errorf("panic executing starlark script: %v", r)
	fmt.Fprintf(env.out, "panic executing starlark script: %v\n%s", r, debug.Stack())
}

// exportGlobals makes globals starting with an upper case letter visible to
// later scripts and the REPL, and turns command_ functions into commands.
func (env *Env) exportGlobals(globals starlark.StringDict) error {
	for name, val := range globals {
		if strings.HasPrefix(name, commandPrefix) {
			if fn, ok := val.(*starlark.Function); ok {
				env.createCommand(strings.TrimPrefix(name, commandPrefix), fn)
			}
			continue
		}
		if name[0] >= 'A' && name[0] <= 'Z' {
			env.env[name] = val
		}
	}
	return nil
}

// Cancel cancels the execution of a currently running script or function.
func (env *Env) Cancel() {
	if env == nil {
		return
	}
	env.contextMu.Lock()
	defer env.contextMu.Unlock()
	if env.cancelfn != nil {
		env.cancelfn()
		env.cancelfn = nil
	}
	if env.thread != nil {
		env.thread.Cancel("user interrupt")
	}
}

func (env *Env) newThread() *starlark.Thread {
	thread := &starlark.Thread{Print: env.printFunc()}
	ctx, cancel := context.WithCancel(context.Background())
	thread.SetLocal(contextName, ctx)

	env.contextMu.Lock()
	env.cancelfn = cancel
	env.thread = thread
	env.contextMu.Unlock()
	return thread
}

// createCommand registers fn as a terminal command. A function with a
// single parameter called args receives the command line as a string,
// otherwise the command line is evaluated as the function's argument list.
func (env *Env) createCommand(name string, fn *starlark.Function) {
	helpMsg := fn.Doc()
	if helpMsg == "" {
		helpMsg = "user defined"
	}

	rawArgs := false
	if fn.NumParams() == 1 {
		p0, _ := fn.Param(0)
		rawArgs = p0 == "args"
	}

	env.ctx.RegisterCommand(name, helpMsg, func(args string) error {
		thread := env.newThread()
		argtuple := starlark.Tuple{starlark.String(args)}
		if !rawArgs {
			var err error
			argtuple, err = env.evalArgs(thread, args)
			if err != nil {
				return err
			}
		}
		_, err := starlark.Call(thread, fn, argtuple, nil)
		return err
	})
}

func (env *Env) evalArgs(thread *starlark.Thread, args string) (starlark.Tuple, error) {
	if strings.TrimSpace(args) == "" {
		return starlark.Tuple{}, nil
	}
	v, err := starlark.Eval(thread, "<input>", "("+args+")", env.env)
	if err != nil {
		return nil, err
	}
	if t, ok := v.(starlark.Tuple); ok {
		return t, nil
	}
	return starlark.Tuple{v}, nil
}

// callMain calls the main function in globals, if one was defined.
func (env *Env) callMain(thread *starlark.Thread, globals starlark.StringDict, mainFnName string, args []interface{}) (starlark.Value, error) {
	if mainFnName == "" || globals[mainFnName] == nil {
		return starlark.None, nil
	}
	mainfn, ok := globals[mainFnName].(*starlark.Function)
	if !ok {
		return starlark.None, fmt.Errorf("%s is not a function", mainFnName)
	}
	if mainfn.NumParams() != len(args) {
		return starlark.None, fmt.Errorf("wrong number of arguments for %s", mainFnName)
	}
	argtuple := make(starlark.Tuple, len(args))
	for i := range args {
		argtuple[i] = env.interfaceToStarlarkValue(args[i])
	}
	return starlark.Call(thread, mainfn, argtuple, nil)
}

func isCancelled(thread *starlark.Thread) error {
	ctx, ok := thread.Local(contextName).(context.Context)
	if !ok {
		return nil
	}
	return ctx.Err()
}

// decorateError prefixes err with the script position of the builtin call.
func decorateError(thread *starlark.Thread, err error) error {
	if err == nil {
		return nil
	}
	pos := thread.CallFrame(1).Pos
	if pos.Col > 0 {
		return fmt.Errorf("%s:%d:%d: %v", pos.Filename(), pos.Line, pos.Col, err)
	}
	return fmt.Errorf("%s:%d: %v", pos.Filename(), pos.Line, err)
}
