package starbind

import (
	"fmt"
	"io/ioutil"
	"strings"

	"go.starlark.net/starlark"

	"github.com/feltdbg/feltdbg/service/api"
)

// builtinArg binds a positional or keyword argument of a builtin to the Go
// variable it is unmarshaled into.
type builtinArg struct {
	name string
	dst  interface{}
}

func unpackBuiltinArgs(args starlark.Tuple, kwargs []starlark.Tuple, params ...builtinArg) error {
	if len(args) > len(params) {
		return fmt.Errorf("too many arguments, expected at most %d", len(params))
	}
	for i := range args {
		if args[i] == starlark.None {
			continue
		}
		if err := unmarshalStarlarkValue(args[i], params[i].dst, params[i].name); err != nil {
			return err
		}
	}
	for _, kv := range kwargs {
		name, _ := kv[0].(starlark.String)
		found := false
		for i := range params {
			if params[i].name == string(name) {
				if err := unmarshalStarlarkValue(kv[1], params[i].dst, params[i].name); err != nil {
					return err
				}
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown argument %q", kv[0])
		}
	}
	return nil
}

type builtinFunc func(thread *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error)

// starlarkPredeclare returns the builtins that call into the debugger,
// together with their documentation.
func (env *Env) starlarkPredeclare() (starlark.StringDict, map[string]string) {
	r := starlark.StringDict{}
	doc := make(map[string]string)

	def := func(name, signature, descr string, fn builtinFunc) {
		r[name] = starlark.NewBuiltin(name, func(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			if err := isCancelled(thread); err != nil {
				return starlark.None, decorateError(thread, err)
			}
			ret, err := fn(thread, args, kwargs)
			if err != nil {
				return starlark.None, decorateError(thread, err)
			}
			return env.interfaceToStarlarkValue(ret), nil
		})
		doc[name] = "builtin " + name + signature + "\n\n" + name + " " + descr
	}

	def(commandBuiltinName, "(Command, Args...)", "runs a terminal command, for example feltdbg_command(\"step\", \"4\").", func(_ *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		words := make([]string, len(args))
		for i := range args {
			s, ok := starlark.AsString(args[i])
			if !ok {
				return nil, fmt.Errorf("argument %d of %s is not a string", i, commandBuiltinName)
			}
			words[i] = s
		}
		return nil, env.ctx.CallCommand(strings.Join(words, " "))
	})

	def(readFileBuiltinName, "(Path)", "reads a file and returns its contents.", func(_ *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		var path string
		if err := unpackBuiltinArgs(args, kwargs, builtinArg{"Path", &path}); err != nil {
			return nil, err
		}
		buf, err := ioutil.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return string(buf), nil
	})

	def(writeFileBuiltinName, "(Path, Text)", "writes Text to the file at Path. Text is converted with str if it is not a string.", func(_ *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("wrong number of arguments")
		}
		path, ok := starlark.AsString(args[0])
		if !ok {
			return nil, fmt.Errorf("path is not a string")
		}
		text, ok := starlark.AsString(args[1])
		if !ok {
			text = args[1].String()
		}
		return nil, ioutil.WriteFile(path, []byte(text), 0640)
	})

	def("state", "()", "returns the current state of the debugger.", func(_ *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		return env.ctx.Debugger().State(false)
	})

	def("raw_command", "(Name, Count)", "runs one of continue, next, step, stepOut or halt and returns the new state.\n\nCount is the number of cycles for step.", func(_ *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		var cmd api.DebuggerCommand
		if err := unpackBuiltinArgs(args, kwargs, builtinArg{"Name", &cmd.Name}, builtinArg{"Count", &cmd.Count}); err != nil {
			return nil, err
		}
		return env.ctx.Debugger().Command(&cmd)
	})

	def("stacktrace", "()", "returns the call stack, innermost frame first.", func(_ *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		return env.ctx.Debugger().Stacktrace(), nil
	})

	def("recent", "()", "returns the operations most recently retired, oldest first.", func(_ *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		return env.ctx.Debugger().Recent(), nil
	})

	def("breakpoints", "()", "returns the user breakpoints ordered by id.", func(_ *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		return env.ctx.Debugger().Breakpoints(), nil
	})

	def("create_breakpoint", "(Spec)", "creates a breakpoint, Spec is written the way the break command accepts it.", func(_ *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		var spec string
		if err := unpackBuiltinArgs(args, kwargs, builtinArg{"Spec", &spec}); err != nil {
			return nil, err
		}
		return env.ctx.Debugger().CreateBreakpoint(spec)
	})

	def("clear_breakpoint", "(Id)", "deletes a breakpoint.", func(_ *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		id := -1
		if err := unpackBuiltinArgs(args, kwargs, builtinArg{"Id", &id}); err != nil {
			return nil, err
		}
		return env.ctx.Debugger().ClearBreakpoint(id)
	})

	def("clear_all_breakpoints", "()", "deletes every user breakpoint and returns them.", func(_ *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		return env.ctx.Debugger().ClearAllBreakpoints(), nil
	})

	def("variables", "(Filter)", "returns the debug variables visible at the current cycle whose name contains Filter.\n\nThe Int attribute of a variable is its value as a number.", func(_ *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		var filter string
		if err := unpackBuiltinArgs(args, kwargs, builtinArg{"Filter", &filter}); err != nil {
			return nil, err
		}
		return env.ctx.Debugger().Variables(filter), nil
	})

	def("locals", "()", "returns the local slots of the current procedure.", func(_ *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		return env.ctx.Debugger().Locals(), nil
	})

	def("read_memory", "(Expr)", "reads memory the way the mem command does and returns the formatted value, for example read_memory(\"0x10 u32 -fmt x\").", func(_ *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		var expr string
		if err := unpackBuiltinArgs(args, kwargs, builtinArg{"Expr", &expr}); err != nil {
			return nil, err
		}
		return env.ctx.Debugger().ReadMemory(strings.Fields(expr))
	})

	def("read_memory_range", "(Addr, Count)", "returns Count field elements starting at the element address Addr.", func(_ *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		var addr uint32
		count := 1
		if err := unpackBuiltinArgs(args, kwargs, builtinArg{"Addr", &addr}, builtinArg{"Count", &count}); err != nil {
			return nil, err
		}
		if count < 0 {
			return nil, fmt.Errorf("invalid count %d", count)
		}
		return env.ctx.Debugger().ReadMemoryRange(addr, count)
	})

	def("list_source", "(File, Line, Count)", "returns the lines of File within Count lines of Line.", func(_ *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		var file string
		var line, count int
		if err := unpackBuiltinArgs(args, kwargs, builtinArg{"File", &file}, builtinArg{"Line", &line}, builtinArg{"Count", &count}); err != nil {
			return nil, err
		}
		return env.ctx.Debugger().ListSource(file, line, count)
	})

	def("sources", "()", "returns the source files of the program and its libraries.", func(_ *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		return env.ctx.Debugger().Sources(), nil
	})

	def("procedures", "()", "returns the names of the procedures the program can call.", func(_ *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		return env.ctx.Debugger().Procedures(), nil
	})

	def("restart", "(Reload)", "restarts the program, reading it from disk again if Reload is true, and returns the recreated breakpoints.", func(_ *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		var reload bool
		if err := unpackBuiltinArgs(args, kwargs, builtinArg{"Reload", &reload}); err != nil {
			return nil, err
		}
		return env.ctx.Debugger().Restart(reload)
	})

	def("report", "()", "returns the failure report of the program, empty if it has not failed.", func(_ *starlark.Thread, args starlark.Tuple, kwargs []starlark.Tuple) (interface{}, error) {
		return env.ctx.Debugger().Report(), nil
	})

	return r, doc
}
