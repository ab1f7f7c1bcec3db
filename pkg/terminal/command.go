// Package terminal implements functions for responding to user
// input and dispatching to appropriate debugger commands.
package terminal

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/feltdbg/feltdbg/pkg/logflags"
	"github.com/feltdbg/feltdbg/pkg/proc"
	"github.com/feltdbg/feltdbg/pkg/source"
	"github.com/feltdbg/feltdbg/service/api"
	"github.com/feltdbg/feltdbg/service/debugger"
)

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands of the feltdbg terminal.
type Commands struct {
	cmds     []command
	debugger *debugger.Debugger
}

// DebugCommands returns a Commands struct with default commands defined.
func DebugCommands(d *debugger.Debugger) *Commands {
	c := &Commands{debugger: d}

	c.cmds = []command{
		{aliases: []string{"help", "h", "?"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"break", "b", "breakpoint"}, group: breakCmds, cmdFn: breakpoint, helpMsg: `Sets a breakpoint.

	break <spec>

The following specs are accepted:

	break at <cycle>	stops when the program reaches the given cycle
	break after <n>		stops n cycles from now
	break in <procedure>	stops while executing a procedure whose name matches the pattern
	break <file>:<line>	stops at a source location, <file> can be a glob pattern
	break <file>		stops at every line of the matching files

See also: "help breakpoints" and "help delete"`},
		{aliases: []string{"breakpoints", "bp"}, group: breakCmds, cmdFn: breakpoints, helpMsg: "Print out info for active breakpoints."},
		{aliases: []string{"delete", "d", "clear"}, group: breakCmds, cmdFn: clearCmd, helpMsg: `Deletes breakpoints.

	delete [id]

Without an id every breakpoint is deleted.`},
		{aliases: []string{"continue", "c"}, group: runCmds, cmdFn: c.cont, helpMsg: "Run until breakpoint or program termination."},
		{aliases: []string{"step", "s"}, group: runCmds, cmdFn: c.step, helpMsg: `Single step through the program.

	step [n]

Executes n cycles, 1 if omitted. Breakpoints are not evaluated while stepping.`},
		{aliases: []string{"next", "n"}, group: runCmds, cmdFn: c.next, helpMsg: "Run to the start of the next assembly instruction."},
		{aliases: []string{"finish", "e", "stepout"}, group: runCmds, cmdFn: c.stepout, helpMsg: "Run until the current procedure returns."},
		{aliases: []string{"reload"}, group: runCmds, cmdFn: c.restart(true), helpMsg: `Reads the program and its libraries from disk and starts it again.

Breakpoints are kept, their ids are reassigned.`},
		{aliases: []string{"restart", "r"}, group: runCmds, cmdFn: c.restart(false), helpMsg: `Starts the program again, without reading it from disk.

Breakpoints are kept, their ids are reassigned.`},
		{aliases: []string{"stack"}, group: dataCmds, cmdFn: stackCommand, helpMsg: "Print the operand stack, top first."},
		{aliases: []string{"memory", "mem", "x"}, group: dataCmds, cmdFn: examineMemoryCmd, helpMsg: `Examine memory in the current context.

	memory <addr> [type] [-fmt d|x|b] [-count n]

<addr> is a byte address, decimal or hexadecimal with a 0x prefix. [type] is
one of felt, word, u8, u16, u32, u64, u128, u256, i8, i16, i32, i64, i128 or
bool, felt if omitted.

Example:

	mem 0x20 u32 -fmt x`},
		{aliases: []string{"locals"}, group: dataCmds, cmdFn: locals, helpMsg: "Print the local slots of the current procedure."},
		{aliases: []string{"vars", "variables"}, group: dataCmds, cmdFn: vars, helpMsg: `Print the debug variables visible at the current cycle.

	vars [filter]

If filter is specified only variables whose name contains it are printed.`},
		{aliases: []string{"where", "w"}, group: stackCmds, cmdFn: whereCommand, helpMsg: `Print the current source location.

	where [n]

When n is given, n lines of source around the location are printed too.`},
		{aliases: []string{"backtrace", "bt"}, group: stackCmds, cmdFn: backtraceCommand, helpMsg: `Print the call stack, innermost frame first.

	backtrace [depth]`},
		{aliases: []string{"list", "l"}, group: sourceCmds, cmdFn: listCommand, helpMsg: `Show recent instructions or source code.

	list
	list <file>[:<line>]

Without arguments the operations most recently executed are printed, the last
one is marked with '>'. Otherwise the source around the given line is printed.`},
		{aliases: []string{"sources"}, group: sourceCmds, cmdFn: sources, helpMsg: `Print list of source files.

	sources [<regex>]

If regex is specified only the source files matching it will be returned.`},
		{aliases: []string{"procedures", "procs"}, group: sourceCmds, cmdFn: procedures, helpMsg: `Print list of procedures.

	procedures [<regex>]

If regex is specified only the procedures matching it will be returned.`},
		{aliases: []string{"source"}, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of feltdbg commands.

	source <path>

If path ends with the .star extension it will be interpreted as a starlark script.

If path is a single '-' character an interactive starlark interpreter will start instead. Type 'exit' to exit.`},
		{aliases: []string{"transcript"}, cmdFn: transcript, helpMsg: `Appends command output to a file.

	transcript [-t] [-x] <output file>
	transcript -off

Output of feltdbg's command is appended to the specified output file. If '-t' is specified and the output file exists it is truncated. If '-x' is specified output to stdout is suppressed instead.

Using the -off option disables the transcript.`},
		{aliases: []string{"config"}, cmdFn: configureCmd, helpMsg: `Changes configuration parameters.

	config -list

Show all configuration parameters.

	config -save

Saves the configuration file to disk, overwriting the current configuration file.

	config <parameter> <value>

Changes the value of a configuration parameter.

	config alias <command> <alias>
	config alias <alias>

Defines <alias> as an alias to <command> or removes an alias.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: "Exit the debugger."},
	}

	return c
}

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error. An existing command with the same name is
// replaced.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for i := range c.cmds {
		if c.cmds[i].match(cmdstr) {
			c.cmds[i].cmdFn = cf
			c.cmds[i].helpMsg = helpMsg
			return
		}
	}

	c.cmds = append(c.cmds, command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
}

// Find will look up the command function for the given command input.
// If it cannot find the command it will default to noCmdAvailable().
func (c *Commands) Find(cmdstr string) cmdfunc {
	if cmdstr == "" {
		return nullCommand
	}

	for _, v := range c.cmds {
		if v.match(cmdstr) {
			return v.cmdFn
		}
	}

	return noCmdAvailable
}

// canonicalName returns the first alias of the command matching alias, or
// the empty string.
func (c *Commands) canonicalName(alias string) string {
	for _, v := range c.cmds {
		if v.match(alias) {
			return v.aliases[0]
		}
	}
	return ""
}

// Call takes a command to execute.
func (c *Commands) Call(cmdstr string, t *Term) error {
	vals := strings.SplitN(strings.TrimSpace(cmdstr), " ", 2)
	cmdname := vals[0]
	var args string
	if len(vals) > 1 {
		args = strings.TrimSpace(vals[1])
	}
	return c.Find(cmdname)(t, args)
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for i := range c.cmds {
		if c.cmds[i].builtinAliases != nil {
			c.cmds[i].aliases = append(c.cmds[i].aliases[:0], c.cmds[i].builtinAliases...)
		}
	}
	for i := range c.cmds {
		if aliases, ok := allAliases[c.cmds[i].aliases[0]]; ok {
			if c.cmds[i].builtinAliases == nil {
				c.cmds[i].builtinAliases = make([]string, len(c.cmds[i].aliases))
				copy(c.cmds[i].builtinAliases, c.cmds[i].aliases)
			}
			c.cmds[i].aliases = append(c.cmds[i].aliases, aliases...)
		}
	}
}

var errNoCmd = errors.New("command not available")

func noCmdAvailable(t *Term, args string) error {
	return errNoCmd
}

func nullCommand(t *Term, args string) error {
	return nil
}

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		for _, cmd := range c.cmds {
			if cmd.match(args) {
				fmt.Fprintln(t.stdout, cmd.helpMsg)
				return nil
			}
		}
		return errNoCmd
	}

	t.stdout.pw.PageMaybe(nil)

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

func breakpoint(t *Term, args string) error {
	if args == "" {
		return errors.New("wrong number of arguments: break <spec>")
	}
	bp, err := t.debugger.CreateBreakpoint(args)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "Breakpoint %d created: %s\n", bp.ID, bp.Spec)
	return nil
}

func breakpoints(t *Term, args string) error {
	bps := t.debugger.Breakpoints()
	if len(bps) == 0 {
		fmt.Fprintln(t.stdout, "No breakpoints set")
		return nil
	}
	api.PrintBreakpoints(t.stdout, bps)
	return nil
}

func clearCmd(t *Term, args string) error {
	if args == "" {
		t.debugger.ClearAllBreakpoints()
		fmt.Fprintln(t.stdout, "Deleted all breakpoints")
		return nil
	}
	id, err := strconv.Atoi(args)
	if err != nil {
		return fmt.Errorf("invalid breakpoint id %q", args)
	}
	bp, err := t.debugger.ClearBreakpoint(id)
	if err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "Deleted breakpoint %d\n", bp.ID)
	return nil
}

func (c *Commands) cont(t *Term, args string) error {
	return c.run(t, &api.DebuggerCommand{Name: api.Continue})
}

func (c *Commands) step(t *Term, args string) error {
	n := 1
	if args != "" {
		var err error
		n, err = strconv.Atoi(args)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid step count %q", args)
		}
	}
	return c.run(t, &api.DebuggerCommand{Name: api.Step, Count: n})
}

func (c *Commands) next(t *Term, args string) error {
	return c.run(t, &api.DebuggerCommand{Name: api.Next})
}

func (c *Commands) stepout(t *Term, args string) error {
	return c.run(t, &api.DebuggerCommand{Name: api.StepOut})
}

// run resumes the program and prints where it stopped. Resuming a
// terminated program is reported as an error.
func (c *Commands) run(t *Term, cmd *api.DebuggerCommand) error {
	state, err := c.debugger.Command(cmd)
	if err != nil {
		return err
	}
	var exited proc.ErrProgramTerminated
	if errors.As(state.Err, &exited) {
		return exited
	}
	printcontext(t, state)
	return nil
}

func (c *Commands) restart(reload bool) cmdfunc {
	return func(t *Term, args string) error {
		bps, err := c.debugger.Restart(reload)
		if err != nil {
			if reload {
				return fmt.Errorf("reload failed: %v", err)
			}
			return err
		}
		if reload {
			fmt.Fprintln(t.stdout, "Program reloaded")
			t.loadProcedures()
		} else {
			fmt.Fprintln(t.stdout, "Program restarted")
		}
		for _, bp := range bps {
			fmt.Fprintf(t.stdout, "Breakpoint %d restored: %s\n", bp.ID, bp.Spec)
		}
		printLocation(t)
		return nil
	}
}

func stackCommand(t *Term, args string) error {
	state, err := t.debugger.State(false)
	if err != nil {
		return err
	}
	if len(state.Stack) == 0 {
		fmt.Fprintln(t.stdout, "Stack is empty")
		return nil
	}
	fmt.Fprintf(t.stdout, "Operand Stack (%d elements):\n", len(state.Stack))
	for i, s := range state.Stack {
		marker := " "
		if i == 0 {
			marker = ">"
		}
		n, _ := strconv.ParseUint(s, 10, 64)
		fmt.Fprintf(t.stdout, "  %s [%d] %s (%#x)\n", marker, i, s, n)
	}
	return nil
}

func examineMemoryCmd(t *Term, args string) error {
	words, err := splitArgs(args)
	if err != nil {
		return err
	}
	out, err := t.debugger.ReadMemory(words)
	if err != nil {
		return err
	}
	fmt.Fprintln(t.stdout, out)
	return nil
}

func locals(t *Term, args string) error {
	vars := t.debugger.Locals()
	if len(vars) == 0 {
		fmt.Fprintln(t.stdout, "(no locals)")
		return nil
	}
	api.PrintVariables(t.stdout, vars, true)
	return nil
}

func vars(t *Term, args string) error {
	if !t.debugger.HasVariables() {
		fmt.Fprintln(t.stdout, "No debug variable information available")
		return nil
	}
	vs := t.debugger.Variables(args)
	if len(vs) == 0 {
		fmt.Fprintln(t.stdout, "(no variables)")
		return nil
	}
	api.PrintVariables(t.stdout, vs, t.conf.ShowLocationExpr)
	return nil
}

func whereCommand(t *Term, args string) error {
	count := 0
	if args != "" {
		var err error
		count, err = strconv.Atoi(args)
		if err != nil || count < 0 {
			return fmt.Errorf("invalid line count %q", args)
		}
	}
	frames := t.debugger.Stacktrace()
	if len(frames) == 0 {
		fmt.Fprintln(t.stdout, "No current frame")
		return nil
	}
	procName := frames[0].Procedure
	if procName == "" {
		procName = "<unknown>"
	}
	loc, lines, err := t.debugger.Where(count)
	if loc == nil {
		fmt.Fprintf(t.stdout, "in %s (no source location available)\n", procName)
		return nil
	}
	fmt.Fprintf(t.stdout, "%s in %s\n", loc, procName)
	if count == 0 {
		return nil
	}
	if err != nil {
		return err
	}
	printLines(t, loc.File, lines, loc.Line)
	return nil
}

func backtraceCommand(t *Term, args string) error {
	depth := -1
	if args != "" {
		var err error
		depth, err = strconv.Atoi(args)
		if err != nil || depth < 0 {
			return fmt.Errorf("invalid depth %q", args)
		}
	}
	frames := t.debugger.Stacktrace()
	if len(frames) == 0 {
		fmt.Fprintln(t.stdout, "No call stack")
		return nil
	}
	t.stdout.pw.PageMaybe(nil)
	fmt.Fprintf(t.stdout, "Backtrace (%d frames):\n", len(frames))
	for i := range frames {
		if depth >= 0 && i > depth {
			fmt.Fprintln(t.stdout, "  (truncated)")
			break
		}
		fmt.Fprintf(t.stdout, "  #%d %s\n", i, frames[i].String())
	}
	return nil
}

func listCommand(t *Term, args string) error {
	if args == "" {
		recentPrint(t.debugger.Recent(), t.stdout)
		return nil
	}
	file, line := args, 0
	if i := strings.LastIndex(args, ":"); i >= 0 {
		n, err := strconv.Atoi(args[i+1:])
		if err != nil {
			return fmt.Errorf("invalid line number in %q", args)
		}
		file, line = args[:i], n
	}
	showArrow := line > 0
	if line <= 0 {
		line = t.conf.GetSourceListLineCount() + 1
	}
	return printfile(t, file, line, showArrow)
}

func printFilteredStrings(t *Term, v []string, filter string) error {
	re, err := regexp.Compile(filter)
	if err != nil {
		return fmt.Errorf("invalid filter argument: %s", err.Error())
	}
	t.stdout.pw.PageMaybe(nil)
	for _, s := range v {
		if re.MatchString(s) {
			fmt.Fprintln(t.stdout, s)
		}
	}
	return nil
}

func sources(t *Term, args string) error {
	files := t.debugger.Sources()
	sort.Strings(files)
	return printFilteredStrings(t, files, args)
}

func procedures(t *Term, args string) error {
	return printFilteredStrings(t, t.debugger.Procedures(), args)
}

func (c *Commands) sourceCommand(t *Term, args string) error {
	if len(args) == 0 {
		return fmt.Errorf("wrong number of arguments: source <filename>")
	}

	if filepath.Ext(args) == ".star" {
		_, err := t.starlarkEnv.Execute(args, nil, "main", nil)
		return err
	}

	if args == "-" {
		return t.starlarkEnv.REPL()
	}

	return c.executeFile(t, args)
}

func transcript(t *Term, args string) error {
	truncate, fileOnly, disable := false, false, false
	path := ""
	for _, arg := range strings.Fields(args) {
		switch arg {
		case "-off":
			disable = true
		case "-t":
			truncate = true
		case "-x":
			fileOnly = true
		default:
			if path != "" || strings.HasPrefix(arg, "-") {
				return fmt.Errorf("unrecognized option %q", arg)
			}
			path = arg
		}
	}

	if disable {
		if path != "" {
			return errors.New("-off option specified with an output path")
		}
		return t.stdout.CloseTranscript()
	}

	if path == "" {
		return errors.New("no output path specified")
	}

	flags := os.O_APPEND | os.O_WRONLY | os.O_CREATE
	if truncate {
		flags |= os.O_TRUNC
	}
	fh, err := os.OpenFile(path, flags, 0660)
	if err != nil {
		return err
	}

	if err := t.stdout.CloseTranscript(); err != nil {
		return err
	}

	t.stdout.TranscribeTo(fh, fileOnly)
	return nil
}

// printcontext prints the breakpoints hit by the last command and where
// the program stopped.
func printcontext(t *Term, state *api.DebuggerState) {
	for _, bp := range state.Breakpoints {
		if bp.Kind == "next" || bp.Kind == "finish" {
			continue
		}
		fmt.Fprintf(t.stdout, "Breakpoint %d hit: %s\n", bp.ID, bp.Spec)
	}

	if state.Exited {
		if state.Err != nil {
			fmt.Fprintf(t.stdout, "Program terminated with error: %v\n", state.Err)
			if report := t.debugger.Report(); report != "" {
				fmt.Fprintln(t.stdout, report)
			}
			return
		}
		fmt.Fprintln(t.stdout, "Program terminated successfully")
		fmt.Fprintf(t.stdout, "Outputs: %s\n", api.FormatStack(state.Outputs))
		return
	}

	printcontextFrame(t, state.CurrentFrame)
	if state.CurrentFrame != nil && state.CurrentFrame.Location != nil {
		loc := state.CurrentFrame.Location
		if err := printfile(t, loc.File, loc.Line, true); err != nil {
			logflags.TerminalLogger().Debugf("could not list %s: %v", loc.File, err)
		}
	}
}

func printcontextFrame(t *Term, frame *api.Stackframe) {
	if frame == nil {
		return
	}
	switch {
	case frame.Location != nil:
		fmt.Fprintf(t.stdout, "at %s in %s\n", frame.Location, frame.Procedure)
	case frame.Procedure != "":
		fmt.Fprintf(t.stdout, "in %s\n", frame.Procedure)
	}
}

// printLocation prints the location of the program without listing its
// source.
func printLocation(t *Term) {
	state, err := t.debugger.State(false)
	if err != nil {
		return
	}
	printcontextFrame(t, state.CurrentFrame)
}

func printfile(t *Term, filename string, line int, showArrow bool) error {
	if filename == "" {
		return nil
	}
	lines, err := t.debugger.ListSource(filename, line, t.conf.GetSourceListLineCount())
	if err != nil {
		return err
	}
	arrowLine := 0
	if showArrow {
		arrowLine = line
	}
	printLines(t, filename, lines, arrowLine)
	return nil
}

func printLines(t *Term, filename string, lines []source.Line, arrowLine int) {
	if len(lines) == 0 {
		return
	}
	var buf bytes.Buffer
	for _, l := range lines {
		buf.WriteString(l.Text)
		buf.WriteByte('\n')
	}
	t.stdout.ColorizePrint(filename, lines[0].N, buf.Bytes(), arrowLine)
}

func split2PartsBySpace(s string) []string {
	v := strings.SplitN(s, " ", 2)
	for i := range v {
		v[i] = strings.TrimSpace(v[i])
	}
	return v
}

// ExitRequestError is returned when the user
// exits feltdbg.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, args string) error {
	return ExitRequestError{}
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(t.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}
