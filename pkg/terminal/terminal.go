package terminal

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/derekparker/trie"
	"github.com/fatih/color"
	"github.com/go-delve/liner"

	"github.com/feltdbg/feltdbg/pkg/config"
	"github.com/feltdbg/feltdbg/pkg/logflags"
	"github.com/feltdbg/feltdbg/pkg/proc"
	"github.com/feltdbg/feltdbg/pkg/terminal/colorize"
	"github.com/feltdbg/feltdbg/pkg/terminal/starbind"
	"github.com/feltdbg/feltdbg/service/api"
	"github.com/feltdbg/feltdbg/service/debugger"
)

const (
	historyFile                 string = ".dbg_history"
	terminalHighlightEscapeCode string = "\033[%2dm"
	terminalResetEscapeCode     string = "\033[0m"
)

const (
	ansiBlack     = 30
	ansiRed       = 31
	ansiGreen     = 32
	ansiYellow    = 33
	ansiBlue      = 34
	ansiMagenta   = 35
	ansiCyan      = 36
	ansiWhite     = 37
	ansiBrBlack   = 90
	ansiBrRed     = 91
	ansiBrGreen   = 92
	ansiBrYellow  = 93
	ansiBrBlue    = 94
	ansiBrMagenta = 95
	ansiBrCyan    = 96
	ansiBrWhite   = 97
)

var promptColors = map[string]color.Attribute{
	"red":     color.FgRed,
	"green":   color.FgGreen,
	"yellow":  color.FgYellow,
	"blue":    color.FgBlue,
	"magenta": color.FgMagenta,
	"cyan":    color.FgCyan,
	"white":   color.FgWhite,
}

// Term represents the terminal running feltdbg.
type Term struct {
	debugger     *debugger.Debugger
	conf         *config.Config
	line         *liner.State
	cmds         *Commands
	stdout       *transcriptWriter
	InitFile     string
	colorEscapes map[colorize.Style]string
	starlarkEnv  *starbind.Env

	procedures *trie.Trie
}

// New returns a new Term.
func New(d *debugger.Debugger, conf *config.Config) *Term {
	cmds := DebugCommands(d)
	if conf != nil && conf.Aliases != nil {
		cmds.Merge(conf.Aliases)
	}

	if conf == nil {
		conf = &config.Config{}
	}

	var w io.Writer

	dumb := strings.ToLower(os.Getenv("TERM")) == "dumb"
	if dumb {
		w = os.Stdout
		color.NoColor = true
	} else {
		w = getColorableWriter()
	}

	if (conf.SourceListLineColor > ansiWhite &&
		conf.SourceListLineColor < ansiBrBlack) ||
		conf.SourceListLineColor < ansiBlack ||
		conf.SourceListLineColor > ansiBrWhite {
		conf.SourceListLineColor = ansiBlue
	}

	t := &Term{
		debugger: d,
		conf:     conf,
		line:     liner.NewLiner(),
		cmds:     cmds,
		stdout:   &transcriptWriter{pw: &pagingWriter{w: w}},
	}
	if !dumb && !color.NoColor {
		t.colorEscapes = map[colorize.Style]string{
			colorize.NormalStyle:  terminalResetEscapeCode,
			colorize.KeywordStyle: fmt.Sprintf(terminalHighlightEscapeCode, ansiMagenta),
			colorize.NumberStyle:  fmt.Sprintf(terminalHighlightEscapeCode, ansiYellow),
			colorize.StringStyle:  fmt.Sprintf(terminalHighlightEscapeCode, ansiGreen),
			colorize.CommentStyle: fmt.Sprintf(terminalHighlightEscapeCode, ansiBrBlack),
			colorize.LineNoStyle:  fmt.Sprintf(terminalHighlightEscapeCode, conf.SourceListLineColor),
			colorize.ArrowStyle:   fmt.Sprintf(terminalHighlightEscapeCode, ansiCyan),
		}
		t.stdout.colorEscapes = t.colorEscapes
	}
	t.starlarkEnv = starbind.New(starlarkContext{t}, t.stdout)
	return t
}

// Close returns the terminal to its previous mode.
func (t *Term) Close() {
	t.line.Close()
	if err := t.stdout.CloseTranscript(); err != nil {
		fmt.Fprintf(os.Stderr, "error closing transcript file: %v\n", err)
	}
}

func (t *Term) sigintGuard(ch <-chan os.Signal) {
	for range ch {
		t.starlarkEnv.Cancel()
		fmt.Fprintf(os.Stderr, "received SIGINT, stopping program\n")
		if _, err := t.debugger.Command(&api.DebuggerCommand{Name: api.Halt}); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
		}
	}
}

// Run begins running feltdbg in the terminal.
func (t *Term) Run() (int, error) {
	defer t.Close()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	defer signal.Stop(ch)
	go t.sigintGuard(ch)

	t.loadProcedures()
	t.line.SetCompleter(t.complete)

	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Printf("Unable to load history file: %v.", err)
	}

	f, err := os.Open(fullHistoryFile)
	if err != nil {
		f, err = os.Create(fullHistoryFile)
		if err != nil {
			fmt.Printf("Unable to open history file: %v. History will not be saved for this session.", err)
		}
	}
	if f != nil {
		t.line.ReadHistory(f)
		f.Close()
	}

	fmt.Fprintln(t.stdout, color.New(color.FgCyan, color.Bold).Sprint("feltdbg"))
	fmt.Fprintf(t.stdout, "Type %s for list of commands.\n\n", color.YellowString("'help'"))
	printLocation(t)

	if t.InitFile != "" {
		err := t.cmds.executeFile(t, t.InitFile)
		if err != nil {
			if _, ok := err.(ExitRequestError); ok {
				return t.handleExit()
			}
			if proc.IsFatal(err) {
				return t.handleFatal(err), nil
			}
			fmt.Fprintf(os.Stderr, "Error executing init file: %s\n", err)
		}
	}

	var lastCmd string

	for {
		cmdstr, err := t.promptForInput()
		if err != nil {
			if err == io.EOF {
				fmt.Fprintln(t.stdout, "exit")
				return t.handleExit()
			}
			return 1, fmt.Errorf("prompt for input failed")
		}
		t.stdout.Echo(t.prompt() + cmdstr + "\n")

		if strings.TrimSpace(cmdstr) == "" {
			cmdstr = lastCmd
		}
		lastCmd = cmdstr

		if done, status := t.execute(cmdstr); done {
			return status, nil
		}
		t.stdout.Flush()
		t.stdout.pw.Reset()
	}
}

// execute runs cmdstr. It reports whether the session is over and the
// status it ends with.
func (t *Term) execute(cmdstr string) (bool, int) {
	err := t.cmds.Call(cmdstr, t)
	if err == nil {
		return false, 0
	}
	if _, ok := err.(ExitRequestError); ok {
		status, _ := t.handleExit()
		return true, status
	}
	if proc.IsFatal(err) {
		return true, t.handleFatal(err)
	}
	fmt.Fprintf(os.Stderr, "%s %s\n", color.New(color.FgRed).Sprint("Command failed:"), err)
	logflags.TerminalLogger().Debugf("command %q failed: %v", cmdstr, err)
	return false, 0
}

// loadProcedures indexes the procedure names completed after "break in".
func (t *Term) loadProcedures() {
	t.procedures = trie.New()
	for _, name := range t.debugger.Procedures() {
		t.procedures.Add(name, nil)
	}
}

// complete completes command names, and procedure names for the
// arguments of break.
func (t *Term) complete(line string) (c []string) {
	vals := strings.SplitN(line, " ", 2)
	if len(vals) == 1 {
		for _, cmd := range t.cmds.cmds {
			for _, alias := range cmd.aliases {
				if strings.HasPrefix(alias, strings.ToLower(line)) {
					c = append(c, alias)
				}
			}
		}
		return c
	}
	if t.procedures == nil || t.cmds.canonicalName(vals[0]) != "break" {
		return nil
	}
	const inPrefix = "in "
	if !strings.HasPrefix(vals[1], inPrefix) {
		return nil
	}
	for _, name := range t.procedures.PrefixSearch(strings.TrimSpace(vals[1][len(inPrefix):])) {
		c = append(c, vals[0]+" "+inPrefix+name)
	}
	return c
}

// prompt describes the position of the program: the cycle, with ERR after
// a failure, END after successful termination and STOP when a run command
// was suspended.
func (t *Term) prompt() string {
	state, err := t.debugger.State(false)
	if err != nil {
		return "> "
	}
	attr, ok := promptColors[t.conf.PromptColor]
	if !ok {
		attr = color.FgCyan
	}
	bracket := color.New(attr).SprintFunc()

	suffix := ""
	switch {
	case state.Exited && state.Err != nil:
		suffix = " " + color.New(color.FgRed, color.Bold).Sprint("ERR")
	case state.Exited:
		suffix = " " + color.New(color.FgGreen, color.Bold).Sprint("END")
	case isSuspended(state):
		suffix = " " + color.New(color.FgYellow, color.Bold).Sprint("STOP")
	}
	return fmt.Sprintf("%scycle %d%s%s > ", bracket("["), state.Cycle, suffix, bracket("]"))
}

func isSuspended(state *api.DebuggerState) bool {
	switch state.StopReason {
	case "breakpoint", "next finished", "call returned", "manual":
		return true
	}
	return false
}

func (t *Term) promptForInput() (string, error) {
	l, err := t.line.Prompt(t.prompt())
	if err != nil {
		return "", err
	}

	l = strings.TrimSuffix(l, "\n")
	if l != "" {
		t.line.AppendHistory(l)
	}

	return l, nil
}

func (t *Term) handleExit() (int, error) {
	t.saveHistory()
	fmt.Fprintln(t.stdout, color.CyanString("Goodbye!"))
	return 0, nil
}

// handleFatal ends a session the debugger can no longer be trusted in,
// printing the error with the state of the program.
func (t *Term) handleFatal(err error) int {
	logflags.TerminalLogger().Errorf("fatal error: %v", err)
	fmt.Fprintln(t.stdout, color.New(color.FgRed, color.Bold).Sprint("Fatal error, the session can not continue"))
	fmt.Fprint(t.stdout, t.debugger.Diagnose(err))
	t.stdout.Flush()
	t.saveHistory()
	return 1
}

func (t *Term) saveHistory() {
	fullHistoryFile, err := config.GetConfigFilePath(historyFile)
	if err != nil {
		fmt.Println("Error saving history file:", err)
	} else {
		if f, err := os.OpenFile(fullHistoryFile, os.O_RDWR|os.O_TRUNC, 0666); err == nil {
			t.trimHistory()
			_, err = t.line.WriteHistory(f)
			if err != nil {
				fmt.Println("readline history error:", err)
			}
			f.Close()
		}
	}
}

// trimHistory keeps the last max-history entries.
func (t *Term) trimHistory() {
	max := t.conf.GetMaxHistory()
	var sb strings.Builder
	n, err := t.line.WriteHistory(&sb)
	if err != nil || n <= max {
		return
	}
	lines := strings.Split(strings.TrimSuffix(sb.String(), "\n"), "\n")
	if len(lines) <= max {
		return
	}
	lines = lines[len(lines)-max:]
	t.line.ClearHistory()
	for _, l := range lines {
		t.line.AppendHistory(l)
	}
}
