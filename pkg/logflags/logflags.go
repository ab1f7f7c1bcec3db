package logflags

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var debugger = false
var executor = false
var dap = false
var linker = false
var terminal = false

var logOut io.Writer

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New().WithFields(fields)
	logger.Logger.Formatter = textFormatter()
	if logOut != nil {
		logger.Logger.Out = logOut
	}
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.PanicLevel
	}
	return logger
}

func textFormatter() *logrus.TextFormatter {
	out := logOut
	if out == nil {
		out = os.Stderr
	}
	forceColors := false
	if f, ok := out.(*os.File); ok {
		forceColors = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05Z07:00",
		ForceColors:     forceColors,
		DisableColors:   !forceColors,
	}
}

// Debugger returns true if the debugger package should log.
func Debugger() bool {
	return debugger
}

// DebuggerLogger returns a logger for the debugger package.
func DebuggerLogger() *logrus.Entry {
	return makeLogger(debugger, logrus.Fields{"layer": "debugger"})
}

// Executor returns true if the VM executor should log every retired step.
func Executor() bool {
	return executor
}

// ExecutorLogger returns a logger for the proc package.
func ExecutorLogger() *logrus.Entry {
	return makeLogger(executor, logrus.Fields{"layer": "proc"})
}

// DAP returns true if dap package should log.
func DAP() bool {
	return dap
}

// DAPLogger returns a logger for dap package.
func DAPLogger() *logrus.Entry {
	return makeLogger(dap, logrus.Fields{"layer": "dap"})
}

// Linker returns true if library resolution should be logged.
func Linker() bool {
	return linker
}

func LinkerLogger() *logrus.Entry {
	return makeLogger(linker, logrus.Fields{"layer": "linker"})
}

// Terminal returns true if the terminal package should log.
func Terminal() bool {
	return terminal
}

func TerminalLogger() *logrus.Entry {
	return makeLogger(terminal, logrus.Fields{"layer": "terminal"})
}

// WriteDAPListeningMessage writes the "DAP server listening" message in dap
// mode, the client waits for it before connecting.
func WriteDAPListeningMessage(addr string) {
	fmt.Fprintf(os.Stdout, "DAP server listening at: %s\n", addr)
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets debugger flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			logOut = os.NewFile(uintptr(n), "feltdbg-logs")
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logOut != nil {
		log.SetOutput(logOut)
	}
	if logstr == "" {
		logstr = "debugger"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch logcmd {
		case "debugger":
			debugger = true
		case "executor":
			executor = true
		case "dap":
			dap = true
		case "linker":
			linker = true
		case "terminal":
			terminal = true
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if c, ok := logOut.(io.Closer); ok && logOut != os.Stderr && logOut != os.Stdout {
		c.Close()
	}
	logOut = nil
}
