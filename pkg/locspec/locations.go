package locspec

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/feltdbg/feltdbg/pkg/proc"
)

// Parse will turn bpStr into a breakpoint type.
func Parse(bpStr string) (proc.BreakpointType, error) {
	rest := strings.TrimSpace(bpStr)

	malformed := func(reason string) error {
		//lint:ignore ST1005 backwards compatibility
		return fmt.Errorf("Malformed breakpoint location \"%s\" at %d: %s", bpStr, len(bpStr)-len(rest), reason)
	}

	if len(rest) == 0 {
		return proc.BreakpointType{}, malformed("empty string")
	}

	keyword, arg := rest, ""
	if i := strings.IndexAny(rest, " \t"); i >= 0 {
		keyword, arg = rest[:i], strings.TrimSpace(rest[i+1:])
	}

	switch keyword {
	case "at", "after":
		rest = arg
		if arg == "" {
			return proc.BreakpointType{}, malformed("expected a cycle count")
		}
		n, err := strconv.ParseUint(strings.ReplaceAll(arg, "_", ""), 0, 64)
		if err != nil {
			return proc.BreakpointType{}, malformed(fmt.Sprintf("invalid cycle count: %v", err))
		}
		if keyword == "at" {
			return proc.AtCycle(n), nil
		}
		return proc.AfterCycles(n), nil

	case "in":
		rest = arg
		if arg == "" {
			return proc.BreakpointType{}, malformed("expected a procedure name")
		}
		if strings.ContainsAny(arg, " \t") {
			return proc.BreakpointType{}, malformed("procedure names can not contain spaces")
		}
		return proc.InProcedure(arg), nil
	}

	if strings.ContainsAny(rest, " \t") {
		return proc.BreakpointType{}, malformed(fmt.Sprintf("unknown breakpoint kind %q", keyword))
	}
	return parseFileLocation(rest, malformed)
}

func parseFileLocation(rest string, malformed func(string) error) (proc.BreakpointType, error) {
	// On Windows, path may contain ":", so split only on last ":"
	i := strings.LastIndexByte(rest, ':')
	if i < 0 {
		return proc.AtLocation(rest, 0), nil
	}
	file, lineStr := rest[:i], rest[i+1:]
	line, err := strconv.ParseUint(lineStr, 10, 32)
	if err != nil {
		if len(lineStr) == 0 || strings.ContainsAny(lineStr, "/\\") {
			// a drive letter or a path that happens to contain a colon
			return proc.AtLocation(rest, 0), nil
		}
		return proc.BreakpointType{}, malformed(fmt.Sprintf("invalid line number %q", lineStr))
	}
	if file == "" {
		return proc.BreakpointType{}, malformed("expected a file name")
	}
	if line == 0 {
		return proc.BreakpointType{}, malformed("line numbers start at 1")
	}
	return proc.AtLocation(file, uint32(line)), nil
}
