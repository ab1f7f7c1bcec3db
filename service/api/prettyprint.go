package api

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
)

func (loc *Location) String() string {
	if loc == nil {
		return "<unknown>"
	}
	return fmt.Sprintf("%s:%d:%d", loc.File, loc.Line, loc.Col)
}

func (sf *Stackframe) String() string {
	name := sf.Procedure
	if name == "" {
		name = "<unknown>"
	}
	if sf.Location == nil {
		return name
	}
	return fmt.Sprintf("%s at %s", name, sf.Location)
}

func (bp *Breakpoint) String() string {
	return fmt.Sprintf("Breakpoint %d %s (created at cycle %d)", bp.ID, bp.Spec, bp.CreationCycle)
}

// SinglelineString returns a representation of v on a single line.
func (v *Variable) SinglelineString() string {
	if v.Unreadable != "" {
		return fmt.Sprintf("(unreadable %s)", v.Unreadable)
	}
	return v.Value
}

// PrintBreakpoints writes a table of breakpoints to w.
func PrintBreakpoints(w io.Writer, bps []*Breakpoint) {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSPEC\tCREATED")
	for _, bp := range bps {
		fmt.Fprintf(tw, "%d\t%s\t%d\n", bp.ID, bp.Spec, bp.CreationCycle)
	}
	tw.Flush()
}

// PrintVariables writes a table of variables to w. When showLocation is
// set the storage location of every variable is printed too.
func PrintVariables(w io.Writer, vars []Variable, showLocation bool) {
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	for i := range vars {
		v := &vars[i]
		if showLocation {
			fmt.Fprintf(tw, "%s\t= %s\t(%s)\n", v.Name, v.SinglelineString(), v.Location)
		} else {
			fmt.Fprintf(tw, "%s\t= %s\n", v.Name, v.SinglelineString())
		}
	}
	tw.Flush()
}

// FormatStack renders an operand stack, top first, the way the stack
// command prints it.
func FormatStack(stack []string) string {
	if len(stack) == 0 {
		return "[]"
	}
	return "[" + strings.Join(stack, ", ") + "]"
}
