package terminal

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"text/tabwriter"

	"github.com/feltdbg/feltdbg/service/api"
)

// recentPrint prints the operations retired most recently, oldest first.
// The last one is marked with an arrow.
func recentPrint(ops []api.Operation, out io.Writer) {
	bw := bufio.NewWriter(out)
	defer bw.Flush()
	if len(ops) == 0 {
		fmt.Fprintln(bw, "No recent instructions")
		return
	}
	fmt.Fprintln(bw, "Recent instructions:")
	tw := tabwriter.NewWriter(bw, 1, 8, 1, '\t', 0)
	defer tw.Flush()
	for i, op := range ops {
		mark := ""
		if i == len(ops)-1 {
			mark = ">"
		}
		loc := ""
		if op.Location != nil {
			loc = fmt.Sprintf("%s:%d", filepath.Base(op.Location.File), op.Location.Line)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", mark, op.Cycle, op.Op, op.Asm, loc)
	}
}
