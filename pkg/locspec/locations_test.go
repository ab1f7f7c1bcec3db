package locspec

import (
	"testing"

	"github.com/feltdbg/feltdbg/pkg/proc"
)

func parseNoError(t *testing.T, bpstr string) proc.BreakpointType {
	ty, err := Parse(bpstr)
	if err != nil {
		t.Fatalf("Error parsing %q: %v", bpstr, err)
	}
	return ty
}

func assertBreakpointType(t *testing.T, bpstr string, tgt proc.BreakpointType) {
	ty := parseNoError(t, bpstr)
	if ty != tgt {
		t.Fatalf("Location %q: expected %#v got %#v", bpstr, tgt, ty)
	}
}

func TestCycleParsing(t *testing.T) {
	assertBreakpointType(t, "at 3", proc.AtCycle(3))
	assertBreakpointType(t, "at 0x10", proc.AtCycle(16))
	assertBreakpointType(t, "  at   1_000 ", proc.AtCycle(1000))
	assertBreakpointType(t, "after 25", proc.AfterCycles(25))
}

func TestProcedureParsing(t *testing.T) {
	assertBreakpointType(t, "in add_two", proc.InProcedure("add_two"))
	assertBreakpointType(t, "in std::math::u64::add", proc.InProcedure("std::math::u64::add"))
}

func TestFileParsing(t *testing.T) {
	assertBreakpointType(t, "main.masm:10", proc.AtLocation("main.masm", 10))
	assertBreakpointType(t, "lib/math.masm", proc.AtLocation("lib/math.masm", 0))
	assertBreakpointType(t, `C:\src\main.masm:4`, proc.AtLocation(`C:\src\main.masm`, 4))
	assertBreakpointType(t, `C:\src\main.masm`, proc.AtLocation(`C:\src\main.masm`, 0))
	// a file called "at" is still a file
	assertBreakpointType(t, "at", proc.AtLocation("at", 0))
}

func TestParseErrors(t *testing.T) {
	for _, bpstr := range []string{
		"",
		"   ",
		"at",
		"at x",
		"at -1",
		"after 1.5",
		"in",
		"in a b",
		"main.masm:x",
		"main.masm:0",
		":4",
		"stop at 4",
	} {
		if _, err := Parse(bpstr); err == nil {
			t.Errorf("%q: expected an error", bpstr)
		}
	}
}
