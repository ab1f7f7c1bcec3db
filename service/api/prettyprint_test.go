package api

import (
	"bytes"
	"strings"
	"testing"

	"github.com/feltdbg/feltdbg/pkg/proc"
)

func TestBreakpointSpec(t *testing.T) {
	tests := []struct {
		ty   proc.BreakpointType
		spec string
	}{
		{proc.AtCycle(12), "at 12"},
		{proc.AfterCycles(3), "after 3"},
		{proc.InProcedure("std::sum"), "in std::sum"},
		{proc.AtLocation("main.masm", 4), "main.masm:4"},
		{proc.AtLocation("main.masm", 0), "main.masm"},
	}
	for _, tc := range tests {
		if got := BreakpointSpec(tc.ty); got != tc.spec {
			t.Errorf("%v: expected %q got %q", tc.ty, tc.spec, got)
		}
	}
}

func TestPrintBreakpoints(t *testing.T) {
	var buf bytes.Buffer
	PrintBreakpoints(&buf, []*Breakpoint{
		ConvertBreakpoint(&proc.Breakpoint{ID: 1, Type: proc.AtCycle(4)}),
		ConvertBreakpoint(&proc.Breakpoint{ID: 2, CreationCycle: 9, Type: proc.InProcedure("f")}),
	})
	tgt := "ID  SPEC  CREATED\n1   at 4  0\n2   in f  9\n"
	if buf.String() != tgt {
		t.Fatalf("expected:\n%s\ngot:\n%s", tgt, buf.String())
	}
}

func TestPrintVariables(t *testing.T) {
	var buf bytes.Buffer
	PrintVariables(&buf, []Variable{
		{Name: "x", Value: "4", Location: "stack[0]"},
		{Name: "total", Location: "expr(00)", Unreadable: "location can not be resolved"},
	}, true)
	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %q", buf.String())
	}
	if !strings.HasPrefix(lines[0], "x     = 4 ") || !strings.HasSuffix(lines[0], "(stack[0])") {
		t.Errorf("unexpected line %q", lines[0])
	}
	if lines[1] != "total = (unreadable location can not be resolved) (expr(00))" {
		t.Errorf("unexpected line %q", lines[1])
	}
}
