package terminal

import (
	"strings"
	"testing"
)

func TestStarlarkState(t *testing.T) {
	withTestTerminal("addtwo", t, func(term *FakeTerminal) {
		if out := term.MustExecStarlark(`print(state().Cycle)`); out != "0\n" {
			t.Fatalf("unexpected cycle %q", out)
		}
		out := term.MustExecStarlark(`s = raw_command("step", 3)
print(s.Cycle, s.StopReason)`)
		if out != "3 stepped\n" {
			t.Fatalf("unexpected state %q", out)
		}
		if out := term.MustExecStarlark(`print(state().Stack[0])`); out != "3\n" {
			t.Fatalf("unexpected top of stack %q", out)
		}
		if out := term.MustExecStarlark(`print(len(recent()))`); out != "3\n" {
			t.Fatalf("unexpected recent operations %q", out)
		}
	})
}

func TestStarlarkBreakpoints(t *testing.T) {
	withTestTerminal("addtwo", t, func(term *FakeTerminal) {
		out := term.MustExecStarlark(`bp = create_breakpoint("at 3")
print(bp.ID, bp.Spec)
print(breakpoints()[0])`)
		if out != "0 at 3\nBreakpoint 0 at 3 (created at cycle 0)\n" {
			t.Fatalf("unexpected output %q", out)
		}
		out = term.MustExecStarlark(`s = raw_command(Name="continue")
print(s.Cycle, s.Breakpoints[0].ID)`)
		if out != "3 0\n" {
			t.Fatalf("unexpected output %q", out)
		}
		term.MustExecStarlark(`clear_breakpoint(0)`)
		if _, err := term.ExecStarlark(`clear_breakpoint(0)`); err == nil {
			t.Fatal("expected clearing a deleted breakpoint to fail")
		}
		if _, err := term.ExecStarlark(`create_breakpoint(Spec="at 1", Cond="x")`); err == nil {
			t.Fatal("expected an unknown keyword argument to fail")
		}
	})
}

func TestStarlarkVariables(t *testing.T) {
	withTestTerminal("locals", t, func(term *FakeTerminal) {
		term.MustExec("break locals.masm:5")
		term.MustExec("continue")
		out := term.MustExecStarlark(`v = variables("first")
print(v[0].Name, v[0].Int)
print(len(locals()))`)
		if out != "first 7\n2\n" {
			t.Fatalf("unexpected output %q", out)
		}
		out = term.MustExecStarlark(`print(stacktrace()[0].Procedure)`)
		if out != "locals::store_locals\n" {
			t.Fatalf("unexpected frame %q", out)
		}
	})
}

func TestStarlarkMemory(t *testing.T) {
	withTestTerminal("memory", t, func(term *FakeTerminal) {
		term.MustExecStarlark(`raw_command("continue")`)
		out := term.MustExecStarlark(`print(read_memory_range(8, 2))
print(read_memory("16 u8 -fmt x"))`)
		if out != "[42, 0]\nff\n" {
			t.Fatalf("unexpected output %q", out)
		}
	})
}

func TestStarlarkCommand(t *testing.T) {
	withTestTerminal("addtwo", t, func(term *FakeTerminal) {
		term.MustExecStarlark(`def command_twice(args):
	"Steps twice."
	feltdbg_command("step")
	feltdbg_command("step")

def command_stepn(n):
	"Steps n cycles."
	feltdbg_command("step", str(n))
`)
		term.MustExec("twice")
		if p := term.prompt(); p != "[cycle 2] > " {
			t.Fatalf("unexpected prompt %q", p)
		}
		term.MustExec("stepn 3")
		if p := term.prompt(); p != "[cycle 5] > " {
			t.Fatalf("unexpected prompt %q", p)
		}
		term.AssertExec("help twice", "Steps twice.\n")

		if _, err := term.ExecStarlark(`feltdbg_command("nosuchcommand")`); err == nil || !strings.Contains(err.Error(), "command not available") {
			t.Fatalf("unexpected error %v", err)
		}
	})
}

func TestStarlarkMain(t *testing.T) {
	withTestTerminal("addtwo", t, func(term *FakeTerminal) {
		out := term.MustExecStarlark(`def main():
	for p in procedures():
		print(p)
`)
		if !strings.Contains(out, "addtwo::add_two\n") {
			t.Fatalf("unexpected output %q", out)
		}
		if _, err := term.ExecStarlark(`main = 1`); err == nil {
			t.Fatal("expected a non function main to fail")
		}
	})
}
