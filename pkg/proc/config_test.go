package proc

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/feltdbg/feltdbg/pkg/felt"
	"github.com/feltdbg/feltdbg/pkg/vm"
)

func TestParseExecutionConfig(t *testing.T) {
	cfg, err := ParseExecutionConfig(`
[inputs]
stack = [1, 2, "0x10"]
advice = ["0b101", 6]

[options]
max_cycles = 1000
`)
	if err != nil {
		t.Fatal(err)
	}
	assertStack(t, cfg.StackInputs(), 1, 2, 16)
	assertStack(t, cfg.AdviceInputs(), 5, 6)
	if cfg.Options.MaxCycles != 1000 {
		t.Fatalf("unexpected max cycles %d", cfg.Options.MaxCycles)
	}

	bad := []string{
		"[inputs]\nstack = [-1]\n",
		"[inputs]\nstack = [\"18446744069414584321\"]\n",
		"[inputs]\nstack = [1.5]\n",
		"[inputs]\nheap = [1]\n",
		"[inputs\n",
	}
	for _, text := range bad {
		if _, err := ParseExecutionConfig(text); err == nil {
			t.Errorf("%q: expected an error", text)
		}
	}
}

func TestLoadExecutionConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inputs.toml")
	if err := os.WriteFile(path, []byte("[inputs]\nstack = [3, 4]\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadExecutionConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	// the last input ends up on top of the stack
	trace := NewExecutorFromConfig(cfg).CaptureTrace(assemble(t, "begin sub end"))
	assertStack(t, trace.Outputs(), felt.Felt(3).Sub(4))

	if _, err := LoadExecutionConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected an error for a missing file")
	}
}

func TestMaxCycles(t *testing.T) {
	cfg := &ExecutionConfig{Options: ExecutionOptions{MaxCycles: 20}}
	trace := NewExecutorFromConfig(cfg).CaptureTrace(assemble(t, "begin push.1 while.true push.1 end end"))
	var cl *vm.ErrCycleLimit
	if !errors.As(trace.Failure(), &cl) || trace.LastCycle() != 20 {
		t.Fatalf("expected the cycle limit at cycle 20, got %v at %d", trace.Failure(), trace.LastCycle())
	}
}

func TestExecuteReport(t *testing.T) {
	ex := NewExecutor([]felt.Felt{3})
	_, err := ex.Execute(assemble(t, `
proc.boom
    push.0 inv
end

begin
    exec.boom
end
`))
	var re *ReportedError
	if !errors.As(err, &re) || !errors.Is(err, vm.ErrDivideByZero) {
		t.Fatalf("expected a reported division by zero, got %v", err)
	}
	for _, want := range []string{"division by zero", "test::boom", "Last known state", "fmp: 0x40000000", "operand stack (2 elements, top first): 0 3"} {
		if !strings.Contains(re.Report, want) {
			t.Errorf("report does not mention %q:\n%s", want, re.Report)
		}
	}
}

func TestWithDependencies(t *testing.T) {
	lib, err := vm.AssembleLibrary("math", []vm.SourceFile{{Path: "math.masm", Source: "export.double\n dup.0 add\nend\n"}})
	if err != nil {
		t.Fatal(err)
	}
	ex := NewExecutor([]felt.Felt{21})
	if err := ex.WithDependencies([]vm.Dependency{{Name: "math"}}); err == nil {
		t.Fatalf("unregistered dependency should fail")
	}
	ex.RegisterLibraryDependency(lib)
	if err := ex.WithDependencies([]vm.Dependency{{Name: "math"}}); err != nil {
		t.Fatal(err)
	}
	prog := assemble(t, "begin exec.math::double end")
	trace, err := ex.Execute(prog)
	if err != nil {
		t.Fatal(err)
	}
	assertStack(t, trace.Outputs(), 42)
	if _, ok := prog.Procedures["math::double"]; ok {
		t.Fatalf("linking must not modify the program")
	}
}
