package cmds

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/feltdbg/feltdbg/cmd/feltdbg/cmds/helphelpers"
	"github.com/feltdbg/feltdbg/pkg/config"
	"github.com/feltdbg/feltdbg/pkg/linker"
	protest "github.com/feltdbg/feltdbg/pkg/proc/test"
	"github.com/feltdbg/feltdbg/pkg/vm"
)

func TestSplitQuotedFields(t *testing.T) {
	in := `1 '2' "0x10" 3'4'`
	tgt := []string{"1", "2", "0x10", "34"}
	out, err := splitQuotedFields(in)
	if err != nil {
		t.Fatal(err)
	}

	if len(tgt) != len(out) {
		t.Fatalf("expected %#v, got %#v (len mismatch)", tgt, out)
	}

	for i := range tgt {
		if tgt[i] != out[i] {
			t.Fatalf(" expected %#v, got %#v (mismatch at %d)", tgt, out, i)
		}
	}

	if _, err := splitQuotedFields("1 `2`"); err == nil {
		t.Fatal("expected backticks to be rejected")
	}
}

func TestProgramArgs(t *testing.T) {
	testCases := []struct {
		args    []string
		program string
		inputs  []string
		tgterr  bool
	}{
		{[]string{"prog.masm"}, "prog.masm", nil, false},
		{[]string{"prog.masm", "--", "1", "2"}, "prog.masm", []string{"1", "2"}, false},
		{[]string{"prog.masm", "1"}, "", nil, true},
		{[]string{"--", "1"}, "", []string{"1"}, true},
	}

	for _, tc := range testCases {
		var program string
		var inputs []string
		var err error
		cmd := &cobra.Command{
			Use: "test",
			Run: func(cmd *cobra.Command, args []string) {
				program, inputs, err = programArgs(cmd, args)
			},
		}
		cmd.SetArgs(tc.args)
		if execErr := cmd.Execute(); execErr != nil {
			t.Fatalf("%q: %v", tc.args, execErr)
		}
		if tc.tgterr {
			if err == nil {
				t.Errorf("%q: expected an error", tc.args)
			}
			continue
		}
		if err != nil {
			t.Errorf("%q: unexpected error %v", tc.args, err)
			continue
		}
		if program != tc.program {
			t.Errorf("%q: expected program %q, got %q", tc.args, tc.program, program)
		}
		if strings.Join(inputs, " ") != strings.Join(tc.inputs, " ") {
			t.Errorf("%q: expected inputs %q, got %q", tc.args, tc.inputs, inputs)
		}
	}
}

func withDefaults(t *testing.T) {
	conf = &config.Config{}
	workingDir = "."
	inputsFile, entrypoint = "", ""
	searchPath = nil
	linkLibraries = linker.LinkLibraryFlag{}
}

func TestExecute(t *testing.T) {
	withDefaults(t)
	fixture := protest.BuildFixture(t, "addtwo")

	var stdout, stderr bytes.Buffer
	if status := execute(&stdout, &stderr, debuggerConfig(fixture.Path, []string{"7"}), true); status != 0 {
		t.Fatalf("unexpected status %d: %s", status, stderr.String())
	}
	out := stdout.String()
	if !strings.HasPrefix(out, "Outputs: [5, 1, 7") {
		t.Errorf("unexpected outputs %q", out)
	}
	if !strings.Contains(out, "u64: 21474836481\n") {
		t.Errorf("unexpected u64 result %q", out)
	}
}

func TestExecuteFailure(t *testing.T) {
	withDefaults(t)
	fixture := protest.BuildFixture(t, "fail")

	var stdout, stderr bytes.Buffer
	if status := execute(&stdout, &stderr, debuggerConfig(fixture.Path, nil), false); status != 1 {
		t.Fatalf("unexpected status %d", status)
	}
	if stdout.Len() != 0 {
		t.Errorf("unexpected output %q", stdout.String())
	}
	report := stderr.String()
	for _, tgt := range []string{"error: ", "Last known state:", "operand stack"} {
		if !strings.Contains(report, tgt) {
			t.Errorf("report does not contain %q:\n%s", tgt, report)
		}
	}
}

func TestExecuteLoadError(t *testing.T) {
	withDefaults(t)
	var stdout, stderr bytes.Buffer
	if status := execute(&stdout, &stderr, debuggerConfig("does-not-exist.masm", nil), false); status != 1 {
		t.Fatalf("unexpected status %d", status)
	}
	if stderr.Len() == 0 {
		t.Fatal("expected an error message")
	}
}

func TestBuildPackage(t *testing.T) {
	withDefaults(t)
	fixtures := protest.FindFixturesDir()

	pkg, err := buildPackage([]string{filepath.Join(fixtures, "addtwo.masm")}, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if pkg.Name != "addtwo" || pkg.IsLibrary() {
		t.Fatalf("unexpected package %s (%s)", pkg.Name, pkg.Kind)
	}

	ll, err := linker.ParseLinkLibrary("masm=std")
	if err != nil {
		t.Fatal(err)
	}
	pkg, err = buildPackage([]string{filepath.Join(fixtures, "mathlib", "math.masm")}, "mathlib", []linker.LinkLibrary{ll})
	if err != nil {
		t.Fatal(err)
	}
	if !pkg.IsLibrary() || pkg.Name != "mathlib" {
		t.Fatalf("unexpected package %s (%s)", pkg.Name, pkg.Kind)
	}
	if len(pkg.Dependencies) != 1 || pkg.Dependencies[0].Name != "std" {
		t.Fatalf("unexpected dependencies %v", pkg.Dependencies)
	}

	dir, err := ioutil.TempDir("", "feltdbg-build")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "mathlib.masp")
	fh, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := pkg.Save(fh); err != nil {
		t.Fatal(err)
	}
	fh.Close()
	loaded, err := vm.LoadPackage(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := loaded.Library(); err != nil {
		t.Fatalf("could not assemble saved library: %v", err)
	}
}

func TestVersionCommand(t *testing.T) {
	root := New()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"version"})
	if err := root.Execute(); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(buf.String(), "feltdbg\nVersion: ") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestPrepareHidesFlags(t *testing.T) {
	root := New()
	var build *cobra.Command
	for _, cmd := range root.Commands() {
		if cmd.Name() == "build" {
			build = cmd
		}
	}
	if build == nil {
		t.Fatal("no build command")
	}
	helphelpers.Prepare(build)
	if f := root.PersistentFlags().Lookup("inputs"); f == nil || !f.Hidden {
		t.Error("inputs flag should be hidden for build")
	}
	if f := build.Flags().Lookup("output"); f == nil || f.Hidden {
		t.Error("output flag should be visible for build")
	}
}
