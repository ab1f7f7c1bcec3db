package main

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	protest "github.com/feltdbg/feltdbg/pkg/proc/test"
)

func assertNoError(err error, t testing.TB, s string) {
	if err != nil {
		_, file, line, _ := runtime.Caller(1)
		fname := filepath.Base(file)
		t.Fatalf("failed assertion at %s:%d: %s - %s\n", fname, line, s, err)
	}
}

func buildFeltdbg(t *testing.T) string {
	wd, _ := os.Getwd()
	bin := filepath.Join(wd, "feltdbg-test")
	if runtime.GOOS == "windows" {
		bin += ".exe"
	}
	cmd := exec.Command("go", "build", "-o", bin, "github.com/feltdbg/feltdbg/cmd/feltdbg")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("go build: %v\n%s", err, out)
	}
	return bin
}

func TestExec(t *testing.T) {
	bin := buildFeltdbg(t)
	defer os.Remove(bin)

	fixtures := protest.FindFixturesDir()

	cmd := exec.Command(bin, "exec", "--wd", fixtures, "addtwo.masm")
	out, err := cmd.Output()
	assertNoError(err, t, "exec addtwo")
	if !strings.HasPrefix(string(out), "Outputs: [5, 1") {
		t.Fatalf("unexpected output %q", out)
	}

	cmd = exec.Command(bin, "exec", "--wd", fixtures, "fail.masm")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err = cmd.Run()
	if err == nil {
		t.Fatal("expected exec of a failing program to fail")
	}
	if !strings.Contains(stderr.String(), "Last known state:") {
		t.Fatalf("unexpected report %q", stderr.String())
	}
}

func TestReplScript(t *testing.T) {
	bin := buildFeltdbg(t)
	defer os.Remove(bin)

	fixtures := protest.FindFixturesDir()

	cmd := exec.Command(bin, "--wd", fixtures, "addtwo.masm")
	cmd.Env = append(os.Environ(), "TERM=dumb")
	cmd.Stdin = strings.NewReader("break in add_two\ncontinue\nstack\nexit\n")
	out, err := cmd.CombinedOutput()
	assertNoError(err, t, "repl")
	for _, tgt := range []string{"Breakpoint 0 created", "Breakpoint 0 hit", "Operand Stack"} {
		if !strings.Contains(string(out), tgt) {
			t.Errorf("output does not contain %q:\n%s", tgt, out)
		}
	}
}
