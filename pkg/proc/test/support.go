// Package test locates and assembles the programs under _fixtures for the
// tests of the other packages.
package test

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/feltdbg/feltdbg/pkg/vm"
)

// Fixture is a test program.
type Fixture struct {
	// Name is the short name of the fixture.
	Name string
	// Path is the absolute path to the program source.
	Path string
	// Source is the text of the program.
	Source string
}

var (
	fixtures   = map[string]Fixture{}
	fixturesMu sync.Mutex
)

// FindFixturesDir will search for the directory holding all test fixtures
// beginning with the current directory and searching up 10 directories.
func FindFixturesDir() string {
	parent := ".."
	fixturesDir := "_fixtures"
	for depth := 0; depth < 10; depth++ {
		if _, err := os.Stat(fixturesDir); err == nil {
			break
		}
		fixturesDir = filepath.Join(parent, fixturesDir)
	}
	return fixturesDir
}

// BuildFixture reads the fixture name.masm.
func BuildFixture(t testing.TB, name string) Fixture {
	t.Helper()
	fixturesMu.Lock()
	defer fixturesMu.Unlock()
	if f, ok := fixtures[name]; ok {
		return f
	}

	path, err := filepath.Abs(filepath.Join(FindFixturesDir(), name+".masm"))
	if err != nil {
		t.Fatal(err)
	}
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		t.Fatalf("could not read fixture %s: %v", name, err)
	}
	f := Fixture{Name: name, Path: path, Source: string(buf)}
	fixtures[name] = f
	return f
}

// AssembleFixture reads and assembles the fixture name.masm.
func AssembleFixture(t testing.TB, name string) *vm.Program {
	t.Helper()
	f := BuildFixture(t, name)
	prog, err := vm.Assemble(f.Path, f.Source)
	if err != nil {
		t.Fatalf("could not assemble fixture %s: %v", name, err)
	}
	return prog
}
