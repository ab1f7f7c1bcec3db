package source

import (
	"errors"
	"os"
	"testing"
)

func TestEmbeddedSources(t *testing.T) {
	m := NewManager(2)
	m.SetSources(map[string]string{"src/main.masm": "begin\r\n    push.1\nend\n"})

	lines, err := m.Lines("src/main.masm")
	if err != nil {
		t.Fatal(err)
	}
	if len(lines) != 3 || lines[1] != "    push.1" {
		t.Fatalf("unexpected lines %q", lines)
	}
	if l, err := m.Line("main.masm", 3); err != nil || l != "end" {
		t.Fatalf("suffix lookup: %q %v", l, err)
	}
	if _, err := m.Line("main.masm", 4); err == nil {
		t.Fatalf("expected an out of range error")
	}

	around, err := m.Around("src/main.masm", 1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(around) != 2 || around[0].N != 1 || around[1].N != 2 {
		t.Fatalf("unexpected listing %v", around)
	}
}

func TestDiskCache(t *testing.T) {
	m := NewManager(1)
	reads := map[string]int{}
	m.readFile = func(path string) ([]byte, error) {
		reads[path]++
		switch path {
		case "a.masm":
			return []byte("begin\nend"), nil
		case "b.masm":
			return []byte("proc.x\nend"), nil
		}
		return nil, os.ErrNotExist
	}

	for i := 0; i < 3; i++ {
		if _, err := m.Line("a.masm", 1); err != nil {
			t.Fatal(err)
		}
	}
	if reads["a.masm"] != 1 {
		t.Fatalf("expected a.masm to be read once, got %d", reads["a.masm"])
	}

	// evicts a.masm
	if _, err := m.Line("b.masm", 2); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Line("a.masm", 2); err != nil {
		t.Fatal(err)
	}
	if reads["a.masm"] != 2 {
		t.Fatalf("expected a.masm to be evicted and read again, got %d reads", reads["a.masm"])
	}

	if _, err := m.Lines("missing.masm"); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected ErrNotExist, got %v", err)
	}
}
