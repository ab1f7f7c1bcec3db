package colorize

import (
	"bytes"
	"strings"
	"testing"
)

const src = "begin\n    push.1\nend\n"

func TestPrintPlain(t *testing.T) {
	var buf bytes.Buffer
	if err := Print(&buf, "main.masm", strings.NewReader(src), 1, 4, 2, nil, ""); err != nil {
		t.Fatal(err)
	}
	want := "     1:\tbegin\n=>   2:\t    push.1\n     3:\tend\n"
	if buf.String() != want {
		t.Fatalf("got:\n%q\nwant:\n%q", buf.String(), want)
	}
}

func TestPrintRange(t *testing.T) {
	var buf bytes.Buffer
	if err := Print(&buf, "main.masm", strings.NewReader(src), 2, 3, 2, nil, ""); err != nil {
		t.Fatal(err)
	}
	if out := buf.String(); strings.Contains(out, "begin") || strings.Contains(out, "end") || !strings.Contains(out, "push.1") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestTokenize(t *testing.T) {
	line := "    repeat.0x10 push.1.2 # comment\n"
	var got []string
	for _, tok := range tokenize([]byte(line)) {
		got = append(got, line[tok.start:tok.end])
	}
	want := []string{"repeat", "0x10", "1", "2", "# comment"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestPrintEscapes(t *testing.T) {
	escapes := map[Style]string{
		NormalStyle:  "<n>",
		KeywordStyle: "<k>",
		NumberStyle:  "<d>",
	}
	var buf bytes.Buffer
	if err := Print(&buf, "main.masm", strings.NewReader("exec.foo\n"), 1, 2, 0, escapes, ""); err != nil {
		t.Fatal(err)
	}
	if out := buf.String(); !strings.Contains(out, "<k>exec<n>.foo") {
		t.Fatalf("keyword not highlighted: %q", out)
	}
}
