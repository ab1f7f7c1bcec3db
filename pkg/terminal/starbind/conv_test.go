package starbind

import (
	"testing"

	"go.starlark.net/starlark"

	"github.com/feltdbg/feltdbg/pkg/felt"
	"github.com/feltdbg/feltdbg/service/api"
)

func execGlobals(t *testing.T, script string) starlark.StringDict {
	t.Helper()
	globals, err := starlark.ExecFile(&starlark.Thread{}, "test.star", script, nil)
	if err != nil {
		t.Fatal(err)
	}
	return globals
}

func TestConv(t *testing.T) {
	globals := execGlobals(t, `
# A list global that we'll unmarshal into a slice.
x = [1,2]
`)
	starlarkVal, ok := globals["x"]
	if !ok {
		t.Fatal("missing global 'x'")
	}
	var x []int
	err := unmarshalStarlarkValue(starlarkVal, &x, "x")
	if err != nil {
		t.Fatal(err)
	}
	if len(x) != 2 || x[0] != 1 || x[1] != 2 {
		t.Fatalf("expected [1 2], got: %v", x)
	}
}

func TestConvDictToStruct(t *testing.T) {
	globals := execGlobals(t, `cmd = {"Name": "step", "Count": 3}
bad = {"Nope": 1}
`)
	var cmd api.DebuggerCommand
	if err := unmarshalStarlarkValue(globals["cmd"], &cmd, "cmd"); err != nil {
		t.Fatal(err)
	}
	if cmd.Name != api.Step || cmd.Count != 3 {
		t.Fatalf("unexpected command %#v", cmd)
	}
	if err := unmarshalStarlarkValue(globals["bad"], &cmd, "bad"); err == nil {
		t.Fatal("expected an error for an unknown field")
	}
}

func TestConvOverflow(t *testing.T) {
	var id uint8
	if err := unmarshalStarlarkValue(starlark.MakeInt(300), &id, "Id"); err == nil {
		t.Fatalf("expected an overflow error, got %d", id)
	}
}

func TestUnpackBuiltinArgs(t *testing.T) {
	var addr uint32
	count := 1
	kwargs := []starlark.Tuple{{starlark.String("Count"), starlark.MakeInt(4)}}
	err := unpackBuiltinArgs(starlark.Tuple{starlark.MakeInt(16)}, kwargs, builtinArg{"Addr", &addr}, builtinArg{"Count", &count})
	if err != nil {
		t.Fatal(err)
	}
	if addr != 16 || count != 4 {
		t.Fatalf("got addr=%d count=%d", addr, count)
	}

	kwargs = []starlark.Tuple{{starlark.String("Size"), starlark.MakeInt(4)}}
	if err := unpackBuiltinArgs(nil, kwargs, builtinArg{"Addr", &addr}); err == nil {
		t.Fatal("expected an error for an unknown keyword argument")
	}
	if err := unpackBuiltinArgs(starlark.Tuple{starlark.MakeInt(1), starlark.MakeInt(2)}, nil, builtinArg{"Addr", &addr}); err == nil {
		t.Fatal("expected an error for too many arguments")
	}
}

func TestInterfaceToStarlarkValue(t *testing.T) {
	env := &Env{}

	v := env.interfaceToStarlarkValue(api.Variable{Name: "n", Location: "stack[0]", Value: "18446744069414584320"})
	attrs, ok := v.(starlark.HasAttrs)
	if !ok {
		t.Fatalf("variable converted to %T", v)
	}
	n, err := attrs.Attr("Int")
	if err != nil {
		t.Fatal(err)
	}
	if n.String() != "18446744069414584320" {
		t.Errorf("Int attribute: %s", n)
	}
	name, err := attrs.Attr("Name")
	if err != nil {
		t.Fatal(err)
	}
	if name != starlark.String("n") {
		t.Errorf("Name attribute: %s", name)
	}
	if _, err := attrs.Attr("Missing"); err == nil {
		t.Error("expected an error for a missing field")
	}

	unreadable := env.interfaceToStarlarkValue(api.Variable{Name: "x", Unreadable: "location can not be resolved"})
	if n, _ := unreadable.(starlark.HasAttrs).Attr("Int"); n != starlark.None {
		t.Errorf("Int of an unreadable variable: %s", n)
	}

	felts := env.interfaceToStarlarkValue([]felt.Felt{1, 2, 3})
	seq, ok := felts.(starlark.Indexable)
	if !ok || seq.Len() != 3 {
		t.Fatalf("felts converted to %v", felts)
	}
	if seq.Index(2).String() != "3" {
		t.Errorf("felts[2] = %s", seq.Index(2))
	}
	if s := felts.String(); s != "[1, 2, 3]" {
		t.Errorf("felts printed as %s", s)
	}

	state := env.interfaceToStarlarkValue(&api.DebuggerState{Cycle: 7})
	errAttr, err := state.(starlark.HasAttrs).Attr("Err")
	if err != nil {
		t.Fatal(err)
	}
	if errAttr != starlark.None {
		t.Errorf("Err of a running program: %s", errAttr)
	}
}
