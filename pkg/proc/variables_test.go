package proc

import (
	"testing"

	"github.com/feltdbg/feltdbg/pkg/felt"
	"github.com/feltdbg/feltdbg/pkg/vm"
)

func TestDebugVarTracker(t *testing.T) {
	tr := NewDebugVarTracker()
	if tr.Count() != 0 || tr.HasVariables() {
		t.Fatalf("new tracker should be empty")
	}
	x := vm.DebugVarInfo{Name: "x", Location: vm.DebugVarLocation{Kind: vm.VarStack, Index: 0}}
	x2 := vm.DebugVarInfo{Name: "x", Location: vm.DebugVarLocation{Kind: vm.VarMemory, Addr: 8}}
	y := vm.DebugVarInfo{Name: "y", Location: vm.DebugVarLocation{Kind: vm.VarConst, Value: 3}}
	tr.Record(1, x)
	tr.Record(5, y)
	tr.Record(7, x2)

	tr.UpdateToCycle(4)
	if tr.Count() != 1 {
		t.Fatalf("expected only x at cycle 4, got %v", tr.Current())
	}
	tr.UpdateToCycle(7)
	snap, ok := tr.Get("x")
	if !ok || snap.Cycle != 7 || snap.Info.Location.Kind != vm.VarMemory {
		t.Fatalf("last observation should win, got %v", snap)
	}
	cur := tr.Current()
	if len(cur) != 2 || cur[0].Info.Name != "x" || cur[1].Info.Name != "y" {
		t.Fatalf("unexpected current variables %v", cur)
	}

	// moving backwards rebuilds the view
	tr.UpdateToCycle(5)
	if snap, _ := tr.Get("x"); snap.Cycle != 1 {
		t.Fatalf("expected the cycle 1 observation of x, got %v", snap)
	}

	tr.Reset()
	if tr.Count() != 0 || tr.HasVariables() {
		t.Fatalf("reset did not clear the tracker")
	}
}

func TestResolveVariableValue(t *testing.T) {
	stack := []felt.Felt{10, 20}
	mem := func(addr uint32) (felt.Felt, bool) { return felt.Felt(addr * 2), true }
	local := func(off int16) (felt.Felt, bool) { return felt.Felt(100 + int64(off)), true }
	tests := []struct {
		loc  vm.DebugVarLocation
		want felt.Felt
		ok   bool
	}{
		{vm.DebugVarLocation{Kind: vm.VarStack, Index: 1}, 20, true},
		{vm.DebugVarLocation{Kind: vm.VarStack, Index: 5}, 0, false},
		{vm.DebugVarLocation{Kind: vm.VarMemory, Addr: 21}, 42, true},
		{vm.DebugVarLocation{Kind: vm.VarConst, Value: 9}, 9, true},
		{vm.DebugVarLocation{Kind: vm.VarLocal, Offset: -2}, 98, true},
		{vm.DebugVarLocation{Kind: vm.VarExpression, Expr: []byte{1}}, 0, false},
	}
	for _, tc := range tests {
		got, ok := ResolveVariableValue(tc.loc, stack, mem, local)
		if ok != tc.ok || got != tc.want {
			t.Errorf("%s: got %d %v, want %d %v", tc.loc, got, ok, tc.want, tc.ok)
		}
	}
}

func TestExecutorTracksVariables(t *testing.T) {
	e := debugExecutorFor(t, `
proc.store.1
    var.l=local:-1
    push.77 loc_store.0
    loc_load.0
end

begin
    var.x=stack:0
    push.5
    var.y=const:9
    push.6
    exec.store
end
`)
	for !e.Stopped() {
		if _, err := e.Step(); err != nil {
			t.Fatal(err)
		}
		if a := e.CurrentAsmOp(); a != nil && a.Op == "loc_load.0" {
			break
		}
	}
	vars := e.Variables()
	if vars.Count() != 3 {
		t.Fatalf("expected 3 variables, got %v", vars.Current())
	}
	want := map[string]felt.Felt{"x": 77, "y": 9, "l": 77}
	for _, snap := range vars.Current() {
		v, ok := e.VariableValue(snap)
		if !ok || v != want[snap.Info.Name] {
			t.Errorf("%s: got %d %v, want %d", snap.Info.Name, v, ok, want[snap.Info.Name])
		}
	}
}
