package vm

import (
	"fmt"
	"sort"
	"strings"
)

// Node is an element of a procedure body. The concrete types are *Block,
// *Join, *Split, *Loop and *Call.
type Node interface {
	node()
}

// Block is a straight-line sequence of operations.
type Block struct {
	Ops    []Operation
	AsmOps []*AssemblyOp
	// Vars maps an operation index to the debug variables observed when
	// that operation retires.
	Vars map[int][]DebugVarInfo
}

// Join executes its children in order.
type Join struct {
	Children []Node
}

// Split pops a binary condition and runs Then when it is 1, Else otherwise.
type Split struct {
	AsmOp *AssemblyOp
	Then  Node
	Else  Node
}

// Loop pops a binary condition and runs Body while it is 1. The condition is
// popped again after every iteration.
type Loop struct {
	AsmOp *AssemblyOp
	Body  Node
}

// Call transfers control to a procedure. When NewContext is set the callee
// runs in a fresh memory context.
type Call struct {
	AsmOp      *AssemblyOp
	Callee     string
	NewContext bool
}

func (*Block) node() {}
func (*Join) node()  {}
func (*Split) node() {}
func (*Loop) node()  {}
func (*Call) node()  {}

// Procedure is an assembled procedure.
type Procedure struct {
	Name      string // fully qualified, module::name
	NumLocals uint16
	Exported  bool
	Body      Node
	Location  *Location
}

// Program is an executable: an entry body plus every procedure it may call.
type Program struct {
	Module     string
	Entry      Node
	Procedures map[string]*Procedure
	// Sources holds the text of every module the program was assembled
	// from, keyed by file path.
	Sources map[string]string
}

// Library is a collection of procedures under a common namespace.
type Library struct {
	Name       string
	Procedures map[string]*Procedure
	Sources    map[string]string
}

// Exports returns the names of the exported procedures, sorted.
func (lib *Library) Exports() []string {
	r := []string{}
	for name, p := range lib.Procedures {
		if p.Exported {
			r = append(r, name)
		}
	}
	sort.Strings(r)
	return r
}

// MakeExecutable turns lib into a program whose body calls entry. entry
// may be given as module::proc or as the bare procedure name.
func (lib *Library) MakeExecutable(entry string) (*Program, error) {
	name := entry
	if !strings.Contains(name, "::") {
		name = lib.Name + "::" + name
	}
	p, ok := lib.Procedures[name]
	if !ok {
		return nil, fmt.Errorf("invalid entrypoint %q: no such procedure in library %s", entry, lib.Name)
	}
	if !p.Exported {
		return nil, fmt.Errorf("invalid entrypoint %q: procedure is not exported", entry)
	}
	prog := &Program{
		Module:     lib.Name,
		Procedures: make(map[string]*Procedure, len(lib.Procedures)),
		Sources:    make(map[string]string, len(lib.Sources)),
		Entry: &Call{
			AsmOp:  &AssemblyOp{ContextName: MainContextName, Op: "exec." + name, NumCycles: 1},
			Callee: name,
		},
	}
	for k, v := range lib.Procedures {
		prog.Procedures[k] = v
	}
	for k, v := range lib.Sources {
		prog.Sources[k] = v
	}
	return prog, nil
}

// Link adds the procedures of lib to the program. Procedures already
// defined by the program take precedence.
func (prog *Program) Link(lib *Library) {
	if prog.Procedures == nil {
		prog.Procedures = map[string]*Procedure{}
	}
	if prog.Sources == nil {
		prog.Sources = map[string]string{}
	}
	for name, p := range lib.Procedures {
		if _, exists := prog.Procedures[name]; !exists {
			prog.Procedures[name] = p
		}
	}
	for path, src := range lib.Sources {
		if _, exists := prog.Sources[path]; !exists {
			prog.Sources[path] = src
		}
	}
}

// Dependency is a named library a package needs at run time.
type Dependency struct {
	Name string `yaml:"name"`
}

// DependencyResolver maps dependency names to loaded libraries.
type DependencyResolver struct {
	libs map[string]*Library
}

// NewDependencyResolver returns an empty resolver.
func NewDependencyResolver() *DependencyResolver {
	return &DependencyResolver{libs: map[string]*Library{}}
}

// Register makes lib resolvable under its name.
func (r *DependencyResolver) Register(lib *Library) {
	r.libs[lib.Name] = lib
}

// Resolve returns the library registered for dep.
func (r *DependencyResolver) Resolve(dep Dependency) (*Library, bool) {
	lib, ok := r.libs[dep.Name]
	return lib, ok
}
