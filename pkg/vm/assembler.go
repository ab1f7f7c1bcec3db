package vm

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/feltdbg/feltdbg/pkg/felt"
)

// MainContextName is the procedure name reported for the program body.
const MainContextName = "$main"

// AsmError is a syntax or semantic error found while assembling a module.
type AsmError struct {
	Loc Location
	Msg string
}

func (err *AsmError) Error() string {
	return fmt.Sprintf("%s: %s", err.Loc, err.Msg)
}

// SourceFile is one module handed to the assembler.
type SourceFile struct {
	Path   string
	Source string
}

// ModuleName returns the default module name for a source path: its base
// name without extension.
func ModuleName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Assemble assembles an executable module. The module must contain a
// begin ... end block.
func Assemble(path, src string) (*Program, error) {
	module := ModuleName(path)
	p := newParser(module, path, src)
	procs, entry, err := p.parseModule()
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, &AsmError{Loc: Location{File: path, Line: 1, Col: 1}, Msg: "executable module has no begin block"}
	}
	return &Program{
		Module:     module,
		Entry:      entry,
		Procedures: procs,
		Sources:    map[string]string{path: src},
	}, nil
}

// AssembleLibrary assembles files into a library named name. Every file
// shares the library namespace, procedures are addressed as name::proc.
func AssembleLibrary(name string, files []SourceFile) (*Library, error) {
	lib := &Library{Name: name, Procedures: map[string]*Procedure{}, Sources: map[string]string{}}
	for _, f := range files {
		p := newParser(name, f.Path, f.Source)
		procs, entry, err := p.parseModule()
		if err != nil {
			return nil, err
		}
		if entry != nil {
			return nil, &AsmError{Loc: Location{File: f.Path, Line: 1, Col: 1}, Msg: "library module may not contain a begin block"}
		}
		for qname, proc := range procs {
			if _, dup := lib.Procedures[qname]; dup {
				return nil, &AsmError{Loc: *proc.Location, Msg: fmt.Sprintf("procedure %s redefined", qname)}
			}
			lib.Procedures[qname] = proc
		}
		lib.Sources[f.Path] = f.Source
	}
	return lib, nil
}

type token struct {
	text string
	line uint32
	col  uint32
}

func tokenize(src string) []token {
	var toks []token
	for i, line := range strings.Split(src, "\n") {
		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
		}
		col := 0
		for col < len(line) {
			for col < len(line) && isSpace(line[col]) {
				col++
			}
			start := col
			for col < len(line) && !isSpace(line[col]) {
				col++
			}
			if start < col {
				toks = append(toks, token{text: line[start:col], line: uint32(i + 1), col: uint32(start + 1)})
			}
		}
	}
	return toks
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r'
}

type parser struct {
	module  string
	file    string
	toks    []token
	pos     int
	context string
	locals  map[string]bool
	nlocals uint16
}

func newParser(module, file, src string) *parser {
	return &parser{module: module, file: file, toks: tokenize(src), locals: map[string]bool{}}
}

func (p *parser) errorf(tok token, format string, args ...interface{}) error {
	return &AsmError{Loc: p.loc(tok), Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) loc(tok token) Location {
	return Location{File: p.file, Line: tok.line, Col: tok.col}
}

func (p *parser) eof() bool {
	return p.pos >= len(p.toks)
}

func (p *parser) next() token {
	t := p.toks[p.pos]
	p.pos++
	return t
}

func (p *parser) lastLoc() Location {
	if len(p.toks) == 0 {
		return Location{File: p.file, Line: 1, Col: 1}
	}
	return p.loc(p.toks[len(p.toks)-1])
}

// procHeader splits proc.name[.locals] and export.name[.locals].
func procHeader(text string) (name string, locals string, exported bool, ok bool) {
	var rest string
	switch {
	case strings.HasPrefix(text, "proc."):
		rest = text[len("proc."):]
	case strings.HasPrefix(text, "export."):
		rest = text[len("export."):]
		exported = true
	default:
		return "", "", false, false
	}
	if dot := strings.IndexByte(rest, '.'); dot >= 0 {
		return rest[:dot], rest[dot+1:], exported, true
	}
	return rest, "", exported, true
}

func (p *parser) parseModule() (map[string]*Procedure, Node, error) {
	for _, t := range p.toks {
		if name, _, _, ok := procHeader(t.text); ok {
			p.locals[name] = true
		}
	}

	procs := map[string]*Procedure{}
	var entry Node
	for !p.eof() {
		tok := p.next()
		if strings.HasPrefix(tok.text, "use.") {
			continue
		}
		if tok.text == "begin" {
			if entry != nil {
				return nil, nil, p.errorf(tok, "duplicate begin block")
			}
			p.context = MainContextName
			p.nlocals = 0
			body, term, err := p.parseBody("end")
			if err != nil {
				return nil, nil, err
			}
			if term != "end" {
				return nil, nil, p.errorf(tok, "begin block is not terminated")
			}
			entry = body
			continue
		}
		name, locals, exported, ok := procHeader(tok.text)
		if !ok {
			return nil, nil, p.errorf(tok, "unexpected token %q", tok.text)
		}
		if name == "" || strings.Contains(name, "::") {
			return nil, nil, p.errorf(tok, "invalid procedure name %q", name)
		}
		proc := &Procedure{Name: p.module + "::" + name, Exported: exported}
		loc := p.loc(tok)
		proc.Location = &loc
		if locals != "" {
			n, err := strconv.ParseUint(locals, 10, 16)
			if err != nil {
				return nil, nil, p.errorf(tok, "invalid number of locals %q", locals)
			}
			proc.NumLocals = uint16(n)
		}
		if _, dup := procs[proc.Name]; dup {
			return nil, nil, p.errorf(tok, "procedure %s redefined", proc.Name)
		}
		p.context = proc.Name
		p.nlocals = proc.NumLocals
		body, term, err := p.parseBody("end")
		if err != nil {
			return nil, nil, err
		}
		if term != "end" {
			return nil, nil, p.errorf(tok, "procedure %s is not terminated", name)
		}
		proc.Body = body
		procs[proc.Name] = proc
	}
	return procs, entry, nil
}

// parseBody parses instructions up to one of the terminators and returns
// the terminator that ended the body.
func (p *parser) parseBody(terminators ...string) (Node, string, error) {
	var items []Node
	var cur *Block
	var pending []DebugVarInfo
	var pendingTok token

	flush := func() error {
		if len(pending) > 0 {
			if cur == nil || len(cur.Ops) == 0 {
				return p.errorf(pendingTok, "debug variable %s is not followed by an instruction", pending[0].Name)
			}
			last := len(cur.Ops) - 1
			cur.Vars[last] = append(cur.Vars[last], pending...)
			pending = nil
		}
		if cur != nil && len(cur.Ops) > 0 {
			items = append(items, cur)
		}
		cur = nil
		return nil
	}

	for !p.eof() {
		tok := p.next()
		for _, term := range terminators {
			if tok.text == term {
				if err := flush(); err != nil {
					return nil, "", err
				}
				return joinNodes(items), term, nil
			}
		}

		switch {
		case tok.text == "if.true":
			if err := flush(); err != nil {
				return nil, "", err
			}
			split := &Split{AsmOp: p.asmop(tok, 1, 0)}
			then, term, err := p.parseBody("else", "end")
			if err != nil {
				return nil, "", err
			}
			split.Then = then
			split.Else = &Block{}
			if term == "else" {
				els, term, err := p.parseBody("end")
				if err != nil {
					return nil, "", err
				}
				if term != "end" {
					return nil, "", p.errorf(tok, "if.true is not terminated")
				}
				split.Else = els
			} else if term != "end" {
				return nil, "", p.errorf(tok, "if.true is not terminated")
			}
			items = append(items, split)

		case tok.text == "while.true":
			if err := flush(); err != nil {
				return nil, "", err
			}
			body, term, err := p.parseBody("end")
			if err != nil {
				return nil, "", err
			}
			if term != "end" {
				return nil, "", p.errorf(tok, "while.true is not terminated")
			}
			items = append(items, &Loop{AsmOp: p.asmop(tok, 1, 0), Body: body})

		case strings.HasPrefix(tok.text, "repeat."):
			n, err := strconv.ParseUint(tok.text[len("repeat."):], 10, 16)
			if err != nil || n == 0 {
				return nil, "", p.errorf(tok, "invalid repeat count in %q", tok.text)
			}
			if err := flush(); err != nil {
				return nil, "", err
			}
			body, term, err := p.parseBody("end")
			if err != nil {
				return nil, "", err
			}
			if term != "end" {
				return nil, "", p.errorf(tok, "repeat is not terminated")
			}
			for i := uint64(0); i < n; i++ {
				items = append(items, body)
			}

		case strings.HasPrefix(tok.text, "exec."), strings.HasPrefix(tok.text, "call."):
			if err := flush(); err != nil {
				return nil, "", err
			}
			dot := strings.IndexByte(tok.text, '.')
			target := tok.text[dot+1:]
			if target == "" {
				return nil, "", p.errorf(tok, "missing procedure name")
			}
			if !strings.Contains(target, "::") {
				if !p.locals[target] {
					return nil, "", p.errorf(tok, "undefined procedure %q", target)
				}
				target = p.module + "::" + target
			}
			items = append(items, &Call{
				AsmOp:      p.asmop(tok, 1, 0),
				Callee:     target,
				NewContext: tok.text[:dot] == "call",
			})

		case strings.HasPrefix(tok.text, "var."):
			info, err := parseDebugVar(tok.text[len("var."):])
			if err != nil {
				return nil, "", p.errorf(tok, "%v", err)
			}
			if len(pending) == 0 {
				pendingTok = tok
			}
			pending = append(pending, info)

		default:
			ops, err := p.expand(tok)
			if err != nil {
				return nil, "", err
			}
			if cur == nil {
				cur = &Block{Vars: map[int][]DebugVarInfo{}}
			}
			for i, op := range ops {
				cur.Ops = append(cur.Ops, op)
				cur.AsmOps = append(cur.AsmOps, p.asmop(tok, len(ops), i))
			}
			if len(pending) > 0 {
				last := len(cur.Ops) - 1
				cur.Vars[last] = append(cur.Vars[last], pending...)
				pending = nil
			}
		}
	}
	if err := flush(); err != nil {
		return nil, "", err
	}
	return joinNodes(items), "", &AsmError{Loc: p.lastLoc(), Msg: fmt.Sprintf("unexpected end of file, expected %s", strings.Join(terminators, " or "))}
}

func joinNodes(items []Node) Node {
	switch len(items) {
	case 0:
		return &Block{}
	case 1:
		return items[0]
	}
	return &Join{Children: items}
}

func (p *parser) asmop(tok token, numCycles, idx int) *AssemblyOp {
	loc := p.loc(tok)
	return &AssemblyOp{
		ContextName: p.context,
		Op:          tok.text,
		Location:    &loc,
		NumCycles:   uint8(numCycles),
		CycleIdx:    uint8(idx),
	}
}

func (p *parser) stackIndex(tok token, arg string, min, max uint64) (uint32, error) {
	n, err := strconv.ParseUint(arg, 10, 8)
	if err != nil || n < min || n > max {
		return 0, p.errorf(tok, "invalid stack index in %q: must be between %d and %d", tok.text, min, max)
	}
	return uint32(n), nil
}

// binaryOp expands name and name.imm forms.
func (p *parser) binaryOp(tok token, code Opcode, args []string) ([]Operation, error) {
	switch len(args) {
	case 0:
		return []Operation{{Code: code}}, nil
	case 1:
		v, err := felt.Parse(args[0])
		if err != nil {
			return nil, p.errorf(tok, "%v", err)
		}
		return []Operation{{Code: OpPush, Imm: v}, {Code: code}}, nil
	}
	return nil, p.errorf(tok, "too many arguments to %s", tok.text)
}

func (p *parser) addrOp(tok token, code Opcode, args []string) ([]Operation, error) {
	switch len(args) {
	case 0:
		return []Operation{{Code: code}}, nil
	case 1:
		n, err := strconv.ParseUint(args[0], 0, 32)
		if err != nil {
			return nil, p.errorf(tok, "invalid memory address in %q", tok.text)
		}
		return []Operation{{Code: OpPush, Imm: felt.Felt(n)}, {Code: code}}, nil
	}
	return nil, p.errorf(tok, "too many arguments to %s", tok.text)
}

func (p *parser) errCode(tok token, args []string) (felt.Felt, error) {
	if len(args) == 0 {
		return 0, nil
	}
	if len(args) == 1 && strings.HasPrefix(args[0], "err=") {
		v, err := felt.Parse(args[0][len("err="):])
		if err != nil {
			return 0, p.errorf(tok, "%v", err)
		}
		return v, nil
	}
	return 0, p.errorf(tok, "invalid assertion arguments in %q", tok.text)
}

func (p *parser) expand(tok token) ([]Operation, error) {
	parts := strings.Split(tok.text, ".")
	name, args := parts[0], parts[1:]

	noArgs := func(code ...Opcode) ([]Operation, error) {
		if len(args) != 0 {
			return nil, p.errorf(tok, "%s takes no arguments", name)
		}
		ops := make([]Operation, len(code))
		for i := range code {
			ops[i] = Operation{Code: code[i]}
		}
		return ops, nil
	}

	switch name {
	case "nop":
		return noArgs(OpNoop)
	case "push":
		if len(args) == 0 || len(args) > 16 {
			return nil, p.errorf(tok, "push expects between 1 and 16 values")
		}
		ops := make([]Operation, 0, len(args))
		for _, a := range args {
			v, err := felt.Parse(a)
			if err != nil {
				return nil, p.errorf(tok, "%v", err)
			}
			ops = append(ops, Operation{Code: OpPush, Imm: v})
		}
		return ops, nil
	case "drop":
		return noArgs(OpDrop)
	case "dup":
		if len(args) == 0 {
			return []Operation{{Code: OpDup}}, nil
		}
		n, err := p.stackIndex(tok, args[0], 0, 15)
		if err != nil {
			return nil, err
		}
		return []Operation{{Code: OpDup, Arg: n}}, nil
	case "swap":
		if len(args) == 0 {
			return []Operation{{Code: OpSwap, Arg: 1}}, nil
		}
		n, err := p.stackIndex(tok, args[0], 1, 15)
		if err != nil {
			return nil, err
		}
		return []Operation{{Code: OpSwap, Arg: n}}, nil
	case "movup", "movdn":
		if len(args) != 1 {
			return nil, p.errorf(tok, "%s expects a stack index", name)
		}
		n, err := p.stackIndex(tok, args[0], 2, 15)
		if err != nil {
			return nil, err
		}
		code := OpMovUp
		if name == "movdn" {
			code = OpMovDn
		}
		return []Operation{{Code: code, Arg: n}}, nil
	case "add":
		return p.binaryOp(tok, OpAdd, args)
	case "sub":
		return p.binaryOp(tok, OpSub, args)
	case "mul":
		return p.binaryOp(tok, OpMul, args)
	case "div":
		ops, err := p.binaryOp(tok, OpInv, args)
		if err != nil {
			return nil, err
		}
		return append(ops, Operation{Code: OpMul}), nil
	case "eq":
		return p.binaryOp(tok, OpEq, args)
	case "neq":
		ops, err := p.binaryOp(tok, OpEq, args)
		if err != nil {
			return nil, err
		}
		return append(ops, Operation{Code: OpNot}), nil
	case "neg":
		return noArgs(OpNeg)
	case "inv":
		return noArgs(OpInv)
	case "incr":
		return noArgs(OpIncr)
	case "not":
		return noArgs(OpNot)
	case "and":
		return noArgs(OpAnd)
	case "or":
		return noArgs(OpOr)
	case "assert", "assertz", "assert_eq":
		code, err := p.errCode(tok, args)
		if err != nil {
			return nil, err
		}
		switch name {
		case "assert":
			return []Operation{{Code: OpAssert, Imm: code}}, nil
		case "assertz":
			return []Operation{{Code: OpAssertz, Imm: code}}, nil
		}
		return []Operation{{Code: OpEq}, {Code: OpAssert, Imm: code}}, nil
	case "mem_load":
		return p.addrOp(tok, OpMLoad, args)
	case "mem_store":
		return p.addrOp(tok, OpMStore, args)
	case "mem_loadw":
		return p.addrOp(tok, OpMLoadW, args)
	case "mem_storew":
		return p.addrOp(tok, OpMStoreW, args)
	case "loc_load", "loc_store":
		if len(args) != 1 {
			return nil, p.errorf(tok, "%s expects a local index", name)
		}
		n, err := strconv.ParseUint(args[0], 10, 16)
		if err != nil || n >= uint64(p.nlocals) {
			return nil, p.errorf(tok, "invalid local index in %q: procedure has %d locals", tok.text, p.nlocals)
		}
		code := OpLocLoad
		if name == "loc_store" {
			code = OpLocStore
		}
		return []Operation{{Code: code, Arg: uint32(n)}}, nil
	case "adv_push":
		if len(args) != 1 {
			return nil, p.errorf(tok, "adv_push expects a count")
		}
		n, err := strconv.ParseUint(args[0], 10, 8)
		if err != nil || n == 0 || n > 16 {
			return nil, p.errorf(tok, "invalid count in %q: must be between 1 and 16", tok.text)
		}
		ops := make([]Operation, n)
		for i := range ops {
			ops[i] = Operation{Code: OpAdvPop}
		}
		return ops, nil
	case "emit":
		if len(args) != 1 {
			return nil, p.errorf(tok, "emit expects an event id")
		}
		v, err := strconv.ParseUint(args[0], 0, 32)
		if err != nil {
			return nil, p.errorf(tok, "invalid event id in %q", tok.text)
		}
		return []Operation{{Code: OpEmit, Imm: felt.Felt(v)}}, nil
	}
	return nil, p.errorf(tok, "unknown instruction %q", tok.text)
}
