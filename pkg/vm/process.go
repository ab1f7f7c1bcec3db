package vm

import (
	"github.com/feltdbg/feltdbg/pkg/felt"
)

// FMPMin is the initial value of the frame pointer in every context.
const FMPMin uint64 = 1 << 30

// ExecutionOptions tunes a Process.
type ExecutionOptions struct {
	// MaxCycles stops execution with ErrCycleLimit once reached. Zero
	// means unlimited.
	MaxCycles uint64
	// Await resolves event completions, BlockingAwait when nil.
	Await AwaitFunc
}

// Step describes one retired cycle.
type Step struct {
	Clk   uint64
	Op    Operation
	AsmOp *AssemblyOp
	Vars  []DebugVarInfo
}

type contKind uint8

const (
	contStart contKind = iota
	contBlock
	contEnter
	contEndCall
	contLoopCheck
	contEnd
)

type continuation struct {
	kind contKind
	node Node
	idx  int
}

type frameRecord struct {
	ctx    ContextID
	fmp    uint64
	locals uint16
}

// Process executes a Program one cycle at a time using an explicit
// continuation stack.
type Process struct {
	opts    ExecutionOptions
	program *Program
	stack   []felt.Felt // bottom first
	advice  []felt.Felt // next value to pop first
	mem     *Memory
	ctx     ContextID
	fmp     uint64
	clk     uint64
	conts   []continuation
	frames  []frameRecord
	halted  bool
	err     error
}

// NewProcess prepares prog for execution. Stack inputs are pushed in order,
// so the last one ends up on top of the stack.
func NewProcess(prog *Program, stackInputs, adviceInputs []felt.Felt, opts ExecutionOptions) *Process {
	if opts.Await == nil {
		opts.Await = BlockingAwait
	}
	p := &Process{
		opts:    opts,
		program: prog,
		stack:   append([]felt.Felt(nil), stackInputs...),
		advice:  append([]felt.Felt(nil), adviceInputs...),
		mem:     NewMemory(),
		ctx:     RootContext,
		fmp:     FMPMin,
	}
	if prog.Entry != nil {
		p.conts = append(p.conts, continuation{kind: contStart, node: prog.Entry})
	}
	return p
}

// Clk returns the number of cycles retired so far.
func (p *Process) Clk() uint64 { return p.clk }

// Ctx returns the current memory context.
func (p *Process) Ctx() ContextID { return p.ctx }

// FMP returns the current frame pointer.
func (p *Process) FMP() uint64 { return p.fmp }

// Memory returns the memory of the process. Callers must not write to it.
func (p *Process) Memory() *Memory { return p.mem }

// Halted reports whether the process terminated, successfully or not.
func (p *Process) Halted() bool { return p.halted }

// Err returns the error the process failed with, if any.
func (p *Process) Err() error { return p.err }

// StackState returns a copy of the operand stack, top first.
func (p *Process) StackState() []felt.Felt {
	r := make([]felt.Felt, len(p.stack))
	for i := range p.stack {
		r[i] = p.stack[len(p.stack)-1-i]
	}
	return r
}

// AdviceLen returns the number of values left on the advice stack.
func (p *Process) AdviceLen() int { return len(p.advice) }

// Step retires one cycle. It returns a nil Step once the program has
// finished, and keeps doing so on later calls. After an error the process
// is halted.
func (p *Process) Step(host Host) (*Step, error) {
	if p.halted {
		return nil, nil
	}
	for {
		if len(p.conts) == 0 {
			p.halted = true
			return nil, nil
		}
		c := p.conts[len(p.conts)-1]
		p.conts = p.conts[:len(p.conts)-1]

		if c.kind == contStart {
			switch n := c.node.(type) {
			case *Join:
				for i := len(n.Children) - 1; i >= 0; i-- {
					p.pushCont(contStart, n.Children[i], 0)
				}
				continue
			case *Block:
				if len(n.Ops) > 0 {
					p.pushCont(contBlock, n, 0)
				}
				continue
			}
		}

		if p.opts.MaxCycles > 0 && p.clk >= p.opts.MaxCycles {
			return nil, p.fail(&ErrCycleLimit{Max: p.opts.MaxCycles})
		}

		var step *Step
		var err error
		switch c.kind {
		case contStart:
			switch n := c.node.(type) {
			case *Split:
				step, err = p.execSplit(n)
			case *Loop:
				step, err = p.execLoop(n)
			case *Call:
				step, err = p.execCall(n)
			}
		case contBlock:
			step, err = p.execBlockOp(host, c.node.(*Block), c.idx)
		case contEnter:
			step, err = p.enterProc(host, c.node.(*Call))
		case contEndCall:
			step, err = p.leaveProc(host)
		case contLoopCheck:
			step, err = p.loopCheck(c.node.(*Loop))
		case contEnd:
			step = &Step{Op: Operation{Code: OpEnd}}
		}
		if err != nil {
			return nil, p.fail(err)
		}
		p.clk++
		step.Clk = p.clk
		return step, nil
	}
}

func (p *Process) fail(err error) error {
	p.halted = true
	p.err = err
	return err
}

func (p *Process) pushCont(kind contKind, node Node, idx int) {
	p.conts = append(p.conts, continuation{kind: kind, node: node, idx: idx})
}

func (p *Process) state() ProcessState {
	return processState{p: p, clk: p.clk + 1}
}

func (p *Process) popCondition(code Opcode) (bool, error) {
	if len(p.stack) < 1 {
		return false, ErrStackUnderflow
	}
	v := p.stack[len(p.stack)-1]
	if !v.IsBinary() {
		return false, &ErrNotBinary{Op: code, Value: v}
	}
	p.stack = p.stack[:len(p.stack)-1]
	return v == felt.One, nil
}

func (p *Process) execSplit(n *Split) (*Step, error) {
	cond, err := p.popCondition(OpSplit)
	if err != nil {
		return nil, err
	}
	p.pushCont(contEnd, nil, 0)
	if cond {
		p.pushCont(contStart, n.Then, 0)
	} else {
		p.pushCont(contStart, n.Else, 0)
	}
	return &Step{Op: Operation{Code: OpSplit}, AsmOp: n.AsmOp}, nil
}

func (p *Process) execLoop(n *Loop) (*Step, error) {
	cond, err := p.popCondition(OpLoop)
	if err != nil {
		return nil, err
	}
	p.pushCont(contEnd, nil, 0)
	if cond {
		p.pushCont(contLoopCheck, n, 0)
		p.pushCont(contStart, n.Body, 0)
	}
	return &Step{Op: Operation{Code: OpLoop}, AsmOp: n.AsmOp}, nil
}

func (p *Process) loopCheck(n *Loop) (*Step, error) {
	cond, err := p.popCondition(OpRepeat)
	if err != nil {
		return nil, err
	}
	if cond {
		p.pushCont(contLoopCheck, n, 0)
		p.pushCont(contStart, n.Body, 0)
	}
	return &Step{Op: Operation{Code: OpRepeat}}, nil
}

func (p *Process) execCall(n *Call) (*Step, error) {
	if _, ok := p.program.Procedures[n.Callee]; !ok {
		return nil, &ErrUnknownProcedure{Name: n.Callee}
	}
	p.pushCont(contEnter, n, 0)
	code := OpExec
	if n.NewContext {
		code = OpCall
	}
	return &Step{Op: Operation{Code: code}, AsmOp: n.AsmOp}, nil
}

func (p *Process) enterProc(host Host, n *Call) (*Step, error) {
	proc := p.program.Procedures[n.Callee]
	p.frames = append(p.frames, frameRecord{ctx: p.ctx, fmp: p.fmp, locals: proc.NumLocals})
	if n.NewContext {
		p.ctx = ContextID(p.clk + 1)
		p.fmp = FMPMin
	}
	p.fmp += uint64(proc.NumLocals)
	if err := host.OnTrace(p.state(), TraceFrameStart); err != nil {
		return nil, err
	}
	p.pushCont(contEndCall, nil, 0)
	p.pushCont(contStart, proc.Body, 0)
	return &Step{Op: Operation{Code: OpSpan}}, nil
}

func (p *Process) leaveProc(host Host) (*Step, error) {
	if err := host.OnTrace(p.state(), TraceFrameEnd); err != nil {
		return nil, err
	}
	rec := p.frames[len(p.frames)-1]
	p.frames = p.frames[:len(p.frames)-1]
	p.ctx = rec.ctx
	p.fmp = rec.fmp
	return &Step{Op: Operation{Code: OpEnd}}, nil
}

func (p *Process) execBlockOp(host Host, b *Block, idx int) (*Step, error) {
	op := b.Ops[idx]
	if err := p.execOp(host, op); err != nil {
		return nil, err
	}
	if idx+1 < len(b.Ops) {
		p.pushCont(contBlock, b, idx+1)
	}
	return &Step{Op: op, AsmOp: b.AsmOps[idx], Vars: b.Vars[idx]}, nil
}

func (p *Process) require(n int) error {
	if len(p.stack) < n {
		return ErrStackUnderflow
	}
	return nil
}

// top returns the element at depth i, 0 being the top of the stack.
func (p *Process) top(i int) felt.Felt {
	return p.stack[len(p.stack)-1-i]
}

func (p *Process) setTop(i int, v felt.Felt) {
	p.stack[len(p.stack)-1-i] = v
}

func (p *Process) drop(n int) {
	p.stack = p.stack[:len(p.stack)-n]
}

func (p *Process) push(v felt.Felt) {
	p.stack = append(p.stack, v)
}

func toAddr(v felt.Felt) (uint32, error) {
	if !v.IsU32() {
		return 0, &ErrNotU32{Value: v}
	}
	return uint32(v), nil
}

func (p *Process) execOp(host Host, op Operation) error {
	next := p.clk + 1
	switch op.Code {
	case OpNoop:
	case OpPush:
		p.push(op.Imm)
	case OpDrop:
		if err := p.require(1); err != nil {
			return err
		}
		p.drop(1)
	case OpDup:
		if err := p.require(int(op.Arg) + 1); err != nil {
			return err
		}
		p.push(p.top(int(op.Arg)))
	case OpSwap:
		n := int(op.Arg)
		if err := p.require(n + 1); err != nil {
			return err
		}
		a, b := p.top(0), p.top(n)
		p.setTop(0, b)
		p.setTop(n, a)
	case OpMovUp:
		n := int(op.Arg)
		if err := p.require(n + 1); err != nil {
			return err
		}
		v := p.top(n)
		for i := n; i > 0; i-- {
			p.setTop(i, p.top(i-1))
		}
		p.setTop(0, v)
	case OpMovDn:
		n := int(op.Arg)
		if err := p.require(n + 1); err != nil {
			return err
		}
		v := p.top(0)
		for i := 0; i < n; i++ {
			p.setTop(i, p.top(i+1))
		}
		p.setTop(n, v)
	case OpAdd, OpSub, OpMul, OpEq, OpAnd, OpOr:
		if err := p.require(2); err != nil {
			return err
		}
		b, a := p.top(0), p.top(1)
		var r felt.Felt
		switch op.Code {
		case OpAdd:
			r = a.Add(b)
		case OpSub:
			r = a.Sub(b)
		case OpMul:
			r = a.Mul(b)
		case OpEq:
			if a == b {
				r = felt.One
			}
		case OpAnd, OpOr:
			if !a.IsBinary() {
				return &ErrNotBinary{Op: op.Code, Value: a}
			}
			if !b.IsBinary() {
				return &ErrNotBinary{Op: op.Code, Value: b}
			}
			if op.Code == OpAnd {
				r = a & b
			} else {
				r = a | b
			}
		}
		p.drop(1)
		p.setTop(0, r)
	case OpNeg, OpInv, OpIncr, OpNot:
		if err := p.require(1); err != nil {
			return err
		}
		a := p.top(0)
		switch op.Code {
		case OpNeg:
			a = a.Neg()
		case OpInv:
			inv, ok := a.Inv()
			if !ok {
				return ErrDivideByZero
			}
			a = inv
		case OpIncr:
			a = a.Add(felt.One)
		case OpNot:
			if !a.IsBinary() {
				return &ErrNotBinary{Op: op.Code, Value: a}
			}
			a = felt.One.Sub(a)
		}
		p.setTop(0, a)
	case OpAssert, OpAssertz:
		if err := p.require(1); err != nil {
			return err
		}
		want := felt.One
		if op.Code == OpAssertz {
			want = felt.Zero
		}
		if p.top(0) != want {
			host.OnAssertFailed(p.state(), op.Imm)
			return &ErrFailedAssertion{Clk: next, Code: op.Imm}
		}
		p.drop(1)
	case OpMLoad:
		if err := p.require(1); err != nil {
			return err
		}
		addr, err := toAddr(p.top(0))
		if err != nil {
			return err
		}
		p.setTop(0, p.mem.ReadElement(p.ctx, addr, p.clk))
	case OpMStore:
		if err := p.require(2); err != nil {
			return err
		}
		addr, err := toAddr(p.top(0))
		if err != nil {
			return err
		}
		p.mem.Write(p.ctx, addr, next, p.top(1))
		p.drop(2)
	case OpMLoadW:
		if err := p.require(5); err != nil {
			return err
		}
		addr, err := toAddr(p.top(0))
		if err != nil {
			return err
		}
		w, err := p.mem.ReadWord(p.ctx, addr, p.clk)
		if err != nil {
			return err
		}
		p.drop(1)
		for i := range w {
			p.setTop(i, w[i])
		}
	case OpMStoreW:
		if err := p.require(5); err != nil {
			return err
		}
		addr, err := toAddr(p.top(0))
		if err != nil {
			return err
		}
		w := felt.Word{p.top(1), p.top(2), p.top(3), p.top(4)}
		if err := p.mem.WriteWord(p.ctx, addr, next, w); err != nil {
			return err
		}
		p.drop(1)
	case OpLocLoad, OpLocStore:
		addr := p.localAddr(op.Arg)
		if op.Code == OpLocLoad {
			p.push(p.mem.ReadElement(p.ctx, addr, p.clk))
			break
		}
		if err := p.require(1); err != nil {
			return err
		}
		p.mem.Write(p.ctx, addr, next, p.top(0))
		p.drop(1)
	case OpAdvPop:
		if len(p.advice) == 0 {
			return ErrAdviceExhausted
		}
		p.push(p.advice[0])
		p.advice = p.advice[1:]
	case OpEmit:
		id := uint32(op.Imm)
		res, err := p.opts.Await(host.OnEvent(p.state(), id))
		if err != nil {
			return err
		}
		if res.Err != nil {
			return &ErrEventHandler{ID: id, Err: res.Err}
		}
		if len(res.Advice) > 0 {
			p.advice = append(append([]felt.Felt(nil), res.Advice...), p.advice...)
		}
	}
	return nil
}

// localAddr returns the address of local i of the innermost procedure.
func (p *Process) localAddr(i uint32) uint32 {
	var n uint64
	if len(p.frames) > 0 {
		n = uint64(p.frames[len(p.frames)-1].locals)
	}
	return uint32(p.fmp - n + uint64(i))
}

type processState struct {
	p   *Process
	clk uint64
}

func (s processState) Clk() uint64        { return s.clk }
func (s processState) Ctx() ContextID     { return s.p.ctx }
func (s processState) FMP() uint64        { return s.p.fmp }
func (s processState) Stack() []felt.Felt { return s.p.StackState() }

func (s processState) ReadElement(addr uint32) felt.Felt {
	return s.p.mem.ReadElement(s.p.ctx, addr, s.p.clk)
}
