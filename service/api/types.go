package api

// DebuggerState represents the current context of the debugger.
type DebuggerState struct {
	// Cycle is the cycle of the last retired step.
	Cycle uint64 `json:"cycle"`
	// StopReason describes why the program is suspended.
	StopReason string `json:"stopReason"`
	// Breakpoints holds the breakpoints hit by the last command.
	Breakpoints []*Breakpoint `json:"breakpoints,omitempty"`
	// CurrentFrame is the innermost frame of the call stack.
	CurrentFrame *Stackframe `json:"currentFrame,omitempty"`
	// Op is the operation retired by the last step, empty before the
	// first one.
	Op string `json:"op,omitempty"`
	// Context is the memory context the program is executing in.
	Context uint32 `json:"context"`
	// Stack is the operand stack, top first.
	Stack []string `json:"stack"`
	// NextInProgress is true if a next or finish command was interrupted.
	NextInProgress bool `json:"nextInProgress"`
	// Exited indicates whether the program has terminated.
	Exited bool `json:"exited"`
	// Outputs holds the stack outputs of a program that terminated
	// successfully.
	Outputs []string `json:"outputs,omitempty"`

	// Err is the error the program failed with.
	Err error `json:"-"`
}

// Breakpoint is a condition under which program execution is suspended.
type Breakpoint struct {
	// ID is a unique identifier for the breakpoint.
	ID int `json:"id"`
	// Kind is one of "at", "after", "in", "location", "next" and "finish".
	Kind string `json:"kind"`
	// Cycles is the target cycle of "at" breakpoints or the cycle count of
	// "after" breakpoints.
	Cycles uint64 `json:"cycles,omitempty"`
	// Procedure is the procedure of "in" breakpoints.
	Procedure string `json:"procedure,omitempty"`
	// File is the source file for the breakpoint.
	File string `json:"file,omitempty"`
	// Line is a line in File for the breakpoint, 0 for every line.
	Line int `json:"line,omitempty"`
	// CreationCycle is the cycle the breakpoint was created at.
	CreationCycle uint64 `json:"creationCycle"`
	// Spec is the breakpoint written in the form accepted by the break
	// command.
	Spec string `json:"spec"`
}

// Location is a position in a source file.
type Location struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Col  int    `json:"col"`
}

// Stackframe describes a frame of the reconstructed call stack.
type Stackframe struct {
	// Procedure is the fully qualified procedure name.
	Procedure string `json:"procedure"`
	// Location is the last source location executed in the frame, nil if
	// the frame did not execute any instruction with location information.
	Location *Location `json:"location,omitempty"`
	// Depth is the position of the frame in the call stack, 0 for the
	// program body.
	Depth int `json:"depth"`
	// StartCycle is the cycle at which the frame was entered.
	StartCycle uint64 `json:"startCycle"`
}

// Operation is an operation retired by the program.
type Operation struct {
	Cycle    uint64    `json:"cycle"`
	Op       string    `json:"op"`
	Asm      string    `json:"asm,omitempty"`
	Location *Location `json:"location,omitempty"`
}

// Variable describes a source level variable.
type Variable struct {
	Name string `json:"name"`
	// Location is where the variable lives: stack[i], mem[addr],
	// const(value), local[fmp+offset] or expr(...).
	Location string `json:"location"`
	// Value is the decimal value of the variable, empty if it could not be
	// resolved.
	Value string `json:"value"`
	// Cycle is the cycle at which the variable was last observed.
	Cycle uint64 `json:"cycle"`
	// Unreadable is set when the value could not be resolved.
	Unreadable string `json:"unreadable,omitempty"`
}

// DebuggerCommand is a command which changes the debugger's execution state.
type DebuggerCommand struct {
	// Name is the command to run.
	Name string `json:"name"`
	// Count is the number of cycles stepped by the Step command.
	Count int `json:"count,omitempty"`
}

const (
	// Continue resumes program execution.
	Continue = "continue"
	// Step executes a number of cycles, ignoring breakpoints.
	Step = "step"
	// Next continues to the next instruction boundary.
	Next = "next"
	// StepOut continues until the current procedure returns.
	StepOut = "stepOut"
	// Halt suspends the program.
	Halt = "halt"
)
