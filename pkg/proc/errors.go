package proc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/feltdbg/feltdbg/pkg/felt"
)

var (
	// ErrUnalignedRead is returned by typed reads from an address that is
	// not aligned to an element boundary.
	ErrUnalignedRead = errors.New("unaligned reads are not supported yet")
	// ErrOutOfBounds is returned when a read would wrap around the end of
	// the address space.
	ErrOutOfBounds = errors.New("attempted to read beyond end of linear memory")
	// ErrBreakpointIDsExhausted is returned when every breakpoint id is in
	// use. The session can not recover from it.
	ErrBreakpointIDsExhausted = errors.New("unable to allocate a breakpoint id: too many breakpoints")

	errCompletionNotReady = errors.New("host completion was expected to be ready immediately")
	errEventOutOfOrder    = errors.New("trace event out of order")
)

// ExecutionError is a failure reported by the VM. Execution can not be
// resumed after it.
type ExecutionError struct {
	Cycle uint64
	Err   error
}

func (err *ExecutionError) Error() string {
	return fmt.Sprintf("execution failed at cycle %d: %v", err.Cycle, err.Err)
}

func (err *ExecutionError) Unwrap() error {
	return err.Err
}

// InternalError reports an inconsistency between the VM and the
// debugger's view of it, such as a frame end event with no open frame.
type InternalError struct {
	Cycle    uint64
	Frame    string
	Location string
	Stack    []felt.Felt
	Reason   string
}

func (err *InternalError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "internal error at cycle %d", err.Cycle)
	if err.Frame != "" {
		fmt.Fprintf(&buf, " in %s", err.Frame)
	}
	if err.Location != "" {
		fmt.Fprintf(&buf, " (%s)", err.Location)
	}
	fmt.Fprintf(&buf, ": %s", err.Reason)
	if err.Stack != nil {
		buf.WriteString("; operand stack: [")
		for i, v := range err.Stack {
			if i > 0 {
				buf.WriteString(", ")
			}
			buf.WriteString(v.String())
		}
		buf.WriteString("]")
	}
	return buf.String()
}

// ErrProgramTerminated is returned when trying to resume a program that
// already terminated.
type ErrProgramTerminated struct {
	Cycle uint64
	Err   error
}

func (pe ErrProgramTerminated) Error() string {
	if pe.Err != nil {
		return fmt.Sprintf("program has terminated with an error at cycle %d, cannot continue", pe.Cycle)
	}
	return fmt.Sprintf("program has terminated at cycle %d, cannot continue", pe.Cycle)
}

// NoBreakpointError is returned when trying to clear a breakpoint that
// does not exist.
type NoBreakpointError struct {
	ID uint8
}

func (nbp NoBreakpointError) Error() string {
	return fmt.Sprintf("no breakpoint with id %d", nbp.ID)
}

// IsFatal reports whether err leaves the session in a state that can not
// be trusted anymore.
func IsFatal(err error) bool {
	var ie *InternalError
	return errors.As(err, &ie) || errors.Is(err, ErrBreakpointIDsExhausted)
}
