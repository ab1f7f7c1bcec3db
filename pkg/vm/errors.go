package vm

import (
	"errors"
	"fmt"

	"github.com/feltdbg/feltdbg/pkg/felt"
)

var (
	// ErrStackUnderflow is returned when an operation needs more operands
	// than the stack holds.
	ErrStackUnderflow = errors.New("operand stack underflow")
	// ErrDivideByZero is returned when inverting zero.
	ErrDivideByZero = errors.New("division by zero")
	// ErrAdviceExhausted is returned when popping from an empty advice stack.
	ErrAdviceExhausted = errors.New("advice stack is empty")
)

// ErrFailedAssertion is returned by assert instructions whose condition
// does not hold.
type ErrFailedAssertion struct {
	Clk  uint64
	Code felt.Felt
}

func (err *ErrFailedAssertion) Error() string {
	if err.Code != 0 {
		return fmt.Sprintf("assertion failed at clock cycle %d with error code %d", err.Clk, err.Code)
	}
	return fmt.Sprintf("assertion failed at clock cycle %d", err.Clk)
}

// ErrNotBinary is returned when an operation requiring 0 or 1 gets
// anything else.
type ErrNotBinary struct {
	Op    Opcode
	Value felt.Felt
}

func (err *ErrNotBinary) Error() string {
	return fmt.Sprintf("%s: expected a binary value, got %d", err.Op, err.Value)
}

// ErrNotU32 is returned when a memory address does not fit in 32 bits.
type ErrNotU32 struct {
	Value felt.Felt
}

func (err *ErrNotU32) Error() string {
	return fmt.Sprintf("memory address %d is not a valid u32 value", err.Value)
}

// ErrUnalignedWord is returned by word accesses at addresses that are not
// a multiple of 4.
type ErrUnalignedWord struct {
	Addr uint32
}

func (err *ErrUnalignedWord) Error() string {
	return fmt.Sprintf("word access at address %d is not aligned to a word boundary", err.Addr)
}

// ErrUnknownProcedure is returned when calling a procedure that is neither
// defined by the program nor by a linked library.
type ErrUnknownProcedure struct {
	Name string
}

func (err *ErrUnknownProcedure) Error() string {
	return fmt.Sprintf("procedure %s is not defined in the program or any linked library", err.Name)
}

// ErrCycleLimit is returned when a program runs longer than
// ExecutionOptions.MaxCycles.
type ErrCycleLimit struct {
	Max uint64
}

func (err *ErrCycleLimit) Error() string {
	return fmt.Sprintf("execution exceeded the maximum of %d cycles", err.Max)
}

// ErrEventHandler wraps an error reported by the host for an emitted event.
type ErrEventHandler struct {
	ID  uint32
	Err error
}

func (err *ErrEventHandler) Error() string {
	return fmt.Sprintf("handler for event %d failed: %v", err.ID, err.Err)
}

func (err *ErrEventHandler) Unwrap() error {
	return err.Err
}
