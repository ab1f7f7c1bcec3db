package vm

import "github.com/feltdbg/feltdbg/pkg/felt"

// Trace ids emitted by the processor when entering and leaving a procedure.
const (
	TraceFrameStart uint32 = 240
	TraceFrameEnd   uint32 = 252
)

// ProcessState is the view of the processor handed to host callbacks.
// Clk is the cycle being executed.
type ProcessState interface {
	Clk() uint64
	Ctx() ContextID
	FMP() uint64
	Stack() []felt.Felt
	ReadElement(addr uint32) felt.Felt
}

// EventResult is the completion of an emitted event. Advice values are
// pushed onto the advice stack, the first value is popped first.
type EventResult struct {
	Advice []felt.Felt
	Err    error
}

// Host receives callbacks from the processor.
type Host interface {
	// OnTrace is called for trace ids emitted by the processor.
	OnTrace(state ProcessState, id uint32) error
	// OnAssertFailed is called before a failing assertion is reported.
	OnAssertFailed(state ProcessState, code felt.Felt)
	// OnEvent handles an emit instruction. The result is delivered
	// asynchronously on the returned channel.
	OnEvent(state ProcessState, id uint32) <-chan EventResult
}

// AwaitFunc waits for an event completion.
type AwaitFunc func(<-chan EventResult) (EventResult, error)

// BlockingAwait waits until the completion is delivered.
func BlockingAwait(ch <-chan EventResult) (EventResult, error) {
	return <-ch, nil
}

// DefaultHost ignores trace events, and answers every event with no advice.
type DefaultHost struct{}

func (DefaultHost) OnTrace(ProcessState, uint32) error { return nil }

func (DefaultHost) OnAssertFailed(ProcessState, felt.Felt) {}

func (DefaultHost) OnEvent(ProcessState, uint32) <-chan EventResult {
	ch := make(chan EventResult, 1)
	ch <- EventResult{}
	return ch
}
