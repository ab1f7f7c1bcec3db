package proc

import (
	"github.com/sirupsen/logrus"

	"github.com/feltdbg/feltdbg/pkg/felt"
	"github.com/feltdbg/feltdbg/pkg/logflags"
	"github.com/feltdbg/feltdbg/pkg/vm"
)

// EventHandler services an emit instruction. Returned values are pushed
// onto the advice stack.
type EventHandler func(state vm.ProcessState) ([]felt.Felt, error)

// DebuggerHost is the vm.Host used while debugging: it forwards frame and
// assertion markers to an EventBus and answers emitted events with the
// registered handlers.
type DebuggerHost struct {
	bus      *EventBus
	handlers map[uint32]EventHandler
	log      *logrus.Entry
}

// NewDebuggerHost returns a host appending to bus.
func NewDebuggerHost(bus *EventBus) *DebuggerHost {
	return &DebuggerHost{
		bus:      bus,
		handlers: map[uint32]EventHandler{},
		log:      logflags.ExecutorLogger(),
	}
}

// RegisterEventHandler installs fn as the handler of event id.
func (h *DebuggerHost) RegisterEventHandler(id uint32, fn EventHandler) {
	h.handlers[id] = fn
}

// OnTrace implements vm.Host.
func (h *DebuggerHost) OnTrace(state vm.ProcessState, id uint32) error {
	ev, ok := traceEventForID(id)
	if !ok {
		h.log.Debugf("ignoring unknown trace id %d at cycle %d", id, state.Clk())
		return nil
	}
	return h.bus.Append(state.Clk(), ev)
}

// OnAssertFailed implements vm.Host. Error codes wider than 32 bits are
// truncated.
func (h *DebuggerHost) OnAssertFailed(state vm.ProcessState, code felt.Felt) {
	if err := h.bus.Append(state.Clk(), TraceEvent{Kind: AssertionFailed, Code: code.Lo32()}); err != nil {
		h.log.Errorf("could not record assertion failure: %v", err)
	}
}

// OnEvent implements vm.Host. The handler runs synchronously so the
// returned completion is always ready.
func (h *DebuggerHost) OnEvent(state vm.ProcessState, id uint32) <-chan vm.EventResult {
	ch := make(chan vm.EventResult, 1)
	fn, ok := h.handlers[id]
	if !ok {
		h.log.Debugf("no handler for event %d at cycle %d", id, state.Clk())
		ch <- vm.EventResult{}
		return ch
	}
	advice, err := fn(state)
	ch <- vm.EventResult{Advice: advice, Err: err}
	return ch
}

// pollImmediately resolves a completion without waiting: the stepping
// model requires every host completion to be ready when it is returned.
func pollImmediately(ch <-chan vm.EventResult) (vm.EventResult, error) {
	select {
	case res := <-ch:
		return res, nil
	default:
		return vm.EventResult{}, errCompletionNotReady
	}
}
