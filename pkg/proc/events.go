package proc

import (
	"fmt"

	"github.com/feltdbg/feltdbg/pkg/vm"
)

// TraceEventKind is the kind of a TraceEvent.
type TraceEventKind uint8

const (
	// FrameStart is reported when the VM enters a procedure.
	FrameStart TraceEventKind = iota
	// FrameEnd is reported when the VM leaves a procedure.
	FrameEnd
	// AssertionFailed is reported right before an assertion failure
	// aborts execution.
	AssertionFailed
)

func (k TraceEventKind) String() string {
	switch k {
	case FrameStart:
		return "FrameStart"
	case FrameEnd:
		return "FrameEnd"
	case AssertionFailed:
		return "AssertionFailed"
	}
	return fmt.Sprintf("TraceEventKind(%d)", uint8(k))
}

// TraceEvent is a host-reported marker. Code is the error code of a failed
// assertion, zero when the assertion had none.
type TraceEvent struct {
	Kind TraceEventKind
	Code uint32
}

func (ev TraceEvent) String() string {
	if ev.Kind == AssertionFailed && ev.Code != 0 {
		return fmt.Sprintf("AssertionFailed(%d)", ev.Code)
	}
	return ev.Kind.String()
}

// traceEventForID maps a VM trace id to the event it reports.
func traceEventForID(id uint32) (TraceEvent, bool) {
	switch id {
	case vm.TraceFrameStart:
		return TraceEvent{Kind: FrameStart}, true
	case vm.TraceFrameEnd:
		return TraceEvent{Kind: FrameEnd}, true
	}
	return TraceEvent{}, false
}

// EventRecord is a TraceEvent together with the cycle it fired at.
type EventRecord struct {
	Cycle uint64
	Event TraceEvent
}

// EventBus is an append-only, cycle indexed log of trace events. It is
// written by the DebuggerHost while a cycle executes and read by the
// CallStack once the cycle has retired.
type EventBus struct {
	log   []EventRecord
	index map[uint64][]int
}

// NewEventBus returns an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{index: map[uint64][]int{}}
}

// Append adds an event. Events must be appended in non-decreasing cycle
// order.
func (b *EventBus) Append(cycle uint64, ev TraceEvent) error {
	if n := len(b.log); n > 0 && b.log[n-1].Cycle > cycle {
		return fmt.Errorf("%w: %s at cycle %d arrived after an event at cycle %d", errEventOutOfOrder, ev, cycle, b.log[n-1].Cycle)
	}
	b.index[cycle] = append(b.index[cycle], len(b.log))
	b.log = append(b.log, EventRecord{Cycle: cycle, Event: ev})
	return nil
}

// At returns the events that fired at cycle, in the order they were
// appended.
func (b *EventBus) At(cycle uint64) []TraceEvent {
	idxs := b.index[cycle]
	if len(idxs) == 0 {
		return nil
	}
	r := make([]TraceEvent, len(idxs))
	for i, idx := range idxs {
		r[i] = b.log[idx].Event
	}
	return r
}

// All returns a copy of every recorded event.
func (b *EventBus) All() []EventRecord {
	r := make([]EventRecord, len(b.log))
	copy(r, b.log)
	return r
}

// Len returns the number of recorded events.
func (b *EventBus) Len() int {
	return len(b.log)
}
