// Package observer defines the external sink the presenter reports to:
// telemetry snapshots, lifecycle events, and opaque Control/Stats
// pass-through payloads (spec.md §4.7, §4.8). The core accepts an
// injected Sink rather than assuming a global subscriber, the same
// discipline the teacher applies to its slog logger.
package observer

import (
	"github.com/thundermirror/receiver/internal/telemetry"
	"github.com/thundermirror/receiver/internal/wire"
)

// EventKind labels a lifecycle transition reported to the Sink.
type EventKind int

const (
	EventListening EventKind = iota
	EventConnected
	EventDisconnected
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventListening:
		return "listening"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a single lifecycle transition, with Detail carrying the
// remote address (EventConnected) or error message (EventError).
type Event struct {
	Kind   EventKind
	Detail string
}

// PassthroughFrame is a passed-through Control or Stats frame payload
// (spec.md §4.3: "Control, Stats ... the core passes these through to an
// observer sink and does not mutate the framebuffer"). Decoded is set
// when TypeName is "control" and the payload happened to match the
// opportunistic encoding in wire.DecodeControlMessage; it is nil for
// Stats or unrecognized Control payloads, which are still forwarded via
// Payload unchanged.
type PassthroughFrame struct {
	TypeName string
	Payload  []byte
	Decoded  *wire.ControlMessage
}

// Sink receives everything the core reports to the outside world: it does
// not influence core behavior, matching spec.md's "the aggregator exposes
// a snapshot to external observers; it does not itself render."
type Sink interface {
	OnTelemetry(telemetry.Snapshot)
	OnLifecycle(Event)
	OnPassthrough(PassthroughFrame)
}

// NopSink discards everything; it is the default when no sink is wired,
// so the core never needs a nil check on its observer.
type NopSink struct{}

func (NopSink) OnTelemetry(telemetry.Snapshot) {}
func (NopSink) OnLifecycle(Event)              {}
func (NopSink) OnPassthrough(PassthroughFrame) {}

var _ Sink = NopSink{}
