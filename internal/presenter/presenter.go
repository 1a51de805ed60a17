// Package presenter runs the display loop (spec.md §4.7):
// drain ready frames, dispatch by type, present the framebuffer, and
// periodically emit telemetry. It is the single point that owns the
// decoder, the color converter, and the framebuffer — nothing else
// touches them concurrently.
package presenter

import (
	"log/slog"
	"time"

	"github.com/thundermirror/receiver/internal/colorconvert"
	"github.com/thundermirror/receiver/internal/framebuffer"
	"github.com/thundermirror/receiver/internal/framequeue"
	"github.com/thundermirror/receiver/internal/logging"
	"github.com/thundermirror/receiver/internal/observer"
	"github.com/thundermirror/receiver/internal/telemetry"
	"github.com/thundermirror/receiver/internal/wire"
)

// Surface is the presentation target (a window, a remote display sink).
// The core never renders directly; it only writes into the framebuffer
// and calls Present once per tick (spec.md §4.7 step 3: "external
// collaborator").
type Surface interface {
	Present(width, height int, pixels []uint32)
}

// State is the presenter's lifecycle state machine (spec.md §4.7).
type State int

const (
	StateWaiting State = iota
	StateStreaming
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateWaiting:
		return "waiting"
	case StateStreaming:
		return "streaming"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// IdleTimeout is how long the queue may go without a frame before the
// presenter falls back from Streaming to Waiting.
const IdleTimeout = 3 * time.Second

// Decoder is the §4.5 decode contract: nil,nil means still buffering
// (non-fatal), a non-nil error means the access unit was dropped. This
// seam lets tests drive dispatchH264 with a fake instead of a real
// libavcodec context; *videodecode.Decoder satisfies it unchanged.
//
// Callers that may have failed to construct a real decoder must leave
// their Decoder variable at its nil interface zero value rather than
// assigning a nil *videodecode.Decoder into it — wrapping a nil
// concrete pointer in a non-nil interface would defeat the p.decoder
// == nil check in dispatchH264 below.
type Decoder interface {
	Decode(accessUnit []byte) (*colorconvert.Picture, error)
}

// Presenter drains one frame queue, decodes/converts/presents, and rolls
// up telemetry. One Presenter serves every connection that feeds its queue.
type Presenter struct {
	queue   *framequeue.Queue
	surface Surface
	sink    observer.Sink
	decoder Decoder
	fb      *framebuffer.Buffer
	window  *telemetry.Window
	logger  *slog.Logger

	idleTimeout time.Duration
	state       State
	lastActive  time.Time
}

// New constructs a Presenter. decoder may be nil if the connection will
// never carry H.264 frames; sink defaults to observer.NopSink{} when nil.
// idleTimeout <= 0 falls back to IdleTimeout.
func New(queue *framequeue.Queue, surface Surface, dec Decoder, sink observer.Sink, idleTimeout time.Duration, now time.Time) *Presenter {
	if sink == nil {
		sink = observer.NopSink{}
	}
	if idleTimeout <= 0 {
		idleTimeout = IdleTimeout
	}
	return &Presenter{
		queue:       queue,
		surface:     surface,
		sink:        sink,
		decoder:     dec,
		fb:          framebuffer.New(),
		window:      telemetry.NewWindow(now),
		logger:      logging.L(),
		idleTimeout: idleTimeout,
		state:       StateWaiting,
		lastActive:  now,
	}
}

// State reports the presenter's current lifecycle state.
func (p *Presenter) State() State { return p.state }

// Stop transitions the presenter to its terminal state. Subsequent Tick
// calls are no-ops.
func (p *Presenter) Stop() { p.state = StateStopped }

// Tick runs one iteration of the presenter loop (spec.md §4.7 steps 1-5).
// It returns false once the presenter has reached StateStopped.
func (p *Presenter) Tick(now time.Time) bool {
	if p.state == StateStopped {
		return false
	}

	frames := p.queue.DrainAll()
	for _, fr := range frames {
		p.dispatch(fr)
		p.lastActive = now
		if p.state == StateWaiting {
			p.state = StateStreaming
			p.sink.OnLifecycle(observer.Event{Kind: observer.EventConnected})
		}
	}

	p.surface.Present(p.fb.Width(), p.fb.Height(), p.fb.Pixels())

	if snap, ok := p.window.Emit(now); ok {
		p.sink.OnTelemetry(snap)
	}

	if p.state == StateStreaming && now.Sub(p.lastActive) > p.idleTimeout {
		p.state = StateWaiting
		p.sink.OnLifecycle(observer.Event{Kind: observer.EventDisconnected})
	}

	return p.state != StateStopped
}

// dispatch resizes the framebuffer if needed and routes one frame to the
// decoder, the raw-copy path, or the observer pass-through.
func (p *Presenter) dispatch(fr *wire.Frame) {
	if fr.Header.Width != 0 && fr.Header.Height != 0 {
		if p.fb.Resize(int(fr.Header.Width), int(fr.Header.Height)) {
			telemetry.ResolutionChangesTotal.Inc()
		}
	}

	switch fr.Header.Type {
	case wire.FrameH264:
		p.dispatchH264(fr)
	case wire.FrameRaw:
		p.fb.SetRaw(int(fr.Header.Width), int(fr.Header.Height), fr.Payload)
		p.window.Observe(len(fr.Payload), false, p.fb.Width(), p.fb.Height())
	default:
		pt := observer.PassthroughFrame{
			TypeName: fr.Header.Type.String(),
			Payload:  fr.Payload,
		}
		if fr.Header.Type == wire.FrameControl {
			if msg, err := wire.DecodeControlMessage(fr.Payload); err == nil {
				pt.Decoded = &msg
			}
		}
		p.sink.OnPassthrough(pt)
	}
}

func (p *Presenter) dispatchH264(fr *wire.Frame) {
	if p.decoder == nil {
		return
	}
	pic, err := p.decoder.Decode(fr.Payload)
	if err != nil {
		telemetry.DecodeErrorsTotal.Inc()
		p.logger.Warn("decode_error", "sequence", fr.Header.Sequence, "error", err)
		return
	}
	if pic == nil {
		return // decoder still accumulating reference pictures
	}
	if pic.Width != p.fb.Width() || pic.Height != p.fb.Height() {
		if p.fb.Resize(pic.Width, pic.Height) {
			telemetry.ResolutionChangesTotal.Inc()
		}
	}
	colorconvert.Convert(*pic, p.fb.Pixels())
	p.window.Observe(len(fr.Payload), true, p.fb.Width(), p.fb.Height())
}
