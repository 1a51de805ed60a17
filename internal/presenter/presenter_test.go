package presenter

import (
	"testing"
	"time"

	"github.com/thundermirror/receiver/internal/colorconvert"
	"github.com/thundermirror/receiver/internal/framequeue"
	"github.com/thundermirror/receiver/internal/observer"
	"github.com/thundermirror/receiver/internal/wire"
)

type fakeSurface struct {
	calls         int
	lastW, lastH  int
	lastPixelsLen int
}

func (f *fakeSurface) Present(w, h int, pixels []uint32) {
	f.calls++
	f.lastW, f.lastH = w, h
	f.lastPixelsLen = len(pixels)
}

func rawFrame(seq uint64, w, h uint16) *wire.Frame {
	payload := make([]byte, int(w)*int(h)*4)
	for i := range payload {
		payload[i] = 0x20
	}
	return &wire.Frame{
		Header:  wire.Header{Type: wire.FrameRaw, Sequence: seq, Width: w, Height: h, PayloadSize: uint32(len(payload))},
		Payload: payload,
	}
}

func TestPresenterTransitionsWaitingToStreaming(t *testing.T) {
	q := framequeue.New(4, nil)
	start := time.Unix(0, 0)
	p := New(q, &fakeSurface{}, nil, observer.NopSink{}, 0, start)
	if p.State() != StateWaiting {
		t.Fatalf("initial state = %v, want Waiting", p.State())
	}
	ok, _ := q.Enqueue(rawFrame(1, 4, 4))
	if !ok {
		t.Fatalf("enqueue failed")
	}
	p.Tick(start)
	if p.State() != StateStreaming {
		t.Fatalf("state after frame = %v, want Streaming", p.State())
	}
}

func TestPresenterFallsBackToWaitingAfterIdle(t *testing.T) {
	q := framequeue.New(4, nil)
	start := time.Unix(0, 0)
	surf := &fakeSurface{}
	p := New(q, surf, nil, observer.NopSink{}, 0, start)
	q.Enqueue(rawFrame(1, 2, 2))
	p.Tick(start)
	if p.State() != StateStreaming {
		t.Fatalf("expected Streaming")
	}
	p.Tick(start.Add(IdleTimeout + time.Second))
	if p.State() != StateWaiting {
		t.Fatalf("expected fallback to Waiting after idle timeout, got %v", p.State())
	}
}

func TestPresenterStopIsTerminal(t *testing.T) {
	q := framequeue.New(4, nil)
	start := time.Unix(0, 0)
	p := New(q, &fakeSurface{}, nil, observer.NopSink{}, 0, start)
	p.Stop()
	if cont := p.Tick(start); cont {
		t.Fatalf("Tick should report false once stopped")
	}
}

type captureSink struct {
	observer.NopSink
	got []observer.PassthroughFrame
}

func (s *captureSink) OnPassthrough(pt observer.PassthroughFrame) { s.got = append(s.got, pt) }

func TestPresenterDecodesRecognizedControlPassthrough(t *testing.T) {
	q := framequeue.New(4, nil)
	start := time.Unix(0, 0)
	sink := &captureSink{}
	p := New(q, &fakeSurface{}, nil, sink, 0, start)

	payload := []byte{byte(wire.ControlStop)}
	fr := &wire.Frame{
		Header:  wire.Header{Type: wire.FrameControl, Sequence: 1, PayloadSize: uint32(len(payload))},
		Payload: payload,
	}
	q.Enqueue(fr)
	p.Tick(start)

	if len(sink.got) != 1 {
		t.Fatalf("got %d passthrough frames, want 1", len(sink.got))
	}
	pt := sink.got[0]
	if pt.TypeName != "control" {
		t.Fatalf("TypeName = %q, want control", pt.TypeName)
	}
	if pt.Decoded == nil || pt.Decoded.Kind != wire.ControlStop {
		t.Fatalf("Decoded = %+v, want ControlStop", pt.Decoded)
	}
}

func TestPresenterForwardsUnrecognizedControlWithoutDecoded(t *testing.T) {
	q := framequeue.New(4, nil)
	start := time.Unix(0, 0)
	sink := &captureSink{}
	p := New(q, &fakeSurface{}, nil, sink, 0, start)

	payload := []byte{0xFF}
	fr := &wire.Frame{
		Header:  wire.Header{Type: wire.FrameControl, Sequence: 1, PayloadSize: uint32(len(payload))},
		Payload: payload,
	}
	q.Enqueue(fr)
	p.Tick(start)

	if len(sink.got) != 1 {
		t.Fatalf("got %d passthrough frames, want 1", len(sink.got))
	}
	if sink.got[0].Decoded != nil {
		t.Fatalf("Decoded = %+v, want nil for unrecognized payload", sink.got[0].Decoded)
	}
	if string(sink.got[0].Payload) != string(payload) {
		t.Fatalf("payload not forwarded unchanged")
	}
}

// fakeDecoder drives dispatchH264 without a real libavcodec context: each
// call returns the next queued (picture, error) pair in order.
type fakeDecoder struct {
	results []struct {
		pic *colorconvert.Picture
		err error
	}
	calls int
}

func (f *fakeDecoder) push(pic *colorconvert.Picture, err error) {
	f.results = append(f.results, struct {
		pic *colorconvert.Picture
		err error
	}{pic, err})
}

func (f *fakeDecoder) Decode([]byte) (*colorconvert.Picture, error) {
	r := f.results[f.calls]
	f.calls++
	return r.pic, r.err
}

func solidPicture(w, h int) *colorconvert.Picture {
	ySize := w * h
	uvSize := (w / 2) * (h / 2)
	y := make([]byte, ySize)
	u := make([]byte, uvSize)
	v := make([]byte, uvSize)
	return &colorconvert.Picture{
		Width: w, Height: h,
		Y: colorconvert.Plane{Data: y, Stride: w},
		U: colorconvert.Plane{Data: u, Stride: w / 2},
		V: colorconvert.Plane{Data: v, Stride: w / 2},
	}
}

// h264Frame builds an H264 frame with a zero-dimension header, the
// way real H.264 access units arrive: resolution is only known once the
// decoder produces a picture, not from the frame header.
func h264Frame(seq uint64, payload []byte) *wire.Frame {
	return &wire.Frame{
		Header:  wire.Header{Type: wire.FrameH264, Sequence: seq, PayloadSize: uint32(len(payload))},
		Payload: payload,
	}
}

// TestPresenterResizesFramebufferOnH264ResolutionIncrease covers spec.md
// §8 invariant 6 (framebuffer length matches width*height after resize)
// for a growth in decoded picture dimensions.
func TestPresenterResizesFramebufferOnH264ResolutionIncrease(t *testing.T) {
	q := framequeue.New(4, nil)
	dec := &fakeDecoder{}
	dec.push(solidPicture(4, 4), nil)
	dec.push(solidPicture(8, 8), nil)
	p := New(q, &fakeSurface{}, dec, observer.NopSink{}, 0, time.Unix(0, 0))

	q.Enqueue(h264Frame(1, []byte{0x01}))
	p.Tick(time.Unix(0, 0))
	if p.fb.Width() != 4 || p.fb.Height() != 4 {
		t.Fatalf("dims after first decode = %dx%d, want 4x4", p.fb.Width(), p.fb.Height())
	}

	q.Enqueue(h264Frame(2, []byte{0x01}))
	p.Tick(time.Unix(0, 0))
	if p.fb.Width() != 8 || p.fb.Height() != 8 {
		t.Fatalf("dims after growth = %dx%d, want 8x8", p.fb.Width(), p.fb.Height())
	}
	if len(p.fb.Pixels()) != 64 {
		t.Fatalf("framebuffer length = %d, want 64 (width*height)", len(p.fb.Pixels()))
	}
}

// TestPresenterResizesFramebufferOnH264ResolutionDecrease is scenario S6:
// a resolution decrease (e.g. 1920x1080 -> 1280x720, modeled here at
// smaller scale) must shrink the framebuffer, not just grow it, or
// colorconvert.Convert writes a smaller picture into a stale larger
// buffer and Present reads a corrupted/skewed frame.
func TestPresenterResizesFramebufferOnH264ResolutionDecrease(t *testing.T) {
	q := framequeue.New(4, nil)
	dec := &fakeDecoder{}
	dec.push(solidPicture(8, 8), nil)
	dec.push(solidPicture(4, 4), nil)
	surf := &fakeSurface{}
	p := New(q, surf, dec, observer.NopSink{}, 0, time.Unix(0, 0))

	q.Enqueue(h264Frame(1, []byte{0x01}))
	p.Tick(time.Unix(0, 0))
	if p.fb.Width() != 8 || p.fb.Height() != 8 {
		t.Fatalf("dims after first decode = %dx%d, want 8x8", p.fb.Width(), p.fb.Height())
	}

	q.Enqueue(h264Frame(2, []byte{0x01}))
	p.Tick(time.Unix(0, 0))
	if p.fb.Width() != 4 || p.fb.Height() != 4 {
		t.Fatalf("dims after shrink = %dx%d, want 4x4", p.fb.Width(), p.fb.Height())
	}
	if len(p.fb.Pixels()) != 16 {
		t.Fatalf("framebuffer length = %d, want 16 (width*height) after shrink, buffer left stale", len(p.fb.Pixels()))
	}
	if surf.lastW != 4 || surf.lastH != 4 {
		t.Fatalf("Present dims = %dx%d, want 4x4 after shrink", surf.lastW, surf.lastH)
	}
}

// TestPresenterDecodeStillBufferingDoesNotResize exercises the nil,nil
// "still buffering" path of the §4.5 decode contract: no picture yet
// means no resize and no telemetry.
func TestPresenterDecodeStillBufferingDoesNotResize(t *testing.T) {
	q := framequeue.New(4, nil)
	dec := &fakeDecoder{}
	dec.push(nil, nil)
	p := New(q, &fakeSurface{}, dec, observer.NopSink{}, 0, time.Unix(0, 0))

	q.Enqueue(h264Frame(1, []byte{0x01}))
	p.Tick(time.Unix(0, 0))
	if p.fb.Width() != 0 || p.fb.Height() != 0 {
		t.Fatalf("dims = %dx%d, want 0x0 while still buffering", p.fb.Width(), p.fb.Height())
	}
}

// TestPresenterNilDecoderSkipsH264Dispatch guards the typed-nil-interface
// trap: a genuinely absent decoder (nil interface) must not panic when an
// H.264 frame arrives.
func TestPresenterNilDecoderSkipsH264Dispatch(t *testing.T) {
	q := framequeue.New(4, nil)
	p := New(q, &fakeSurface{}, nil, observer.NopSink{}, 0, time.Unix(0, 0))
	q.Enqueue(h264Frame(1, []byte{0x01}))
	p.Tick(time.Unix(0, 0))
	if p.fb.Width() != 0 || p.fb.Height() != 0 {
		t.Fatalf("dims = %dx%d, want 0x0 with no decoder", p.fb.Width(), p.fb.Height())
	}
}

func TestPresenterResizesOnDimensionChange(t *testing.T) {
	q := framequeue.New(4, nil)
	start := time.Unix(0, 0)
	surf := &fakeSurface{}
	p := New(q, surf, nil, observer.NopSink{}, 0, start)
	q.Enqueue(rawFrame(1, 4, 4))
	p.Tick(start)
	if surf.lastW != 4 || surf.lastH != 4 {
		t.Fatalf("dims = %dx%d, want 4x4", surf.lastW, surf.lastH)
	}
	q.Enqueue(rawFrame(2, 8, 8))
	p.Tick(start)
	if surf.lastW != 8 || surf.lastH != 8 {
		t.Fatalf("dims after resize = %dx%d, want 8x8", surf.lastW, surf.lastH)
	}
}
