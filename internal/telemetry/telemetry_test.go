package telemetry

import (
	"testing"
	"time"
)

func TestWindowEmitWaitsOneSecond(t *testing.T) {
	start := time.Unix(0, 0)
	w := NewWindow(start)
	w.Observe(1000, true, 1920, 1080)
	if _, ok := w.Emit(start.Add(500 * time.Millisecond)); ok {
		t.Fatalf("expected no emission before 1s elapsed")
	}
	snap, ok := w.Emit(start.Add(time.Second))
	if !ok {
		t.Fatalf("expected emission at 1s")
	}
	if snap.DominantCodec != CodecH264 {
		t.Fatalf("dominant codec = %v, want h264", snap.DominantCodec)
	}
	if snap.H264Count != 1 {
		t.Fatalf("h264 count = %d, want 1", snap.H264Count)
	}
	if snap.Width != 1920 || snap.Height != 1080 {
		t.Fatalf("dims = %dx%d, want 1920x1080", snap.Width, snap.Height)
	}
}

func TestWindowResetsAfterEmit(t *testing.T) {
	start := time.Unix(0, 0)
	w := NewWindow(start)
	w.Observe(500, false, 640, 480)
	snap, ok := w.Emit(start.Add(time.Second))
	if !ok || snap.RawCount != 1 {
		t.Fatalf("first emit: snap=%+v ok=%v", snap, ok)
	}
	// No observations in the next window: should report zero, not leak prior counts.
	snap2, ok := w.Emit(start.Add(2 * time.Second))
	if !ok {
		t.Fatalf("expected second emission")
	}
	if snap2.RawCount != 0 || snap2.H264Count != 0 {
		t.Fatalf("window did not reset: %+v", snap2)
	}
}

func TestDominantCodecTieGoesToRaw(t *testing.T) {
	if dominant(0, 0) != CodecRaw {
		t.Fatalf("0/0 tie should resolve to raw per spec")
	}
	if dominant(5, 5) != CodecRaw {
		t.Fatalf("equal counts should resolve to raw per spec")
	}
	if dominant(6, 5) != CodecH264 {
		t.Fatalf("h264 majority should resolve to h264")
	}
}

func TestObserveDrop(t *testing.T) {
	start := time.Unix(0, 0)
	w := NewWindow(start)
	w.ObserveDrop()
	w.ObserveDrop()
	snap, ok := w.Emit(start.Add(time.Second))
	if !ok {
		t.Fatalf("expected emission")
	}
	if snap.DroppedCount != 2 {
		t.Fatalf("dropped count = %d, want 2", snap.DroppedCount)
	}
}
