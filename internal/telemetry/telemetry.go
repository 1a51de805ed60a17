// Package telemetry aggregates per-connection throughput and liveness
// counters into rolling 1-second windows, mirrors them into Prometheus for
// ops visibility, and exposes a plain Snapshot for the presentation
// surface (title, UI badges).
package telemetry

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/thundermirror/receiver/internal/logging"
)

// Prometheus counters/gauges, mirrored for ops dashboards alongside the
// plain Snapshot used by the presentation surface.
var (
	FramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "frames_total",
		Help: "Total frames observed by the presenter, across all types.",
	})
	BytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bytes_total",
		Help: "Total payload bytes observed by the presenter.",
	})
	H264FramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "h264_frames_total",
		Help: "Total H.264 access units successfully decoded.",
	})
	RawFramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "raw_frames_total",
		Help: "Total raw RGBA frames applied to the framebuffer.",
	})
	DroppedFramesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dropped_frames_total",
		Help: "Total frames dropped because the frame queue was full.",
	})
	DecodeErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "decode_errors_total",
		Help: "Total H.264 decode errors (frame dropped, decoder state kept).",
	})
	ResolutionChangesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "resolution_changes_total",
		Help: "Total framebuffer resizes triggered by a dimension change.",
	})
	ConnectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "connections_total",
		Help: "Total accepted transport connections.",
	})
	CurrentWidth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "current_width",
		Help: "Current framebuffer width in pixels.",
	})
	CurrentHeight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "current_height",
		Help: "Current framebuffer height in pixels.",
	})

	readinessMu sync.RWMutex
	readinessFn func() bool
)

// StartHTTP serves Prometheus metrics at /metrics and liveness at /ready.
func StartHTTP(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logging.L().Info("telemetry_http_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("telemetry_http_error", "error", err)
		}
	}()
	return srv
}

// SetReadinessFunc registers a function used by /ready and IsReady.
func SetReadinessFunc(fn func() bool) { readinessMu.Lock(); readinessFn = fn; readinessMu.Unlock() }

// IsReady invokes the registered readiness function if present.
func IsReady() bool {
	readinessMu.RLock()
	fn := readinessFn
	readinessMu.RUnlock()
	if fn == nil {
		return true
	}
	return fn()
}

// Codec labels the dominant codec observed in a Window.
type Codec string

const (
	CodecH264 Codec = "h264"
	CodecRaw  Codec = "raw"
)

// Snapshot is the per-second telemetry report handed to the observer sink.
type Snapshot struct {
	FPS           float64
	Mbps          float64
	DominantCodec Codec
	H264Count     uint64
	RawCount      uint64
	DroppedCount  uint64
	Width         int
	Height        int
}

// Window accumulates counters for the current second and resets on Emit.
// It is owned exclusively by the presenter goroutine; no synchronization
// is needed because nothing else touches it.
type Window struct {
	lastEmit   time.Time
	frameCount uint64
	totalBytes uint64
	h264Frames uint64
	rawFrames  uint64
	dropped    uint64
	width      int
	height     int
}

// NewWindow creates a Window starting its first rolling period now.
func NewWindow(now time.Time) *Window {
	return &Window{lastEmit: now}
}

// Observe records one presented frame's contribution to the current window.
func (w *Window) Observe(payloadBytes int, isH264 bool, width, height int) {
	w.frameCount++
	w.totalBytes += uint64(payloadBytes)
	if isH264 {
		w.h264Frames++
	} else {
		w.rawFrames++
	}
	if width > 0 && height > 0 {
		w.width, w.height = width, height
	}
}

// ObserveDrop records a frame dropped by the frame queue.
func (w *Window) ObserveDrop() {
	w.dropped++
	DroppedFramesTotal.Inc()
}

// Emit returns a Snapshot and resets the window if at least one second has
// elapsed since the last emission; the boolean reports whether it emitted.
func (w *Window) Emit(now time.Time) (Snapshot, bool) {
	elapsed := now.Sub(w.lastEmit)
	if elapsed < time.Second {
		return Snapshot{}, false
	}
	secs := elapsed.Seconds()
	snap := Snapshot{
		FPS:           float64(w.frameCount) / secs,
		Mbps:          float64(w.totalBytes) * 8 / 1_000_000 / secs,
		DominantCodec: dominant(w.h264Frames, w.rawFrames),
		H264Count:     w.h264Frames,
		RawCount:      w.rawFrames,
		DroppedCount:  w.dropped,
		Width:         w.width,
		Height:        w.height,
	}

	FramesTotal.Add(float64(w.frameCount))
	BytesTotal.Add(float64(w.totalBytes))
	H264FramesTotal.Add(float64(w.h264Frames))
	RawFramesTotal.Add(float64(w.rawFrames))
	if w.width > 0 && w.height > 0 {
		CurrentWidth.Set(float64(w.width))
		CurrentHeight.Set(float64(w.height))
	}

	w.frameCount, w.totalBytes, w.h264Frames, w.rawFrames, w.dropped = 0, 0, 0, 0, 0
	w.lastEmit = now
	return snap, true
}

// dominant implements spec's literal rule: h264 if h264_frames > raw_frames
// else raw (including the 0/0 tie, which reports raw).
func dominant(h264, raw uint64) Codec {
	if h264 > raw {
		return CodecH264
	}
	return CodecRaw
}
