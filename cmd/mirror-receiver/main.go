package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/thundermirror/receiver/internal/framequeue"
	"github.com/thundermirror/receiver/internal/observer"
	"github.com/thundermirror/receiver/internal/presenter"
	"github.com/thundermirror/receiver/internal/telemetry"
	"github.com/thundermirror/receiver/internal/transport"
	"github.com/thundermirror/receiver/internal/videodecode"
	"github.com/thundermirror/receiver/internal/wire"
)

// Helper implementations moved to dedicated files: version.go, config.go, logger.go.

// Exit codes per the receiver's failure taxonomy.
const (
	exitOK      = 0
	exitListen  = 1
	exitTLS     = 2
	exitRuntime = 3
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("mirror-receiver %s (commit %s, built %s)\n", version, commit, date)
		return exitOK
	}
	if cfg == nil {
		return exitRuntime
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sink := observer.NopSink{}
	queue := framequeue.New(cfg.queueCapacity, func(fr *wire.Frame) {
		telemetry.DroppedFramesTotal.Inc()
		l.Debug("frame_dropped_queue_full", "sequence", fr.Header.Sequence)
	})

	// dec is left at its nil interface zero value when construction fails;
	// assigning a nil *videodecode.Decoder into it here would instead
	// produce a non-nil interface wrapping a nil pointer, defeating the
	// decoder == nil check in the presenter's H.264 dispatch path.
	var dec presenter.Decoder
	if vd, err := videodecode.New(); err != nil {
		l.Warn("h264_decoder_unavailable", "error", err)
	} else {
		dec = vd
		defer vd.Close()
	}

	srv := transport.NewServer(queue,
		transport.WithListenAddr(cfg.listenAddr),
		transport.WithLogger(l),
	)

	go func() {
		if err := srv.Serve(ctx); err != nil {
			l.Error("transport_server_error", "error", err)
			cancel()
		}
	}()

	present := presenter.New(queue, logSurface{l}, dec, sink, cfg.idleTimeout, time.Now())

	if cfg.metricsAddr != "" {
		httpSrv := telemetry.StartHTTP(cfg.metricsAddr)
		telemetry.SetReadinessFunc(func() bool {
			select {
			case <-srv.Ready():
			default:
				return false
			}
			return ctx.Err() == nil
		})
		defer func() { _ = httpSrv.Shutdown(context.Background()) }()
	}

	select {
	case <-srv.Ready():
		l.Info("ready", "addr", srv.Addr())
	case <-ctx.Done():
		switch {
		case errors.Is(srv.LastError(), transport.ErrTLS):
			return exitTLS
		case errors.Is(srv.LastError(), transport.ErrListen):
			return exitListen
		default:
			return exitRuntime
		}
	}

	go presenterLoop(ctx, present)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sigCh:
		l.Info("shutdown_signal", "signal", s.String())
	case <-ctx.Done():
		l.Error("transport_failed", "error", srv.LastError())
	}

	cancel()
	present.Stop()
	queue.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error("shutdown_error", "error", err)
		return exitRuntime
	}
	return exitOK
}

// presenterLoop runs the presenter at approximately the display refresh
// rate (60 Hz) until Tick reports the presenter has stopped.
func presenterLoop(ctx context.Context, p *presenter.Presenter) {
	ticker := time.NewTicker(time.Second / 60)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.Stop()
			return
		case now := <-ticker.C:
			if !p.Tick(now) {
				return
			}
		}
	}
}

// logSurface is the default presentation surface for the headless
// receiver binary: the actual display window is an external collaborator
// (spec.md §6), out of the core's scope, so this just observes dimension
// changes at debug level.
type logSurface struct {
	logger *slog.Logger
}

func (s logSurface) Present(width, height int, pixels []uint32) {
	s.logger.Debug("present", "width", width, "height", height, "pixels", len(pixels))
}
