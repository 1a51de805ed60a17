// Package transport is the secure datagram-multiplexing endpoint of
// spec.md §4.2/§4.3: it terminates TLS over QUIC with the "thunder-mirror"
// ALPN identifier, accepts one connection at a time per listener, and
// concurrently demultiplexes all three delivery modes of that connection
// (continuous reliable stream, one-shot reliable stream per frame, and
// unreliable datagrams) into a single bounded frame queue.
package transport

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/thundermirror/receiver/internal/framequeue"
	"github.com/thundermirror/receiver/internal/logging"
	"github.com/thundermirror/receiver/internal/reassembler"
	"github.com/thundermirror/receiver/internal/telemetry"
	"github.com/thundermirror/receiver/internal/wire"
)

// ALPN is the application-protocol identifier negotiated during the TLS
// handshake (spec.md §4.2, glossary "ALPN").
const ALPN = "thunder-mirror"

// Sentinel errors used for wrapping so callers can classify via errors.Is,
// matching the teacher's server/errors.go convention.
var (
	ErrListen   = errors.New("listen")
	ErrAccept   = errors.New("accept")
	ErrTLS      = errors.New("tls")
	ErrConnRead = errors.New("conn_read")
	ErrContext  = errors.New("context_cancelled")
)

// Server owns the QUIC listener and coordinates the single active
// connection's lifecycle.
type Server struct {
	mu       sync.RWMutex
	addr     string
	tlsConf  *tls.Config
	quicConf *quic.Config
	queue    *framequeue.Queue
	window   *telemetry.Window
	logger   *slog.Logger

	readyOnce sync.Once
	readyCh   chan struct{}
	errCh     chan error
	lastErrMu sync.Mutex
	lastErr   error

	listener *quic.Listener
	wg       sync.WaitGroup

	totalAccepted  atomic.Uint64
	totalConnected atomic.Uint64
	totalClosed    atomic.Uint64
}

// ServerOption configures a Server at construction time.
type ServerOption func(*Server)

// NewServer constructs a Server feeding queue, with sane defaults; apply
// opts to override listen address, TLS config, QUIC config, telemetry
// window, and logger.
// Default transport parameters per spec.md §4.3: receive window >= 16 MiB,
// per-stream receive window >= 8 MiB, keep-alive every 5s, idle timeout 60s.
// No datagram receive buffer size is configured.
const (
	defaultConnReceiveWindow   = 16 * 1024 * 1024
	defaultStreamReceiveWindow = 8 * 1024 * 1024
	defaultKeepAlivePeriod     = 5 * time.Second
	defaultIdleTimeout         = 60 * time.Second
)

func NewServer(queue *framequeue.Queue, opts ...ServerOption) *Server {
	s := &Server{
		addr:    ":9999",
		queue:   queue,
		readyCh: make(chan struct{}),
		errCh:   make(chan error, 1),
		logger:  logging.L(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.tlsConf == nil {
		conf, err := SelfSignedTLSConfig()
		if err == nil {
			s.tlsConf = conf
		}
	}
	if s.quicConf == nil {
		s.quicConf = &quic.Config{
			EnableDatagrams:               true,
			MaxConnectionReceiveWindow:    defaultConnReceiveWindow,
			MaxStreamReceiveWindow:        defaultStreamReceiveWindow,
			KeepAlivePeriod:               defaultKeepAlivePeriod,
			MaxIdleTimeout:                defaultIdleTimeout,
		}
	}
	return s
}

func WithListenAddr(a string) ServerOption { return func(s *Server) { s.addr = a } }
func WithTLSConfig(c *tls.Config) ServerOption {
	return func(s *Server) { s.tlsConf = c }
}
func WithQUICConfig(c *quic.Config) ServerOption { return func(s *Server) { s.quicConf = c } }
func WithTelemetryWindow(w *telemetry.Window) ServerOption {
	return func(s *Server) { s.window = w }
}
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

func (s *Server) Addr() string           { s.mu.RLock(); defer s.mu.RUnlock(); return s.addr }
func (s *Server) Ready() <-chan struct{} { return s.readyCh }
func (s *Server) Errors() <-chan error   { return s.errCh }

func (s *Server) setError(err error) {
	if err == nil {
		return
	}
	s.lastErrMu.Lock()
	s.lastErr = err
	s.lastErrMu.Unlock()
	select {
	case s.errCh <- err:
	default:
	}
}

func (s *Server) LastError() error {
	s.lastErrMu.Lock()
	defer s.lastErrMu.Unlock()
	return s.lastErr
}

// Serve listens for and accepts QUIC connections one at a time, per
// spec.md §4.2 ("accepts one connection at a time per listener"). Each
// accepted connection is served to completion (all three acceptor
// goroutines joined) before the next Accept call, so there is never more
// than one live connection feeding the frame queue.
func (s *Server) Serve(ctx context.Context) error {
	if s.tlsConf == nil {
		wrap := fmt.Errorf("%w: no tls config", ErrTLS)
		s.setError(wrap)
		return wrap
	}
	ln, err := quic.ListenAddr(s.Addr(), s.tlsConf, s.quicConf)
	if err != nil {
		wrap := fmt.Errorf("%w: %v", ErrListen, err)
		s.setError(wrap)
		return wrap
	}
	s.listener = ln
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.mu.Unlock()
	s.readyOnce.Do(func() { close(s.readyCh) })
	s.logger.Info("quic_listen", "addr", ln.Addr().String())

	go func() { <-ctx.Done(); _ = ln.Close() }()

	for {
		conn, err := ln.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			wrap := fmt.Errorf("%w: %v", ErrAccept, err)
			s.setError(wrap)
			return wrap
		}
		s.totalAccepted.Add(1)
		telemetry.ConnectionsTotal.Inc()
		connLogger := s.logger.With("remote", conn.RemoteAddr().String())
		connLogger.Info("client_connected")
		s.totalConnected.Add(1)
		s.serveConnection(ctx, conn, connLogger)
		s.totalClosed.Add(1)
		connLogger.Info("client_disconnected")
	}
}

// serveConnection runs the three acceptor loops for one connection and
// blocks until all of them return. The stream acceptors hand each accepted
// stream to its own goroutine, tracked by s.wg rather than by this join, so
// the number of goroutines per connection is not bounded and stream
// goroutines may still be running when serveConnection returns.
func (s *Server) serveConnection(ctx context.Context, conn quic.Connection, logger *slog.Logger) {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); s.runBidiAcceptor(connCtx, conn, logger) }()
	go func() { defer wg.Done(); s.runUniAcceptor(connCtx, conn, logger) }()
	go func() { defer wg.Done(); s.runDatagramAcceptor(connCtx, conn, logger) }()
	wg.Wait()
}

// runBidiAcceptor handles delivery mode (a): a continuous reliable
// ordered byte stream carrying many frames back-to-back.
func (s *Server) runBidiAcceptor(ctx context.Context, conn quic.Connection, logger *slog.Logger) {
	for {
		stream, err := conn.AcceptStream(ctx)
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.drainReassembler(stream, logger)
		}()
	}
}

// runUniAcceptor handles delivery mode (b): one reliable stream per
// frame. Each accepted unidirectional stream is read to its end (capped at
// HeaderSize+MaxPayloadSize bytes) and must hold exactly one frame.
func (s *Server) runUniAcceptor(ctx context.Context, conn quic.Connection, logger *slog.Logger) {
	for {
		stream, err := conn.AcceptUniStream(ctx)
		if err != nil {
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			data, err := io.ReadAll(io.LimitReader(stream, wire.HeaderSize+wire.MaxPayloadSize))
			if err != nil {
				logger.Warn("uni_stream_read_error", "error", err)
				return
			}
			head, err := wire.DecodeHeader(data)
			if err != nil || len(data)-wire.HeaderSize != int(head.PayloadSize) {
				logger.Warn("uni_stream_protocol_error", "len", len(data), "error", err)
				return
			}
			s.submit(&wire.Frame{Header: head, Payload: data[wire.HeaderSize:]}, logger)
		}()
	}
}

// runDatagramAcceptor handles delivery mode (c): unreliable datagrams
// each containing exactly one frame (header + payload, no length prefix
// needed since the datagram boundary is the frame boundary).
func (s *Server) runDatagramAcceptor(ctx context.Context, conn quic.Connection, logger *slog.Logger) {
	for {
		msg, err := conn.ReceiveDatagram(ctx)
		if err != nil {
			return
		}
		if len(msg) < wire.HeaderSize {
			logger.Warn("datagram_short", "len", len(msg))
			continue
		}
		head, err := wire.DecodeHeader(msg[:wire.HeaderSize])
		if err != nil {
			logger.Warn("datagram_protocol_error", "error", err)
			continue
		}
		payload := msg[wire.HeaderSize:]
		if len(payload) != int(head.PayloadSize) {
			logger.Warn("datagram_size_mismatch", "want", head.PayloadSize, "got", len(payload))
			continue
		}
		s.submit(&wire.Frame{Header: head, Payload: payload}, logger)
	}
}

// drainReassembler reads frames off a reliable stream until it ends or
// hits a fatal protocol error, submitting each to the frame queue.
func (s *Server) drainReassembler(r io.Reader, logger *slog.Logger) {
	ra := reassembler.New(r)
	for {
		fr, err := ra.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				wrap := fmt.Errorf("%w: %v", ErrConnRead, err)
				s.setError(wrap)
				logger.Warn("stream_protocol_error", "error", wrap)
			}
			return
		}
		s.submit(fr, logger)
	}
}

func (s *Server) submit(fr *wire.Frame, logger *slog.Logger) {
	ok, err := s.queue.Enqueue(fr)
	if err != nil {
		return // queue closed: connection teardown in progress
	}
	if !ok {
		if s.window != nil {
			s.window.ObserveDrop()
		}
		logger.Debug("frame_dropped_queue_full", "sequence", fr.Header.Sequence)
	}
}

// Shutdown gracefully closes the listener and waits for all acceptor and
// stream-handling goroutines to join, mirroring the teacher's
// wg.Wait()-under-context-deadline idiom.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.listener = nil
	s.mu.Unlock()
	if ln != nil {
		_ = ln.Close()
	}
	done := make(chan struct{})
	go func() { s.wg.Wait(); close(done) }()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: shutdown timeout: %v", ErrContext, ctx.Err())
	case <-done:
		s.logger.Info("shutdown_summary",
			"accepted", s.totalAccepted.Load(),
			"connected", s.totalConnected.Load(),
			"closed", s.totalClosed.Load())
		return nil
	}
}

// SelfSignedTLSConfig generates an ephemeral self-signed certificate for
// localhost, valid for this process's lifetime only (spec.md §4.2: no
// client auth, ALPN "thunder-mirror"). Grounded on the teacher's
// cnl.Handshake's use of stdlib crypto only, extended here to TLS.
func SelfSignedTLSConfig() (*tls.Config, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("transport: generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("transport: generate serial: %w", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "localhost"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * 365 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		DNSNames:              []string{"localhost"},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("transport: create certificate: %w", err)
	}
	cert := tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ALPN},
		ClientAuth:   tls.NoClientCert,
		MinVersion:   tls.VersionTLS13,
	}, nil
}
