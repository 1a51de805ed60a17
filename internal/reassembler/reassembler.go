// Package reassembler parses a prefix-framed byte stream (spec.md §4.2)
// into a lazy sequence of wire frames. It works identically whether the
// underlying io.Reader is a QUIC bidirectional stream, a net.Conn, or a
// bytes.Reader in tests — the teacher's internal/cnl.Codec achieves the
// same decoupling between codec and transport.
package reassembler

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/thundermirror/receiver/internal/wire"
)

// readChunkSize is the suggested transport-provided maximum chunk read
// size (spec.md §4.2: "suggested 256 KiB").
const readChunkSize = 256 * 1024

// compactThreshold mirrors the teacher's serial.CompactBuffer: once the
// backing array has grown past this and is mostly drained, reclaim it
// rather than let it grow unbounded across many small frames.
const compactThreshold = 64 * 1024

// Reassembler incrementally parses frames out of r. A single Reassembler
// is not safe for concurrent use; each acceptor goroutine owns its own.
type Reassembler struct {
	r   io.Reader
	buf bytes.Buffer
	eof bool
}

// New wraps r for frame-at-a-time parsing.
func New(r io.Reader) *Reassembler {
	return &Reassembler{r: r}
}

// Next returns the next frame on the stream. It returns io.EOF when the
// stream ends cleanly at a frame boundary (including a discarded trailing
// partial frame, per spec.md step 4) and wire.ErrProtocol when the header
// is malformed or oversized — a fatal condition for this stream since
// there is no resynchronization anchor in the format.
func (a *Reassembler) Next() (*wire.Frame, error) {
	if err := a.fill(wire.HeaderSize); err != nil {
		return nil, err
	}
	head, err := wire.DecodeHeader(a.buf.Bytes()[:wire.HeaderSize])
	if err != nil {
		return nil, err
	}

	total := wire.HeaderSize + int(head.PayloadSize)
	if err := a.fillAllowEOF(total); err != nil {
		if errors.Is(err, io.EOF) {
			// Mid-frame stream end: discard the partial frame and
			// terminate cleanly (spec.md §4.2 step 4).
			return nil, io.EOF
		}
		return nil, err
	}

	frameBytes := make([]byte, total)
	if _, err := io.ReadFull(&a.buf, frameBytes); err != nil {
		return nil, fmt.Errorf("reassembler: consume frame: %w", err)
	}
	a.compact()

	return &wire.Frame{Header: head, Payload: frameBytes[wire.HeaderSize:]}, nil
}

// fill refills until at least n bytes are buffered. It returns io.EOF if
// the stream ends first, whether zero bytes (a clean boundary before any
// frame has started) or a partial header is buffered: it is used only for
// the header, and a truncated header is treated like any other trailing
// partial frame.
func (a *Reassembler) fill(n int) error {
	err := a.fillAllowEOF(n)
	if errors.Is(err, io.EOF) && a.buf.Len() == 0 {
		return io.EOF
	}
	if errors.Is(err, io.EOF) {
		// Partial header at stream end: no safe resync anchor, but this
		// is the same "discard trailing partial frame" case as a partial
		// payload, so terminate cleanly rather than raising Protocol.
		return io.EOF
	}
	return err
}

func (a *Reassembler) fillAllowEOF(n int) error {
	if a.eof && a.buf.Len() < n {
		return io.EOF
	}
	chunk := make([]byte, readChunkSize)
	for a.buf.Len() < n {
		nr, err := a.r.Read(chunk)
		if nr > 0 {
			a.buf.Write(chunk[:nr])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				a.eof = true
				if a.buf.Len() < n {
					return io.EOF
				}
				return nil
			}
			return fmt.Errorf("reassembler: read: %w", err)
		}
	}
	return nil
}

// compact reclaims the buffer's backing array once it has grown large and
// is now empty, mirroring internal/serial's CompactBuffer technique so a
// single oversized frame doesn't pin a large allocation for the life of
// the stream.
func (a *Reassembler) compact() {
	if a.buf.Len() == 0 && a.buf.Cap() > compactThreshold {
		a.buf = bytes.Buffer{}
	}
}
