// Package wire implements the ThunderMirror frame wire format: a fixed
// 26-byte big-endian header followed by an opaque payload.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Protocol version this codec understands. Any other value on the wire
// is a fatal protocol error — there is no forward-compat negotiation.
const ProtocolVersion uint8 = 1

// HeaderSize is the fixed on-wire size of a Header in bytes.
const HeaderSize = 26

// MaxPayloadSize is the implementation ceiling on payload_size. Senders
// exceeding this are desynchronized and there is no safe resync anchor.
const MaxPayloadSize = 16 * 1024 * 1024

// FrameType tags the payload semantics of a Frame.
type FrameType uint8

const (
	FrameRaw     FrameType = 0
	FrameH264    FrameType = 1
	FrameControl FrameType = 2
	FrameStats   FrameType = 3
)

func (t FrameType) String() string {
	switch t {
	case FrameRaw:
		return "raw"
	case FrameH264:
		return "h264"
	case FrameControl:
		return "control"
	case FrameStats:
		return "stats"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

func (t FrameType) valid() bool {
	return t <= FrameStats
}

// ErrProtocol is the sentinel for any wire-format violation: bad version,
// unknown frame_type, or payload_size above MaxPayloadSize. Callers treat
// this as fatal for the stream carrying it — there is no resynchronization
// anchor in this format, so the stream (not necessarily the connection)
// must be abandoned.
var ErrProtocol = errors.New("wire: protocol error")

// ErrShortHeader is returned by DecodeHeader when fewer than HeaderSize
// bytes are available.
var ErrShortHeader = errors.New("wire: short header")

// Header is the fixed 26-byte record preceding every frame's payload.
type Header struct {
	Version     uint8
	Type        FrameType
	Sequence    uint64
	TimestampUs uint64
	Width       uint16
	Height      uint16
	PayloadSize uint32
}

// Encode appends the 26-byte big-endian encoding of h to dst and returns
// the extended slice.
func (h Header) Encode(dst []byte) []byte {
	var buf [HeaderSize]byte
	buf[0] = h.Version
	buf[1] = uint8(h.Type)
	binary.BigEndian.PutUint64(buf[2:10], h.Sequence)
	binary.BigEndian.PutUint64(buf[10:18], h.TimestampUs)
	binary.BigEndian.PutUint16(buf[18:20], h.Width)
	binary.BigEndian.PutUint16(buf[20:22], h.Height)
	binary.BigEndian.PutUint32(buf[22:26], h.PayloadSize)
	return append(dst, buf[:]...)
}

// DecodeHeader parses a Header from the first HeaderSize bytes of buf.
// It does not consume or validate the payload; callers must separately
// check PayloadSize against MaxPayloadSize (DecodeHeader already rejects
// it here for convenience, but a caller streaming payload incrementally
// should not assume this is the only place the ceiling is enforced).
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	h := Header{
		Version:     buf[0],
		Type:        FrameType(buf[1]),
		Sequence:    binary.BigEndian.Uint64(buf[2:10]),
		TimestampUs: binary.BigEndian.Uint64(buf[10:18]),
		Width:       binary.BigEndian.Uint16(buf[18:20]),
		Height:      binary.BigEndian.Uint16(buf[20:22]),
		PayloadSize: binary.BigEndian.Uint32(buf[22:26]),
	}
	if h.Version != ProtocolVersion {
		return Header{}, fmt.Errorf("%w: unsupported version %d", ErrProtocol, h.Version)
	}
	if !h.Type.valid() {
		return Header{}, fmt.Errorf("%w: unknown frame_type %d", ErrProtocol, uint8(buf[1]))
	}
	if h.PayloadSize > MaxPayloadSize {
		return Header{}, fmt.Errorf("%w: payload_size %d exceeds ceiling %d", ErrProtocol, h.PayloadSize, MaxPayloadSize)
	}
	return h, nil
}

// Frame is a decoded Header plus its payload bytes.
type Frame struct {
	Header  Header
	Payload []byte
}

// Encode returns the on-wire bytes for the frame (header + payload).
func (f Frame) Encode() []byte {
	buf := make([]byte, 0, HeaderSize+len(f.Payload))
	buf = f.Header.Encode(buf)
	return append(buf, f.Payload...)
}
