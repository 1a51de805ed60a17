package wire

import (
	"encoding/binary"
	"errors"
)

// ControlKind enumerates the Control-frame message variants observed in
// the original sender implementation. The wire format never mandates a
// Control/Stats payload schema (spec left it opaque); this is best-effort
// sugar layered on top of opaque passthrough, not a hard requirement.
type ControlKind uint8

const (
	ControlStart ControlKind = iota
	ControlStop
	ControlRequestKeyframe
	ControlResolutionChange
)

// ControlMessage is the decoded form of a Control payload, when it happens
// to match the simple tag+fields encoding below:
//
//	byte 0: ControlKind
//	Start / ResolutionChange: width(2) height(2) [fps(1), Start only]
//	Stop / RequestKeyframe: no further bytes
type ControlMessage struct {
	Kind   ControlKind
	Width  uint16
	Height uint16
	FPS    uint8
}

// ErrUnrecognizedControl means the payload didn't match the opportunistic
// encoding above; callers should fall back to passing the payload through
// opaquely rather than treating this as a protocol violation.
var ErrUnrecognizedControl = errors.New("wire: unrecognized control payload")

// DecodeControlMessage opportunistically decodes a Control frame payload.
// Failure is never fatal — unrecognized payloads must still be forwarded
// to the observer sink unchanged.
func DecodeControlMessage(payload []byte) (ControlMessage, error) {
	if len(payload) < 1 {
		return ControlMessage{}, ErrUnrecognizedControl
	}
	switch ControlKind(payload[0]) {
	case ControlStart:
		if len(payload) < 6 {
			return ControlMessage{}, ErrUnrecognizedControl
		}
		return ControlMessage{
			Kind:   ControlStart,
			Width:  binary.BigEndian.Uint16(payload[1:3]),
			Height: binary.BigEndian.Uint16(payload[3:5]),
			FPS:    payload[5],
		}, nil
	case ControlStop, ControlRequestKeyframe:
		return ControlMessage{Kind: ControlKind(payload[0])}, nil
	case ControlResolutionChange:
		if len(payload) < 5 {
			return ControlMessage{}, ErrUnrecognizedControl
		}
		return ControlMessage{
			Kind:   ControlResolutionChange,
			Width:  binary.BigEndian.Uint16(payload[1:3]),
			Height: binary.BigEndian.Uint16(payload[3:5]),
		}, nil
	default:
		return ControlMessage{}, ErrUnrecognizedControl
	}
}
