// Package videodecode wraps an H.264 elementary-stream decoder behind the
// adapter contract of spec.md §4.5: feed one access unit, get back either
// nothing yet (the decoder is still accumulating reference pictures), a
// decoded Picture, or a non-fatal DecodeError. The decoder itself is
// provided by FFmpeg's libavcodec via go-astiav bindings; nothing above
// this package knows that.
package videodecode

import (
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"

	"github.com/thundermirror/receiver/internal/colorconvert"
)

// DecodeError wraps an underlying decode failure. Per spec.md §4.5 it is
// never fatal to the stream: the caller logs it, drops the access unit,
// and keeps feeding subsequent ones to the same decoder.
type DecodeError struct {
	cause error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("videodecode: %v", e.cause) }
func (e *DecodeError) Unwrap() error { return e.cause }

// Decoder wraps one libavcodec H.264 decoding context. A Decoder is not
// safe for concurrent use; spec.md §4 guarantees at most one in-flight
// decode call per connection, matching the presenter's single-threaded
// ownership of C5.
type Decoder struct {
	codecCtx *astiav.CodecContext
	packet   *astiav.Packet
	frame    *astiav.Frame
}

// New opens an H.264 decoding context.
func New() (*Decoder, error) {
	codec := astiav.FindDecoder(astiav.CodecIDH264)
	if codec == nil {
		return nil, fmt.Errorf("videodecode: h264 decoder unavailable")
	}
	ctx := astiav.AllocCodecContext(codec)
	if ctx == nil {
		return nil, fmt.Errorf("videodecode: alloc codec context")
	}
	if err := ctx.Open(codec, nil); err != nil {
		ctx.Free()
		return nil, fmt.Errorf("videodecode: open codec: %w", err)
	}
	return &Decoder{
		codecCtx: ctx,
		packet:   astiav.AllocPacket(),
		frame:    astiav.AllocFrame(),
	}, nil
}

// Close releases the underlying decoding context and scratch buffers.
func (d *Decoder) Close() {
	if d.packet != nil {
		d.packet.Free()
	}
	if d.frame != nil {
		d.frame.Free()
	}
	if d.codecCtx != nil {
		d.codecCtx.Free()
	}
}

// Decode feeds one Annex-B access unit to the decoder. It returns
// (nil, nil) when the decoder accepted the data but has no picture ready
// yet — a legal, non-fatal outcome while reference frames accumulate
// (e.g. immediately after a keyframe request or at stream start) — and a
// *DecodeError on any underlying failure, leaving the decoder's internal
// state untouched so the next access unit can still be attempted.
func (d *Decoder) Decode(accessUnit []byte) (*colorconvert.Picture, error) {
	d.packet.UnrefData()
	if err := d.packet.FromData(accessUnit); err != nil {
		return nil, &DecodeError{cause: err}
	}

	if err := d.codecCtx.SendPacket(d.packet); err != nil {
		return nil, &DecodeError{cause: err}
	}

	d.frame.Unref()
	if err := d.codecCtx.ReceiveFrame(d.frame); err != nil {
		if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
			return nil, nil
		}
		return nil, &DecodeError{cause: err}
	}

	planes := d.frame.Data()
	strides := d.frame.Linesize()
	if len(planes) < 3 || len(strides) < 3 {
		return nil, &DecodeError{cause: fmt.Errorf("unexpected plane count %d", len(planes))}
	}

	w, h := d.frame.Width(), d.frame.Height()
	cw, ch := (w+1)/2, (h+1)/2

	pic := &colorconvert.Picture{
		Width:  w,
		Height: h,
		Y:      colorconvert.Plane{Data: cloneBytes(planes[0], strides[0]*h), Stride: strides[0]},
		U:      colorconvert.Plane{Data: cloneBytes(planes[1], strides[1]*ch), Stride: strides[1]},
		V:      colorconvert.Plane{Data: cloneBytes(planes[2], strides[2]*ch), Stride: strides[2]},
	}
	return pic, nil
}

// cloneBytes copies up to n bytes out of a plane owned by the decoder's
// internal frame buffer, which is invalidated on the next Decode call.
func cloneBytes(src []byte, n int) []byte {
	if n > len(src) {
		n = len(src)
	}
	out := make([]byte, n)
	copy(out, src[:n])
	return out
}
