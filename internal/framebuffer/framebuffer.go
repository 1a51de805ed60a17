// Package framebuffer holds the single mutable RGB pixel buffer that the
// presenter writes into and the presentation surface reads from
// (spec.md §4.7). Pixels are packed 0x00RRGGBB, the form SetRaw builds
// from raw RGBA payloads and the color-converted output of decoded H.264
// pictures.
package framebuffer

// Buffer is a resizable packed-RGB pixel buffer. It is owned exclusively
// by the presenter goroutine; callers handing pixels to a presentation
// surface must copy or otherwise synchronize if they retain the slice
// past the current Tick.
type Buffer struct {
	width, height int
	pixels        []uint32
}

// New returns an empty, zero-dimension Buffer.
func New() *Buffer {
	return &Buffer{}
}

// Width reports the current buffer width in pixels.
func (b *Buffer) Width() int { return b.width }

// Height reports the current buffer height in pixels.
func (b *Buffer) Height() int { return b.height }

// Pixels returns the backing slice, valid until the next Resize.
func (b *Buffer) Pixels() []uint32 { return b.pixels }

// Resize grows or shrinks the buffer to w x h. A request for zero width or
// height is a no-op (spec.md edge case: a resolution-change control naming
// a zero dimension is ignored, keeping the last good frame on screen).
// Resize reuses the backing array when it is already large enough.
func (b *Buffer) Resize(w, h int) bool {
	if w <= 0 || h <= 0 {
		return false
	}
	if w == b.width && h == b.height {
		return false
	}
	need := w * h
	if cap(b.pixels) >= need {
		b.pixels = b.pixels[:need]
	} else {
		b.pixels = make([]uint32, need)
	}
	b.width, b.height = w, h
	return true
}

// SetRaw copies a Raw-frame payload (width*height*4 bytes of packed
// R,G,B,A with A ignored) into the buffer, resizing first if dims differ
// from the current size. Per spec.md §4.7 step 2, it copies
// min(framebuffer_len, payload_len/4) pixels rather than requiring an
// exact size match.
func (b *Buffer) SetRaw(w, h int, src []byte) {
	if w > 0 && h > 0 && (w != b.width || h != b.height) {
		b.Resize(w, h)
	}
	n := len(src) / 4
	if n > len(b.pixels) {
		n = len(b.pixels)
	}
	for i := 0; i < n; i++ {
		off := i * 4
		b.pixels[i] = uint32(src[off])<<16 | uint32(src[off+1])<<8 | uint32(src[off+2])
	}
}
