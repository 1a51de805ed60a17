package framebuffer

import "testing"

func TestResizeSkipsZeroDimensions(t *testing.T) {
	b := New()
	if b.Resize(0, 10) {
		t.Fatalf("resize with zero width should be a no-op")
	}
	if b.Resize(10, 0) {
		t.Fatalf("resize with zero height should be a no-op")
	}
	if b.Width() != 0 || b.Height() != 0 {
		t.Fatalf("dims changed despite no-op resize")
	}
}

func TestResizeReusesBackingArray(t *testing.T) {
	b := New()
	b.Resize(100, 100)
	old := b.Pixels()
	old[0] = 0xABCDEF
	b.Resize(10, 10)
	b.Resize(100, 100)
	if cap(b.Pixels()) < 100*100 || &b.Pixels()[0] != &old[0] {
		t.Fatalf("expected backing array reuse")
	}
}

func TestSetRawPacksRGBAIgnoringAlpha(t *testing.T) {
	b := New()
	src := []byte{0x11, 0x22, 0x33, 0xFF, 0x44, 0x55, 0x66, 0x00}
	b.SetRaw(2, 1, src)
	px := b.Pixels()
	if px[0] != 0x112233 {
		t.Fatalf("pixel 0 = %#x, want 0x112233", px[0])
	}
	if px[1] != 0x445566 {
		t.Fatalf("pixel 1 = %#x, want 0x445566", px[1])
	}
}

func TestSetRawCopiesMinOfFramebufferAndPayload(t *testing.T) {
	b := New()
	b.Resize(4, 1)
	src := []byte{0x11, 0x22, 0x33, 0xFF, 0x44, 0x55, 0x66, 0x00} // only 2 pixels worth
	b.SetRaw(0, 0, src)                                          // zero dims: no resize, keep 4x1
	px := b.Pixels()
	if len(px) != 4 {
		t.Fatalf("framebuffer should remain 4 pixels, got %d", len(px))
	}
	if px[0] != 0x112233 || px[1] != 0x445566 {
		t.Fatalf("first two pixels not copied correctly: %v", px)
	}
}
