package bufpool

import "testing"

func TestGetReturnsCorrectlySizedBuffer(t *testing.T) {
	p := New()
	b := p.Get(64, 32, PixelFormatRGBA)
	if len(b.Pix) != 64*32*4 {
		t.Fatalf("len(Pix) = %d, want %d", len(b.Pix), 64*32*4)
	}
}

func TestReleaseRecyclesBackingSlice(t *testing.T) {
	p := New()
	b1 := p.Get(16, 16, PixelFormatRGBA)
	backing := &b1.Pix[0]
	b1.Release()

	b2 := p.Get(16, 16, PixelFormatRGBA)
	if &b2.Pix[0] != backing {
		t.Fatal("expected Get to reuse the released backing slice")
	}
}

func TestRetainDelaysRecycle(t *testing.T) {
	p := New()
	b := p.Get(8, 8, PixelFormatRGBA)
	b.Retain() // two holders now
	b.Release()
	// one holder remains; the pool must not have received it back yet.
	// We can't directly inspect sync.Pool occupancy, so assert via a distinct
	// allocation: requesting another buffer of the same size must not alias.
	other := p.Get(8, 8, PixelFormatRGBA)
	if &other.Pix[0] == &b.Pix[0] {
		t.Fatal("buffer should not have been recycled while still retained")
	}
	b.Release()
}

func TestNV12SizeAccountsForChromaPlanes(t *testing.T) {
	p := New()
	b := p.Get(4, 4, PixelFormatNV12)
	want := 4*4 + (4/2)*(4/2)*2
	if len(b.Pix) != want {
		t.Fatalf("len(Pix) = %d, want %d", len(b.Pix), want)
	}
}
