package cachestore

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	b := Blob{
		Width:       4,
		Height:      2,
		PixelFormat: 2, // I420
		Planes: []Plane{
			{BytesPerRow: 4, Height: 2, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}},
			{BytesPerRow: 2, Height: 1, Data: []byte{9, 10}},
			{BytesPerRow: 2, Height: 1, Data: []byte{11, 12}},
		},
	}
	wire := Encode(b)
	got, err := Decode(wire)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.Width != b.Width || got.Height != b.Height || got.PixelFormat != b.PixelFormat {
		t.Fatalf("dims mismatch: got %+v", got)
	}
	if len(got.Planes) != len(b.Planes) {
		t.Fatalf("plane count = %d, want %d", len(got.Planes), len(b.Planes))
	}
	for i, pl := range got.Planes {
		want := b.Planes[i]
		if pl.BytesPerRow != want.BytesPerRow || pl.Height != want.Height {
			t.Fatalf("plane %d dims mismatch: got %+v want %+v", i, pl, want)
		}
		if string(pl.Data) != string(want.Data) {
			t.Fatalf("plane %d data mismatch: got %v want %v", i, pl.Data, want.Data)
		}
	}
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	wire := Encode(Blob{Width: 1, Height: 1, Planes: []Plane{{BytesPerRow: 1, Height: 1, Data: []byte{1}}}})
	wire[0] = 'X'
	if _, err := Decode(wire); err == nil {
		t.Fatal("expected error for bad magic")
	}
}

func TestDecodeRejectsTruncatedHeader(t *testing.T) {
	if _, err := Decode([]byte("CNMX")); err == nil {
		t.Fatal("expected error for short blob")
	}
}

func TestDecodeRejectsTruncatedPayload(t *testing.T) {
	wire := Encode(Blob{Width: 1, Height: 1, Planes: []Plane{{BytesPerRow: 1, Height: 1, Data: []byte{1, 2, 3}}}})
	if _, err := Decode(wire[:len(wire)-2]); err == nil {
		t.Fatal("expected error for truncated payload")
	}
}

func TestCopyPlaneIntoClampsToSmallerStride(t *testing.T) {
	src := Plane{BytesPerRow: 4, Height: 2, Data: []byte{1, 2, 3, 4, 5, 6, 7, 8}}
	dst := Plane{BytesPerRow: 2, Height: 2, Data: make([]byte, 4)}
	CopyPlaneInto(dst, src)
	want := []byte{1, 2, 5, 6}
	for i := range want {
		if dst.Data[i] != want[i] {
			t.Fatalf("dst.Data = %v, want %v", dst.Data, want)
		}
	}
}

func TestCopyPlaneIntoClampsToSmallerHeight(t *testing.T) {
	src := Plane{BytesPerRow: 2, Height: 3, Data: []byte{1, 2, 3, 4, 5, 6}}
	dst := Plane{BytesPerRow: 2, Height: 1, Data: make([]byte, 2)}
	CopyPlaneInto(dst, src)
	if dst.Data[0] != 1 || dst.Data[1] != 2 {
		t.Fatalf("dst.Data = %v, want [1 2]", dst.Data)
	}
}
