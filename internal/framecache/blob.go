package framecache

import "github.com/breeze-rmm/scrubd/internal/cachestore"

// encodeBlob wraps a single-plane Rendered frame in the CNMX disk format.
// The frame cache stores decoded frames as one packed plane (matching
// bufpool's packed-buffer layout); decoder-session output is already
// interleaved/packed by the time it reaches this cache.
func encodeBlob(r Rendered) []byte {
	bytesPerRow := 0
	if r.Height > 0 {
		bytesPerRow = len(r.Pixels) / r.Height
	}
	return cachestore.Encode(cachestore.Blob{
		Width:       r.Width,
		Height:      r.Height,
		PixelFormat: r.PixelFormat,
		Planes: []cachestore.Plane{
			{BytesPerRow: bytesPerRow, Height: r.Height, Data: r.Pixels},
		},
	})
}

func decodeBlob(data []byte) (Rendered, bool) {
	blob, err := cachestore.Decode(data)
	if err != nil || len(blob.Planes) == 0 {
		return Rendered{}, false
	}
	return Rendered{
		Pixels:      blob.Planes[0].Data,
		Width:       blob.Width,
		Height:      blob.Height,
		PixelFormat: blob.PixelFormat,
	}, true
}
