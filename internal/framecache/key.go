// Package framecache implements spec §4.J's two-tier frame cache: a
// bytes-bounded RAM tier and an LRU-by-modification-time disk tier backed
// by internal/cachestore's CNMX blob format, with tile-aligned dirty
// regions and pin protection.
package framecache

import (
	"fmt"
	"hash/fnv"
	"math"
)

// Rect is a tile-aligned region of interest, in pixels.
type Rect struct {
	X, Y, W, H int
}

// AlignToTile expands r outward to the tile grid boundary.
func AlignToTile(r Rect, tileSize int) Rect {
	if tileSize <= 0 {
		tileSize = 256
	}
	x0 := floorTo(r.X, tileSize)
	y0 := floorTo(r.Y, tileSize)
	x1 := ceilTo(r.X+r.W, tileSize)
	y1 := ceilTo(r.Y+r.H, tileSize)
	return Rect{X: x0, Y: y0, W: x1 - x0, H: y1 - y0}
}

func floorTo(v, step int) int { return int(math.Floor(float64(v)/float64(step))) * step }
func ceilTo(v, step int) int  { return int(math.Ceil(float64(v)/float64(step))) * step }

// Intersects reports whether r and other overlap.
func (r Rect) Intersects(other Rect) bool {
	if r.W <= 0 || r.H <= 0 || other.W <= 0 || other.H <= 0 {
		return false
	}
	return r.X < other.X+other.W && other.X < r.X+r.W &&
		r.Y < other.Y+other.H && other.Y < r.Y+r.H
}

// ViewSpec describes the requested render: a quality/colorspace pair plus
// an optional ROI, hashed into the cache key's view_spec_hash.
type ViewSpec struct {
	Quality    int
	ColorSpace int
	ROI        *Rect // nil means full-frame
}

func (v ViewSpec) hash() uint64 {
	h := fnv.New64a()
	fmt.Fprintf(h, "q=%d;cs=%d", v.Quality, v.ColorSpace)
	if v.ROI != nil {
		fmt.Fprintf(h, ";roi=%d,%d,%d,%d", v.ROI.X, v.ROI.Y, v.ROI.W, v.ROI.H)
	}
	return h.Sum64()
}

// Key is spec §3's FrameCacheKey: (clip_id, quantized_pts, view_spec_hash,
// optional tile_rect, quality, color_space).
type Key struct {
	ClipID       string
	QuantizedPTS float64
	ViewSpecHash uint64
	TileRect     Rect
	Quality      int
	ColorSpace   int
}

// QuantizePTS rounds pts to the nearest frame boundary:
// round(pts / frame_duration) * frame_duration.
func QuantizePTS(pts, frameDurationS float64) float64 {
	if frameDurationS <= 0 {
		return pts
	}
	return math.Round(pts/frameDurationS) * frameDurationS
}

// NewKey builds the cache key for a get_exact_frame request, quantizing
// pts and aligning the view spec's ROI to the tile grid.
func NewKey(clipID string, pts, frameDurationS float64, spec ViewSpec, tileSize int) Key {
	tile := Rect{}
	if spec.ROI != nil {
		tile = AlignToTile(*spec.ROI, tileSize)
	}
	return Key{
		ClipID:       clipID,
		QuantizedPTS: QuantizePTS(pts, frameDurationS),
		ViewSpecHash: spec.hash(),
		TileRect:     tile,
		Quality:      spec.Quality,
		ColorSpace:   spec.ColorSpace,
	}
}

// diskFileName maps a Key to a stable on-disk blob path.
func (k Key) diskFileName() string {
	return fmt.Sprintf("%s/%.6f-%x.cache", k.ClipID, k.QuantizedPTS, k.ViewSpecHash)
}
