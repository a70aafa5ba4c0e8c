// Package compositor adapts internal/framecache's get-exact-frame cache
// (component J, spec §4.J) to the push-oriented ports.CompositorSurface
// contract the pipeline decodes into: CacheFrame stores a frame the
// decoder already produced rather than pulling one through a render
// delegate, and HasWarmFrame/WarmFrameCount answer directly off the
// cache's RAM tier instead of a separate history index.
package compositor

import (
	"context"

	"github.com/breeze-rmm/scrubd/internal/framecache"
	"github.com/breeze-rmm/scrubd/internal/ports"
)

// primarySpec is the single ViewSpec this adapter stores under: full
// frame, no ROI, quality/colorspace left at their zero values. A real
// compositor surface would vary quality/colorspace per timeline zoom
// level; this repo's scope stops at decode delivery (spec §1), so one
// fixed view is all CacheFrame needs.
var primarySpec = framecache.ViewSpec{}

// Surface wraps a *framecache.Cache to satisfy ports.CompositorSurface.
type Surface struct {
	cache          *framecache.Cache
	frameDurationS float64
}

// New creates a Surface backed by cache. frameDurationS is used to
// quantize incoming PTS onto the same frame grid framecache keys against.
func New(cache *framecache.Cache, frameDurationS float64) *Surface {
	return &Surface{cache: cache, frameDurationS: frameDurationS}
}

// CacheFrame implements ports.CompositorSurface: it stores pixels for
// (clipID, pts) by handing GetExactFrame a render delegate that just
// returns the already-decoded frame, so the normal RAM/disk/cold miss
// path is what actually persists it.
func (s *Surface) CacheFrame(ctx context.Context, pixels []byte, width, height int, clipID string, pts float64, version uint64, origin ports.FrameOrigin, storeInPrimary bool) error {
	render := func(ctx context.Context, clipID string, pts float64, spec framecache.ViewSpec) (framecache.Rendered, error) {
		return framecache.Rendered{Pixels: pixels, Width: width, Height: height}, nil
	}
	_, err := s.cache.GetExactFrame(ctx, clipID, pts, s.frameDurationS, primarySpec, render)
	return err
}

// HasWarmFrame reports whether a RAM-resident frame exists within
// tolerance of at on either side, counting a frame behind at only when it
// is also within maxPastLag. bias does not change the result.
func (s *Surface) HasWarmFrame(ctx context.Context, clipID string, at, tolerance, maxPastLag float64, bias ports.Bias) bool {
	var haveAhead, haveBehind bool
	for _, pts := range s.cache.WarmTimestamps(clipID) {
		d := pts - at
		if d >= 0 && d <= tolerance {
			haveAhead = true
		}
		if d < 0 && -d <= tolerance && -d <= maxPastLag {
			haveBehind = true
		}
	}
	if bias == ports.BiasForward {
		return haveAhead || haveBehind
	}
	return haveBehind || haveAhead
}

// WarmFrameCount counts RAM-resident frames for clipID within [lo, hi].
func (s *Surface) WarmFrameCount(ctx context.Context, clipID string, lo, hi float64) int {
	n := 0
	for _, pts := range s.cache.WarmTimestamps(clipID) {
		if pts >= lo && pts <= hi {
			n++
		}
	}
	return n
}

// PruneHistory drops RAM history at or before keepAfter for clipID.
func (s *Surface) PruneHistory(ctx context.Context, clipID string, keepAfter float64) {
	s.cache.Forget(clipID, keepAfter)
}
