package compositor

import (
	"context"
	"testing"

	"github.com/breeze-rmm/scrubd/internal/cachestore"
	"github.com/breeze-rmm/scrubd/internal/framecache"
	"github.com/breeze-rmm/scrubd/internal/ports"
)

func newTestSurface(t *testing.T) *Surface {
	t.Helper()
	disk, err := cachestore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	cache := framecache.New(framecache.Config{RAMBudgetBytes: 1 << 20, DiskBudgetBytes: 1 << 20}, disk, nil, nil, nil)
	return New(cache, 1.0/24)
}

func TestCacheFrameThenHasWarmFrame(t *testing.T) {
	s := newTestSurface(t)
	ctx := context.Background()

	if s.HasWarmFrame(ctx, "clip1", 1.0, 0.01, 0.5, ports.BiasForward) {
		t.Fatal("expected no warm frame before any CacheFrame call")
	}

	if err := s.CacheFrame(ctx, []byte{9, 9, 9, 9}, 2, 2, "clip1", 1.0, 1, ports.OriginScrub, true); err != nil {
		t.Fatalf("CacheFrame: %v", err)
	}

	if !s.HasWarmFrame(ctx, "clip1", 1.0, 0.01, 0.5, ports.BiasForward) {
		t.Fatal("expected a warm frame at the exact pts just cached")
	}
	if s.HasWarmFrame(ctx, "clip1", 5.0, 0.01, 0.5, ports.BiasForward) {
		t.Fatal("expected no warm frame far from the cached pts")
	}
}

func TestWarmFrameCountCountsWithinRange(t *testing.T) {
	s := newTestSurface(t)
	ctx := context.Background()

	for _, pts := range []float64{1.0, 1.5, 2.0, 10.0} {
		if err := s.CacheFrame(ctx, []byte{1}, 1, 1, "clip1", pts, 1, ports.OriginScrub, false); err != nil {
			t.Fatalf("CacheFrame(%v): %v", pts, err)
		}
	}

	if n := s.WarmFrameCount(ctx, "clip1", 0.5, 2.5); n != 3 {
		t.Fatalf("expected 3 frames in [0.5, 2.5], got %d", n)
	}
	if n := s.WarmFrameCount(ctx, "clip1", 100, 200); n != 0 {
		t.Fatalf("expected 0 frames in an empty range, got %d", n)
	}
}

func TestPruneHistoryDropsOlderFrames(t *testing.T) {
	s := newTestSurface(t)
	ctx := context.Background()

	for _, pts := range []float64{1.0, 2.0, 3.0} {
		if err := s.CacheFrame(ctx, []byte{1}, 1, 1, "clip1", pts, 1, ports.OriginScrub, false); err != nil {
			t.Fatalf("CacheFrame(%v): %v", pts, err)
		}
	}

	s.PruneHistory(ctx, "clip1", 2.0)

	if n := s.WarmFrameCount(ctx, "clip1", 0, 10); n != 1 {
		t.Fatalf("expected 1 frame surviving prune, got %d", n)
	}
	if !s.HasWarmFrame(ctx, "clip1", 3.0, 0.01, 0.5, ports.BiasForward) {
		t.Fatal("expected the frame after keepAfter to survive")
	}
}

func TestHasWarmFrameRespectsMaxPastLag(t *testing.T) {
	s := newTestSurface(t)
	ctx := context.Background()

	if err := s.CacheFrame(ctx, []byte{1}, 1, 1, "clip1", 1.0, 1, ports.OriginScrub, false); err != nil {
		t.Fatalf("CacheFrame: %v", err)
	}

	// The cached frame is 2s behind at=3.0; tolerance is wide enough to
	// admit it, but maxPastLag=0.5 should still reject it.
	if s.HasWarmFrame(ctx, "clip1", 3.0, 2.5, 0.5, ports.BiasForward) {
		t.Fatal("expected a too-far-behind frame to be rejected by maxPastLag")
	}
}
