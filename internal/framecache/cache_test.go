package framecache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/breeze-rmm/scrubd/internal/cachestore"
)

func newTestCache(t *testing.T, cfg Config) *Cache {
	t.Helper()
	disk, err := cachestore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return New(cfg, disk, nil, nil, nil)
}

func render(pixels byte, w, h int) RenderFunc {
	return func(ctx context.Context, clipID string, pts float64, spec ViewSpec) (Rendered, error) {
		buf := make([]byte, w*h)
		for i := range buf {
			buf[i] = pixels
		}
		return Rendered{Pixels: buf, Width: w, Height: h, DecodeCostMs: 5}, nil
	}
}

func TestGetExactFrameQuantizesPTS(t *testing.T) {
	c := newTestCache(t, Config{RAMBudgetBytes: 1 << 20, DiskBudgetBytes: 1 << 20})
	calls := 0
	r := func(ctx context.Context, clipID string, pts float64, spec ViewSpec) (Rendered, error) {
		calls++
		return Rendered{Pixels: []byte{1, 2, 3, 4}, Width: 2, Height: 2}, nil
	}
	// 1/30s frame duration; 0.0331 and 0.0335 both quantize to the same frame.
	if _, err := c.GetExactFrame(context.Background(), "clip1", 0.0331, 1.0/30, ViewSpec{}, r); err != nil {
		t.Fatal(err)
	}
	if _, err := c.GetExactFrame(context.Background(), "clip1", 0.0335, 1.0/30, ViewSpec{}, r); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Fatalf("render called %d times, want 1 (second call should hit RAM)", calls)
	}
}

func TestGetExactFrameMissWithNoRenderDelegateErrors(t *testing.T) {
	c := newTestCache(t, Config{RAMBudgetBytes: 1 << 20, DiskBudgetBytes: 1 << 20})
	_, err := c.GetExactFrame(context.Background(), "clip1", 1.0, 1.0/30, ViewSpec{}, nil)
	if err == nil {
		t.Fatal("expected error on miss with no render delegate")
	}
}

func TestPinFrameRangeSurvivesEviction(t *testing.T) {
	c := newTestCache(t, Config{RAMBudgetBytes: 20, DiskBudgetBytes: 1 << 20})
	c.PinFrameRange("clip1", 0, 10)
	r := render(1, 4, 4) // 16 bytes
	if _, err := c.GetExactFrame(context.Background(), "clip1", 1.0, 1.0/30, ViewSpec{}, r); err != nil {
		t.Fatal(err)
	}
	// A second, same-sized unpinned frame should evict without touching the pinned one.
	r2 := render(2, 4, 4)
	if _, err := c.GetExactFrame(context.Background(), "clip1", 50.0, 1.0/30, ViewSpec{}, r2); err != nil {
		t.Fatal(err)
	}
	key := NewKey("clip1", 1.0, 1.0/30, ViewSpec{}, 256)
	if _, ok := c.ram[key]; !ok {
		t.Fatal("pinned entry was evicted")
	}
}

func TestMarkDirtyRegionInvalidatesIntersectingRAMEntry(t *testing.T) {
	c := newTestCache(t, Config{RAMBudgetBytes: 1 << 20, DiskBudgetBytes: 1 << 20})
	spec := ViewSpec{ROI: &Rect{X: 0, Y: 0, W: 100, H: 100}}
	calls := 0
	r := func(ctx context.Context, clipID string, pts float64, spec ViewSpec) (Rendered, error) {
		calls++
		return Rendered{Pixels: []byte{1}, Width: 1, Height: 1}, nil
	}
	if _, err := c.GetExactFrame(context.Background(), "clip1", 1.0, 1.0/30, spec, r); err != nil {
		t.Fatal(err)
	}
	c.MarkDirtyRegion("clip1", Rect{X: 10, Y: 10, W: 10, H: 10})
	if _, err := c.GetExactFrame(context.Background(), "clip1", 1.0, 1.0/30, spec, r); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Fatalf("render called %d times, want 2 (dirty region should force a re-render)", calls)
	}
}

func TestDiskTierPromotesToRAMOnHit(t *testing.T) {
	disk, err := cachestore.NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	c := New(Config{RAMBudgetBytes: 1 << 20, DiskBudgetBytes: 1 << 20}, disk, nil, nil, nil)
	key := NewKey("clip1", 1.0, 1.0/30, ViewSpec{}, 256)
	blob := encodeBlob(Rendered{Pixels: []byte{9, 9, 9, 9}, Width: 2, Height: 2})
	if err := disk.Put(key.diskFileName(), blob); err != nil {
		t.Fatal(err)
	}

	calls := 0
	r := func(ctx context.Context, clipID string, pts float64, spec ViewSpec) (Rendered, error) {
		calls++
		return Rendered{}, errors.New("should not be called")
	}
	got, err := c.GetExactFrame(context.Background(), "clip1", 1.0, 1.0/30, ViewSpec{}, r)
	if err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Fatalf("render delegate should not be called on a disk hit")
	}
	if got.Width != 2 || got.Height != 2 {
		t.Fatalf("got %+v, want width/height 2/2", got)
	}
	if _, ok := c.ram[key]; !ok {
		t.Fatal("disk hit should promote the entry to RAM")
	}
}

func TestEvictionPrefersLowCostColdSmallFrames(t *testing.T) {
	c := newTestCache(t, Config{RAMBudgetBytes: 15})
	now := time.Now()
	c.now = func() time.Time { return now }

	cheapKey := Key{ClipID: "clip1", QuantizedPTS: 1}
	expensiveKey := Key{ClipID: "clip1", QuantizedPTS: 2}
	c.ram[cheapKey] = &ramEntry{rendered: Rendered{Pixels: make([]byte, 10), DecodeCostMs: 1}, storedAt: now}
	c.ram[expensiveKey] = &ramEntry{rendered: Rendered{Pixels: make([]byte, 10), DecodeCostMs: 50}, storedAt: now}
	c.ramBytes = 20

	c.mu.Lock()
	c.evictIfOverBudgetLocked()
	c.mu.Unlock()

	if _, ok := c.ram[cheapKey]; ok {
		t.Fatal("cheap entry should have been evicted first")
	}
	if _, ok := c.ram[expensiveKey]; !ok {
		t.Fatal("expensive entry should have survived")
	}
}
