package framecache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/breeze-rmm/scrubd/internal/cachestore"
	"github.com/breeze-rmm/scrubd/internal/logging"
	"github.com/breeze-rmm/scrubd/internal/metrics"
)

var log = logging.L("framecache")

// Rendered is what a RenderFunc produces on a cache miss: a freshly
// decoded (or compositor-rendered) frame and its cost, used for the
// eviction score.
type Rendered struct {
	Pixels       []byte
	Width        int
	Height       int
	PixelFormat  int
	DecodeCostMs float64
}

// RenderFunc is the caller-supplied fallback invoked on a full cache miss
// (spec §4.J step 5: "call the compositor's render delegate or decoder
// delegate"). Wired by internal/scrubdecoder/internal/pipeline, not
// implemented in this package.
type RenderFunc func(ctx context.Context, clipID string, pts float64, spec ViewSpec) (Rendered, error)

type ramEntry struct {
	rendered Rendered
	pinned   bool
	storedAt time.Time
}

func (e *ramEntry) bytes() int64 { return int64(len(e.rendered.Pixels)) }

// Range is an inclusive [Lo, Hi] presentation-time range, for pinning and
// dirty-region bookkeeping.
type Range struct{ Lo, Hi float64 }

func (r Range) contains(t float64) bool { return t >= r.Lo && t <= r.Hi }

// Config bounds the two tiers and the tile grid, sourced from
// config.Config's cache_* fields.
type Config struct {
	RAMBudgetBytes  int64
	DiskBudgetBytes int64
	TileSize        int
}

// Cache is the per-process two-tier frame cache of spec §4.J. One Cache is
// normally shared across all clip actors.
type Cache struct {
	mu  sync.Mutex
	cfg Config
	now func() time.Time

	ram      map[Key]*ramEntry
	ramBytes int64

	disk *cachestore.LocalStore
	cold cachestore.ColdProvider

	pinnedRanges map[string][]Range   // clipID -> pinned PTS ranges
	dirtyTiles   map[string][]Rect    // clipID -> dirty tile-aligned rects
	metrics      *metrics.Registry
}

// New creates a Cache rooted at disk for the disk tier, with cold as the
// optional cold-mirror tier (use cachestore.NoopColdProvider() if none is
// configured).
func New(cfg Config, disk *cachestore.LocalStore, cold cachestore.ColdProvider, reg *metrics.Registry, now func() time.Time) *Cache {
	if cfg.TileSize <= 0 {
		cfg.TileSize = 256
	}
	if now == nil {
		now = time.Now
	}
	if cold == nil {
		cold = cachestore.NoopColdProvider()
	}
	return &Cache{
		cfg:          cfg,
		now:          now,
		ram:          make(map[Key]*ramEntry),
		disk:         disk,
		cold:         cold,
		pinnedRanges: make(map[string][]Range),
		dirtyTiles:   make(map[string][]Rect),
		metrics:      reg,
	}
}

// GetExactFrame implements get_exact_frame(t, comp_id, view_spec,
// deadline?) per spec §4.J's five-step access path.
func (c *Cache) GetExactFrame(ctx context.Context, clipID string, t, frameDurationS float64, spec ViewSpec, render RenderFunc) (Rendered, error) {
	key := NewKey(clipID, t, frameDurationS, spec, c.cfg.TileSize)

	if r, ok := c.ramLookup(key); ok {
		c.record("ram")
		return r, nil
	}

	if r, ok := c.diskLookup(key); ok {
		c.promoteToRAM(key, r)
		c.record("disk")
		return r, nil
	}

	if r, ok := c.coldLookup(ctx, key); ok {
		c.promoteToRAM(key, r)
		c.asyncDiskWrite(key, r)
		c.record("cold")
		return r, nil
	}

	c.record("miss")
	if render == nil {
		return Rendered{}, fmt.Errorf("framecache: miss for %s at %.3f and no render delegate configured", clipID, t)
	}
	r, err := render(ctx, clipID, key.QuantizedPTS, spec)
	if err != nil {
		return Rendered{}, err
	}
	c.store(key, r)
	c.asyncDiskWrite(key, r)
	return r, nil
}

func (c *Cache) ramLookup(key Key) (Rendered, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.ram[key]
	if !ok {
		return Rendered{}, false
	}
	if c.tileIsDirtyLocked(key) {
		delete(c.ram, key)
		c.ramBytes -= e.bytes()
		return Rendered{}, false
	}
	return e.rendered, true
}

func (c *Cache) tileIsDirtyLocked(key Key) bool {
	if key.TileRect.W == 0 && key.TileRect.H == 0 {
		return false
	}
	for _, dr := range c.dirtyTiles[key.ClipID] {
		if dr.Intersects(key.TileRect) {
			return true
		}
	}
	return false
}

func (c *Cache) diskLookup(key Key) (Rendered, bool) {
	if c.disk == nil {
		return Rendered{}, false
	}
	data, err := c.disk.Get(key.diskFileName())
	if err != nil {
		return Rendered{}, false
	}
	r, ok := decodeBlob(data)
	return r, ok
}

func (c *Cache) coldLookup(ctx context.Context, key Key) (Rendered, bool) {
	data, err := c.cold.Get(ctx, key.diskFileName())
	if err != nil {
		return Rendered{}, false
	}
	return decodeBlob(data)
}

func (c *Cache) promoteToRAM(key Key, r Rendered) {
	c.store(key, r)
}

func (c *Cache) store(key Key, r Rendered) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.ram[key]; ok {
		c.ramBytes -= old.bytes()
	}
	e := &ramEntry{rendered: r, storedAt: c.now()}
	if c.isPinnedLocked(key.ClipID, key.QuantizedPTS) {
		e.pinned = true
	}
	c.ram[key] = e
	c.ramBytes += e.bytes()
	c.evictIfOverBudgetLocked()
}

func (c *Cache) asyncDiskWrite(key Key, r Rendered) {
	if c.disk == nil {
		return
	}
	go func() {
		blob := encodeBlob(r)
		if err := c.disk.Put(key.diskFileName(), blob); err != nil {
			log.Warn("disk cache write failed", "clip", key.ClipID, "pts", key.QuantizedPTS, "err", err)
			return
		}
		c.evictDiskIfOverBudget()
		c.clearDirtyForTileWrite(key)
	}()
}

func (c *Cache) clearDirtyForTileWrite(key Key) {
	if key.TileRect.W == 0 && key.TileRect.H == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	tiles := c.dirtyTiles[key.ClipID]
	kept := tiles[:0]
	for _, t := range tiles {
		if !t.Intersects(key.TileRect) {
			kept = append(kept, t)
		}
	}
	c.dirtyTiles[key.ClipID] = kept
}

func (c *Cache) record(tier string) {
	if c.metrics != nil {
		c.metrics.IncCacheHit(tier)
	}
}

// PinFrameRange marks [tLo, tHi] as pinned for clipID; pinned entries
// survive eviction until explicitly unpinned.
func (c *Cache) PinFrameRange(clipID string, tLo, tHi float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pinnedRanges[clipID] = append(c.pinnedRanges[clipID], Range{Lo: tLo, Hi: tHi})
	for key, e := range c.ram {
		if key.ClipID == clipID && key.QuantizedPTS >= tLo && key.QuantizedPTS <= tHi {
			e.pinned = true
		}
	}
}

// UnpinFrameRange clears a previously pinned range; entries become
// eviction-eligible again.
func (c *Cache) UnpinFrameRange(clipID string, tLo, tHi float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ranges := c.pinnedRanges[clipID]
	kept := ranges[:0]
	for _, r := range ranges {
		if r.Lo != tLo || r.Hi != tHi {
			kept = append(kept, r)
		}
	}
	c.pinnedRanges[clipID] = kept
	for key, e := range c.ram {
		if key.ClipID == clipID && !c.isPinnedLocked(clipID, key.QuantizedPTS) {
			e.pinned = false
		}
	}
}

func (c *Cache) isPinnedLocked(clipID string, pts float64) bool {
	for _, r := range c.pinnedRanges[clipID] {
		if r.contains(pts) {
			return true
		}
	}
	return false
}

// MarkDirtyRegion expands rect to the tile grid and invalidates any RAM
// entry whose tile intersects it (spec §4.J "Dirty regions").
func (c *Cache) MarkDirtyRegion(clipID string, rect Rect) {
	aligned := AlignToTile(rect, c.cfg.TileSize)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirtyTiles[clipID] = append(c.dirtyTiles[clipID], aligned)
	for key, e := range c.ram {
		if key.ClipID == clipID && key.TileRect.Intersects(aligned) {
			c.ramBytes -= e.bytes()
			delete(c.ram, key)
		}
	}
}

// RAMBytes reports the current RAM tier footprint, for tests and metrics.
func (c *Cache) RAMBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ramBytes
}

// WarmTimestamps reports the quantized PTS of every non-dirty RAM entry
// held for clipID, for callers (internal/compositor) that need to answer
// "is there a warm frame near t" without a full GetExactFrame round trip.
func (c *Cache) WarmTimestamps(clipID string) []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []float64
	for key := range c.ram {
		if key.ClipID != clipID {
			continue
		}
		if c.tileIsDirtyLocked(key) {
			continue
		}
		out = append(out, key.QuantizedPTS)
	}
	return out
}

// Forget drops every unpinned RAM entry for clipID at or before keepAfter
// (pinned entries are kept), the RAM
// half of PruneHistory's "drop stale cache history once the playhead has
// moved past it" contract; the disk/cold tiers age out on their own
// size-budget eviction instead of being walked here.
func (c *Cache) Forget(clipID string, keepAfter float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.ram {
		if key.ClipID == clipID && key.QuantizedPTS <= keepAfter && !e.pinned {
			c.ramBytes -= e.bytes()
			delete(c.ram, key)
		}
	}
}
