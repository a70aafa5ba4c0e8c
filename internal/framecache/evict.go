package framecache

import (
	"strconv"
	"strings"
)

// evictIfOverBudgetLocked evicts RAM entries until ramBytes is back under
// budget, using the cost-weighted ascending score of spec §4.J
// ("Eviction"): score = (decode_cost + 0.1) * bytes * (1 + age), pinned
// entries are never candidates. Caller holds c.mu.
func (c *Cache) evictIfOverBudgetLocked() {
	if c.cfg.RAMBudgetBytes <= 0 || c.ramBytes <= c.cfg.RAMBudgetBytes {
		return
	}
	type scored struct {
		key   Key
		score float64
	}
	now := c.now()
	var candidates []scored
	for k, e := range c.ram {
		if e.pinned {
			continue
		}
		ageS := now.Sub(e.storedAt).Seconds()
		score := (e.rendered.DecodeCostMs + 0.1) * float64(e.bytes()) * (1 + ageS)
		candidates = append(candidates, scored{key: k, score: score})
	}
	// Ascending insertion sort: eviction candidate pools are small relative
	// to the RAM tier's entry count in practice.
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].score < candidates[j-1].score; j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}
	for _, cand := range candidates {
		if c.ramBytes <= c.cfg.RAMBudgetBytes {
			return
		}
		e := c.ram[cand.key]
		c.ramBytes -= e.bytes()
		delete(c.ram, cand.key)
	}
}

// evictDiskIfOverBudget evicts disk-tier blobs oldest-modtime-first until
// the disk tier is back under budget, skipping pinned ranges.
func (c *Cache) evictDiskIfOverBudget() {
	if c.disk == nil || c.cfg.DiskBudgetBytes <= 0 {
		return
	}
	entries, err := c.disk.List()
	if err != nil {
		return
	}
	var total int64
	for _, e := range entries {
		total += e.Bytes
	}
	if total <= c.cfg.DiskBudgetBytes {
		return
	}
	for _, e := range entries {
		if total <= c.cfg.DiskBudgetBytes {
			return
		}
		clipID, pts, ok := parseDiskKey(e.Key)
		c.mu.Lock()
		pinned := ok && c.isPinnedLocked(clipID, pts)
		c.mu.Unlock()
		if pinned {
			continue
		}
		if err := c.disk.Delete(e.Key); err == nil {
			total -= e.Bytes
		}
	}
}

// parseDiskKey recovers (clipID, quantizedPTS) from a key built by
// Key.diskFileName, for pin-aware disk eviction.
func parseDiskKey(key string) (clipID string, pts float64, ok bool) {
	slash := strings.LastIndex(key, "/")
	if slash < 0 {
		return "", 0, false
	}
	clipID = key[:slash]
	rest := key[slash+1:]
	dash := strings.Index(rest, "-")
	if dash < 0 {
		return "", 0, false
	}
	p, err := strconv.ParseFloat(rest[:dash], 64)
	if err != nil {
		return "", 0, false
	}
	return clipID, p, true
}
