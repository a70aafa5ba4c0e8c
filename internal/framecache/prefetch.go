package framecache

import (
	"context"
	"sync"
)

// Prefetcher runs fire-and-forget prefetch tasks around a playhead under
// the prefetch QoS (spec §4.J "Prefetch"), cancelable per comp_id.
type Prefetcher struct {
	cache *Cache

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewPrefetcher creates a Prefetcher backed by cache.
func NewPrefetcher(cache *Cache) *Prefetcher {
	return &Prefetcher{cache: cache, cancels: make(map[string]context.CancelFunc)}
}

// Start launches a fire-and-forget prefetch task for compID, warming the
// cache at every PTS in ptsList (already priority-ordered, e.g. by
// internal/landingzone.Zone.PriorityPTS). Any prior prefetch task for the
// same compID is cancelled first.
func (p *Prefetcher) Start(parent context.Context, clipID, compID string, ptsList []float64, frameDurationS float64, spec ViewSpec, render RenderFunc) {
	p.Cancel(compID)

	ctx, cancel := context.WithCancel(parent)
	p.mu.Lock()
	p.cancels[compID] = cancel
	p.mu.Unlock()

	go func() {
		defer cancel()
		for _, pts := range ptsList {
			if ctx.Err() != nil {
				return
			}
			// Best-effort: a prefetch failure (render error, cancellation)
			// never surfaces; the next get_exact_frame call will retry.
			_, _ = p.cache.GetExactFrame(ctx, clipID, pts, frameDurationS, spec, render)
		}
	}()
}

// Cancel stops any in-flight prefetch task for compID.
func (p *Prefetcher) Cancel(compID string) {
	p.mu.Lock()
	cancel, ok := p.cancels[compID]
	delete(p.cancels, compID)
	p.mu.Unlock()
	if ok {
		cancel()
	}
}

// CancelAll stops every in-flight prefetch task, e.g. on end_scrub.
func (p *Prefetcher) CancelAll() {
	p.mu.Lock()
	cancels := p.cancels
	p.cancels = make(map[string]context.CancelFunc)
	p.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}
