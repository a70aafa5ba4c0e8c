// Package metrics tracks process-wide and per-clip counters for the scrub
// decode pipeline. It mirrors the donor's hand-rolled mutex-guarded counter
// style (no external metrics client is warranted for an in-process status
// surface); a Snapshot is what cmd/scrubd-serve's /status endpoint renders.
package metrics

import (
	"sync"
	"time"
)

// Registry is the process-wide counter set. One Registry is normally shared
// across the whole pipeline; it is safe for concurrent use.
type Registry struct {
	mu sync.RWMutex

	FramesDecoded       uint64
	CacheHitsRAM        uint64
	CacheHitsDisk        uint64
	CacheHitsCold        uint64
	CacheMisses          uint64
	AdmissionDenials     uint64
	FallbackTransitions  uint64
	GOPsCoalesced        uint64
	GOPsReused           uint64
	ProxyFramesServed    uint64
	WatchdogTimeouts     uint64
	RequestsCancelled    uint64
	BadDataRetries       uint64

	startTime time.Time
	clips     map[string]*ClipStats
}

// ClipStats is the per-clip subset of SessionStats relevant to monitoring.
type ClipStats struct {
	mu sync.RWMutex

	ClipID             string
	LastCompletedAbsMs int64
	Direction          string
	VelocitySPerS      float64
	ActiveTier         string // "hardware" | "proxy" | "software" | "image-generator"
	InflightCount      int
	ConsecutiveFailures int
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{startTime: time.Now(), clips: make(map[string]*ClipStats)}
}

func (r *Registry) IncFramesDecoded() {
	r.mu.Lock()
	r.FramesDecoded++
	r.mu.Unlock()
}

func (r *Registry) IncCacheHit(tier string) {
	r.mu.Lock()
	switch tier {
	case "ram":
		r.CacheHitsRAM++
	case "disk":
		r.CacheHitsDisk++
	case "cold":
		r.CacheHitsCold++
	default:
		r.CacheMisses++
	}
	r.mu.Unlock()
}

func (r *Registry) IncAdmissionDenial() {
	r.mu.Lock()
	r.AdmissionDenials++
	r.mu.Unlock()
}

func (r *Registry) IncFallbackTransition() {
	r.mu.Lock()
	r.FallbackTransitions++
	r.mu.Unlock()
}

func (r *Registry) IncGOPCoalesced() {
	r.mu.Lock()
	r.GOPsCoalesced++
	r.mu.Unlock()
}

func (r *Registry) IncGOPReused() {
	r.mu.Lock()
	r.GOPsReused++
	r.mu.Unlock()
}

func (r *Registry) IncProxyFrameServed() {
	r.mu.Lock()
	r.ProxyFramesServed++
	r.mu.Unlock()
}

func (r *Registry) IncWatchdogTimeout() {
	r.mu.Lock()
	r.WatchdogTimeouts++
	r.mu.Unlock()
}

func (r *Registry) IncRequestCancelled() {
	r.mu.Lock()
	r.RequestsCancelled++
	r.mu.Unlock()
}

func (r *Registry) IncBadDataRetry() {
	r.mu.Lock()
	r.BadDataRetries++
	r.mu.Unlock()
}

// ClipStats returns (creating if necessary) the per-clip stats handle for
// clipID. The handle is safe to retain and update repeatedly.
func (r *Registry) ClipStats(clipID string) *ClipStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	cs, ok := r.clips[clipID]
	if !ok {
		cs = &ClipStats{ClipID: clipID}
		r.clips[clipID] = cs
	}
	return cs
}

// DropClip removes a clip's stats handle, e.g. once its scrub session ends.
func (r *Registry) DropClip(clipID string) {
	r.mu.Lock()
	delete(r.clips, clipID)
	r.mu.Unlock()
}

func (cs *ClipStats) Update(absMs int64, direction string, velocity float64, tier string, inflight int) {
	cs.mu.Lock()
	cs.LastCompletedAbsMs = absMs
	cs.Direction = direction
	cs.VelocitySPerS = velocity
	cs.ActiveTier = tier
	cs.InflightCount = inflight
	cs.mu.Unlock()
}

func (cs *ClipStats) RecordFailure() {
	cs.mu.Lock()
	cs.ConsecutiveFailures++
	cs.mu.Unlock()
}

func (cs *ClipStats) ResetFailures() {
	cs.mu.Lock()
	cs.ConsecutiveFailures = 0
	cs.mu.Unlock()
}

// Snapshot is an immutable point-in-time copy of the registry, suitable for
// JSON rendering by the status HTTP surface.
type Snapshot struct {
	FramesDecoded       uint64
	CacheHitsRAM        uint64
	CacheHitsDisk        uint64
	CacheHitsCold        uint64
	CacheMisses          uint64
	AdmissionDenials     uint64
	FallbackTransitions  uint64
	GOPsCoalesced        uint64
	GOPsReused           uint64
	ProxyFramesServed    uint64
	WatchdogTimeouts     uint64
	RequestsCancelled    uint64
	BadDataRetries       uint64
	Uptime               time.Duration
	Clips                []ClipSnapshot
}

// ClipSnapshot is an immutable copy of one clip's stats.
type ClipSnapshot struct {
	ClipID              string
	LastCompletedAbsMs  int64
	Direction           string
	VelocitySPerS       float64
	ActiveTier          string
	InflightCount       int
	ConsecutiveFailures int
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Snapshot{
		FramesDecoded:       r.FramesDecoded,
		CacheHitsRAM:        r.CacheHitsRAM,
		CacheHitsDisk:       r.CacheHitsDisk,
		CacheHitsCold:       r.CacheHitsCold,
		CacheMisses:         r.CacheMisses,
		AdmissionDenials:    r.AdmissionDenials,
		FallbackTransitions: r.FallbackTransitions,
		GOPsCoalesced:       r.GOPsCoalesced,
		GOPsReused:          r.GOPsReused,
		ProxyFramesServed:   r.ProxyFramesServed,
		WatchdogTimeouts:    r.WatchdogTimeouts,
		RequestsCancelled:   r.RequestsCancelled,
		BadDataRetries:      r.BadDataRetries,
		Uptime:              time.Since(r.startTime),
	}
	for _, cs := range r.clips {
		cs.mu.RLock()
		s.Clips = append(s.Clips, ClipSnapshot{
			ClipID:              cs.ClipID,
			LastCompletedAbsMs:  cs.LastCompletedAbsMs,
			Direction:           cs.Direction,
			VelocitySPerS:       cs.VelocitySPerS,
			ActiveTier:          cs.ActiveTier,
			InflightCount:       cs.InflightCount,
			ConsecutiveFailures: cs.ConsecutiveFailures,
		})
		cs.mu.RUnlock()
	}
	return s
}
