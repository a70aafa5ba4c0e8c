package decodesession

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/breeze-rmm/scrubd/internal/gopindex"
	"github.com/breeze-rmm/scrubd/internal/logging"
	"github.com/breeze-rmm/scrubd/internal/ports"
	"github.com/breeze-rmm/scrubd/internal/telemetry"
)

var log = logging.L("decodesession")

// ErrMalfunction is a sentinel a backend's Decode can wrap to signal an
// unrecoverable device-level malfunction, triggering an immediate jump to
// LevelSoftware rather than the usual error-count escalation.
var ErrMalfunction = errors.New("decodesession: backend malfunction")

// Config tunes the fallback ladder, freeze gate, and warm cache, sourced
// from config.Config's session_* fields.
type Config struct {
	ErrorEscalationWindow time.Duration
	ErrorEscalationCount  int
	ProxyOnlyDuration     time.Duration
	FreezeGateDuration    time.Duration
	RebuildMaxPerWindow   int
	RebuildWindow         time.Duration
	WarmCacheSize         int
	WarmCacheEpsilonS     float64
}

func defaultConfig(cfg Config) Config {
	if cfg.ErrorEscalationWindow <= 0 {
		cfg.ErrorEscalationWindow = 500 * time.Millisecond
	}
	if cfg.ErrorEscalationCount <= 0 {
		cfg.ErrorEscalationCount = 3
	}
	if cfg.ProxyOnlyDuration <= 0 {
		cfg.ProxyOnlyDuration = 1750 * time.Millisecond
	}
	if cfg.FreezeGateDuration <= 0 {
		cfg.FreezeGateDuration = 150 * time.Millisecond
	}
	if cfg.RebuildMaxPerWindow <= 0 {
		cfg.RebuildMaxPerWindow = 5
	}
	if cfg.RebuildWindow <= 0 {
		cfg.RebuildWindow = 500 * time.Millisecond
	}
	if cfg.WarmCacheSize <= 0 {
		cfg.WarmCacheSize = 10
	}
	if cfg.WarmCacheEpsilonS <= 0 {
		cfg.WarmCacheEpsilonS = 0.001
	}
	return cfg
}

type warmEntry struct {
	pts    float64
	result ports.DecodeResult
}

// Session is one clip's decoder session: lazily created, reused
// aggressively, reset on format change or malfunction, ladder-escalated on
// repeated failures (spec §4.C).
type Session struct {
	mu       sync.Mutex
	cfg      Config
	registry *Registry
	now      func() time.Time
	clipID   string
	tele     *telemetry.Emitter

	level   Level
	backend decodeBackend

	requireSyncFirst bool
	lastFormatSig    uint64
	haveFormatSig    bool

	errorTimes   []time.Time
	rebuildTimes []time.Time
	levelSetAt   time.Time

	freezeUntil time.Time

	warmCache      []warmEntry
	lastDecodedPTS float64
	haveLastPTS    bool
}

// New creates a Session against registry, which must have at least
// LevelHardware registered (LevelSoftware and LevelImageGenerator are
// consulted lazily only once escalation reaches them). tele may be nil.
func New(registry *Registry, cfg Config, now func() time.Time, clipID string, tele *telemetry.Emitter) *Session {
	if now == nil {
		now = time.Now
	}
	return &Session{
		cfg:              defaultConfig(cfg),
		registry:         registry,
		now:              now,
		clipID:           clipID,
		tele:             tele,
		requireSyncFirst: true,
	}
}

// Level reports the session's current fallback-ladder rung.
func (s *Session) Level() Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

func (s *Session) ensureBackendLocked() error {
	if s.backend != nil {
		return nil
	}
	if !s.rebuildAllowedLocked() {
		s.escalateLocked(false)
	}
	backend, err := s.registry.build(s.level)
	if err != nil {
		return err
	}
	s.backend = backend
	s.requireSyncFirst = true
	s.haveFormatSig = false
	s.levelSetAt = s.now()
	return nil
}

func (s *Session) rebuildAllowedLocked() bool {
	now := s.now()
	cutoff := now.Add(-s.cfg.RebuildWindow)
	kept := s.rebuildTimes[:0]
	for _, t := range s.rebuildTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.rebuildTimes = kept
	if len(s.rebuildTimes) >= s.cfg.RebuildMaxPerWindow {
		s.rebuildTimes = nil
		return false
	}
	s.rebuildTimes = append(s.rebuildTimes, now)
	return true
}

// Submit decodes one compressed sample, implementing ports.DecoderDriver's
// shape so a Session can stand in directly as the driver injected into
// internal/reader.
func (s *Session) Submit(ctx context.Context, sample ports.CompressedSample, direction ports.Direction) (<-chan ports.DecodeResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan ports.DecodeResult, 1)

	if s.now().Before(s.freezeUntil) {
		return nil, ErrFrozen
	}

	if err := s.ensureBackendLocked(); err != nil {
		return nil, err
	}

	if s.haveFormatSig && sample.FormatSig != s.lastFormatSig {
		s.resetLocked()
		if err := s.ensureBackendLocked(); err != nil {
			return nil, err
		}
	}
	s.lastFormatSig = sample.FormatSig
	s.haveFormatSig = true

	if s.requireSyncFirst {
		class := gopindex.Classify(sample.Attachments)
		if class == ports.SyncNone {
			return nil, ErrFirstSubmissionMustBeSync
		}
		s.requireSyncFirst = false
	}

	if cached, ok := s.warmLookupLocked(sample.PTS, direction); ok {
		ch <- cached
		close(ch)
		return ch, nil
	}

	result, err := s.backend.Decode(ctx, sample, direction)
	if err != nil {
		s.recordErrorLocked(errors.Is(err, ErrMalfunction))
		ch <- ports.DecodeResult{Err: err}
		close(ch)
		return ch, nil
	}

	s.storeWarmLocked(sample.PTS, result)
	s.lastDecodedPTS = result.PTS
	s.haveLastPTS = true
	s.maybeReturnFromProxyOnlyLocked()

	ch <- result
	close(ch)
	return ch, nil
}

// warmLookupLocked looks for an already-decoded frame within epsilon of
// pts. direction additionally gates which side of lastDecodedPTS a hit may
// fall on: reverse scrubbing only trusts entries at or behind the last
// decode, forward scrubbing only trusts entries at or ahead of it; a
// session with no prior decode accepts the nearest entry regardless.
func (s *Session) warmLookupLocked(pts float64, direction ports.Direction) (ports.DecodeResult, bool) {
	if len(s.warmCache) == 0 {
		return ports.DecodeResult{}, false
	}
	eps := s.cfg.WarmCacheEpsilonS
	var best *warmEntry
	var bestDist float64
	for i := range s.warmCache {
		e := &s.warmCache[i]
		dist := e.pts - pts
		if dist < 0 {
			dist = -dist
		}
		if dist > eps {
			continue
		}
		if s.haveLastPTS {
			if direction == ports.Reverse && e.pts > s.lastDecodedPTS+eps {
				continue
			}
			if direction == ports.Forward && e.pts < s.lastDecodedPTS-eps {
				continue
			}
		}
		if best == nil || dist < bestDist {
			best = e
			bestDist = dist
		}
	}
	if best == nil {
		return ports.DecodeResult{}, false
	}
	return best.result, true
}

func (s *Session) storeWarmLocked(pts float64, result ports.DecodeResult) {
	s.warmCache = append(s.warmCache, warmEntry{pts: pts, result: result})
	if len(s.warmCache) > s.cfg.WarmCacheSize {
		s.warmCache = s.warmCache[len(s.warmCache)-s.cfg.WarmCacheSize:]
	}
}

// Lookup reports a warm-cached decode result for pts without touching the
// backend or the reader, letting a caller short-circuit a repeat request
// for a frame it only just delivered, before ever re-walking the sample
// stream to find it.
func (s *Session) Lookup(pts float64, direction ports.Direction) (ports.DecodeResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.warmLookupLocked(pts, direction)
}

// Reset implements ports.DecoderDriver.Reset: flushes the backend and
// opens the 150ms freeze gate so stale callbacks drain before new
// submissions are accepted.
func (s *Session) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
	return nil
}

func (s *Session) resetLocked() {
	if s.backend != nil {
		_ = s.backend.Close()
		s.backend = nil
	}
	s.warmCache = nil
	s.haveLastPTS = false
	s.freezeUntil = s.now().Add(s.cfg.FreezeGateDuration)
}

// Close releases the current backend.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.backend == nil {
		return nil
	}
	err := s.backend.Close()
	s.backend = nil
	return err
}

func (s *Session) recordErrorLocked(malfunction bool) {
	if malfunction {
		log.Warn("decoder malfunction, escalating directly to software", "level", s.level)
		s.escalateToLocked(LevelSoftware)
		s.resetLocked()
		return
	}

	now := s.now()
	cutoff := now.Add(-s.cfg.ErrorEscalationWindow)
	kept := s.errorTimes[:0]
	for _, t := range s.errorTimes {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	s.errorTimes = append(kept, now)

	if len(s.errorTimes) >= s.cfg.ErrorEscalationCount {
		s.errorTimes = nil
		s.escalateLocked(false)
		s.resetLocked()
	}
}

func (s *Session) escalateLocked(fromMalfunction bool) {
	next := s.level + 1
	if next > LevelImageGenerator {
		next = LevelImageGenerator
	}
	s.escalateToLocked(next)
}

func (s *Session) escalateToLocked(level Level) {
	if level == s.level {
		return
	}
	log.Warn("decoder session escalating fallback ladder", "from", s.level, "to", level)
	if s.tele != nil {
		s.tele.Emit(s.clipID, telemetry.KindFallbackEscalation, "escalating fallback ladder")
	}
	s.level = level
	s.levelSetAt = s.now()
}

// maybeReturnFromProxyOnlyLocked auto-returns from LevelProxyOnly to
// LevelHardware once the hold duration elapses without further escalation
// (spec §4.C "auto-return to 0").
func (s *Session) maybeReturnFromProxyOnlyLocked() {
	if s.level != LevelProxyOnly {
		return
	}
	if s.now().Sub(s.levelSetAt) >= s.cfg.ProxyOnlyDuration {
		s.escalateToLocked(LevelHardware)
		s.resetLocked()
	}
}
