// Package proxymanager implements spec §4.I's per-clip proxy decision
// layer: it sits in front of the externally-owned ports.ProxyService
// (actual proxy-media generation and coverage tracking) and adds the
// triggers, switch hysteresis, and override-mode bookkeeping that decide
// when decode should prefer a proxy over the original asset.
package proxymanager

import (
	"context"
	"sync"
	"time"

	"github.com/breeze-rmm/scrubd/internal/logging"
	"github.com/breeze-rmm/scrubd/internal/ports"
	"github.com/breeze-rmm/scrubd/internal/telemetry"
)

var log = logging.L("proxymanager")

const (
	proxyHoldDuration           = 1500 * time.Millisecond
	overrideRerequestThrottle   = 250 * time.Millisecond
	reverseBadDataStreakTrigger = 2
	playbackFailureStrikesLimit = 2
)

type clipState struct {
	usingProxy  bool
	switchedAt  time.Time

	overridePreferProxy  bool
	overrideUntil        time.Time
	lastOverrideRequest  time.Time

	reverseBadDataStreak int
	playbackFailureStreak int
	lastZoneID            string
}

// Manager is the process-wide proxy decision layer, one clipState per clip.
type Manager struct {
	mu   sync.Mutex
	svc  ports.ProxyService
	now  func() time.Time
	tele *telemetry.Emitter

	clips map[string]*clipState
}

// New creates a Manager wrapping the externally-provided proxy service.
// tele may be nil, in which case proxy activations are logged as usual but
// no telemetry.Event is emitted.
func New(svc ports.ProxyService, now func() time.Time, tele *telemetry.Emitter) *Manager {
	if now == nil {
		now = time.Now
	}
	return &Manager{svc: svc, now: now, tele: tele, clips: make(map[string]*clipState)}
}

func (m *Manager) clip(clipID string) *clipState {
	cs, ok := m.clips[clipID]
	if !ok {
		cs = &clipState{}
		m.clips[clipID] = cs
	}
	return cs
}

// EnsureSpotProxy requests proxy coverage around aroundAbsMs, per spec
// §4.I's ensure_spot_proxy(span_ms, reason, context).
func (m *Manager) EnsureSpotProxy(ctx context.Context, clipID, sourceRef string, aroundAbsMs, spanMs int64, reason, reqContext string) (ports.CoverageResult, error) {
	res, err := m.svc.EnsureCoverage(ctx, clipID, sourceRef, aroundAbsMs, spanMs, reason, reqContext)
	if err == nil {
		m.mu.Lock()
		m.clip(clipID).lastZoneID = res.ZoneID
		m.mu.Unlock()
	}
	log.Debug("ensure_spot_proxy", "clip", clipID, "reason", reason, "status", res.Status)
	return res, err
}

// NoteReverseBadDataFailure records a reverse-direction bad-data failure and
// auto-triggers ensure_spot_proxy once the streak reaches the trigger
// threshold (spec: "Two consecutive reverse-direction bad-data failures").
func (m *Manager) NoteReverseBadDataFailure(ctx context.Context, clipID, sourceRef string, aboutAbsMs, spanMs int64) (triggered bool) {
	m.mu.Lock()
	cs := m.clip(clipID)
	cs.reverseBadDataStreak++
	streak := cs.reverseBadDataStreak
	m.mu.Unlock()

	if streak >= reverseBadDataStreakTrigger {
		m.EnsureSpotProxy(ctx, clipID, sourceRef, aboutAbsMs, spanMs, "reverse_bad_data_streak", "")
		return true
	}
	return false
}

// ResetReverseBadDataStreak clears the streak after a successful decode.
func (m *Manager) ResetReverseBadDataStreak(clipID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clip(clipID).reverseBadDataStreak = 0
}

// NoteDeadlineFailure forwards a deadline-decode failure to the proxy
// service and requests spot coverage at that position.
func (m *Manager) NoteDeadlineFailure(ctx context.Context, clipID, sourceRef string, targetMs int64) {
	m.svc.NoteDeadlineFailure(ctx, clipID, targetMs, sourceRef)
	m.EnsureSpotProxy(ctx, clipID, sourceRef, targetMs, 0, "deadline_failure", "")
}

// NoteCutEdgeEscalation requests coverage after repeated cut-edge retries.
func (m *Manager) NoteCutEdgeEscalation(ctx context.Context, clipID, sourceRef string, aboutAbsMs int64) {
	m.EnsureSpotProxy(ctx, clipID, sourceRef, aboutAbsMs, 0, "cut_edge_escalation", "")
}

// NoteReverseErrorStreak requests coverage once streak reaches threshold.
func (m *Manager) NoteReverseErrorStreak(ctx context.Context, clipID, sourceRef string, aboutAbsMs int64, streak, threshold int) {
	if streak >= threshold {
		m.EnsureSpotProxy(ctx, clipID, sourceRef, aboutAbsMs, 0, "reverse_error_threshold", "")
	}
}

// ConsumeLateFrameTrigger polls the display surface's late-frame signal and
// requests coverage if one fired.
func (m *Manager) ConsumeLateFrameTrigger(ctx context.Context, clipID, sourceRef string, spanMs int64) bool {
	absMs, ok := m.svc.ConsumeLateFrameTrigger(ctx, clipID)
	if !ok {
		return false
	}
	m.EnsureSpotProxy(ctx, clipID, sourceRef, absMs, spanMs, "late_frame", "")
	return true
}

// SetOverride forces Proxy decisions for ttl, throttled to at most one
// re-request every 250ms (spec §4.I "Override mode").
func (m *Manager) SetOverride(clipID string, ttl time.Duration) (applied bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs := m.clip(clipID)
	now := m.now()
	if !cs.lastOverrideRequest.IsZero() && now.Sub(cs.lastOverrideRequest) < overrideRerequestThrottle {
		return false
	}
	cs.overridePreferProxy = true
	cs.overrideUntil = now.Add(ttl)
	cs.lastOverrideRequest = now
	return true
}

// Decision implements decision(clip, abs_ms) -> Original | Proxy(info),
// layering override mode and switch hysteresis on top of the underlying
// service's raw decision.
func (m *Manager) Decision(ctx context.Context, clipID string, absMs int64) (ports.ProxyDecision, error) {
	base, err := m.svc.Decision(ctx, clipID, absMs)
	if err != nil {
		return ports.ProxyDecision{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cs := m.clip(clipID)
	now := m.now()

	if cs.overridePreferProxy && now.Before(cs.overrideUntil) {
		base.UseProxy = true
	} else {
		cs.overridePreferProxy = false
	}

	if cs.usingProxy && now.Sub(cs.switchedAt) < proxyHoldDuration {
		base.UseProxy = true
	} else if base.UseProxy && !cs.usingProxy {
		cs.usingProxy = true
		cs.switchedAt = now
		if m.tele != nil {
			m.tele.Emit(clipID, telemetry.KindProxyActivated, "switching to proxy coverage")
		}
	} else if !base.UseProxy {
		cs.usingProxy = false
	}

	return base, nil
}

// MarkPlaybackFailure records a proxy playback failure; two consecutive
// strikes switch the clip back to the original source and quarantine the
// proxy zone.
func (m *Manager) MarkPlaybackFailure(ctx context.Context, clipID, reason string) {
	m.mu.Lock()
	cs := m.clip(clipID)
	cs.playbackFailureStreak++
	streak := cs.playbackFailureStreak
	zoneID := cs.lastZoneID
	if streak >= playbackFailureStrikesLimit {
		cs.usingProxy = false
		cs.overridePreferProxy = false
		cs.playbackFailureStreak = 0
	}
	m.mu.Unlock()

	m.svc.MarkPlaybackFailure(ctx, clipID, zoneID, reason)
	if streak >= playbackFailureStrikesLimit {
		log.Warn("two-strike proxy playback failure, switching back to original", "clip", clipID, "zone", zoneID, "reason", reason)
	}
}

// ResetPlaybackFailureStreak clears the streak after a successful proxy
// playback.
func (m *Manager) ResetPlaybackFailureStreak(clipID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.clip(clipID).playbackFailureStreak = 0
}

// UsingProxy reports whether a clip is currently pinned to proxy by
// hysteresis or override, for tests and telemetry.
func (m *Manager) UsingProxy(clipID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clip(clipID).usingProxy
}
